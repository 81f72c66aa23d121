package stream

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodu-ai/kodu/internal/protocol"
)

func TestProcessDemuxOrder(t *testing.T) {
	var events []string
	var chunks []string
	var finalFrame protocol.Frame

	p := NewProcessor(Handlers{
		OnImmediateEndOfStream: func(ctx context.Context, f protocol.Frame) error {
			events = append(events, "immediate")
			return nil
		},
		OnChunk: func(ctx context.Context, f protocol.Frame) error {
			events = append(events, "chunk")
			if partial, ok := f.(*protocol.PartialFrame); ok {
				chunks = append(chunks, partial.Text)
			}
			return nil
		},
		OnFinalEndOfStream: func(ctx context.Context, f protocol.Frame) error {
			events = append(events, "final")
			finalFrame = f
			return nil
		},
	})

	err := p.Process(context.Background(), NewSliceStream(
		&protocol.PartialFrame{Text: "Hello"},
		&protocol.PartialFrame{Text: " world"},
		&protocol.FinalFrame{Usage: protocol.Usage{InputTokens: 5, OutputTokens: 2}},
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"chunk", "chunk", "immediate", "final"}, events)
	assert.Equal(t, []string{"Hello", " world"}, chunks)
	require.IsType(t, &protocol.FinalFrame{}, finalFrame)
}

func TestProcessHealthFramesIgnored(t *testing.T) {
	var chunkCount int
	p := NewProcessor(Handlers{
		OnChunk: func(ctx context.Context, f protocol.Frame) error {
			chunkCount++
			return nil
		},
	})

	err := p.Process(context.Background(), NewSliceStream(
		protocol.HealthFrame{},
		&protocol.PartialFrame{Text: "x"},
		protocol.HealthFrame{},
	))
	require.NoError(t, err)
	assert.Equal(t, 1, chunkCount)
}

func TestProcessNoFinalCallbackWithoutTerminalFrame(t *testing.T) {
	finalCalled := false
	p := NewProcessor(Handlers{
		OnFinalEndOfStream: func(ctx context.Context, f protocol.Frame) error {
			finalCalled = true
			return nil
		},
	})

	err := p.Process(context.Background(), NewSliceStream(
		&protocol.PartialFrame{Text: "a"},
	))
	require.NoError(t, err)
	assert.False(t, finalCalled)
}

func TestProcessErrorCallbackPropagates(t *testing.T) {
	boom := errors.New("stream failed with status 500")
	p := NewProcessor(Handlers{
		OnImmediateEndOfStream: func(ctx context.Context, f protocol.Frame) error {
			if f.Kind() == protocol.KindError {
				return boom
			}
			return nil
		},
	})

	err := p.Process(context.Background(), NewSliceStream(
		&protocol.PartialFrame{Text: "partial"},
		&protocol.ErrorFrame{Status: 500, Msg: "boom"},
	))
	assert.ErrorIs(t, err, boom)
}

func TestProcessErrorFrameWithoutThrowStillFinal(t *testing.T) {
	var finalFrame protocol.Frame
	p := NewProcessor(Handlers{
		OnFinalEndOfStream: func(ctx context.Context, f protocol.Frame) error {
			finalFrame = f
			return nil
		},
	})

	err := p.Process(context.Background(), NewSliceStream(
		&protocol.ErrorFrame{Status: 429, Msg: "rate limited"},
	))
	require.NoError(t, err)

	errFrame, ok := finalFrame.(*protocol.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, 429, errFrame.Status)
}

func TestProcessToolBoundaryGoesToChunk(t *testing.T) {
	var boundary *protocol.ToolBoundaryFrame
	p := NewProcessor(Handlers{
		OnChunk: func(ctx context.Context, f protocol.Frame) error {
			if tb, ok := f.(*protocol.ToolBoundaryFrame); ok {
				boundary = tb
			}
			return nil
		},
	})

	err := p.Process(context.Background(), NewSliceStream(
		&protocol.ToolBoundaryFrame{},
	))
	require.NoError(t, err)
	assert.NotNil(t, boundary)
}

func TestProcessContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ch := make(chan protocol.Frame, 1)
	ch <- &protocol.PartialFrame{Text: "a"}

	p := NewProcessor(Handlers{
		OnChunk: func(ctx context.Context, f protocol.Frame) error {
			cancel()
			return nil
		},
	})

	done := make(chan error, 1)
	go func() {
		done <- p.Process(ctx, NewChanStream(ch))
	}()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChanStreamEOFOnClose(t *testing.T) {
	ch := make(chan protocol.Frame)
	close(ch)

	s := NewChanStream(ch)
	_, err := s.Recv()
	assert.ErrorIs(t, err, io.EOF)
}
