// Package stream demultiplexes decoded protocol frames into callbacks.
package stream

import (
	"context"
	"errors"
	"io"

	"github.com/kodu-ai/kodu/internal/protocol"
)

// FrameStream is an async sequence of decoded frames. Recv returns io.EOF when
// the sequence is exhausted.
type FrameStream interface {
	Recv() (protocol.Frame, error)
}

// Handlers receive demultiplexed frames. Each callback is awaited before the
// next frame is pulled; the processor never drops frames under backpressure.
type Handlers struct {
	// OnImmediateEndOfStream fires synchronously for final and error frames,
	// before any chunk callback for later frames. It lets the caller finalize
	// metrics and cost even while text processing is still catching up.
	OnImmediateEndOfStream func(ctx context.Context, frame protocol.Frame) error

	// OnChunk fires for partial-text and tool-boundary frames.
	OnChunk func(ctx context.Context, frame protocol.Frame) error

	// OnFinalEndOfStream fires exactly once after the whole input sequence is
	// exhausted, only if a final or error frame was seen; it receives the last
	// such frame.
	OnFinalEndOfStream func(ctx context.Context, frame protocol.Frame) error
}

// Processor drives a FrameStream through a set of Handlers.
type Processor struct {
	handlers Handlers
}

// NewProcessor creates a processor with the given handlers.
func NewProcessor(handlers Handlers) *Processor {
	return &Processor{handlers: handlers}
}

// Process consumes the stream until exhaustion or a handler failure. A handler
// error terminates the request attempt and propagates to the caller; this is
// the designed way an error frame aborts a request.
func (p *Processor) Process(ctx context.Context, s FrameStream) error {
	var lastTerminal protocol.Frame

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if err := p.dispatch(ctx, frame); err != nil {
			return err
		}

		if protocol.IsTerminal(frame) {
			lastTerminal = frame
		}
	}

	if lastTerminal != nil && p.handlers.OnFinalEndOfStream != nil {
		return p.handlers.OnFinalEndOfStream(ctx, lastTerminal)
	}
	return nil
}

// dispatch routes one frame to its callbacks, fully processing it (callbacks
// may suspend) before the caller pulls the next frame.
func (p *Processor) dispatch(ctx context.Context, frame protocol.Frame) error {
	switch frame.Kind() {
	case protocol.KindHealth:
		return nil

	case protocol.KindFinal, protocol.KindError:
		if p.handlers.OnImmediateEndOfStream != nil {
			return p.handlers.OnImmediateEndOfStream(ctx, frame)
		}
		return nil

	case protocol.KindPartial, protocol.KindToolBoundary:
		if p.handlers.OnChunk != nil {
			return p.handlers.OnChunk(ctx, frame)
		}
		return nil

	default:
		return nil
	}
}

// SliceStream adapts a fixed frame slice to FrameStream, mostly for tests and
// replay.
type SliceStream struct {
	frames []protocol.Frame
	pos    int
}

// NewSliceStream creates a stream over the given frames.
func NewSliceStream(frames ...protocol.Frame) *SliceStream {
	return &SliceStream{frames: frames}
}

// Recv implements FrameStream.
func (s *SliceStream) Recv() (protocol.Frame, error) {
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

// ChanStream adapts a frame channel to FrameStream. The channel must be closed
// by the producer to signal end of stream.
type ChanStream struct {
	ch <-chan protocol.Frame
}

// NewChanStream creates a stream that reads from ch until it is closed.
func NewChanStream(ch <-chan protocol.Frame) *ChanStream {
	return &ChanStream{ch: ch}
}

// Recv implements FrameStream.
func (s *ChanStream) Recv() (protocol.Frame, error) {
	f, ok := <-s.ch
	if !ok {
		return nil, io.EOF
	}
	return f, nil
}
