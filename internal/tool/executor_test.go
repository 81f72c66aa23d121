package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodu-ai/kodu/pkg/types"
)

type fakeTool struct {
	name string
	fn   func(ctx context.Context, call Call) (Result, error)
}

func (f *fakeTool) Name() string { return f.name }
func (f *fakeTool) Execute(ctx context.Context, call Call) (Result, error) {
	return f.fn(ctx, call)
}

func newTestExecutor(tools ...Tool) *Executor {
	reg := NewRegistry()
	for _, t := range tools {
		reg.Register(t)
	}
	return NewExecutor(reg, nil, nil, nil)
}

func use(id, name string) *types.ToolUseBlock {
	return &types.ToolUseBlock{ID: id, Name: name, Input: map[string]any{}}
}

func TestExecuteCollectsResultsInOrder(t *testing.T) {
	e := newTestExecutor(
		&fakeTool{name: "read_file", fn: func(context.Context, Call) (Result, error) {
			return Result{Text: SuccessEnvelope("read_file", "contents")}, nil
		}},
		&fakeTool{name: "list_files", fn: func(context.Context, Call) (Result, error) {
			return Result{Text: SuccessEnvelope("list_files", "a b c")}, nil
		}},
	)

	e.Execute(context.Background(), use("t1", "read_file"))
	e.Execute(context.Background(), use("t2", "list_files"))

	results := e.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "t1", results[0].ToolUseID)
	assert.Equal(t, "t2", results[1].ToolUseID)
	assert.False(t, results[0].Result.IsError)
}

func TestExecuteErrorBecomesErrorResult(t *testing.T) {
	e := newTestExecutor(&fakeTool{name: "flaky", fn: func(context.Context, Call) (Result, error) {
		return Result{}, errors.New("disk on fire")
	}})

	result := e.Execute(context.Background(), use("t1", "flaky"))
	assert.True(t, result.Result.IsError)
	assert.Contains(t, result.Result.Text, "disk on fire")
}

func TestExecuteUnknownTool(t *testing.T) {
	e := newTestExecutor()

	result := e.Execute(context.Background(), use("t1", "teleport"))
	assert.True(t, result.Result.IsError)
	assert.Contains(t, result.Result.Text, "unknown tool")
}

func TestAttemptedCompletion(t *testing.T) {
	e := newTestExecutor(&fakeTool{name: AttemptCompletionTool, fn: func(context.Context, Call) (Result, error) {
		return Result{Text: SuccessEnvelope(AttemptCompletionTool, "done")}, nil
	}})

	assert.False(t, e.AttemptedCompletion())
	e.Execute(context.Background(), use("t1", AttemptCompletionTool))
	assert.True(t, e.AttemptedCompletion())

	e.Reset()
	assert.False(t, e.AttemptedCompletion())
	assert.Empty(t, e.Results())
}

func TestAbortShortCircuits(t *testing.T) {
	var executed bool
	e := newTestExecutor(&fakeTool{name: "read_file", fn: func(context.Context, Call) (Result, error) {
		executed = true
		return Result{}, nil
	}})

	e.Abort()
	result := e.Execute(context.Background(), use("t1", "read_file"))

	assert.False(t, executed)
	assert.True(t, result.Result.IsError)
	assert.Contains(t, result.Result.Text, "aborted")

	e.Reset()
	e.Execute(context.Background(), use("t2", "read_file"))
	assert.True(t, executed)
}

func TestCallbacksReachTool(t *testing.T) {
	var sawSay types.SayType
	say := func(sayType types.SayType, text string, images []string) { sawSay = sayType }

	reg := NewRegistry()
	reg.Register(&fakeTool{name: "noisy", fn: func(_ context.Context, call Call) (Result, error) {
		call.Say(types.SayText, "working", nil)
		return Result{Text: SuccessEnvelope("noisy", "ok")}, nil
	}})
	e := NewExecutor(reg, nil, say, nil)

	e.Execute(context.Background(), use("t1", "noisy"))
	assert.Equal(t, types.SayText, sawSay)
}
