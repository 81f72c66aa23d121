package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/kodu-ai/kodu/internal/logging"
	"github.com/kodu-ai/kodu/pkg/types"
)

// ToolResult pairs an executed call with its outcome, ready to be fed back to
// the model as a tool_result block.
type ToolResult struct {
	ToolUseID string
	Name      string
	Result    Result
}

// Executor runs boundary-detected tool calls strictly in order. One executor
// serves one task turn at a time; the task executor calls Reset between turns.
type Executor struct {
	mu      sync.Mutex
	results []ToolResult
	running int
	aborted bool
	idle    *sync.Cond

	registry  *Registry
	ask       AskFunc
	say       SayFunc
	updateAsk UpdateAskFunc
}

// NewExecutor builds an executor over a registry and the user-facing
// callbacks handed to each tool.
func NewExecutor(registry *Registry, ask AskFunc, say SayFunc, updateAsk UpdateAskFunc) *Executor {
	e := &Executor{
		registry:  registry,
		ask:       ask,
		say:       say,
		updateAsk: updateAsk,
	}
	e.idle = sync.NewCond(&e.mu)
	return e
}

// Execute runs one tool call to completion. A missing tool or an execution
// error becomes an error tool result rather than failing the turn; the model
// sees the failure and can react.
func (e *Executor) Execute(ctx context.Context, use *types.ToolUseBlock) ToolResult {
	e.mu.Lock()
	if e.aborted {
		e.mu.Unlock()
		return e.record(ToolResult{
			ToolUseID: use.ID,
			Name:      use.Name,
			Result:    Result{Text: ErrorEnvelope(use.Name, "tool execution aborted"), IsError: true},
		})
	}
	e.running++
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running--
		if e.running == 0 {
			e.idle.Broadcast()
		}
		e.mu.Unlock()
	}()

	t, ok := e.registry.Get(use.Name)
	if !ok {
		return e.record(ToolResult{
			ToolUseID: use.ID,
			Name:      use.Name,
			Result: Result{
				Text:    ErrorEnvelope(use.Name, fmt.Sprintf("unknown tool %q", use.Name)),
				IsError: true,
			},
		})
	}

	result, err := t.Execute(ctx, Call{
		ID:        use.ID,
		Name:      use.Name,
		Input:     use.Input,
		Ask:       e.ask,
		Say:       e.say,
		UpdateAsk: e.updateAsk,
	})
	if err != nil {
		logging.Warn().Err(err).Str("tool", use.Name).Msg("tool execution failed")
		result = Result{Text: ErrorEnvelope(use.Name, err.Error()), IsError: true}
	}

	return e.record(ToolResult{ToolUseID: use.ID, Name: use.Name, Result: result})
}

func (e *Executor) record(r ToolResult) ToolResult {
	e.mu.Lock()
	e.results = append(e.results, r)
	e.mu.Unlock()
	return r
}

// Results returns the results collected since the last Reset, in execution
// order.
func (e *Executor) Results() []ToolResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ToolResult, len(e.results))
	copy(out, e.results)
	return out
}

// AttemptedCompletion reports whether a non-error attempt_completion result
// was collected this turn.
func (e *Executor) AttemptedCompletion() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.results {
		if r.Name == AttemptCompletionTool && !r.Result.IsError {
			return true
		}
	}
	return false
}

// WaitForProcessing blocks until no tool is mid-execution.
func (e *Executor) WaitForProcessing() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.running > 0 {
		e.idle.Wait()
	}
}

// Abort marks the executor aborted; subsequent Execute calls short-circuit
// into error results. In-flight tools observe cancellation via their context.
func (e *Executor) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborted = true
}

// Reset clears results and the abort flag for the next turn.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = nil
	e.aborted = false
}
