// Package tool provides the tool framework the task executor drives: the tool
// contract, the registry, and the sequential executor.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kodu-ai/kodu/pkg/types"
)

// AttemptCompletionTool is the tool name that signals the model believes the
// task is done.
const AttemptCompletionTool = "attempt_completion"

// AskFunc surfaces a question through the approval manager and blocks until
// it resolves.
type AskFunc func(ctx context.Context, askType types.AskType, details *types.AskDetails, ts int64) (types.AskResult, error)

// SayFunc appends a narration message to the display log.
type SayFunc func(sayType types.SayType, text string, images []string)

// UpdateAskFunc patches an in-flight approval card.
type UpdateAskFunc func(ts int64, details *types.AskDetails, flush bool) error

// Call is everything a tool receives for one invocation. Tools must not touch
// the conversation or display logs directly; ask/say/updateAsk are the only
// channel back to the user.
type Call struct {
	ID    string
	Name  string
	Input map[string]any

	Ask       AskFunc
	Say       SayFunc
	UpdateAsk UpdateAskFunc
}

// Result is a tool's structured textual response. Text conventionally carries
// an XML-tagged envelope built with the helpers below.
type Result struct {
	Text    string
	Images  []string
	IsError bool
}

// Tool is one executable capability exposed to the model.
type Tool interface {
	Name() string
	Execute(ctx context.Context, call Call) (Result, error)
}

// SuccessEnvelope wraps tool output in the success envelope.
func SuccessEnvelope(name, body string) string {
	return fmt.Sprintf("<tool_response tool=%q status=\"success\">%s</tool_response>", name, body)
}

// ErrorEnvelope wraps a failure description in the error envelope.
func ErrorEnvelope(name, body string) string {
	return fmt.Sprintf("<tool_response tool=%q status=\"error\">%s</tool_response>", name, body)
}

// FeedbackEnvelope wraps user feedback on a rejected tool call.
func FeedbackEnvelope(name, body string) string {
	return fmt.Sprintf("<tool_response tool=%q status=\"feedback\">%s</tool_response>", name, body)
}

// Registry holds the tools available to a task.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
