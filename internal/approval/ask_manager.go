package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kodu-ai/kodu/internal/event"
	"github.com/kodu-ai/kodu/internal/logging"
	"github.com/kodu-ai/kodu/internal/state"
	"github.com/kodu-ai/kodu/pkg/types"
)

// ErrAskPending is returned when a second Ask arrives for a ts that already
// has an unresolved pending entry.
var ErrAskPending = errors.New("ask already pending for this ts")

// AskManager turns agent questions into display messages and blocks the
// asking goroutine until the UI answers. Pending asks are keyed by the
// display message ts.
type AskManager struct {
	mu      sync.Mutex
	pending map[int64]chan types.AskResult

	state  *state.Manager
	bus    *event.Bus
	policy *Policy

	disposed bool
}

// NewAskManager creates an ask manager bound to one task's state.
func NewAskManager(st *state.Manager, bus *event.Bus, policy *Policy) *AskManager {
	if policy == nil {
		policy = &Policy{}
	}
	return &AskManager{
		pending: make(map[int64]chan types.AskResult),
		state:   st,
		bus:     bus,
		policy:  policy,
	}
}

// Policy exposes the active auto-approval policy.
func (a *AskManager) Policy() *Policy { return a.policy }

// Ask records the question as a display message and blocks until the user
// responds, the context is cancelled, or the manager is disposed. explicitTs
// zero means "assign now". Auto-approvable asks resolve immediately without a
// pending entry.
func (a *AskManager) Ask(ctx context.Context, askType types.AskType, details *types.AskDetails, explicitTs int64) (types.AskResult, error) {
	ts := explicitTs
	if ts == 0 {
		ts = a.state.NextTs()
	}

	if a.policy.ShouldAutoApprove(askType, details) {
		a.state.Display.Append(types.DisplayMessage{
			Ts:           ts,
			Kind:         types.KindAsk,
			Ask:          askType,
			Text:         askText(details),
			Status:       types.StatusApproved,
			AutoApproved: true,
			IsDone:       true,
		}, true)
		logging.Debug().Str("askType", string(askType)).Int64("ts", ts).
			Msg("ask auto-approved by policy")
		return types.AskResult{Response: types.ResponseYesButtonTapped}, nil
	}

	ch := make(chan types.AskResult, 1)

	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return types.AskResult{Response: types.ResponseNoButtonTapped}, nil
	}
	if _, exists := a.pending[ts]; exists {
		a.mu.Unlock()
		return types.AskResult{}, fmt.Errorf("ask ts=%d: %w", ts, ErrAskPending)
	}
	a.pending[ts] = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.pending, ts)
		a.mu.Unlock()
	}()

	msg := types.DisplayMessage{
		Ts:     ts,
		Kind:   types.KindAsk,
		Ask:    askType,
		Text:   askText(details),
		Status: types.StatusPending,
	}
	a.state.Display.Append(msg, true)

	if a.bus != nil {
		a.bus.Publish(event.Event{Type: event.AskRequired, Data: event.AskRequiredData{
			TaskID: a.state.State().TaskID, Ts: ts, AskType: string(askType), Message: &msg,
		}})
	}

	select {
	case <-ctx.Done():
		return types.AskResult{}, ctx.Err()
	case result := <-ch:
		return result, nil
	}
}

// HandleResponse resolves the pending ask with the user's answer and updates
// the display message status.
func (a *AskManager) HandleResponse(ts int64, response types.AskResponse, text string, images []string) error {
	a.mu.Lock()
	ch, ok := a.pending[ts]
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("ask ts=%d: %w", ts, state.ErrMessageNotFound)
	}

	status := types.StatusApproved
	if response == types.ResponseNoButtonTapped {
		status = types.StatusRejected
	}
	if err := a.state.Display.UpdateByTs(ts, func(msg *types.DisplayMessage) {
		msg.Status = status
		msg.IsDone = true
	}, true); err != nil {
		logging.Warn().Err(err).Int64("ts", ts).Msg("ask display message missing on response")
	}

	ch <- types.AskResult{Response: response, Text: text, Images: images}

	if a.bus != nil {
		a.bus.Publish(event.Event{Type: event.AskResolved, Data: event.AskResolvedData{
			TaskID: a.state.State().TaskID, Ts: ts, Response: string(response),
		}})
	}
	return nil
}

// UpdateAsk patches the in-flight ask's display payload, used to stream tool
// progress into an approval card the user is looking at.
func (a *AskManager) UpdateAsk(ts int64, details *types.AskDetails, flush bool) error {
	return a.state.Display.UpdateByTs(ts, func(msg *types.DisplayMessage) {
		msg.Text = askText(details)
	}, flush)
}

// Abort resolves every outstanding ask with a rejection so no caller hangs,
// and leaves the manager live: the next Ask blocks for a real user response.
// Task aborts go through here; a rejected result routes every consumer onto
// its wait-for-user path instead of an unattended retry.
func (a *AskManager) Abort() {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[int64]chan types.AskResult)
	a.mu.Unlock()

	for ts, ch := range pending {
		ch <- types.AskResult{Response: types.ResponseNoButtonTapped}
		logging.Debug().Int64("ts", ts).Msg("pending ask resolved by abort")
	}
}

// Dispose is final teardown: resolves outstanding asks like Abort and then
// rejects all future asks immediately. Only process shutdown should call
// this; an aborted task that may resume must use Abort. Safe to call more
// than once.
func (a *AskManager) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	a.mu.Unlock()

	a.Abort()
}

// PendingCount reports how many asks are awaiting a response.
func (a *AskManager) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// askText serializes the ask payload the way the display log stores it.
func askText(details *types.AskDetails) string {
	if details == nil {
		return ""
	}
	if details.Tool == nil {
		return details.Question
	}
	data, err := json.Marshal(details)
	if err != nil {
		return details.Question
	}
	return string(data)
}
