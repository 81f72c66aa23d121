package state

import (
	"fmt"

	"github.com/kodu-ai/kodu/pkg/types"
)

// APIHistory manages the API-format conversation sent back to the model. It
// shares the TaskState aggregate with the display log and persists through the
// same write queue, scoped to the IOManager's active agent hash.
type APIHistory struct {
	m *Manager
}

// GetAll returns the current history. With forceReload the history is re-read
// from disk under the active agent hash first.
func (h *APIHistory) GetAll(forceReload bool) []types.ConversationMessage {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	if forceReload {
		h.m.state.APIConversationHistory = h.m.io.LoadAPIHistory()
	}
	return h.m.state.APIConversationHistory
}

// Append adds one turn to the end of the history.
func (h *APIHistory) Append(msg types.ConversationMessage) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	h.m.state.APIConversationHistory = append(h.m.state.APIConversationHistory, msg)
	h.save()
}

// UpdateByTs replaces the turn with the given ts.
func (h *APIHistory) UpdateByTs(ts int64, msg types.ConversationMessage) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	for i := range h.m.state.APIConversationHistory {
		if h.m.state.APIConversationHistory[i].Ts == ts {
			h.m.state.APIConversationHistory[i] = msg
			h.save()
			return nil
		}
	}
	return fmt.Errorf("api history ts=%d: %w", ts, ErrMessageNotFound)
}

// OverwriteAll replaces the whole history, used on resume and sub-agent swaps.
func (h *APIHistory) OverwriteAll(msgs []types.ConversationMessage) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	h.m.state.APIConversationHistory = msgs
	h.save()
}

// DeleteLast drops the final turn, if any.
func (h *APIHistory) DeleteLast() {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	msgs := h.m.state.APIConversationHistory
	if len(msgs) == 0 {
		return
	}
	h.m.state.APIConversationHistory = msgs[:len(msgs)-1]
	h.save()
}

// TruncateAfter drops every turn after the one with the given ts, keeping
// that turn itself.
func (h *APIHistory) TruncateAfter(ts int64) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	for i := range h.m.state.APIConversationHistory {
		if h.m.state.APIConversationHistory[i].Ts == ts {
			h.m.state.APIConversationHistory = h.m.state.APIConversationHistory[:i+1]
			h.save()
			return nil
		}
	}
	return fmt.Errorf("api history ts=%d: %w", ts, ErrMessageNotFound)
}

// DropDanglingLastAssistant removes the final turn when it is an assistant
// message whose tool calls never got results. Retrying after an API or tool
// failure must not resend a half-finished turn.
func (h *APIHistory) DropDanglingLastAssistant() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	msgs := h.m.state.APIConversationHistory
	if len(msgs) == 0 {
		return false
	}
	last := msgs[len(msgs)-1]
	if last.Role != types.RoleAssistant || len(last.ToolUses()) == 0 {
		return false
	}
	h.m.state.APIConversationHistory = msgs[:len(msgs)-1]
	h.save()
	return true
}

// RepairDanglingToolUses walks the history and inserts a synthetic interrupted
// tool_result for every tool_use that the following user turn never answered.
// The model API rejects histories with unanswered tool calls.
func (h *APIHistory) RepairDanglingToolUses() int {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	repaired := 0
	msgs := h.m.state.APIConversationHistory

	for i := 0; i < len(msgs); i++ {
		if msgs[i].Role != types.RoleAssistant {
			continue
		}
		uses := msgs[i].ToolUses()
		if len(uses) == 0 {
			continue
		}

		answered := make(map[string]bool)
		if i+1 < len(msgs) && msgs[i+1].Role == types.RoleUser {
			for _, b := range msgs[i+1].Content {
				if r, ok := b.(*types.ToolResultBlock); ok {
					answered[r.ToolUseID] = true
				}
			}
		}

		var missing []types.ContentBlock
		for _, u := range uses {
			if !answered[u.ID] {
				missing = append(missing, &types.ToolResultBlock{
					Type:      "tool_result",
					ToolUseID: u.ID,
					Content:   "Tool execution was interrupted before a result was recorded.",
					IsError:   true,
				})
				repaired++
			}
		}
		if len(missing) == 0 {
			continue
		}

		if i+1 < len(msgs) && msgs[i+1].Role == types.RoleUser {
			msgs[i+1].Content = append(msgs[i+1].Content, missing...)
		} else {
			patch := types.ConversationMessage{Role: types.RoleUser, Content: missing, Ts: msgs[i].Ts + 1}
			msgs = append(msgs, types.ConversationMessage{})
			copy(msgs[i+2:], msgs[i+1:])
			msgs[i+1] = patch
		}
	}

	if repaired > 0 {
		h.m.state.APIConversationHistory = msgs
		h.save()
	}
	return repaired
}

// save is called with the manager lock held.
func (h *APIHistory) save() {
	h.m.io.SaveAPIHistory(h.m.state.APIConversationHistory)
}
