package state

import (
	"github.com/kodu-ai/kodu/pkg/types"
)

// Metrics derives token and cost aggregates from the display log and writes
// them back to the task-history side table after every display-log save.
type Metrics struct {
	m *Manager
}

// Recompute is called with the manager lock held, after each display save.
func (mt *Metrics) Recompute() {
	item := mt.buildHistoryItem()
	mt.m.io.SaveTaskHistory(&item)
}

// Snapshot returns the current aggregates without persisting.
func (mt *Metrics) Snapshot() types.TaskHistoryItem {
	mt.m.mu.Lock()
	defer mt.m.mu.Unlock()
	return mt.buildHistoryItem()
}

// buildHistoryItem is called with the manager lock held.
func (mt *Metrics) buildHistoryItem() types.TaskHistoryItem {
	st := mt.m.state
	item := types.TaskHistoryItem{ID: st.TaskID}

	for i := range st.ClaudeMessages {
		msg := &st.ClaudeMessages[i]
		if item.Ts == 0 {
			item.Ts = msg.Ts
		}
		if msg.Say == types.SayTask && item.Task == "" {
			item.Task = msg.Text
		}
		if m := msg.APIMetrics; m != nil {
			item.TokensIn += m.InputTokens
			item.TokensOut += m.OutputTokens
			item.CacheWrites += m.InputCacheWrite
			item.CacheReads += m.InputCacheRead
			item.TotalCost += m.Cost
		}
	}

	item.IsCompleted = isCompleted(st.ClaudeMessages)
	return item
}

// isCompleted infers terminal completion from the log itself: the task is done
// when the last actionable message is an approved attempt_completion ask.
// Resume prompts appended after completion do not change the answer.
func isCompleted(msgs []types.DisplayMessage) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Kind != types.KindAsk {
			continue
		}
		switch msg.Ask {
		case types.AskResumeTask, types.AskResumeCompletedTask:
			continue
		case types.AskCompletionResult:
			return msg.Status == types.StatusApproved || msg.IsDone
		default:
			return false
		}
	}
	return false
}
