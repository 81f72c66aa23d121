package state

import (
	"fmt"

	"github.com/kodu-ai/kodu/internal/event"
	"github.com/kodu-ai/kodu/pkg/types"
)

// DisplayLog manages the human-facing message log. Every mutation updates the
// aggregate in memory first, then schedules persistence through the write
// queue, then (when flush is set) notifies the UI. Lookup by ts is a linear
// scan; task logs are bounded in the low thousands.
type DisplayLog struct {
	m *Manager

	// afterSave runs after each persisted mutation, while the lock is held.
	afterSave func()
}

// GetAll returns the current log. With forceReload the log is re-read from
// disk and replaces the in-memory copy before returning.
func (d *DisplayLog) GetAll(forceReload bool) []types.DisplayMessage {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()

	if forceReload {
		d.m.state.ClaudeMessages = d.m.io.LoadClaudeMessages()
	}
	return d.m.state.ClaudeMessages
}

// Append adds a message to the end of the log.
func (d *DisplayLog) Append(msg types.DisplayMessage, flush bool) {
	d.m.mu.Lock()
	d.m.state.ClaudeMessages = append(d.m.state.ClaudeMessages, msg)
	d.save()
	d.m.mu.Unlock()

	if flush {
		d.m.publish(event.Event{Type: event.MessageCreated, Data: event.MessageCreatedData{
			TaskID: d.m.state.TaskID, Message: &msg,
		}})
	}
}

// UpdateByTs applies patch to the message with the given ts, in place.
func (d *DisplayLog) UpdateByTs(ts int64, patch func(*types.DisplayMessage), flush bool) error {
	d.m.mu.Lock()
	i := d.indexOf(ts)
	if i < 0 {
		d.m.mu.Unlock()
		return fmt.Errorf("display message ts=%d: %w", ts, ErrMessageNotFound)
	}
	patch(&d.m.state.ClaudeMessages[i])
	updated := d.m.state.ClaudeMessages[i]
	d.save()
	d.m.mu.Unlock()

	if flush {
		d.m.publish(event.Event{Type: event.MessageUpdated, Data: event.MessageUpdatedData{
			TaskID: d.m.state.TaskID, Message: &updated,
		}})
	}
	return nil
}

// DeleteByTs removes the message with the given ts.
func (d *DisplayLog) DeleteByTs(ts int64) error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()

	i := d.indexOf(ts)
	if i < 0 {
		return fmt.Errorf("display message ts=%d: %w", ts, ErrMessageNotFound)
	}
	msgs := d.m.state.ClaudeMessages
	d.m.state.ClaudeMessages = append(msgs[:i], msgs[i+1:]...)
	d.save()
	return nil
}

// OverwriteAll replaces the whole log, used on resume and rollback.
func (d *DisplayLog) OverwriteAll(msgs []types.DisplayMessage) {
	d.m.mu.Lock()
	d.m.state.ClaudeMessages = msgs
	d.save()
	d.m.mu.Unlock()

	d.m.publish(event.Event{Type: event.TaskStateChanged, Data: event.TaskStateData{
		TaskID: d.m.state.TaskID,
	}})
}

// TruncateAfter drops every message after the one with the given ts,
// keeping that message itself.
func (d *DisplayLog) TruncateAfter(ts int64) error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()

	i := d.indexOf(ts)
	if i < 0 {
		return fmt.Errorf("display message ts=%d: %w", ts, ErrMessageNotFound)
	}
	d.m.state.ClaudeMessages = d.m.state.ClaudeMessages[:i+1]
	d.save()
	return nil
}

// InsertAfter places msg immediately after the message with the given ts.
func (d *DisplayLog) InsertAfter(ts int64, msg types.DisplayMessage, flush bool) error {
	d.m.mu.Lock()
	i := d.indexOf(ts)
	if i < 0 {
		d.m.mu.Unlock()
		return fmt.Errorf("display message ts=%d: %w", ts, ErrMessageNotFound)
	}
	msgs := d.m.state.ClaudeMessages
	msgs = append(msgs, types.DisplayMessage{})
	copy(msgs[i+2:], msgs[i+1:])
	msgs[i+1] = msg
	d.m.state.ClaudeMessages = msgs
	d.save()
	d.m.mu.Unlock()

	if flush {
		d.m.publish(event.Event{Type: event.MessageCreated, Data: event.MessageCreatedData{
			TaskID: d.m.state.TaskID, Message: &msg,
		}})
	}
	return nil
}

// AppendText appends a streaming delta to an existing message's text. Callers
// doing rapid intermediate updates pass flush=false and emit one final
// flushing update when the stream settles.
func (d *DisplayLog) AppendText(ts int64, delta string, flush bool) error {
	d.m.mu.Lock()
	i := d.indexOf(ts)
	if i < 0 {
		d.m.mu.Unlock()
		return fmt.Errorf("display message ts=%d: %w", ts, ErrMessageNotFound)
	}
	d.m.state.ClaudeMessages[i].Text += delta
	updated := d.m.state.ClaudeMessages[i]
	d.save()
	d.m.mu.Unlock()

	if flush {
		d.m.publish(event.Event{Type: event.MessageAppended, Data: event.MessageUpdatedData{
			TaskID: d.m.state.TaskID, Message: &updated, Delta: delta,
		}})
	}
	return nil
}

// LastMessage returns the final log entry, if any.
func (d *DisplayLog) LastMessage() (types.DisplayMessage, bool) {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()

	msgs := d.m.state.ClaudeMessages
	if len(msgs) == 0 {
		return types.DisplayMessage{}, false
	}
	return msgs[len(msgs)-1], true
}

// indexOf is called with the manager lock held.
func (d *DisplayLog) indexOf(ts int64) int {
	for i := range d.m.state.ClaudeMessages {
		if d.m.state.ClaudeMessages[i].Ts == ts {
			return i
		}
	}
	return -1
}

// save is called with the manager lock held.
func (d *DisplayLog) save() {
	d.m.io.SaveClaudeMessages(d.m.state.ClaudeMessages)
	if d.afterSave != nil {
		d.afterSave()
	}
}
