// Package state owns the in-memory task state and keeps it synchronized with
// disk and the UI. The TaskState aggregate is mutated in place; components
// holding the aggregate pointer observe every mutation without resubscribing.
package state

import (
	"errors"
	"sync"
	"time"

	"github.com/kodu-ai/kodu/internal/event"
	"github.com/kodu-ai/kodu/internal/store"
	"github.com/kodu-ai/kodu/pkg/types"
)

// ErrMessageNotFound is returned when a ts lookup finds no message.
var ErrMessageNotFound = errors.New("message not found")

// Manager bundles the two conversation logs and the derived-metrics writer
// for one task. All three share the same TaskState and mutex.
type Manager struct {
	mu     sync.Mutex
	state  *types.TaskState
	io     *store.IOManager
	bus    *event.Bus
	lastTs int64

	Display *DisplayLog
	API     *APIHistory
	Metrics *Metrics
}

// NewManager builds a state manager around an existing task aggregate.
func NewManager(state *types.TaskState, ioman *store.IOManager, bus *event.Bus) *Manager {
	m := &Manager{state: state, io: ioman, bus: bus}
	m.Metrics = &Metrics{m: m}
	m.Display = &DisplayLog{m: m, afterSave: m.Metrics.Recompute}
	m.API = &APIHistory{m: m}
	return m
}

// State returns the shared aggregate. Callers must treat it as read-only and
// go through the sub-managers for mutation.
func (m *Manager) State() *types.TaskState { return m.state }

// IO returns the task's IOManager.
func (m *Manager) IO() *store.IOManager { return m.io }

// NextTs allocates a display-message id: Unix millis, strictly increasing
// within the task even when allocations land in the same millisecond. Every
// component stamping a display message must draw from this allocator so ts
// stays unique across says and asks.
func (m *Manager) NextTs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := time.Now().UnixMilli()
	if ts <= m.lastTs {
		ts = m.lastTs + 1
	}
	m.lastTs = ts
	return ts
}

func (m *Manager) publish(e event.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
