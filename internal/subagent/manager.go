// Package subagent manages isolated sub-agent contexts within one task. Each
// sub-agent gets its own conversation history and state snapshot on disk,
// scoped by a hash segment in the task directory.
package subagent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kodu-ai/kodu/internal/event"
	"github.com/kodu-ai/kodu/internal/logging"
	"github.com/kodu-ai/kodu/internal/store"
	"github.com/kodu-ai/kodu/pkg/types"
)

var (
	// ErrNoActiveSubAgent is returned by Exit and Update when no sub-agent
	// is active.
	ErrNoActiveSubAgent = errors.New("no active sub-agent")
	// ErrSubAgentActive is returned by Spawn and Enter while another
	// sub-agent is already active. Nesting is not modeled.
	ErrSubAgentActive = errors.New("a sub-agent is already active")
)

// Hash derives the directory segment for a sub-agent.
func Hash(ts int64, name string) string {
	return fmt.Sprintf("%d-%s", ts, name)
}

// Manager owns the active sub-agent swap. The enter callback reloads the
// conversation from disk under the new hash; the exit callback reloads the
// parent's.
type Manager struct {
	mu     sync.Mutex
	io     *store.IOManager
	bus    *event.Bus
	active *types.SubAgentState

	onEnter func(state *types.SubAgentState)
	onExit  func()
}

// NewManager creates a sub-agent manager over the task's IOManager.
func NewManager(ioman *store.IOManager, bus *event.Bus, onEnter func(*types.SubAgentState), onExit func()) *Manager {
	return &Manager{io: ioman, bus: bus, onEnter: onEnter, onExit: onExit}
}

// Active returns the current sub-agent state, nil when the root agent runs.
func (m *Manager) Active() *types.SubAgentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Spawn creates and persists a new sub-agent context, swaps the active hash,
// and fires the entered callback. The state must be on disk before control
// returns so a later Enter can find it.
func (m *Manager) Spawn(st *types.SubAgentState) error {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return fmt.Errorf("spawn %q: %w", st.Name, ErrSubAgentActive)
	}

	hash := Hash(st.Ts, st.Name)
	prev := m.io.AgentHash()
	m.io.SetAgentHash(hash)

	if err := m.io.SaveSubAgentState(st); err != nil {
		m.io.SetAgentHash(prev)
		m.mu.Unlock()
		return fmt.Errorf("spawn %q: %w", st.Name, err)
	}
	m.active = st
	m.mu.Unlock()

	logging.Info().Str("hash", hash).Msg("sub-agent spawned")
	m.publish(event.SubAgentEntered, hash, st.Name)
	if m.onEnter != nil {
		m.onEnter(st)
	}
	return nil
}

// Enter swaps into an already-persisted sub-agent context. When no state.json
// exists for the hash, the swap is rolled back and an error returned; there is
// no create-on-enter.
func (m *Manager) Enter(ts int64, name string) error {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return fmt.Errorf("enter %q: %w", name, ErrSubAgentActive)
	}

	hash := Hash(ts, name)
	prev := m.io.AgentHash()
	m.io.SetAgentHash(hash)

	st, err := m.io.LoadSubAgentState()
	if err != nil {
		m.io.SetAgentHash(prev)
		m.mu.Unlock()
		return fmt.Errorf("enter %q: no persisted state: %w", name, err)
	}
	m.active = st
	m.mu.Unlock()

	logging.Info().Str("hash", hash).Msg("sub-agent entered")
	m.publish(event.SubAgentEntered, hash, st.Name)
	if m.onEnter != nil {
		m.onEnter(st)
	}
	return nil
}

// Exit clears the active hash so persistence reverts to the parent's paths,
// then fires the exited callback.
func (m *Manager) Exit() error {
	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return ErrNoActiveSubAgent
	}
	hash := m.io.AgentHash()
	name := m.active.Name
	m.active = nil
	m.io.SetAgentHash("")
	m.mu.Unlock()

	logging.Info().Str("hash", hash).Msg("sub-agent exited")
	m.publish(event.SubAgentExited, hash, name)
	if m.onExit != nil {
		m.onExit()
	}
	return nil
}

// Update persists a new snapshot of the active sub-agent.
func (m *Manager) Update(st *types.SubAgentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return ErrNoActiveSubAgent
	}
	if err := m.io.SaveSubAgentState(st); err != nil {
		return err
	}
	m.active = st
	return nil
}

func (m *Manager) publish(t event.EventType, hash, name string) {
	if m.bus != nil {
		m.bus.Publish(event.Event{Type: t, Data: event.SubAgentData{
			TaskID: m.io.TaskID(), Hash: hash, Name: name,
		}})
	}
}
