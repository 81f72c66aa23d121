package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kodu-ai/kodu/internal/logging"
)

// WriteKind labels a queued write for logging.
type WriteKind string

const (
	WriteClaudeMessages WriteKind = "claude_messages"
	WriteAPIHistory     WriteKind = "api_history"
	WriteSubAgentState  WriteKind = "subagent_state"
	WriteFileVersion    WriteKind = "file_version"
	WriteTaskHistory    WriteKind = "task_history"
)

// DefaultDrainInterval is how often the queue writes one pending item.
const DefaultDrainInterval = 25 * time.Millisecond

type queuedWrite struct {
	kind    WriteKind
	target  string
	payload []byte
}

// WriteQueue is a background, serialized, best-effort writer. Enqueue is
// fire-and-forget; a ticker drains one item at a time in order. Writes for the
// same target are not deduplicated; the last one wins the final on-disk state.
// A failed write is logged and dropped, never retried: in-memory state is the
// source of truth and is already updated by the time persistence runs.
type WriteQueue struct {
	mu      sync.Mutex
	pending []queuedWrite

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewWriteQueue creates and starts a write queue draining at interval.
// A non-positive interval selects DefaultDrainInterval.
func NewWriteQueue(interval time.Duration) *WriteQueue {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	q := &WriteQueue{
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go q.drainLoop()
	return q
}

// Enqueue serializes payload now and schedules it for writing to target.
// It never blocks on disk I/O. Serialization failures are logged and dropped.
func (q *WriteQueue) Enqueue(kind WriteKind, target string, payload any) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		logging.Error().Err(err).Str("kind", string(kind)).Str("target", target).
			Msg("failed to serialize queued write")
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case <-q.stop:
		// Queue closed; late writes are dropped like failed ones.
		logging.Warn().Str("kind", string(kind)).Str("target", target).
			Msg("write enqueued after queue close, dropped")
		return
	default:
	}

	q.pending = append(q.pending, queuedWrite{kind: kind, target: target, payload: data})
}

// Flush synchronously writes out everything currently pending.
func (q *WriteQueue) Flush() {
	for {
		if !q.drainOne() {
			return
		}
	}
}

// Close stops the drain loop and flushes remaining writes synchronously.
func (q *WriteQueue) Close() {
	q.once.Do(func() {
		close(q.stop)
		<-q.done
		q.Flush()
	})
}

func (q *WriteQueue) drainLoop() {
	defer close(q.done)

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.drainOne()
		}
	}
}

// drainOne writes the oldest pending item. Returns false when the queue was
// empty.
func (q *WriteQueue) drainOne() bool {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return false
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	q.mu.Unlock()

	if err := writeFileAtomic(item.target, item.payload); err != nil {
		logging.Error().Err(err).Str("kind", string(item.kind)).Str("target", item.target).
			Msg("failed to persist queued write")
	}
	return true
}

// writeFileAtomic writes data via a temp file and rename so a crash mid-write
// never corrupts the target.
func writeFileAtomic(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
