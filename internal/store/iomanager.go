// Package store provides the on-disk persistence layer for tasks: the
// background write queue and the task directory layout.
//
// Layout, per task id under the base directory:
//
//	tasks/<id>/claude_messages.json
//	tasks/<id>/<agent-hash>/api_conversation_history.json
//	tasks/<id>/<agent-hash>/state.json
//	tasks/<id>/file_versions/<encoded-path>/version_<n>.json
//
// The agent-hash segment is empty for the root agent.
package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/kodu-ai/kodu/pkg/types"
)

// ErrNotFound is returned when a stored object does not exist.
var ErrNotFound = errors.New("not found")

// pathSep is the sentinel that replaces path separators before base64
// encoding. The encode/decode pair guarantees any relative path maps to a
// single flat directory segment with no ambiguity.
const pathSep = "___"

var versionFileRe = regexp.MustCompile(`^version_(\d+)\.json$`)

// IOManager owns all file I/O for one task: conversation logs, sub-agent
// snapshots and file versions. Conversation-log saves go through the write
// queue (fire-and-forget); loads read the disk directly.
type IOManager struct {
	baseDir string
	taskID  string
	queue   *WriteQueue

	// agentHash scopes api history and state to the active sub-agent.
	// Empty means the root agent.
	agentHash string
}

// NewIOManager creates an IOManager for one task.
func NewIOManager(baseDir, taskID string, queue *WriteQueue) *IOManager {
	return &IOManager{baseDir: baseDir, taskID: taskID, queue: queue}
}

// TaskID returns the task this manager serves.
func (io *IOManager) TaskID() string { return io.taskID }

// AgentHash returns the active sub-agent hash, empty for the root agent.
func (io *IOManager) AgentHash() string { return io.agentHash }

// SetAgentHash swaps which sub-agent context subsequent reads and writes use.
func (io *IOManager) SetAgentHash(hash string) { io.agentHash = hash }

// Queue exposes the underlying write queue.
func (io *IOManager) Queue() *WriteQueue { return io.queue }

func (io *IOManager) taskDir() string {
	return filepath.Join(io.baseDir, "tasks", io.taskID)
}

func (io *IOManager) agentDir() string {
	if io.agentHash == "" {
		return io.taskDir()
	}
	return filepath.Join(io.taskDir(), io.agentHash)
}

func (io *IOManager) claudeMessagesPath() string {
	return filepath.Join(io.taskDir(), "claude_messages.json")
}

func (io *IOManager) apiHistoryPath() string {
	return filepath.Join(io.agentDir(), "api_conversation_history.json")
}

func (io *IOManager) subAgentStatePath() string {
	return filepath.Join(io.agentDir(), "state.json")
}

func (io *IOManager) fileVersionsDir() string {
	return filepath.Join(io.taskDir(), "file_versions")
}

func (io *IOManager) taskHistoryPath() string {
	return filepath.Join(io.baseDir, "history", io.taskID+".json")
}

// ---------- display log ----------

// LoadClaudeMessages reads the display log; a missing or unparsable file
// yields an empty log.
func (io *IOManager) LoadClaudeMessages() []types.DisplayMessage {
	var messages []types.DisplayMessage
	if err := readJSON(io.claudeMessagesPath(), &messages); err != nil {
		return nil
	}
	return messages
}

// SaveClaudeMessages schedules the display log for persistence.
func (io *IOManager) SaveClaudeMessages(messages []types.DisplayMessage) {
	io.queue.Enqueue(WriteClaudeMessages, io.claudeMessagesPath(), messages)
}

// ---------- api history ----------

// LoadAPIHistory reads the API-format conversation under the active agent
// hash; a missing file yields an empty history.
func (io *IOManager) LoadAPIHistory() []types.ConversationMessage {
	var history []types.ConversationMessage
	if err := readJSON(io.apiHistoryPath(), &history); err != nil {
		return nil
	}
	return history
}

// SaveAPIHistory schedules the API history for persistence under the active
// agent hash.
func (io *IOManager) SaveAPIHistory(history []types.ConversationMessage) {
	io.queue.Enqueue(WriteAPIHistory, io.apiHistoryPath(), history)
}

// ---------- sub-agent state ----------

// LoadSubAgentState reads the active sub-agent's snapshot.
func (io *IOManager) LoadSubAgentState() (*types.SubAgentState, error) {
	if io.agentHash == "" {
		return nil, fmt.Errorf("no active sub-agent hash")
	}
	var state types.SubAgentState
	if err := readJSON(io.subAgentStatePath(), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveSubAgentState persists the sub-agent snapshot immediately. Spawn must
// observe the state on disk before control returns, so this write bypasses
// the queue.
func (io *IOManager) SaveSubAgentState(state *types.SubAgentState) error {
	if io.agentHash == "" {
		return fmt.Errorf("no active sub-agent hash")
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(io.subAgentStatePath(), data)
}

// ---------- task history side table ----------

// SaveTaskHistory schedules the task-history row for persistence.
func (io *IOManager) SaveTaskHistory(item *types.TaskHistoryItem) {
	io.queue.Enqueue(WriteTaskHistory, io.taskHistoryPath(), item)
}

// LoadTaskHistory reads the task-history row.
func (io *IOManager) LoadTaskHistory() (*types.TaskHistoryItem, error) {
	var item types.TaskHistoryItem
	if err := readJSON(io.taskHistoryPath(), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ---------- file versions ----------

// SaveFileVersion writes one immutable snapshot. Versions are written
// synchronously: callers roll back against what is actually on disk.
func (io *IOManager) SaveFileVersion(fv types.FileVersion) error {
	dir := filepath.Join(io.fileVersionsDir(), EncodeFilePath(fv.Path))
	target := filepath.Join(dir, fmt.Sprintf("version_%d.json", fv.Version))

	payload := struct {
		Content   string `json:"content"`
		CreatedAt int64  `json:"createdAt"`
	}{Content: fv.Content, CreatedAt: fv.CreatedAt}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(target, data)
}

// GetFileVersions returns all snapshots for a path, sorted ascending by
// version. A path with no snapshots yields an empty slice.
func (io *IOManager) GetFileVersions(relPath string) ([]types.FileVersion, error) {
	dir := filepath.Join(io.fileVersionsDir(), EncodeFilePath(relPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var versions []types.FileVersion
	for _, entry := range entries {
		m := versionFileRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		var n int
		fmt.Sscanf(m[1], "%d", &n)

		var payload struct {
			Content   string `json:"content"`
			CreatedAt int64  `json:"createdAt"`
		}
		if err := readJSON(filepath.Join(dir, entry.Name()), &payload); err != nil {
			continue
		}
		versions = append(versions, types.FileVersion{
			Path:      relPath,
			Version:   n,
			Content:   payload.Content,
			CreatedAt: payload.CreatedAt,
		})
	}

	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

// GetFilesInTaskDirectory lists every tracked file with its versions.
func (io *IOManager) GetFilesInTaskDirectory() (map[string][]types.FileVersion, error) {
	result := make(map[string][]types.FileVersion)

	entries, err := os.ReadDir(io.fileVersionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		relPath, err := DecodeFilePath(entry.Name())
		if err != nil {
			continue
		}
		versions, err := io.GetFileVersions(relPath)
		if err != nil {
			continue
		}
		result[relPath] = versions
	}
	return result, nil
}

// DeleteFileVersion removes one snapshot, used on rollback.
func (io *IOManager) DeleteFileVersion(relPath string, version int) error {
	target := filepath.Join(io.fileVersionsDir(), EncodeFilePath(relPath),
		fmt.Sprintf("version_%d.json", version))
	if err := os.Remove(target); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// RollbackToVersion deletes every snapshot newer than keep, returning the
// snapshot that is now the latest. keep=0 removes all of them.
func (io *IOManager) RollbackToVersion(relPath string, keep int) (*types.FileVersion, error) {
	versions, err := io.GetFileVersions(relPath)
	if err != nil {
		return nil, err
	}

	var latest *types.FileVersion
	for i := range versions {
		fv := versions[i]
		if fv.Version > keep {
			if err := io.DeleteFileVersion(relPath, fv.Version); err != nil {
				return nil, err
			}
			continue
		}
		if latest == nil || fv.Version > latest.Version {
			latest = &fv
		}
	}
	return latest, nil
}

// ---------- path encoding ----------

// EncodeFilePath maps an arbitrary relative path to a single filesystem-safe
// directory segment: separators become a sentinel, then the whole string is
// base64-encoded (URL-safe alphabet, so the output never contains a slash).
func EncodeFilePath(relPath string) string {
	replaced := strings.NewReplacer("/", pathSep, "\\", pathSep).Replace(relPath)
	return base64.URLEncoding.EncodeToString([]byte(replaced))
}

// DecodeFilePath is the exact inverse of EncodeFilePath.
func DecodeFilePath(encoded string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode file path: %w", err)
	}
	return strings.ReplaceAll(string(raw), pathSep, string(filepath.Separator)), nil
}

// readJSON reads and unmarshals one file, mapping absence to ErrNotFound.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}
