package event

import "github.com/kodu-ai/kodu/pkg/types"

// TaskStateData accompanies TaskStateChanged.
type TaskStateData struct {
	TaskID string `json:"taskId"`
	State  string `json:"state"`
}

// MessageCreatedData accompanies MessageCreated.
type MessageCreatedData struct {
	TaskID  string                `json:"taskId"`
	Message *types.DisplayMessage `json:"message"`
}

// MessageUpdatedData accompanies MessageUpdated and MessageAppended.
type MessageUpdatedData struct {
	TaskID  string                `json:"taskId"`
	Message *types.DisplayMessage `json:"message"`
	Delta   string                `json:"delta,omitempty"`
}

// AskRequiredData accompanies AskRequired.
type AskRequiredData struct {
	TaskID  string                `json:"taskId"`
	Ts      int64                 `json:"ts"`
	AskType string                `json:"askType"`
	Message *types.DisplayMessage `json:"message,omitempty"`
}

// AskResolvedData accompanies AskResolved.
type AskResolvedData struct {
	TaskID   string `json:"taskId"`
	Ts       int64  `json:"ts"`
	Response string `json:"response"`
}

// FileVersionSavedData accompanies FileVersionSaved.
type FileVersionSavedData struct {
	TaskID  string `json:"taskId"`
	Path    string `json:"path"`
	Version int    `json:"version"`
}

// SubAgentData accompanies SubAgentEntered and SubAgentExited.
type SubAgentData struct {
	TaskID string `json:"taskId"`
	Hash   string `json:"hash,omitempty"`
	Name   string `json:"name,omitempty"`
}
