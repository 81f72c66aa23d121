package types

// SubAgentState is the persisted snapshot of a nested task context. Ts is the
// creation time and doubles as the sub-agent id.
type SubAgentState struct {
	Ts              int64                 `json:"ts"`
	Name            string                `json:"name"`
	SystemPrompt    string                `json:"systemPrompt,omitempty"`
	APIConversation []ConversationMessage `json:"apiConversationHistory,omitempty"`
	InterestedFiles []InterestedFile      `json:"interestedFiles,omitempty"`
	State           string                `json:"state,omitempty"` // "RUNNING" | "DONE" | "EXITED"
}
