package types

// TaskState is the per-task aggregate. It is created once per task and mutated
// in place by the managers that own its fields; it is never replaced wholesale,
// so components holding the pointer keep observing mutations.
type TaskState struct {
	TaskID          string `json:"taskId"`
	WorkingDir      string `json:"workingDir"`
	RepoInitialized bool   `json:"repoInitialized"`
	RequestCount    int    `json:"requestCount"`

	ClaudeMessages         []DisplayMessage      `json:"claudeMessages"`
	APIConversationHistory []ConversationMessage `json:"apiConversationHistory"`

	// HistoryErrors is keyed by file path.
	HistoryErrors   map[string]TaskError `json:"historyErrors,omitempty"`
	InterestedFiles []InterestedFile     `json:"interestedFiles,omitempty"`

	Aborted bool `json:"aborted,omitempty"`
}

// TaskError records a per-path failure surfaced in the task state.
type TaskError struct {
	Message   string `json:"error"`
	Timestamp int64  `json:"lastCheckedAt"`
}

// InterestedFile is a file the agent has flagged as relevant to the task.
type InterestedFile struct {
	Path      string `json:"path"`
	Why       string `json:"why,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// TaskHistoryItem is the side-table row describing a task for history listings.
type TaskHistoryItem struct {
	ID          string  `json:"id"`
	Ts          int64   `json:"ts"`
	Task        string  `json:"task"`
	TokensIn    int     `json:"tokensIn"`
	TokensOut   int     `json:"tokensOut"`
	CacheWrites int     `json:"cacheWrites"`
	CacheReads  int     `json:"cacheReads"`
	TotalCost   float64 `json:"totalCost"`
	IsCompleted bool    `json:"isCompleted"`
}
