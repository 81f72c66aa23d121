package types

// MessageKind distinguishes the two display-message flavors.
type MessageKind string

const (
	KindAsk MessageKind = "ask"
	KindSay MessageKind = "say"
)

// AskType identifies what an ask message is asking for.
type AskType string

const (
	AskTool                AskType = "tool"
	AskCommand             AskType = "command"
	AskFollowup            AskType = "followup"
	AskCompletionResult    AskType = "completion_result"
	AskResumeTask          AskType = "resume_task"
	AskResumeCompletedTask AskType = "resume_completed_task"
	AskAPIReqFailed        AskType = "api_req_failed"
	AskRequestLimitReached AskType = "request_limit_reached"
)

// SayType identifies a one-way narration message.
type SayType string

const (
	SayTask            SayType = "task"
	SayText            SayType = "text"
	SayError           SayType = "error"
	SayUserFeedback    SayType = "user_feedback"
	SayAPIReqStarted   SayType = "api_req_started"
	SayAPIReqRetried   SayType = "api_req_retried"
	SayCompletion      SayType = "completion_result"
	SayPaymentRequired SayType = "payment_required"
	SayUnauthorized    SayType = "unauthorized"
)

// AskResponse is the user's answer to an ask.
type AskResponse string

const (
	ResponseYesButtonTapped AskResponse = "yesButtonTapped"
	ResponseNoButtonTapped  AskResponse = "noButtonTapped"
	ResponseMessage         AskResponse = "messageResponse"
)

// ApprovalStatus tracks the lifecycle of an ask or tool display message.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
	StatusError    ApprovalStatus = "error"
	StatusLoading  ApprovalStatus = "loading"
)

// APIMetrics aggregates token usage and cost for one request.
type APIMetrics struct {
	Cost            float64 `json:"cost"`
	InputTokens     int     `json:"inputTokens"`
	OutputTokens    int     `json:"outputTokens"`
	InputCacheRead  int     `json:"inputCacheRead"`
	InputCacheWrite int     `json:"inputCacheWrite"`
}

// DisplayMessage is one human-facing chat entry. Ts doubles as the message id:
// timestamps are monotonically assigned and unique within a task.
type DisplayMessage struct {
	Ts     int64       `json:"ts"`
	Kind   MessageKind `json:"type"`
	Ask    AskType     `json:"ask,omitempty"`
	Say    SayType     `json:"say,omitempty"`
	Text   string      `json:"text,omitempty"`
	Images []string    `json:"images,omitempty"`

	Status       ApprovalStatus `json:"status,omitempty"`
	IsDone       bool           `json:"isDone,omitempty"`
	IsFetching   bool           `json:"isFetching,omitempty"`
	IsError      bool           `json:"isError,omitempty"`
	ErrorText    string         `json:"errorText,omitempty"`
	IsSubMessage bool           `json:"isSubMessage,omitempty"`
	AutoApproved bool           `json:"autoApproved,omitempty"`

	AgentName  string      `json:"agentName,omitempty"`
	APIMetrics *APIMetrics `json:"apiMetrics,omitempty"`
}

// AskDetails carries the optional payload of an ask.
type AskDetails struct {
	Question string    `json:"question,omitempty"`
	Tool     *ChatTool `json:"tool,omitempty"`
}

// ChatTool is the display-side description of a tool approval request.
type ChatTool struct {
	Tool          string         `json:"tool"`
	Ts            int64          `json:"ts,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	ApprovalState ApprovalStatus `json:"approvalState,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// AskResult is what an awaited ask resolves to.
type AskResult struct {
	Response AskResponse `json:"response"`
	Text     string      `json:"text,omitempty"`
	Images   []string    `json:"images,omitempty"`
}
