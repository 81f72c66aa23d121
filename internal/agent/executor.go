// Package agent implements the task executor: the state machine that drives a
// task through model requests, streamed responses, tool execution and user
// approvals.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/kodu-ai/kodu/internal/approval"
	"github.com/kodu-ai/kodu/internal/event"
	"github.com/kodu-ai/kodu/internal/logging"
	"github.com/kodu-ai/kodu/internal/protocol"
	"github.com/kodu-ai/kodu/internal/provider"
	"github.com/kodu-ai/kodu/internal/state"
	"github.com/kodu-ai/kodu/internal/stream"
	"github.com/kodu-ai/kodu/internal/tool"
	"github.com/kodu-ai/kodu/pkg/types"
)

// State is the executor's lifecycle position.
type State string

const (
	StateIdle               State = "IDLE"
	StateWaitingForAPI      State = "WAITING_FOR_API"
	StateProcessingResponse State = "PROCESSING_RESPONSE"
	StateExecutingTool      State = "EXECUTING_TOOL"
	StateWaitingForUser     State = "WAITING_FOR_USER"
	StateCompleted          State = "COMPLETED"
	StateAborted            State = "ABORTED"
)

const cancelledErrorText = "Request cancelled by user"

// nudgeText is injected when the model replies with prose but no tool call.
const nudgeText = "You responded with plain text only. Use a tool to make progress, " +
	"call attempt_completion if the task is done, or ask_followup_question if you are blocked."

// Config bounds the executor's loops.
type Config struct {
	// RequestLimit is the hard ceiling on requests per task before the
	// executor pauses and asks the user to reset the counter.
	RequestLimit int
	// MaxConsecutiveErrors triggers a proactive resume ask before the next
	// request once reached.
	MaxConsecutiveErrors int
	// DebounceInterval paces display-log flushes of buffered stream text.
	DebounceInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.RequestLimit <= 0 {
		c.RequestLimit = 25
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 3
	}
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = 50 * time.Millisecond
	}
}

// Deps are the collaborators the executor drives.
type Deps struct {
	State *state.Manager
	Asks  *approval.AskManager
	Tools *tool.Executor
	API   provider.ApiManager
	Bus   *event.Bus
}

// TaskExecutor runs one task. All public methods are safe for concurrent use;
// the request loop itself runs on the caller's goroutine.
type TaskExecutor struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu              sync.Mutex
	current         State
	cancelRequested bool
	cancelFn        context.CancelFunc
	aborting        bool

	consecutiveErrors int
	retryBackoff      backoff.BackOff

	// Streaming text accumulates here between debounce flushes. textMsgTs
	// is the display message receiving the text, zero when the next flush
	// must create one. subMessage marks text produced after a tool ran.
	// flushMu serializes flushes against the debounce ticker.
	flushMu    sync.Mutex
	buffered   strings.Builder
	textMsgTs  int64
	subMessage bool
	apiReqTs   int64
}

// NewTaskExecutor wires an executor from its collaborators.
func NewTaskExecutor(cfg Config, deps Deps) *TaskExecutor {
	cfg.withDefaults()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = 0
	return &TaskExecutor{
		cfg:          cfg,
		deps:         deps,
		log:          logging.ForTask(deps.State.State().TaskID),
		current:      StateIdle,
		retryBackoff: bo,
	}
}

// State returns the current lifecycle position.
func (e *TaskExecutor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *TaskExecutor) setState(s State) {
	e.mu.Lock()
	prev := e.current
	e.current = s
	e.mu.Unlock()

	if prev != s {
		e.log.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("task state transition")
		if e.deps.Bus != nil {
			e.deps.Bus.Publish(event.Event{Type: event.TaskStateChanged, Data: event.TaskStateData{
				TaskID: e.deps.State.State().TaskID, State: string(s),
			}})
		}
	}
}

// nextTs assigns a display-message id from the task's shared allocator so
// executor says and manager asks never collide on the same millisecond.
func (e *TaskExecutor) nextTs() int64 {
	return e.deps.State.NextTs()
}

// Say appends a narration message and returns its ts.
func (e *TaskExecutor) Say(sayType types.SayType, text string, images []string) int64 {
	ts := e.nextTs()
	e.deps.State.Display.Append(types.DisplayMessage{
		Ts: ts, Kind: types.KindSay, Say: sayType, Text: text, Images: images,
	}, true)
	return ts
}

// StartTask begins a fresh task from the user's prompt.
func (e *TaskExecutor) StartTask(ctx context.Context, task string, images []string) error {
	if s := e.State(); s != StateIdle && s != StateWaitingForUser {
		return fmt.Errorf("cannot start task from state %s", s)
	}

	e.resetCancellation()
	e.deps.State.State().Aborted = false
	e.Say(types.SayTask, task, images)
	e.appendUserTurn(textAndImages(task, images))
	return e.requestLoop(ctx)
}

// ResumeTask asks the user whether to pick the task back up, then continues
// with any feedback they typed.
func (e *TaskExecutor) ResumeTask(ctx context.Context) error {
	askType := types.AskResumeTask
	if e.deps.State.Metrics.Snapshot().IsCompleted {
		askType = types.AskResumeCompletedTask
	}

	result, err := e.deps.Asks.Ask(ctx, askType, nil, 0)
	if err != nil {
		return err
	}
	if result.Response == types.ResponseNoButtonTapped {
		e.setState(StateWaitingForUser)
		return nil
	}

	e.resetCancellation()
	if result.Response == types.ResponseMessage && result.Text != "" {
		e.Say(types.SayUserFeedback, result.Text, result.Images)
		e.appendUserTurn(textAndImages(result.Text, result.Images))
	}
	return e.requestLoop(ctx)
}

// NewMessage continues the conversation with additional user input.
func (e *TaskExecutor) NewMessage(ctx context.Context, text string, images []string) error {
	if s := e.State(); s != StateIdle && s != StateWaitingForUser && s != StateCompleted {
		return fmt.Errorf("cannot accept message in state %s", s)
	}

	e.resetCancellation()
	e.Say(types.SayUserFeedback, text, images)
	e.appendUserTurn(textAndImages(text, images))
	return e.requestLoop(ctx)
}

// MakeRequest issues exactly one model request and post-processes it. Exposed
// for callers managing their own continuation; most flows go through the
// start/resume/message entry points.
func (e *TaskExecutor) MakeRequest(ctx context.Context) (again bool, err error) {
	return e.makeRequest(ctx)
}

// requestLoop drives requests until the task completes, pauses for the user,
// or fails terminally.
func (e *TaskExecutor) requestLoop(ctx context.Context) error {
	for {
		again, err := e.makeRequest(ctx)
		if err != nil {
			return err
		}
		if !again {
			return nil
		}
	}
}

func (e *TaskExecutor) makeRequest(ctx context.Context) (bool, error) {
	if ok, err := e.checkRequestCeiling(ctx); err != nil || !ok {
		return false, err
	}
	if ok, err := e.checkConsecutiveErrors(ctx); err != nil || !ok {
		return false, err
	}

	e.setState(StateWaitingForAPI)
	e.deps.State.State().RequestCount++
	e.deps.Tools.Reset()

	history := e.deps.State.API.GetAll(false)
	e.mu.Lock()
	e.apiReqTs = 0
	e.textMsgTs = 0
	e.subMessage = false
	e.buffered.Reset()
	e.mu.Unlock()

	readable := e.deps.API.CreateUserReadableRequest(history)
	apiReqTs := e.nextTs()
	e.deps.State.Display.Append(types.DisplayMessage{
		Ts: apiReqTs, Kind: types.KindSay, Say: types.SayAPIReqStarted,
		Text: readable, IsFetching: true,
	}, true)
	e.mu.Lock()
	e.apiReqTs = apiReqTs
	e.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelFn = cancel
	e.mu.Unlock()
	defer cancel()

	frames, err := e.deps.API.CreateMessageStream(streamCtx, history)
	if err != nil {
		return e.handleApiError(ctx, err)
	}

	e.setState(StateProcessingResponse)

	stopFlush := e.startDebouncedFlush()
	processErr := stream.NewProcessor(e.handlers()).Process(streamCtx, frames)
	stopFlush()
	e.flushBuffered()

	if e.isCancelRequested() {
		// Cancellation cleanup already ran in CancelCurrentRequest.
		return false, nil
	}
	if processErr != nil {
		if errors.Is(processErr, context.Canceled) {
			return false, nil
		}
		return e.handleApiError(ctx, processErr)
	}

	e.mu.Lock()
	e.consecutiveErrors = 0
	e.mu.Unlock()
	e.retryBackoff.Reset()

	return e.finishProcessing(ctx)
}

// checkRequestCeiling pauses at the hard per-task request limit until the
// user resets the counter.
func (e *TaskExecutor) checkRequestCeiling(ctx context.Context) (bool, error) {
	if e.deps.State.State().RequestCount < e.cfg.RequestLimit {
		return true, nil
	}

	result, err := e.deps.Asks.Ask(ctx, types.AskRequestLimitReached, &types.AskDetails{
		Question: fmt.Sprintf("This task has made %d requests. Reset the counter and keep going?",
			e.deps.State.State().RequestCount),
	}, 0)
	if err != nil {
		return false, err
	}
	if result.Response != types.ResponseYesButtonTapped {
		e.setState(StateWaitingForUser)
		return false, nil
	}
	e.deps.State.State().RequestCount = 0
	return true, nil
}

// checkConsecutiveErrors proactively asks whether to continue before issuing
// another request once the error streak hits the threshold.
func (e *TaskExecutor) checkConsecutiveErrors(ctx context.Context) (bool, error) {
	e.mu.Lock()
	streak := e.consecutiveErrors
	e.mu.Unlock()
	if streak < e.cfg.MaxConsecutiveErrors {
		return true, nil
	}

	result, err := e.deps.Asks.Ask(ctx, types.AskResumeTask, &types.AskDetails{
		Question: fmt.Sprintf("The last %d requests failed. Keep trying?", streak),
	}, 0)
	if err != nil {
		return false, err
	}
	if result.Response == types.ResponseNoButtonTapped {
		e.setState(StateWaitingForUser)
		return false, nil
	}
	e.mu.Lock()
	e.consecutiveErrors = 0
	e.mu.Unlock()
	return true, nil
}

func (e *TaskExecutor) handlers() stream.Handlers {
	return stream.Handlers{
		OnImmediateEndOfStream: e.onImmediateEnd,
		OnChunk:                e.onChunk,
		OnFinalEndOfStream:     e.onFinalEnd,
	}
}

func (e *TaskExecutor) onImmediateEnd(ctx context.Context, frame protocol.Frame) error {
	switch f := frame.(type) {
	case *protocol.FinalFrame:
		metrics := &types.APIMetrics{
			Cost:            f.Usage.Cost,
			InputTokens:     f.Usage.InputTokens,
			OutputTokens:    f.Usage.OutputTokens,
			InputCacheRead:  f.Usage.CacheReadInputTokens,
			InputCacheWrite: f.Usage.CacheCreationInputTokens,
		}
		e.patchAPIReq(func(msg *types.DisplayMessage) {
			msg.IsDone = true
			msg.IsFetching = false
			msg.APIMetrics = metrics
		})
		if f.CreditBalance != nil {
			e.log.Debug().Float64("credits", *f.CreditBalance).Msg("credit balance updated")
		}
		return nil

	case *protocol.ErrorFrame:
		taskErr := ClassifyErrorFrame(f)
		e.patchAPIReq(func(msg *types.DisplayMessage) {
			msg.IsDone = true
			msg.IsFetching = false
			msg.IsError = true
			msg.ErrorText = taskErr.Message
		})
		return taskErr

	default:
		return nil
	}
}

func (e *TaskExecutor) onChunk(ctx context.Context, frame protocol.Frame) error {
	switch f := frame.(type) {
	case *protocol.PartialFrame:
		e.mu.Lock()
		e.buffered.WriteString(f.Text)
		e.mu.Unlock()
		return nil

	case *protocol.ToolBoundaryFrame:
		// Text narrated before the tool call must land before its output.
		e.flushBuffered()

		e.setState(StateExecutingTool)
		e.deps.Tools.Execute(ctx, f.ToolUse)
		e.setState(StateProcessingResponse)

		// Post-tool narration starts a fresh sub-message.
		e.mu.Lock()
		e.textMsgTs = 0
		e.subMessage = true
		e.mu.Unlock()
		return nil

	default:
		return nil
	}
}

func (e *TaskExecutor) onFinalEnd(ctx context.Context, frame protocol.Frame) error {
	f, ok := frame.(*protocol.FinalFrame)
	if !ok || f.Message == nil {
		return nil
	}
	msg := *f.Message
	if msg.Ts == 0 {
		msg.Ts = e.nextTs()
	}
	e.deps.State.API.Append(msg)
	return nil
}

// startDebouncedFlush flushes buffered stream text on a short tick so the UI
// updates per interval, not per token. Returns a stop function.
func (e *TaskExecutor) startDebouncedFlush() func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(e.cfg.DebounceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				e.flushBuffered()
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// flushBuffered moves accumulated stream text into the display log.
func (e *TaskExecutor) flushBuffered() {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	if e.current == StateExecutingTool && e.textMsgTs == 0 {
		// Paused at a tool boundary: keep buffering so post-tool text is
		// ordered after the tool's own messages.
		e.mu.Unlock()
		return
	}
	delta := e.buffered.String()
	e.buffered.Reset()
	ts := e.textMsgTs
	sub := e.subMessage
	e.mu.Unlock()

	if delta == "" {
		return
	}

	if ts == 0 {
		ts = e.nextTs()
		e.deps.State.Display.Append(types.DisplayMessage{
			Ts: ts, Kind: types.KindSay, Say: types.SayText,
			Text: delta, IsSubMessage: sub,
		}, true)
		e.mu.Lock()
		e.textMsgTs = ts
		e.mu.Unlock()
		return
	}

	if err := e.deps.State.Display.AppendText(ts, delta, true); err != nil {
		e.log.Warn().Err(err).Int64("ts", ts).Msg("streamed text target missing")
	}
}

// finishProcessing decides the next move after a fully consumed model turn.
func (e *TaskExecutor) finishProcessing(ctx context.Context) (bool, error) {
	e.deps.Tools.WaitForProcessing()
	results := e.deps.Tools.Results()

	if e.deps.Tools.AttemptedCompletion() {
		e.appendUserTurn(toolResultBlocks(results))
		// A courtesy closing turn keeps the history ending on the
		// assistant's side for clean resumption.
		e.deps.State.API.Append(types.ConversationMessage{
			Role:    types.RoleAssistant,
			Content: []types.ContentBlock{types.NewTextBlock("Task completed.")},
			Ts:      e.nextTs(),
		})
		e.setState(StateCompleted)
		return false, nil
	}

	if len(results) > 0 {
		e.appendUserTurn(toolResultBlocks(results))
		return true, nil
	}

	// No tool at all: nudge the model and auto-continue.
	e.appendUserTurn([]types.ContentBlock{types.NewTextBlock(nudgeText)})
	return true, nil
}

// handleApiError repairs the history, surfaces the failure and asks whether
// to retry. Non-retryable failures short-circuit to Idle.
func (e *TaskExecutor) handleApiError(ctx context.Context, cause error) (bool, error) {
	taskErr := ClassifyError(cause)
	e.log.Warn().Err(cause).Str("kind", string(taskErr.Kind)).Msg("api request failed")

	e.repairHistoryAfterFailure()
	e.patchAPIReq(func(msg *types.DisplayMessage) {
		msg.IsDone = true
		msg.IsFetching = false
		msg.IsError = true
		if msg.ErrorText == "" {
			msg.ErrorText = taskErr.Message
		}
	})

	if !taskErr.Retryable() {
		sayType := types.SayUnauthorized
		if taskErr.Kind == ErrorKindPaymentRequired {
			sayType = types.SayPaymentRequired
		}
		e.Say(sayType, taskErr.Message, nil)
		e.setState(StateIdle)
		return false, nil
	}

	e.mu.Lock()
	e.consecutiveErrors++
	e.mu.Unlock()

	result, err := e.deps.Asks.Ask(ctx, types.AskAPIReqFailed, &types.AskDetails{
		Question: taskErr.Message,
	}, 0)
	if err != nil {
		return false, err
	}
	if result.Response == types.ResponseNoButtonTapped {
		e.setState(StateWaitingForUser)
		return false, nil
	}

	e.Say(types.SayAPIReqRetried, taskErr.Message, nil)
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(e.retryBackoff.NextBackOff()):
	}
	return true, nil
}

// repairHistoryAfterFailure pops the trailing failed assistant turn so the
// history never carries a dangling or empty assistant message into a retry.
func (e *TaskExecutor) repairHistoryAfterFailure() {
	if !e.deps.State.API.DropDanglingLastAssistant() {
		history := e.deps.State.API.GetAll(false)
		if n := len(history); n > 0 {
			last := history[n-1]
			if last.Role == types.RoleAssistant && len(last.Content) == 0 {
				e.deps.State.API.DeleteLast()
			}
		}
	}
	e.deps.State.API.RepairDanglingToolUses()
}

// CancelCurrentRequest aborts the in-flight request, patches the UI to show
// the cancellation, and asks whether to resume.
func (e *TaskExecutor) CancelCurrentRequest() {
	e.mu.Lock()
	if e.cancelRequested {
		e.mu.Unlock()
		return
	}
	e.cancelRequested = true
	cancel := e.cancelFn
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if e.deps.API != nil {
		e.deps.API.AbortRequest()
	}

	e.patchAPIReq(func(msg *types.DisplayMessage) {
		msg.IsDone = true
		msg.IsFetching = false
		msg.IsError = true
		msg.ErrorText = cancelledErrorText
	})
	e.failPendingToolAsks()
	e.setState(StateAborted)

	// Resume decisions are always the user's; never auto-approved. Consent
	// re-enters the request loop directly so the cancelled task picks back
	// up without a second external resume call.
	go func() {
		result, err := e.deps.Asks.Ask(context.Background(), types.AskResumeTask, &types.AskDetails{
			Question: "The request was cancelled. Resume the task?",
		}, 0)
		if err != nil {
			return
		}
		if result.Response == types.ResponseNoButtonTapped {
			e.setState(StateWaitingForUser)
			return
		}

		e.resetCancellation()
		if result.Response == types.ResponseMessage && result.Text != "" {
			e.Say(types.SayUserFeedback, result.Text, result.Images)
			e.appendUserTurn(textAndImages(result.Text, result.Images))
		}
		if err := e.requestLoop(context.Background()); err != nil {
			e.log.Warn().Err(err).Msg("resume after cancel failed")
		}
	}()
}

// AbortTask tears the task down: idempotent, cancels any request, aborts
// tools, resolves pending asks, and leaves the executor ready for resumption.
func (e *TaskExecutor) AbortTask() {
	e.mu.Lock()
	if e.aborting {
		e.mu.Unlock()
		return
	}
	e.aborting = true
	alreadyCancelled := e.cancelRequested
	e.cancelRequested = true
	cancel := e.cancelFn
	e.mu.Unlock()

	if !alreadyCancelled {
		if cancel != nil {
			cancel()
		}
		if e.deps.API != nil {
			e.deps.API.AbortRequest()
		}
		e.patchAPIReq(func(msg *types.DisplayMessage) {
			if msg.IsDone {
				return
			}
			msg.IsDone = true
			msg.IsFetching = false
			msg.IsError = true
			msg.ErrorText = cancelledErrorText
		})
	}

	e.deps.Tools.Abort()
	// Abort, not Dispose: the ask manager must keep serving the resume ask
	// that brings this task back.
	e.deps.Asks.Abort()

	e.mu.Lock()
	e.consecutiveErrors = 0
	e.aborting = false
	e.mu.Unlock()
	e.retryBackoff.Reset()

	e.deps.State.State().Aborted = true
	e.setState(StateWaitingForUser)
	e.log.Info().Msg("task aborted")
}

// resetCancellation reopens the executor for a new request cycle.
func (e *TaskExecutor) resetCancellation() {
	e.mu.Lock()
	e.cancelRequested = false
	e.cancelFn = nil
	e.mu.Unlock()
}

func (e *TaskExecutor) isCancelRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelRequested
}

// patchAPIReq updates the current request's display message, falling back to
// the most recent api_req_started entry.
func (e *TaskExecutor) patchAPIReq(patch func(*types.DisplayMessage)) {
	e.mu.Lock()
	ts := e.apiReqTs
	e.mu.Unlock()

	if ts == 0 {
		msgs := e.deps.State.Display.GetAll(false)
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Say == types.SayAPIReqStarted {
				ts = msgs[i].Ts
				break
			}
		}
	}
	if ts == 0 {
		return
	}
	if err := e.deps.State.Display.UpdateByTs(ts, patch, true); err != nil {
		e.log.Warn().Err(err).Int64("ts", ts).Msg("api request message missing")
	}
}

// failPendingToolAsks marks unresolved tool approvals as errored in the UI.
func (e *TaskExecutor) failPendingToolAsks() {
	msgs := e.deps.State.Display.GetAll(false)
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Kind == types.KindAsk && msg.Status == types.StatusPending {
			_ = e.deps.State.Display.UpdateByTs(msg.Ts, func(m *types.DisplayMessage) {
				m.Status = types.StatusError
				m.ErrorText = cancelledErrorText
				m.IsDone = true
			}, true)
		}
	}
}

func (e *TaskExecutor) appendUserTurn(blocks []types.ContentBlock) {
	e.deps.State.API.Append(types.ConversationMessage{
		Role:    types.RoleUser,
		Content: blocks,
		Ts:      e.nextTs(),
	})
}

func textAndImages(text string, images []string) []types.ContentBlock {
	blocks := []types.ContentBlock{types.NewTextBlock(text)}
	for _, img := range images {
		blocks = append(blocks, &types.ImageBlock{Data: img})
	}
	return blocks
}

func toolResultBlocks(results []tool.ToolResult) []types.ContentBlock {
	blocks := make([]types.ContentBlock, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, &types.ToolResultBlock{
			ToolUseID: r.ToolUseID,
			Content:   r.Result.Text,
			IsError:   r.Result.IsError,
		})
	}
	return blocks
}
