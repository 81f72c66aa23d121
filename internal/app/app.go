// Package app is the composition root: it builds and owns every service a
// running task needs, with explicit wiring instead of package-level state.
package app

import (
	"context"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kodu-ai/kodu/internal/agent"
	"github.com/kodu-ai/kodu/internal/approval"
	"github.com/kodu-ai/kodu/internal/config"
	"github.com/kodu-ai/kodu/internal/event"
	"github.com/kodu-ai/kodu/internal/logging"
	"github.com/kodu-ai/kodu/internal/provider"
	"github.com/kodu-ai/kodu/internal/server"
	"github.com/kodu-ai/kodu/internal/state"
	"github.com/kodu-ai/kodu/internal/store"
	"github.com/kodu-ai/kodu/internal/subagent"
	"github.com/kodu-ai/kodu/internal/tool"
	"github.com/kodu-ai/kodu/internal/vcs"
	"github.com/kodu-ai/kodu/pkg/types"
)

// Services bundles everything one task run needs.
type Services struct {
	Config *config.Config
	Bus    *event.Bus

	Queue    *store.WriteQueue
	IO       *store.IOManager
	State    *state.Manager
	Asks     *approval.AskManager
	Tools    *tool.Executor
	Registry *tool.Registry
	Agents   *subagent.Manager
	Executor *agent.TaskExecutor
	Git      *vcs.Git
	Watcher  *vcs.Watcher
	Server   *server.Server
}

// Options configures task construction.
type Options struct {
	// TaskID resumes an existing task when set; empty creates a new one.
	TaskID     string
	WorkingDir string
	API        provider.ApiManager
	// WithServer also wires the HTTP/SSE bridge.
	WithServer bool
}

// New builds the full service graph for one task.
func New(cfg *config.Config, opts Options) (*Services, error) {
	taskID := opts.TaskID
	if taskID == "" {
		taskID = ulid.Make().String()
	}

	bus := event.NewBus()
	queue := store.NewWriteQueue(store.DefaultDrainInterval)
	ioman := store.NewIOManager(cfg.TasksDir, taskID, queue)

	taskState := &types.TaskState{
		TaskID:         taskID,
		WorkingDir:     opts.WorkingDir,
		ClaudeMessages: ioman.LoadClaudeMessages(),
	}
	taskState.APIConversationHistory = ioman.LoadAPIHistory()

	st := state.NewManager(taskState, ioman, bus)

	policy := &approval.Policy{
		AlwaysAllowReadOnly:  cfg.AlwaysAllowReadOnly,
		AlwaysAllowWriteOnly: cfg.AlwaysAllowWriteOnly,
		AllowedWriteGlobs:    cfg.AllowedWriteGlobs,
		DeniedWriteGlobs:     cfg.DeniedWriteGlobs,
	}
	asks := approval.NewAskManager(st, bus, policy)

	registry := tool.NewRegistry()

	// The executor and tool executor are mutually referential through the
	// say callback; the closure resolves the cycle.
	var exec *agent.TaskExecutor
	tools := tool.NewExecutor(registry, asks.Ask,
		func(sayType types.SayType, text string, images []string) {
			exec.Say(sayType, text, images)
		}, asks.UpdateAsk)
	exec = agent.NewTaskExecutor(agent.Config{RequestLimit: cfg.RequestLimit}, agent.Deps{
		State: st, Asks: asks, Tools: tools, API: opts.API, Bus: bus,
	})

	agents := subagent.NewManager(ioman, bus,
		func(sub *types.SubAgentState) { st.API.GetAll(true) },
		func() { st.API.GetAll(true) })

	git := vcs.NewGit(opts.WorkingDir)
	watcher, err := vcs.NewWatcher(opts.WorkingDir, ioman, bus, func() int64 {
		return time.Now().UnixMilli()
	})
	if err != nil {
		queue.Close()
		_ = bus.Close()
		return nil, err
	}

	svcs := &Services{
		Config:   cfg,
		Bus:      bus,
		Queue:    queue,
		IO:       ioman,
		State:    st,
		Asks:     asks,
		Tools:    tools,
		Registry: registry,
		Agents:   agents,
		Executor: exec,
		Git:      git,
		Watcher:  watcher,
	}

	if opts.WithServer {
		svcs.Server = server.New(cfg.ServerAddr, st, asks, exec, bus)
	}
	return svcs, nil
}

// Init performs startup side effects: logging, repo init, watcher start.
func (s *Services) Init() error {
	logging.Init(logging.Config{Level: logging.ParseLevel(s.Config.LogLevel)})

	if s.State.State().WorkingDir != "" {
		if err := s.Git.Init(); err != nil {
			logging.Warn().Err(err).Msg("git init failed; milestone commits disabled")
		} else {
			s.State.State().RepoInitialized = true
		}
	}

	s.Watcher.Start()
	for _, f := range s.State.State().InterestedFiles {
		if err := s.Watcher.Track(f.Path); err != nil {
			logging.Warn().Err(err).Str("path", f.Path).Msg("could not watch interested file")
		}
	}
	return nil
}

// Shutdown tears everything down in dependency order: the executor first so
// no writes race the queue drain, the queue last so state reaches disk.
func (s *Services) Shutdown(ctx context.Context) error {
	s.Executor.AbortTask()
	s.Asks.Dispose()

	if s.Server != nil {
		if err := s.Server.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("server shutdown")
		}
	}
	if err := s.Watcher.Stop(); err != nil {
		logging.Warn().Err(err).Msg("watcher stop")
	}
	_ = s.Bus.Close()
	s.Queue.Close()
	return nil
}

// TasksRoot resolves where a task's files live, for diagnostics.
func (s *Services) TasksRoot() string {
	return filepath.Join(s.Config.TasksDir, "tasks", s.IO.TaskID())
}
