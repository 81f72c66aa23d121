package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kodu-ai/kodu/internal/app"
	"github.com/kodu-ai/kodu/internal/config"
	"github.com/kodu-ai/kodu/internal/event"
	"github.com/kodu-ai/kodu/internal/provider"
	"github.com/kodu-ai/kodu/pkg/types"
)

var (
	runDir    string
	runTaskID string
	runYes    bool
	runAPIURL string
	runAPIKey string
)

var runCmd = &cobra.Command{
	Use:   "run [task...]",
	Short: "Run one task from the terminal",
	Long: `Run one task against the configured model endpoint, streaming its
output to the terminal and answering approval prompts on stdin.

Examples:
  kodu run "Fix the bug in main.go"
  kodu run --yes "Rename foo to bar across the repo"
  kodu run --task-id 01J8... ""  # resume an existing task`,
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
	runCmd.Flags().StringVar(&runTaskID, "task-id", "", "Resume an existing task by id")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Approve every prompt without asking")
	runCmd.Flags().StringVar(&runAPIURL, "api-url", "", "Model endpoint override")
	runCmd.Flags().StringVar(&runAPIKey, "api-key", "", "API key override")
}

func runTask(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if runAPIURL != "" {
		cfg.APIURL = runAPIURL
	}
	if runAPIKey != "" {
		cfg.APIKey = runAPIKey
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cfg.APIURL == "" {
		return fmt.Errorf("no model endpoint configured; set apiUrl in settings.json or pass --api-url")
	}

	task := strings.Join(args, " ")
	if task == "" && runTaskID == "" {
		return fmt.Errorf("task text required. Usage: kodu run \"your task\"")
	}

	api := provider.NewHTTPManager(cfg.APIURL, cfg.APIKey)
	services, err := app.New(cfg, app.Options{
		TaskID:     runTaskID,
		WorkingDir: workDir,
		API:        api,
	})
	if err != nil {
		return err
	}
	if err := services.Init(); err != nil {
		return err
	}
	defer services.Shutdown(context.Background())

	unsubPrint := services.Bus.Subscribe(event.MessageCreated, printMessage)
	defer unsubPrint()
	unsubDelta := services.Bus.Subscribe(event.MessageAppended, printDelta)
	defer unsubDelta()
	unsubAsk := services.Bus.Subscribe(event.AskRequired, answerAsk(services))
	defer unsubAsk()

	ctx := cmd.Context()
	if runTaskID != "" && task == "" {
		err = services.Executor.ResumeTask(ctx)
	} else {
		err = services.Executor.StartTask(ctx, task, nil)
	}
	if err != nil {
		return fmt.Errorf("task run: %w", err)
	}

	fmt.Println()
	return nil
}

// printMessage echoes say messages to the terminal as they land.
func printMessage(e event.Event) {
	data, ok := e.Data.(event.MessageCreatedData)
	if !ok || data.Message == nil || data.Message.Kind != types.KindSay {
		return
	}
	msg := data.Message
	switch msg.Say {
	case types.SayText, types.SayCompletion:
		fmt.Print(msg.Text)
	case types.SayError, types.SayPaymentRequired, types.SayUnauthorized:
		fmt.Fprintln(os.Stderr, msg.Text)
	}
}

// printDelta echoes streamed text appended to an existing message.
func printDelta(e event.Event) {
	data, ok := e.Data.(event.MessageUpdatedData)
	if !ok || data.Message == nil || data.Message.Say != types.SayText {
		return
	}
	fmt.Print(data.Delta)
}

// answerAsk resolves approval prompts from stdin, or approves everything
// when --yes is set.
func answerAsk(services *app.Services) func(event.Event) {
	stdin := bufio.NewReader(os.Stdin)
	return func(e event.Event) {
		data, ok := e.Data.(event.AskRequiredData)
		if !ok {
			return
		}
		if runYes {
			services.Asks.HandleResponse(data.Ts, types.ResponseYesButtonTapped, "", nil)
			return
		}

		prompt := data.AskType
		if data.Message != nil && data.Message.Text != "" {
			prompt = data.Message.Text
		}
		fmt.Printf("\n[%s] %s\n(y)es / (n)o / anything else as a reply: ", data.AskType, prompt)

		line, err := stdin.ReadString('\n')
		if err != nil {
			services.Asks.HandleResponse(data.Ts, types.ResponseNoButtonTapped, "", nil)
			return
		}
		line = strings.TrimSpace(line)
		switch strings.ToLower(line) {
		case "y", "yes", "":
			services.Asks.HandleResponse(data.Ts, types.ResponseYesButtonTapped, "", nil)
		case "n", "no":
			services.Asks.HandleResponse(data.Ts, types.ResponseNoButtonTapped, "", nil)
		default:
			services.Asks.HandleResponse(data.Ts, types.ResponseMessage, line, nil)
		}
	}
}
