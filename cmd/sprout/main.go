package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"sprout-agent/internal/domain"
	"sprout-agent/internal/gateway"
	"sprout-agent/internal/integrations/gemini"
	"sprout-agent/internal/integrations/openai"
	"sprout-agent/internal/logging"
	"sprout-agent/internal/repository"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sprout",
	Short: "Talk to the Sprout budgeting assistant from a terminal",
	Long: `sprout runs the same conversation gateway as the Lambda function against an
in-memory budget store, so prompts and actions can be tried without AWS.

API keys are read from OPENAI_API_KEY or GEMINI_API_KEY, optionally loaded
from a .env file in the working directory.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		_ = gotenv.Load()
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE:  runChatCmd,
}

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Print the system prompt for the configured features",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# prompt version %s\n%s\n", gateway.PromptVersion, gateway.BuildSystemPrompt(cfg.PromptOptions()))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sprout.yaml", "path to the YAML config file")
	rootCmd.AddCommand(chatCmd, promptCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChatCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := zap.NewNop()
	if cfg.Debug {
		if logger, err = logging.New(true); err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
	}

	gw, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	return chatLoop(ctx, gw, cfg.UserID, cmd.InOrStdin(), cmd.OutOrStdout())
}

func buildGateway(cfg *Config, logger *zap.Logger) (*gateway.Gateway, error) {
	params, err := cfg.Params(os.Getenv)
	if err != nil {
		return nil, err
	}

	store := repository.NewMemoryStore()
	for _, b := range cfg.SeedBudgets() {
		store.Seed(b)
	}

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithFeatures(cfg.PromptOptions()),
		gateway.WithCalendar(store),
		gateway.WithMaxMessages(cfg.Limits.MaxMessages),
		gateway.WithMaxMessageLength(cfg.Limits.MaxMessageLength),
	}
	if cfg.Limits.ModelTimeout != "" {
		d, err := time.ParseDuration(cfg.Limits.ModelTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid model_timeout: %w", err)
		}
		opts = append(opts, gateway.WithModelTimeout(d))
	}

	var model gateway.ModelClient
	switch cfg.Provider {
	case "gemini":
		model, err = gemini.NewClient(params, localPrefix)
	default:
		model, err = openai.NewClient(params, localPrefix)
	}
	if err != nil {
		return nil, err
	}
	return gateway.New(model, store, opts...)
}

type conversation interface {
	HandleTurn(ctx context.Context, messages []domain.ChatMessage, userID string) (domain.ChatMessage, error)
}

// chatLoop keeps the transcript for the session only. Turns the gateway
// rejects are reported and left out of the transcript.
func chatLoop(ctx context.Context, conv conversation, userID string, in io.Reader, out io.Writer) error {
	var history []domain.ChatMessage
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "Sprout is ready. Type /reset to start over or /quit to leave.")
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			history = nil
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		}

		turn := append(history, domain.ChatMessage{Role: domain.RoleUser, Content: line})
		reply, err := conv.HandleTurn(ctx, turn, userID)
		if err != nil {
			var gerr *gateway.Error
			if errors.As(err, &gerr) {
				fmt.Fprintf(out, "! %s\n", gerr.Reason)
				continue
			}
			return err
		}
		history = append(turn, reply)
		fmt.Fprintf(out, "sprout: %s\n", reply.Content)
		if ctx.Err() != nil {
			return nil
		}
	}
}
