package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"sprout-agent/handler"
	"sprout-agent/internal/gateway"
	"sprout-agent/internal/integrations/gemini"
	"sprout-agent/internal/integrations/openai"
	"sprout-agent/internal/integrations/paramstore"
	"sprout-agent/internal/logging"
	"sprout-agent/internal/repository"
)

func main() {
	ctx := context.Background()

	logger, err := logging.New(envBool("DEBUG", false))
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// ---- Configuration (read only here) ----
	budgetTable := mustEnv(logger, "BUDGET_TABLE")
	paramPrefix := mustEnv(logger, "PARAM_PREFIX")
	provider := strings.ToLower(envString("MODEL_PROVIDER", "openai"))
	features := gateway.PromptOptions{
		EnableBudget:   envBool("ENABLE_BUDGET", true),
		EnableCalendar: envBool("ENABLE_CALENDAR", false),
	}
	maxMessages := envInt("MAX_CONTEXT_MESSAGES", 20)
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 2000)
	modelTimeout := envDuration("MODEL_TIMEOUT", 20*time.Second)
	moderation := envBool("MODERATION", provider == "openai")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal("failed to load AWS config", zap.Error(err))
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		logger.Fatal("failed to create SSM client", zap.Error(err))
	}
	params, err := paramstore.NewCache(ssmClient)
	if err != nil {
		logger.Fatal("failed to create parameter cache", zap.Error(err))
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), budgetTable)
	if err != nil {
		logger.Fatal("failed to create budget store", zap.Error(err))
	}

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithFeatures(features),
		gateway.WithCalendar(store),
		gateway.WithMaxMessages(maxMessages),
		gateway.WithMaxMessageLength(maxMessageLen),
		gateway.WithModelTimeout(modelTimeout),
	}

	var model gateway.ModelClient
	switch provider {
	case "openai":
		client, err := openai.NewClient(params, paramPrefix)
		if err != nil {
			logger.Fatal("failed to create OpenAI client", zap.Error(err))
		}
		model = client
		if moderation {
			opts = append(opts, gateway.WithModerator(client))
		}
	case "gemini":
		client, err := gemini.NewClient(params, paramPrefix)
		if err != nil {
			logger.Fatal("failed to create Gemini client", zap.Error(err))
		}
		model = client
		if moderation {
			logger.Warn("moderation is only available with the openai provider")
		}
	default:
		logger.Fatal("unsupported MODEL_PROVIDER", zap.String("provider", provider))
	}

	// ---- Handler ----
	gw, err := gateway.New(model, store, opts...)
	if err != nil {
		logger.Fatal("failed to create gateway", zap.Error(err))
	}
	h, err := handler.NewHandler(gw, logger)
	if err != nil {
		logger.Fatal("failed to create handler", zap.Error(err))
	}

	logger.Info("starting sprout gateway",
		zap.String("provider", provider),
		zap.Bool("budget", features.EnableBudget),
		zap.Bool("calendar", features.EnableCalendar),
		zap.String("prompt_version", gateway.PromptVersion),
	)
	lambda.Start(h.Handle)
}

func mustEnv(logger *zap.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Fatal("required environment variable is not set", zap.String("key", key))
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
