package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"sprout-agent/internal/domain"
	"sprout-agent/internal/gateway"
	"sprout-agent/internal/integrations/gemini"
	"sprout-agent/internal/integrations/openai"
	"sprout-agent/internal/integrations/paramstore"
)

// localPrefix namespaces the static parameters the CLI feeds to the
// provider clients.
const localPrefix = "/sprout-local"

type Config struct {
	Provider string       `yaml:"provider"`
	Model    string       `yaml:"model"`
	UserID   string       `yaml:"user_id"`
	Debug    bool         `yaml:"debug"`
	Features Features     `yaml:"features"`
	Limits   Limits       `yaml:"limits"`
	Budgets  []SeedBudget `yaml:"budgets"`
}

type Features struct {
	Budget   bool `yaml:"budget"`
	Calendar bool `yaml:"calendar"`
}

type Limits struct {
	MaxMessages      int    `yaml:"max_messages"`
	MaxMessageLength int    `yaml:"max_message_length"`
	ModelTimeout     string `yaml:"model_timeout"`
}

// SeedBudget is loaded into the in-memory store when a session starts.
type SeedBudget struct {
	Name  string  `yaml:"name"`
	Limit float64 `yaml:"limit"`
	Spent float64 `yaml:"spent"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		UserID:   "local-user",
		Features: Features{Budget: true},
		Limits: Limits{
			MaxMessages:      20,
			MaxMessageLength: 2000,
			ModelTimeout:     "20s",
		},
	}
}

// LoadConfig reads path over the defaults. A missing file yields the defaults.
// SPROUT_PROVIDER, SPROUT_MODEL and SPROUT_USER_ID override the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("SPROUT_PROVIDER")); v != "" {
		c.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("SPROUT_MODEL")); v != "" {
		c.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("SPROUT_USER_ID")); v != "" {
		c.UserID = v
	}
	c.Provider = strings.ToLower(c.Provider)
}

func (c *Config) validate() error {
	if c.Provider != "openai" && c.Provider != "gemini" {
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("user_id must not be empty")
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model must not be empty")
	}
	return nil
}

func (c *Config) PromptOptions() gateway.PromptOptions {
	return gateway.PromptOptions{EnableBudget: c.Features.Budget, EnableCalendar: c.Features.Calendar}
}

// SeedBudgets converts the configured budgets for the current user.
func (c *Config) SeedBudgets() []domain.Budget {
	out := make([]domain.Budget, 0, len(c.Budgets))
	for _, b := range c.Budgets {
		out = append(out, domain.Budget{
			UserID:      c.UserID,
			Name:        strings.TrimSpace(b.Name),
			LimitAmount: b.Limit,
			TotalSpent:  b.Spent,
		})
	}
	return out
}

// Params exposes the API key from the environment and the configured model
// under the same parameter names the provider clients read from SSM.
func (c *Config) Params(getenv func(string) string) (paramstore.Static, error) {
	var tokenName, modelName, key string
	switch c.Provider {
	case "gemini":
		tokenName, modelName, key = gemini.TokenParameterName(localPrefix), gemini.ModelParameterName(localPrefix), getenv("GEMINI_API_KEY")
		if key == "" {
			key = getenv("GOOGLE_API_KEY")
		}
	default:
		tokenName, modelName, key = openai.TokenParameterName(localPrefix), openai.ModelParameterName(localPrefix), getenv("OPENAI_API_KEY")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("no API key set for provider %s", c.Provider)
	}
	token, err := json.Marshal(struct {
		Token string `json:"token"`
	}{Token: strings.TrimSpace(key)})
	if err != nil {
		return nil, err
	}
	return paramstore.Static{
		tokenName: string(token),
		modelName: c.Model,
	}, nil
}
