package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/ent0n29/presales/internal/logx"
)

// Config contains all runtime settings for the presales agent service.
type Config struct {
	BindAddr                 string        `envconfig:"APP_BIND_ADDR" default:":8080"`
	ShutdownTimeout          time.Duration `envconfig:"APP_SHUTDOWN_TIMEOUT" default:"15s"`
	SessionInactivityTimeout time.Duration `envconfig:"APP_SESSION_INACTIVITY_TIMEOUT" default:"30m"`
	SessionPendingLimit      int           `envconfig:"APP_SESSION_PENDING_LIMIT" default:"16"`
	MetricsNamespace         string        `envconfig:"APP_METRICS_NAMESPACE" default:"presales"`
	AllowAnyOrigin           bool          `envconfig:"APP_ALLOW_ANY_ORIGIN" default:"false"`

	// MemoryWindow bounds the number of turns a session keeps.
	MemoryWindow int `envconfig:"MEMORY_WINDOW" default:"200"`

	CompletionMode        string        `envconfig:"COMPLETION_MODE" default:"auto"`
	CompletionTimeout     time.Duration `envconfig:"COMPLETION_TIMEOUT" default:"30s"`
	CompletionHTTPURL     string        `envconfig:"COMPLETION_HTTP_URL"`
	OpenAIAPIKey          string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL         string        `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel           string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAITemperature     float64       `envconfig:"OPENAI_TEMPERATURE" default:"0.7"`
	OpenAIMaxTokens       int64         `envconfig:"OPENAI_MAX_TOKENS" default:"1024"`
	EstimateSource        string        `envconfig:"ESTIMATE_SOURCE" default:"auto"`
	EstimateCatalogPath   string        `envconfig:"ESTIMATE_CATALOG_PATH"`
	EstimateMatchMinScore float64       `envconfig:"ESTIMATE_MATCH_MIN_SCORE" default:"0.7"`

	DatabaseURL string `envconfig:"DATABASE_URL"`

	Log logx.Config `ignored:"true"`
}

// Load reads an optional .env file, then environment variables, and applies
// defaults. Variables already present in the environment win over the file.
func Load(envFile string) (Config, error) {
	envFile = strings.TrimSpace(envFile)
	if envFile != "" {
		if err := exportEnvironment(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	} else if err := exportEnvironmentIfExists(".env"); err != nil {
		return Config{}, fmt.Errorf("load default env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	if err := envconfig.Process("", &cfg.Log); err != nil {
		return Config{}, err
	}

	cfg.CompletionMode = strings.ToLower(strings.TrimSpace(cfg.CompletionMode))
	cfg.EstimateSource = strings.ToLower(strings.TrimSpace(cfg.EstimateSource))
	cfg.OpenAIAPIKey = strings.TrimSpace(cfg.OpenAIAPIKey)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.SessionPendingLimit <= 0 {
		return fmt.Errorf("APP_SESSION_PENDING_LIMIT must be positive")
	}
	if c.MemoryWindow < 0 {
		return fmt.Errorf("MEMORY_WINDOW must be >= 0")
	}
	if c.EstimateMatchMinScore <= 0 || c.EstimateMatchMinScore > 1 {
		return fmt.Errorf("ESTIMATE_MATCH_MIN_SCORE must be in (0, 1]")
	}
	switch c.CompletionMode {
	case "auto", "openai", "http", "mock":
	default:
		return fmt.Errorf("COMPLETION_MODE %q invalid (expected auto|openai|http|mock)", c.CompletionMode)
	}
	switch c.EstimateSource {
	case "auto", "defaults", "yaml", "postgres":
	default:
		return fmt.Errorf("ESTIMATE_SOURCE %q invalid (expected auto|defaults|yaml|postgres)", c.EstimateSource)
	}
	if c.EstimateSource == "yaml" && strings.TrimSpace(c.EstimateCatalogPath) == "" {
		return fmt.Errorf("ESTIMATE_SOURCE=yaml requires ESTIMATE_CATALOG_PATH")
	}
	if c.EstimateSource == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("ESTIMATE_SOURCE=postgres requires DATABASE_URL")
	}
	if c.CompletionMode == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("COMPLETION_MODE=openai requires OPENAI_API_KEY")
	}
	if c.CompletionMode == "http" && strings.TrimSpace(c.CompletionHTTPURL) == "" {
		return fmt.Errorf("COMPLETION_MODE=http requires COMPLETION_HTTP_URL")
	}
	return nil
}

func exportEnvironmentIfExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvironment(path)
}

func exportEnvironment(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for k, val := range v.AllSettings() {
		key := strings.ToUpper(k)
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return err
		}
	}
	return nil
}
