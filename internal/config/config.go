package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yoon0701/ZeroGravity/internal/llm"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	// Providers are tried in order; see llm.MultiProviderClient
	Providers []llm.ProviderConfig `yaml:"providers"`

	MaxFailuresBeforeSwitch int `yaml:"max_failures_before_switch"`

	Database struct {
		Path string `yaml:"path"` // SQLite path or PostgreSQL URL
		Type string `yaml:"type"` // "sqlite", "postgres" or "none"
	} `yaml:"database"`

	Ham     HamConfig     `yaml:"ham"`
	Augment AugmentConfig `yaml:"augment"`
	Spam    SpamConfig    `yaml:"spam"`
}

// HamConfig tunes the extraction pipeline
type HamConfig struct {
	InputDir string `yaml:"input_dir"`
	Output   string `yaml:"output"`
	Target   int    `yaml:"target"`
	Seed     int64  `yaml:"seed"`
	Limit    int    `yaml:"limit"`
}

// AugmentConfig tunes synthetic ham generation
type AugmentConfig struct {
	HamCSV              string        `yaml:"ham_csv"`
	Output              string        `yaml:"output"`
	Target              int           `yaml:"target"`
	Seed                int64         `yaml:"seed"`
	CheckpointEvery     int           `yaml:"checkpoint_every"`
	Temperature         float32       `yaml:"temperature"`
	RateLimitDelay      time.Duration `yaml:"rate_limit_delay"`
	MaxRateLimitRetries int           `yaml:"max_rate_limit_retries"` // 0 means unbounded
}

// SpamConfig tunes spam synthesis
type SpamConfig struct {
	In              string        `yaml:"in"`
	Output          string        `yaml:"output"`
	Limit           int           `yaml:"limit"`
	NPer            int           `yaml:"nper"`
	Target          int           `yaml:"target"`
	Seed            int64         `yaml:"seed"`
	Model           string        `yaml:"model"`
	Retries         int           `yaml:"retries"`
	Fallback        bool          `yaml:"fallback"`
	CheckpointEvery int           `yaml:"checkpoint_every"`
	Temperature     float32       `yaml:"temperature"`
	TopP            float32       `yaml:"top_p"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return cfg
}

// newConfig presets the fields whose zero value is meaningful, so an
// explicit 0 in the file survives applyDefaults.
func newConfig() *Config {
	cfg := &Config{}
	cfg.Augment.MaxRateLimitRetries = 20
	return cfg
}

// LoadConfig loads configuration from YAML file. A missing file at the
// default location is not an error when allowMissing is set.
func LoadConfig(configPath string, allowMissing bool) (*Config, error) {
	config := newConfig()

	file, err := os.Open(configPath)
	switch {
	case err == nil:
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case allowMissing && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8002"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Path == "" && c.Database.Type == "sqlite" {
		c.Database.Path = "./data/ledger.db"
	}
	if c.MaxFailuresBeforeSwitch == 0 {
		c.MaxFailuresBeforeSwitch = 3
	}

	if c.Ham.InputDir == "" {
		c.Ham.InputDir = "./data/raw/ham"
	}
	if c.Ham.Output == "" {
		c.Ham.Output = "./data/processed/ham3000.csv"
	}
	if c.Ham.Target == 0 {
		c.Ham.Target = 3000
	}
	if c.Ham.Seed == 0 {
		c.Ham.Seed = 42
	}

	if c.Augment.HamCSV == "" {
		c.Augment.HamCSV = c.Ham.Output
	}
	if c.Augment.Output == "" {
		c.Augment.Output = "./data/processed/gpt_augmented_ham500.csv"
	}
	if c.Augment.Target == 0 {
		c.Augment.Target = 500
	}
	if c.Augment.Seed == 0 {
		c.Augment.Seed = 42
	}
	if c.Augment.CheckpointEvery == 0 {
		c.Augment.CheckpointEvery = 10
	}
	if c.Augment.Temperature == 0 {
		c.Augment.Temperature = 1.0
	}
	if c.Augment.RateLimitDelay == 0 {
		c.Augment.RateLimitDelay = 5 * time.Second
	}

	if c.Spam.In == "" {
		c.Spam.In = "./data/raw/spamInstruct"
	}
	if c.Spam.Output == "" {
		c.Spam.Output = "./data/processed/spam3000.csv"
	}
	if c.Spam.Limit == 0 {
		c.Spam.Limit = 10000
	}
	if c.Spam.NPer == 0 {
		c.Spam.NPer = 1
	}
	if c.Spam.Target == 0 {
		c.Spam.Target = 3000
	}
	if c.Spam.Seed == 0 {
		c.Spam.Seed = 42
	}
	if c.Spam.Retries == 0 {
		c.Spam.Retries = 3
	}
	if c.Spam.CheckpointEvery == 0 {
		c.Spam.CheckpointEvery = 10
	}
	if c.Spam.Temperature == 0 {
		c.Spam.Temperature = 0.8
	}
	if c.Spam.TopP == 0 {
		c.Spam.TopP = 0.9
	}
	if c.Spam.InitialBackoff == 0 {
		c.Spam.InitialBackoff = 1500 * time.Millisecond
	}

	// Expand environment variables in provider API keys
	for i := range c.Providers {
		c.Providers[i].APIKey = os.ExpandEnv(c.Providers[i].APIKey)
	}
}

// ResolveProviders returns the configured providers, or a single OpenAI
// provider built from OPENAI_API_KEY when none is configured. model, when
// set, replaces the model of every provider.
func (c *Config) ResolveProviders(model string) ([]llm.ProviderConfig, error) {
	providers := make([]llm.ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.APIKey == "" {
			continue
		}
		providers = append(providers, p)
	}

	if len(providers) == 0 {
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, errors.New("no provider configured and OPENAI_API_KEY is not set")
		}
		providers = append(providers, llm.ProviderConfig{
			Type:      llm.ProviderOpenAI,
			APIKey:    key,
			ModelName: os.Getenv("OPENAI_MODEL"),
		})
	}

	if model != "" {
		for i := range providers {
			providers[i].ModelName = model
		}
	}
	return providers, nil
}
