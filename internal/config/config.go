// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"repo-grader/internal/model"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel            string               `mapstructure:"LOG_LEVEL"`
	HTTPAddr            string               `mapstructure:"HTTP_ADDR"`
	GithubToken         string               `mapstructure:"GITHUB_TOKEN"`
	WorkspaceToken      string               `mapstructure:"WORKSPACE_TOKEN"`
	WorkspaceDatabaseID string               `mapstructure:"WORKSPACE_DATABASE_ID"`
	ProcessingMode      string               `mapstructure:"PROCESSING_MODE"`
	Mode                model.ProcessingMode `mapstructure:"-"`
	AgentURL            string               `mapstructure:"AGENT_URL"`
	AgentToken          string               `mapstructure:"AGENT_TOKEN"`
	AgentModel          string               `mapstructure:"AGENT_MODEL"`
	GradingPrompt       string               `mapstructure:"GRADING_PROMPT"`
	Concurrency         int                  `mapstructure:"CONCURRENCY"`
	ItemTimeout         time.Duration        `mapstructure:"ITEM_TIMEOUT"`
	ReposCSVPath        string               `mapstructure:"REPOS_CSV_PATH"`
	SkipURLColumn       bool                 `mapstructure:"SKIP_URL_COLUMN"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("PROCESSING_MODE", "code")
	viper.SetDefault("AGENT_MODEL", "claude-3-5-sonnet-latest")
	viper.SetDefault("GRADING_PROMPT", "Grade this repository for code quality, correctness and completeness.")
	viper.SetDefault("CONCURRENCY", 3)
	viper.SetDefault("ITEM_TIMEOUT", "10m")
	viper.SetDefault("SKIP_URL_COLUMN", false)

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	mode, err := model.ParseProcessingMode(cfg.ProcessingMode)
	if err != nil {
		return nil, fmt.Errorf("PROCESSING_MODE: %w", err)
	}
	cfg.Mode = mode

	// Validate required fields
	if cfg.GithubToken == "" {
		return nil, errors.New("GITHUB_TOKEN is a required configuration field")
	}
	if cfg.WorkspaceToken == "" {
		return nil, errors.New("WORKSPACE_TOKEN is a required configuration field")
	}
	if cfg.WorkspaceDatabaseID == "" {
		return nil, errors.New("WORKSPACE_DATABASE_ID is a required configuration field")
	}
	if cfg.AgentToken == "" {
		return nil, errors.New("AGENT_TOKEN is a required configuration field")
	}
	if cfg.Concurrency < 1 {
		return nil, errors.New("CONCURRENCY must be at least 1")
	}

	return &cfg, nil
}
