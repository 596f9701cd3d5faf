// Package config provides configuration loading for the harness.
//
// Configuration is layered: hardcoded defaults, then the project's
// .harness/config.yaml, then HARNESS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete harness configuration.
type Config struct {
	Loop        LoopConfig        `koanf:"loop"`
	Budget      BudgetConfig      `koanf:"budget"`
	Validation  ValidationConfig  `koanf:"validation"`
	App         AppConfig         `koanf:"app"`
	Implementer ImplementerConfig `koanf:"implementer"`
	VCS         VCSConfig         `koanf:"vcs"`
	Events      EventsConfig      `koanf:"events"`
	Server      ServerConfig      `koanf:"server"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// LoopConfig controls the session loop and scheduling.
type LoopConfig struct {
	MaxRetries           int           `koanf:"max_retries"`
	RegressionTestCount  int           `koanf:"regression_test_count"`
	AutoCommit           bool          `koanf:"auto_commit"`
	PauseBetweenSessions time.Duration `koanf:"pause_between_sessions"`
	MaxSessions          int           `koanf:"max_sessions"`
	MaxRunSessions       int           `koanf:"max_run_sessions"`
	MaxConsecutiveFaults int           `koanf:"max_consecutive_faults"`
	AutosaveInterval     time.Duration `koanf:"autosave_interval"`
}

// BudgetConfig controls the per-session token budget.
type BudgetConfig struct {
	MaxTokens        int           `koanf:"max_tokens"`
	WarningThreshold float64       `koanf:"warning_threshold"`
	DecisionMaxAge   time.Duration `koanf:"decision_max_age"`
}

// ValidationConfig controls check execution.
type ValidationConfig struct {
	StepTimeout     time.Duration `koanf:"step_timeout"`
	FallbackCommand string        `koanf:"fallback_command"`
	TestCommand     string        `koanf:"test_command"`
	E2ECommand      string        `koanf:"e2e_command"`
}

// AppConfig controls the best-effort service starter.
type AppConfig struct {
	StartCommand string        `koanf:"start_command"`
	HealthURL    string        `koanf:"health_url"`
	StartTimeout time.Duration `koanf:"start_timeout"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// ImplementerConfig configures the external implementation delegate.
type ImplementerConfig struct {
	Command string        `koanf:"command"`
	Timeout time.Duration `koanf:"timeout"`
}

// VCSConfig configures the commit author.
type VCSConfig struct {
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
}

// EventsConfig configures lifecycle event publishing.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	Token         Secret `koanf:"token"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ServerConfig holds HTTP status server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Loop: LoopConfig{
			MaxRetries:           3,
			RegressionTestCount:  3,
			AutoCommit:           true,
			PauseBetweenSessions: 5 * time.Second,
			MaxSessions:          50,
			MaxRunSessions:       200,
			MaxConsecutiveFaults: 3,
			AutosaveInterval:     30 * time.Second,
		},
		Budget: BudgetConfig{
			MaxTokens:        100_000,
			WarningThreshold: 0.8,
			DecisionMaxAge:   30 * time.Minute,
		},
		Validation: ValidationConfig{
			StepTimeout: 2 * time.Minute,
		},
		App: AppConfig{
			StartCommand: "./init.sh",
			StartTimeout: 60 * time.Second,
			PollInterval: time.Second,
		},
		Implementer: ImplementerConfig{
			Timeout: 30 * time.Minute,
		},
		VCS: VCSConfig{
			AuthorName:  "harness",
			AuthorEmail: "harness@localhost",
		},
		Events: EventsConfig{
			SubjectPrefix: "harness",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            7420,
			ShutdownTimeout: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "harness",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Loop.MaxRetries < 1 {
		return fmt.Errorf("loop.max_retries must be >= 1, got %d", c.Loop.MaxRetries)
	}
	if c.Loop.RegressionTestCount < 0 {
		return fmt.Errorf("loop.regression_test_count must be >= 0, got %d", c.Loop.RegressionTestCount)
	}
	if c.Loop.MaxSessions < 1 {
		return fmt.Errorf("loop.max_sessions must be >= 1, got %d", c.Loop.MaxSessions)
	}
	if c.Loop.MaxRunSessions < 1 {
		return fmt.Errorf("loop.max_run_sessions must be >= 1, got %d", c.Loop.MaxRunSessions)
	}
	if c.Loop.PauseBetweenSessions < 0 {
		return errors.New("loop.pause_between_sessions cannot be negative")
	}
	if c.Budget.MaxTokens <= 0 {
		return fmt.Errorf("budget.max_tokens must be positive, got %d", c.Budget.MaxTokens)
	}
	if c.Budget.WarningThreshold <= 0 || c.Budget.WarningThreshold > 1 {
		return fmt.Errorf("budget.warning_threshold must be in (0, 1], got %v", c.Budget.WarningThreshold)
	}
	if c.Validation.StepTimeout <= 0 {
		return errors.New("validation.step_timeout must be positive")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("telemetry.service_name required when telemetry is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	return nil
}
