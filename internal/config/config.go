// Package config provides configuration loading for athena.
//
// Configuration is read from a YAML file and overridden by ATHENA_*
// environment variables. See Load for details.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/athena/internal/evaluator"
	"github.com/fyrsmithlabs/athena/internal/learning"
)

// Config holds the complete athena configuration.
type Config struct {
	Learning  LearningConfig  `koanf:"learning"`
	Evaluator EvaluatorConfig `koanf:"evaluator"`
	Store     StoreConfig     `koanf:"store"`
	Publish   PublishConfig   `koanf:"publish"`
	Schedule  ScheduleConfig  `koanf:"schedule"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// LearningConfig holds the pattern learning tunables.
type LearningConfig struct {
	MinGroupSize        int      `koanf:"min_group_size"`
	ValidationThreshold float64  `koanf:"validation_threshold"`
	MinAdjustment       float64  `koanf:"min_adjustment"`
	MaxAdjustment       float64  `koanf:"max_adjustment"`
	EvaluatorTimeout    Duration `koanf:"evaluator_timeout"`
	Concurrency         int      `koanf:"concurrency"`
	PriorStrength       float64  `koanf:"prior_strength"`
}

// EvaluatorConfig selects the model used for deliberative validation.
type EvaluatorConfig struct {
	Provider          string   `koanf:"provider"` // disabled, anthropic, openai
	Model             string   `koanf:"model"`
	APIKey            Secret   `koanf:"api_key"`
	BaseURL           string   `koanf:"base_url"`
	MaxTokens         int      `koanf:"max_tokens"`
	Timeout           Duration `koanf:"timeout"`
	MaxRetries        int      `koanf:"max_retries"`
	RequestsPerMinute int      `koanf:"requests_per_minute"`
}

// StoreConfig configures the SQLite task and pattern store.
type StoreConfig struct {
	Path string `koanf:"path"`
	// Window limits learning to records completed within this duration.
	// Zero means all history.
	Window Duration `koanf:"window"`
}

// PublishConfig configures NATS pattern update events.
type PublishConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// ScheduleConfig configures periodic learning runs.
type ScheduleConfig struct {
	Enabled bool   `koanf:"enabled"`
	Cron    string `koanf:"cron"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the user-facing logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // grpc or http/protobuf
	Insecure       bool     `koanf:"insecure"`
	TLSSkipVerify  bool     `koanf:"tls_skip_verify"` // internal CAs only
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	SamplingRate   float64  `koanf:"sampling_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	lc := learning.DefaultConfig()
	return &Config{
		Learning: LearningConfig{
			MinGroupSize:        lc.MinGroupSize,
			ValidationThreshold: lc.ValidationThreshold,
			MinAdjustment:       lc.MinAdjustment,
			MaxAdjustment:       lc.MaxAdjustment,
			EvaluatorTimeout:    Duration(lc.EvaluatorTimeout),
			Concurrency:         lc.Concurrency,
			PriorStrength:       lc.PriorStrength,
		},
		Evaluator: EvaluatorConfig{
			Provider:          evaluator.ProviderDisabled,
			MaxTokens:         512,
			Timeout:           Duration(60 * time.Second),
			MaxRetries:        3,
			RequestsPerMinute: 50,
		},
		Store: StoreConfig{
			Path: "athena.db",
		},
		Publish: PublishConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "athena.patterns.updated",
		},
		Schedule: ScheduleConfig{
			Cron: "@hourly",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			ServiceName:    "athena",
			ServiceVersion: "0.1.0",
			SamplingRate:   1.0,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.LearningSettings().Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Evaluator.Provider {
	case evaluator.ProviderDisabled:
	case evaluator.ProviderAnthropic:
		if !c.Evaluator.APIKey.IsSet() {
			errs = append(errs, errors.New("evaluator.api_key is required for the anthropic provider"))
		}
	case evaluator.ProviderOpenAI:
		if !c.Evaluator.APIKey.IsSet() && c.Evaluator.BaseURL == "" {
			errs = append(errs, errors.New("evaluator.api_key or evaluator.base_url is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("evaluator.provider must be disabled, anthropic or openai, got %q", c.Evaluator.Provider))
	}

	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}

	if c.Publish.Enabled {
		if _, err := url.Parse(c.Publish.URL); err != nil || c.Publish.URL == "" {
			errs = append(errs, fmt.Errorf("publish.url is invalid: %q", c.Publish.URL))
		}
		if c.Publish.Subject == "" || strings.ContainsAny(c.Publish.Subject, " \t*>") {
			errs = append(errs, fmt.Errorf("publish.subject must be a literal NATS subject, got %q", c.Publish.Subject))
		}
	}

	if c.Schedule.Enabled && c.Schedule.Cron == "" {
		errs = append(errs, errors.New("schedule.cron is required when scheduling is enabled"))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	if c.Logging.OTEL && !c.Telemetry.Enabled {
		errs = append(errs, errors.New("logging.otel requires telemetry.enabled"))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol))
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sampling_rate must be between 0 and 1, got %v", c.Telemetry.SamplingRate))
		}
	}

	return errors.Join(errs...)
}

// LearningSettings converts the learning section to learning.Config.
func (c *Config) LearningSettings() learning.Config {
	return learning.Config{
		MinGroupSize:        c.Learning.MinGroupSize,
		ValidationThreshold: c.Learning.ValidationThreshold,
		MinAdjustment:       c.Learning.MinAdjustment,
		MaxAdjustment:       c.Learning.MaxAdjustment,
		EvaluatorTimeout:    c.Learning.EvaluatorTimeout.Duration(),
		Concurrency:         c.Learning.Concurrency,
		PriorStrength:       c.Learning.PriorStrength,
	}
}

// EvaluatorSettings converts the evaluator section to evaluator.Config.
func (c *Config) EvaluatorSettings() evaluator.Config {
	return evaluator.Config{
		Provider:          c.Evaluator.Provider,
		Model:             c.Evaluator.Model,
		APIKey:            c.Evaluator.APIKey.Value(),
		BaseURL:           c.Evaluator.BaseURL,
		MaxTokens:         c.Evaluator.MaxTokens,
		Timeout:           c.Evaluator.Timeout.Duration(),
		MaxRetries:        c.Evaluator.MaxRetries,
		RequestsPerMinute: c.Evaluator.RequestsPerMinute,
	}
}
