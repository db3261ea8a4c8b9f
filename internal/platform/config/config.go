// Package config loads process configuration: defaults, then an optional YAML
// file, then environment overrides. Values are handed to constructors; nothing
// here is read at package level by other packages.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	GeminiAPIKey string `yaml:"-"`

	Models   Models   `yaml:"models"`
	Pipeline Pipeline `yaml:"pipeline"`
	Arbiter  Arbiter  `yaml:"arbiter"`
	Server   Server   `yaml:"server"`
	Audit    Audit    `yaml:"audit"`
	Metrics  Metrics  `yaml:"metrics"`
	Log      Log      `yaml:"log"`
}

// Model selects one collaborator's model and sampling.
type Model struct {
	Name        string  `yaml:"name"`
	Temperature float32 `yaml:"temperature"`
}

// Models holds one entry per collaborator role.
type Models struct {
	Analysis  Model `yaml:"analysis"`
	Reviewer  Model `yaml:"reviewer"`
	Reporter  Model `yaml:"reporter"`
	Ingestion Model `yaml:"ingestion"`
}

type Pipeline struct {
	Language           string `yaml:"language"`
	StageTimeout       string `yaml:"stage_timeout"`
	ConcurrentAnalyses bool   `yaml:"concurrent_analyses"`
	IngestConcurrency  int    `yaml:"ingest_concurrency"`
}

type Arbiter struct {
	ConflictThreshold int `yaml:"conflict_threshold"`
}

type Server struct {
	Addr           string `yaml:"addr"`
	RequestTimeout string `yaml:"request_timeout"`
}

// Audit configures the optional trace export sinks. Empty values disable a sink.
type Audit struct {
	PostgresDSN  string `yaml:"postgres_dsn"`
	KafkaBrokers string `yaml:"kafka_brokers"`
	KafkaTopic   string `yaml:"kafka_topic"`
}

// Metrics configures Pushgateway delivery for one-shot CLI runs.
type Metrics struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file or env override is given.
func Default() *Config {
	return &Config{
		Models: Models{
			Analysis:  Model{Name: "gemini-2.5-flash", Temperature: 0.5},
			Reviewer:  Model{Name: "gemini-2.5-flash", Temperature: 0.5},
			Reporter:  Model{Name: "gemini-2.5-flash-preview-09-2025", Temperature: 0.7},
			Ingestion: Model{Name: "gemini-2.5-flash", Temperature: 0.1},
		},
		Pipeline: Pipeline{
			Language:          "Chinese",
			StageTimeout:      "2m",
			IngestConcurrency: 4,
		},
		Arbiter: Arbiter{ConflictThreshold: 3},
		Server:  Server{Addr: ":8080", RequestTimeout: "15m"},
		Audit:   Audit{KafkaTopic: "cna.trace-records"},
		Metrics: Metrics{Job: "cna"},
		Log:     Log{Level: "info", Format: "json"},
	}
}

// Load reads path when it is non-empty, then applies environment overrides.
// A missing file is an error only when path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("GEMINI_API_KEY", &c.GeminiAPIKey)
	str("CNA_LANGUAGE", &c.Pipeline.Language)
	str("CNA_STAGE_TIMEOUT", &c.Pipeline.StageTimeout)
	str("CNA_ADDR", &c.Server.Addr)
	str("CNA_AUDIT_POSTGRES_DSN", &c.Audit.PostgresDSN)
	str("CNA_AUDIT_KAFKA_BROKERS", &c.Audit.KafkaBrokers)
	str("CNA_AUDIT_KAFKA_TOPIC", &c.Audit.KafkaTopic)
	str("CNA_PUSHGATEWAY_URL", &c.Metrics.PushgatewayURL)
	str("CNA_LOG_LEVEL", &c.Log.Level)
	str("CNA_LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("CNA_CONCURRENT_ANALYSES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CNA_CONCURRENT_ANALYSES: %w", err)
		}
		c.Pipeline.ConcurrentAnalyses = b
	}
	if v, ok := lookup("CNA_CONFLICT_THRESHOLD"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CNA_CONFLICT_THRESHOLD: %w", err)
		}
		c.Arbiter.ConflictThreshold = n
	}
	return nil
}

// Validate rejects values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	if _, err := c.StageTimeout(); err != nil {
		return err
	}
	if _, err := c.RequestTimeout(); err != nil {
		return err
	}
	if c.Arbiter.ConflictThreshold < 1 {
		return fmt.Errorf("arbiter.conflict_threshold must be positive, got %d", c.Arbiter.ConflictThreshold)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

// StageTimeout is the per-stage deadline. Empty or "0" disables it.
func (c *Config) StageTimeout() (time.Duration, error) {
	return parseDuration("pipeline.stage_timeout", c.Pipeline.StageTimeout)
}

func (c *Config) RequestTimeout() (time.Duration, error) {
	return parseDuration("server.request_timeout", c.Server.RequestTimeout)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}
