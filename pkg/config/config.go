// Package config loads the engine configuration from defaults, an optional
// YAML file, and METIS_-prefixed environment variables, in that order.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log        LogConfig        `koanf:"log"`
	LLM        LLMConfig        `koanf:"llm"`
	Vector     VectorConfig     `koanf:"vector"`
	Agent      AgentConfig      `koanf:"agent"`
	Resilience ResilienceConfig `koanf:"resilience"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider    string  `koanf:"provider"` // mock, openai
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
	Dimension   int     `koanf:"dimension"`
}

type VectorConfig struct {
	Provider   string `koanf:"provider"` // qdrant, inmemory
	QdrantAddr string `koanf:"qdrant_addr"`
	Collection string `koanf:"collection"`
	TopK       int    `koanf:"top_k"`
}

type AgentConfig struct {
	ID                  string        `koanf:"id"`
	HistoryLimit        int           `koanf:"history_limit"`
	StateSizeLimit      int           `koanf:"state_size_limit"`
	SkillLimit          int           `koanf:"skill_limit"`
	SkillsDir           string        `koanf:"skills_dir"`
	SecurityLifetime    time.Duration `koanf:"security_lifetime"`
	MaintenanceInterval time.Duration `koanf:"maintenance_interval"`
	ReportInterval      time.Duration `koanf:"report_interval"`
}

type ResilienceConfig struct {
	MaxAttempts      int           `koanf:"max_attempts"`
	MinDelay         time.Duration `koanf:"min_delay"`
	MaxDelay         time.Duration `koanf:"max_delay"`
	FailureThreshold int           `koanf:"failure_threshold"`
	Cooldown         time.Duration `koanf:"cooldown"`
	MaxConcurrent    int           `koanf:"max_concurrent"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Load reads configuration from defaults, then path (when non-empty), then
// METIS_-prefixed environment variables (METIS_LOG_LEVEL maps to log.level).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("llm.provider", "mock")
	k.Set("llm.model", "")
	k.Set("llm.temperature", 0.7)
	k.Set("llm.max_tokens", 1000)
	k.Set("llm.dimension", 384)

	k.Set("vector.provider", "inmemory")
	k.Set("vector.qdrant_addr", "localhost:6334")
	k.Set("vector.collection", "metis")
	k.Set("vector.top_k", 5)

	k.Set("agent.id", "metis")
	k.Set("agent.history_limit", 100)
	k.Set("agent.state_size_limit", 4096)
	k.Set("agent.skill_limit", 3)
	k.Set("agent.skills_dir", "")
	k.Set("agent.security_lifetime", "300s")
	k.Set("agent.maintenance_interval", "1h")
	k.Set("agent.report_interval", "1m")

	k.Set("resilience.max_attempts", 3)
	k.Set("resilience.min_delay", "4s")
	k.Set("resilience.max_delay", "60s")
	k.Set("resilience.failure_threshold", 3)
	k.Set("resilience.cooldown", "60s")
	k.Set("resilience.max_concurrent", 10)

	k.Set("telemetry.exporter", "stdout")
	k.Set("telemetry.otlp_insecure", false)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("METIS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "METIS_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
