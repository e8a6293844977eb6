// Package am holds qaflow's configuration: the Config tree, its defaults,
// layered loading through viper and validation.
package am

import "time"

// Config represents the qaflow configuration
type Config struct {
	Database       DatabaseConfig       `mapstructure:"database" toml:"database"`
	Server         ServerConfig         `mapstructure:"server" toml:"server"`
	Jobs           JobsConfig           `mapstructure:"jobs" toml:"jobs"`
	Pulse          PulseConfig          `mapstructure:"pulse" toml:"pulse"`
	Pipeline       PipelineConfig       `mapstructure:"pipeline" toml:"pipeline"`
	Reasoning      ReasoningConfig      `mapstructure:"reasoning" toml:"reasoning"`
	OpenRouter     OpenRouterConfig     `mapstructure:"openrouter" toml:"openrouter"`
	LocalInference LocalInferenceConfig `mapstructure:"local_inference" toml:"local_inference"`
	Dispatch       DispatchConfig       `mapstructure:"dispatch" toml:"dispatch"`
}

// DatabaseConfig selects the job store backend
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" toml:"driver"` // sqlite or postgres
	Path   string `mapstructure:"path" toml:"path"`     // sqlite file path
	DSN    string `mapstructure:"dsn" toml:"dsn"`       // postgres connection string
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host                   string `mapstructure:"host" toml:"host"`
	Port                   int    `mapstructure:"port" toml:"port"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
}

// Server port constants
const (
	DefaultServerPort = 8787
)

// JobsConfig configures job record retention
type JobsConfig struct {
	TTLHours             int `mapstructure:"ttl_hours" toml:"ttl_hours"`                           // record lifetime after admission (default: 24)
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds" toml:"sweep_interval_seconds"` // 0 = no background sweeping
}

// TTL returns the job lifetime as a duration
func (c JobsConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// PulseConfig configures the in-process task queue and worker pool
type PulseConfig struct {
	Workers        int `mapstructure:"workers" toml:"workers"` // 0 = no background workers
	PollIntervalMS int `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"`
}

// PipelineConfig configures stage execution
type PipelineConfig struct {
	StageRetries int    `mapstructure:"stage_retries" toml:"stage_retries"`   // retries for Timeout/Unavailable (default: 2)
	RetryDelayMS int    `mapstructure:"retry_delay_ms" toml:"retry_delay_ms"` // pause between attempts
	ReportFormat string `mapstructure:"report_format" toml:"report_format"`   // summary, detailed or executive
	RoutesFile   string `mapstructure:"routes_file" toml:"routes_file"`       // empty = embedded route table
	WatchRoutes  bool   `mapstructure:"watch_routes" toml:"watch_routes"`
}

// ReasoningConfig configures calls to the reasoning service
type ReasoningConfig struct {
	Provider          string  `mapstructure:"provider" toml:"provider"` // auto, openrouter or local
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" toml:"requests_per_minute"` // 0 = unlimited
	Burst             int     `mapstructure:"burst" toml:"burst"`
}

// OpenRouterConfig configures the OpenRouter.ai provider
type OpenRouterConfig struct {
	APIKey      string  `mapstructure:"api_key" toml:"api_key"`
	Model       string  `mapstructure:"model" toml:"model"`
	Temperature float64 `mapstructure:"temperature" toml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" toml:"max_tokens"`
	BaseURL     string  `mapstructure:"base_url" toml:"base_url"`
}

// LocalInferenceConfig configures an Ollama or OpenAI-compatible local server
type LocalInferenceConfig struct {
	Enabled        bool   `mapstructure:"enabled" toml:"enabled"`
	BaseURL        string `mapstructure:"base_url" toml:"base_url"`
	Model          string `mapstructure:"model" toml:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	ContextSize    int    `mapstructure:"context_size" toml:"context_size"` // 0 = model default
}

// DispatchConfig selects the execution backend behind the dispatcher
type DispatchConfig struct {
	Backend string     `mapstructure:"backend" toml:"backend"` // pulse or nats
	NATS    NATSConfig `mapstructure:"nats" toml:"nats"`
}

// NATSConfig configures the NATS trigger
type NATSConfig struct {
	URL     string `mapstructure:"url" toml:"url"`
	Subject string `mapstructure:"subject" toml:"subject"`
	Queue   string `mapstructure:"queue" toml:"queue"`
}

// Backend names
const (
	BackendPulse = "pulse"
	BackendNATS  = "nats"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)
