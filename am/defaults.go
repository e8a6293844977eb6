package am

import (
	"github.com/spf13/viper"
)

// DefaultDirPermissions is used for ~/.qaflow
const DefaultDirPermissions = 0750

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "qaflow.db")
	v.SetDefault("database.dsn", "")

	// Server
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.shutdown_timeout_seconds", 10)

	// Jobs
	v.SetDefault("jobs.ttl_hours", 24)
	v.SetDefault("jobs.sweep_interval_seconds", 300)

	// Pulse
	v.SetDefault("pulse.workers", 2)
	v.SetDefault("pulse.poll_interval_ms", 1000)

	// Pipeline
	v.SetDefault("pipeline.stage_retries", 2)
	v.SetDefault("pipeline.retry_delay_ms", 500)
	v.SetDefault("pipeline.report_format", "summary")
	v.SetDefault("pipeline.routes_file", "")
	v.SetDefault("pipeline.watch_routes", false)

	// Reasoning
	v.SetDefault("reasoning.provider", "auto")
	v.SetDefault("reasoning.timeout_seconds", 60)
	v.SetDefault("reasoning.requests_per_minute", 60)
	v.SetDefault("reasoning.burst", 4)

	// OpenRouter
	v.SetDefault("openrouter.api_key", "")
	v.SetDefault("openrouter.model", "openai/gpt-4o-mini")
	v.SetDefault("openrouter.temperature", 0.2)
	v.SetDefault("openrouter.max_tokens", 1000)
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")

	// Local inference (Ollama)
	v.SetDefault("local_inference.enabled", false)
	v.SetDefault("local_inference.base_url", "http://localhost:11434")
	v.SetDefault("local_inference.model", "llama3.2:3b")
	v.SetDefault("local_inference.timeout_seconds", 120)
	v.SetDefault("local_inference.context_size", 0)

	// Dispatch
	v.SetDefault("dispatch.backend", BackendPulse)
	v.SetDefault("dispatch.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("dispatch.nats.subject", "qaflow.pipeline")
	v.SetDefault("dispatch.nats.queue", "qaflow-workers")
}

// BindSensitiveEnvVars binds secrets and connection strings to their
// conventional unprefixed environment variables as well as QAFLOW_*.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("openrouter.api_key", "QAFLOW_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("database.dsn", "QAFLOW_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("dispatch.nats.url", "QAFLOW_DISPATCH_NATS_URL", "NATS_URL")
}
