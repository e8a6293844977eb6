package am

import "github.com/teranos/qaflow/errors"

var reportFormats = map[string]bool{"summary": true, "detailed": true, "executive": true}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path cannot be empty for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn cannot be empty for the postgres driver")
		}
	default:
		return errors.Newf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Jobs.TTLHours <= 0 {
		return errors.Newf("jobs.ttl_hours must be > 0, got %d", c.Jobs.TTLHours)
	}
	if c.Jobs.SweepIntervalSeconds < 0 {
		return errors.Newf("jobs.sweep_interval_seconds must be >= 0, got %d", c.Jobs.SweepIntervalSeconds)
	}

	// Pulse workers: 0 = no background workers, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.PollIntervalMS <= 0 {
		return errors.Newf("pulse.poll_interval_ms must be > 0, got %d", c.Pulse.PollIntervalMS)
	}

	if c.Pipeline.StageRetries < 0 {
		return errors.Newf("pipeline.stage_retries must be >= 0, got %d", c.Pipeline.StageRetries)
	}
	if c.Pipeline.RetryDelayMS < 0 {
		return errors.Newf("pipeline.retry_delay_ms must be >= 0, got %d", c.Pipeline.RetryDelayMS)
	}
	if !reportFormats[c.Pipeline.ReportFormat] {
		return errors.Newf("pipeline.report_format must be summary, detailed or executive, got %q", c.Pipeline.ReportFormat)
	}

	switch c.Reasoning.Provider {
	case "auto", "openrouter", "local":
	default:
		return errors.Newf("reasoning.provider must be auto, openrouter or local, got %q", c.Reasoning.Provider)
	}
	if c.Reasoning.TimeoutSeconds <= 0 {
		return errors.Newf("reasoning.timeout_seconds must be > 0, got %d", c.Reasoning.TimeoutSeconds)
	}
	if c.Reasoning.RequestsPerMinute < 0 {
		return errors.Newf("reasoning.requests_per_minute must be >= 0, got %f", c.Reasoning.RequestsPerMinute)
	}

	// Validate local inference configuration only when enabled
	if c.LocalInference.Enabled {
		if c.LocalInference.BaseURL == "" {
			return errors.New("local_inference.base_url cannot be empty when enabled")
		}
		if c.LocalInference.Model == "" {
			return errors.New("local_inference.model cannot be empty when enabled")
		}
		if c.LocalInference.TimeoutSeconds <= 0 {
			return errors.Newf("local_inference.timeout_seconds must be > 0, got %d", c.LocalInference.TimeoutSeconds)
		}
	}

	switch c.Dispatch.Backend {
	case BackendPulse:
	case BackendNATS:
		if c.Dispatch.NATS.URL == "" || c.Dispatch.NATS.Subject == "" {
			return errors.New("dispatch.nats.url and dispatch.nats.subject are required for the nats backend")
		}
	default:
		return errors.Newf("dispatch.backend must be pulse or nats, got %q", c.Dispatch.Backend)
	}

	return nil
}
