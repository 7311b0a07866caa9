// =============================================================================
// Hub default configuration
// =============================================================================
// Provides sane defaults for every configuration section so the hub can
// start with nothing but `hub start` against a local KV store and a local
// manifest file.
// =============================================================================
package config

import "time"

// DefaultConfig returns the hub's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Hub:        DefaultHubConfig(),
		KV:         DefaultKVConfig(),
		Supervisor: DefaultSupervisorConfig(),
		Assignment: DefaultAssignmentConfig(),
		Audit:      DefaultAuditConfig(),
		Status:     DefaultStatusConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultHubConfig returns default hub daemon settings.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WorkDir:               "./.hub",
		ManifestPath:          "./MANIFEST.md",
		HeartbeatIntervalMS:   30_000,
		HeartbeatTimeoutMS:    90_000,
		DisplaySyncInterval:   30 * time.Second,
		RequestTimeout:        5 * time.Second,
		ShutdownTimeout:       5 * time.Second,
		SchedulerTickInterval: 2 * time.Second,
		HotStateTTLMultiplier: 5,
	}
}

// DefaultKVConfig returns default KV store connection settings.
func DefaultKVConfig() KVConfig {
	return KVConfig{
		URL:                  "redis://localhost:6379/0",
		PoolSize:             10,
		MinIdleConns:         2,
		MaxReconnectAttempts: 10,
		InitialBackoff:       500 * time.Millisecond,
		BackoffFactor:        2.0,
		MaxBackoff:           5 * time.Second,
	}
}

// DefaultSupervisorConfig returns default process-supervisor settings.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxConcurrentAgents: 5,
		RestartBudget:       2,
		RestartDelay:        100 * time.Millisecond,
		ShutdownTimeout:     5 * time.Second,
	}
}

// DefaultAssignmentConfig returns default assignment-manager settings.
func DefaultAssignmentConfig() AssignmentConfig {
	return AssignmentConfig{
		Strategy:                 "first_available",
		MaxAssignmentsPerWorker:  1,
		MaxAssignmentsPerQCOrRev: 2,
	}
}

// DefaultAuditConfig returns default durable audit-store settings.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Driver:          "sqlite",
		Name:            "hub_audit.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultStatusConfig returns default status/control HTTP server settings.
func DefaultStatusConfig() StatusConfig {
	return StatusConfig{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		JWTIssuer:       "taskhub",
	}
}

// DefaultLogConfig returns default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns default tracing/metrics settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "taskhub",
		SampleRate:   0.1,
	}
}
