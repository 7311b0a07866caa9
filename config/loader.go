// =============================================================================
// Hub configuration loader
// =============================================================================
// Unified config loading: YAML file + environment variable override.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("hub.yaml").
//	    WithEnvPrefix("HUB").
//	    Load()
//
// Priority: defaults -> YAML file -> environment variables.
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Core configuration structure
// =============================================================================

// Config is the hub's complete configuration.
type Config struct {
	// Hub holds daemon-level timing and path settings.
	Hub HubConfig `yaml:"hub" env:"HUB"`

	// KV holds the key-value store adapter's connection settings.
	KV KVConfig `yaml:"kv" env:"KV"`

	// Supervisor holds process-supervisor settings.
	Supervisor SupervisorConfig `yaml:"supervisor" env:"SUPERVISOR"`

	// Assignment holds assignment-manager settings.
	Assignment AssignmentConfig `yaml:"assignment" env:"ASSIGNMENT"`

	// Audit holds the durable transition-history store's settings.
	Audit AuditConfig `yaml:"audit" env:"AUDIT"`

	// Status holds the status/control HTTP+WS server's settings.
	Status StatusConfig `yaml:"status" env:"STATUS"`

	// Log holds structured logging settings.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry holds tracing/metrics settings.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// HubConfig controls the orchestrator's own timing and file-system layout.
type HubConfig struct {
	// WorkDir is the directory under which hub.pid, hub.log, and
	// agents/<id>.log are written.
	WorkDir string `yaml:"work_dir" env:"WORK_DIR"`
	// ManifestPath is the markdown+YAML manifest file read at boot.
	ManifestPath string `yaml:"manifest_path" env:"MANIFEST_PATH"`
	// HeartbeatIntervalMS is the interval at which agents emit heartbeats.
	HeartbeatIntervalMS int64 `yaml:"heartbeat_interval_ms" env:"HEARTBEAT_INTERVAL_MS"`
	// HeartbeatTimeoutMS is the threshold past which a silent agent is
	// considered crashed.
	HeartbeatTimeoutMS int64 `yaml:"heartbeat_timeout_ms" env:"HEARTBEAT_TIMEOUT_MS"`
	// DisplaySyncInterval is the cadence of the synchronizer's periodic
	// display-sync duty.
	DisplaySyncInterval time.Duration `yaml:"display_sync_interval" env:"DISPLAY_SYNC_INTERVAL"`
	// RequestTimeout is the default bus request/response deadline.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// ShutdownTimeout bounds the orchestrator's own drain sequence.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// SchedulerTickInterval is the cadence of the control loop's
	// probe-select-assign cycle.
	SchedulerTickInterval time.Duration `yaml:"scheduler_tick_interval" env:"SCHEDULER_TICK_INTERVAL"`
	// HotStateTTLMultiplier sets the hot-state KV TTL as a multiple of the
	// heartbeat interval.
	HotStateTTLMultiplier int `yaml:"hot_state_ttl_multiplier" env:"HOT_STATE_TTL_MULTIPLIER"`
}

// KVConfig configures the KV store adapter's connection and reconnect policy.
type KVConfig struct {
	// URL is the store connection string.
	URL string `yaml:"url" env:"URL"`
	// PoolSize is the connection pool size.
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// MinIdleConns is the minimum idle connection count.
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// MaxReconnectAttempts bounds exponential-backoff reconnection.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" env:"MAX_RECONNECT_ATTEMPTS"`
	// InitialBackoff is the first reconnect delay.
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	// BackoffFactor multiplies the delay after each failed attempt.
	BackoffFactor float64 `yaml:"backoff_factor" env:"BACKOFF_FACTOR"`
	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
}

// SupervisorConfig configures the process supervisor.
type SupervisorConfig struct {
	// MaxConcurrentAgents is the hard cap on live agent processes.
	MaxConcurrentAgents int `yaml:"max_concurrent_agents" env:"MAX_CONCURRENT_AGENTS"`
	// RestartBudget is the number of auto-restarts allowed per agent id
	// before a clean exit resets the counter.
	RestartBudget int `yaml:"restart_budget" env:"RESTART_BUDGET"`
	// RestartDelay is the pause before respawning a crashed agent.
	RestartDelay time.Duration `yaml:"restart_delay" env:"RESTART_DELAY"`
	// ShutdownTimeout bounds graceful termination before a force-kill.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// AssignmentConfig configures the assignment manager.
type AssignmentConfig struct {
	// Strategy selects "first_available" or "load_balanced".
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// MaxAssignmentsPerWorker caps concurrency for worker-type agents.
	MaxAssignmentsPerWorker int `yaml:"max_assignments_per_worker" env:"MAX_ASSIGNMENTS_PER_WORKER"`
	// MaxAssignmentsPerQCOrRev caps concurrency for qc/review-type agents.
	MaxAssignmentsPerQCOrRev int `yaml:"max_assignments_per_qc_or_review" env:"MAX_ASSIGNMENTS_PER_QC_OR_REVIEW"`
}

// AuditConfig configures the durable transition-history store.
type AuditConfig struct {
	// Driver selects postgres, mysql, or sqlite.
	Driver string `yaml:"driver" env:"DRIVER"`
	// Host, Port, User, Password, Name, SSLMode compose the DSN for
	// server-backed drivers; Name alone is the file path for sqlite.
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// StatusConfig configures the read-only status/control HTTP+WS surface
// consumed by the out-of-scope CLI/dashboard.
type StatusConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// JWTSecret signs/verifies bearer tokens on the status API. Empty
	// disables auth (local/dev use only).
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	// TLSCertFile/TLSKeyFile, when both set, switch the listener to
	// tlsutil's hardened TLS config instead of plaintext.
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig controls OpenTelemetry tracing/metrics export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// Loader
// =============================================================================

// Loader loads a Config using the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "HUB",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a config validator.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the configuration.
// Priority: defaults -> YAML file -> environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// MustLoad loads a configuration, panicking on failure. Intended for cmd/hub.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the loaded configuration for obviously invalid values.
func (c *Config) Validate() error {
	var errs []string

	if c.Supervisor.MaxConcurrentAgents <= 0 {
		errs = append(errs, "supervisor.max_concurrent_agents must be positive")
	}
	if c.Supervisor.RestartBudget < 0 {
		errs = append(errs, "supervisor.restart_budget must not be negative")
	}
	if c.Hub.HeartbeatTimeoutMS <= c.Hub.HeartbeatIntervalMS {
		errs = append(errs, "hub.heartbeat_timeout_ms must exceed hub.heartbeat_interval_ms")
	}
	if c.Assignment.Strategy != "first_available" && c.Assignment.Strategy != "load_balanced" {
		errs = append(errs, "assignment.strategy must be first_available or load_balanced")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the audit database connection string for the configured driver.
func (a *AuditConfig) DSN() string {
	switch a.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			a.Host, a.Port, a.User, a.Password, a.Name, a.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			a.User, a.Password, a.Host, a.Port, a.Name,
		)
	case "sqlite":
		return a.Name
	default:
		return ""
	}
}
