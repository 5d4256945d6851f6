// Package config provides stdlib-only, environment-variable configuration
// for the tuning knobs that sit below the CLI's flag/env/file layer:
// connection-pool sizing, queue prefetch depth, and scheduler tick
// cadence. Connection strings and credentials are operator-facing and stay
// on the cli package's cobra/viper flags; this package only answers the
// knobs an operator would reasonably override with an environment
// variable rather than a new flag.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvConfig reads prefixed environment variables with typed accessors and
// fallback defaults.
type EnvConfig struct {
	Prefix string
}

// NewEnvConfig builds an EnvConfig that looks up PREFIX_KEY.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{Prefix: prefix}
}

func (e *EnvConfig) buildKey(key string) string {
	if e.Prefix == "" {
		return key
	}
	return e.Prefix + "_" + key
}

// GetString returns the named variable or def if unset.
func (e *EnvConfig) GetString(key, def string) string {
	if v := os.Getenv(e.buildKey(key)); v != "" {
		return v
	}
	return def
}

// GetInt returns the named variable parsed as an int, or def if unset or unparsable.
func (e *EnvConfig) GetInt(key string, def int) int {
	v := os.Getenv(e.buildKey(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetDuration returns the named variable parsed as a time.Duration, or def if unset or unparsable.
func (e *EnvConfig) GetDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(e.buildKey(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// DatabaseConfig tunes the canonical-entity store's connection pool
// (db.NewCatalogStore); the DSN itself is the CLI's --catalog-dsn flag.
type DatabaseConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LoadDatabaseConfig reads PIPELINECORE_DB_* overrides over sensible pool defaults.
func LoadDatabaseConfig() DatabaseConfig {
	env := NewEnvConfig("PIPELINECORE_DB")
	return DatabaseConfig{
		MaxOpenConns:    env.GetInt("MAX_OPEN_CONNS", 100),
		MaxIdleConns:    env.GetInt("MAX_IDLE_CONNS", 10),
		ConnMaxLifetime: env.GetDuration("CONN_MAX_LIFETIME", time.Hour),
	}
}

// QueueConfig tunes the AMQP bus's per-consumer prefetch depth; the
// connection URL itself is the CLI's --amqp-url flag.
type QueueConfig struct {
	PrefetchCount int
}

// LoadQueueConfig reads PIPELINECORE_QUEUE_* overrides over a conservative prefetch default.
func LoadQueueConfig() QueueConfig {
	env := NewEnvConfig("PIPELINECORE_QUEUE")
	return QueueConfig{PrefetchCount: env.GetInt("PREFETCH_COUNT", 10)}
}

// SchedulerConfig tunes the fire-time tick loop's cadence.
type SchedulerConfig struct {
	TickInterval time.Duration
}

// LoadSchedulerConfig reads a PIPELINECORE_SCHEDULER_TICK_INTERVAL
// override (a Go duration string, e.g. "5s") over the scheduler package's
// default.
func LoadSchedulerConfig() SchedulerConfig {
	env := NewEnvConfig("PIPELINECORE_SCHEDULER")
	return SchedulerConfig{TickInterval: env.GetDuration("TICK_INTERVAL", 5*time.Second)}
}

// Validator accumulates configuration problems so a caller can report every
// one of them at once instead of failing on the first.
type Validator struct {
	errs []string
}

// NewValidator returns an empty Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// RequireString records an error if value is empty.
func (v *Validator) RequireString(name, value string) {
	if value == "" {
		v.errs = append(v.errs, fmt.Sprintf("%s is required", name))
	}
}

// RequirePositiveInt records an error if value is not greater than zero.
func (v *Validator) RequirePositiveInt(name string, value int) {
	if value <= 0 {
		v.errs = append(v.errs, fmt.Sprintf("%s must be a positive integer", name))
	}
}

// IsValid reports whether no errors have been recorded.
func (v *Validator) IsValid() bool {
	return len(v.errs) == 0
}

// Errors returns every recorded error message.
func (v *Validator) Errors() []string {
	return v.errs
}

// ErrorString joins every recorded error into one message, or "" if none.
func (v *Validator) ErrorString() string {
	if v.IsValid() {
		return ""
	}
	msg := "configuration errors:"
	for _, e := range v.errs {
		msg += " " + e + ";"
	}
	return msg
}
