// Package config loads the environment-driven configuration for the
// debugger and checker services and validates the secrets that gate
// production startup.
package config

import (
	"os"
	"strconv"
	"time"
)

// Environment constants.
const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config holds every environment-variable key named in the external
// interfaces section of the specification, plus the catalog/result-store
// connection settings added by the domain stack.
type Config struct {
	IP   string
	Port string

	ReceivedDir    string
	DebugDir       string
	PrintersDir    string
	SecretKey      string
	DatabaseURL    string
	RedisURL       string

	PingInterval      time.Duration // RECEIVE_DEBUG_PING_TIME
	CleanInterval     time.Duration // CLEANING_UNUSED_DBG_PROCESSES_TIME
	SubmissionTTL     time.Duration // SUBMISSION_TTL

	DebuggerMemoryLimitMB int64
	DebuggerCPULimit      float64
	DebuggerTimeout       time.Duration
	CompilationTimeout    time.Duration

	MaxCompilationErrorLines int
	ExpectTimeout            time.Duration // EXPECT_VALUES_AFTER_GDB_COMMAND

	Environment string
}

// Load reads configuration from the environment, applying development
// defaults for anything left unset. Call config.MustValidateSecrets
// separately before binding any externally reachable listener in
// production.
func Load() *Config {
	return &Config{
		IP:          envOr("IP", "0.0.0.0"),
		Port:        envOr("PORT", "8080"),
		ReceivedDir: envOr("RECEIVED_DIR", "./data/received"),
		DebugDir:    envOr("DEBUG_DIR", "./data/debug"),
		PrintersDir: envOr("GDB_PRINTERS_DIR", "./data/printers"),
		SecretKey:   os.Getenv("SECRET_KEY"),
		DatabaseURL: envOr("DATABASE_URL", "file:catalog.db?cache=shared&_pragma=busy_timeout(5000)"),
		RedisURL:    os.Getenv("REDIS_URL"),

		PingInterval:  envDuration("RECEIVE_DEBUG_PING_TIME", 15*time.Second),
		CleanInterval: envDuration("CLEANING_UNUSED_DBG_PROCESSES_TIME", 30*time.Second),
		SubmissionTTL: envDuration("SUBMISSION_TTL", 10*time.Minute),

		DebuggerMemoryLimitMB: envInt64("DEBUGGER_MEMORY_LIMIT_MB", 256),
		DebuggerCPULimit:      envFloat("DEBUGGER_CPU_LIMIT", 0.5),
		DebuggerTimeout:       envDuration("DEBUGGER_TIMEOUT", 10*time.Second),
		CompilationTimeout:    envDuration("COMPILATION_TIMEOUT", 10*time.Second),

		MaxCompilationErrorLines: envInt("MAX_COMPILATION_ERROR_MESSAGE_LENGTH", 50),
		ExpectTimeout:            envDuration("EXPECT_VALUES_AFTER_GDB_COMMAND", 5*time.Second),

		Environment: GetEnvironment(),
	}
}

// PingDeadline is the total time a session may go unpinged before the
// janitor considers it abandoned: one ping interval of grace plus one
// full sweep interval.
func (c *Config) PingDeadline() time.Duration {
	return c.PingInterval + c.CleanInterval
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return n
}

// GetEnvironment returns the deployment environment, checked across the
// handful of env var names the corpus uses interchangeably.
func GetEnvironment() string {
	for _, key := range []string{"GO_ENV", "ENVIRONMENT", "ENV"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return EnvDevelopment
}

// IsProductionEnvironment reports whether the process believes itself to
// be running in production.
func IsProductionEnvironment() bool {
	env := GetEnvironment()
	return env == EnvProduction || env == "prod"
}
