// Package config loads the environment-variable driven configuration the
// CLI harness starts from, plus the YAML policy-bundle / agent-manifest
// profiles the CLI reads.
package config

import "os"

// Config holds the engine's process-level configuration. The core engine
// itself has no environment-variable surface: only the CLI
// harness reads these.
type Config struct {
	DBPath     string
	DBDSN      string
	LogLevel   string
	OTLPTarget string
	RedisAddr  string
	ApproverJWTSecret string
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string
}

// Load reads configuration from the environment. GOVERNANCE_DB_DSN selects
// the Postgres backend when set; otherwise GOVERNANCE_DB_PATH (defaulting
// to ./agentbouncr.db) selects the embedded SQLite backend.
func Load() *Config {
	dbPath := os.Getenv("GOVERNANCE_DB_PATH")
	if dbPath == "" {
		dbPath = "./agentbouncr.db"
	}

	logLevel := os.Getenv("GOVERNANCE_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		DBPath:     dbPath,
		DBDSN:      os.Getenv("GOVERNANCE_DB_DSN"),
		LogLevel:   logLevel,
		OTLPTarget: os.Getenv("GOVERNANCE_OTLP_ENDPOINT"),
		RedisAddr:  os.Getenv("GOVERNANCE_REDIS_ADDR"),
		ApproverJWTSecret: os.Getenv("GOVERNANCE_APPROVER_JWT_SECRET"),
		S3Bucket:   os.Getenv("GOVERNANCE_S3_BUCKET"),
		S3Region:   os.Getenv("GOVERNANCE_S3_REGION"),
		S3Endpoint: os.Getenv("GOVERNANCE_S3_ENDPOINT"),
		S3Prefix:   os.Getenv("GOVERNANCE_S3_PREFIX"),
	}
}

// UsesS3 reports whether an evidence-pack upload bucket is configured.
func (c *Config) UsesS3() bool {
	return c.S3Bucket != ""
}

// UsesApproverTokens reports whether signed approver tokens (pkg/identity)
// are configured in preference to bare approver-ID strings.
func (c *Config) UsesApproverTokens() bool {
	return c.ApproverJWTSecret != ""
}

// UsesPostgres reports whether a Postgres DSN was configured in preference
// to the default SQLite path.
func (c *Config) UsesPostgres() bool {
	return c.DBDSN != ""
}

// UsesRedis reports whether a distributed kill-switch backend was
// configured in preference to the default in-process Manager.
func (c *Config) UsesRedis() bool {
	return c.RedisAddr != ""
}
