package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/hostauth"
	"github.com/MrEthical07/hostauth/internal/audit"
	"github.com/MrEthical07/hostauth/notify"
	"github.com/MrEthical07/hostauth/store/sqlstore"
)

type config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration

	DB sqlstore.Config

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Engine hostauth.Config

	CORSAllowedOrigins []string
	TrustProxy         bool

	SMTP     notify.SMTPConfig
	AuditLog audit.RotatingFileConfig
	// AuditToLog mirrors audit events into the process logger.
	AuditToLog bool
}

// loadConfig reads process settings from the environment. Call
// godotenv.Load first to pick values up from a .env file.
func loadConfig() (config, error) {
	cfg := config{
		ListenAddr:      env("HTTP_ADDR", "0.0.0.0:8080"),
		ShutdownTimeout: envDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		DB: sqlstore.Config{
			Driver:          env("DB_DRIVER", "sqlite"),
			DSN:             env("DB_DSN", "data/hostauth.db"),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 0),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 0),
			ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            envInt("REDIS_DB", 0),
		CORSAllowedOrigins: envCSV("CORS_ALLOWED_ORIGINS"),
		TrustProxy:         envBool("TRUST_PROXY", false),
		SMTP: notify.SMTPConfig{
			Host:        os.Getenv("SMTP_HOST"),
			Port:        envInt("SMTP_PORT", 587),
			Username:    os.Getenv("SMTP_USERNAME"),
			Password:    os.Getenv("SMTP_PASSWORD"),
			From:        os.Getenv("SMTP_FROM"),
			FromName:    os.Getenv("SMTP_FROM_NAME"),
			ImplicitTLS: envBool("SMTP_IMPLICIT_TLS", false),
			ProductName: env("PRODUCT_NAME", "Hosting"),
		},
		AuditLog: audit.RotatingFileConfig{
			Pattern:      os.Getenv("AUDIT_FILE_PATTERN"),
			LinkName:     os.Getenv("AUDIT_FILE_LINK"),
			MaxAge:       envDuration("AUDIT_FILE_MAX_AGE", 30*24*time.Hour),
			RotationTime: envDuration("AUDIT_FILE_ROTATION", 24*time.Hour),
		},
		AuditToLog: envBool("AUDIT_LOG", false),
	}

	ec := hostauth.DefaultConfig()
	ec.Registration.DefaultRole = env("DEFAULT_ROLE", ec.Registration.DefaultRole)
	ec.SecondFactor.Issuer = env("TOTP_ISSUER", ec.SecondFactor.Issuer)
	ec.SecondFactor.SealingKeys = os.Getenv("TOTP_SEALING_KEYS")
	ec.Session.TTL = envDuration("SESSION_TTL", ec.Session.TTL)
	ec.Session.SigningMethod = env("SESSION_SIGNING_METHOD", ec.Session.SigningMethod)
	ec.Session.Issuer = os.Getenv("SESSION_ISSUER")
	ec.Session.Audience = os.Getenv("SESSION_AUDIENCE")
	ec.Session.KeyID = os.Getenv("SESSION_KEY_ID")
	ec.Session.RedisPrefix = env("REDIS_PREFIX", ec.Session.RedisPrefix)
	ec.Session.RevocationCheck = envBool("SESSION_REVOCATION_CHECK", cfg.RedisAddr != "")
	ec.Workers.Size = envInt("HASH_WORKERS", 0)
	ec.IDs.SnowflakeNode = int64(envInt("SNOWFLAKE_NODE", 0))
	ec.Metrics.EnableLatencyHistograms = envBool("METRICS_HISTOGRAMS", false)
	ec.Notifications.Enabled = envBool("NOTIFICATIONS", true)
	ec.Audit.Enabled = cfg.AuditLog.Pattern != "" || cfg.AuditToLog

	var err error
	if ec.Session.PrivateKey, err = envBase64("SESSION_PRIVATE_KEY"); err != nil {
		return config{}, err
	}
	if ec.Session.PublicKey, err = envBase64("SESSION_PUBLIC_KEY"); err != nil {
		return config{}, err
	}
	if ec.Session.PrivateKey == nil {
		return config{}, errors.New("SESSION_PRIVATE_KEY is required")
	}
	if ec.SecondFactor.SealingKeys == "" {
		return config{}, errors.New("TOTP_SEALING_KEYS is required")
	}
	if err := ec.Validate(); err != nil {
		return config{}, fmt.Errorf("engine config: %w", err)
	}
	cfg.Engine = ec

	return cfg, nil
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func envDuration(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil || dur <= 0 {
		return d
	}
	return dur
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBase64(k string) ([]byte, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(v, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: not valid base64", k)
	}
	return b, nil
}
