package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration, sourced from the environment.
type Config struct {
	// Server
	HTTPAddr string
	Env      string // "dev" or "prod"

	// Logging
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage
	DatabaseDSN string

	// Grant assertions
	Issuer string

	// Challenge policy
	SMSAuthEnabled  bool
	GroupWhitelist  []string
	IntranetDomains []string
	IPWhitelist     []string

	// Challenge flow
	OTPStep              time.Duration
	ChallengeTokenTTL    time.Duration
	AutoLogoutAfter      time.Duration
	SMSDebugMode         bool
	HousekeepingInterval time.Duration

	// SMS gateway
	SMSURL         string
	SMSBotLogin    string
	SMSBotPassword string
	SMSTimeout     time.Duration
}

// LoadConfig reads the environment with sane defaults for local development.
func LoadConfig() Config {
	return Config{
		HTTPAddr: getEnvOrDefault("HTTP_ADDR", ":8080"),
		Env:      getEnvOrDefault("ENV", "dev"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),

		DatabaseDSN: getEnvOrDefault("DATABASE_DSN", "file:smsgate.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"),

		Issuer: getEnvOrDefault("ISSUER", "smsgate"),

		SMSAuthEnabled:  getEnvBoolOrDefault("SMS_AUTH_ENABLED", true),
		GroupWhitelist:  getEnvListOrDefault("GROUP_WHITELIST", nil),
		IntranetDomains: getEnvListOrDefault("INTRANET_DOMAINS", nil),
		IPWhitelist:     getEnvListOrDefault("IP_WHITELIST", nil),

		OTPStep:              getEnvDurationOrDefault("OTP_STEP", 60*time.Second),
		ChallengeTokenTTL:    getEnvDurationOrDefault("CHALLENGE_TOKEN_TTL", 24*time.Hour),
		AutoLogoutAfter:      getEnvDurationOrDefault("AUTO_LOGOUT_AFTER", 12*time.Hour),
		SMSDebugMode:         getEnvBoolOrDefault("SMS_DEBUG_MODE", false),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 15*time.Minute),

		SMSURL:         getEnvOrDefault("SMS_URL", ""),
		SMSBotLogin:    getEnvOrDefault("SMS_BOT_LOGIN", ""),
		SMSBotPassword: getEnvOrDefault("SMS_BOT_PASSWORD", ""),
		SMSTimeout:     getEnvDurationOrDefault("SMS_TIMEOUT", 10*time.Second),
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDurationOrDefault(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getEnvListOrDefault splits a comma-separated value, trimming whitespace and
// dropping empties.
func getEnvListOrDefault(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
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
