package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/models"
)

type Config struct {
	Port        string
	Environment string // ENV: production, development, etc.

	PostgresURI string
	RedisURI    string
	MongoURI    string

	FrontendURL    string
	AllowedOrigins []string // CORS: from ALLOWED_ORIGINS or FRONTEND_URL
	SiteURL        string   // Public base URL used in notification links

	LogLevel  string
	LogFormat string // "json" or "text"; json by default in production
	SentryDSN string

	AbuseConfigFile string // Optional YAML file with threshold overrides
	FailOpen        bool   // Let sensitive requests through when the state store is down

	// SensitivePrefixes maps URL path prefixes to the endpoint they count against.
	SensitivePrefixes []SensitivePrefix
	UpstreamURL       string // Where allowed sensitive requests are proxied to

	// APIToken guards the evaluate/record endpoints other services call.
	// Those endpoints are off when it is empty.
	APIToken string

	RecaptchaSecret string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	ViolationLogRetention time.Duration
}

// SensitivePrefix is one gated path prefix.
type SensitivePrefix struct {
	Prefix   string
	Endpoint models.RateLimitedEndpoint
}

const defaultSensitivePrefixes = "/api/maps-proxy/,/api/places/"

func Load() *Config {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))

	allowedOrigins := parseList(getEnv("ALLOWED_ORIGINS", ""))
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{getEnv("FRONTEND_URL", "http://localhost:3000")}
	}

	logFormat := "text"
	if env == "production" {
		logFormat = "json"
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,

		PostgresURI: getEnv("POSTGRES_URI", "postgres://localhost:5432/abuseguard?sslmode=disable"),
		RedisURI:    getEnv("REDIS_URI", "redis://localhost:6379/0"),
		MongoURI:    getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/abuseguard")),

		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:3000"),
		AllowedOrigins: allowedOrigins,
		SiteURL:        strings.TrimRight(getEnv("SITE_URL", "http://localhost:8080"), "/"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", logFormat)),
		SentryDSN: getEnv("SENTRY_DSN", ""),

		AbuseConfigFile: getEnv("ABUSE_CONFIG_FILE", ""),
		FailOpen:        getEnvBool("ABUSE_FAIL_OPEN", false),

		SensitivePrefixes: ParseSensitivePrefixes(getEnv("ABUSE_SENSITIVE_PREFIXES", defaultSensitivePrefixes)),
		UpstreamURL:       getEnv("SENSITIVE_UPSTREAM_URL", ""),
		APIToken:          getEnv("ABUSE_API_TOKEN", ""),

		RecaptchaSecret: getEnv("RECAPTCHA_SECRET", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "abuse@localhost"),

		ViolationLogRetention: time.Duration(getEnvInt("VIOLATION_LOG_RETENTION_HOURS", 24*30)) * time.Hour,
	}
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SMTPEnabled reports whether appeal emails can be sent.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// ParseSensitivePrefixes reads "prefix[=ENDPOINT],..." entries. A prefix
// without an endpoint counts as coordinate access.
func ParseSensitivePrefixes(s string) []SensitivePrefix {
	var out []SensitivePrefix
	for _, entry := range parseList(s) {
		prefix, endpoint, ok := strings.Cut(entry, "=")
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			continue
		}
		ep := models.EndpointCoordinateAccess
		if ok && strings.TrimSpace(endpoint) != "" {
			ep = models.RateLimitedEndpoint(strings.ToUpper(strings.TrimSpace(endpoint)))
		}
		out = append(out, SensitivePrefix{Prefix: prefix, Endpoint: ep})
	}
	return out
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}
