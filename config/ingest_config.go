package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string
	MongoDBURL  string
	MongoDBName string

	// OAuth - Microsoft
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenantID     string

	// Token cache
	TokenCachePath    string
	DeviceAuthTimeout time.Duration

	// Mailbox
	MailboxUser  string
	FolderID     string // explicit remote folder id, used verbatim when set
	FolderRef    string // slash path or display name, used when FolderID is empty
	MaxMessages  int
	CallTimeout  time.Duration
	MaxPageFetch int

	// Trust pipeline
	AllowedSenderDomains []string
	RedirectorHosts      []string
	RedirectorParam      string

	// Image assets
	ImageDir       string
	ImageURLPrefix string

	// Trigger surface
	AdminJWTSecret string
	AllowedOrigins []string

	// Scheduler
	SchedulerEnabled bool
	SyncInterval     time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "newsletter"),

		// OAuth - Microsoft
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),

		// Token cache
		TokenCachePath:    getEnv("TOKEN_CACHE_PATH", "token_cache.json"),
		DeviceAuthTimeout: getEnvDuration("DEVICE_AUTH_TIMEOUT_SEC", 900),

		// Mailbox
		MailboxUser:  getEnv("NEWSLETTER_USER", ""),
		FolderID:     getEnv("NEWSLETTER_FOLDER_ID", ""),
		FolderRef:    getEnv("NEWSLETTER_FOLDER", "Inbox"),
		MaxMessages:  getEnvInt("MAX_NEWSLETTERS", 10),
		CallTimeout:  getEnvDuration("GRAPH_CALL_TIMEOUT_SEC", 30),
		MaxPageFetch: getEnvInt("GRAPH_MAX_PAGE_FETCH", 100),

		// Trust pipeline
		AllowedSenderDomains: getEnvSlice("ALLOWED_SENDER_DOMAINS", nil),
		RedirectorHosts:      getEnvSlice("REDIRECTOR_HOSTS", []string{"safelinks.protection.outlook.com"}),
		RedirectorParam:      getEnv("REDIRECTOR_PARAM", "url"),

		// Image assets
		ImageDir:       getEnv("IMAGE_DIR", "uploads/newsletters"),
		ImageURLPrefix: getEnv("IMAGE_URL_PREFIX", "/static/newsletters"),

		// Trigger surface
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		// Scheduler
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
		SyncInterval:     getEnvDuration("SYNC_INTERVAL_SEC", 900),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.MicrosoftClientID == "" {
		missing = append(missing, "MICROSOFT_CLIENT_ID")
	}
	if c.MicrosoftTenantID == "" {
		missing = append(missing, "MICROSOFT_TENANT_ID")
	}
	if c.MailboxUser == "" {
		missing = append(missing, "NEWSLETTER_USER")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func getEnvDuration(key string, defaultSec int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSec)) * time.Second
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
