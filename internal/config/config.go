// Package config loads process configuration from the environment,
// following the teacher's flat Config-struct-plus-Load-function shape
// (internal/shared/config/config.go).
package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every tunable named in spec.md §6.
type Config struct {
	Port string
	Env  string

	// WhatsApp Cloud API
	WAPhoneNumberID  string
	WAAccessToken    string
	WAAPIVersion     string
	WAVerifyToken    string
	WAMaxConcurrency int
	WACatalogID      string

	// Store
	StoreDriver string // "postgres" or "sqlite"
	DatabaseURL string // postgres DSN, or sqlite file path when StoreDriver=="sqlite"

	// Cache & Bus
	CacheURL       string // redis:// URL
	EnableWSPubsub bool

	// Object storage
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3BucketName      string
	PublicBaseURL     string

	// E-commerce backend collaborator
	EcommerceBaseURL string
	EcommerceAPIKey  string

	// Rate limiting
	SendTextPerMin  int
	SendMediaPerMin int
	BurstWindowSec  int // cluster-wide coarse admission window (spec.md §5)
	BurstLimit      int // requests allowed per BurstWindowSec across the cluster

	// Automation feature flags
	AutoReplyCatalogMatch bool
	AutoReplyMinScore     float64
	AutoReplyTestNumbers  string // comma-separated whitelist, empty = no whitelist
	LogVerbose            bool

	// Auth
	JWTSecret string
}

// Load reads .env (if present) then the process environment, following
// internal/shared/config/config.go's "warn, don't fail" convention.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	cfg := &Config{
		Port: getenv("PORT", "8080"),
		Env:  getenv("ENV", "development"),

		WAPhoneNumberID:  os.Getenv("WA_PHONE_NUMBER_ID"),
		WAAccessToken:    os.Getenv("WA_ACCESS_TOKEN"),
		WAAPIVersion:     getenv("WA_API_VERSION", "v19.0"),
		WAVerifyToken:    os.Getenv("WA_VERIFY_TOKEN"),
		WAMaxConcurrency: getenvInt("WA_MAX_CONCURRENCY", 4),
		WACatalogID:      os.Getenv("WA_CATALOG_ID"),

		StoreDriver: getenv("STORE_DRIVER", "postgres"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		CacheURL:       getenv("CACHE_URL", "redis://localhost:6379/0"),
		EnableWSPubsub: getenvBool("ENABLE_WS_PUBSUB", true),

		S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3Region:          os.Getenv("S3_REGION"),
		S3BucketName:      os.Getenv("S3_BUCKET_NAME"),
		PublicBaseURL:     getenv("PUBLIC_BASE_URL", "http://localhost:8080"),

		EcommerceBaseURL: os.Getenv("ECOMMERCE_BASE_URL"),
		EcommerceAPIKey:  os.Getenv("ECOMMERCE_API_KEY"),

		SendTextPerMin:  getenvInt("SEND_TEXT_PER_MIN", 30),
		SendMediaPerMin: getenvInt("SEND_MEDIA_PER_MIN", 5),
		BurstWindowSec:  getenvInt("BURST_WINDOW_SEC", 60),
		BurstLimit:      getenvInt("BURST_LIMIT", 600),

		AutoReplyCatalogMatch: getenvBool("AUTO_REPLY_CATALOG_MATCH", false),
		AutoReplyMinScore:     getenvFloat("AUTO_REPLY_MIN_SCORE", 0.6),
		AutoReplyTestNumbers:  os.Getenv("AUTO_REPLY_TEST_NUMBERS"),
		LogVerbose:            getenvBool("LOG_VERBOSE", false),

		JWTSecret: getenv("JWT_SECRET", "development-secret-key-change-in-production"),
	}

	if cfg.JWTSecret == "development-secret-key-change-in-production" {
		log.Println("WARNING: using default JWT secret, set JWT_SECRET in production")
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
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

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
