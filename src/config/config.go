package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port               string
	DatabasePath       string
	LogLevel           string
	MaxUploadSizeBytes int64

	// External statement-parsing service (CAS PDFs / holdings sheets).
	StatementParserURL     string
	StatementParserTimeout time.Duration

	// Fund-scheme directory used to resolve free-text fund names.
	SchemeDirectoryURL     string
	SchemeDirectoryTimeout time.Duration
	SchemeSearchCacheTTL   time.Duration

	// How long an ambiguous registration may sit awaiting scheme selection
	// before its pending id is discarded.
	PendingRegistrationTTL time.Duration

	FundListCacheTTL time.Duration
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	maxUploadSizeBytesStr := getEnv("MAX_UPLOAD_SIZE_BYTES", "10485760")
	maxUploadSizeBytes, err := strconv.ParseInt(maxUploadSizeBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_UPLOAD_SIZE_BYTES format '%s'. Using default 10MB. Error: %v", maxUploadSizeBytesStr, err)
		maxUploadSizeBytes = 10 * 1024 * 1024
	}

	Cfg = &AppConfig{
		Port:               getEnv("PORT", "8080"),
		DatabasePath:       getEnv("DATABASE_PATH", "./sipfolio.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		MaxUploadSizeBytes: maxUploadSizeBytes,

		StatementParserURL:     getEnv("STATEMENT_PARSER_URL", "http://localhost:8090"),
		StatementParserTimeout: getEnvAsDuration("STATEMENT_PARSER_TIMEOUT", 30*time.Second),

		SchemeDirectoryURL:     getEnv("SCHEME_DIRECTORY_URL", "https://api.mfapi.in"),
		SchemeDirectoryTimeout: getEnvAsDuration("SCHEME_DIRECTORY_TIMEOUT", 20*time.Second),
		SchemeSearchCacheTTL:   getEnvAsDuration("SCHEME_SEARCH_CACHE_TTL", 1*time.Hour),

		PendingRegistrationTTL: getEnvAsDuration("PENDING_REGISTRATION_TTL", 24*time.Hour),

		FundListCacheTTL: getEnvAsDuration("FUND_LIST_CACHE_TTL", 15*time.Minute),
	}

	if Cfg.StatementParserURL == "" {
		log.Fatalf("FATAL: STATEMENT_PARSER_URL must not be empty; detailed SIP registration needs the parsing service.")
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, ParserURL=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.StatementParserURL)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Duration value for %s not set or empty, using default: %s", key, fallback.String())
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
