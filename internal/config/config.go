package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Research backend
	BackendBaseURL string
	BackendAPIKey  string

	// Database (persisted artifact records)
	DatabaseURL string

	// Database Connection Pool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // in minutes
	DBConnMaxLifetime int // in minutes

	// NATS (distributed stream cancel); empty disables the service
	NatsURL string

	// Streaming
	StreamReadTimeout  time.Duration // max lifetime of one SSE read
	StreamStallTimeout time.Duration // no-frame window before a session is flagged stalled

	// Server
	ServerShutdownTimeoutSeconds int

	// CORS
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string

	// Research defaults loaded from the config file
	Research *ResearchConfig `yaml:"research"`
}

var AppConfig *Config

func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// Research backend
		BackendBaseURL: getEnvOrDefault("RESEARCH_BACKEND_URL", "http://127.0.0.1:8000"),
		BackendAPIKey:  getEnvOrDefault("RESEARCH_BACKEND_API_KEY", ""),

		// Database
		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),

		// Database Connection Pool
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 15),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 1),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		// NATS
		NatsURL: getEnvOrDefault("NATS_URL", ""),

		// Streaming
		StreamReadTimeout:  getEnvAsDuration("STREAM_READ_TIMEOUT", 10*time.Minute),
		StreamStallTimeout: getEnvAsDuration("STREAM_STALL_TIMEOUT", 90*time.Second),

		// Server
		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		// CORS
		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// Research defaults come from the config file; env only selects the path.
	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")

	configFile, err := os.Open(configFilePath)
	if err != nil {
		log.Printf("No config file at %v, using built-in research defaults", configFilePath)
		AppConfig.Research = DefaultResearchConfig()
		return
	}
	defer configFile.Close()

	if err := LoadConfigFile(configFile, AppConfig); err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	if AppConfig.Research == nil {
		AppConfig.Research = DefaultResearchConfig()
	}
	if err := AppConfig.Research.Validate(); err != nil {
		log.Fatalf("Invalid research configuration: %v", err)
	}

	if AppConfig.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL is not set; persisted artifact records disabled.")
	}
	if AppConfig.NatsURL == "" {
		log.Println("Warning: NATS_URL is not set; distributed stream cancel disabled.")
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Printf("Warning: invalid integer for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		log.Printf("Warning: invalid duration for %s, using default %v", key, defaultValue)
	}
	return defaultValue
}
