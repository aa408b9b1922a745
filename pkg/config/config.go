package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the agent backend.
type Config struct {
	Port string

	// Database
	DBPath string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// External collaborators
	CustodyBaseURL  string // wallet/contract provisioning API
	LendingBaseURL  string // lending protocol gateway
	PriceFeedURL    string
	PriceFeedAPIKey string

	// Strategy catalog
	StrategyCatalogPath string

	// Connection core tuning
	HeartbeatInterval time.Duration
	QueueCapacity     int

	// Agent loop
	AgentInterval   time.Duration
	MonitorInterval time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              getEnv("DB_PATH", "./data/agent.db"),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		TokenTTL:            getEnvDuration("TOKEN_TTL", 72*time.Hour),
		CustodyBaseURL:      getEnv("CUSTODY_BASE_URL", "http://localhost:9090"),
		LendingBaseURL:      getEnv("LENDING_BASE_URL", "http://localhost:9091"),
		PriceFeedURL:        getEnv("PRICE_FEED_URL", "http://localhost:9092"),
		PriceFeedAPIKey:     os.Getenv("PRICE_FEED_API_KEY"),
		StrategyCatalogPath: getEnv("STRATEGY_CATALOG_PATH", "configs/strategies.yaml"),
		HeartbeatInterval:   getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		QueueCapacity:       getEnvInt("TASK_QUEUE_CAPACITY", 1000),
		AgentInterval:       getEnvDuration("AGENT_INTERVAL", 60*time.Second),
		MonitorInterval:     getEnvDuration("MONITOR_INTERVAL", 60*time.Second),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
