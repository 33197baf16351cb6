package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Reservation configuration
	OfferDuration time.Duration
	LockTTL       time.Duration
	SweepInterval time.Duration

	// Rate limiting
	RateLimitJoins  int
	RateLimitWindow time.Duration

	// PubNub user notifications
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string

	// Payment gateway feed
	GatewaySubscribeKey string
	GatewaySecretKey    string
	GatewayCipherKey    string
	GatewayUserID       string
	GatewayChannel      string
	GatewayHMACKey      string
	GatewayKeyHash      string

	// Monitoring
	EnableMetrics     bool
	DepthPollInterval time.Duration
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		OfferDuration: getEnvAsDuration("OFFER_DURATION", "30m"),
		LockTTL:       getEnvAsDuration("LOCK_TTL", "10s"),
		SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", "1m"),

		RateLimitJoins:  getEnvAsInt("RATE_LIMIT_JOINS", 3),
		RateLimitWindow: getEnvAsDuration("RATE_LIMIT_WINDOW", "30m"),

		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:       getEnv("PUBNUB_USER_ID", "ticket-reserve"),

		GatewaySubscribeKey: getEnv("GATEWAY_PN_SUBSCRIBE_KEY", ""),
		GatewaySecretKey:    getEnv("GATEWAY_PN_SECRET_KEY", ""),
		GatewayCipherKey:    getEnv("GATEWAY_PN_CIPHER_KEY", ""),
		GatewayUserID:       getEnv("GATEWAY_PN_USER_ID", "ticket-reserve-feed"),
		GatewayChannel:      getEnv("GATEWAY_PN_CHANNEL", ""),
		GatewayHMACKey:      getEnv("GATEWAY_HMAC_KEY", ""),
		GatewayKeyHash:      getEnv("GATEWAY_KEY_HASH", ""),

		EnableMetrics:     getEnvAsBool("ENABLE_METRICS", true),
		DepthPollInterval: getEnvAsDuration("DEPTH_POLL_INTERVAL", "30s"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
