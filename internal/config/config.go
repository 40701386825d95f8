package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all environment configuration values for the application.
// These values are loaded from a .env file at startup.
type Config struct {
	// APIBaseURL is the base URL of the message store's REST API
	APIBaseURL string

	// SocketURL is the websocket endpoint of the realtime transport
	SocketURL string

	// CustomerID is the locally stored customer identity used as the
	// default identity when opening conversations
	CustomerID string

	// LogLevel selects the slog level: debug, info, warn or error
	LogLevel string

	// Port is the port the stub backend listens on
	Port string
}

// Load reads environment variables and returns a populated Config struct.
// It will load from a .env file if present, then read from environment
// variables. Falls back to sensible defaults if values are not set.
func Load() *Config {
	// Attempt to load .env file - not an error if it doesn't exist
	// as we may be running with real environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		APIBaseURL: getEnv("WASHLINE_API_URL", "http://localhost:5000"),
		SocketURL:  getEnv("WASHLINE_SOCKET_URL", "ws://localhost:5000/ws"),
		CustomerID: getEnv("WASHLINE_CUSTOMER_ID", "1"),
		LogLevel:   getEnv("WASHLINE_LOG_LEVEL", "info"),
		Port:       getEnv("PORT", "5000"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
