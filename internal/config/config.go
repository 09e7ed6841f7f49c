package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	HTTPAddr           string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRefreshToken string
	GmailLabel         string // Gmail label holding bank notification emails
	OpenRouterAPIKey   string
	OpenRouterModel    string

	PollInterval    int // seconds between watcher passes
	BatchLimit      int // max messages per processing run
	ShutdownTimeout int // seconds

	BatchBudget    time.Duration // wall-clock budget for one processing run
	BudgetBuffer   time.Duration // stop claiming this long before the budget ends
	ClaimTimeout   time.Duration // after this, an unreleased claim is stale
	AICallTimeout  time.Duration // per classification call
	AIMaxRetries   int
	LookbackBuffer time.Duration // added to the adaptive sync lookback window
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	clientID := os.Getenv("GOOGLE_CLIENT_ID")
	clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	refreshToken := os.Getenv("GOOGLE_REFRESH_TOKEN")
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		fmt.Println("Warning: GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET or GOOGLE_REFRESH_TOKEN not set, Gmail sync will not work")
	}

	openRouterAPIKey := os.Getenv("OPENROUTER_API_KEY")
	if openRouterAPIKey == "" {
		fmt.Println("Warning: OPENROUTER_API_KEY not set, transaction classification will not work")
	}

	return &Config{
		DatabaseURL:        dbURL,
		HTTPAddr:           envOr("HTTP_ADDR", ":8080"),
		GoogleClientID:     clientID,
		GoogleClientSecret: clientSecret,
		GoogleRefreshToken: refreshToken,
		GmailLabel:         envOr("GMAIL_LABEL", "bank-notifications"),
		OpenRouterAPIKey:   openRouterAPIKey,
		OpenRouterModel:    os.Getenv("OPENROUTER_MODEL"),

		PollInterval:    envOrInt("POLL_INTERVAL_SECONDS", 60),
		BatchLimit:      envOrInt("BATCH_LIMIT", 25),
		ShutdownTimeout: 30,

		BatchBudget:    9 * time.Minute,
		BudgetBuffer:   30 * time.Second,
		ClaimTimeout:   15 * time.Minute,
		AICallTimeout:  45 * time.Second,
		AIMaxRetries:   3,
		LookbackBuffer: 6 * time.Hour,
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Printf("Warning: invalid %s=%q, using default %d\n", key, v, fallback)
		return fallback
	}
	return n
}
