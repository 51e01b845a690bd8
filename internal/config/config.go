package config

import "os"

// Config carries all environment-driven settings.
type Config struct {
	ServerPort string

	// StoreBackend selects the versioned object store: memory, github or
	// postgres.
	StoreBackend string
	GitHubRepo   string
	GitHubToken  string
	DatabaseURL  string

	// Document keys inside the versioned store.
	BalancesKey string
	MembersKey  string
	IntentsKey  string

	// PasscodeBackend selects the passcode store: memory or redis.
	PasscodeBackend string
	RedisAddr       string

	BotToken       string
	OperatorChatID string
	AdminPassword  string
	SharedSecret   string

	RateURL      string
	RateCurrency string
}

// Load reads configuration from the environment with development defaults.
func Load() *Config {
	return &Config{
		ServerPort:      getEnv("PORT", "3000"),
		StoreBackend:    getEnv("STORE_BACKEND", "memory"),
		GitHubRepo:      getEnv("GITHUB_REPO", ""),
		GitHubToken:     getEnv("GITHUB_TOKEN", ""),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		BalancesKey:     getEnv("BALANCES_KEY", "balances.json"),
		MembersKey:      getEnv("MEMBERS_KEY", "promo-members.json"),
		IntentsKey:      getEnv("INTENTS_KEY", "promo-intents.json"),
		PasscodeBackend: getEnv("PASSCODE_BACKEND", "memory"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		BotToken:        getEnv("BOT_TOKEN", ""),
		OperatorChatID:  getEnv("OPERATOR_CHAT_ID", ""),
		AdminPassword:   getEnv("ADMIN_PASSWORD", ""),
		SharedSecret:    getEnv("SHARED_SECRET", ""),
		RateURL:         getEnv("RATE_URL", "https://api.exchangerate-api.com/v4/latest/USD"),
		RateCurrency:    getEnv("RATE_CURRENCY", "NGN"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
