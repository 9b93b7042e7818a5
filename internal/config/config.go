package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DatabaseDSN     string
	RedisURL        string
	JWTSecret       string
	Env             string
	AccessTokenTTL  time.Duration
	NarratorBaseURL string
	NarratorToken   string
	NarratorTimeout time.Duration
	TypingTTL       time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

// Load reads configuration from the environment, with .env / .env.local
// picked up first when present.
func Load() Config {
	if err := godotenv.Load(".env.local"); err != nil {
		_ = godotenv.Load()
	}

	return Config{
		Port:            getenv("APP_PORT", "8080"),
		DatabaseDSN:     getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=council port=5432 sslmode=disable TimeZone=UTC"),
		RedisURL:        getenv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:       getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:             getenv("APP_ENV", "dev"),
		AccessTokenTTL:  time.Duration(getint("ACCESS_TOKEN_TTL_HOURS", 24)) * time.Hour,
		NarratorBaseURL: getenv("NARRATOR_BASE_URL", ""),
		NarratorToken:   getenv("NARRATOR_TOKEN", ""),
		NarratorTimeout: time.Duration(getint("NARRATOR_TIMEOUT_SECONDS", 30)) * time.Second,
		TypingTTL:       time.Duration(getint("TYPING_TTL_SECONDS", 6)) * time.Second,
	}
}
