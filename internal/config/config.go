package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
)

type Config struct {
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	NewsAPIKey string

	RedisURL      string
	CacheDir      string
	CacheTTLHours float64

	ServerPort    string
	HalfLifeHours float64
}

// DefaultCacheDir resolves the per-user cache location when CACHE_DIR is
// not set.
func DefaultCacheDir() string {
	return filepath.Join(xdg.CacheHome, "ticker-pulse", "sentiment")
}

func Load() *Config {
	cfg := &Config{
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		NewsAPIKey:   os.Getenv("NEWSAPI_KEY"),
		RedisURL:     strings.TrimSpace(os.Getenv("REDIS_URL")),
	}

	if cfg.OpenAIAPIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set, sentiment classification will fail")
	}
	if cfg.NewsAPIKey == "" {
		log.Println("Warning: NEWSAPI_KEY not set, only the google-rss source will work")
	}

	cfg.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}

	cfg.OpenAIBaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = "https://api.openai.com/v1"
	}

	cfg.CacheDir = strings.TrimSpace(os.Getenv("CACHE_DIR"))
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir()
	}

	cfg.CacheTTLHours = 12
	if v := strings.TrimSpace(os.Getenv("CACHE_TTL_HOURS")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 {
			cfg.CacheTTLHours = n
		} else {
			log.Printf("Warning: invalid CACHE_TTL_HOURS=%q, using default", v)
		}
	}

	cfg.HalfLifeHours = 24
	if v := strings.TrimSpace(os.Getenv("HALF_LIFE_HOURS")); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			cfg.HalfLifeHours = n
		} else {
			log.Printf("Warning: invalid HALF_LIFE_HOURS=%q, using default", v)
		}
	}

	cfg.ServerPort = strings.TrimSpace(os.Getenv("SERVER_PORT"))
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	return cfg
}
