// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	TwitterAPIKey            string
	TwitterAPISecret         string
	TwitterAccessToken       string
	TwitterAccessTokenSecret string

	DailyReplyLimit int
	ReplyDelayMin   time.Duration
	ReplyDelayMax   time.Duration
	BatchSize       int
	BatchBreakMin   time.Duration
	BatchBreakMax   time.Duration
	DelayFirstReply bool

	SimilarityThreshold   float64
	SimilarityWindow      int
	MaxGenerationAttempts int
	MaxCallAttempts       int

	FeedURL       string
	RetentionDays int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	cfg := &Config{
		TelegramBotToken: token,
		DatabasePath:     envDefault("DATABASE_PATH", "./data/replybot.db"),
		LogLevel:         envDefault("LOG_LEVEL", "info"),

		OpenAIAPIKey:  openAIKey,
		OpenAIModel:   envDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),

		TwitterAPIKey:            os.Getenv("TWITTER_API_KEY"),
		TwitterAPISecret:         os.Getenv("TWITTER_API_SECRET"),
		TwitterAccessToken:       os.Getenv("TWITTER_ACCESS_TOKEN"),
		TwitterAccessTokenSecret: os.Getenv("TWITTER_ACCESS_TOKEN_SECRET"),

		FeedURL: os.Getenv("FEED_URL"),
	}

	for _, cred := range []string{"TWITTER_API_KEY", "TWITTER_API_SECRET", "TWITTER_ACCESS_TOKEN", "TWITTER_ACCESS_TOKEN_SECRET"} {
		if os.Getenv(cred) == "" {
			return nil, fmt.Errorf("%s is required", cred)
		}
	}

	var err error
	if cfg.DailyReplyLimit, err = intEnv("DAILY_REPLY_LIMIT", 50); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = intEnv("BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.ReplyDelayMin, err = secondsEnv("REPLY_DELAY_MIN", 60); err != nil {
		return nil, err
	}
	if cfg.ReplyDelayMax, err = secondsEnv("REPLY_DELAY_MAX", 180); err != nil {
		return nil, err
	}
	if cfg.BatchBreakMin, err = secondsEnv("BATCH_BREAK_MIN", 600); err != nil {
		return nil, err
	}
	if cfg.BatchBreakMax, err = secondsEnv("BATCH_BREAK_MAX", 900); err != nil {
		return nil, err
	}
	if cfg.SimilarityThreshold, err = floatEnv("SIMILARITY_THRESHOLD", 0.6); err != nil {
		return nil, err
	}
	if cfg.SimilarityWindow, err = intEnv("SIMILARITY_WINDOW", 200); err != nil {
		return nil, err
	}
	if cfg.MaxGenerationAttempts, err = intEnv("MAX_GENERATION_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.MaxCallAttempts, err = intEnv("MAX_CALL_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RetentionDays, err = intEnv("RETENTION_DAYS", 0); err != nil {
		return nil, err
	}
	if cfg.DelayFirstReply, err = boolEnv("DELAY_FIRST_REPLY", false); err != nil {
		return nil, err
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DailyReplyLimit < 1 {
		return fmt.Errorf("DAILY_REPLY_LIMIT must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be at least 1")
	}
	if c.ReplyDelayMin < 0 || c.ReplyDelayMax < c.ReplyDelayMin {
		return fmt.Errorf("REPLY_DELAY_MIN..REPLY_DELAY_MAX must be a valid range")
	}
	if c.BatchBreakMin < 0 || c.BatchBreakMax < c.BatchBreakMin {
		return fmt.Errorf("BATCH_BREAK_MIN..BATCH_BREAK_MAX must be a valid range")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be between 0 and 1")
	}
	if c.SimilarityWindow < 1 {
		return fmt.Errorf("SIMILARITY_WINDOW must be at least 1")
	}
	if c.MaxGenerationAttempts < 1 || c.MaxCallAttempts < 1 {
		return fmt.Errorf("attempt limits must be at least 1")
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("RETENTION_DAYS must not be negative")
	}
	return nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func secondsEnv(key string, def int) (time.Duration, error) {
	n, err := intEnv(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func floatEnv(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return f, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return b, nil
}
