// Package config reads the bot settings from the environment, after
// loading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/qepting91/redditbot/internal/bot"
	"github.com/qepting91/redditbot/internal/domain"
)

const (
	DefaultMode          = "api"
	DefaultSeenDB        = "data/seen.db"
	DefaultReplyDB       = "data/replies.db"
	DefaultArchive       = "data/current.json"
	DefaultTargetsFile   = "input/subreddits.csv"
	DefaultKeywordsFile  = "input/keywords.csv"
	DefaultBlacklistFile = "input/blacklist.csv"
	DefaultPort          = "8080"
	DefaultReplyRetain   = 30 * 24 * time.Hour
)

type Config struct {
	Mode     string
	Primary  domain.Credentials
	Fallback domain.Credentials
	Admin    string

	Subreddits      []string
	NewLimit        int
	Interval        time.Duration
	ConnectAttempts int
	ConnectBackoff  float64
	Scopes          []string
	Retention       time.Duration
	RestartAfter    time.Duration
	Blacklist       []string
	Sentinel        string

	SeenDB        string
	ReplyDB       string
	Archive       string
	TargetsFile   string
	KeywordsFile  string
	BlacklistFile string
	Port          string
	LogLevel      slog.Level
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	// a missing .env is fine, the environment may be set already
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup func such as os.Getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}

	cfg := Config{
		Mode: p.str("COLLECTOR_MODE", DefaultMode),
		Primary: domain.Credentials{
			ClientID:     getenv("REDDIT_CLIENT_ID"),
			ClientSecret: getenv("REDDIT_CLIENT_SECRET"),
			Username:     getenv("REDDIT_USERNAME"),
			Password:     getenv("REDDIT_PASSWORD"),
			UserAgent:    getenv("REDDIT_USER_AGENT"),
		},
		Fallback: domain.Credentials{
			ClientID:     getenv("REDDIT_FALLBACK_CLIENT_ID"),
			ClientSecret: getenv("REDDIT_FALLBACK_CLIENT_SECRET"),
			Username:     getenv("REDDIT_FALLBACK_USERNAME"),
			Password:     getenv("REDDIT_FALLBACK_PASSWORD"),
			UserAgent:    p.str("REDDIT_FALLBACK_USER_AGENT", getenv("REDDIT_USER_AGENT")),
		},
		Admin: strings.TrimPrefix(getenv("REDDIT_ADMIN"), "u/"),

		Subreddits:      p.list("SUBREDDITS"),
		NewLimit:        p.int("BOT_NEW_LIMIT", bot.DefaultNewLimit),
		Interval:        p.duration("BOT_INTERVAL", bot.DefaultInterval),
		ConnectAttempts: p.int("BOT_CONNECT_ATTEMPTS", 1),
		ConnectBackoff:  p.float("BOT_CONNECT_BACKOFF", 2),
		Scopes:          p.list("BOT_SCOPES"),
		Retention:       p.duration("BOT_SEEN_RETENTION", 24*time.Hour),
		RestartAfter:    p.duration("BOT_RESTART_AFTER", bot.DefaultRestartAfter),
		Blacklist:       p.list("BOT_BLACKLIST"),
		Sentinel:        p.str("BOT_SENTINEL", bot.DefaultSentinel),

		SeenDB:        p.str("BOT_SEEN_DB", DefaultSeenDB),
		ReplyDB:       p.str("BOT_REPLY_DB", DefaultReplyDB),
		Archive:       p.str("BOT_ARCHIVE", DefaultArchive),
		TargetsFile:   p.str("BOT_TARGETS_FILE", DefaultTargetsFile),
		KeywordsFile:  p.str("BOT_KEYWORDS_FILE", DefaultKeywordsFile),
		BlacklistFile: p.str("BOT_BLACKLIST_FILE", DefaultBlacklistFile),
		// dashboard port
		Port:     p.str("PORT", DefaultPort),
		LogLevel: p.level("LOG_LEVEL"),
	}

	if cfg.Scopes == nil {
		cfg.Scopes = bot.DefaultScopes
		if cfg.Mode == "public" {
			cfg.Scopes = []string{"read"}
		}
	}

	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.NewLimit < 1 || c.NewLimit > 1000 {
		errs = append(errs, fmt.Errorf("BOT_NEW_LIMIT must be between 1 and 1000, got %d", c.NewLimit))
	}
	if c.Interval < time.Second {
		errs = append(errs, fmt.Errorf("BOT_INTERVAL must be at least 1s, got %s", c.Interval))
	}
	if c.ConnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("BOT_CONNECT_ATTEMPTS must be positive, got %d", c.ConnectAttempts))
	}
	if c.Mode == "api" && (c.Primary.ClientID == "" || c.Primary.Username == "") {
		errs = append(errs, errors.New("REDDIT_CLIENT_ID and REDDIT_USERNAME are required in api mode"))
	}
	if c.Mode != "mock" && c.Primary.UserAgent == "" {
		errs = append(errs, errors.New("REDDIT_USER_AGENT is required"))
	}
	return errors.Join(errs...)
}

// BotConfig is the part of the settings the scheduler needs
func (c Config) BotConfig() bot.Config {
	return bot.Config{
		Feeds:           c.Subreddits,
		NewLimit:        c.NewLimit,
		Interval:        c.Interval,
		ConnectAttempts: c.ConnectAttempts,
		ConnectBackoff:  c.ConnectBackoff,
		Retention:       c.Retention,
		RestartAfter:    c.RestartAfter,
		Blacklist:       c.Blacklist,
	}
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

// durations accept Go syntax ("30s") or plain seconds ("30")
func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) list(key string) []string {
	var out []string
	for _, part := range strings.Split(p.getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p *parser) level(key string) slog.Level {
	var lvl slog.Level
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return slog.LevelInfo
	}
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return slog.LevelInfo
	}
	return lvl
}
