package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Platform Platform `yaml:"platform"`
	Feed     Feed     `yaml:"feed"`
	Betting  Betting  `yaml:"betting"`
	Notify   Notify   `yaml:"notify"`
	Health   Health   `yaml:"health"`
	Logging  Logging  `yaml:"logging"`
}

type Postgres struct {
	DSN string `yaml:"dsn"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Platform configures the remote wagering gateway.
type Platform struct {
	BaseURL   string        `yaml:"base_url"`
	Version   string        `yaml:"version"` // protocol version string sent as ver=
	Lang      string        `yaml:"lang"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`

	// LoginPollTimeout bounds the post-submit outcome poll.
	LoginPollTimeout time.Duration `yaml:"login_poll_timeout"`

	// SessionTTL is how long an established session is trusted before re-login.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type Feed struct {
	AccountID     string        `yaml:"account_id"` // designated polling account
	Interval      time.Duration `yaml:"interval"`
	MoreLimit     int           `yaml:"more_limit"` // max supplemental fetches per tick
	LiveCacheTTL  time.Duration `yaml:"live_cache_ttl"`
	EarlyCacheTTL time.Duration `yaml:"early_cache_ttl"`
}

type Betting struct {
	MarketClosedRetries int           `yaml:"market_closed_retries"`
	MarketClosedDelay   time.Duration `yaml:"market_closed_delay"`
	LineTolerance       float64       `yaml:"line_tolerance"`
}

type Notify struct {
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   int64  `yaml:"telegram_chat_id"`
}

// Health configures the ops HTTP endpoints; an empty addr disables them.
type Health struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

type Logging struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Platform.Lang == "" {
		c.Platform.Lang = "zh-cn"
	}
	if c.Platform.Timeout <= 0 {
		c.Platform.Timeout = 30 * time.Second
	}
	if c.Platform.LoginPollTimeout <= 0 {
		c.Platform.LoginPollTimeout = 18 * time.Second
	}
	if c.Platform.SessionTTL <= 0 {
		c.Platform.SessionTTL = 2 * time.Hour
	}
	if c.Feed.Interval <= 0 {
		c.Feed.Interval = 5 * time.Second
	}
	if c.Feed.MoreLimit <= 0 {
		c.Feed.MoreLimit = 10
	}
	if c.Feed.LiveCacheTTL <= 0 {
		c.Feed.LiveCacheTTL = 15 * time.Second
	}
	if c.Feed.EarlyCacheTTL <= 0 {
		c.Feed.EarlyCacheTTL = 2 * time.Minute
	}
	if c.Betting.MarketClosedRetries <= 0 {
		c.Betting.MarketClosedRetries = 3
	}
	if c.Betting.MarketClosedDelay <= 0 {
		c.Betting.MarketClosedDelay = 700 * time.Millisecond
	}
	if c.Betting.LineTolerance <= 0 {
		c.Betting.LineTolerance = 0.01
	}
	if c.Health.ReadHeaderTimeout <= 0 {
		c.Health.ReadHeaderTimeout = 10 * time.Second
	}
}
