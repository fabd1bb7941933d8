package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultJWTExpiresIn    = "24h"
	DefaultStoreDSN        = "memory://"
	DefaultDispatchTimeout = "10s"
	DefaultHealthInterval  = "1m"
	DefaultTopicPrefix     = "DM with "
	DefaultPollTimeout     = 30
)

// Environment variables that override file values.
const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvDiscordToken  = "DISCORD_TOKEN"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvTopicsChat    = "TOPICS_CHANNEL_ID"
	EnvStoreDSN      = "STORE_DSN"
	EnvJWTSecret     = "JWT_SECRET"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Discord  DiscordConfig  `toml:"discord"`
	Telegram TelegramConfig `toml:"telegram"`
	Store    StoreConfig    `toml:"store"`
	Bridge   BridgeConfig   `toml:"bridge"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr         string `toml:"addr"`
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// Enabled reports whether the admin HTTP server should start.
func (c ServerConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// JWTExpiresInDuration returns the lifetime of tokens minted by the token command.
func (c ServerConfig) JWTExpiresInDuration() time.Duration {
	return parseDuration(c.JWTExpiresIn, DefaultJWTExpiresIn)
}

type DiscordConfig struct {
	Token string `toml:"token" validate:"required"`
	// UserAccount marks Token as a user (selfbot) token, sent without the "Bot " prefix.
	UserAccount bool `toml:"user_account"`
	// RestBotToken enables the stateless REST client for Telegram-originated sends.
	RestBotToken string `toml:"rest_bot_token"`
}

type TelegramConfig struct {
	BotToken           string  `toml:"bot_token" validate:"required"`
	TopicsChatID       int64   `toml:"topics_chat_id" validate:"required"`
	PollTimeoutSeconds int     `toml:"poll_timeout_seconds" validate:"gte=0,lte=50"`
	DropPendingUpdates bool    `toml:"drop_pending_updates"`
	Operators          []int64 `toml:"operators"`
}

// IsOperator reports whether userID may run bridge commands. An empty list allows everyone.
func (c TelegramConfig) IsOperator(userID int64) bool {
	if len(c.Operators) == 0 {
		return true
	}
	for _, id := range c.Operators {
		if id == userID {
			return true
		}
	}
	return false
}

type StoreConfig struct {
	DSN     string `toml:"dsn" validate:"required"`
	Migrate bool   `toml:"migrate"`
}

type BridgeConfig struct {
	DispatchTimeout  string `toml:"dispatch_timeout"`
	TopicLabelPrefix string `toml:"topic_label_prefix"`
	HealthInterval   string `toml:"health_interval"`
}

// DispatchTimeoutDuration returns the bounded wait for cross-context calls.
func (c BridgeConfig) DispatchTimeoutDuration() time.Duration {
	return parseDuration(c.DispatchTimeout, DefaultDispatchTimeout)
}

// HealthIntervalDuration returns how often the store health check runs.
func (c BridgeConfig) HealthIntervalDuration() time.Duration {
	return parseDuration(c.HealthInterval, DefaultHealthInterval)
}

func parseDuration(raw, fallback string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:         DefaultHTTPAddr,
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Telegram: TelegramConfig{
			PollTimeoutSeconds: DefaultPollTimeout,
			DropPendingUpdates: true,
		},
		Store: StoreConfig{
			DSN:     DefaultStoreDSN,
			Migrate: true,
		},
		Bridge: BridgeConfig{
			DispatchTimeout:  DefaultDispatchTimeout,
			TopicLabelPrefix: DefaultTopicPrefix,
			HealthInterval:   DefaultHealthInterval,
		},
	}
}

// Load reads path (or CONFIG_PATH, or config.toml) over defaults and applies env overrides.
// A missing file is not an error. The result is not validated; call Validate.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDiscordToken); ok && strings.TrimSpace(v) != "" {
		cfg.Discord.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvTelegramToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.BotToken = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvStoreDSN); ok && strings.TrimSpace(v) != "" {
		cfg.Store.DSN = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvJWTSecret); ok && strings.TrimSpace(v) != "" {
		cfg.Server.JWTSecret = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvTopicsChat); ok && strings.TrimSpace(v) != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTopicsChat, err)
		}
		cfg.Telegram.TopicsChatID = id
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required credentials and value ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Server.Enabled() && strings.TrimSpace(c.Server.JWTSecret) == "" {
		return errors.New("invalid config: server.jwt_secret is required when server.addr is set")
	}
	return nil
}
