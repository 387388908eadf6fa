// Package config provides configuration helpers that define runtime defaults,
// validation, and loading from file, environment and flags for the presence
// server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix is prepended to every environment override, e.g. PRESENCE_ADDR.
const EnvPrefix = "PRESENCE"

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// MulticastConfig describes the group fan-out transport.
type MulticastConfig struct {
	Port       int
	RangeStart string
	RangeEnd   string
	TTL        int
	Interface  string
	Loopback   bool
}

// TranslationConfig configures the chat translation service.
type TranslationConfig struct {
	Enabled  bool
	Endpoint string
	Timeout  time.Duration
}

// LogConfig selects log level and output format ("text" or "json").
type LogConfig struct {
	Level  string
	Format string
}

// Config holds the server configuration settings.
type Config struct {
	Addr            string
	GroupAddr       string
	AllowedOrigins  []string
	MaxMessageSize  int64
	MaxDatagramSize int
	RateLimit       RateLimitConfig
	Multicast       MulticastConfig
	Translation     TranslationConfig
	LoginTimeout    time.Duration
	OfferTTL        time.Duration
	MaxErrorCount   int
	ShutdownTimeout time.Duration
	PasswordCost    int
	Log             LogConfig
}

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	return &Config{
		Addr:      ":8080",
		GroupAddr: ":10003",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  4096,
		MaxDatagramSize: 1024,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		Multicast: MulticastConfig{
			Port:       10004,
			RangeStart: "224.0.0.1",
			RangeEnd:   "239.255.255.255",
			TTL:        1,
			Loopback:   true,
		},
		Translation: TranslationConfig{
			Enabled:  false,
			Endpoint: "https://api.mymemory.translated.net/get",
			Timeout:  5 * time.Second,
		},
		LoginTimeout:    30 * time.Second,
		OfferTTL:        10 * time.Minute,
		MaxErrorCount:   10,
		ShutdownTimeout: 10 * time.Second,
		PasswordCost:    bcrypt.DefaultCost,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Sanitize replaces out-of-range values with defaults.
func (c *Config) Sanitize() {
	def := Default()

	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.GroupAddr == "" {
		c.GroupAddr = def.GroupAddr
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.MaxDatagramSize <= 0 {
		c.MaxDatagramSize = def.MaxDatagramSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.Multicast.Port <= 0 || c.Multicast.Port > 65535 {
		c.Multicast.Port = def.Multicast.Port
	}
	if c.Multicast.RangeStart == "" {
		c.Multicast.RangeStart = def.Multicast.RangeStart
	}
	if c.Multicast.RangeEnd == "" {
		c.Multicast.RangeEnd = def.Multicast.RangeEnd
	}
	if c.Multicast.TTL <= 0 {
		c.Multicast.TTL = def.Multicast.TTL
	}
	if c.Translation.Endpoint == "" {
		c.Translation.Endpoint = def.Translation.Endpoint
	}
	if c.Translation.Timeout <= 0 {
		c.Translation.Timeout = def.Translation.Timeout
	}
	if c.LoginTimeout < 0 {
		c.LoginTimeout = def.LoginTimeout
	}
	if c.OfferTTL <= 0 {
		c.OfferTTL = def.OfferTTL
	}
	if c.MaxErrorCount <= 0 {
		c.MaxErrorCount = def.MaxErrorCount
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.PasswordCost < bcrypt.MinCost || c.PasswordCost > bcrypt.MaxCost {
		c.PasswordCost = def.PasswordCost
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	c.AllowedOrigins = cleanOrigins(c.AllowedOrigins)
}

func cleanOrigins(origins []string) []string {
	cleaned := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			cleaned = append(cleaned, o)
		}
	}
	return cleaned
}

// DefaultFile returns the config file looked up when none is given.
func DefaultFile() string {
	return filepath.Join(xdg.ConfigHome, "presence-chat", "server.toml")
}

// BindFlags registers the command line overrides on fs.
func BindFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("addr", def.Addr, "listen address for the websocket endpoints")
	fs.String("group-addr", def.GroupAddr, "UDP listen address for group messages")
	fs.Int("multicast-port", def.Multicast.Port, "port group messages are multicast on")
	fs.Bool("translate", def.Translation.Enabled, "translate chat messages to the recipient's language")
	fs.String("log-level", def.Log.Level, "log level (debug, info, warn, error)")
}

var flagKeys = map[string]string{
	"addr":           "addr",
	"group-addr":     "group_addr",
	"multicast-port": "multicast.port",
	"translate":      "translation.enabled",
	"log-level":      "log.level",
}

// Load builds a Config from defaults, the optional config file, PRESENCE_*
// environment variables and the flags registered by BindFlags, in increasing
// order of precedence. An empty file means DefaultFile, which may be absent.
func Load(file string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	explicit := file != ""
	if !explicit {
		file = DefaultFile()
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), !explicit && errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := fromViper(v)
	cfg.Sanitize()
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("addr", def.Addr)
	v.SetDefault("group_addr", def.GroupAddr)
	v.SetDefault("allowed_origins", def.AllowedOrigins)
	v.SetDefault("max_message_size", def.MaxMessageSize)
	v.SetDefault("max_datagram_size", def.MaxDatagramSize)
	v.SetDefault("rate_limit.burst", def.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", def.RateLimit.RefillInterval)
	v.SetDefault("multicast.port", def.Multicast.Port)
	v.SetDefault("multicast.range_start", def.Multicast.RangeStart)
	v.SetDefault("multicast.range_end", def.Multicast.RangeEnd)
	v.SetDefault("multicast.ttl", def.Multicast.TTL)
	v.SetDefault("multicast.interface", def.Multicast.Interface)
	v.SetDefault("multicast.loopback", def.Multicast.Loopback)
	v.SetDefault("translation.enabled", def.Translation.Enabled)
	v.SetDefault("translation.endpoint", def.Translation.Endpoint)
	v.SetDefault("translation.timeout", def.Translation.Timeout)
	v.SetDefault("login_timeout", def.LoginTimeout)
	v.SetDefault("offer_ttl", def.OfferTTL)
	v.SetDefault("max_error_count", def.MaxErrorCount)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout)
	v.SetDefault("password_cost", def.PasswordCost)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Addr:            v.GetString("addr"),
		GroupAddr:       v.GetString("group_addr"),
		AllowedOrigins:  v.GetStringSlice("allowed_origins"),
		MaxMessageSize:  v.GetInt64("max_message_size"),
		MaxDatagramSize: v.GetInt("max_datagram_size"),
		RateLimit: RateLimitConfig{
			Burst:          v.GetInt("rate_limit.burst"),
			RefillInterval: v.GetDuration("rate_limit.refill_interval"),
		},
		Multicast: MulticastConfig{
			Port:       v.GetInt("multicast.port"),
			RangeStart: v.GetString("multicast.range_start"),
			RangeEnd:   v.GetString("multicast.range_end"),
			TTL:        v.GetInt("multicast.ttl"),
			Interface:  v.GetString("multicast.interface"),
			Loopback:   v.GetBool("multicast.loopback"),
		},
		Translation: TranslationConfig{
			Enabled:  v.GetBool("translation.enabled"),
			Endpoint: v.GetString("translation.endpoint"),
			Timeout:  v.GetDuration("translation.timeout"),
		},
		LoginTimeout:    v.GetDuration("login_timeout"),
		OfferTTL:        v.GetDuration("offer_ttl"),
		MaxErrorCount:   v.GetInt("max_error_count"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		PasswordCost:    v.GetInt("password_cost"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
}
