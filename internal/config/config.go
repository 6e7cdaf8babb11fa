// Package config loads server settings from defaults, an optional TOML file,
// an optional .env file and OUTPOST_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/DoyleJ11/outpost-link/internal/engine"
	"github.com/DoyleJ11/outpost-link/internal/frame"
	"github.com/DoyleJ11/outpost-link/internal/link"
	"github.com/DoyleJ11/outpost-link/internal/protocol"
)

const envPrefix = "OUTPOST_"

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	HTTP  HTTPConfig  `toml:"http"`
	Link  LinkConfig  `toml:"link"`
	Game  GameConfig  `toml:"game"`
	Store StoreConfig `toml:"store"`
	Log   LogConfig   `toml:"log"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

type LinkConfig struct {
	// Empty means pick a board automatically by vendor id.
	Port                 string        `toml:"port"`
	Baud                 int           `toml:"baud"`
	Terminator           string        `toml:"terminator"`
	VendorIDs            []string      `toml:"vendor_ids"`
	SelectTimeout        time.Duration `toml:"select_timeout"`
	OpenTimeout          time.Duration `toml:"open_timeout"`
	WriteTimeout         time.Duration `toml:"write_timeout"`
	ReadTimeout          time.Duration `toml:"read_timeout"`
	AutoReconnect        bool          `toml:"auto_reconnect"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `toml:"reconnect_delay"`
	ReconnectMultiplier  float64       `toml:"reconnect_multiplier"`
	// 0 disables hot-plug polling.
	WatchInterval time.Duration `toml:"watch_interval"`
}

type GameConfig struct {
	RoundSeconds int `toml:"round_seconds"`
	FieldWidth   int `toml:"field_width"`
	FieldHeight  int `toml:"field_height"`
	MaxTargets   int `toml:"max_targets"`
}

type StoreConfig struct {
	// Empty means an in-memory store.
	DSN string `toml:"dsn"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func Default() Config {
	rules := engine.DefaultRules()
	lc := link.DefaultConfig()
	return Config{
		HTTP: HTTPConfig{Addr: ":8080"},
		Link: LinkConfig{
			Baud:                 link.DefaultBaud,
			Terminator:           lc.Terminator.Name(),
			VendorIDs:            []string{"0x0483", "0x2341", "0x2E8A"},
			SelectTimeout:        lc.SelectTimeout,
			OpenTimeout:          lc.OpenTimeout,
			WriteTimeout:         time.Second,
			ReadTimeout:          link.DefaultReadTimeout,
			AutoReconnect:        lc.AutoReconnect,
			MaxReconnectAttempts: lc.MaxReconnectAttempts,
			ReconnectDelay:       lc.Backoff.InitialDelay,
			ReconnectMultiplier:  lc.Backoff.Multiplier,
			WatchInterval:        lc.WatchInterval,
		},
		Game: GameConfig{
			RoundSeconds: rules.RoundSeconds,
			FieldWidth:   rules.FieldWidth,
			FieldHeight:  rules.FieldHeight,
			MaxTargets:   rules.MaxTargets,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. path is optional; when set the file must
// exist. A missing envFile is ignored.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return "", false
		}
		return v, true
	}
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("HTTP_ADDR", &c.HTTP.Addr)
	str("LINK_PORT", &c.Link.Port)
	num("LINK_BAUD", &c.Link.Baud)
	str("LINK_TERMINATOR", &c.Link.Terminator)
	if v, ok := get("LINK_VENDOR_IDS"); ok {
		c.Link.VendorIDs = strings.Split(v, ",")
	}
	dur("LINK_SELECT_TIMEOUT", &c.Link.SelectTimeout)
	dur("LINK_WRITE_TIMEOUT", &c.Link.WriteTimeout)
	dur("LINK_READ_TIMEOUT", &c.Link.ReadTimeout)
	if v, ok := get("LINK_AUTO_RECONNECT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sLINK_AUTO_RECONNECT: %w", envPrefix, err))
		} else {
			c.Link.AutoReconnect = b
		}
	}
	num("LINK_MAX_RECONNECT_ATTEMPTS", &c.Link.MaxReconnectAttempts)
	dur("LINK_RECONNECT_DELAY", &c.Link.ReconnectDelay)
	dur("LINK_WATCH_INTERVAL", &c.Link.WatchInterval)
	num("GAME_ROUND_SECONDS", &c.Game.RoundSeconds)
	num("GAME_MAX_TARGETS", &c.Game.MaxTargets)
	str("STORE_DSN", &c.Store.DSN)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.HTTP.Addr == "" {
		bad("http.addr is empty")
	}
	if c.Link.Baud <= 0 {
		bad("link.baud must be positive, got %d", c.Link.Baud)
	}
	if _, err := frame.ParseTerminator(c.Link.Terminator); err != nil {
		bad("link.terminator %q", c.Link.Terminator)
	}
	if _, err := c.VendorIDs(); err != nil {
		bad("link.vendor_ids: %v", err)
	}
	if c.Link.MaxReconnectAttempts < 0 {
		bad("link.max_reconnect_attempts must not be negative, got %d", c.Link.MaxReconnectAttempts)
	}
	if c.Link.SelectTimeout <= 0 {
		bad("link.select_timeout must be positive")
	}
	if c.Link.ReconnectDelay < 0 || c.Link.WatchInterval < 0 || c.Link.WriteTimeout < 0 {
		bad("link durations must not be negative")
	}
	if c.Link.ReadTimeout <= 0 {
		bad("link.read_timeout must be positive")
	}
	if c.Game.RoundSeconds <= 0 {
		bad("game.round_seconds must be positive, got %d", c.Game.RoundSeconds)
	}
	if c.Game.FieldWidth <= 0 || c.Game.FieldHeight <= 0 {
		bad("game field size must be positive")
	}
	if c.Game.MaxTargets <= 0 {
		bad("game.max_targets must be positive")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		bad("log.format %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

func (c Config) VendorIDs() ([]uint16, error) {
	out := make([]uint16, 0, len(c.Link.VendorIDs))
	for _, s := range c.Link.VendorIDs {
		if strings.TrimSpace(s) == "" {
			continue
		}
		v, err := link.ParseVendorID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// LinkConfig converts the link section. Call only on a validated Config.
func (c Config) LinkConfig() link.Config {
	term, _ := frame.ParseTerminator(c.Link.Terminator)
	lc := link.DefaultConfig()
	lc.Terminator = term
	lc.SelectTimeout = c.Link.SelectTimeout
	if c.Link.OpenTimeout > 0 {
		lc.OpenTimeout = c.Link.OpenTimeout
	}
	lc.WriteTimeout = c.Link.WriteTimeout
	lc.AutoReconnect = c.Link.AutoReconnect
	lc.MaxReconnectAttempts = c.Link.MaxReconnectAttempts
	lc.Backoff = link.BackoffConfig{
		InitialDelay: c.Link.ReconnectDelay,
		Multiplier:   c.Link.ReconnectMultiplier,
	}
	lc.WatchInterval = c.Link.WatchInterval
	lc.Greeting = []protocol.Command{protocol.Hello, protocol.StatusRequest}
	return lc
}

func (c Config) Rules() engine.Rules {
	r := engine.DefaultRules()
	r.RoundSeconds = c.Game.RoundSeconds
	r.FieldWidth = c.Game.FieldWidth
	r.FieldHeight = c.Game.FieldHeight
	r.MaxTargets = c.Game.MaxTargets
	return r
}
