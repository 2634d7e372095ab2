package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dyluth/daub/internal/errkind"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when a key is omitted.
const (
	DefaultWaitTime       = 30
	DefaultThreadNum      = 4
	DefaultBoardWidth     = 1000
	DefaultBoardHeight    = 600
	DefaultPollInterval   = 120 * time.Second
	DefaultPollRetries    = 3
	DefaultPace           = 500 * time.Millisecond
	DefaultRecheckDelay   = 5 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultInstance       = "default"

	AuthCookie = "cookie"
	AuthQuery  = "query"
)

// Config is the daemon configuration. It is loaded once and treated as
// immutable afterwards; components receive it (or the values they need) at
// construction time.
type Config struct {
	BoardAddr     string `yaml:"board_addr"`     // http(s) base address of the board service
	WebsocketAddr string `yaml:"websocket_addr"` // ws(s) address of the update stream
	CookieDir     string `yaml:"cookie_dir"`     // directory of {"cookie": "..."} files
	NodeFile      string `yaml:"node_file"`      // JSON array of [x, y, color] targets

	WaitTime       *int `yaml:"wait_time,omitempty"` // per-credential cooldown in seconds (default 30)
	ThreadNum      int  `yaml:"thread_num,omitempty"`
	BoardWidth     int  `yaml:"board_width,omitempty"`
	BoardHeight    int  `yaml:"board_height,omitempty"`
	NodeRetryTimes int  `yaml:"node_retry_times,omitempty"` // random probe fan-out, 0 = strict head of queue

	PollInterval   string `yaml:"poll_interval,omitempty"`
	PollRetries    int    `yaml:"poll_retries,omitempty"`
	Pace           string `yaml:"pace,omitempty"`
	RecheckDelay   string `yaml:"recheck_delay,omitempty"`
	RequestTimeout string `yaml:"request_timeout,omitempty"`

	AuthMode       string `yaml:"auth_mode,omitempty"` // "cookie" or "query"
	ShuffleTargets bool   `yaml:"shuffle_targets,omitempty"`

	Instance   string `yaml:"instance,omitempty"`
	RedisURL   string `yaml:"redis_url,omitempty"`   // optional event feed
	HealthAddr string `yaml:"health_addr,omitempty"` // optional status/metrics listener

	LogLevel  string `yaml:"log_level,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"`

	// Timing holds the parsed durations. Populated by Validate.
	Timing Timing `yaml:"-"`
}

// Timing is the resolved set of durations derived from the string keys.
type Timing struct {
	Cooldown       time.Duration
	PollInterval   time.Duration
	Pace           time.Duration
	RecheckDelay   time.Duration
	RequestTimeout time.Duration
}

// Validate checks the configuration and fills in defaults. It returns
// errkind.UrlScheme for addresses with the wrong scheme and
// errkind.ConfigParse for every other invalid value.
func (c *Config) Validate() error {
	const op = "validate config"

	board, err := checkURL("board_addr", c.BoardAddr, "http", "https")
	if err != nil {
		return err
	}
	c.BoardAddr = strings.TrimRight(board, "/")

	if _, err := checkURL("websocket_addr", c.WebsocketAddr, "ws", "wss"); err != nil {
		return err
	}

	if c.WaitTime == nil {
		wait := DefaultWaitTime
		c.WaitTime = &wait
	}
	if *c.WaitTime < 0 {
		return errkind.Errorf(errkind.ConfigParse, op, "wait_time must be >= 0, got %d", *c.WaitTime)
	}

	if c.ThreadNum == 0 {
		c.ThreadNum = DefaultThreadNum
	}
	if c.ThreadNum < 1 {
		return errkind.Errorf(errkind.ConfigParse, op, "thread_num must be >= 1, got %d", c.ThreadNum)
	}

	if c.BoardWidth == 0 {
		c.BoardWidth = DefaultBoardWidth
	}
	if c.BoardHeight == 0 {
		c.BoardHeight = DefaultBoardHeight
	}
	if c.BoardWidth < 1 || c.BoardHeight < 1 {
		return errkind.Errorf(errkind.ConfigParse, op, "board dimensions must be positive, got %dx%d", c.BoardWidth, c.BoardHeight)
	}

	if c.NodeRetryTimes < 0 {
		return errkind.Errorf(errkind.ConfigParse, op, "node_retry_times must be >= 0, got %d", c.NodeRetryTimes)
	}

	if c.PollRetries == 0 {
		c.PollRetries = DefaultPollRetries
	}
	if c.PollRetries < 1 {
		return errkind.Errorf(errkind.ConfigParse, op, "poll_retries must be >= 1, got %d", c.PollRetries)
	}

	switch c.AuthMode {
	case "":
		c.AuthMode = AuthCookie
	case AuthCookie, AuthQuery:
	default:
		return errkind.Errorf(errkind.ConfigParse, op, "invalid auth_mode: %s (must be 'cookie' or 'query')", c.AuthMode)
	}

	if c.Instance == "" {
		c.Instance = DefaultInstance
	}
	if err := validateInstance(c.Instance); err != nil {
		return errkind.New(errkind.ConfigParse, op, err)
	}

	if c.RedisURL != "" {
		if _, err := checkURL("redis_url", c.RedisURL, "redis", "rediss"); err != nil {
			return err
		}
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return errkind.Errorf(errkind.ConfigParse, op, "invalid log_format: %s (must be 'text' or 'json')", c.LogFormat)
	}

	c.Timing.Cooldown = time.Duration(*c.WaitTime) * time.Second
	durations := []struct {
		key   string
		value string
		def   time.Duration
		dst   *time.Duration
	}{
		{"poll_interval", c.PollInterval, DefaultPollInterval, &c.Timing.PollInterval},
		{"pace", c.Pace, DefaultPace, &c.Timing.Pace},
		{"recheck_delay", c.RecheckDelay, DefaultRecheckDelay, &c.Timing.RecheckDelay},
		{"request_timeout", c.RequestTimeout, DefaultRequestTimeout, &c.Timing.RequestTimeout},
	}
	for _, d := range durations {
		parsed, err := parseDuration(d.key, d.value, d.def)
		if err != nil {
			return err
		}
		*d.dst = parsed
	}
	if c.Timing.PollInterval == 0 {
		return errkind.Errorf(errkind.ConfigParse, op, "poll_interval must be positive")
	}

	return nil
}

// instancePattern keeps instance names usable as Redis key segments:
// lowercase alphanumeric, hyphens allowed but not at either end.
var instancePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

const maxInstanceLength = 63

func validateInstance(name string) error {
	if len(name) > maxInstanceLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), maxInstanceLength)
	}
	if !instancePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// checkURL parses raw and verifies its scheme is one of schemes.
func checkURL(key, raw string, schemes ...string) (string, error) {
	const op = "validate config"

	if raw == "" {
		return "", errkind.Errorf(errkind.ConfigParse, op, "%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errkind.Errorf(errkind.ConfigParse, op, "%s is not a valid URL: %w", key, err)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			if u.Host == "" {
				return "", errkind.Errorf(errkind.UrlScheme, op, "%s %q has no host", key, raw)
			}
			return raw, nil
		}
	}
	return "", errkind.Errorf(errkind.UrlScheme, op, "%s %q must use %s", key, raw, strings.Join(schemes, " or "))
}

func parseDuration(key, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errkind.Errorf(errkind.ConfigParse, "validate config", "invalid %s %q: %w", key, value, err)
	}
	if d < 0 {
		return 0, errkind.Errorf(errkind.ConfigParse, "validate config", "%s must not be negative", key)
	}
	return d, nil
}

// Load reads and validates a configuration file. Files ending in .toml are
// parsed as TOML; everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.New(errkind.FileAccess, "load config", fmt.Errorf("failed to read config: %w", err))
	}

	var config Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = unmarshalTOML(data, &config)
	} else {
		err = yaml.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, errkind.New(errkind.ConfigParse, "load config", fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err))
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// unmarshalTOML decodes TOML into the YAML-tagged Config by way of a generic
// map, so both formats share one set of keys and one decoder for values.
func unmarshalTOML(data []byte, out *Config) error {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return err
	}
	bridged, err := yaml.Marshal(tree.ToMap())
	if err != nil {
		return err
	}
	return yaml.Unmarshal(bridged, out)
}
