package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/posturectl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "POSTURECTL"
	DefaultConfigName = "posturectl"
	DefaultLogLevel   = string(LogLevelInfo)

	DefaultBackendURL    = "http://localhost:5000"
	DefaultUploadPath    = "/api/upload"
	DefaultStreamPath    = "/socketio/?EIO=4&transport=websocket"
	DefaultProtocol      = "socketio"
	DefaultStartIntent   = "start_video_analysis"
	DefaultHealthTimeout = 5 * time.Second
	MaxHealthTimeout     = DefaultHealthTimeout
	DefaultUploadTimeout = 30 * time.Second

	DefaultFallbackDelay      = 1 * time.Second
	DefaultUploadFailureDelay = 2 * time.Second
	DefaultSyntheticInterval  = 100 * time.Millisecond
	DefaultDemoInterval       = 1 * time.Second
	DefaultDemoDuration       = 10 * time.Second

	DefaultCameraDevice = "/dev/video0"
	DefaultRedrawRate   = 4.0

	DefaultJournalBatchSize    = 10
	DefaultJournalBatchTimeout = 5
)

type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Session   SessionConfig   `mapstructure:"session"`
	Camera    CameraConfig    `mapstructure:"camera"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

type BackendConfig struct {
	URL           string        `mapstructure:"url"`
	UploadPath    string        `mapstructure:"upload_path"`
	StreamPath    string        `mapstructure:"stream_path"`
	Protocol      string        `mapstructure:"protocol"`
	StartIntent   string        `mapstructure:"start_intent"`
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
}

type SessionConfig struct {
	FallbackDelay      time.Duration `mapstructure:"fallback_delay"`
	UploadFailureDelay time.Duration `mapstructure:"upload_failure_delay"`
	SyntheticInterval  time.Duration `mapstructure:"synthetic_interval"`
	DemoInterval       time.Duration `mapstructure:"demo_interval"`
	DemoDuration       time.Duration `mapstructure:"demo_duration"`
	// ReplaceUpdates restores wholesale snapshot replacement for backends
	// that always send complete metric sets.
	ReplaceUpdates bool `mapstructure:"replace_updates"`
}

type CameraConfig struct {
	Device string `mapstructure:"device"`
}

type JournalConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Path         string `mapstructure:"path"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchTimeout int    `mapstructure:"batch_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type DashboardConfig struct {
	RedrawRate float64 `mapstructure:"redraw_rate"`
}

// flagKeys maps command line flag names to configuration keys
var flagKeys = map[string]string{
	"backend-url":     "backend.url",
	"upload-path":     "backend.upload_path",
	"stream-path":     "backend.stream_path",
	"protocol":        "backend.protocol",
	"health-timeout":  "backend.health_timeout",
	"upload-timeout":  "backend.upload_timeout",
	"camera-device":   "camera.device",
	"journal":         "journal.enabled",
	"journal-path":    "journal.path",
	"log-level":       "log.level",
	"log-file":        "log.file",
	"metrics-addr":    "metrics.addr",
	"replace-updates": "session.replace_updates",
}

// RegisterFlags defines the flags understood by Load on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to configuration file")
	fs.String("backend-url", DefaultBackendURL, "Analysis backend base URL")
	fs.String("upload-path", DefaultUploadPath, "Upload endpoint path")
	fs.String("stream-path", DefaultStreamPath, "Streaming channel path")
	fs.String("protocol", DefaultProtocol, "Streaming channel framing (json, socketio)")
	fs.Duration("health-timeout", DefaultHealthTimeout, "Health check timeout")
	fs.Duration("upload-timeout", DefaultUploadTimeout, "Video upload timeout")
	fs.String("camera-device", DefaultCameraDevice, "Camera device path")
	fs.Bool("journal", false, "Record completed sessions in the local journal")
	fs.String("journal-path", defaultJournalPath(), "Local journal database path")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("log-file", "", "Also write JSON logs to this file")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.Bool("replace-updates", false, "Replace the whole snapshot on each analysis update")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", DefaultBackendURL)
	v.SetDefault("backend.upload_path", DefaultUploadPath)
	v.SetDefault("backend.stream_path", DefaultStreamPath)
	v.SetDefault("backend.protocol", DefaultProtocol)
	v.SetDefault("backend.start_intent", DefaultStartIntent)
	v.SetDefault("backend.health_timeout", DefaultHealthTimeout)
	v.SetDefault("backend.upload_timeout", DefaultUploadTimeout)

	v.SetDefault("session.fallback_delay", DefaultFallbackDelay)
	v.SetDefault("session.upload_failure_delay", DefaultUploadFailureDelay)
	v.SetDefault("session.synthetic_interval", DefaultSyntheticInterval)
	v.SetDefault("session.demo_interval", DefaultDemoInterval)
	v.SetDefault("session.demo_duration", DefaultDemoDuration)
	v.SetDefault("session.replace_updates", false)

	v.SetDefault("camera.device", DefaultCameraDevice)

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", defaultJournalPath())
	v.SetDefault("journal.batch_size", DefaultJournalBatchSize)
	v.SetDefault("journal.batch_timeout", DefaultJournalBatchTimeout)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", "")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("dashboard.redraw_rate", DefaultRedrawRate)
}

// Load reads configuration from defaults, an optional TOML file,
// environment variables and flags, in increasing order of precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := o.configPath
	if configPath == "" && o.flags != nil {
		if f := o.flags.Lookup("config"); f != nil && f.Changed {
			configPath = f.Value.String()
		}
	}
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath(filepath.Join(configHome(), DefaultConfigName))
		v.AddConfigPath("/etc/" + DefaultConfigName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	if o.flags != nil {
		for name, key := range flagKeys {
			f := o.flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errFactory.Wrap(errors.ErrBindFlags, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the loaded values are usable
func (c *Config) Validate() error {
	errFactory := errors.New()

	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errFactory.WithData(errors.ErrInvalidURL, c.Backend.URL)
	}

	switch c.Backend.Protocol {
	case "json", "socketio":
	default:
		return errFactory.WithData(errors.ErrInvalidConfig, "backend.protocol")
	}

	durations := map[string]time.Duration{
		"backend.health_timeout":     c.Backend.HealthTimeout,
		"backend.upload_timeout":     c.Backend.UploadTimeout,
		"session.synthetic_interval": c.Session.SyntheticInterval,
		"session.demo_interval":      c.Session.DemoInterval,
		"session.demo_duration":      c.Session.DemoDuration,
	}
	for key, d := range durations {
		if d <= 0 {
			return errFactory.WithData(errors.ErrInvalidInterval, key)
		}
	}
	if c.Backend.HealthTimeout > MaxHealthTimeout {
		return errFactory.WithData(errors.ErrInvalidInterval, "backend.health_timeout")
	}
	if c.Session.FallbackDelay < 0 || c.Session.UploadFailureDelay < 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "session delay")
	}
	if c.Session.DemoDuration < c.Session.DemoInterval {
		return errFactory.WithData(errors.ErrInvalidInterval, "session.demo_duration")
	}

	if !LogLevel(c.Log.Level).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.Log.Level)
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "journal.path")
	}

	return nil
}

// WebSocketURL derives the streaming channel URL from the backend base URL.
func (c BackendConfig) WebSocketURL() string {
	base := strings.TrimSuffix(c.URL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.StreamPath
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config")
}

func defaultJournalPath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, DefaultConfigName, "journal.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "journal.db")
	}
	return filepath.Join(home, ".local", "share", DefaultConfigName, "journal.db")
}
