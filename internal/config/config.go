package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/genricoloni/multicam/internal/display"
	"github.com/genricoloni/multicam/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath  = "~/.config/multicam/sources.yaml"
	defaultOutputDir   = "/tmp/multicam"
	defaultFFmpegPath  = "ffmpeg"
	defaultSourceCount = 4

	defaultBackoffInterval     = 2 * time.Second
	defaultReadYield           = 10 * time.Millisecond
	defaultTickInterval        = time.Millisecond
	defaultOfflineTickInterval = time.Second
	defaultConnectTimeout      = 10 * time.Second
	defaultSnapshotInterval    = 100 * time.Millisecond
)

// fileConfig is the on-disk YAML layout. Pointer fields distinguish
// "not set" from an explicit zero.
type fileConfig struct {
	OutputDir           string                `yaml:"output_dir"`
	FFmpegPath          string                `yaml:"ffmpeg_path"`
	BackoffInterval     *time.Duration        `yaml:"backoff_interval"`
	ReadYield           *time.Duration        `yaml:"read_yield"`
	TickInterval        *time.Duration        `yaml:"tick_interval"`
	OfflineTickInterval *time.Duration        `yaml:"offline_tick_interval"`
	ConnectTimeout      *time.Duration        `yaml:"connect_timeout"`
	SnapshotInterval    *time.Duration        `yaml:"snapshot_interval"`
	TimestampOverlay    bool                  `yaml:"timestamp_overlay"`
	Notifications       *bool                 `yaml:"notifications"`
	Sources             []domain.SourceConfig `yaml:"sources"`
}

// AppConfig holds application configuration
type AppConfig struct {
	logger *zap.Logger
	path   string

	sources             []domain.SourceConfig
	outputDir           string
	ffmpegPath          string
	backoffInterval     time.Duration
	readYield           time.Duration
	tickInterval        time.Duration
	offlineTickInterval time.Duration
	connectTimeout      time.Duration
	snapshotInterval    time.Duration
	timestampOverlay    bool
	notifications       bool
}

// NewAppConfig loads the source list from MULTICAM_CONFIG (or the default
// path) and applies defaults. Target sizes default to one cell of a 2x2 grid
// on res. A missing file yields four disabled sources.
func NewAppConfig(logger *zap.Logger, res *domain.ScreenResolution) (*AppConfig, error) {
	path := os.Getenv("MULTICAM_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	path = expandPath(path)

	var fc fileConfig
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("Config file not found, starting with empty sources", zap.String("path", path))
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg, err := build(fc, res)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	cfg.logger = logger
	cfg.path = path

	// Environment takes precedence over the file
	if dir := os.Getenv("MULTICAM_OUTPUT_DIR"); dir != "" {
		cfg.outputDir = expandPath(dir)
	}

	enabled := 0
	for _, s := range cfg.sources {
		if s.Enabled() {
			enabled++
		}
	}
	logger.Info("Configuration loaded",
		zap.String("path", path),
		zap.String("outputDir", cfg.outputDir),
		zap.Int("sources", len(cfg.sources)),
		zap.Int("enabled", enabled),
		zap.Duration("backoff", cfg.backoffInterval))

	return cfg, nil
}

func build(fc fileConfig, res *domain.ScreenResolution) (*AppConfig, error) {
	screen := display.FallbackResolution
	if res != nil {
		screen = *res
	}
	slotW, slotH := display.SlotSize(screen)

	cfg := &AppConfig{
		outputDir:        fc.OutputDir,
		ffmpegPath:       fc.FFmpegPath,
		timestampOverlay: fc.TimestampOverlay,
		notifications:    true,
	}
	if cfg.outputDir == "" {
		cfg.outputDir = defaultOutputDir
	}
	cfg.outputDir = expandPath(cfg.outputDir)
	if cfg.ffmpegPath == "" {
		cfg.ffmpegPath = defaultFFmpegPath
	}
	if fc.Notifications != nil {
		cfg.notifications = *fc.Notifications
	}

	var err error
	durations := []struct {
		name string
		in   *time.Duration
		def  time.Duration
		out  *time.Duration
		zero bool // whether zero is a meaningful value
	}{
		{"backoff_interval", fc.BackoffInterval, defaultBackoffInterval, &cfg.backoffInterval, false},
		{"read_yield", fc.ReadYield, defaultReadYield, &cfg.readYield, true},
		{"tick_interval", fc.TickInterval, defaultTickInterval, &cfg.tickInterval, false},
		{"offline_tick_interval", fc.OfflineTickInterval, defaultOfflineTickInterval, &cfg.offlineTickInterval, false},
		{"connect_timeout", fc.ConnectTimeout, defaultConnectTimeout, &cfg.connectTimeout, false},
		{"snapshot_interval", fc.SnapshotInterval, defaultSnapshotInterval, &cfg.snapshotInterval, false},
	}
	for _, d := range durations {
		*d.out = d.def
		if d.in == nil {
			continue
		}
		switch {
		case *d.in < 0:
			err = multierr.Append(err, fmt.Errorf("%s must not be negative", d.name))
		case *d.in == 0 && !d.zero:
			err = multierr.Append(err, fmt.Errorf("%s must be positive", d.name))
		default:
			*d.out = *d.in
		}
	}

	sources := fc.Sources
	if len(sources) == 0 {
		sources = make([]domain.SourceConfig, defaultSourceCount)
	}
	cfg.sources = make([]domain.SourceConfig, len(sources))
	for i, s := range sources {
		if s.Name == "" {
			s.Name = fmt.Sprintf("CAM %d", i+1)
		}
		if s.Width == 0 {
			s.Width = slotW
		}
		if s.Height == 0 {
			s.Height = slotH
		}
		if s.BufferCapacity == 0 {
			s.BufferCapacity = 1
		}
		if s.Width < 0 || s.Height < 0 {
			err = multierr.Append(err, fmt.Errorf("source %q: width and height must be positive", s.Name))
		}
		if s.BufferCapacity < 0 {
			err = multierr.Append(err, fmt.Errorf("source %q: buffer_capacity must be positive", s.Name))
		}
		cfg.sources[i] = s
	}

	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandPath expands environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

// Path returns the config file that was read (it may not exist)
func (c *AppConfig) Path() string {
	return c.path
}

// GetSources returns a copy of the ordered source list
func (c *AppConfig) GetSources() []domain.SourceConfig {
	return append([]domain.SourceConfig(nil), c.sources...)
}

// GetOutputDir returns the directory used by file sinks
func (c *AppConfig) GetOutputDir() string {
	return c.outputDir
}

// GetFFmpegPath returns the ffmpeg binary used for non-HTTP transports
func (c *AppConfig) GetFFmpegPath() string {
	return c.ffmpegPath
}

// GetBackoffInterval returns the wait between failed connection attempts
func (c *AppConfig) GetBackoffInterval() time.Duration {
	return c.backoffInterval
}

// GetReadYield returns the pause after each frame read
func (c *AppConfig) GetReadYield() time.Duration {
	return c.readYield
}

// GetTickInterval returns the display refresh interval of an online source
func (c *AppConfig) GetTickInterval() time.Duration {
	return c.tickInterval
}

// GetOfflineTickInterval returns the display refresh interval of an offline source
func (c *AppConfig) GetOfflineTickInterval() time.Duration {
	return c.offlineTickInterval
}

// GetConnectTimeout returns the bound on a single connection probe
func (c *AppConfig) GetConnectTimeout() time.Duration {
	return c.connectTimeout
}

// GetSnapshotInterval returns the polling interval for snapshot endpoints
func (c *AppConfig) GetSnapshotInterval() time.Duration {
	return c.snapshotInterval
}

// TimestampOverlay reports whether the capture time is drawn on frames
func (c *AppConfig) TimestampOverlay() bool {
	return c.timestampOverlay
}

// NotificationsEnabled reports whether desktop notifications are sent
func (c *AppConfig) NotificationsEnabled() bool {
	return c.notifications
}
