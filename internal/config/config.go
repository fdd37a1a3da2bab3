// Package config provides configuration management for the Cutroom Agent.
// Configuration is loaded from environment variables (optionally seeded from
// a .env file) with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort           = 8687
	DefaultLogLevel       = "info"
	DefaultDataDir        = ".cutroom"
	DefaultFrameRate      = 30
	DefaultOutputFormat   = "mp4"
	DefaultProbeTimeout   = 5 * time.Second
	DefaultPollInterval   = 750 * time.Millisecond
	DefaultCompileTimeout = 10 * time.Minute
	DefaultMaxAssetBytes  = 4 * 1024 * 1024 * 1024 // 4GB

	// Environment variable names
	EnvPort           = "CUTROOM_PORT"
	EnvLogLevel       = "CUTROOM_LOG_LEVEL"
	EnvDataDir        = "CUTROOM_DATA_DIR"
	EnvRemoteURL      = "CUTROOM_REMOTE_URL"
	EnvRemoteToken    = "CUTROOM_REMOTE_TOKEN"
	EnvProbeTimeout   = "CUTROOM_PROBE_TIMEOUT"
	EnvPollInterval   = "CUTROOM_POLL_INTERVAL"
	EnvCompileTimeout = "CUTROOM_COMPILE_TIMEOUT"
	EnvMaxAssetBytes  = "CUTROOM_MAX_ASSET_BYTES"
	EnvFrameRate      = "CUTROOM_FRAME_RATE"
	EnvHeadless       = "CUTROOM_HEADLESS"

	// Database filename
	DBFilename = "cutroom.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ArtifactsDir() string
	RemoteURL() string
	RemoteToken() string
	ProbeTimeout() time.Duration
	PollInterval() time.Duration
	CompileTimeout() time.Duration
	MaxAssetBytes() int64
	FrameRate() int
	OutputFormat() string
	Headless() bool
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port           int
	logLevel       string
	dataDir        string
	remoteURL      string
	remoteToken    string
	probeTimeout   time.Duration
	pollInterval   time.Duration
	compileTimeout time.Duration
	maxAssetBytes  int64
	frameRate      int
	headless       bool
}

// New creates a new EnvConfig with defaults and environment variable
// overrides. A .env file in the working directory, if present, is loaded
// first without clobbering variables already set in the environment.
func New() (*EnvConfig, error) {
	_ = godotenv.Load()

	cfg := &EnvConfig{
		port:           DefaultPort,
		logLevel:       DefaultLogLevel,
		dataDir:        defaultDataDir(),
		probeTimeout:   DefaultProbeTimeout,
		pollInterval:   DefaultPollInterval,
		compileTimeout: DefaultCompileTimeout,
		maxAssetBytes:  DefaultMaxAssetBytes,
		frameRate:      DefaultFrameRate,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.remoteURL = os.Getenv(EnvRemoteURL)
	cfg.remoteToken = os.Getenv(EnvRemoteToken)

	if d, err := durationEnv(EnvProbeTimeout); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.probeTimeout = d
	}

	if d, err := durationEnv(EnvPollInterval); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.pollInterval = d
	}

	if d, err := durationEnv(EnvCompileTimeout); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.compileTimeout = d
	}

	if mb := os.Getenv(EnvMaxAssetBytes); mb != "" {
		n, err := strconv.ParseInt(mb, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s: %q", EnvMaxAssetBytes, mb)
		}
		cfg.maxAssetBytes = n
	}

	if fr := os.Getenv(EnvFrameRate); fr != "" {
		n, err := strconv.Atoi(fr)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid %s: %q", EnvFrameRate, fr)
		}
		cfg.frameRate = n
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	return cfg, nil
}

func durationEnv(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ArtifactsDir returns the directory locally rendered artifacts land in
func (c *EnvConfig) ArtifactsDir() string {
	return filepath.Join(c.dataDir, "artifacts")
}

// RemoteURL returns the remote transcode service base URL; empty disables
// the remote tier and every compile runs locally.
func (c *EnvConfig) RemoteURL() string {
	return c.remoteURL
}

// RemoteToken returns the bearer token for the remote transcode service
func (c *EnvConfig) RemoteToken() string {
	return c.remoteToken
}

// ProbeTimeout returns the remote health probe timeout
func (c *EnvConfig) ProbeTimeout() time.Duration {
	return c.probeTimeout
}

// PollInterval returns the remote job polling interval
func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

// CompileTimeout returns the overall ceiling on a remote compile job
func (c *EnvConfig) CompileTimeout() time.Duration {
	return c.compileTimeout
}

// MaxAssetBytes returns the per-asset size limit enforced at validation
func (c *EnvConfig) MaxAssetBytes() int64 {
	return c.maxAssetBytes
}

// FrameRate returns the output frame rate for locally rendered artifacts
func (c *EnvConfig) FrameRate() int {
	return c.frameRate
}

// OutputFormat returns the artifact container format
func (c *EnvConfig) OutputFormat() string {
	return DefaultOutputFormat
}

// Headless reports whether the system tray UI is disabled
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
