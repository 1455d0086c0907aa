package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/subnetops/regd/chain"
	"github.com/subnetops/regd/registration"
)

const (
	defaultConfigFilename = "regd.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "regd.log"
	defaultMetricsPort    = 2112
	defaultMaxCost        = 5_000_000_000
)

var (
	defaultRegdDir    = appDataDir("regd")
	defaultConfigFile = filepath.Join(defaultRegdDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultRegdDir, defaultLogDirname)
)

// HexKey is hex-encoded key material passed on the command line or in the
// config file. regd accepts it as-is and never writes it anywhere.
type HexKey []byte

func (k *HexKey) UnmarshalFlag(value string) error {
	b, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return fmt.Errorf("decoding key material: %w", err)
	}
	*k = b
	return nil
}

func (k *HexKey) Bytes() []byte {
	return *k
}

// Config defines the configuration options for regd.
//
// See LoadConfig for the loading+parsing process.
//
//nolint:lll
type Config struct {
	RegdDir        string `long:"regddir"    description:"The base directory for regd's logs and configuration file"`
	ConfigFile     string `short:"c" long:"configfile" description:"Path to configuration file"`
	LogDir         string `long:"logdir"     description:"Directory to log output"`
	DebugLog       bool   `long:"debuglog"   description:"Enable debug logs"`
	JSONLog        bool   `long:"jsonlog"    description:"Whether to log in JSON format"`
	MetricsListen  string `long:"metricslisten" description:"The interface/port to serve prometheus metrics on (empty disables)"`
	Profile        string `long:"profile"    description:"Enable HTTP profiling on given port -- must be between 1024 and 65535"`

	Endpoint string `long:"endpoint" description:"Websocket endpoint of the chain node"`

	Coldkey HexKey `long:"coldkey" description:"Hex-encoded coldkey material (signs and pays for the registration)" required:"true"`
	Hotkey  HexKey `long:"hotkey"  description:"Hex-encoded hotkey material (the identity being registered)" required:"true"`
	Netuid  uint16 `long:"netuid"  description:"Target subnet identifier" required:"true"`

	// MaxCost is accepted for operator familiarity but deliberately not
	// enforced by the scheduler.
	MaxCost uint64 `long:"max-cost" description:"Registration cost ceiling in RAO (currently reported, not enforced)"`

	Registration *registration.Config `group:"Registration"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	defaultReg := registration.DefaultConfig()
	return &Config{
		RegdDir:       defaultRegdDir,
		ConfigFile:    defaultConfigFile,
		LogDir:        defaultLogDir,
		MetricsListen: fmt.Sprintf("localhost:%d", defaultMetricsPort),
		Endpoint:      chain.DefaultEndpoint,
		MaxCost:       defaultMaxCost,
		Registration:  &defaultReg,
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads values from a conf file, when one exists.
func ReadConfigFile(preCfg *Config) (*Config, error) {
	preCfg.RegdDir = cleanAndExpandPath(preCfg.RegdDir)
	preCfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
	if preCfg.RegdDir != defaultRegdDir && preCfg.ConfigFile == defaultConfigFile {
		preCfg.ConfigFile = filepath.Join(preCfg.RegdDir, defaultConfigFilename)
	}

	if err := flags.IniParse(preCfg.ConfigFile, preCfg); err != nil {
		// A parsing failure is a real error; a missing file is fine.
		var iniError *flags.IniError
		if errors.As(err, &iniError) {
			return nil, err
		}
	}
	return preCfg, nil
}

// SetupConfig normalizes paths and prepares the filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	if cfg.RegdDir != defaultRegdDir {
		cfg.LogDir = filepath.Join(cfg.RegdDir, defaultLogDirname)
	}
	if err := os.MkdirAll(cfg.RegdDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating regd directory: %w", err)
	}
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	if err := os.MkdirAll(cfg.LogDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	if err := cfg.Registration.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogFile returns the rotated log file path.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

func appDataDir(app string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + app
	}
	return filepath.Join(home, "."+app)
}

// cleanAndExpandPath expands environment variables and a leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
