package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gzhole/calshield/internal/scan"
)

const (
	// DefaultStateDirName is the per-user state directory under $HOME.
	DefaultStateDirName = ".calshield"
	// DefaultConfigFile is the config filename inside the state dir.
	DefaultConfigFile = "config.yaml"
	// DefaultAPIURL is the community threat-intel service.
	DefaultAPIURL = "https://intel.calshield.dev/api/v1"
)

// Config is the whole user-facing configuration. Everything has a
// working default; a missing config file is not an error.
type Config struct {
	StateDir    string          `yaml:"state_dir"`
	OwnerDomain string          `yaml:"owner_domain"`
	Thresholds  scan.Thresholds `yaml:"thresholds"`
	Quarantine  QuarantineCfg   `yaml:"quarantine"`
	Cache       CacheCfg        `yaml:"cache"`
	Cloud       CloudCfg        `yaml:"cloud"`
}

type QuarantineCfg struct {
	TTLDays int `yaml:"ttl_days"`
}

type CacheCfg struct {
	TTLHours int `yaml:"ttl_hours"`
}

type CloudCfg struct {
	Enabled           bool   `yaml:"enabled"`
	APIURL            string `yaml:"api_url"`
	SyncIntervalHours int    `yaml:"sync_interval_hours"`
}

// Default returns the built-in configuration.
func Default() *Config {
	stateDir := DefaultStateDirName
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, DefaultStateDirName)
	}
	return &Config{
		StateDir:   stateDir,
		Thresholds: scan.DefaultThresholds(),
		Quarantine: QuarantineCfg{TTLDays: 7},
		Cache:      CacheCfg{TTLHours: 24},
		Cloud: CloudCfg{
			Enabled:           false,
			APIURL:            DefaultAPIURL,
			SyncIntervalHours: 6,
		},
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist. An unreadable, unparseable, or invalid config is
// an error: the engine must never start on a half-understood policy.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = filepath.Join(cfg.StateDir, DefaultConfigFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects threshold orderings the scorer cannot honor and
// nonsensical TTLs.
func (c *Config) Validate() error {
	t := c.Thresholds
	if t.Suspicious < 0 || t.Critical > 1 {
		return fmt.Errorf("thresholds must lie within [0, 1], got %+v", t)
	}
	if !(t.Suspicious < t.Dangerous && t.Dangerous < t.Critical) {
		return fmt.Errorf("thresholds must be strictly increasing, got %+v", t)
	}
	if c.Quarantine.TTLDays < 0 || c.Cache.TTLHours < 0 {
		return fmt.Errorf("ttls must not be negative")
	}
	if c.Cloud.SyncIntervalHours < 0 {
		return fmt.Errorf("sync interval must not be negative")
	}
	return nil
}

// State layout under StateDir:
//
//	client-id                      anonymous installation id
//	config.yaml                    this configuration
//	logs/audit-YYYY-MM-DD.jsonl    audit records
//	quarantine/<id>.json           quarantined originals
//	cache/threat-intel.json        threat-intel cache

func (c *Config) LogsDir() string {
	return filepath.Join(c.StateDir, "logs")
}

func (c *Config) QuarantineDir() string {
	return filepath.Join(c.StateDir, "quarantine")
}

func (c *Config) CachePath() string {
	return filepath.Join(c.StateDir, "cache", "threat-intel.json")
}

func (c *Config) ConfigPath() string {
	return filepath.Join(c.StateDir, DefaultConfigFile)
}

func (c *Config) QuarantineTTL() time.Duration {
	return time.Duration(c.Quarantine.TTLDays) * 24 * time.Hour
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Cloud.SyncIntervalHours) * time.Hour
}
