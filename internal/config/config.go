// Package config loads and persists posvault settings.
//
// Settings come from three layers, later ones winning:
//   - Defaults
//   - A YAML file (posvault.yaml by default)
//   - Environment variables, optionally loaded from a .env file
//
// Backup settings are changed by user action and written back to the YAML
// file on every change with Save.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/posvault/internal/model"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "posvault.yaml"

// ErrInvalidConfig means a setting is missing or out of range.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full application configuration.
type Config struct {
	Database    string          `yaml:"database"`
	TenantID    string          `yaml:"tenant_id"`
	AppName     string          `yaml:"app_name"`
	DownloadDir string          `yaml:"download_dir"`
	Tax         model.TaxConfig `yaml:"tax"`
	Backup      Backup          `yaml:"backup"`
}

// Backup configures the backup scheduler and its destinations. A nil FTP or
// Cloud section disables that destination; an empty LocalDir disables the
// local directory destination.
type Backup struct {
	AutoBackupEnabled bool         `yaml:"auto_backup_enabled"`
	IntervalMinutes   int          `yaml:"interval_minutes"`
	LocalDir          string       `yaml:"local_dir,omitempty"`
	FTP               *FTPConfig   `yaml:"ftp,omitempty"`
	Cloud             *CloudConfig `yaml:"cloud,omitempty"`
}

// FTPConfig is an FTP backup destination.
type FTPConfig struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"`
}

// CloudConfig is an S3-compatible object store destination.
type CloudConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database:    "posvault.db",
		AppName:     "posvault",
		DownloadDir: "downloads",
		Backup: Backup{
			IntervalMinutes: 60,
		},
	}
}

// Interval returns the scheduling period.
func (b Backup) Interval() time.Duration {
	return time.Duration(b.IntervalMinutes) * time.Minute
}

// Validate checks backup settings.
func (b Backup) Validate() error {
	if b.IntervalMinutes <= 0 {
		return fmt.Errorf("%w: backup.interval_minutes must be positive, got %d", ErrInvalidConfig, b.IntervalMinutes)
	}
	if b.FTP != nil && b.FTP.Host == "" {
		return fmt.Errorf("%w: backup.ftp.host is required", ErrInvalidConfig)
	}
	if b.Cloud != nil && b.Cloud.Bucket == "" {
		return fmt.Errorf("%w: backup.cloud.bucket is required", ErrInvalidConfig)
	}
	return nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}
	if c.AppName == "" {
		return fmt.Errorf("%w: app_name is required", ErrInvalidConfig)
	}
	if c.Tax.Percentage.IsNegative() {
		return fmt.Errorf("%w: tax.percentage must not be negative", ErrInvalidConfig)
	}
	return c.Backup.Validate()
}

// Load reads the configuration. A missing file is not an error; the
// defaults and environment apply. A .env file in the working directory is
// loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path. The file is replaced atomically and
// is readable only by its owner, since it may hold destination credentials.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath
	}
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".posvault-config-*")
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("save config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// applyEnv overrides settings from POSVAULT_* and AWS_* variables.
func applyEnv(cfg *Config) error {
	setString(&cfg.Database, "POSVAULT_DB")
	setString(&cfg.TenantID, "POSVAULT_TENANT_ID")
	setString(&cfg.AppName, "POSVAULT_APP_NAME")
	setString(&cfg.DownloadDir, "POSVAULT_DOWNLOAD_DIR")
	setString(&cfg.Backup.LocalDir, "POSVAULT_BACKUP_DIR")

	if v, ok := os.LookupEnv("POSVAULT_AUTO_BACKUP"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: POSVAULT_AUTO_BACKUP: %v", ErrInvalidConfig, err)
		}
		cfg.Backup.AutoBackupEnabled = enabled
	}
	if v, ok := os.LookupEnv("POSVAULT_BACKUP_INTERVAL_MINUTES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: POSVAULT_BACKUP_INTERVAL_MINUTES: %v", ErrInvalidConfig, err)
		}
		cfg.Backup.IntervalMinutes = n
	}

	if host := os.Getenv("POSVAULT_FTP_HOST"); host != "" {
		if cfg.Backup.FTP == nil {
			cfg.Backup.FTP = &FTPConfig{}
		}
		cfg.Backup.FTP.Host = host
	}
	if ftp := cfg.Backup.FTP; ftp != nil {
		setString(&ftp.User, "POSVAULT_FTP_USER")
		setString(&ftp.Password, "POSVAULT_FTP_PASSWORD")
		setString(&ftp.Path, "POSVAULT_FTP_PATH")
	}

	if bucket := os.Getenv("POSVAULT_S3_BUCKET"); bucket != "" {
		if cfg.Backup.Cloud == nil {
			cfg.Backup.Cloud = &CloudConfig{}
		}
		cfg.Backup.Cloud.Bucket = bucket
	}
	if cloud := cfg.Backup.Cloud; cloud != nil {
		setString(&cloud.Prefix, "POSVAULT_S3_PREFIX")
		setString(&cloud.Region, "AWS_REGION")
		setString(&cloud.Endpoint, "AWS_ENDPOINT")
		setString(&cloud.Endpoint, "AWS_S3_ENDPOINT")
		setString(&cloud.AccessKeyID, "AWS_ACCESS_KEY_ID")
		setString(&cloud.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
