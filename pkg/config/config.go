package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied by SetDefaults
const (
	DefaultBackend      = "sftp"
	DefaultSFTPPort     = 22
	DefaultRootPath     = "."
	DefaultMaxInMemory  = 10 * 1024 * 1024
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
	DefaultDialTimeout  = 30 * time.Second
	DefaultS3Region     = "us-east-1"
	DefaultLocalRootDir = "./backups"
)

// Config represents the main configuration structure
type Config struct {
	Log     Log     `yaml:"log" mapstructure:"log"`
	Storage Storage `yaml:"storage" mapstructure:"storage"`
}

// Log represents logging settings
type Log struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Storage selects and configures the single active backend
type Storage struct {
	Backend         string `yaml:"backend" mapstructure:"backend"`
	MaxInMemorySize int64  `yaml:"max_in_memory_size" mapstructure:"max_in_memory_size"`
	SpillDirectory  string `yaml:"spill_directory" mapstructure:"spill_directory"`

	SFTP  SFTP  `yaml:"sftp" mapstructure:"sftp"`
	S3    S3    `yaml:"s3" mapstructure:"s3"`
	Local Local `yaml:"local" mapstructure:"local"`
}

// SFTP represents SFTP server configuration
type SFTP struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	User         string        `yaml:"user" mapstructure:"user"`
	Credential   string        `yaml:"credential,omitempty" mapstructure:"credential"`
	KeyFile      string        `yaml:"key_file,omitempty" mapstructure:"key_file"`
	KnownHosts   string        `yaml:"known_hosts,omitempty" mapstructure:"known_hosts"`
	RootPath     string        `yaml:"root_path" mapstructure:"root_path"`
	PassiveMode  bool          `yaml:"passive_mode" mapstructure:"passive_mode"`
	AtomicWrites bool          `yaml:"atomic_writes" mapstructure:"atomic_writes"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
}

// S3 represents S3-compatible storage configuration
type S3 struct {
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
	Region          string `yaml:"region" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
	RootPath        string `yaml:"root_path" mapstructure:"root_path"`
}

// Local represents local filesystem storage configuration
type Local struct {
	RootPath string `yaml:"root_path" mapstructure:"root_path"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in zero-valued options
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	c.Storage.SetDefaults()
}

// SetDefaults fills in zero-valued storage options
func (s *Storage) SetDefaults() {
	if s.Backend == "" {
		s.Backend = DefaultBackend
	}
	if s.MaxInMemorySize == 0 {
		s.MaxInMemorySize = DefaultMaxInMemory
	}
	if s.SpillDirectory == "" {
		s.SpillDirectory = os.TempDir()
	}
	if s.SFTP.Port == 0 {
		s.SFTP.Port = DefaultSFTPPort
	}
	if s.SFTP.RootPath == "" {
		s.SFTP.RootPath = DefaultRootPath
	}
	if s.SFTP.DialTimeout == 0 {
		s.SFTP.DialTimeout = DefaultDialTimeout
	}
	if s.S3.Region == "" {
		s.S3.Region = DefaultS3Region
	}
	if s.S3.RootPath == "" {
		s.S3.RootPath = DefaultRootPath
	}
	if s.Local.RootPath == "" {
		s.Local.RootPath = DefaultLocalRootDir
	}
}

// Validate checks the options shared by every backend. Backend specific
// required options are checked by the backend constructors.
func (c *Config) Validate() error {
	var errs []error
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks the shared storage options
func (s *Storage) Validate() error {
	var errs []error
	switch s.Backend {
	case "sftp", "s3", "local":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be one of sftp, s3, local, got %q", s.Backend))
	}
	if s.MaxInMemorySize < 0 {
		errs = append(errs, fmt.Errorf("storage.max_in_memory_size must not be negative, got %d", s.MaxInMemorySize))
	}
	if s.SFTP.Port < 0 || s.SFTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("storage.sftp.port out of range: %d", s.SFTP.Port))
	}
	return errors.Join(errs...)
}

// LoadConfig loads the configuration from a file, applies defaults and
// validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return &cfg, nil
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
