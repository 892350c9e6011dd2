// Package cmd implements the backstore subcommands.
package cmd

import (
	"context"
	"fmt"

	"github.com/logandonley/backstore/pkg/config"
	"github.com/logandonley/backstore/pkg/metrics"
	"github.com/logandonley/backstore/pkg/storage"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Runtime carries what the root command resolved before a subcommand runs
type Runtime struct {
	// Viper holds the merged file, environment and flag settings
	Viper *viper.Viper
	// Logger is passed to the storage backend
	Logger *zap.Logger
	// Metrics wraps the backend when set
	Metrics *metrics.Metrics
	// Credential overrides storage.sftp.credential when non-empty
	Credential string

	// Options are appended to the backend options, used by tests
	Options []storage.Option
}

// NewRuntime returns a Runtime reading settings from v
func NewRuntime(v *viper.Viper) *Runtime {
	return &Runtime{Viper: v, Logger: zap.NewNop()}
}

// SetDefaults registers every configuration key on v so that environment
// variables are honoured even when the config file omits a key
func SetDefaults(v *viper.Viper) {
	d := config.Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	s := d.Storage
	v.SetDefault("storage.backend", s.Backend)
	v.SetDefault("storage.max_in_memory_size", s.MaxInMemorySize)
	v.SetDefault("storage.spill_directory", s.SpillDirectory)

	v.SetDefault("storage.sftp.host", s.SFTP.Host)
	v.SetDefault("storage.sftp.port", s.SFTP.Port)
	v.SetDefault("storage.sftp.user", s.SFTP.User)
	v.SetDefault("storage.sftp.credential", s.SFTP.Credential)
	v.SetDefault("storage.sftp.key_file", s.SFTP.KeyFile)
	v.SetDefault("storage.sftp.known_hosts", s.SFTP.KnownHosts)
	v.SetDefault("storage.sftp.root_path", s.SFTP.RootPath)
	v.SetDefault("storage.sftp.passive_mode", s.SFTP.PassiveMode)
	v.SetDefault("storage.sftp.atomic_writes", s.SFTP.AtomicWrites)
	v.SetDefault("storage.sftp.dial_timeout", s.SFTP.DialTimeout)

	v.SetDefault("storage.s3.endpoint", s.S3.Endpoint)
	v.SetDefault("storage.s3.region", s.S3.Region)
	v.SetDefault("storage.s3.bucket", s.S3.Bucket)
	v.SetDefault("storage.s3.access_key_id", s.S3.AccessKeyID)
	v.SetDefault("storage.s3.secret_access_key", s.S3.SecretAccessKey)
	v.SetDefault("storage.s3.root_path", s.S3.RootPath)

	v.SetDefault("storage.local.root_path", s.Local.RootPath)
}

// Config unmarshals and validates the current settings
func (r *Runtime) Config() (*config.Config, error) {
	var cfg config.Config
	if err := r.Viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.SetDefaults()
	if r.Credential != "" {
		cfg.Storage.SFTP.Credential = r.Credential
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// OpenStorage builds the configured backend. The caller must Close it.
func (r *Runtime) OpenStorage(ctx context.Context) (storage.Storage, error) {
	cfg, err := r.Config()
	if err != nil {
		return nil, err
	}

	opts := append([]storage.Option{storage.WithLogger(r.Logger)}, r.Options...)
	s, err := storage.New(ctx, &cfg.Storage, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Storage.Backend, err)
	}

	if r.Metrics != nil {
		s = r.Metrics.Wrap(s)
	}
	return s, nil
}
