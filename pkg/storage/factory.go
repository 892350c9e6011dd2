package storage

import (
	"context"

	"github.com/logandonley/backstore/pkg/config"
)

// New builds the backend selected by cfg.Backend. opts are applied after
// the spool settings from cfg, so callers can override them.
func New(ctx context.Context, cfg *config.Storage, opts ...Option) (Storage, error) {
	if cfg == nil {
		return nil, configError("storage", "missing configuration")
	}

	all := append([]Option{WithSpool(cfg.SpillDirectory, cfg.MaxInMemorySize)}, opts...)

	var (
		s   Storage
		err error
	)
	switch cfg.Backend {
	case sftpType:
		s, err = newSFTP(ctx, &SFTPConfig{
			Host:         cfg.SFTP.Host,
			Port:         cfg.SFTP.Port,
			User:         cfg.SFTP.User,
			Credential:   cfg.SFTP.Credential,
			KeyFile:      cfg.SFTP.KeyFile,
			KnownHosts:   cfg.SFTP.KnownHosts,
			RootPath:     cfg.SFTP.RootPath,
			PassiveMode:  cfg.SFTP.PassiveMode,
			AtomicWrites: cfg.SFTP.AtomicWrites,
			DialTimeout:  cfg.SFTP.DialTimeout,
		}, all...)
	case s3Type:
		s, err = newS3(ctx, &S3Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			RootPath:        cfg.S3.RootPath,
		}, all...)
	case localType:
		s, err = newLocal(&LocalConfig{RootPath: cfg.Local.RootPath}, all...)
	default:
		return nil, configError("storage", "unsupported storage backend: %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// The constructors return concrete types; these keep a failed construction
// from turning into a non-nil Storage holding a nil pointer.

func newSFTP(ctx context.Context, config *SFTPConfig, opts ...Option) (Storage, error) {
	s, err := NewSFTPStorage(ctx, config, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newS3(ctx context.Context, config *S3Config, opts ...Option) (Storage, error) {
	s, err := NewS3Storage(ctx, config, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newLocal(config *LocalConfig, opts ...Option) (Storage, error) {
	s, err := NewLocalStorage(config, nil, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}
