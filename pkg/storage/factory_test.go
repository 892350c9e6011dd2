package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/logandonley/backstore/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("local", func(t *testing.T) {
		cfg := config.Default().Storage
		cfg.Backend = "local"
		cfg.Local.RootPath = filepath.Join(t.TempDir(), "backups")
		cfg.SpillDirectory = t.TempDir()

		s, err := New(ctx, &cfg)
		require.NoError(t, err)
		defer s.Close()

		assert.Equal(t, "local", s.Type())
		require.NoError(t, s.Write(ctx, bytes.NewReader([]byte("x")), "a"))
		assert.Equal(t, []byte("x"), readAll(t, s, "a"))
	})

	t.Run("sftp", func(t *testing.T) {
		cfg := config.Default().Storage
		cfg.SFTP.Host = "sftp.example.com"
		cfg.SFTP.User = "backups"
		cfg.SFTP.Credential = "secret"
		cfg.SFTP.RootPath = "nightly"

		d := &memDialer{t: t}
		s, err := New(ctx, &cfg, WithDialer(d.dial))
		require.NoError(t, err)
		defer s.Close()

		assert.Equal(t, "sftp", s.Type())
		assert.Equal(t, "/nightly/", s.Root())
		assert.Equal(t, 1, d.calls)
	})

	t.Run("sftp missing host", func(t *testing.T) {
		cfg := config.Default().Storage
		d := &memDialer{t: t}
		_, err := New(ctx, &cfg, WithDialer(d.dial))
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Zero(t, d.calls)
	})

	t.Run("s3", func(t *testing.T) {
		cfg := config.Default().Storage
		cfg.Backend = "s3"
		cfg.S3.Bucket = "backups"

		s, err := New(ctx, &cfg)
		require.NoError(t, err)
		assert.Equal(t, "s3", s.Type())
		assert.Equal(t, "/", s.Root())
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := config.Default().Storage
		cfg.Backend = "ftp"
		_, err := New(ctx, &cfg)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("nil", func(t *testing.T) {
		_, err := New(ctx, nil)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}
