// Package storage defines the backend contract used for every backup file
// operation and provides SFTP, S3 and local filesystem implementations.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/logandonley/backstore/pkg/spool"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Storage defines the interface for backup storage implementations.
// Implementations are not safe for concurrent use.
type Storage interface {
	// Write uploads the full content of r as name under the storage root,
	// replacing any existing object. r is rewound first and never closed.
	// name is a single path element; names containing "/" are rejected
	// with ErrInvalidName.
	Write(ctx context.Context, r io.ReadSeeker, name string) error

	// Read downloads name into a new spool positioned at its start. The
	// caller must Close the returned file.
	Read(ctx context.Context, name string) (*spool.File, error)

	// List returns the names of all objects directly under the storage
	// root, sorted ascending.
	List(ctx context.Context) ([]string, error)

	// Delete removes name. Deleting a missing name returns ErrNotFound.
	Delete(ctx context.Context, name string) error

	// Root returns the normalized storage root
	Root() string

	// Type returns the backend type identifier ("sftp", "s3", "local")
	Type() string

	// Close releases the session. No other method may be used afterwards.
	Close() error
}

// Option customizes a backend at construction
type Option func(*options)

type options struct {
	logger      *zap.Logger
	spillFs     afero.Fs
	spillDir    string
	maxInMemory int64
	dialer      Dialer
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:      zap.NewNop(),
		spillFs:     afero.NewOsFs(),
		maxInMemory: spool.DefaultMaxInMemory,
		dialer:      dialSSH,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) newSpool() *spool.File {
	return spool.New(o.spillFs, o.spillDir, o.maxInMemory)
}

// WithLogger sets the logger used by the backend
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSpool configures how Read buffers downloads: up to maxInMemory bytes
// are kept in memory, larger content spills to a temporary file in dir.
// A maxInMemory of zero or less selects spool.DefaultMaxInMemory.
func WithSpool(dir string, maxInMemory int64) Option {
	return func(o *options) {
		if maxInMemory <= 0 {
			maxInMemory = spool.DefaultMaxInMemory
		}
		o.spillDir = dir
		o.maxInMemory = maxInMemory
	}
}

// WithSpillFs sets the filesystem spill files are created on
func WithSpillFs(fs afero.Fs) Option {
	return func(o *options) {
		if fs != nil {
			o.spillFs = fs
		}
	}
}

// WithDialer replaces the function used to open SFTP sessions
func WithDialer(d Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// spoolError marks a failure on the local side of a download, as opposed
// to a failure reading from the backend.
type spoolError struct {
	err error
}

func (e *spoolError) Error() string {
	return e.err.Error()
}

func (e *spoolError) Unwrap() error {
	return e.err
}

// isSpoolError reports whether err came from the local spool
func isSpoolError(err error) bool {
	var se *spoolError
	return errors.As(err, &se)
}

type spoolWriter struct {
	f *spool.File
}

func (w spoolWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, &spoolError{err: err}
	}
	return n, nil
}

// copyInto reads r into a fresh spool, releasing it on failure. Errors
// raised by the spool itself satisfy isSpoolError.
func copyInto(o *options, r io.Reader) (*spool.File, error) {
	f := o.newSpool()
	if _, err := io.Copy(spoolWriter{f: f}, r); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Rewind(); err != nil {
		f.Close()
		return nil, &spoolError{err: err}
	}
	return f, nil
}
