package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/logandonley/backstore/pkg/spool"
	"go.uber.org/zap"
)

const localType = "local"

// LocalConfig holds the configuration for local filesystem storage
type LocalConfig struct {
	RootPath string
}

// LocalStorage implements backup storage in a local directory. All paths
// are confined to the root by a chrooted filesystem.
type LocalStorage struct {
	fs     billy.Filesystem
	root   string
	opts   *options
	log    *zap.Logger
	closed bool
}

// NewLocalStorage opens (and creates if needed) the root directory. When
// filesystem is non-nil it is used instead of the operating system
// filesystem and the root is only used for reporting.
func NewLocalStorage(config *LocalConfig, filesystem billy.Filesystem, opts ...Option) (*LocalStorage, error) {
	if config == nil || config.RootPath == "" {
		return nil, configError(localType, "root_path is required")
	}

	o := newOptions(opts)
	log := o.logger.With(zap.String("backend", localType))

	abs, err := filepath.Abs(config.RootPath)
	if err != nil {
		return nil, configError(localType, "failed to resolve root_path %s: %v", config.RootPath, err)
	}

	if filesystem == nil {
		if err := osfs.Default.MkdirAll(abs, 0o750); err != nil {
			return nil, newError(localType, "configure", "", classifyLocal(err), fmt.Errorf("failed to create root directory: %w", err))
		}
		filesystem = osfs.New(abs)
	}

	root := NormalizeRoot(filepath.ToSlash(abs))
	log.Debug("Created local storage", zap.String("root", root))

	return &LocalStorage{
		fs:   filesystem,
		root: root,
		opts: o,
		log:  log,
	}, nil
}

// Root returns the normalized root directory
func (s *LocalStorage) Root() string {
	return s.root
}

// Type returns "local"
func (s *LocalStorage) Type() string {
	return localType
}

// resolve returns the path of name inside the chroot
func (s *LocalStorage) resolve(op, name string) (string, error) {
	full, err := ResolveName("/", name)
	if err != nil {
		return "", newError(localType, op, name, ErrInvalidName, err)
	}
	if s.closed {
		return "", newError(localType, op, name, ErrClosed, nil)
	}
	return full, nil
}

// Write stores r as name
func (s *LocalStorage) Write(ctx context.Context, r io.ReadSeeker, name string) error {
	rel, err := s.resolve("write", name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return newError(localType, "write", name, ErrUnreachable, err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return newError(localType, "write", name, ErrIO, fmt.Errorf("failed to rewind source: %w", err))
	}

	// Readers never observe a partially written file
	f, err := s.fs.TempFile(path.Dir(rel), "."+path.Base(rel)+".")
	if err != nil {
		return newError(localType, "write", name, classifyLocal(err), fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpName := f.Name()

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		s.fs.Remove(tmpName)
		return newError(localType, "write", name, ErrIO, fmt.Errorf("failed to copy file contents: %w", err))
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmpName)
		return newError(localType, "write", name, ErrIO, fmt.Errorf("failed to close file: %w", err))
	}
	if err := s.fs.Rename(tmpName, rel); err != nil {
		s.fs.Remove(tmpName)
		return newError(localType, "write", name, classifyLocal(err), fmt.Errorf("failed to rename temp file: %w", err))
	}

	s.log.Debug("Wrote file", zap.String("name", name))
	return nil
}

// Read copies name into a spool
func (s *LocalStorage) Read(ctx context.Context, name string) (*spool.File, error) {
	rel, err := s.resolve("read", name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(localType, "read", name, ErrUnreachable, err)
	}

	f, err := s.fs.Open(rel)
	if err != nil {
		return nil, newError(localType, "read", name, classifyLocal(err), err)
	}
	defer f.Close()

	out, err := copyInto(s.opts, f)
	if err != nil {
		return nil, newError(localType, "read", name, ErrIO, fmt.Errorf("failed to copy file contents: %w", err))
	}
	return out, nil
}

// List lists the regular files in the root directory
func (s *LocalStorage) List(ctx context.Context) ([]string, error) {
	if s.closed {
		return nil, newError(localType, "list", "", ErrClosed, nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(localType, "list", "", ErrUnreachable, err)
	}

	infos, err := s.fs.ReadDir("/")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, newError(localType, "list", "", ErrUnreachable, err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes name
func (s *LocalStorage) Delete(ctx context.Context, name string) error {
	rel, err := s.resolve("delete", name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return newError(localType, "delete", name, ErrUnreachable, err)
	}

	info, err := s.fs.Stat(rel)
	if err != nil {
		return newError(localType, "delete", name, classifyLocal(err), err)
	}
	if info.IsDir() {
		return newError(localType, "delete", name, ErrNotFound, fmt.Errorf("%s is a directory", name))
	}

	if err := s.fs.Remove(rel); err != nil {
		return newError(localType, "delete", name, classifyLocal(err), fmt.Errorf("failed to delete file: %w", err))
	}
	return nil
}

// Close marks the storage closed
func (s *LocalStorage) Close() error {
	if s.closed {
		return newError(localType, "close", "", ErrClosed, nil)
	}
	s.closed = true
	return nil
}

func classifyLocal(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrDenied
	}
	return ErrIO
}
