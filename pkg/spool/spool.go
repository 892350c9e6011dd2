// Package spool provides a read/write buffer that keeps small content in
// memory and spills larger content to a temporary file.
package spool

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// DefaultMaxInMemory is the spill threshold used when none is configured
const DefaultMaxInMemory int64 = 10 * 1024 * 1024

// ErrClosed is returned by every method called after Close
var ErrClosed = errors.New("spool: file already closed")

// File buffers content in memory until it grows past maxInMemory bytes,
// then moves it to a temporary file under dir. The temporary file is
// removed by Close.
type File struct {
	fs          afero.Fs
	dir         string
	maxInMemory int64

	buf    bytes.Buffer
	mem    *bytes.Reader
	disk   afero.File
	size   int64
	closed bool
}

// New creates an empty spool. Spill files are created on fs inside dir;
// an empty dir means the filesystem's default temp directory.
func New(fs afero.Fs, dir string, maxInMemory int64) *File {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &File{
		fs:          fs,
		dir:         dir,
		maxInMemory: maxInMemory,
	}
}

// Write appends p. Writes always append, whatever the read offset.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}

	if f.disk == nil && f.size+int64(len(p)) > f.maxInMemory {
		if err := f.spill(); err != nil {
			return 0, err
		}
	}

	if f.disk != nil {
		off, err := f.disk.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, fmt.Errorf("failed to seek spill file: %w", err)
		}
		if _, err := f.disk.Seek(0, io.SeekEnd); err != nil {
			return 0, fmt.Errorf("failed to seek spill file: %w", err)
		}
		n, err := f.disk.Write(p)
		f.size += int64(n)
		if _, serr := f.disk.Seek(off, io.SeekStart); serr != nil && err == nil {
			err = fmt.Errorf("failed to seek spill file: %w", serr)
		}
		return n, err
	}

	var off int64
	if f.mem != nil {
		off = f.mem.Size() - int64(f.mem.Len())
	}
	n, err := f.buf.Write(p)
	f.size += int64(n)
	f.mem = bytes.NewReader(f.buf.Bytes())
	f.mem.Seek(off, io.SeekStart)
	return n, err
}

// ReadFrom copies r into the spool until EOF.
func (f *File) ReadFrom(r io.Reader) (int64, error) {
	return io.Copy(struct{ io.Writer }{f}, r)
}

func (f *File) spill() error {
	tmp, err := afero.TempFile(f.fs, f.dir, "backstore-spool-*")
	if err != nil {
		return fmt.Errorf("failed to create spill file: %w", err)
	}
	if _, err := tmp.Write(f.buf.Bytes()); err != nil {
		tmp.Close()
		f.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to write spill file: %w", err)
	}
	var off int64
	if f.mem != nil {
		off = f.mem.Size() - int64(f.mem.Len())
	}
	if _, err := tmp.Seek(off, io.SeekStart); err != nil {
		tmp.Close()
		f.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to seek spill file: %w", err)
	}
	f.disk = tmp
	f.buf = bytes.Buffer{}
	f.mem = nil
	return nil
}

func (f *File) reader() *bytes.Reader {
	if f.mem == nil {
		f.mem = bytes.NewReader(f.buf.Bytes())
	}
	return f.mem
}

// Read reads from the current offset.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.disk != nil {
		return f.disk.Read(p)
	}
	return f.reader().Read(p)
}

// Seek moves the read offset.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.disk != nil {
		return f.disk.Seek(offset, whence)
	}
	return f.reader().Seek(offset, whence)
}

// Rewind moves the read offset back to the start.
func (f *File) Rewind() error {
	_, err := f.Seek(0, io.SeekStart)
	return err
}

// Size returns the number of bytes written so far.
func (f *File) Size() int64 {
	return f.size
}

// Spilled reports whether the content lives in a temporary file.
func (f *File) Spilled() bool {
	return f.disk != nil
}

// Name returns the spill file path, or "" while the content is in memory.
func (f *File) Name() string {
	if f.disk == nil {
		return ""
	}
	return f.disk.Name()
}

// Close releases the buffer and removes the spill file, if any. Calling
// Close more than once is allowed.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.buf = bytes.Buffer{}
	f.mem = nil

	if f.disk == nil {
		return nil
	}

	name := f.disk.Name()
	var errs []error
	if err := f.disk.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close spill file: %w", err))
	}
	if err := f.fs.Remove(name); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove spill file: %w", err))
	}
	f.disk = nil
	return errors.Join(errs...)
}
