package spool

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/spill", 0700))
	return fs
}

func spillEntries(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, "/spill")
	require.NoError(t, err)
	var names []string
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names
}

func TestFile_StaysInMemoryBelowThreshold(t *testing.T) {
	fs := newTestFs(t)
	f := New(fs, "/spill", 16)
	defer f.Close()

	_, err := f.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)

	assert.False(t, f.Spilled())
	assert.Equal(t, "", f.Name())
	assert.Equal(t, int64(16), f.Size())
	assert.Empty(t, spillEntries(t, fs))

	require.NoError(t, f.Rewind())
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", string(data))
}

func TestFile_SpillsAboveThreshold(t *testing.T) {
	fs := newTestFs(t)
	f := New(fs, "/spill", 8)

	_, err := f.Write([]byte("small"))
	require.NoError(t, err)
	assert.False(t, f.Spilled())

	_, err = f.Write([]byte(" and now larger"))
	require.NoError(t, err)
	require.True(t, f.Spilled())
	assert.True(t, strings.HasPrefix(f.Name(), "/spill/backstore-spool-"))
	assert.Len(t, spillEntries(t, fs), 1)

	require.NoError(t, f.Rewind())
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "small and now larger", string(data))

	require.NoError(t, f.Close())
	assert.Empty(t, spillEntries(t, fs))
}

func TestFile_CloseWithoutReadingRemovesSpill(t *testing.T) {
	fs := newTestFs(t)
	f := New(fs, "/spill", 4)

	n, err := f.ReadFrom(bytes.NewReader(bytes.Repeat([]byte("x"), 4096)))
	require.NoError(t, err)
	assert.Equal(t, int64(4096), n)
	require.True(t, f.Spilled())

	buf := make([]byte, 10)
	require.NoError(t, f.Rewind())
	_, err = f.Read(buf)
	require.NoError(t, err)

	require.NoError(t, f.Close())
	assert.Empty(t, spillEntries(t, fs))
}

func TestFile_SeekAndWriteAppends(t *testing.T) {
	f := New(newTestFs(t), "/spill", 1024)
	defer f.Close()

	_, err := f.Write([]byte("hello"))
	require.NoError(t, err)

	pos, err := f.Seek(1, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos)

	_, err = f.Write([]byte(" world"))
	require.NoError(t, err)

	require.NoError(t, f.Rewind())
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestFile_UseAfterClose(t *testing.T) {
	f := New(newTestFs(t), "/spill", 1024)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, err := f.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFile_ZeroThresholdAlwaysSpills(t *testing.T) {
	fs := newTestFs(t)
	f := New(fs, "/spill", 0)
	defer f.Close()

	_, err := f.Write([]byte("a"))
	require.NoError(t, err)
	assert.True(t, f.Spilled())
}
