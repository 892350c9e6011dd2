package storage

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves the path-style subset of the S3 API the adapter uses
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	deny    bool
}

type listBucketResult struct {
	XMLName     xml.Name      `xml:"ListBucketResult"`
	Name        string        `xml:"Name"`
	Prefix      string        `xml:"Prefix"`
	KeyCount    int           `xml:"KeyCount"`
	MaxKeys     int           `xml:"MaxKeys"`
	IsTruncated bool          `xml:"IsTruncated"`
	Contents    []listContent `xml:"Contents"`
	Prefixes    []listPrefix  `xml:"CommonPrefixes"`
}

type listContent struct {
	Key  string `xml:"Key"`
	Size int    `xml:"Size"`
}

type listPrefix struct {
	Prefix string `xml:"Prefix"`
}

func (f *fakeS3) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+code+`</Code><Message>`+code+`</Message></Error>`)
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deny {
		f.writeError(w, r, http.StatusForbidden, "AccessDenied")
		return
	}

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != f.bucket {
		f.writeError(w, r, http.StatusNotFound, "NoSuchBucket")
		return
	}

	switch {
	case key == "" && r.Method == http.MethodGet:
		f.list(w, r.URL.Query().Get("prefix"), r.URL.Query().Get("delimiter"))
	case r.Method == http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			f.writeError(w, r, http.StatusBadRequest, "IncompleteBody")
			return
		}
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		body, ok := f.objects[key]
		if !ok {
			f.writeError(w, r, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(body)
		}
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		f.writeError(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func (f *fakeS3) list(w http.ResponseWriter, prefix, delimiter string) {
	result := listBucketResult{Name: f.bucket, Prefix: prefix, MaxKeys: 1000}
	seen := map[string]bool{}

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				p := prefix + rest[:i+len(delimiter)]
				if !seen[p] {
					seen[p] = true
					result.Prefixes = append(result.Prefixes, listPrefix{Prefix: p})
				}
				continue
			}
		}
		result.Contents = append(result.Contents, listContent{Key: k, Size: len(f.objects[k])})
	}
	result.KeyCount = len(result.Contents) + len(result.Prefixes)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, xml.Header)
	xml.NewEncoder(w).Encode(result)
}

func newTestS3(t *testing.T, rootPath string) (*S3Storage, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "backups", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewS3Storage(context.Background(), &S3Config{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		Bucket:          "backups",
		AccessKeyID:     "access",
		SecretAccessKey: "secret",
		RootPath:        rootPath,
	})
	require.NoError(t, err)
	return s, fake
}

func TestS3Storage_RoundTrip(t *testing.T) {
	s, fake := newTestS3(t, "nightly")
	ctx := context.Background()

	assert.Equal(t, "/nightly/", s.Root())
	assert.Equal(t, "s3", s.Type())

	src := bytes.NewReader([]byte("database dump"))
	src.Seek(4, io.SeekStart)
	require.NoError(t, s.Write(ctx, src, "db.dump"))
	assert.Equal(t, []byte("database dump"), fake.objects["nightly/db.dump"])

	assert.Equal(t, []byte("database dump"), readAll(t, s, "db.dump"))
}

func TestS3Storage_ListDirectChildren(t *testing.T) {
	s, fake := newTestS3(t, "nightly")
	ctx := context.Background()

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	fake.objects["nightly/b"] = []byte("b")
	fake.objects["nightly/a"] = []byte("a")
	fake.objects["nightly/sub/c"] = []byte("c")
	fake.objects["other/d"] = []byte("d")

	names, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestS3Storage_BucketRoot(t *testing.T) {
	s, fake := newTestS3(t, "")
	ctx := context.Background()

	assert.Equal(t, "/", s.Root())
	require.NoError(t, s.Write(ctx, bytes.NewReader([]byte("x")), "top"))
	assert.Contains(t, fake.objects, "top")

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"top"}, names)
}

func TestS3Storage_Delete(t *testing.T) {
	s, fake := newTestS3(t, "nightly")
	ctx := context.Background()

	fake.objects["nightly/old"] = []byte("old")
	require.NoError(t, s.Delete(ctx, "old"))
	assert.NotContains(t, fake.objects, "nightly/old")

	err := s.Delete(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Storage_ReadMissing(t *testing.T) {
	s, _ := newTestS3(t, "nightly")

	_, err := s.Read(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "not_found", KindName(err))
}

func TestS3Storage_Denied(t *testing.T) {
	s, fake := newTestS3(t, "nightly")
	fake.deny = true
	ctx := context.Background()

	assert.ErrorIs(t, s.Write(ctx, bytes.NewReader([]byte("x")), "a"), ErrDenied)
	_, err := s.List(ctx)
	assert.ErrorIs(t, err, ErrDenied)
}

func TestS3Storage_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s, err := NewS3Storage(context.Background(), &S3Config{
		Endpoint:        url,
		Region:          "us-east-1",
		Bucket:          "backups",
		AccessKeyID:     "access",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	_, err = s.List(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestNewS3Storage_MissingOptions(t *testing.T) {
	tests := []struct {
		name   string
		config *S3Config
	}{
		{"nil", nil},
		{"no bucket", &S3Config{Region: "us-east-1"}},
		{"no region", &S3Config{Bucket: "b"}},
		{"half credentials", &S3Config{Bucket: "b", Region: "us-east-1", AccessKeyID: "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewS3Storage(context.Background(), tt.config)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestS3Storage_RejectsAndCloses(t *testing.T) {
	s, fake := newTestS3(t, "nightly")
	ctx := context.Background()

	assert.ErrorIs(t, s.Write(ctx, bytes.NewReader([]byte("x")), "../escape"), ErrInvalidName)
	assert.Empty(t, fake.objects)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrClosed)
	assert.ErrorIs(t, s.Close(), ErrClosed)
}
