// Package metrics provides Prometheus metrics for storage operations.
package metrics

import (
	"context"
	"io"
	"time"

	"github.com/logandonley/backstore/pkg/spool"
	"github.com/logandonley/backstore/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the storage collectors registered on one registry
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesWritten      *prometheus.CounterVec
	bytesRead         *prometheus.CounterVec
}

// New registers the storage collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backstore_storage_operations_total",
				Help: "Total storage operations by result",
			},
			[]string{"backend", "operation", "result"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backstore_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),
		bytesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backstore_storage_bytes_written_total",
				Help: "Total bytes written to storage",
			},
			[]string{"backend"},
		),
		bytesRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backstore_storage_bytes_read_total",
				Help: "Total bytes read from storage",
			},
			[]string{"backend"},
		),
	}
}

// Wrap returns a Storage that records every call made through it
func (m *Metrics) Wrap(s storage.Storage) storage.Storage {
	return &instrumented{Storage: s, m: m}
}

func (m *Metrics) record(backend, op string, start time.Time, err error) {
	m.operationsTotal.WithLabelValues(backend, op, storage.KindName(err)).Inc()
	m.operationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

type instrumented struct {
	storage.Storage
	m *Metrics
}

// countingReader counts the bytes read since the last seek, which after a
// successful Write is the size of the transfer
type countingReader struct {
	io.ReadSeeker
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.ReadSeeker.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) Seek(offset int64, whence int) (int64, error) {
	c.n = 0
	return c.ReadSeeker.Seek(offset, whence)
}

func (s *instrumented) Write(ctx context.Context, r io.ReadSeeker, name string) error {
	start := time.Now()
	cr := &countingReader{ReadSeeker: r}
	err := s.Storage.Write(ctx, cr, name)
	s.m.record(s.Type(), "write", start, err)
	if err == nil {
		s.m.bytesWritten.WithLabelValues(s.Type()).Add(float64(cr.n))
	}
	return err
}

func (s *instrumented) Read(ctx context.Context, name string) (*spool.File, error) {
	start := time.Now()
	f, err := s.Storage.Read(ctx, name)
	s.m.record(s.Type(), "read", start, err)
	if err == nil {
		s.m.bytesRead.WithLabelValues(s.Type()).Add(float64(f.Size()))
	}
	return f, err
}

func (s *instrumented) List(ctx context.Context) ([]string, error) {
	start := time.Now()
	names, err := s.Storage.List(ctx)
	s.m.record(s.Type(), "list", start, err)
	return names, err
}

func (s *instrumented) Delete(ctx context.Context, name string) error {
	start := time.Now()
	err := s.Storage.Delete(ctx, name)
	s.m.record(s.Type(), "delete", start, err)
	return err
}
