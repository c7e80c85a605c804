// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pyvm"

// Install outcomes.
const (
	OutcomeInstalled = "installed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Recorder holds the install metrics on a private registry. A nil *Recorder
// is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	installsTotal   *prometheus.CounterVec
	installDuration *prometheus.HistogramVec
	downloadBytes   prometheus.Counter
	cacheHits       prometheus.Counter
	rehashTotal     prometheus.Counter
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		installsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Install attempts by definition kind and outcome.",
		}, []string{"kind", "outcome"}),
		installDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "install_duration_seconds",
			Help:      "Wall time of install attempts.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"kind"}),
		downloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Archive bytes downloaded.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_cache_hits_total",
			Help:      "Installs served from a verified cached archive.",
		}),
		rehashTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rehash_total",
			Help:      "Shim regenerations.",
		}),
	}
}

// ObserveInstall records one install attempt.
func (r *Recorder) ObserveInstall(kind, outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.installsTotal.WithLabelValues(kind, outcome).Inc()
	if outcome != OutcomeSkipped {
		r.installDuration.WithLabelValues(kind).Observe(took.Seconds())
	}
}

// AddDownloadBytes records downloaded archive bytes.
func (r *Recorder) AddDownloadBytes(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.downloadBytes.Add(float64(n))
}

// CacheHit records an install that reused a cached archive.
func (r *Recorder) CacheHit() {
	if r == nil {
		return
	}
	r.cacheHits.Inc()
}

// Rehashed records a shim regeneration.
func (r *Recorder) Rehashed() {
	if r == nil {
		return
	}
	r.rehashTotal.Inc()
}

// Gatherer exposes the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes all metrics to path in the text exposition format.
// The write is atomic, so node-exporter never reads a partial file.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
