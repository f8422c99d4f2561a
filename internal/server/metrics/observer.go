// Package metrics exports transfer telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ishlearn_media"

// Observer records upload and download outcomes. It satisfies media.Observer.
type Observer struct {
	uploadDuration *prometheus.HistogramVec
	uploadBytes    prometheus.Counter
	uploadErrors   *prometheus.CounterVec
	downloads      *prometheus.CounterVec
}

// NewObserver registers the transfer metrics with reg, reusing collectors
// that are already registered there. A nil reg means the default registerer.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &Observer{
		uploadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Time from accepting an upload to its final outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"outcome"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Payload bytes of uploads whose record was committed.",
		}),
		uploadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_errors_total",
			Help:      "Uploads that failed after being accepted.",
		}, []string{"stage"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Download requests by outcome.",
		}, []string{"outcome"}),
	}

	var err error
	if o.uploadDuration, err = register(reg, o.uploadDuration); err != nil {
		return nil, err
	}
	if o.uploadBytes, err = register(reg, o.uploadBytes); err != nil {
		return nil, err
	}
	if o.uploadErrors, err = register(reg, o.uploadErrors); err != nil {
		return nil, err
	}
	if o.downloads, err = register(reg, o.downloads); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Observer) Upload(outcome string, bytes int64, elapsed time.Duration) {
	if o == nil {
		return
	}
	o.uploadDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if outcome == "ok" {
		o.uploadBytes.Add(float64(bytes))
		return
	}
	o.uploadErrors.WithLabelValues(outcome).Inc()
}

func (o *Observer) Download(outcome string) {
	if o == nil {
		return
	}
	o.downloads.WithLabelValues(outcome).Inc()
}

// RegisterSessionGauge exposes the number of live transfer sessions.
func RegisterSessionGauge(reg prometheus.Registerer, live func() int) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_transfer_sessions",
		Help:      "Uploads accepted but not yet finished.",
	}, func() float64 { return float64(live()) })
	_, err := register(reg, prometheus.Collector(g))
	return err
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}
