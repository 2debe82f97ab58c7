// Package metrics exposes Prometheus instruments for key and signing operations.
// Instruments live on an instance so each process (or test) owns its registry.
package metrics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"recall254/go-core/internal/keyerr"
	"recall254/go-core/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "recall254"

type Metrics struct {
	Operations *prometheus.CounterVec
	KDFSeconds prometheus.Histogram
	KeyState   *prometheus.GaugeVec
}

// New creates the instruments and registers them on reg (default registerer if nil).
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_operations_total",
			Help:      "Key lifecycle and signing operations by outcome.",
		}, []string{"operation", "outcome"}),
		KDFSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kdf_duration_seconds",
			Help:      "Time spent deriving wrapping keys.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
		KeyState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "key_state",
			Help:      "1 for the current key lifecycle state.",
		}, []string{"state"}),
	}
	var err error
	if m.Operations, err = register(reg, m.Operations); err != nil {
		return nil, err
	}
	if m.KDFSeconds, err = register(reg, m.KDFSeconds); err != nil {
		return nil, err
	}
	if m.KeyState, err = register(reg, m.KeyState); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg. When an equal collector is already registered the
// existing one is returned, so every instance on a registry counts into the
// same series.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return c, err
	}
	existing, ok := are.ExistingCollector.(C)
	if !ok {
		return c, fmt.Errorf("metrics: collector registered with a different type: %w", err)
	}
	return existing, nil
}

// Observe counts one operation; the outcome label is "ok" or the error kind.
func (m *Metrics) Observe(operation string, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, Outcome(err)).Inc()
}

func (m *Metrics) ObserveKDF(d time.Duration) {
	if m == nil {
		return
	}
	m.KDFSeconds.Observe(d.Seconds())
}

func (m *Metrics) SetState(state models.KeyState) {
	if m == nil {
		return
	}
	for _, s := range []models.KeyState{models.KeyStateNone, models.KeyStateLocked, models.KeyStateReady} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.KeyState.WithLabelValues(string(s)).Set(v)
	}
}

func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	kind := keyerr.KindOf(err)
	if kind == keyerr.Unknown {
		return "error"
	}
	return strings.ToLower(kind.String())
}

// WriteTextfile dumps g in the node_exporter textfile format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, g)
}
