package statejournal

import (
	"net/http"
	"strings"
	"sync"
	"time"

	gethmetrics "github.com/ethereum/go-ethereum/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	updateCounterGauge  = gethmetrics.NewRegisteredGauge("statejournal/update_counter", nil)
	updateMeter         = gethmetrics.NewRegisteredMeter("statejournal/update", nil)
	deleteMeter         = gethmetrics.NewRegisteredMeter("statejournal/delete", nil)
	commitTimer         = gethmetrics.NewRegisteredTimer("statejournal/commit", nil)
	rollbackMeter       = gethmetrics.NewRegisteredMeter("statejournal/rollback", nil)
	rollbackTimer       = gethmetrics.NewRegisteredTimer("statejournal/rollback/duration", nil)
	validateTimer       = gethmetrics.NewRegisteredTimer("statejournal/validate", nil)
	ssvLengthGauge      = gethmetrics.NewRegisteredGauge("statejournal/ssv/length", nil)
	rebuildAccountMeter = gethmetrics.NewRegisteredMeter("statejournal/rebuild/record", nil)
)

// registryBridge is a prometheus.Collector that mirrors a go-ethereum
// metrics.Registry into client_golang's model. It polls the registry on a
// ticker rather than on every scrape, so a slow or large registry never
// blocks a Prometheus scrape request.
type registryBridge struct {
	registry gethmetrics.Registry

	mu       sync.RWMutex
	snapshot map[string]float64
}

func newRegistryBridge(registry gethmetrics.Registry, interval time.Duration) *registryBridge {
	b := &registryBridge{registry: registry, snapshot: make(map[string]float64)}
	b.refresh()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			b.refresh()
		}
	}()
	return b
}

func (b *registryBridge) refresh() {
	snap := make(map[string]float64)
	b.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case gethmetrics.Gauge:
			snap[name] = float64(m.Value())
		case gethmetrics.GaugeFloat64:
			snap[name] = m.Value()
		case gethmetrics.Counter:
			snap[name] = float64(m.Count())
		case gethmetrics.Meter:
			snap[name] = float64(m.Snapshot().Count())
		case gethmetrics.Timer:
			snap[name] = float64(m.Snapshot().Count())
		}
	})
	b.mu.Lock()
	b.snapshot = snap
	b.mu.Unlock()
}

func (b *registryBridge) Describe(ch chan<- *prometheus.Desc) {
	// Unchecked collector: descriptors aren't known ahead of a refresh.
}

func (b *registryBridge) Collect(ch chan<- prometheus.Metric) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for name, v := range b.snapshot {
		desc := prometheus.NewDesc(sanitizeMetricName(name), name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}
}

// sanitizeMetricName replaces characters Prometheus metric names disallow
// (go-ethereum names like "statejournal/commit" use '/') with underscores.
func sanitizeMetricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		default:
			return '_'
		}
	}, name)
}

// ServeMetrics exposes the go-ethereum metrics registry (this package's
// instruments and the notary package's) in Prometheus exposition format at
// addr, via a registryBridge collector registered into its own
// prometheus.Registry and served through promhttp.
func ServeMetrics(addr string) error {
	bridge := newRegistryBridge(gethmetrics.DefaultRegistry, 10*time.Second)

	reg := prometheus.NewRegistry()
	if err := reg.Register(bridge); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
