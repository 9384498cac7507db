package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "veil"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg            *prom.Registry
	launches       *prom.CounterVec
	launchDuration prom.Histogram
	running        prom.Gauge
	stops          prom.Counter
	externalCloses prom.Counter
	geoLookups     *prom.CounterVec
	fingerprints   *prom.CounterVec
}

// NewPrometheusRecorder constructs the collectors and registers them on
// reg. A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg: reg,
		launches: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "launches_total",
			Help:      "Profile launch attempts by result",
		}, []string{"result"}),
		launchDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "launch_duration_seconds",
			Help:      "Time from launch request to running browser",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		running: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_running",
			Help:      "Browser sessions currently running",
		}),
		stops: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stops_total",
			Help:      "Explicit session stops",
		}),
		externalCloses: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "external_closes_total",
			Help:      "Sessions closed outside of veil, e.g. by the user closing the window",
		}),
		geoLookups: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "geoip_lookups_total",
			Help:      "Egress IP geolocation lookups by result",
		}, []string{"result"}),
		fingerprints: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "fingerprints_total",
			Help:      "Fingerprint resolutions by outcome",
		}, []string{"outcome"}),
	}
	reg.MustRegister(pr.launches, pr.launchDuration, pr.running, pr.stops, pr.externalCloses, pr.geoLookups, pr.fingerprints)
	return pr
}

// Handler serves the recorder's registry in the Prometheus text format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *PrometheusRecorder) IncLaunch(result string) {
	if p == nil {
		return
	}
	p.launches.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) ObserveLaunchDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.launchDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetRunningSessions(n int) {
	if p == nil {
		return
	}
	p.running.Set(float64(n))
}

func (p *PrometheusRecorder) IncStop() {
	if p == nil {
		return
	}
	p.stops.Inc()
}

func (p *PrometheusRecorder) IncExternalClose() {
	if p == nil {
		return
	}
	p.externalCloses.Inc()
}

func (p *PrometheusRecorder) IncGeoLookup(result string) {
	if p == nil {
		return
	}
	p.geoLookups.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) IncFingerprint(outcome string) {
	if p == nil {
		return
	}
	p.fingerprints.WithLabelValues(outcome).Inc()
}
