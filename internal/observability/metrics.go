package observability

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/migration-simulator/core"
	"github.com/signalsfoundry/migration-simulator/internal/sim"
)

// SimulationCollector bundles Prometheus metrics describing a running
// simulation. It implements sim.MetricsRecorder.
type SimulationCollector struct {
	gatherer prometheus.Gatherer

	StepsTotal         prometheus.Counter
	MigrantsTotal      prometheus.Counter
	FlowsTotal         *prometheus.CounterVec
	FactorUpdatesTotal prometheus.Counter
	StepDuration       prometheus.Histogram
	StageDuration      *prometheus.HistogramVec
	PopulationChange   prometheus.Gauge
	TotalPopulation    prometheus.Gauge
	CityPopulation     *prometheus.GaugeVec
	StabilityState     prometheus.Gauge
}

var _ sim.MetricsRecorder = (*SimulationCollector)(nil)

var durationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// NewSimulationCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimulationCollector(reg prometheus.Registerer) (*SimulationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "migsim_steps_total",
		Help: "Number of completed simulation steps.",
	}), "migsim_steps_total")
	if err != nil {
		return nil, err
	}
	migrants, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "migsim_migrants_total",
		Help: "Number of people relocated across all steps.",
	}), "migsim_migrants_total")
	if err != nil {
		return nil, err
	}
	flows, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "migsim_flows_total",
		Help: "Number of migration flows by phase (decided before capacity scaling, executed after).",
	}, []string{"phase"}), "migsim_flows_total")
	if err != nil {
		return nil, err
	}
	factorUpdates, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "migsim_factor_updates_total",
		Help: "Number of factor intensities rewritten by feedback.",
	}), "migsim_factor_updates_total")
	if err != nil {
		return nil, err
	}
	stepDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "migsim_step_duration_seconds",
		Help:    "Wall-clock duration of one simulation step.",
		Buckets: durationBuckets,
	}), "migsim_step_duration_seconds")
	if err != nil {
		return nil, err
	}
	stageDuration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "migsim_stage_duration_seconds",
		Help:    "Wall-clock duration of one pipeline stage, labeled by stage name.",
		Buckets: durationBuckets,
	}, []string{"stage"}), "migsim_stage_duration_seconds")
	if err != nil {
		return nil, err
	}
	change, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "migsim_population_change",
		Help: "People relocated in the most recent step.",
	}), "migsim_population_change")
	if err != nil {
		return nil, err
	}
	total, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "migsim_total_population",
		Help: "Total population of the world after the most recent step.",
	}), "migsim_total_population")
	if err != nil {
		return nil, err
	}
	cityPop, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "migsim_city_population",
		Help: "Population of each city after the most recent step.",
	}, []string{"city"}), "migsim_city_population")
	if err != nil {
		return nil, err
	}
	stability, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "migsim_stability_state",
		Help: "Stability detector state: 0 not yet eligible, 1 running, 2 converged.",
	}), "migsim_stability_state")
	if err != nil {
		return nil, err
	}

	return &SimulationCollector{
		gatherer:           gatherer,
		StepsTotal:         steps,
		MigrantsTotal:      migrants,
		FlowsTotal:         flows,
		FactorUpdatesTotal: factorUpdates,
		StepDuration:       stepDuration,
		StageDuration:      stageDuration,
		PopulationChange:   change,
		TotalPopulation:    total,
		CityPopulation:     cityPop,
		StabilityState:     stability,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimulationCollector) Handler() http.Handler {
	return metricsHandler(c.Gatherer())
}

// ObserveStep records the measurements of one completed step.
func (c *SimulationCollector) ObserveStep(r sim.StepReport) {
	if c == nil {
		return
	}
	c.StepsTotal.Inc()
	c.MigrantsTotal.Add(float64(r.Counters.MigrantsExecuted))
	c.FlowsTotal.WithLabelValues("decided").Add(float64(r.Counters.FlowsDecided))
	c.FlowsTotal.WithLabelValues("executed").Add(float64(r.Counters.FlowsExecuted))
	c.FactorUpdatesTotal.Add(float64(r.Counters.FactorUpdates))
	c.StepDuration.Observe(r.Counters.StepDuration.Seconds())
	for stage, d := range r.Counters.StageDurations {
		c.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
	c.PopulationChange.Set(float64(r.PopulationChange))
	c.TotalPopulation.Set(float64(r.TotalPopulation))
	for _, city := range r.Cities {
		c.CityPopulation.WithLabelValues(city.ID).Set(float64(city.Population))
	}
}

// SetStabilityState publishes the detector state as its ordinal.
func (c *SimulationCollector) SetStabilityState(s core.StabilityState) {
	if c == nil {
		return
	}
	c.StabilityState.Set(float64(s))
}

// HTTPCollector records request counts and latencies for the HTTP API.
type HTTPCollector struct {
	gatherer prometheus.Gatherer

	Requests  *prometheus.CounterVec
	Durations *prometheus.HistogramVec
}

// NewHTTPCollector registers HTTP metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewHTTPCollector(reg prometheus.Registerer) (*HTTPCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "migsim_http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by route, method, and status code.",
	}, []string{"route", "method", "code"}), "migsim_http_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "migsim_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route", "method"}), "migsim_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	return &HTTPCollector{gatherer: gatherer, Requests: requests, Durations: durations}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *HTTPCollector) Handler() http.Handler {
	if c == nil {
		return metricsHandler(nil)
	}
	return metricsHandler(c.gatherer)
}

// Middleware records one sample per request. Routes are labeled by their
// chi pattern so path parameters do not explode label cardinality.
func (c *HTTPCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		if c == nil {
			return
		}
		route := RoutePattern(r)
		c.Requests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		c.Durations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// RoutePattern returns the matched chi route pattern, or "unknown" when the
// request was not routed by chi.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack is required by the websocket upgrade on /stream.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	return conn, rw, err
}
