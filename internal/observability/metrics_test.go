package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/migration-simulator/core"
	"github.com/signalsfoundry/migration-simulator/internal/sim"
)

func sampleReport() sim.StepReport {
	return sim.StepReport{
		Step:             3,
		Completed:        4,
		PopulationChange: 120,
		TotalPopulation:  1000,
		Cities: []sim.CityReport{
			{ID: "berlin", Population: 600},
			{ID: "paris", Population: 400},
		},
		Counters: sim.Counters{
			FlowsDecided:     4,
			FlowsExecuted:    3,
			MigrantsExecuted: 120,
			FactorUpdates:    2,
			StepDuration:     15 * time.Millisecond,
			StageDurations: map[string]time.Duration{
				sim.StageDecision:  10 * time.Millisecond,
				sim.StageExecution: 2 * time.Millisecond,
			},
		},
	}
}

func TestSimulationCollectorObservesSteps(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimulationCollector(reg)
	if err != nil {
		t.Fatalf("NewSimulationCollector: %v", err)
	}

	collector.ObserveStep(sampleReport())
	collector.ObserveStep(sampleReport())
	collector.SetStabilityState(core.Converged)

	if got := testutil.ToFloat64(collector.StepsTotal); got != 2 {
		t.Fatalf("migsim_steps_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.MigrantsTotal); got != 240 {
		t.Fatalf("migsim_migrants_total = %v, want 240", got)
	}
	if got := testutil.ToFloat64(collector.FlowsTotal.WithLabelValues("decided")); got != 8 {
		t.Fatalf("migsim_flows_total{decided} = %v, want 8", got)
	}
	if got := testutil.ToFloat64(collector.FlowsTotal.WithLabelValues("executed")); got != 6 {
		t.Fatalf("migsim_flows_total{executed} = %v, want 6", got)
	}
	if got := testutil.ToFloat64(collector.PopulationChange); got != 120 {
		t.Fatalf("migsim_population_change = %v, want 120", got)
	}
	if got := testutil.ToFloat64(collector.CityPopulation.WithLabelValues("paris")); got != 400 {
		t.Fatalf("migsim_city_population{paris} = %v, want 400", got)
	}
	if got := testutil.ToFloat64(collector.StabilityState); got != 2 {
		t.Fatalf("migsim_stability_state = %v, want 2", got)
	}
	if count := histogramSampleCount(t, reg, "migsim_stage_duration_seconds", map[string]string{"stage": "decision"}); count != 2 {
		t.Fatalf("migsim_stage_duration_seconds{decision} sample_count = %d, want 2", count)
	}
	if count := histogramSampleCount(t, reg, "migsim_step_duration_seconds", nil); count != 2 {
		t.Fatalf("migsim_step_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestSimulationCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimulationCollector(reg)
	if err != nil {
		t.Fatalf("NewSimulationCollector: %v", err)
	}
	second, err := NewSimulationCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimulationCollector: %v", err)
	}
	first.ObserveStep(sampleReport())
	if got := testutil.ToFloat64(second.StepsTotal); got != 1 {
		t.Fatalf("shared migsim_steps_total = %v, want 1", got)
	}
}

func TestNilSimulationCollectorIsSafe(t *testing.T) {
	var c *SimulationCollector
	c.ObserveStep(sampleReport())
	c.SetStabilityState(core.Running)
	if c.Gatherer() != nil {
		t.Fatalf("nil collector returned a gatherer")
	}
}

func TestHTTPMiddlewareRecordsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewHTTPCollector(reg)
	if err != nil {
		t.Fatalf("NewHTTPCollector: %v", err)
	}

	r := chi.NewRouter()
	r.Use(collector.Middleware)
	r.Get("/runs/{runID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Method(http.MethodGet, "/metrics", collector.Handler())

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/"+id, nil))
	}

	if got := testutil.ToFloat64(collector.Requests.WithLabelValues("/runs/{runID}", "GET", "404")); got != 2 {
		t.Fatalf("migsim_http_requests_total = %v, want 2", got)
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "migsim_http_request_duration_seconds") {
		t.Fatalf("expected request histogram in /metrics output")
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
