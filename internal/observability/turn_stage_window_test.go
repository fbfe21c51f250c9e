package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTurnStageWindowSnapshot(t *testing.T) {
	w := newTurnStageWindow(8)
	for _, v := range []float64{900, 500, 700} {
		w.Observe("gateway", v)
	}
	w.Observe("dispatch", 400)
	w.ObserveIndicator("gateway_timeout")
	w.ObserveIndicator("gateway_timeout")
	w.ObserveIndicator("  ")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 2 || snap.Stages[0].Stage != "dispatch" || snap.Stages[1].Stage != "gateway" {
		t.Fatalf("Stages = %+v, want dispatch then gateway", snap.Stages)
	}

	d := snap.Stages[0]
	if !d.OverTarget || d.TargetP95MS != 150 {
		t.Fatalf("dispatch stats = %+v, want over its 150ms target", d)
	}

	g := snap.Stages[1]
	if g.Samples != 3 || g.LastMS != 700 {
		t.Fatalf("gateway samples/last = %d/%.2f, want 3/700", g.Samples, g.LastMS)
	}
	if g.P50MS != 700 || g.P95MS != 900 || g.AvgMS != 700 {
		t.Fatalf("gateway stats = %+v", g)
	}
	if g.OverTarget {
		t.Fatalf("gateway OverTarget = true, want false under 2500ms")
	}

	if len(snap.Indicators) != 1 || snap.Indicators[0] != (TurnIndicator{Name: "gateway_timeout", Count: 2}) {
		t.Fatalf("Indicators = %+v, want gateway_timeout x2", snap.Indicators)
	}
}

func TestTurnStageWindowKeepsNewestSamples(t *testing.T) {
	w := newTurnStageWindow(2)
	for _, v := range []float64{10, 20, 30} {
		w.Observe("dispatch", v)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 || s.AvgMS != 25 || s.LastMS != 30 {
		t.Fatalf("stats = %+v, want 2 samples averaging 25", s)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cases := map[float64]float64{0: 1, 50: 5, 95: 10, 99: 10, 10: 1}
	for p, want := range cases {
		if got := percentile(sorted, p); got != want {
			t.Fatalf("percentile(%v) = %v, want %v", p, got, want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("percentile(nil) = %v, want 0", got)
	}
}

func TestMetricsInstancesAreIndependent(t *testing.T) {
	a := NewMetrics("presales_test")
	b := NewMetrics("presales_test")
	a.LeadsStored.WithLabelValues("stored").Inc()
	a.ObserveTurnLatency(120 * time.Millisecond)
	b.ObserveTurnStage("gateway", time.Second)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `presales_test_lead_store_attempts_total{outcome="stored"} 1`) {
		t.Fatalf("metrics output missing lead counter:\n%s", body)
	}
	if got := len(a.SnapshotTurnStages().Stages); got != 1 {
		t.Fatalf("a stages = %d, want 1", got)
	}
	if got := b.SnapshotTurnStages().Stages[0].Stage; got != "gateway" {
		t.Fatalf("b stage = %q, want gateway", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTurnLatency(time.Second)
	m.ObserveTurnStage("gateway", time.Second)
	m.ObserveTurnIndicator("x")
	if snap := m.SnapshotTurnStages(); len(snap.Stages) != 0 {
		t.Fatalf("nil snapshot = %+v, want empty", snap)
	}
}
