package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	ObserveRequest("projects", "ok", 0.02)
	IncUpdate("plex", "ok")
	IncUpdate("GLOBAL", "simulated")
	IncPollCheck("running")
	SetPollActive(true)
	SetUnits(map[string]int{"running": 3, "stopped": 1})
	SetMode("live")
	IncSessionExpired()
	AddArchived("ok", 2)
	IncCronRun("refresh", "ok")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"pullpilot_gateway_requests_total":           false,
		"pullpilot_gateway_request_duration_seconds": false,
		"pullpilot_update_requests_total":            false,
		"pullpilot_poller_checks_total":              false,
		"pullpilot_poller_active":                    false,
		"pullpilot_fleet_units":                      false,
		"pullpilot_fleet_source_mode":                false,
		"pullpilot_session_expired_total":            false,
		"pullpilot_history_archived_total":           false,
		"pullpilot_cron_runs_total":                  false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestSetUnitsResetsMissingStatuses(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	SetUnits(map[string]int{"running": 2, "partial": 1})
	SetUnits(map[string]int{"running": 1})

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "pullpilot_fleet_units" {
			continue
		}
		if len(mf.GetMetric()) != 1 {
			t.Fatalf("expected a single status series, got %d", len(mf.GetMetric()))
		}
		if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 1 {
			t.Fatalf("expected running=1, got %v", v)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncUpdate("x", "ok")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "pullpilot_update_requests_total") {
		t.Fatalf("metrics output missing update_requests_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncPollCheck("running")
			ObserveRequest("update-status", "ok", 0.001)
			SetPollActive(i%2 == 0)
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// These should be no-ops and not panic when called before Register
	ObserveRequest("projects", "ok", 1)
	IncUpdate("a", "ok")
	IncPollCheck("idle")
	SetPollActive(false)
	SetUnits(map[string]int{"running": 1})
	SetMode("fallback")
	IncSessionExpired()
	AddArchived("error", 1)
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}

func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
