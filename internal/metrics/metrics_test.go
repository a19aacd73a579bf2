package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatal(err)
	}
	m.Processed("standard", OutcomeStored)
	m.Processed("standard", OutcomeStored)
	m.Processed("standard", OutcomeFiltered)
	m.Observe("standard", 421, 30*time.Millisecond)
	m.Retry421(true)
	m.RunFinished("success")
	done := m.Begin()
	done()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	out := string(body)

	for _, want := range []string{
		`hhprobe_combinations_processed_total{mode="standard",outcome="stored"} 2`,
		`hhprobe_combinations_processed_total{mode="standard",outcome="filtered"} 1`,
		`hhprobe_http_status_total{code="421"} 1`,
		`hhprobe_421_retries_total{result="succeeded"} 1`,
		`hhprobe_runs_total{status="success"} 1`,
		`hhprobe_requests_inflight 0`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in exposition", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Processed("standard", OutcomeFailed)
	m.Observe("standard", 200, time.Second)
	m.Retry421(false)
	m.RunFinished("stopped")
	m.Begin()()
}
