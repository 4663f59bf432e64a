package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Conflict("borrow")
	m.Conflict("borrow")
	m.Conflict("return")
	m.Borrowed()
	m.Redeemed("exhausted")
	m.Healed(3)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"borrow conflicts", testutil.ToFloat64(m.Conflicts.WithLabelValues("borrow")), 2},
		{"return conflicts", testutil.ToFloat64(m.Conflicts.WithLabelValues("return")), 1},
		{"borrows", testutil.ToFloat64(m.Borrows), 1},
		{"exhausted redemptions", testutil.ToFloat64(m.Redemptions.WithLabelValues("exhausted")), 1},
		{"heals", testutil.ToFloat64(m.ReconcileHeal), 3},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, tt.got)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Conflict("borrow")
	m.Borrowed()
	m.Returned()
	m.Redeemed("ok")
	m.Compensated("failed")
	m.Healed(1)
	m.ReturnRetried()
}

func TestHandler(t *testing.T) {
	m := New()
	m.Returned()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "acervo_returns_total 1") {
		t.Errorf("expected acervo_returns_total in output, got:\n%s", body)
	}
}
