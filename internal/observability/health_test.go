package observability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"IFLedger/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================================
// Test: Readiness
// ============================================================================

func TestReadiness_RequiresReadyAndChecks(t *testing.T) {
	h := observability.NewHealthChecker()

	status := func() int {
		rec := httptest.NewRecorder()
		h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}

	if got := status(); got != http.StatusServiceUnavailable {
		t.Errorf("before ready: got %d", got)
	}

	h.SetReady(true)
	if got := status(); got != http.StatusOK {
		t.Errorf("ready without checks: got %d", got)
	}

	var down bool
	h.AddReadinessCheck("postgres", func(context.Context) error {
		if down {
			return errors.New("connection refused")
		}
		return nil
	})
	if got := status(); got != http.StatusOK {
		t.Errorf("passing check: got %d", got)
	}

	down = true
	if got := status(); got != http.StatusServiceUnavailable {
		t.Errorf("failing check: got %d", got)
	}
	failing := h.FailingChecks(context.Background())
	if failing["postgres"] != "connection refused" {
		t.Errorf("failing checks: %v", failing)
	}
}

func TestLiveness_AlwaysOK(t *testing.T) {
	h := observability.NewHealthChecker()
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("got %d", rec.Code)
	}
}

// ============================================================================
// Test: Metrics registration
// ============================================================================

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	// Two registries must accept the same metric set.
	observability.NewMetrics(prometheus.NewRegistry())
	observability.NewMetrics(prometheus.NewRegistry())
}
