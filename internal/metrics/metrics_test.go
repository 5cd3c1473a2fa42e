package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder("approvals")

	r.Transition("CONTRACT", "APPROVE", "PENDING")
	r.Transition("CONTRACT", "APPROVE", "PENDING")
	r.Failure("approve", errors.PermissionDenied("nope"))
	r.Failure("approve", nil)
	r.Routed("CONTRACT", "contract-standard", "rule")
	r.ObserveDuration("approve", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitionsTotal.WithLabelValues("CONTRACT", "APPROVE", "PENDING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failuresTotal.WithLabelValues("approve", "PERMISSION_DENIED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.routingTotal.WithLabelValues("CONTRACT", "contract-standard", "rule")))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Transition("CONTRACT", "APPROVE", "APPROVED")
	r.Failure("approve", errors.InvalidState("done"))
	r.Routed("CONTRACT", "t", "default")
	r.ObserveDuration("approve", time.Now())
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder("approvals")
	r.Transition("QUOTE", "SUBMIT", "PENDING")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `approvals_approval_transitions_total{action="SUBMIT",entity_type="QUOTE",status="PENDING"} 1`)
}
