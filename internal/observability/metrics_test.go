package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureRegistered_Idempotent(t *testing.T) {
	EnsureRegistered()
	EnsureRegistered()

	RecordAgentRun("coordinator", 100*time.Millisecond, true)
	RecordToolExecution("calculator", 5*time.Millisecond, false)
	RecordBatch(3, 2*time.Second)
	SetPendingEscalations(2)
	RecordEscalationWait(30 * time.Second)
	RecordBusEntry()
	RecordStoreOp("append_message", time.Millisecond)
	SetActiveThreads(4)
}

func TestHandler_ServesMetrics(t *testing.T) {
	RecordAgentRun("coordinator", time.Second, true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent_run_total")
	assert.Contains(t, rec.Body.String(), "escalations_pending")
}
