package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/pmgate/internal/audit"
	"github.com/xela07ax/pmgate/internal/breaker"
	"github.com/xela07ax/pmgate/internal/gatekeeper"
	"github.com/xela07ax/pmgate/internal/hold"
	"github.com/xela07ax/pmgate/internal/infra"
)

type fakeProvider struct {
	calls int
	err   error
}

func (p *fakeProvider) Call(ctx context.Context, tool string, payload []byte) ([]byte, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return []byte(`{"rows": []}`), nil
}

func newTestExecutor(t *testing.T, provider ExecutionProvider) (*GatedExecutor, *gatekeeper.Gatekeeper) {
	t.Helper()
	logger := zap.NewNop()
	cfg := infra.GovernanceConfig{
		EnableCircuitBreaker:       true,
		MaxFailuresBeforeOpen:      5,
		CircuitResetTime:           time.Minute,
		EnableHolds:                true,
		DateRangeHoldThresholdDays: 90,
		RowLimitHoldThreshold:      500,
		EnableAuditLogging:         true,
		AuditRetention:             24 * time.Hour,
		HoldExpiration:             30 * time.Minute,
	}
	cb := breaker.NewRegistry(cfg.EnableCircuitBreaker, cfg.MaxFailuresBeforeOpen, cfg.CircuitResetTime, logger)
	holds := hold.NewManager(cfg.EnableHolds, cfg.DateRangeHoldThresholdDays, cfg.RowLimitHoldThreshold,
		nil, cfg.HoldExpiration, logger)
	trail := audit.NewTrail(cfg.EnableAuditLogging, cfg.AuditRetention, logger)
	gate := gatekeeper.New(cfg, cb, holds, trail, logger)

	return NewGatedExecutor(gate, provider, NewMetrics(nil), logger), gate
}

func doExecute(t *testing.T, exec *GatedExecutor, body map[string]interface{}) (*httptest.ResponseRecorder, executeResponse) {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/execute", bytes.NewReader(raw))
	rr := httptest.NewRecorder()
	exec.Handler().ServeHTTP(rr, req)

	var resp executeResponse
	if rr.Body.Len() > 0 {
		json.Unmarshal(rr.Body.Bytes(), &resp)
	}
	return rr, resp
}

func TestExecuteAllowedCallsConnector(t *testing.T) {
	provider := &fakeProvider{}
	exec, _ := newTestExecutor(t, provider)

	rr, resp := doExecute(t, exec, map[string]interface{}{
		"agent_id": "agent-1",
		"frame":    "⊘◊◀α",
		"tool":     "get_invoices",
		"params":   map[string]interface{}{"limit": 100},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp.Status != "success" || provider.calls != 1 {
		t.Errorf("expected connector call, status=%s calls=%d", resp.Status, provider.calls)
	}
	if string(resp.Result) != `{"rows": []}` {
		t.Errorf("result must pass through unmodified, got %s", resp.Result)
	}
}

func TestExecuteHeldReturns202WithoutCall(t *testing.T) {
	provider := &fakeProvider{}
	exec, _ := newTestExecutor(t, provider)

	rr, resp := doExecute(t, exec, map[string]interface{}{
		"agent_id": "agent-1",
		"tool":     "get_invoices",
		"params":   map[string]interface{}{"limit": 2000},
	})

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if resp.HoldID == "" || resp.Expires == nil {
		t.Errorf("held response must carry hold id and expiry: %+v", resp)
	}
	if provider.calls != 0 {
		t.Error("connector must not be called while the request is held")
	}
}

func TestExecuteBlockedReturns403(t *testing.T) {
	provider := &fakeProvider{}
	exec, gate := newTestExecutor(t, provider)
	gate.HaltAgent("agent-1", "incident")

	rr, resp := doExecute(t, exec, map[string]interface{}{
		"agent_id": "agent-1",
		"tool":     "get_invoices",
	})

	if rr.Code != http.StatusForbidden || resp.Status != "blocked" {
		t.Fatalf("expected 403 blocked, got %d %s", rr.Code, resp.Status)
	}
	if provider.calls != 0 {
		t.Error("connector must not be called for a blocked agent")
	}
}

func TestExecuteConnectorErrorPenalizesAgent(t *testing.T) {
	provider := &fakeProvider{err: errors.New("sap timeout")}
	exec, gate := newTestExecutor(t, provider)

	body := map[string]interface{}{
		"agent_id": "agent-1",
		"frame":    "⊘◊◀α",
		"tool":     "get_invoices",
	}

	rr, resp := doExecute(t, exec, body)
	if rr.Code != http.StatusBadGateway || resp.Status != "error" {
		t.Fatalf("expected 502 error, got %d %s", rr.Code, resp.Status)
	}
	if resp.Error != "sap timeout" {
		t.Errorf("connector error must propagate unmodified, got %q", resp.Error)
	}

	// Сбой коннектора зафиксирован в бюджете агента (после сброса на all-clear)
	st := gate.GetAgentStatus("agent-1")
	if st.FailureCount != 1 || st.LastFailure.IsZero() {
		t.Errorf("connector failure must be recorded: %+v", st)
	}
	if st.State != breaker.StateClosed {
		t.Errorf("single failure must not open the circuit, got %s", st.State)
	}
}

func TestExecuteRejectsIncompleteRequest(t *testing.T) {
	exec, _ := newTestExecutor(t, &fakeProvider{})

	rr, _ := doExecute(t, exec, map[string]interface{}{"tool": "get_invoices"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing agent_id must yield 400, got %d", rr.Code)
	}
}

func TestExecuteIgnoresClientBypassFlag(t *testing.T) {
	provider := &fakeProvider{}
	exec, _ := newTestExecutor(t, provider)

	// Агент пытается протащить bypass_hold в обход HITL
	rr, _ := doExecute(t, exec, map[string]interface{}{
		"agent_id":    "agent-1",
		"tool":        "get_invoices",
		"params":      map[string]interface{}{"limit": 2000},
		"bypass_hold": true,
	})

	if rr.Code != http.StatusAccepted || provider.calls != 0 {
		t.Errorf("client-supplied bypass flag must be ignored: code=%d calls=%d", rr.Code, provider.calls)
	}
}

func TestTraceIDPropagation(t *testing.T) {
	exec, _ := newTestExecutor(t, &fakeProvider{})

	raw, _ := json.Marshal(map[string]interface{}{
		"agent_id": "agent-1",
		"frame":    "⊘◊◀α",
		"tool":     "get_invoices",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/execute", bytes.NewReader(raw))
	req.Header.Set("X-Trace-ID", "trace-123")
	rr := httptest.NewRecorder()
	exec.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Trace-ID"); got != "trace-123" {
		t.Errorf("trace id must be echoed back, got %q", got)
	}
	var resp executeResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.TraceID != "trace-123" {
		t.Errorf("trace id must be in the body, got %q", resp.TraceID)
	}
}
