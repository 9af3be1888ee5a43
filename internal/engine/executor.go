package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/pmgate/internal/domain"
	"github.com/xela07ax/pmgate/internal/gatekeeper"
)

// ExecutionProvider — downstream-исполнитель SAP-инструментов.
// В проде за ним стоит ReliabilityWrapper поверх живого коннектора.
type ExecutionProvider interface {
	Call(ctx context.Context, tool string, payload []byte) ([]byte, error)
}

// GatedExecutor — входная точка агентского трафика: каждый вызов
// инструмента сначала проходит governance-пайплайн, и только на
// allowed уходит в коннектор.
type GatedExecutor struct {
	gate     *gatekeeper.Gatekeeper
	provider ExecutionProvider
	metrics  *Metrics
	logger   *zap.Logger
}

func NewGatedExecutor(gate *gatekeeper.Gatekeeper, provider ExecutionProvider, metrics *Metrics, logger *zap.Logger) *GatedExecutor {
	return &GatedExecutor{
		gate:     gate,
		provider: provider,
		metrics:  metrics,
		logger:   logger.Named("executor"),
	}
}

// Handler собирает HTTP-поверхность агентского API.
func (e *GatedExecutor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/execute", e.HandleExecute)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	})
	return TracingMiddleware(mux)
}

type executeResponse struct {
	Status  string                     `json:"status"` // success, blocked, held, error
	TraceID string                     `json:"trace_id"`
	Check   *gatekeeper.PreFlightCheck `json:"check,omitempty"`
	HoldID  string                     `json:"hold_id,omitempty"`
	Expires *time.Time                 `json:"expires_at,omitempty"`
	Result  json.RawMessage            `json:"result,omitempty"`
	Error   string                     `json:"error,omitempty"`
}

func (e *GatedExecutor) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST allowed", http.StatusMethodNotAllowed)
		return
	}

	var req domain.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.AgentID == "" || req.Tool == "" {
		http.Error(w, "agent_id and tool are required", http.StatusBadRequest)
		return
	}
	// BypassHold — внутренний флаг, агенту он недоступен
	req.BypassHold = false
	req.Decision = nil
	req.TraceID = extractTraceID(r.Context())

	start := time.Now()
	e.metrics.TotalRequests.WithLabelValues(req.AgentID, req.Tool).Inc()

	check := e.gate.Execute(req)
	resp := executeResponse{TraceID: req.TraceID, Check: &check}

	outcome := "allowed"
	status := http.StatusOK

	switch {
	case check.Blocked:
		outcome = "blocked"
		status = http.StatusForbidden
		resp.Status = "blocked"

	case check.Held:
		outcome = "held"
		status = http.StatusAccepted
		resp.Status = "held"
		resp.HoldID = check.Hold.ID
		resp.Expires = &check.Hold.ExpiresAt

	default:
		payload, _ := json.Marshal(req.Params)
		result, err := e.provider.Call(r.Context(), req.Tool, payload)
		if err != nil {
			// Сбой реального инструмента идет в бюджет агента
			e.gate.RecordFailure(req.AgentID)
			outcome = "error"
			status = http.StatusBadGateway
			resp.Status = "error"
			resp.Error = err.Error()
			e.logger.Warn("connector call failed",
				zap.String("trace_id", req.TraceID),
				zap.String("tool", req.Tool),
				zap.Error(err))
		} else {
			resp.Status = "success"
			resp.Result = result
		}
	}

	e.metrics.GateDecisions.WithLabelValues(outcome, check.Code).Inc()
	e.metrics.RequestDuration.WithLabelValues(req.AgentID, req.Tool, outcome).Observe(time.Since(start).Seconds())
	e.syncGauges()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// syncGauges обновляет saturation-метрики по факту каждого решения.
func (e *GatedExecutor) syncGauges() {
	e.metrics.PendingHolds.Set(float64(len(e.gate.ListHolds())))
	e.metrics.HaltedAgents.Set(float64(e.gate.HaltedAgents()))
}
