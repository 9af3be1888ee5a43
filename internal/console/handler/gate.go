package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/pmgate/internal/domain"
	"github.com/xela07ax/pmgate/internal/gatekeeper"
)

type Gate interface {
	Precheck(req domain.ExecuteRequest) gatekeeper.PreFlightCheck
	GetStats() gatekeeper.Stats
	FrameFormatDoc() string
}

type GateHandler struct {
	gate Gate
}

func NewGateHandler(gate Gate) *GateHandler {
	return &GateHandler{gate: gate}
}

// Precheck — dry run пайплайна: оператор (или агент через прокси) узнает,
// прошел бы запрос, без единой мутации состояния шлюза.
func (h *GateHandler) Precheck(w http.ResponseWriter, r *http.Request) {
	var req domain.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" || req.Tool == "" {
		http.Error(w, "agent_id and tool are required", http.StatusBadRequest)
		return
	}
	req.BypassHold = false
	req.Decision = nil

	check := h.gate.Precheck(req)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(check)
}

func (h *GateHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.gate.GetStats())
}

// FrameFormat отдает справку по проводному формату фрейма как plain text
func (h *GateHandler) FrameFormat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(h.gate.FrameFormatDoc()))
}
