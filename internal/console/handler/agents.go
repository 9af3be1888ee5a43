package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/pmgate/internal/breaker"
)

type AgentGate interface {
	ListAgents() []breaker.AgentCircuit
	GetAgentStatus(agentID string) breaker.AgentCircuit
	HaltAgent(agentID, reason string)
	ResumeAgent(agentID string) bool
}

type AgentHandler struct {
	gate AgentGate
}

func NewAgentHandler(gate AgentGate) *AgentHandler {
	return &AgentHandler{gate: gate}
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.gate.ListAgents())
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.gate.GetAgentStatus(id))
}

type HaltRequest struct {
	Reason string `json:"reason"`
}

// Halt — мгновенная остановка агента оператором (kill-switch)
func (h *AgentHandler) Halt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req HaltRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual halt via console"
	}

	h.gate.HaltAgent(id, req.Reason)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.gate.GetAgentStatus(id))
}

func (h *AgentHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	resumed := h.gate.ResumeAgent(id)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"agent_id": id,
		"resumed":  resumed, // false: цепь и так была закрыта
	})
}
