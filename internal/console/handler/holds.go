package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/pmgate/internal/domain"
	"github.com/xela07ax/pmgate/internal/gatekeeper"
)

// HoldGate Описываем, что нам нужно от оркестратора
type HoldGate interface {
	ListHolds() []domain.HoldRequest
	GetHold(id string) (domain.HoldRequest, bool)
	ApproveHold(id, approvedBy string, modifiedParams map[string]interface{}) (*gatekeeper.PreFlightCheck, *domain.HoldDecision)
	RejectHold(id, rejectedBy, reason string) *domain.HoldDecision
}

type HoldHandler struct {
	gate HoldGate
}

func NewHoldHandler(gate HoldGate) *HoldHandler {
	return &HoldHandler{gate: gate}
}

// List — очередь запросов, ждущих решения оператора
func (h *HoldHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.gate.ListHolds())
}

func (h *HoldHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	hold, ok := h.gate.GetHold(id)
	if !ok {
		http.Error(w, "hold not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hold)
}

type ApproveRequest struct {
	// Оператор может сузить параметры перед одобрением (напр. уменьшить limit)
	ModifiedParams map[string]interface{} `json:"modified_params,omitempty"`
}

type ApproveResponse struct {
	Decision *domain.HoldDecision       `json:"decision"`
	Replay   *gatekeeper.PreFlightCheck `json:"replay"`
}

func (h *HoldHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ApproveRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	// ID оператора берем из контекста (авторизованный админ)
	approvedBy, _ := r.Context().Value("user_id").(string)
	if approvedBy == "" {
		http.Error(w, "approver identity is required", http.StatusBadRequest)
		return
	}

	replay, dec := h.gate.ApproveHold(id, approvedBy, req.ModifiedParams)
	if dec == nil {
		// Холд не найден, уже решен или истек
		http.Error(w, "hold is not pending", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ApproveResponse{Decision: dec, Replay: replay})
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

func (h *HoldHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rejectedBy, _ := r.Context().Value("user_id").(string)
	if rejectedBy == "" {
		http.Error(w, "reviewer identity is required", http.StatusBadRequest)
		return
	}

	dec := h.gate.RejectHold(id, rejectedBy, req.Reason)
	if dec == nil {
		http.Error(w, "hold is not pending", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dec)
}
