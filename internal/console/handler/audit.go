package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xela07ax/pmgate/internal/audit"
)

type AuditLog interface {
	Tail(limit int, agentID, tool string) []audit.Entry
}

type AuditHandler struct {
	trail AuditLog
}

func NewAuditHandler(trail AuditLog) *AuditHandler {
	return &AuditHandler{trail: trail}
}

// GetLogs — последние решения пайплайна, новые первыми.
// Фильтры: ?agent_id=...&tool=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries := h.trail.Tail(limit, r.URL.Query().Get("agent_id"), r.URL.Query().Get("tool"))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
