package domain

import (
	"errors"
	"time"
)

// Статусы State Machine
type HoldStatus string

const (
	HoldPending  HoldStatus = "pending"
	HoldApproved HoldStatus = "approved"
	HoldRejected HoldStatus = "rejected"
	HoldExpired  HoldStatus = "expired"
)

// HoldReason — что именно заставило шлюз остановить операцию
type HoldReason string

const (
	ReasonBroadDateRange      HoldReason = "broad_date_range"
	ReasonHighRowLimit        HoldReason = "high_row_limit"
	ReasonSensitiveTextSearch HoldReason = "sensitive_text_search"
	ReasonForbiddenConstraint HoldReason = "forbidden_constraint"
	ReasonDrift               HoldReason = "drift"
	ReasonManualReview        HoldReason = "manual_review"
)

type HoldSeverity string

const (
	SeverityLow      HoldSeverity = "low"
	SeverityMedium   HoldSeverity = "medium"
	SeverityHigh     HoldSeverity = "high"
	SeverityCritical HoldSeverity = "critical"
)

var (
	ErrInvalidTransition = errors.New("invalid hold status transition")
	ErrAlreadyDecided    = errors.New("hold request already decided")
)

// HoldRequest — отложенная операция, ожидающая решения оператора (HITL).
type HoldRequest struct {
	ID      string                 `json:"id"`
	AgentID string                 `json:"agent_id"`
	Frame   string                 `json:"frame"` // Разрешенный (в т.ч. дефолтный) символьный дескриптор
	Tool    string                 `json:"tool"`
	Params  map[string]interface{} `json:"params,omitempty"`

	Reason   HoldReason             `json:"reason"`
	Severity HoldSeverity           `json:"severity"`
	Evidence map[string]interface{} `json:"evidence,omitempty"` // Сырые значения, по которым сработал триггер

	Status    HoldStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`

	DecidedBy      string     `json:"decided_by,omitempty"`
	DecisionReason string     `json:"decision_reason,omitempty"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
}

// CanTransitionTo проверяет правила конечного автомата:
// pending -> {approved, rejected, expired}, обратных переходов нет.
func (h *HoldRequest) CanTransitionTo(next HoldStatus) error {
	if h.Status != HoldPending {
		return ErrAlreadyDecided
	}
	if next == HoldPending {
		return ErrInvalidTransition
	}
	return nil
}

// HoldDecision фиксирует решение оператора по конкретному Hold.
type HoldDecision struct {
	HoldID    string `json:"hold_id"`
	Approved  bool   `json:"approved"`
	DecidedBy string `json:"decided_by"`
	Reason    string `json:"reason,omitempty"`

	// ModifiedParams позволяет оператору сузить запрос перед повторным прогоном
	// (например, уменьшить date_to). Если nil, используются исходные параметры.
	ModifiedParams map[string]interface{} `json:"modified_params,omitempty"`

	DecidedAt time.Time `json:"decided_at"`
}
