package gatekeeper

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/pmgate/internal/audit"
	"github.com/xela07ax/pmgate/internal/breaker"
	"github.com/xela07ax/pmgate/internal/domain"
	"github.com/xela07ax/pmgate/internal/frame"
	"github.com/xela07ax/pmgate/internal/hold"
	"github.com/xela07ax/pmgate/internal/infra"
)

// CircuitBreaker — что оркестратору нужно от предохранителя агентов.
// Реализуется breaker.Registry; в тестах подменяется шпионом.
type CircuitBreaker interface {
	Allow(agentID string) bool
	Peek(agentID string) (breaker.State, bool)
	RecordSuccess(agentID string)
	RecordFailure(agentID string)
	Halt(agentID, reason string)
	Resume(agentID string) bool
	Status(agentID string) breaker.AgentCircuit
	Snapshot() []breaker.AgentCircuit
	HaltedCount() int
	SetPolicy(enabled bool, maxFailures int, resetTime time.Duration)
}

// HoldManager — что оркестратору нужно от менеджера HITL-холдов.
type HoldManager interface {
	Evaluate(tool string, params map[string]interface{}) *hold.Trigger
	Create(agentID, frameRaw, tool string, params map[string]interface{}, trig hold.Trigger) domain.HoldRequest
	Get(id string) (domain.HoldRequest, bool)
	ListPending() []domain.HoldRequest
	Approve(id, approvedBy string, modifiedParams map[string]interface{}) *domain.HoldDecision
	Reject(id, rejectedBy, reason string) *domain.HoldDecision
	Stats() map[domain.HoldStatus]int
	SetPolicy(enabled bool, dateThresholdDays, rowLimit int, patterns []string, expiration time.Duration)
}

// AuditTrail — журнал решений.
type AuditTrail interface {
	Append(e audit.Entry)
	Recent(window time.Duration) []audit.Entry
	SetPolicy(enabled bool, retention time.Duration)
}

type Stage string

const (
	StageCircuitBreaker Stage = "circuit_breaker"
	StageFrame          Stage = "frame"
	StageHold           Stage = "hold"
	StageClear          Stage = "clear"
)

const CodeAgentHalted = "agent_halted"

// CircuitResult — подрезультат стадии предохранителя.
type CircuitResult struct {
	Allowed    bool          `json:"allowed"`
	State      breaker.State `json:"state"`
	HaltReason string        `json:"halt_reason,omitempty"`
}

// FrameResult — подрезультат стадии фрейма.
type FrameResult struct {
	Raw       string `json:"raw"`
	Defaulted bool   `json:"defaulted"` // Фрейм синтезирован шлюзом, а не прислан агентом
	Valid     bool   `json:"valid"`
	Blocked   bool   `json:"blocked"`
	Reason    string `json:"reason,omitempty"`
}

// PreFlightCheck — результат одного прогона пайплайна. Блокировки и холды
// здесь обычные структурные исходы, не ошибки: исключения зарезервированы
// за программными сбоями, а не за governance-решениями.
type PreFlightCheck struct {
	Passed  bool   `json:"passed"`
	Blocked bool   `json:"blocked"`
	Held    bool   `json:"held"`
	Stage   Stage  `json:"stage"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`

	Circuit *CircuitResult      `json:"circuit,omitempty"`
	Frame   *FrameResult        `json:"frame,omitempty"`
	Hold    *domain.HoldRequest `json:"hold,omitempty"`

	// Trigger заполняется только в Precheck: эвристика сработала,
	// но Hold не материализован (dry run ничего не мутирует).
	Trigger *hold.Trigger `json:"trigger,omitempty"`
}

// Gatekeeper — оркестратор governance-пайплайна: строгая короткозамкнутая
// последовательность предохранитель -> фрейм -> холд. Самая дешевая
// проверка идет первой.
type Gatekeeper struct {
	mu  sync.RWMutex
	cfg infra.GovernanceConfig

	breaker CircuitBreaker
	holds   HoldManager
	trail   AuditTrail
	logger  *zap.Logger
}

func New(cfg infra.GovernanceConfig, cb CircuitBreaker, hm HoldManager, trail AuditTrail, logger *zap.Logger) *Gatekeeper {
	return &Gatekeeper{
		cfg:     cfg,
		breaker: cb,
		holds:   hm,
		trail:   trail,
		logger:  logger.Named("gatekeeper"),
	}
}

// SetConfig — единственная точка мутации порогов. Никогда не вызывается
// из обработки запроса.
func (g *Gatekeeper) SetConfig(cfg infra.GovernanceConfig) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()

	g.breaker.SetPolicy(cfg.EnableCircuitBreaker, cfg.MaxFailuresBeforeOpen, cfg.CircuitResetTime)
	g.holds.SetPolicy(cfg.EnableHolds, cfg.DateRangeHoldThresholdDays, cfg.RowLimitHoldThreshold,
		cfg.SensitiveTextPatterns, cfg.HoldExpiration)
	g.trail.SetPolicy(cfg.EnableAuditLogging, cfg.AuditRetention)

	g.logger.Info("governance config updated")
}

func (g *Gatekeeper) Config() infra.GovernanceConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// Execute прогоняет запрос через пайплайн и фиксирует решение в аудите.
// Вызов реального инструмента происходит снаружи: на allowed=true
// вызывающий исполняет операцию и обязан сообщить RecordFailure, если
// инструмент упал.
func (g *Gatekeeper) Execute(req domain.ExecuteRequest) PreFlightCheck {
	// Стадия 1: предохранитель. Halted-агент отсекается до любой работы
	// с фреймом и холдами, и ничего не пишется в его бюджет сбоев.
	if !g.breaker.Allow(req.AgentID) {
		st := g.breaker.Status(req.AgentID)
		reason := st.HaltReason
		if reason == "" {
			reason = "circuit breaker is open"
		}
		check := PreFlightCheck{
			Blocked: true,
			Stage:   StageCircuitBreaker,
			Code:    CodeAgentHalted,
			Reason:  reason,
			Circuit: &CircuitResult{Allowed: false, State: st.State, HaltReason: st.HaltReason},
		}
		g.audit(req, req.Frame, check)
		return check
	}
	st := g.breaker.Status(req.AgentID)
	circuit := &CircuitResult{Allowed: true, State: st.State}

	// Стадия 2: разрешение и валидация фрейма
	raw, defaulted := g.resolveFrame(req)
	qr := frame.QuickValidate(raw)
	fr := &FrameResult{Raw: raw, Defaulted: defaulted, Valid: qr.Valid, Blocked: qr.Blocked, Reason: qr.Reason}

	if qr.Blocked {
		if !qr.Valid {
			// Синтаксически битый фрейм — сбой агента, идет в бюджет.
			// Политический запрет (forbidden mode/constraint) — нет.
			g.breaker.RecordFailure(req.AgentID)
		}
		check := PreFlightCheck{
			Blocked: true,
			Stage:   StageFrame,
			Code:    qr.Code,
			Reason:  qr.Reason,
			Circuit: circuit,
			Frame:   fr,
		}
		g.audit(req, raw, check)
		return check
	}

	// Стадия 3: холд. Пропускается при повторном прогоне одобренного
	// холда (BypassHold), предохранитель и фрейм выше не пропускаются.
	if !req.BypassHold {
		if trig := g.holds.Evaluate(req.Tool, req.Params); trig != nil {
			h := g.holds.Create(req.AgentID, raw, req.Tool, req.Params, *trig)
			check := PreFlightCheck{
				Held:    true,
				Stage:   StageHold,
				Code:    string(trig.Reason),
				Reason:  "operation deferred for human approval",
				Circuit: circuit,
				Frame:   fr,
				Hold:    &h,
			}
			g.audit(req, raw, check)
			return check
		}
	}

	// Стадия 4: все чисто
	g.breaker.RecordSuccess(req.AgentID)
	check := PreFlightCheck{
		Passed:  true,
		Stage:   StageClear,
		Circuit: circuit,
		Frame:   fr,
	}
	g.audit(req, raw, check)
	return check
}

// Precheck — тот же пайплайн как чистый dry run: ни одного изменения
// состояния предохранителя, холдов или аудита. Безопасен для повторов.
func (g *Gatekeeper) Precheck(req domain.ExecuteRequest) PreFlightCheck {
	state, allowed := g.breaker.Peek(req.AgentID)
	if !allowed {
		st := g.breaker.Status(req.AgentID)
		return PreFlightCheck{
			Blocked: true,
			Stage:   StageCircuitBreaker,
			Code:    CodeAgentHalted,
			Reason:  st.HaltReason,
			Circuit: &CircuitResult{Allowed: false, State: state, HaltReason: st.HaltReason},
		}
	}
	circuit := &CircuitResult{Allowed: true, State: state}

	raw, defaulted := g.resolveFrame(req)
	qr := frame.QuickValidate(raw)
	fr := &FrameResult{Raw: raw, Defaulted: defaulted, Valid: qr.Valid, Blocked: qr.Blocked, Reason: qr.Reason}
	if qr.Blocked {
		return PreFlightCheck{
			Blocked: true,
			Stage:   StageFrame,
			Code:    qr.Code,
			Reason:  qr.Reason,
			Circuit: circuit,
			Frame:   fr,
		}
	}

	if !req.BypassHold {
		if trig := g.holds.Evaluate(req.Tool, req.Params); trig != nil {
			return PreFlightCheck{
				Held:    true,
				Stage:   StageHold,
				Code:    string(trig.Reason),
				Reason:  "operation would be deferred for human approval",
				Circuit: circuit,
				Frame:   fr,
				Trigger: trig,
			}
		}
	}

	return PreFlightCheck{Passed: true, Stage: StageClear, Circuit: circuit, Frame: fr}
}

// ApproveHold фиксирует одобрение и немедленно перепрогоняет операцию
// с BypassHold: одобрение снимает только холд, предохранитель и фрейм
// могут по-прежнему заблокировать запрос. Nil-решение означает, что холд
// не найден, уже решен или истек.
func (g *Gatekeeper) ApproveHold(holdID, approvedBy string, modifiedParams map[string]interface{}) (*PreFlightCheck, *domain.HoldDecision) {
	dec := g.holds.Approve(holdID, approvedBy, modifiedParams)
	if dec == nil {
		return nil, nil
	}

	h, ok := g.holds.Get(holdID)
	if !ok {
		return nil, dec
	}
	params := h.Params
	if dec.ModifiedParams != nil {
		params = dec.ModifiedParams
	}

	check := g.Execute(domain.ExecuteRequest{
		AgentID:    h.AgentID,
		Frame:      h.Frame,
		Tool:       h.Tool,
		Params:     params,
		BypassHold: true,
		Decision:   dec,
	})
	return &check, dec
}

func (g *Gatekeeper) RejectHold(holdID, rejectedBy, reason string) *domain.HoldDecision {
	return g.holds.Reject(holdID, rejectedBy, reason)
}

func (g *Gatekeeper) GetHold(holdID string) (domain.HoldRequest, bool) {
	return g.holds.Get(holdID)
}

func (g *Gatekeeper) ListHolds() []domain.HoldRequest {
	return g.holds.ListPending()
}

// Прямые пасстру к предохранителю для админки

func (g *Gatekeeper) HaltAgent(agentID, reason string) {
	g.breaker.Halt(agentID, reason)
}

func (g *Gatekeeper) ResumeAgent(agentID string) bool {
	return g.breaker.Resume(agentID)
}

func (g *Gatekeeper) GetAgentStatus(agentID string) breaker.AgentCircuit {
	return g.breaker.Status(agentID)
}

func (g *Gatekeeper) ListAgents() []breaker.AgentCircuit {
	return g.breaker.Snapshot()
}

func (g *Gatekeeper) HaltedAgents() int {
	return g.breaker.HaltedCount()
}

// RecordFailure — контракт вызывающей стороны: ошибка реального
// инструмента транслируется в сбой агента. Сама ошибка при этом
// пробрасывается наверх без изменений.
func (g *Gatekeeper) RecordFailure(agentID string) {
	g.breaker.RecordFailure(agentID)
}

// Stats агрегирует холды, halted-агентов и решения за скользящий час.
type Stats struct {
	Holds           map[domain.HoldStatus]int `json:"holds"`
	HaltedAgents    int                       `json:"halted_agents"`
	AllowedLastHour int                       `json:"allowed_last_hour"`
	BlockedLastHour int                       `json:"blocked_last_hour"`
	HeldLastHour    int                       `json:"held_last_hour"`
}

func (g *Gatekeeper) GetStats() Stats {
	s := Stats{
		Holds:        g.holds.Stats(),
		HaltedAgents: g.breaker.HaltedCount(),
	}
	for _, e := range g.trail.Recent(time.Hour) {
		switch e.Outcome {
		case audit.OutcomeAllowed:
			s.AllowedLastHour++
		case audit.OutcomeBlocked:
			s.BlockedLastHour++
		case audit.OutcomeHeld:
			s.HeldLastHour++
		}
	}
	return s
}

// FrameFormatDoc — статическая справка по проводному формату.
func (g *Gatekeeper) FrameFormatDoc() string {
	return frame.FormatDoc()
}

// resolveFrame подставляет дефолтный фрейм, если агент его не прислал.
// В аудит попадает именно разрешенное значение.
func (g *Gatekeeper) resolveFrame(req domain.ExecuteRequest) (string, bool) {
	raw := strings.TrimSpace(req.Frame)
	if raw != "" {
		return raw, false
	}
	return frame.DefaultSAPFrame(req.Tool, frame.ModeNeutral).Raw, true
}

func (g *Gatekeeper) audit(req domain.ExecuteRequest, frameRaw string, check PreFlightCheck) {
	outcome := audit.OutcomeAllowed
	switch {
	case check.Blocked:
		outcome = audit.OutcomeBlocked
	case check.Held:
		outcome = audit.OutcomeHeld
	}

	g.trail.Append(audit.Entry{
		TraceID: req.TraceID,
		AgentID: req.AgentID,
		Frame:   frameRaw,
		Tool:    req.Tool,
		Allowed: check.Passed,
		Outcome: outcome,
		Code:    check.Code,
		Reason:  check.Reason,
	})

	g.logger.Debug("gate decision",
		zap.String("agent_id", req.AgentID),
		zap.String("tool", req.Tool),
		zap.String("outcome", outcome),
		zap.String("stage", string(check.Stage)),
		zap.String("code", check.Code))
}
