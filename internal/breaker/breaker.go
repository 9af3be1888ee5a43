package breaker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// AgentCircuit — состояние предохранителя одного агента.
// Создается лениво при первом обращении: closed, ноль сбоев.
type AgentCircuit struct {
	AgentID      string    `json:"agent_id"`
	State        State     `json:"state"`
	FailureCount int       `json:"failure_count"`
	HaltedAt     time.Time `json:"halted_at,omitempty"`
	HaltReason   string    `json:"halt_reason,omitempty"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
}

// Registry ведет предохранители по agent_id в потокобезопасной мапе.
// Семантика отличается от коннекторного gobreaker: здесь нужны явные
// halt/resume с причиной и ленивый переход open -> half-open на чтении,
// поэтому автомат реализован вручную.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*AgentCircuit

	enabled     bool
	maxFailures int
	resetTime   time.Duration

	logger *zap.Logger
	now    func() time.Time // Подменяется в тестах
}

func NewRegistry(enabled bool, maxFailures int, resetTime time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		agents:      make(map[string]*AgentCircuit),
		enabled:     enabled,
		maxFailures: maxFailures,
		resetTime:   resetTime,
		logger:      logger.Named("breaker"),
		now:         time.Now,
	}
}

// SetPolicy обновляет пороги процесса целиком. Вызывается только явным
// сеттером конфигурации, никогда из обработки запроса.
func (r *Registry) SetPolicy(enabled bool, maxFailures int, resetTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
	r.maxFailures = maxFailures
	r.resetTime = resetTime
}

// ensureLocked лениво создает состояние агента. Требует удержания write-lock.
func (r *Registry) ensureLocked(agentID string) *AgentCircuit {
	c, ok := r.agents[agentID]
	if !ok {
		c = &AgentCircuit{AgentID: agentID, State: StateClosed}
		r.agents[agentID] = c
	}
	return c
}

// effectiveState — чистая функция: какое состояние у цепи «на самом деле»
// в момент now, без фиксации перехода. Единственный вычисляемый переход:
// open -> half-open по истечении resetTime.
func effectiveState(c *AgentCircuit, now time.Time, resetTime time.Duration) State {
	if c.State == StateOpen && now.Sub(c.HaltedAt) > resetTime {
		return StateHalfOpen
	}
	return c.State
}

// Allow решает, пускать ли вызов агента, и фиксирует переход в half-open,
// если окно восстановления истекло. Это осознанно не чистый предикат:
// допуск пробного вызова и есть переход состояния.
func (r *Registry) Allow(agentID string) bool {
	r.mu.RLock()
	enabled := r.enabled
	r.mu.RUnlock()
	if !enabled {
		return true // Глобальный выключатель: состояние не трогаем вообще
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.ensureLocked(agentID)
	eff := effectiveState(c, r.now(), r.resetTime)
	if eff != c.State {
		c.State = eff
		r.logger.Info("circuit admits recovery probe",
			zap.String("agent_id", agentID),
			zap.String("halt_reason", c.HaltReason))
	}
	return eff != StateOpen
}

// Peek — версия Allow без побочных эффектов для Precheck и админки.
// Несуществующий агент не создается и считается closed.
func (r *Registry) Peek(agentID string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.enabled {
		return StateClosed, true
	}
	c, ok := r.agents[agentID]
	if !ok {
		return StateClosed, true
	}
	eff := effectiveState(c, r.now(), r.resetTime)
	return eff, eff != StateOpen
}

// RecordSuccess сбрасывает счетчик сбоев; из half-open закрывает цепь
// (пробный вызов прошел).
func (r *Registry) RecordSuccess(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.ensureLocked(agentID)
	c.FailureCount = 0
	c.LastSuccess = r.now()

	if c.State == StateHalfOpen {
		c.State = StateClosed
		c.HaltedAt = time.Time{}
		c.HaltReason = ""
		r.logger.Info("circuit closed after successful probe", zap.String("agent_id", agentID))
	}
}

// RecordFailure инкрементирует счетчик. В half-open открывает цепь сразу,
// минуя порог: проваленный пробный вызов означает, что агент не восстановился.
func (r *Registry) RecordFailure(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.ensureLocked(agentID)
	c.FailureCount++
	c.LastFailure = r.now()

	switch {
	case c.State == StateHalfOpen:
		c.State = StateOpen
		c.HaltedAt = r.now()
		c.HaltReason = "recovery probe failed"
		r.logger.Warn("circuit reopened: probe failed", zap.String("agent_id", agentID))

	case c.State == StateClosed && c.FailureCount >= r.maxFailures:
		c.State = StateOpen
		c.HaltedAt = r.now()
		c.HaltReason = fmt.Sprintf("%d consecutive failures", c.FailureCount)
		r.logger.Warn("circuit opened",
			zap.String("agent_id", agentID),
			zap.Int("failures", c.FailureCount))
	}
}

// Halt — явная блокировка агента оператором (kill-switch).
func (r *Registry) Halt(agentID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.ensureLocked(agentID)
	c.State = StateOpen
	c.HaltedAt = r.now()
	c.HaltReason = reason
	r.logger.Warn("agent halted",
		zap.String("agent_id", agentID),
		zap.String("reason", reason))
}

// Resume закрывает цепь вручную. No-op с false, если цепь уже closed.
func (r *Registry) Resume(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.agents[agentID]
	if !ok || c.State == StateClosed {
		return false
	}
	c.State = StateClosed
	c.FailureCount = 0
	c.HaltedAt = time.Time{}
	c.HaltReason = ""
	r.logger.Info("agent resumed", zap.String("agent_id", agentID))
	return true
}

// Status возвращает копию состояния. Несуществующий агент выглядит как
// свежесозданный, но в мапе не материализуется.
func (r *Registry) Status(agentID string) AgentCircuit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.agents[agentID]
	if !ok {
		return AgentCircuit{AgentID: agentID, State: StateClosed}
	}
	cp := *c
	cp.State = effectiveState(c, r.now(), r.resetTime)
	return cp
}

// Snapshot — копии всех известных цепей для админки.
func (r *Registry) Snapshot() []AgentCircuit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentCircuit, 0, len(r.agents))
	now := r.now()
	for _, c := range r.agents {
		cp := *c
		cp.State = effectiveState(c, now, r.resetTime)
		out = append(out, cp)
	}
	return out
}

// HaltedCount — число агентов, фактически закрытых для вызовов прямо сейчас.
func (r *Registry) HaltedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	now := r.now()
	for _, c := range r.agents {
		if effectiveState(c, now, r.resetTime) == StateOpen {
			n++
		}
	}
	return n
}
