package hold

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/pmgate/internal/domain"
)

// SensitiveSearchTool — единственный инструмент, для которого проверяются
// паттерны чувствительного текста.
const SensitiveSearchTool = "search_document_text"

const dateLayout = "2006-01-02"

// Trigger — сработавшая эвристика риска. На один вызов Evaluate
// сообщается не более одного триггера (первый по приоритету).
type Trigger struct {
	Reason   domain.HoldReason      `json:"reason"`
	Severity domain.HoldSeverity    `json:"severity"`
	Evidence map[string]interface{} `json:"evidence,omitempty"`
}

// Manager держит очередь Hold-запросов в памяти и применяет ленивую
// экспирацию: никакого фонового свипера нет, истечение фиксируется
// на ближайшем чтении.
type Manager struct {
	mu    sync.RWMutex
	holds map[string]*domain.HoldRequest

	enabled           bool
	dateThresholdDays int
	rowLimit          int
	sensitivePatterns []*regexp.Regexp
	expiration        time.Duration

	logger *zap.Logger
	now    func() time.Time // Подменяется в тестах
}

func NewManager(enabled bool, dateThresholdDays, rowLimit int, patterns []string, expiration time.Duration, logger *zap.Logger) *Manager {
	m := &Manager{
		holds:  make(map[string]*domain.HoldRequest),
		logger: logger.Named("holds"),
		now:    time.Now,
	}
	m.SetPolicy(enabled, dateThresholdDays, rowLimit, patterns, expiration)
	return m
}

// SetPolicy обновляет пороги и перекомпилирует паттерны. Битый regexp
// логируется и пропускается, остальные продолжают работать.
func (m *Manager) SetPolicy(enabled bool, dateThresholdDays, rowLimit int, patterns []string, expiration time.Duration) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			m.logger.Error("invalid sensitive pattern skipped", zap.String("pattern", p), zap.Error(err))
			continue
		}
		compiled = append(compiled, re)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	m.dateThresholdDays = dateThresholdDays
	m.rowLimit = rowLimit
	m.sensitivePatterns = compiled
	m.expiration = expiration
}

// Evaluate прогоняет эвристики в фиксированном порядке приоритета и
// возвращает первую сработавшую. Порядок значим by-contract: широкий
// диапазон дат важнее лимита строк, лимит важнее текстовых паттернов.
func (m *Manager) Evaluate(tool string, params map[string]interface{}) *Trigger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.enabled {
		return nil
	}

	// 1. Широкий диапазон дат
	if from, okFrom := paramDate(params, "date_from"); okFrom {
		if to, okTo := paramDate(params, "date_to"); okTo {
			days := math.Abs(to.Sub(from).Hours() / 24)
			if days > float64(m.dateThresholdDays) {
				sev := domain.SeverityMedium
				if days > 365 {
					sev = domain.SeverityHigh
				}
				return &Trigger{
					Reason:   domain.ReasonBroadDateRange,
					Severity: sev,
					Evidence: map[string]interface{}{
						"date_from": params["date_from"],
						"date_to":   params["date_to"],
						"days":      int(days),
					},
				}
			}
		}
	}

	// 2. Слишком большой лимит строк
	if limit, ok := paramNumber(params, "limit"); ok && limit > float64(m.rowLimit) {
		sev := domain.SeverityMedium
		if limit >= float64(2*m.rowLimit) {
			sev = domain.SeverityHigh
		}
		return &Trigger{
			Reason:   domain.ReasonHighRowLimit,
			Severity: sev,
			Evidence: map[string]interface{}{"limit": limit},
		}
	}

	// 3. Чувствительный текстовый поиск (только для одного инструмента)
	if tool == SensitiveSearchTool {
		if pattern, ok := params["pattern"].(string); ok {
			for _, re := range m.sensitivePatterns {
				if re.MatchString(pattern) {
					return &Trigger{
						Reason:   domain.ReasonSensitiveTextSearch,
						Severity: domain.SeverityHigh,
						Evidence: map[string]interface{}{
							"pattern": pattern,
							"matched": re.String(),
						},
					}
				}
			}
		}
	}

	return nil
}

// Create материализует Hold по сработавшему триггеру.
func (m *Manager) Create(agentID, frameRaw, tool string, params map[string]interface{}, trig Trigger) domain.HoldRequest {
	m.mu.Lock()
	now := m.now()
	h := &domain.HoldRequest{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Frame:     frameRaw,
		Tool:      tool,
		Params:    params,
		Reason:    trig.Reason,
		Severity:  trig.Severity,
		Evidence:  trig.Evidence,
		Status:    domain.HoldPending,
		CreatedAt: now,
		ExpiresAt: now.Add(m.expiration),
	}
	m.holds[h.ID] = h
	m.mu.Unlock()

	m.logger.Info("hold created",
		zap.String("hold_id", h.ID),
		zap.String("agent_id", agentID),
		zap.String("tool", tool),
		zap.String("reason", string(trig.Reason)),
		zap.String("severity", string(trig.Severity)),
		zap.Time("expires_at", h.ExpiresAt))

	return *h
}

// expireLocked фиксирует истечение pending-холда, если срок прошел.
// Требует удержания write-lock.
func (m *Manager) expireLocked(h *domain.HoldRequest) {
	if h.Status == domain.HoldPending && m.now().After(h.ExpiresAt) {
		h.Status = domain.HoldExpired
		m.logger.Info("hold expired lazily", zap.String("hold_id", h.ID))
	}
}

// Get возвращает копию холда, предварительно применив ленивую экспирацию.
func (m *Manager) Get(id string) (domain.HoldRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[id]
	if !ok {
		return domain.HoldRequest{}, false
	}
	m.expireLocked(h)
	return *h, true
}

// ListPending — все еще ожидающие решения, новые сверху.
func (m *Manager) ListPending() []domain.HoldRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.HoldRequest, 0)
	for _, h := range m.holds {
		m.expireLocked(h)
		if h.Status == domain.HoldPending {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Approve переводит pending-холд в approved и возвращает решение.
// Отсутствующий, уже решенный или истекший холд дает nil без мутаций:
// вызывающий обязан проверить результат.
func (m *Manager) Approve(id, approvedBy string, modifiedParams map[string]interface{}) *domain.HoldDecision {
	return m.decide(id, approvedBy, "", modifiedParams, true)
}

// Reject симметричен Approve.
func (m *Manager) Reject(id, rejectedBy, reason string) *domain.HoldDecision {
	return m.decide(id, rejectedBy, reason, nil, false)
}

func (m *Manager) decide(id, by, reason string, modifiedParams map[string]interface{}, approved bool) *domain.HoldDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holds[id]
	if !ok {
		return nil
	}
	m.expireLocked(h)

	next := domain.HoldRejected
	if approved {
		next = domain.HoldApproved
	}
	if err := h.CanTransitionTo(next); err != nil {
		return nil
	}

	now := m.now()
	h.Status = next
	h.DecidedBy = by
	h.DecisionReason = reason
	h.DecidedAt = &now

	m.logger.Info("hold decided",
		zap.String("hold_id", id),
		zap.Bool("approved", approved),
		zap.String("decided_by", by))

	return &domain.HoldDecision{
		HoldID:         id,
		Approved:       approved,
		DecidedBy:      by,
		Reason:         reason,
		ModifiedParams: modifiedParams,
		DecidedAt:      now,
	}
}

// Stats — счетчики по статусам с учетом ленивой экспирации.
func (m *Manager) Stats() map[domain.HoldStatus]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := map[domain.HoldStatus]int{
		domain.HoldPending:  0,
		domain.HoldApproved: 0,
		domain.HoldRejected: 0,
		domain.HoldExpired:  0,
	}
	for _, h := range m.holds {
		m.expireLocked(h)
		stats[h.Status]++
	}
	return stats
}

// paramDate достает дату формата YYYY-MM-DD; нераспарсившееся значение
// эквивалентно отсутствию параметра.
func paramDate(params map[string]interface{}, key string) (time.Time, bool) {
	s, ok := params[key].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// paramNumber терпимо относится к типам из JSON: float64, int и числовые строки.
func paramNumber(params map[string]interface{}, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
