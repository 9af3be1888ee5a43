package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome решения шлюза, фиксируемого в аудите
const (
	OutcomeAllowed = "allowed"
	OutcomeBlocked = "blocked"
	OutcomeHeld    = "held"
)

// Entry — одна запись аудита. Frame здесь всегда разрешенный дескриптор:
// если агент фрейм не прислал, записывается синтезированный дефолт.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty"`
	AgentID   string    `json:"agent_id"`
	Frame     string    `json:"frame"`
	Tool      string    `json:"tool"`
	Allowed   bool      `json:"allowed"`
	Outcome   string    `json:"outcome"`
	Code      string    `json:"code,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Trail — append-only журнал решений в памяти. Ретеншн применяется
// инлайн на каждой записи: фоновых задач нет, память ограничена окном.
type Trail struct {
	mu      sync.RWMutex
	entries []Entry

	enabled   bool
	retention time.Duration

	logger *zap.Logger
	now    func() time.Time // Подменяется в тестах
}

func NewTrail(enabled bool, retention time.Duration, logger *zap.Logger) *Trail {
	return &Trail{
		enabled:   enabled,
		retention: retention,
		logger:    logger.Named("audit"),
		now:       time.Now,
	}
}

func (t *Trail) SetPolicy(enabled bool, retention time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	t.retention = retention
}

// Append присваивает id и таймстемп, дописывает запись и отрезает хвост
// старше окна ретеншена.
func (t *Trail) Append(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now()
	}
	t.entries = append(t.entries, e)

	cutoff := t.now().Add(-t.retention)
	firstLive := 0
	for firstLive < len(t.entries) && t.entries[firstLive].Timestamp.Before(cutoff) {
		firstLive++
	}
	if firstLive > 0 {
		t.entries = append([]Entry(nil), t.entries[firstLive:]...)
	}
}

// Recent возвращает записи за скользящее окно (для статистики решений).
func (t *Trail) Recent(window time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := t.now().Add(-window)
	out := make([]Entry, 0)
	for _, e := range t.entries {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Tail — последние записи для админки с опциональной фильтрацией.
func (t *Trail) Tail(limit int, agentID, tool string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, limit)
	for i := len(t.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := t.entries[i]
		if agentID != "" && e.AgentID != agentID {
			continue
		}
		if tool != "" && e.Tool != tool {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
