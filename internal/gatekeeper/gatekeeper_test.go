package gatekeeper

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/pmgate/internal/audit"
	"github.com/xela07ax/pmgate/internal/breaker"
	"github.com/xela07ax/pmgate/internal/domain"
	"github.com/xela07ax/pmgate/internal/hold"
	"github.com/xela07ax/pmgate/internal/infra"
)

// spyHolds считает обращения к Evaluate, чтобы проверять порядок стадий.
type spyHolds struct {
	*hold.Manager
	evaluateCalls int
}

func (s *spyHolds) Evaluate(tool string, params map[string]interface{}) *hold.Trigger {
	s.evaluateCalls++
	return s.Manager.Evaluate(tool, params)
}

func testConfig() infra.GovernanceConfig {
	return infra.GovernanceConfig{
		EnableCircuitBreaker:       true,
		MaxFailuresBeforeOpen:      5,
		CircuitResetTime:           time.Minute,
		EnableHolds:                true,
		DateRangeHoldThresholdDays: 90,
		RowLimitHoldThreshold:      500,
		SensitiveTextPatterns:      []string{`(?i)ssn`, `(?i)credit\s*card`, `(?i)password`},
		EnableAuditLogging:         true,
		AuditRetention:             24 * time.Hour,
		HoldExpiration:             30 * time.Minute,
	}
}

func newTestGatekeeper(t *testing.T) (*Gatekeeper, *breaker.Registry, *spyHolds, *audit.Trail) {
	t.Helper()
	cfg := testConfig()
	logger := zap.NewNop()

	cb := breaker.NewRegistry(cfg.EnableCircuitBreaker, cfg.MaxFailuresBeforeOpen, cfg.CircuitResetTime, logger)
	holds := &spyHolds{Manager: hold.NewManager(cfg.EnableHolds, cfg.DateRangeHoldThresholdDays,
		cfg.RowLimitHoldThreshold, cfg.SensitiveTextPatterns, cfg.HoldExpiration, logger)}
	trail := audit.NewTrail(cfg.EnableAuditLogging, cfg.AuditRetention, logger)

	return New(cfg, cb, holds, trail, logger), cb, holds, trail
}

func TestCleanRequestAllowed(t *testing.T) {
	g, _, _, trail := newTestGatekeeper(t)

	check := g.Execute(domain.ExecuteRequest{
		AgentID: "agent-1",
		Frame:   "⊘◊◀α",
		Tool:    "get_invoices",
		Params:  map[string]interface{}{"limit": 100},
	})

	if !check.Passed || check.Blocked || check.Held {
		t.Fatalf("expected allowed, got %+v", check)
	}
	if check.Stage != StageClear {
		t.Errorf("expected stage=clear, got %s", check.Stage)
	}
	entries := trail.Tail(1, "", "")
	if len(entries) != 1 || entries[0].Outcome != audit.OutcomeAllowed {
		t.Errorf("expected allowed audit entry, got %+v", entries)
	}
}

func TestHaltedAgentBlockedBeforeHolds(t *testing.T) {
	g, _, holds, _ := newTestGatekeeper(t)

	g.HaltAgent("agent-1", "manual kill-switch")
	check := g.Execute(domain.ExecuteRequest{
		AgentID: "agent-1",
		Tool:    "get_invoices",
		Params:  map[string]interface{}{"limit": 5000}, // Сработал бы холд
	})

	if !check.Blocked || check.Stage != StageCircuitBreaker || check.Code != CodeAgentHalted {
		t.Fatalf("expected circuit-breaker block, got %+v", check)
	}
	if check.Reason != "manual kill-switch" {
		t.Errorf("halt reason must surface, got %q", check.Reason)
	}
	if holds.evaluateCalls != 0 {
		t.Errorf("hold manager must not be consulted for a halted agent, calls=%d", holds.evaluateCalls)
	}
}

func TestInvalidFramePenalizesAgent(t *testing.T) {
	g, cb, _, _ := newTestGatekeeper(t)

	req := domain.ExecuteRequest{AgentID: "agent-1", Frame: "junk", Tool: "get_invoices"}

	for i := 0; i < 4; i++ {
		check := g.Execute(req)
		if !check.Blocked || check.Code != "invalid_frame" {
			t.Fatalf("expected invalid_frame block, got %+v", check)
		}
	}
	if st := cb.Status("agent-1"); st.FailureCount != 4 {
		t.Errorf("parse errors must count as agent faults, got %d", st.FailureCount)
	}

	// Пятый битый фрейм открывает цепь
	g.Execute(req)
	check := g.Execute(req)
	if check.Stage != StageCircuitBreaker {
		t.Errorf("agent must be halted after repeated frame faults, got %+v", check)
	}
}

func TestForbiddenFrameDoesNotPenalize(t *testing.T) {
	g, cb, _, _ := newTestGatekeeper(t)

	for i := 0; i < 10; i++ {
		check := g.Execute(domain.ExecuteRequest{
			AgentID: "agent-1",
			Frame:   "⊗◊◀",
			Tool:    "get_invoices",
		})
		if !check.Blocked || check.Code != "forbidden_mode" {
			t.Fatalf("expected forbidden_mode block, got %+v", check)
		}
	}

	// Политический отказ — не сбой агента
	if st := cb.Status("agent-1"); st.FailureCount != 0 || st.State != breaker.StateClosed {
		t.Errorf("policy denial must not touch the failure budget: %+v", st)
	}
}

func TestForbiddenConstraintBlocks(t *testing.T) {
	g, _, _, _ := newTestGatekeeper(t)

	check := g.Execute(domain.ExecuteRequest{AgentID: "a", Frame: "⊘◊◀⛔", Tool: "get_invoices"})
	if !check.Blocked || check.Code != "forbidden_constraint" {
		t.Errorf("expected forbidden_constraint block, got %+v", check)
	}
}

func TestDefaultedFrameAppearsInAudit(t *testing.T) {
	g, _, _, trail := newTestGatekeeper(t)

	check := g.Execute(domain.ExecuteRequest{AgentID: "agent-1", Tool: "get_invoices"})
	if !check.Passed {
		t.Fatalf("expected allowed, got %+v", check)
	}
	if check.Frame == nil || !check.Frame.Defaulted {
		t.Fatal("frame must be marked as defaulted")
	}

	entries := trail.Tail(1, "", "")
	if len(entries) != 1 || entries[0].Frame != "⊘◊◀α" {
		t.Errorf("synthesized frame must land in the audit entry, got %+v", entries)
	}
}

func TestHeldOutcome(t *testing.T) {
	g, _, _, trail := newTestGatekeeper(t)

	check := g.Execute(domain.ExecuteRequest{
		AgentID: "agent-1",
		Tool:    "get_invoices",
		Params:  map[string]interface{}{"limit": 2000},
	})

	if check.Passed || check.Blocked || !check.Held {
		t.Fatalf("held is neither allowed nor blocked, got %+v", check)
	}
	if check.Hold == nil || check.Hold.Status != domain.HoldPending {
		t.Fatalf("held outcome must carry the hold request, got %+v", check.Hold)
	}

	pending := g.ListHolds()
	if len(pending) != 1 || pending[0].ID != check.Hold.ID {
		t.Errorf("hold must be retrievable via ListHolds, got %+v", pending)
	}
	entries := trail.Tail(1, "", "")
	if entries[0].Outcome != audit.OutcomeHeld {
		t.Errorf("expected held audit entry, got %+v", entries[0])
	}
}

func TestApproveHoldReplaysPipeline(t *testing.T) {
	g, _, _, _ := newTestGatekeeper(t)

	check := g.Execute(domain.ExecuteRequest{
		AgentID: "agent-1",
		Tool:    "get_invoices",
		Params:  map[string]interface{}{"limit": 2000},
	})
	if !check.Held {
		t.Fatalf("expected held, got %+v", check)
	}

	replay, dec := g.ApproveHold(check.Hold.ID, "sec-officer", nil)
	if dec == nil || !dec.Approved {
		t.Fatalf("expected approval decision, got %+v", dec)
	}
	if replay == nil || !replay.Passed {
		t.Fatalf("approved replay must pass, got %+v", replay)
	}

	h, _ := g.GetHold(check.Hold.ID)
	if h.Status != domain.HoldApproved {
		t.Errorf("expected approved status, got %s", h.Status)
	}
}

func TestApproveHoldStillSubjectToCircuitBreaker(t *testing.T) {
	g, _, _, _ := newTestGatekeeper(t)

	check := g.Execute(domain.ExecuteRequest{
		AgentID: "agent-1",
		Tool:    "get_invoices",
		Params:  map[string]interface{}{"limit": 2000},
	})

	// Агента останавливают, пока холд ждет решения
	g.HaltAgent("agent-1", "incident response")

	replay, dec := g.ApproveHold(check.Hold.ID, "sec-officer", nil)
	if dec == nil {
		t.Fatal("decision itself must succeed")
	}
	if replay == nil || !replay.Blocked || replay.Stage != StageCircuitBreaker {
		t.Errorf("approval bypasses only the hold check, got %+v", replay)
	}
}

func TestApproveHoldWithModifiedParams(t *testing.T) {
	g, _, holds, _ := newTestGatekeeper(t)

	check := g.Execute(domain.ExecuteRequest{
		AgentID: "agent-1",
		Tool:    "get_invoices",
		Params:  map[string]interface{}{"limit": 2000},
	})

	narrowed := map[string]interface{}{"limit": 200}
	replay, dec := g.ApproveHold(check.Hold.ID, "sec-officer", narrowed)
	if replay == nil || !replay.Passed {
		t.Fatalf("replay with narrowed params must pass, got %+v", replay)
	}
	if dec.ModifiedParams == nil {
		t.Error("decision must carry the modified params")
	}
	// BypassHold: повторный прогон не дергает эвристики заново
	if holds.evaluateCalls != 1 {
		t.Errorf("replay must bypass hold evaluation, calls=%d", holds.evaluateCalls)
	}
}

func TestApproveUnknownHold(t *testing.T) {
	g, _, _, _ := newTestGatekeeper(t)

	replay, dec := g.ApproveHold("missing", "x", nil)
	if replay != nil || dec != nil {
		t.Error("unknown hold must yield nil decision and no replay")
	}
}

func TestRejectHold(t *testing.T) {
	g, _, _, _ := newTestGatekeeper(t)

	check := g.Execute(domain.ExecuteRequest{
		AgentID: "agent-1",
		Tool:    hold.SensitiveSearchTool,
		Params:  map[string]interface{}{"pattern": "credit card 4111"},
	})
	if !check.Held || check.Code != string(domain.ReasonSensitiveTextSearch) {
		t.Fatalf("expected sensitive-text hold, got %+v", check)
	}

	dec := g.RejectHold(check.Hold.ID, "sec-officer", "pii trawling")
	if dec == nil || dec.Approved {
		t.Fatalf("expected rejection, got %+v", dec)
	}
	if again := g.RejectHold(check.Hold.ID, "other", "late"); again != nil {
		t.Error("already decided hold must return nil")
	}
}

func TestPrecheckIsPure(t *testing.T) {
	g, cb, _, trail := newTestGatekeeper(t)

	req := domain.ExecuteRequest{
		AgentID: "agent-1",
		Tool:    "get_invoices",
		Params:  map[string]interface{}{"limit": 2000},
	}

	for i := 0; i < 5; i++ {
		check := g.Precheck(req)
		if !check.Held || check.Trigger == nil || check.Hold != nil {
			t.Fatalf("precheck must report the trigger without materializing a hold: %+v", check)
		}
	}

	if len(g.ListHolds()) != 0 {
		t.Error("precheck must not create holds")
	}
	if trail.Len() != 0 {
		t.Error("precheck must not write audit entries")
	}

	// Битый фрейм в dry run тоже не трогает бюджет сбоев
	for i := 0; i < 5; i++ {
		g.Precheck(domain.ExecuteRequest{AgentID: "agent-2", Frame: "junk", Tool: "get_invoices"})
	}
	if st := cb.Status("agent-2"); st.FailureCount != 0 {
		t.Errorf("precheck must not record failures, got %d", st.FailureCount)
	}
}

func TestAllClearResetsFailureBudget(t *testing.T) {
	g, cb, _, _ := newTestGatekeeper(t)

	for i := 0; i < 4; i++ {
		g.Execute(domain.ExecuteRequest{AgentID: "agent-1", Frame: "junk", Tool: "get_invoices"})
	}
	g.Execute(domain.ExecuteRequest{AgentID: "agent-1", Frame: "⊘◊◀α", Tool: "get_invoices"})

	if st := cb.Status("agent-1"); st.FailureCount != 0 {
		t.Errorf("all-clear must record a success, budget=%d", st.FailureCount)
	}
}

func TestResumeAgent(t *testing.T) {
	g, _, _, _ := newTestGatekeeper(t)

	g.HaltAgent("agent-1", "drill")
	if !g.ResumeAgent("agent-1") {
		t.Fatal("resume of a halted agent must return true")
	}
	if g.ResumeAgent("agent-1") {
		t.Error("second resume must be a no-op returning false")
	}
	if st := g.GetAgentStatus("agent-1"); st.State != breaker.StateClosed {
		t.Errorf("expected closed after resume, got %s", st.State)
	}
}

func TestGetStats(t *testing.T) {
	g, _, _, _ := newTestGatekeeper(t)

	g.Execute(domain.ExecuteRequest{AgentID: "a", Frame: "⊘◊◀α", Tool: "get_invoices"})
	g.Execute(domain.ExecuteRequest{AgentID: "b", Frame: "⊗◊◀", Tool: "get_invoices"})
	g.Execute(domain.ExecuteRequest{AgentID: "c", Tool: "get_invoices", Params: map[string]interface{}{"limit": 2000}})
	g.HaltAgent("d", "incident")

	s := g.GetStats()
	if s.AllowedLastHour != 1 || s.BlockedLastHour != 1 || s.HeldLastHour != 1 {
		t.Errorf("unexpected hourly stats: %+v", s)
	}
	if s.HaltedAgents != 1 {
		t.Errorf("expected 1 halted agent, got %d", s.HaltedAgents)
	}
	if s.Holds[domain.HoldPending] != 1 {
		t.Errorf("expected 1 pending hold, got %+v", s.Holds)
	}
}

func TestSetConfigPropagates(t *testing.T) {
	g, _, _, _ := newTestGatekeeper(t)

	req := domain.ExecuteRequest{
		AgentID: "agent-1",
		Frame:   "⊘◊◀α",
		Tool:    "get_invoices",
		Params:  map[string]interface{}{"limit": 300},
	}
	if check := g.Execute(req); !check.Passed {
		t.Fatalf("limit=300 must pass under the default threshold, got %+v", check)
	}

	cfg := testConfig()
	cfg.RowLimitHoldThreshold = 100
	g.SetConfig(cfg)

	if check := g.Execute(req); !check.Held {
		t.Errorf("limit=300 must be held after lowering the threshold, got %+v", check)
	}
}
