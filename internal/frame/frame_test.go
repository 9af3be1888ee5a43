package frame

import (
	"strings"
	"testing"
)

func TestParseFullFrame(t *testing.T) {
	f := Parse("⊘◊◀α")
	if !f.Valid {
		t.Fatalf("expected valid frame, got errors: %v", f.Errors)
	}
	if f.Mode != ModeNeutral {
		t.Errorf("expected mode=neutral, got %s", f.Mode)
	}
	if f.Domain != DomainFinancial {
		t.Errorf("expected domain=financial, got %s", f.Domain)
	}
	if f.Action != ActionRetrieve {
		t.Errorf("expected action=retrieve, got %s", f.Action)
	}
	if f.Entity != EntityPrimary {
		t.Errorf("expected entity=primary, got %s", f.Entity)
	}
	if f.Constraint != "" {
		t.Errorf("expected no constraint, got %s", f.Constraint)
	}
}

func TestParseModeMustBeFirst(t *testing.T) {
	// Все четыре символа распознаются, но фрейм невалиден:
	// на нулевой позиции стоит domain, а не mode.
	f := Parse("◐⊕◀α")

	if f.Mode != ModeStrict || f.Domain != DomainOperational || f.Action != ActionRetrieve || f.Entity != EntityPrimary {
		t.Fatalf("expected all four symbols resolved, got %+v", f)
	}
	if f.Valid {
		t.Fatal("expected invalid frame")
	}
	if len(f.Errors) != 1 || f.Errors[0] != "mode symbol must be first" {
		t.Errorf("expected single mode-position error, got %v", f.Errors)
	}
}

func TestParseAccumulatesErrors(t *testing.T) {
	// Дубликат mode, неизвестный символ и отсутствие action в одном фрейме.
	f := Parse("⊘⊕◊x")

	if f.Valid {
		t.Fatal("expected invalid frame")
	}
	if f.Mode != ModeNeutral {
		t.Errorf("first mode symbol must win, got %s", f.Mode)
	}
	want := []string{
		"multiple mode symbols not allowed",
		`unknown symbol 'x'`,
		"missing action symbol",
	}
	for _, w := range want {
		found := false
		for _, e := range f.Errors {
			if e == w {
				found = true
			}
		}
		if !found {
			t.Errorf("expected error %q in %v", w, f.Errors)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	f := Parse("   ")
	if f.Valid {
		t.Fatal("expected invalid frame")
	}
	if len(f.Errors) != 3 {
		t.Errorf("expected 3 missing-symbol errors, got %v", f.Errors)
	}
}

func TestValidateForbiddenModeFiresWithAction(t *testing.T) {
	v := Validate(Parse("⊗◊◀"))
	if v.Valid {
		t.Fatal("expected SEM-001 to fail validation")
	}

	var sem001 *RuleResult
	for i := range v.Results {
		if v.Results[i].Code == "SEM-001" {
			sem001 = &v.Results[i]
		}
	}
	if sem001 == nil {
		t.Fatal("SEM-001 not evaluated")
	}
	if sem001.Passed {
		t.Error("SEM-001 must fail for forbidden mode with action")
	}
	if sem001.Severity != SeverityError {
		t.Errorf("SEM-001 severity must be error, got %s", sem001.Severity)
	}
}

func TestValidateWarningsDoNotFlipValidity(t *testing.T) {
	// financial + flexible => SEM-003 warning; constraint forbidden => SEM-002 warning
	v := Validate(Parse("⊖◊◀⛔"))
	if !v.Valid {
		t.Fatal("warnings must not make the frame invalid")
	}

	failed := 0
	for _, r := range v.Results {
		if !r.Passed {
			if r.Severity == SeverityError {
				t.Errorf("unexpected error-severity failure: %s", r.Code)
			}
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("expected SEM-002 and SEM-003 to fail, got %d failures", failed)
	}
}

func TestValidateRulesRunUnconditionally(t *testing.T) {
	v := Validate(Parse("junk"))
	if len(v.Results) != 4 {
		t.Fatalf("expected 4 rule results for any frame, got %d", len(v.Results))
	}
	if v.Valid {
		t.Error("structurally invalid frame must fail STR-001")
	}
}

func TestQuickValidate(t *testing.T) {
	tests := []struct {
		raw     string
		valid   bool
		blocked bool
		code    string
	}{
		{"⊘◊◀α", true, false, ""},
		{"⊗◊◀", true, true, CodeForbiddenMode},
		{"⊘◊◀⛔", true, true, CodeForbiddenConstraint},
		{"◊◀", false, true, CodeInvalidFrame},
	}

	for _, tt := range tests {
		got := QuickValidate(tt.raw)
		if got.Valid != tt.valid || got.Blocked != tt.blocked || got.Code != tt.code {
			t.Errorf("QuickValidate(%q) = %+v, want valid=%v blocked=%v code=%s",
				tt.raw, got, tt.valid, tt.blocked, tt.code)
		}
	}
}

func TestQuickValidateJoinsParseErrors(t *testing.T) {
	got := QuickValidate("◐⊕◀⊘")
	if got.Valid || !got.Blocked {
		t.Fatalf("expected invalid+blocked, got %+v", got)
	}
	if !strings.Contains(got.Reason, "multiple mode symbols not allowed") ||
		!strings.Contains(got.Reason, "mode symbol must be first") {
		t.Errorf("reason must join all parse errors, got %q", got.Reason)
	}
}

func TestDefaultSAPFrame(t *testing.T) {
	tests := []struct {
		tool   string
		domain Domain
		action Action
	}{
		{"get_invoices", DomainFinancial, ActionRetrieve},
		{"get_payment_runs", DomainFinancial, ActionRetrieve},
		{"get_sales_orders", DomainOperational, ActionRetrieve},
		{"search_document_text", DomainOperational, ActionAnalyze},
		{"validate_process_flow", DomainOperational, ActionValidate},
	}

	for _, tt := range tests {
		f := DefaultSAPFrame(tt.tool, ModeNeutral)
		if !f.Valid {
			t.Fatalf("default frame for %s must be valid, errors: %v", tt.tool, f.Errors)
		}
		if f.Mode != ModeNeutral || f.Domain != tt.domain || f.Action != tt.action || f.Entity != EntityPrimary {
			t.Errorf("DefaultSAPFrame(%s): got %s/%s/%s/%s", tt.tool, f.Mode, f.Domain, f.Action, f.Entity)
		}
	}
}

func TestDefaultSAPFrameRoundTrips(t *testing.T) {
	f := DefaultSAPFrame("get_invoices", ModeStrict)
	again := Parse(f.Raw)
	if !again.Valid || again.Mode != ModeStrict || again.Domain != DomainFinancial {
		t.Errorf("synthesized raw %q must reparse identically, got %+v", f.Raw, again)
	}
}
