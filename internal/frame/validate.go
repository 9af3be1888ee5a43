package frame

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// RuleResult — результат одного семантического правила.
type RuleResult struct {
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

type Validation struct {
	Valid   bool         `json:"valid"`
	Results []RuleResult `json:"results"`
}

// Validate прогоняет независимый набор семантических правил.
// Каждое правило вычисляется безусловно: это построитель упорядоченного
// списка диагностик, а не цепочка с ранним выходом.
//
// Замечание по SEM-001: любой запрос несет tool и потому всегда разрешает
// action, так что правило срабатывает на каждом forbidden-фрейме.
// Поведение сохранено намеренно, см. DESIGN.md.
func Validate(f Frame) Validation {
	v := Validation{}

	v.Results = append(v.Results, RuleResult{
		Passed:   f.Valid,
		Severity: SeverityError,
		Code:     "STR-001",
		Message:  structuralMessage(f),
	})

	v.Results = append(v.Results, RuleResult{
		Passed:   !(f.Mode == ModeForbidden && f.Action != ""),
		Severity: SeverityError,
		Code:     "SEM-001",
		Message:  "forbidden mode cannot carry an action",
	})

	v.Results = append(v.Results, RuleResult{
		Passed:   !(f.Constraint == ConstraintForbidden && f.Action != ""),
		Severity: SeverityWarning,
		Code:     "SEM-002",
		Message:  "forbidden constraint with an action requires review",
	})

	v.Results = append(v.Results, RuleResult{
		Passed:   !(f.Domain == DomainFinancial && f.Mode == ModeFlexible),
		Severity: SeverityWarning,
		Code:     "SEM-003",
		Message:  "flexible mode over financial data is discouraged",
	})

	// Warning и info не влияют на итоговую валидность
	v.Valid = true
	for _, r := range v.Results {
		if !r.Passed && r.Severity == SeverityError {
			v.Valid = false
		}
	}
	return v
}

func structuralMessage(f Frame) string {
	if f.Valid {
		return "frame structure is valid"
	}
	return fmt.Sprintf("frame structure is invalid: %s", strings.Join(f.Errors, "; "))
}

// QuickResult — ответ быстрой проверки для Hot Path шлюза.
type QuickResult struct {
	Valid   bool   `json:"valid"`
	Blocked bool   `json:"blocked"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

const (
	CodeInvalidFrame        = "invalid_frame"
	CodeForbiddenMode       = "forbidden_mode"
	CodeForbiddenConstraint = "forbidden_constraint"
)

// QuickValidate — быстрый путь на исполнении. Полный Validate здесь не нужен:
// решение принимается по синтаксису и двум запрещающим символам.
func QuickValidate(raw string) QuickResult {
	f := Parse(raw)

	if !f.Valid {
		return QuickResult{
			Valid:   false,
			Blocked: true,
			Code:    CodeInvalidFrame,
			Reason:  strings.Join(f.Errors, "; "),
		}
	}
	if f.Mode == ModeForbidden {
		return QuickResult{
			Valid:   true,
			Blocked: true,
			Code:    CodeForbiddenMode,
			Reason:  "frame mode is forbidden",
		}
	}
	if f.Constraint == ConstraintForbidden {
		return QuickResult{
			Valid:   true,
			Blocked: true,
			Code:    CodeForbiddenConstraint,
			Reason:  "frame constraint is forbidden",
		}
	}
	return QuickResult{Valid: true}
}
