package frame

import (
	"fmt"
	"strings"
)

// Mode — первый и обязательный символ каждого фрейма
type Mode string

const (
	ModeStrict    Mode = "strict"
	ModeNeutral   Mode = "neutral"
	ModeFlexible  Mode = "flexible"
	ModeForbidden Mode = "forbidden"
)

type Domain string

const (
	DomainFinancial   Domain = "financial"
	DomainOperational Domain = "operational"
)

type Action string

const (
	ActionRetrieve Action = "retrieve"
	ActionAnalyze  Action = "analyze"
	ActionValidate Action = "validate"
)

type Constraint string

const (
	ConstraintForbidden Constraint = "forbidden"
	ConstraintRejected  Constraint = "rejected"
	ConstraintWarning   Constraint = "warning"
	ConstraintApproved  Constraint = "approved"
)

type Entity string

const (
	EntityPrimary   Entity = "primary"
	EntitySecondary Entity = "secondary"
	EntityTertiary  Entity = "tertiary"
)

// Закрытая онтология символов. Формат проводной, воспроизводится бит-в-бит:
// один mode (обязателен, строго первый), один domain, один action,
// опциональные constraint и entity.
const (
	symStrict    = '⊕'
	symNeutral   = '⊘'
	symFlexible  = '⊖'
	symForbidden = '⊗'

	symFinancial   = '◊'
	symOperational = '◐'

	symRetrieve = '◀'
	symAnalyze  = '▲'
	symValidate = '●'

	symConstraintForbidden = '⛔'
	symConstraintRejected  = '✗'
	symConstraintWarning   = '⚠'
	symConstraintApproved  = '✓'

	symPrimary   = 'α'
	symSecondary = 'β'
	symTertiary  = 'γ'
)

type category int

const (
	catMode category = iota
	catDomain
	catAction
	catConstraint
	catEntity
)

func (c category) String() string {
	switch c {
	case catMode:
		return "mode"
	case catDomain:
		return "domain"
	case catAction:
		return "action"
	case catConstraint:
		return "constraint"
	default:
		return "entity"
	}
}

type symbolEntry struct {
	cat   category
	value string
}

// Диспетчеризация через закрытую таблицу, а не через индексацию строк.
// Любой символ вне таблицы считается неизвестным.
var ontology = map[rune]symbolEntry{
	symStrict:    {catMode, string(ModeStrict)},
	symNeutral:   {catMode, string(ModeNeutral)},
	symFlexible:  {catMode, string(ModeFlexible)},
	symForbidden: {catMode, string(ModeForbidden)},

	symFinancial:   {catDomain, string(DomainFinancial)},
	symOperational: {catDomain, string(DomainOperational)},

	symRetrieve: {catAction, string(ActionRetrieve)},
	symAnalyze:  {catAction, string(ActionAnalyze)},
	symValidate: {catAction, string(ActionValidate)},

	symConstraintForbidden: {catConstraint, string(ConstraintForbidden)},
	symConstraintRejected:  {catConstraint, string(ConstraintRejected)},
	symConstraintWarning:   {catConstraint, string(ConstraintWarning)},
	symConstraintApproved:  {catConstraint, string(ConstraintApproved)},

	symPrimary:   {catEntity, string(EntityPrimary)},
	symSecondary: {catEntity, string(EntitySecondary)},
	symTertiary:  {catEntity, string(EntityTertiary)},
}

var modeSymbols = map[Mode]rune{
	ModeStrict:    symStrict,
	ModeNeutral:   symNeutral,
	ModeFlexible:  symFlexible,
	ModeForbidden: symForbidden,
}

// Frame — разобранный символьный дескриптор политики.
type Frame struct {
	Raw        string     `json:"raw"`
	Mode       Mode       `json:"mode,omitempty"`
	Domain     Domain     `json:"domain,omitempty"`
	Action     Action     `json:"action,omitempty"`
	Constraint Constraint `json:"constraint,omitempty"`
	Entity     Entity     `json:"entity,omitempty"`
	Valid      bool       `json:"valid"`
	Errors     []string   `json:"errors,omitempty"`
}

// Parse разбирает сырую строку фрейма посимвольно.
// Ошибки накапливаются и не прерывают разбор: на выходе полный список
// диагностик, а не первая попавшаяся. Категория заполняется первым
// встреченным символом, повторы фиксируются как нарушение.
func Parse(raw string) Frame {
	f := Frame{Raw: raw}
	runes := []rune(strings.TrimSpace(raw))

	seen := make(map[category]bool, 5)
	for _, r := range runes {
		entry, known := ontology[r]
		if !known {
			f.Errors = append(f.Errors, fmt.Sprintf("unknown symbol %q", r))
			continue
		}
		if seen[entry.cat] {
			f.Errors = append(f.Errors, fmt.Sprintf("multiple %s symbols not allowed", entry.cat))
			continue
		}
		seen[entry.cat] = true

		switch entry.cat {
		case catMode:
			f.Mode = Mode(entry.value)
		case catDomain:
			f.Domain = Domain(entry.value)
		case catAction:
			f.Action = Action(entry.value)
		case catConstraint:
			f.Constraint = Constraint(entry.value)
		case catEntity:
			f.Entity = Entity(entry.value)
		}
	}

	// Пост-проверки: обязательные категории и позиция mode
	if f.Mode == "" {
		f.Errors = append(f.Errors, "missing mode symbol")
	}
	if f.Domain == "" {
		f.Errors = append(f.Errors, "missing domain symbol")
	}
	if f.Action == "" {
		f.Errors = append(f.Errors, "missing action symbol")
	}
	if f.Mode != "" && len(runes) > 0 && runes[0] != modeSymbols[f.Mode] {
		f.Errors = append(f.Errors, "mode symbol must be first")
	}

	f.Valid = len(f.Errors) == 0
	return f
}

// FormatDoc возвращает статическую справку по проводному формату фрейма.
// Отдается админкой как есть (GET /v1/frame-format).
func FormatDoc() string {
	return `Frame wire format: a compact sequence of single symbols.

  mode (required, must be first):
    ⊕ strict   ⊘ neutral   ⊖ flexible   ⊗ forbidden
  domain (required):
    ◊ financial   ◐ operational
  action (required):
    ◀ retrieve   ▲ analyze   ● validate
  constraint (optional):
    ⛔ forbidden   ✗ rejected   ⚠ warning   ✓ approved
  entity (optional):
    α primary   β secondary   γ tertiary

At most one symbol per category. Examples:
  ⊘◊◀α   neutral / financial / retrieve / primary
  ⊕◐▲    strict / operational / analyze`
}
