package frame

import "strings"

// Инструменты, работающие с финансовыми документами майнинга (счета, платежи,
// мастер-данные поставщиков). Все остальные считаются операционными.
var financialTools = map[string]bool{
	"get_invoices":      true,
	"get_payment_runs":  true,
	"get_vendor_master": true,
	"get_credit_memos":  true,
}

// ValidateProcessTool — единственный инструмент с действием validate
const ValidateProcessTool = "validate_process_flow"

// DefaultSAPFrame синтезирует фрейм, когда агент его не передал.
// Domain и action выводятся из имени инструмента по статической таблице,
// entity всегда primary. Результат проходит через Parse, чтобы дефолтный
// фрейм был неотличим от присланного агентом.
func DefaultSAPFrame(tool string, mode Mode) Frame {
	if mode == "" {
		mode = ModeNeutral
	}

	domainSym := symOperational
	if financialTools[tool] {
		domainSym = symFinancial
	}

	actionSym := symRetrieve
	switch {
	case strings.HasPrefix(tool, "search_"):
		actionSym = symAnalyze
	case tool == ValidateProcessTool:
		actionSym = symValidate
	}

	raw := string([]rune{modeSymbols[mode], domainSym, actionSym, symPrimary})
	return Parse(raw)
}
