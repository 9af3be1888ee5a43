package domain

// ExecuteRequest — входной запрос агента на выполнение защищаемой операции.
// Живет только в рамках одного вызова, нигде не персистится.
type ExecuteRequest struct {
	AgentID string                 `json:"agent_id"`
	Frame   string                 `json:"frame,omitempty"` // Символьный дескриптор политики, может быть пустым
	Tool    string                 `json:"tool"`
	Params  map[string]interface{} `json:"params,omitempty"`
	TraceID string                 `json:"-"` // Подставляется HTTP-слоем из X-Trace-ID

	// BypassHold выставляется только при повторном прогоне одобренного Hold.
	// Circuit Breaker и Frame проверяются заново в любом случае.
	BypassHold bool          `json:"bypass_hold,omitempty"`
	Decision   *HoldDecision `json:"decision,omitempty"`
}
