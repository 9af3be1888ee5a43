package connectors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// MockSAPConnector имитирует downstream-коннектор к SAP process-mining API.
// Возвращает консервированные ответы по каталогу инструментов, с задержкой
// 50-300мс как у живой интеграции.
type MockSAPConnector struct{}

func (c *MockSAPConnector) Call(ctx context.Context, tool string, payload []byte) ([]byte, error) {
	latency := time.Duration(50+rand.Intn(250)) * time.Millisecond

	select {
	case <-time.After(latency):
		// Имитация работы
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch tool {
	// SD: order-to-cash цепочка
	case "get_sales_orders":
		return []byte(`{"tool": "get_sales_orders", "rows": [{"vbeln": "0000012345", "auart": "TA", "netwr": 15200.50}]}`), nil
	case "get_deliveries":
		return []byte(`{"tool": "get_deliveries", "rows": [{"vbeln": "0080001122", "lfart": "LF", "wadat_ist": "2026-08-20"}]}`), nil
	case "get_invoices":
		return []byte(`{"tool": "get_invoices", "rows": [{"vbeln": "0090003344", "fkart": "F2", "netwr": 15200.50}]}`), nil

	// FI: платежный контур
	case "get_payment_runs":
		return []byte(`{"tool": "get_payment_runs", "rows": [{"laufd": "2026-08-15", "laufi": "PAY01", "status": "completed"}]}`), nil
	case "get_vendor_master":
		return []byte(`{"tool": "get_vendor_master", "rows": [{"lifnr": "0000100042", "name1": "ACME GmbH", "land1": "DE"}]}`), nil
	case "get_credit_memos":
		return []byte(`{"tool": "get_credit_memos", "rows": [{"vbeln": "0060000877", "fkart": "G2", "netwr": -320.00}]}`), nil

	// Процессные события и поиск
	case "get_workflow_events":
		return []byte(`{"tool": "get_workflow_events", "rows": [{"object": "0090003344", "event": "RELEASED", "ts": "2026-08-21T10:15:00Z"}]}`), nil
	case "search_document_text":
		return []byte(`{"tool": "search_document_text", "matches": [{"doc": "0090003344", "snippet": "payment terms net 30"}]}`), nil
	case "search_change_log":
		return []byte(`{"tool": "search_change_log", "matches": [{"objectclas": "VERKBELEG", "fname": "NETWR", "changed_by": "JDOE"}]}`), nil
	case "validate_process_flow":
		return []byte(`{"tool": "validate_process_flow", "conformance": 0.93, "deviations": 4}`), nil

	default:
		return nil, fmt.Errorf("tool %s not supported by connector", tool)
	}
}
