package connectors

import (
	"fmt"
	"time"
)

// ThrottleError сигнализирует ретраеру, что SAP-сторона вернула
// Retry-After и ждать нужно ровно столько, а не по бэкоффу.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}
