package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/pmgate/internal/connectors"
	"github.com/xela07ax/pmgate/internal/infra"
)

// ReliabilityWrapper оборачивает SAP-коннектор надежностным контуром:
// rate limiter -> circuit breaker -> ретраи с таймаутом на попытку.
// Это предохранитель ВНЕШНЕЙ системы, у агентов свой, per-agent.
type ReliabilityWrapper struct {
	next        ExecutionProvider
	cb          *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	callTimeout time.Duration
	attempts    uint
}

func NewReliabilityWrapper(next ExecutionProvider, cfg infra.ConnectorConfig, metrics *Metrics) *ReliabilityWrapper {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sap-connector",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if metrics == nil {
				return
			}
			if to == gobreaker.StateOpen {
				metrics.ConnectorBreakerState.Set(1)
			} else {
				metrics.ConnectorBreakerState.Set(0)
			}
		},
	})

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateBurst)

	return &ReliabilityWrapper{
		next:        next,
		cb:          cb,
		limiter:     limiter,
		callTimeout: cfg.CallTimeout,
		attempts:    cfg.RetryAttempts,
	}
}

func (w *ReliabilityWrapper) Call(ctx context.Context, tool string, payload []byte) (res []byte, err error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var finalData []byte

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если коннектор вернул ThrottleError (например, считал Retry-After заголовок)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
			defer cancel()

			var callErr error
			finalData, callErr = w.next.Call(tCtx, tool, payload)
			return callErr
		})

		return finalData, retryErr
	})

	if err != nil {
		return nil, err
	}

	return cbResult.([]byte), nil
}
