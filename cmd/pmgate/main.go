package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/pmgate/internal/audit"
	"github.com/xela07ax/pmgate/internal/breaker"
	"github.com/xela07ax/pmgate/internal/connectors"
	"github.com/xela07ax/pmgate/internal/console/handler"
	"github.com/xela07ax/pmgate/internal/console/server"
	"github.com/xela07ax/pmgate/internal/console/service"
	"github.com/xela07ax/pmgate/internal/engine"
	"github.com/xela07ax/pmgate/internal/gatekeeper"
	"github.com/xela07ax/pmgate/internal/hold"
	"github.com/xela07ax/pmgate/internal/infra"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// 2. Governance-ядро (все состояние in-memory)
	gov := cfg.Governance
	trail := audit.NewTrail(gov.EnableAuditLogging, gov.AuditRetention, logger)
	circuits := breaker.NewRegistry(gov.EnableCircuitBreaker, gov.MaxFailuresBeforeOpen, gov.CircuitResetTime, logger)
	holds := hold.NewManager(gov.EnableHolds, gov.DateRangeHoldThresholdDays, gov.RowLimitHoldThreshold,
		gov.SensitiveTextPatterns, gov.HoldExpiration, logger)
	gate := gatekeeper.New(gov, circuits, holds, trail, logger)

	// 3. Execution Layer (Исполнение + Надежность)
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// TODO: заменить мок живым SAP-коннектором, когда контракт REST API зафиксируют
	sap := &connectors.MockSAPConnector{}
	safeExecutor := engine.NewReliabilityWrapper(sap, cfg.Connector, metrics)
	executor := engine.NewGatedExecutor(gate, safeExecutor, metrics, logger)

	// 4. Console API (Dependency Injection)
	authService, err := service.NewAuthService(cfg.Auth)
	if err != nil {
		logger.Fatal("failed to init auth service", zap.Error(err))
	}
	console := server.NewConsoleServer(
		cfg,
		logger,
		authService,
		handler.NewAuthHandler(authService),
		handler.NewGateHandler(gate),
		handler.NewHoldHandler(gate),
		handler.NewAgentHandler(gate),
		handler.NewAuditHandler(trail),
	)

	// 5. Три HTTP-поверхности: агентский трафик, админка, метрики
	engineSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.EnginePort),
		Handler:      executor.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	consoleSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.ConsolePort),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	for name, srv := range map[string]*http.Server{
		"engine":  engineSrv,
		"console": consoleSrv,
		"metrics": metricsSrv,
	} {
		go func(name string, srv *http.Server) {
			logger.Info("server started", zap.String("name", name), zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("server failed", zap.String("name", name), zap.Error(err))
			}
		}(name, srv)
	}

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop // Ждем сигнал

	logger.Info("pmgate stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	for _, srv := range []*http.Server{engineSrv, consoleSrv, metricsSrv} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
	}
	logger.Info("pmgate exited properly")
}
