package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/pmgate/internal/console/handler"
	"github.com/xela07ax/pmgate/internal/console/service"
	"github.com/xela07ax/pmgate/internal/infra"
	"github.com/xela07ax/pmgate/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// AuthService совмещает выпуск токенов и их проверку (RS256)
	authService *service.AuthService

	// Обработчики бизнес-доменов
	authHandler  *handler.AuthHandler  // /auth/token
	gateHandler  *handler.GateHandler  // /v1/precheck, /v1/stats, /v1/frame-format
	holdHandler  *handler.HoldHandler  // /v1/holds (HITL)
	agentHandler *handler.AgentHandler // /v1/agents (kill-switch)
	auditHandler *handler.AuditHandler // /v1/audit (Logs)
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	authService *service.AuthService,
	authH *handler.AuthHandler,
	gateH *handler.GateHandler,
	holdH *handler.HoldHandler,
	agentH *handler.AgentHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:       chi.NewRouter(),
		logger:       logger.Named("console-api"),
		cfg:          cfg,
		authService:  authService,
		authHandler:  authH,
		gateHandler:  gateH,
		holdHandler:  holdH,
		agentHandler: agentH,
		auditHandler: auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Опционально: Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authService, s.logger))

		// Dry run пайплайна и справка
		r.Post("/v1/precheck", s.gateHandler.Precheck)
		r.Get("/v1/stats", s.gateHandler.GetStats)
		r.Get("/v1/frame-format", s.gateHandler.FrameFormat)

		// Human-in-the-loop (Holds)
		r.Route("/v1/holds", func(r chi.Router) {
			r.Get("/", s.holdHandler.List) // Очередь запросов, ждущих решения
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.holdHandler.Get)
				r.Post("/approve", s.holdHandler.Approve) // Одобрение + немедленный повторный прогон
				r.Post("/reject", s.holdHandler.Reject)
			})
		})

		// Управление Агентами (Status, Kill-Switch)
		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List) // Все известные цепи
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.agentHandler.Get)
				r.Post("/halt", s.agentHandler.Halt) // Мгновенная остановка (Kill-switch)
				r.Post("/resume", s.agentHandler.Resume)
			})
		})

		// Аудит и Логи (Observability)
		r.Get("/v1/audit", s.auditHandler.GetLogs)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
