package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/medsync-dashboard/internal/console/handler"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router   *chi.Mux
	logger   *zap.Logger
	gatherer prometheus.Gatherer

	// Обработчики
	dashHandler      *handler.DashboardHandler // /api/v1/dashboard
	agentHandler     *handler.AgentHandler     // /api/v1/agent
	persistedHandler *handler.PersistedHandler // /api/v1/persisted
}

// NewConsoleServer собирает BFF дашборда. gatherer может быть nil — тогда /metrics не публикуется.
func NewConsoleServer(
	logger *zap.Logger,
	gatherer prometheus.Gatherer,
	dashH *handler.DashboardHandler,
	agentH *handler.AgentHandler,
	persistedH *handler.PersistedHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:           chi.NewRouter(),
		logger:           logger.Named("console-api"),
		gatherer:         gatherer,
		dashHandler:      dashH,
		agentHandler:     agentH,
		persistedHandler: persistedH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// --- 2. Служебные роуты ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// --- 3. API дашборда ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/", s.dashHandler.GetAll)
			r.Route("/{domain}", func(r chi.Router) {
				r.Get("/", s.dashHandler.Get)
				r.Post("/refresh", s.dashHandler.Refresh) // Ручное обновление мимо таймера
			})
		})

		r.Route("/agent", func(r chi.Router) {
			r.Post("/process-all", s.agentHandler.ProcessAll) // 202, 409 пока предыдущий запуск не завершен
			r.Get("/action", s.agentHandler.GetAction)
			r.Get("/history", s.agentHandler.History)
		})

		r.Route("/persisted", func(r chi.Router) {
			r.Get("/", s.persistedHandler.Summary)
			r.Delete("/", s.persistedHandler.Clear)
		})
	})
}

// requestLogger — access-лог через zap вместо стандартного middleware.Logger.
func (s *ConsoleServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Debug("request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
