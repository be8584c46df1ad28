package api

import (
	"net/http"
	"time"

	_ "github.com/athebyme/gomarket-sync/internal/api/docs"
	"github.com/athebyme/gomarket-sync/internal/api/handlers"
	"github.com/athebyme/gomarket-sync/internal/api/middleware"
	"github.com/athebyme/gomarket-sync/internal/security"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// RouterDeps зависимости маршрутизатора
type RouterDeps struct {
	Trigger            handlers.RunTrigger
	History            handlers.RunHistory
	JWT                *security.JWTManager
	Logger             interfaces.LoggerPort
	CORSAllowedOrigins []string
	// Health проверка зависимостей; nil значит всегда здоров
	Health func(r *http.Request) error
}

// SetupRouter настраивает маршрутизатор
func SetupRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Metrics)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Recoverer(deps.Logger))
	r.Use(middleware.CORS(deps.CORSAllowedOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RateLimiter(1000, time.Minute))

	health := func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health(r); err != nil {
				deps.Logger.Warn("Проверка здоровья не пройдена", interfaces.LogField{Key: "error", Value: err.Error()})
				http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			w.Write([]byte("OK"))
		}
	}
	r.Get("/health", health)
	r.Head("/health", health)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(deps.JWT, deps.Logger))

		runHandler := handlers.NewRunHandler(deps.Trigger, deps.History, deps.Logger)

		r.Route("/runs", func(r chi.Router) {
			r.With(middleware.RequirePermission(security.PermissionRunSync)).Post("/", runHandler.StartRun)
			r.With(middleware.RequirePermission(security.PermissionReadRuns)).Get("/last", runHandler.LastRun)
		})
	})

	return r
}
