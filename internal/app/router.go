package app

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"cbtengine/internal/app/apiresp"
	"cbtengine/internal/app/observability"
	"cbtengine/internal/deadline"
	"cbtengine/internal/exam"
	"cbtengine/internal/question"
	"cbtengine/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// App holds the wired services behind the HTTP handler.
type App struct {
	Handler   http.Handler
	Questions *question.Service
	Exams     *exam.Service
	Reports   *report.Service
	Monitors  *deadline.Registry
}

// Build wires stores, services, the deadline monitors and the router.
// Callers own conn and must call Close to stop the monitors.
func Build(cfg Config, conn *sql.DB, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}

	questions := question.NewService(conn)
	exams := exam.NewService(exam.NewSQLStore(conn), questions, cfg.Engine(), exam.WithLogger(logger))
	monitors := deadline.NewRegistry(
		deadline.SubmitFunc(exams.AutoSubmit),
		deadline.WithInterval(cfg.MonitorInterval),
		deadline.WithSubmitTimeout(cfg.WriteTimeout),
		deadline.WithLogger(logger),
	)
	exams.SetWatcher(monitors)
	reports := report.NewService(exams)

	a := &App{
		Questions: questions,
		Exams:     exams,
		Reports:   reports,
		Monitors:  monitors,
	}
	a.Handler = newRouter(cfg, conn, a, logger)
	return a
}

func (a *App) Close() {
	a.Monitors.Close()
}

func newRouter(cfg Config, conn *sql.DB, a *App, logger *slog.Logger) http.Handler {
	collector := observability.NewCollector(conn, logger)
	collector.RegisterGauge("deadline_monitors_active", func() float64 {
		return float64(a.Monitors.Active())
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(collector.Middleware)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", csrfHeaderName},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	questionHandler := question.NewHandler(a.Questions)
	examHandler := exam.NewHandler(a.Exams)
	reportHandler := report.NewHandler(a.Reports)
	startLimiter := NewIPRateLimiter(cfg.StartRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.PingContext(r.Context()); err != nil {
			apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"env": cfg.AppEnv})
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))

		api.With(RateLimitMiddleware(startLimiter)).Post("/sessions", examHandler.Start)
		api.Get("/sessions/{id}", examHandler.GetSession)
		api.Get("/sessions/{id}/questions", examHandler.Questions)
		api.Put("/sessions/{id}/progress", examHandler.SaveProgress)
		api.Put("/sessions/{id}/answers/{questionID}", examHandler.SaveAnswer)
		api.Post("/sessions/{id}/submit", examHandler.Submit)
		api.Get("/sessions/{id}/result", examHandler.Result)

		api.Route("/admin", func(admin chi.Router) {
			admin.Get("/questions", questionHandler.List)
			admin.Post("/questions", questionHandler.BulkUpsert)
			admin.Post("/exams", examHandler.CreateExam)
			admin.Get("/exams/{id}", examHandler.GetExam)
			admin.Get("/exams/{id}/results", examHandler.ListResults)
			admin.Get("/exams/{id}/summary", reportHandler.Summary)
			admin.Get("/exams/{id}/export", reportHandler.Export)
			admin.Post("/theory/structure", examHandler.PreviewTheory)
		})
	})

	return r
}
