package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/mo"
	"golang.org/x/time/rate"

	"github.com/jw6ventures/esn-calendar/internal/calconfig"
	"github.com/jw6ventures/esn-calendar/internal/calendar"
	"github.com/jw6ventures/esn-calendar/internal/config"
	"github.com/jw6ventures/esn-calendar/internal/http/ratelimit"
	"github.com/jw6ventures/esn-calendar/internal/logging"
	"github.com/jw6ventures/esn-calendar/internal/metrics"
	"github.com/jw6ventures/esn-calendar/internal/store"
)

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CalendarService is implemented by calendar.Service.
type CalendarService interface {
	Dispatch(ctx context.Context, req *calendar.DispatchRequest) (mo.Option[*store.EventMessage], error)
	InviteAttendees(ctx context.Context, req calendar.InviteRequest) error
}

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Health      HealthChecker
	RequireUser func(http.Handler) http.Handler
	Calendar    CalendarService
	CalendarAPI calconfig.CalendarAPI
	Users       calconfig.UserDirectory
	Logger      logging.Logger
}

// NewRouter wires the health, metrics and calendar API routes.
func NewRouter(cfg *config.Config, d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	h := &handler{calendar: d.Calendar, calendarAPI: d.CalendarAPI, users: d.Users, logger: d.Logger}

	// Authenticated callers: 10 requests per second, burst of 20, per user.
	apiRateLimiter := ratelimit.New(rate.Limit(10), 20, 5*time.Minute, ratelimit.ByUser(ratelimit.ByClientIP(cfg.TrustedProxies)))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := d.Health.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	r.Route("/api/calendars", func(r chi.Router) {
		r.Use(d.RequireUser)
		r.Use(apiRateLimiter.Middleware())
		r.Post("/inviteattendees", h.InviteAttendees)
		r.Post("/{homeId}/configuration", h.SubmitConfiguration)
		r.Post("/{objectType}/{collaborationId}/events", h.DispatchEvent)
	})

	return r
}

func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
