package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ctxKey string

const (
	routeLabelKey   ctxKey = "metrics_route"
	requestIDCtxKey ctxKey = "metrics_request_id"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calendar_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	dbLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calendar_db_latency_seconds",
		Help:    "Histogram of database operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route"})

	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_dispatch_total",
		Help: "Event-message dispatches by event type and outcome.",
	}, []string{"type", "outcome"})

	listenerMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_listener_messages_total",
		Help: "iTIP mail notifications received by the event mail listener, by outcome.",
	}, []string{"outcome"})

	invitationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_invitations_sent_total",
		Help: "Invitation emails handed to the mail sender, by iTIP method and status.",
	}, []string{"method", "status"})
)

// Middleware records request metrics and enriches the context with labels for downstream instrumentation.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())

			ctx := r.Context()
			if reqID != "" {
				ctx = context.WithValue(ctx, requestIDCtxKey, reqID)
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			// chi resolves the pattern while routing, so read it afterwards.
			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			statusCode := strconv.Itoa(status)

			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, statusCode).Observe(time.Since(start).Seconds())
			if status >= http.StatusInternalServerError {
				httpErrorsTotal.WithLabelValues(r.Method, route, statusCode).Inc()
			}
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// WithRoute labels database latency observed outside HTTP requests, such as
// queue consumers. Requests are labelled with their chi route pattern.
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeLabelKey, route)
}

// ObserveDBLatency records database latency for a given operation, associating it with request labels when available.
func ObserveDBLatency(ctx context.Context, operation string, start time.Time) {
	route := routeFromContext(ctx)
	dbLatency.WithLabelValues(operation, route).Observe(time.Since(start).Seconds())
}

// IncDispatch counts a dispatch outcome ("created", "denied", "updated", "error").
func IncDispatch(eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	dispatchTotal.WithLabelValues(eventType, outcome).Inc()
}

// IncListenerMessage counts an iTIP listener outcome ("forwarded", "invalid", "unknown_user", "lookup_error", "forward_error").
func IncListenerMessage(outcome string) {
	listenerMessagesTotal.WithLabelValues(outcome).Inc()
}

// IncInvitationSent counts one invitation email send attempt.
func IncInvitationSent(method string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	invitationsSentTotal.WithLabelValues(method, status).Inc()
}

// RequestIDFromContext extracts the request ID stored by the metrics middleware.
func RequestIDFromContext(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDCtxKey).(string); ok {
		return reqID
	}
	return ""
}

func routeFromContext(ctx context.Context) string {
	if route, ok := ctx.Value(routeLabelKey).(string); ok && route != "" {
		return route
	}
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
