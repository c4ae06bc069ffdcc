package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/demonfiddler/evidence-engine-sub000/pkg/observability"
)

// Metrics records request counts and latencies by route pattern and opens a
// trace segment per request when tracing is enabled.
func Metrics(collector *observability.Collector, tracer *observability.Tracer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			ctx, seg := tracer.StartSegment(r.Context(), "http")
			if seg != nil {
				tracer.AddAnnotation(ctx, "method", r.Method)
				tracer.AddAnnotation(ctx, "requestID", middleware.GetReqID(ctx))
			}

			next.ServeHTTP(ww, r.WithContext(ctx))

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			if collector != nil {
				collector.ObserveHTTP(r.Method, route, ww.Status(), time.Since(start))
			}
			if seg != nil {
				tracer.AddAnnotation(ctx, "route", route)
				tracer.AddMetadata(ctx, "status", ww.Status())
			}
			observability.Close(seg, nil)
		})
	}
}
