package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/commands/bus"
	"github.com/demonfiddler/evidence-engine-sub000/application/linkmanager"
	"github.com/demonfiddler/evidence-engine-sub000/application/mastercontext"
	querybus "github.com/demonfiddler/evidence-engine-sub000/application/queries/bus"
	"github.com/demonfiddler/evidence-engine-sub000/application/services"
	"github.com/demonfiddler/evidence-engine-sub000/interfaces/http/rest/handlers"
	"github.com/demonfiddler/evidence-engine-sub000/interfaces/http/rest/middleware"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/auth"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/common"
	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
	"github.com/demonfiddler/evidence-engine-sub000/pkg/observability"
)

// Options tunes the router
type Options struct {
	EnableCORS     bool
	AllowedOrigins []string
	// Ready reports whether the backing store answers; nil means always ready
	Ready func(ctx context.Context) error
}

// Router creates and configures the HTTP router
type Router struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	audits     *services.AuditService
	sessions   *linkmanager.Manager
	contexts   *mastercontext.Store
	errs       *apperrors.ErrorHandler
	authConfig middleware.AuthConfig
	collector  *observability.Collector
	tracer     *observability.Tracer
	options    Options
	logger     *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	audits *services.AuditService,
	sessions *linkmanager.Manager,
	contexts *mastercontext.Store,
	errs *apperrors.ErrorHandler,
	authConfig middleware.AuthConfig,
	collector *observability.Collector,
	tracer *observability.Tracer,
	options Options,
	logger *zap.Logger,
) *Router {
	return &Router{
		commandBus: commandBus,
		queryBus:   queryBus,
		audits:     audits,
		sessions:   sessions,
		contexts:   contexts,
		errs:       errs,
		authConfig: authConfig,
		collector:  collector,
		tracer:     tracer,
		options:    options,
		logger:     logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.Logger(rt.logger))
	router.Use(rt.errs.Middleware)
	router.Use(middleware.Metrics(rt.collector, rt.tracer))

	if rt.options.EnableCORS {
		origins := rt.options.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", common.SessionHeader},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.errs.HandleStatus(w, r, http.StatusNotFound, "Route not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		rt.errs.HandleStatus(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Health check
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.collector != nil {
		router.Handle("/metrics", rt.collector.Handler())
	}

	links := handlers.NewLinkHandler(rt.commandBus, rt.queryBus, rt.errs, rt.logger)
	records := handlers.NewRecordHandler(rt.commandBus, rt.queryBus, rt.audits, rt.errs, rt.logger)
	directions := handlers.NewDirectionHandler(rt.queryBus, rt.errs, rt.logger)
	sessions := handlers.NewSessionHandler(rt.sessions, rt.errs, rt.logger)
	contexts := handlers.NewMasterContextHandler(rt.contexts, rt.queryBus, rt.errs, rt.logger)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.authConfig, rt.errs, rt.logger))

		// Reads
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuthority(rt.errs, auth.AuthorityRead))

			r.Get("/directions", directions.ListDirections)
			r.Get("/directions/{kindA}/{kindB}", directions.GetDirection)

			r.Get("/records", records.ListRecords)
			r.Get("/records/{recordID}/links", links.GetRecordLinks)
			r.Get("/records/{recordID}/audit", records.GetAudit)
			r.Post("/audit", records.ComputeAudit)

			r.Route("/master-context", func(r chi.Router) {
				r.Get("/", contexts.GetContext)
				r.Put("/", contexts.PutContext)
				r.Delete("/", contexts.ClearContext)
				r.Put("/visible-kinds", contexts.PutVisibleKinds)
				r.Get("/filter", contexts.GetFilter)
			})

			// mutating transitions check LNK inside the session
			r.Route("/link-sessions", func(r chi.Router) {
				r.Post("/", sessions.OpenSession)
				r.Get("/{sessionID}", sessions.GetSession)
				r.Post("/{sessionID}/{action}", sessions.ApplyAction)
				r.Delete("/{sessionID}", sessions.CloseSession)
			})
		})

		// Link mutations
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuthority(rt.errs, auth.AuthorityLink))
			r.Post("/links", links.CreateLink)
			r.Put("/links/{linkID}", links.UpdateLink)
			r.Delete("/links/{linkID}", links.DeleteLink)
		})

		// Record writes
		r.With(middleware.RequireAuthority(rt.errs, auth.AuthorityCreate, auth.AuthorityUpdate)).
			Put("/records/{recordID}", records.SaveRecord)
		r.Put("/records/{recordID}/status", records.SetStatus)
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "healthy")
}

// readinessCheck handles readiness check requests
func (rt *Router) readinessCheck(w http.ResponseWriter, r *http.Request) {
	if rt.options.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.options.Ready(ctx); err != nil {
			rt.logger.Warn("Readiness check failed", zap.Error(err))
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	writeStatus(w, http.StatusOK, "ready")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
