package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/fedipanel/internal/config"
	"github.com/pitabwire/fedipanel/internal/form"
	"github.com/pitabwire/fedipanel/internal/metadata"
	"github.com/pitabwire/fedipanel/internal/observability"
	"github.com/pitabwire/fedipanel/model"
)

// SessionService opens, resolves, and clears panel sessions.
type SessionService interface {
	SessionLookup
	Login(ctx context.Context, token string) (*model.Session, error)
	End(ctx context.Context, id string) error
}

// MenuService serves the compiled navigation of a session.
type MenuService interface {
	GetNavigation(ctx context.Context, sess *model.Session) (model.NavigationResponse, error)
	GetRoutes(ctx context.Context, sess *model.Session) ([]model.RouteEntry, error)
	Resolve(ctx context.Context, sess *model.Session, path string) (model.RouteMatch, error)
}

// FormService serves form descriptors and runs submissions.
type FormService interface {
	GetForm(ctx context.Context, sess *model.Session, formID string, params map[string]string) (model.FormDescriptor, error)
	Submit(ctx context.Context, sess *model.Session, formID string, in metadata.SubmitInput) (model.MutationResponse, error)
	Preview(ctx context.Context, sess *model.Session, formID, field string, file *form.File) (model.PreviewResponse, error)
}

// PreviewSource returns staged preview files by ID.
type PreviewSource interface {
	Get(id string) (*form.File, bool)
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Sessions  SessionService
	Menu      MenuService
	Forms     FormService
	Previews  PreviewSource
	Readiness observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics, and login bypass the
// session middleware.
func NewRouter(deps Dependencies) chi.Router {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = zap.L()
	}
	maxUpload, err := cfg.Submission.MaxUploadBytes()
	if err != nil {
		logger.Warn("invalid submission.max_upload, uploads are unbounded", zap.Error(err))
		maxUpload = 0
	}
	recordSession := func(event string) {
		if deps.Metrics != nil {
			deps.Metrics.RecordSession(event)
		}
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID(logger))
	r.Use(SecurityHeaders)

	// Public routes.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled {
		r.Handle(cfg.Observability.Metrics.Path, observability.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging)

		r.Post("/ui/session", handleLogin(deps.Sessions, cfg.Session, recordSession))

		// Session-authenticated routes.
		r.Group(func(r chi.Router) {
			r.Use(Session(deps.Sessions, cfg.Session))

			r.Get("/ui/session", handleCurrentSession())
			r.Delete("/ui/session", handleLogout(deps.Sessions, cfg.Session, recordSession))

			r.Get("/ui/navigation", handleNavigation(deps.Menu))
			r.Get("/ui/routes", handleRoutes(deps.Menu))
			r.Get("/ui/resolve", handleResolve(deps.Menu))

			r.Get("/ui/forms/{formId}", handleGetForm(deps.Forms))
			r.Post("/ui/forms/{formId}", handleSubmitForm(deps.Forms, maxUpload))
			r.Post("/ui/forms/{formId}/previews", handleCreatePreview(deps.Forms, maxUpload))
			r.Get("/ui/previews/{previewId}", handleGetPreview(deps.Previews))

			r.Post("/ui/domain-lists/parse", handleParseDomainList(maxUpload))
			r.Post("/ui/domain-lists/export", handleExportDomainList(maxUpload))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, model.NewNotFoundError("no such endpoint"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: &model.ErrorEnvelope{
			Code:    model.ErrBadRequest,
			Message: r.Method + " is not allowed on " + r.URL.Path,
		}})
	})

	return r
}
