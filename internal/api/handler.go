// Package api exposes the CRM over JSON/HTTP. Every route runs inside the
// caller's organization; side effects (audit, notifications) never fail the
// primary mutation.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/audit"
	"github.com/lalithlochan/stratus/internal/circuitbreaker"
	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/metrics"
	"github.com/lalithlochan/stratus/internal/notify"
	"github.com/lalithlochan/stratus/internal/redis"
	"github.com/lalithlochan/stratus/internal/session"
)

// Store is the persistence the API needs. Both db.Repository and
// sqlite.Store satisfy it.
type Store interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*db.Organization, error)
	UpdateOrganizationSettings(ctx context.Context, id uuid.UUID, settings db.OrganizationSettings) error

	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
	ListUsers(ctx context.Context, orgID uuid.UUID) ([]*db.User, error)
	CountActiveAdmins(ctx context.Context, orgID uuid.UUID) (int, error)
	UpdateUser(ctx context.Context, u *db.User) error

	CreateContact(ctx context.Context, c *db.Contact) error
	GetContact(ctx context.Context, orgID, id uuid.UUID) (*db.Contact, error)
	ListContacts(ctx context.Context, f db.ContactFilter) ([]*db.Contact, error)
	UpdateContact(ctx context.Context, c *db.Contact) error
	DeleteContact(ctx context.Context, orgID, id uuid.UUID) error

	CreateDeal(ctx context.Context, d *db.Deal) error
	GetDeal(ctx context.Context, orgID, id uuid.UUID) (*db.Deal, error)
	ListDeals(ctx context.Context, f db.DealFilter) ([]*db.Deal, error)
	UpdateDeal(ctx context.Context, d *db.Deal) error
	DeleteDeal(ctx context.Context, orgID, id uuid.UUID) error

	CreateTask(ctx context.Context, t *db.Task) error
	GetTask(ctx context.Context, orgID, id uuid.UUID) (*db.Task, error)
	ListTasks(ctx context.Context, f db.TaskFilter) ([]*db.Task, error)
	UpdateTask(ctx context.Context, t *db.Task) error
	DeleteTask(ctx context.Context, orgID, id uuid.UUID) error

	CreateActivity(ctx context.Context, a *db.Activity) error
	ListActivities(ctx context.Context, f db.ActivityFilter) ([]*db.Activity, error)

	ListNotifications(ctx context.Context, f db.NotificationFilter) ([]*db.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID, orgID uuid.UUID) (int, error)
	MarkNotificationsRead(ctx context.Context, userID, orgID uuid.UUID, ids []uuid.UUID) (int64, error)
	MarkAllNotificationsRead(ctx context.Context, userID, orgID uuid.UUID) (int64, error)
	DeleteNotifications(ctx context.Context, userID, orgID uuid.UUID, ids []uuid.UUID) (int64, error)
	DeleteAllNotifications(ctx context.Context, userID, orgID uuid.UUID) (int64, error)

	ListAuditLogs(ctx context.Context, f db.AuditFilter) ([]*db.AuditLogEntry, int, error)

	Health(ctx context.Context) error
}

// Deps wires a Handler. Idempotency and RateLimiter are nil when Redis is
// not configured.
type Deps struct {
	Store       Store
	Notifier    notify.Dispatcher
	Audit       *audit.Logger
	Sessions    *session.Issuer
	Idempotency *redis.ReplayCache
	RateLimiter *redis.RateLimiter
	Breakers    *circuitbreaker.Registry
	Logger      *zap.Logger
}

// Handler holds dependencies for API handlers.
type Handler struct {
	store       Store
	notifier    notify.Dispatcher
	audit       *audit.Logger
	sessions    *session.Issuer
	idempotency *redis.ReplayCache
	limiter     *redis.RateLimiter
	breakers    *circuitbreaker.Registry
	logger      *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:       d.Store,
		notifier:    d.Notifier,
		audit:       d.Audit,
		sessions:    d.Sessions,
		idempotency: d.Idempotency,
		limiter:     d.RateLimiter,
		breakers:    d.Breakers,
		logger:      d.Logger,
	}
}

// Routes builds the full router: health and metrics at the root, the CRM
// under /v1 behind authentication and the per-organization rate limit.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(h.logger))

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Use(h.RateLimit)

		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.ListContacts)
			r.With(h.Idempotent("contacts")).Post("/", h.CreateContact)
			r.Get("/{id}", h.GetContact)
			r.Put("/{id}", h.UpdateContact)
			r.Delete("/{id}", h.DeleteContact)
		})

		r.Route("/deals", func(r chi.Router) {
			r.Get("/", h.ListDeals)
			r.With(h.Idempotent("deals")).Post("/", h.CreateDeal)
			r.Get("/{id}", h.GetDeal)
			r.Put("/{id}", h.UpdateDeal)
			r.Delete("/{id}", h.DeleteDeal)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.With(h.Idempotent("tasks")).Post("/", h.CreateTask)
			r.Get("/{id}", h.GetTask)
			r.Put("/{id}", h.UpdateTask)
			r.Delete("/{id}", h.DeleteTask)
		})

		r.Get("/activities", h.ListActivities)
		r.With(h.Idempotent("activities")).Post("/activities", h.CreateActivity)

		r.Get("/notifications", h.ListNotifications)
		r.Post("/notifications", h.SendNotification)
		r.Patch("/notifications", h.MarkNotifications)
		r.Delete("/notifications", h.DeleteNotifications)

		r.Get("/audit", h.ListAuditLogs)

		r.Get("/users", h.ListUsers)
		r.Patch("/users/{id}", h.UpdateUser)
		r.Delete("/users/{id}", h.DeleteUser)

		r.Get("/profile", h.GetProfile)
		r.Patch("/profile", h.UpdateProfile)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
	})

	return r
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Health(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "unhealthy", "Store unreachable", "")
		return
	}
	resp := HealthResponse{Status: "ok"}
	if h.breakers != nil {
		resp.Providers = h.breakers.Snapshots()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthResponse reports liveness and the circuit state of each external
// notification provider. An open provider circuit does not fail the check.
type HealthResponse struct {
	Status    string                    `json:"status"`
	Providers []circuitbreaker.Snapshot `json:"providers,omitempty"`
}

// dispatch hands req to the background notifier.
func (h *Handler) dispatch(ctx context.Context, req notify.Request) {
	if h.notifier == nil {
		return
	}
	h.notifier.Dispatch(ctx, req)
}

// record writes an audit event attributed to the caller.
func (h *Handler) record(r *http.Request, ev audit.Event) {
	if h.audit == nil {
		return
	}
	if actor, ok := actorFrom(r.Context()); ok {
		ev.Actor = &audit.Actor{
			UserID:         actor.ID,
			Name:           actor.Name,
			OrganizationID: actor.OrganizationID,
		}
	}
	h.audit.Log(r.Context(), ev, r)
}
