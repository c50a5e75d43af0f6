package circuitbreaker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/db"
)

// Provider mirrors notify.Provider so the breaker can wrap channels without
// importing the notification service.
type Provider interface {
	Name() string
	IsEnabled(notifType string, settings db.OrganizationSettings) bool
	Accepts(user *db.User) bool
	Send(ctx context.Context, n *db.Notification, user *db.User) bool
}

// Guarded is a Provider behind a Breaker. While the circuit is open Send
// reports failure without touching the channel.
type Guarded struct {
	Provider
	breaker *Breaker
	logger  *zap.Logger
}

// Guard wraps provider with breaker.
func Guard(provider Provider, breaker *Breaker, logger *zap.Logger) *Guarded {
	return &Guarded{Provider: provider, breaker: breaker, logger: logger}
}

// Send calls the provider when the breaker allows it and feeds the result
// back into the breaker.
func (g *Guarded) Send(ctx context.Context, n *db.Notification, user *db.User) bool {
	return send(ctx, g.Provider, g.breaker, g.logger, n, user)
}

// Breaker returns the breaker guarding the provider.
func (g *Guarded) Breaker() *Breaker {
	return g.breaker
}

// PerOrganization is a Provider behind one Breaker per organization, for
// channels whose endpoint belongs to the tenant (webhooks). One tenant's
// dead endpoint never rejects another tenant's sends.
type PerOrganization struct {
	Provider
	cfg      Config
	registry *Registry
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[uuid.UUID]*Breaker
}

// GuardPerOrganization wraps provider. Breakers are created from cfg on
// first use, scoped to the organization, and added to registry when it is
// not nil.
func GuardPerOrganization(provider Provider, cfg Config, registry *Registry, logger *zap.Logger) *PerOrganization {
	if cfg.Name == "" {
		cfg.Name = provider.Name()
	}
	return &PerOrganization{
		Provider: provider,
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		breakers: make(map[uuid.UUID]*Breaker),
	}
}

// Send routes through the breaker of the notification's organization.
func (g *PerOrganization) Send(ctx context.Context, n *db.Notification, user *db.User) bool {
	return send(ctx, g.Provider, g.Breaker(n.OrganizationID), g.logger, n, user)
}

// Breaker returns the breaker of orgID, creating it closed.
func (g *PerOrganization) Breaker(orgID uuid.UUID) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[orgID]; ok {
		return b
	}
	cfg := g.cfg
	cfg.Scope = orgID.String()
	b := New(cfg, g.logger)
	g.breakers[orgID] = b
	if g.registry != nil {
		g.registry.Add(b)
	}
	return b
}

func send(ctx context.Context, p Provider, b *Breaker, logger *zap.Logger, n *db.Notification, user *db.User) bool {
	if !b.Allow() {
		logger.Warn("provider circuit open, skipping send",
			zap.String("provider", p.Name()),
			zap.String("breaker", b.Key()),
			zap.String("notification_id", n.ID.String()),
		)
		return false
	}

	if !p.Send(ctx, n, user) {
		b.Failure()
		return false
	}
	b.Success()
	return true
}
