// Package notify fans domain events out to users through pluggable
// providers, honouring per-user preferences and per-organization settings.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/access"
	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/metrics"
)

// Store is what the service needs from persistence.
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetOrganization(ctx context.Context, id uuid.UUID) (*db.Organization, error)
	ListActiveUsers(ctx context.Context, orgID uuid.UUID, roles ...string) ([]*db.User, error)
	CreateNotification(ctx context.Context, n *db.Notification) error
}

// Provider delivers a notification over one channel. Send reports success;
// it should not panic, but the service contains panics anyway. A recipient
// the channel cannot reach (no phone, no email) is rejected by Accepts and
// skipped: it is neither sent nor counted as a failure.
type Provider interface {
	Name() string
	IsEnabled(notifType string, settings db.OrganizationSettings) bool
	Accepts(user *db.User) bool
	Send(ctx context.Context, n *db.Notification, user *db.User) bool
}

// Service resolves recipients and runs the registered providers for each.
type Service struct {
	store     Store
	providers []Provider
	logger    *zap.Logger
}

// NewService builds a service. The in-app provider is always registered
// first; extra providers run after it in the given order.
func NewService(store Store, logger *zap.Logger, extra ...Provider) *Service {
	providers := make([]Provider, 0, len(extra)+1)
	providers = append(providers, NewInApp(store, logger))
	providers = append(providers, extra...)

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	logger.Info("notification providers registered", zap.Strings("providers", names))

	return &Service{
		store:     store,
		providers: providers,
		logger:    logger,
	}
}

// Providers returns the registered providers in send order.
func (s *Service) Providers() []Provider {
	return s.providers
}

// Notify delivers msg to one user. A user outside msg's organization, or
// an inactive one, is reported as not found.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, msg Message) Outcome {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			s.logger.Error("failed to load notification recipient",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
			return s.record(msg.Type, Outcome{UserID: userID, Status: StatusFailed})
		}
		return s.record(msg.Type, Outcome{UserID: userID, Status: StatusUserNotFound})
	}
	if user.OrganizationID != msg.OrganizationID || !user.IsActive {
		return s.record(msg.Type, Outcome{UserID: userID, Status: StatusUserNotFound})
	}

	return s.deliver(ctx, user, s.settings(ctx, msg.OrganizationID), msg)
}

// NotifyMany delivers msg to each listed user once.
func (s *Service) NotifyMany(ctx context.Context, userIDs []uuid.UUID, msg Message) []Outcome {
	seen := make(map[uuid.UUID]bool, len(userIDs))
	outcomes := make([]Outcome, 0, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		outcomes = append(outcomes, s.Notify(ctx, id, msg))
	}
	return outcomes
}

// NotifyOrg delivers msg to every active user of the organization except
// exclude. The excluded user is never a recipient.
func (s *Service) NotifyOrg(ctx context.Context, msg Message, exclude *uuid.UUID) ([]Outcome, error) {
	users, err := s.store.ListActiveUsers(ctx, msg.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("list organization users: %w", err)
	}
	return s.fanOut(ctx, users, msg, exclude), nil
}

// NotifyAdmins delivers msg to the active admins and managers.
func (s *Service) NotifyAdmins(ctx context.Context, msg Message) ([]Outcome, error) {
	users, err := s.store.ListActiveUsers(ctx, msg.OrganizationID, access.RoleAdmin, access.RoleManager)
	if err != nil {
		return nil, fmt.Errorf("list organization admins: %w", err)
	}
	return s.fanOut(ctx, users, msg, nil), nil
}

// Deliver runs a serialized Request. It is the entry point of background
// jobs and the queue consumer.
func (s *Service) Deliver(ctx context.Context, req Request) ([]Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid notification request: %w", err)
	}

	var (
		outcomes []Outcome
		err      error
	)
	switch req.Target {
	case TargetUser:
		outcomes = []Outcome{s.Notify(ctx, req.UserIDs[0], req.Message)}
	case TargetUsers:
		outcomes = s.NotifyMany(ctx, req.UserIDs, req.Message)
	case TargetOrg:
		outcomes, err = s.NotifyOrg(ctx, req.Message, req.ExcludeUserID)
	case TargetAdmins:
		outcomes, err = s.NotifyAdmins(ctx, req.Message)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("notification delivered",
		zap.String("type", req.Message.Type),
		zap.String("target", string(req.Target)),
		zap.String("organization_id", req.Message.OrganizationID.String()),
		zap.Int("recipients", len(outcomes)),
	)
	return outcomes, nil
}

func (s *Service) fanOut(ctx context.Context, users []*db.User, msg Message, exclude *uuid.UUID) []Outcome {
	settings := s.settings(ctx, msg.OrganizationID)
	outcomes := make([]Outcome, 0, len(users))
	for _, u := range users {
		if exclude != nil && u.ID == *exclude {
			continue
		}
		outcomes = append(outcomes, s.deliver(ctx, u, settings, msg))
	}
	return outcomes
}

// settings loads the organization settings. Failure degrades to zero
// settings, which leaves only the in-app channel enabled.
func (s *Service) settings(ctx context.Context, orgID uuid.UUID) db.OrganizationSettings {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		s.logger.Warn("failed to load organization settings",
			zap.String("organization_id", orgID.String()),
			zap.Error(err),
		)
		return db.OrganizationSettings{}
	}
	return org.Settings
}

func (s *Service) deliver(ctx context.Context, user *db.User, settings db.OrganizationSettings, msg Message) Outcome {
	if !user.Preferences.NotificationEnabled(msg.Type) {
		return s.record(msg.Type, Outcome{UserID: user.ID, Status: StatusDisabledByUser})
	}

	n := &db.Notification{
		ID:             uuid.New(),
		Type:           msg.Type,
		Title:          msg.Title,
		Metadata:       msg.Metadata,
		UserID:         user.ID,
		OrganizationID: msg.OrganizationID,
		CreatedAt:      time.Now().UTC(),
	}
	if msg.Body != "" {
		n.Message = &msg.Body
	}
	if msg.Link != "" {
		n.Link = &msg.Link
	}

	outcome := Outcome{UserID: user.ID, Status: StatusFailed}
	for _, p := range s.providers {
		if !p.IsEnabled(msg.Type, settings) || !p.Accepts(user) {
			continue
		}
		ok := s.send(ctx, p, n, user)
		outcome.Results = append(outcome.Results, ProviderResult{Provider: p.Name(), OK: ok})
		if ok {
			outcome.Status = StatusSent
		}
	}
	return s.record(msg.Type, outcome)
}

// send runs one provider with panic containment.
func (s *Service) send(ctx context.Context, p Provider, n *db.Notification, user *db.User) (ok bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notification provider panicked",
				zap.String("provider", p.Name()),
				zap.String("notification_id", n.ID.String()),
				zap.Any("panic", r),
			)
			ok = false
		}
		metrics.RecordProviderSend(p.Name(), ok, time.Since(start))
	}()

	return p.Send(ctx, n, user)
}

func (s *Service) record(notifType string, o Outcome) Outcome {
	metrics.RecordNotificationOutcome(notifType, o.Status)
	return o
}
