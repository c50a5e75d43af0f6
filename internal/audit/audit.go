// Package audit records who did what to which entity. Writes are awaited
// but never fail the caller.
package audit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/metrics"
)

// Writer persists audit entries.
type Writer interface {
	CreateAuditLog(ctx context.Context, e *db.AuditLogEntry) error
}

// Actor is the user an event is attributed to.
type Actor struct {
	UserID         uuid.UUID
	Name           string
	OrganizationID uuid.UUID
}

// Event describes one audited action. Details may be nil.
type Event struct {
	Action     string
	Entity     string
	EntityID   *uuid.UUID
	EntityName string
	Details    any
	Actor      *Actor
}

// Logger writes audit events.
type Logger struct {
	store  Writer
	logger *zap.Logger
}

// New creates an audit logger.
func New(store Writer, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

// Log writes ev. r supplies the client IP and user agent and may be nil.
// Any failure is logged and counted, never returned.
func (l *Logger) Log(ctx context.Context, ev Event, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			l.fail(ev, zap.Any("panic", rec))
		}
	}()

	entry := &db.AuditLogEntry{
		ID:        uuid.New(),
		Action:    ev.Action,
		Entity:    ev.Entity,
		EntityID:  ev.EntityID,
		Details:   json.RawMessage("null"),
		CreatedAt: time.Now().UTC(),
	}
	if ev.EntityName != "" {
		entry.EntityName = &ev.EntityName
	}
	if ev.Actor != nil {
		entry.UserID = &ev.Actor.UserID
		entry.OrganizationID = &ev.Actor.OrganizationID
		if ev.Actor.Name != "" {
			entry.UserName = &ev.Actor.Name
		}
	}
	if ev.Details != nil {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			l.logger.Warn("audit details not serializable", zap.Error(err))
		} else {
			entry.Details = raw
		}
	}
	if r != nil {
		if ip := ClientIP(r); ip != "" {
			entry.IPAddress = &ip
		}
		if ua := r.UserAgent(); ua != "" {
			entry.UserAgent = &ua
		}
	}

	if err := l.store.CreateAuditLog(ctx, entry); err != nil {
		l.fail(ev, zap.Error(err))
	}
}

func (l *Logger) fail(ev Event, field zap.Field) {
	metrics.RecordAuditFailure(ev.Entity)
	l.logger.Error("failed to write audit log",
		zap.String("action", ev.Action),
		zap.String("entity", ev.Entity),
		field,
	)
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
