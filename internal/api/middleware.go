package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/metrics"
	"github.com/lalithlochan/stratus/internal/redis"
	"github.com/lalithlochan/stratus/internal/session"
)

type actorKey struct{}

// actorFrom returns the authenticated user loaded by Authenticate.
func actorFrom(ctx context.Context) (*db.User, bool) {
	u, ok := ctx.Value(actorKey{}).(*db.User)
	return u, ok
}

// Authenticate verifies the bearer token and loads the caller. The role is
// taken from the stored user so demotions apply before tokens expire.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.sessions.FromRequest(r)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required", "")
			return
		}

		user, err := h.store.GetUser(r.Context(), sess.UserID)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				h.logger.Error("failed to load session user", zap.Error(err))
				h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load session", "")
				return
			}
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required", "")
			return
		}
		if !user.IsActive || user.OrganizationID != sess.OrganizationID {
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required", "")
			return
		}

		sess.Role = user.Role
		ctx := session.WithSession(r.Context(), sess)
		ctx = context.WithValue(ctx, actorKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// RateLimit spends one request of the caller's organization budget. With no
// limiter, or when Redis fails, requests pass unmetered.
func (h *Handler) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext(r.Context())
		if h.limiter == nil || !ok {
			next.ServeHTTP(w, r)
			return
		}

		orgID := sess.OrganizationID.String()
		result, err := h.limiter.Allow(r.Context(), "org:"+orgID)
		if err != nil {
			h.logger.Warn("rate limit check failed", zap.String("organization_id", orgID), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		hdr := w.Header()
		hdr.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		hdr.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		hdr.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
		if result.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		metrics.RecordRateLimitRejection(orgID)
		hdr.Set("Retry-After", strconv.Itoa(retryAfter(result.ResetAt)))
		h.writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too Many Requests",
			"Organization request budget exhausted, retry after the Retry-After interval")
	})
}

// retryAfter is whole seconds until reset, at least one.
func retryAfter(reset time.Time) int {
	secs := int(math.Ceil(time.Until(reset).Seconds()))
	return max(secs, 1)
}

// captureWriter buffers the response so it can be cached for replay.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// Idempotent replays the first successful response for a repeated
// Idempotency-Key within the caller's organization and resource. Reusing a
// key with a different body is rejected.
func (h *Handler) Idempotent(resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			sess, ok := session.FromContext(r.Context())
			if key == "" || h.idempotency == nil || !ok {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				h.badRequest(w, "Invalid request body", err.Error())
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			scope := redis.Scope{OrganizationID: sess.OrganizationID, UserID: sess.UserID, Resource: resource}
			fingerprint := redis.Fingerprint(body)

			replay, err := h.idempotency.Begin(ctx, scope, key, fingerprint)
			switch {
			case errors.Is(err, redis.ErrInFlight):
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			case errors.Is(err, redis.ErrKeyReused):
				h.writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused",
					"Idempotency key reused",
					"This idempotency key was already used with a different request body")
				return
			case err != nil:
				h.logger.Warn("idempotency check failed, proceeding",
					zap.Error(err),
					zap.String("idempotency_key", key),
				)
				next.ServeHTTP(w, r)
				return
			case replay != nil:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Replayed", "true")
				w.WriteHeader(replay.Status)
				_, _ = w.Write(replay.Body)
				return
			}

			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			if cw.status < 200 || cw.status >= 300 {
				if err := h.idempotency.Abandon(ctx, scope, key, fingerprint); err != nil {
					h.logger.Warn("failed to release idempotency key", zap.Error(err))
				}
				return
			}

			err = h.idempotency.Complete(ctx, scope, key, redis.Replay{
				Status:      cw.status,
				Body:        json.RawMessage(bytes.TrimSpace(cw.body.Bytes())),
				Fingerprint: fingerprint,
			})
			if err != nil {
				h.logger.Warn("failed to store idempotency result",
					zap.Error(err),
					zap.String("idempotency_key", key),
				)
			}
		})
	}
}
