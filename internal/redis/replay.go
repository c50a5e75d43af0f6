package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/metrics"
)

const (
	// ReplayTTL is how long a completed create can be replayed.
	ReplayTTL = 24 * time.Hour

	// inFlightTTL bounds a reservation whose request never finished.
	inFlightTTL = 5 * time.Minute

	inFlightPrefix = "inflight:"
)

var (
	// ErrInFlight means another request holds the key right now.
	ErrInFlight = errors.New("idempotency key is held by an in-flight request")
	// ErrKeyReused means the key was first used with a different payload.
	ErrKeyReused = errors.New("idempotency key reused with a different request")
)

// Replay is the stored outcome of a completed create.
type Replay struct {
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	StoredAt    time.Time       `json:"storedAt"`
}

// Scope namespaces keys per tenant, caller and collection. Two users of the
// same organization never see each other's replays.
type Scope struct {
	OrganizationID uuid.UUID
	UserID         uuid.UUID
	Resource       string
}

func (s Scope) key(idempotencyKey string) string {
	return fmt.Sprintf("idem:%s:%s:%s:%s", s.OrganizationID, s.UserID, s.Resource, idempotencyKey)
}

// Fingerprint identifies a request payload.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// begin returns the stored value, or reserves the key and returns nil.
var begin = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v then
	return v
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return false
`)

// abandon deletes the key only while it still holds our reservation.
var abandon = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// ReplayCache makes POST creates safe to retry with an Idempotency-Key.
type ReplayCache struct {
	client *Client
	logger *zap.Logger
	now    func() time.Time
}

// NewReplayCache creates a cache on client.
func NewReplayCache(client *Client, logger *zap.Logger) *ReplayCache {
	return &ReplayCache{client: client, logger: logger, now: time.Now}
}

// Begin claims idempotencyKey for a request with the given fingerprint.
// A nil Replay and nil error mean the caller owns the key and must later
// call Complete or Abandon.
func (c *ReplayCache) Begin(ctx context.Context, scope Scope, idempotencyKey, fingerprint string) (*Replay, error) {
	val, err := begin.Run(ctx, c.client.rdb,
		[]string{scope.key(idempotencyKey)},
		inFlightPrefix+fingerprint,
		inFlightTTL.Milliseconds(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency begin: %w", err)
	}

	if held, ok := strings.CutPrefix(val, inFlightPrefix); ok {
		if held != fingerprint {
			metrics.RecordIdempotency(metrics.IdempotencyReused)
			return nil, ErrKeyReused
		}
		metrics.RecordIdempotency(metrics.IdempotencyInFlight)
		return nil, ErrInFlight
	}

	var replay Replay
	if err := json.Unmarshal([]byte(val), &replay); err != nil {
		return nil, fmt.Errorf("decode stored replay: %w", err)
	}
	if replay.Fingerprint != fingerprint {
		metrics.RecordIdempotency(metrics.IdempotencyReused)
		return nil, ErrKeyReused
	}

	metrics.RecordIdempotency(metrics.IdempotencyReplayed)
	c.logger.Debug("idempotent replay",
		zap.String("organization_id", scope.OrganizationID.String()),
		zap.String("resource", scope.Resource),
		zap.Int("status", replay.Status),
	)
	return &replay, nil
}

// Complete replaces the reservation with the response to replay.
func (c *ReplayCache) Complete(ctx context.Context, scope Scope, idempotencyKey string, replay Replay) error {
	if replay.StoredAt.IsZero() {
		replay.StoredAt = c.now().UTC()
	}
	data, err := json.Marshal(replay)
	if err != nil {
		return fmt.Errorf("encode replay: %w", err)
	}
	if err := c.client.rdb.Set(ctx, scope.key(idempotencyKey), data, ReplayTTL).Err(); err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	return nil
}

// Abandon frees a reservation after a failed request so the client can
// retry with the same key. A completed replay is never removed.
func (c *ReplayCache) Abandon(ctx context.Context, scope Scope, idempotencyKey, fingerprint string) error {
	err := abandon.Run(ctx, c.client.rdb,
		[]string{scope.key(idempotencyKey)},
		inFlightPrefix+fingerprint,
	).Err()
	if err != nil {
		return fmt.Errorf("idempotency abandon: %w", err)
	}
	return nil
}
