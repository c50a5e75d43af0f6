// Package circuitbreaker keeps an unhealthy notification channel from slowing
// down every fan-out that touches it.
package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker position.
//
//	Closed -> Open:      consecutive failures reach Threshold
//	Open -> HalfOpen:    Cooldown elapsed since the last failure
//	HalfOpen -> Closed:  a probe succeeds
//	HalfOpen -> Open:    a probe fails
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Config tunes one breaker.
type Config struct {
	// Name is the protected provider ("email", "sms", "webhook").
	Name string
	// Scope is the organization a tenant-keyed breaker belongs to. Empty
	// for process-wide breakers.
	Scope string
	// Threshold is the failure streak that opens the circuit.
	Threshold int
	// Cooldown is how long an open circuit rejects before probing.
	Cooldown time.Duration
	// Probes caps concurrent calls while half-open.
	Probes int
	// OnStateChange runs after every transition with the lock held and gets
	// the breaker Key. It must not call back into the breaker.
	OnStateChange func(key string, from, to State)
}

// DefaultConfig is used for every provider unless overridden.
func DefaultConfig(name string) Config {
	return Config{
		Name:      name,
		Threshold: 5,
		Cooldown:  30 * time.Second,
		Probes:    1,
	}
}

// Breaker counts consecutive failures of one provider and short-circuits
// sends while the provider is considered down.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	state       State
	streak      int
	probes      int
	lastFailure time.Time
	changedAt   time.Time

	sent     int64
	failed   int64
	rejected int64
}

// New creates a closed breaker.
func New(cfg Config, logger *zap.Logger) *Breaker {
	def := DefaultConfig(cfg.Name)
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = def.Probes
	}
	b := &Breaker{cfg: cfg, now: time.Now, logger: logger}
	b.changedAt = b.now()
	return b
}

// Name returns the protected provider name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Key identifies the breaker in a Registry: the provider name, suffixed
// with the scope for tenant-keyed breakers.
func (b *Breaker) Key() string {
	if b.cfg.Scope == "" {
		return b.cfg.Name
	}
	return b.cfg.Name + ":" + b.cfg.Scope
}

// Allow reports whether a send may go out now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.Cooldown {
			b.rejected++
			return false
		}
		b.move(StateHalfOpen)
		b.probes = 1
		b.logger.Info("provider circuit probing", zap.String("breaker", b.Key()))
		return true

	case StateHalfOpen:
		if b.probes >= b.cfg.Probes {
			b.rejected++
			return false
		}
		b.probes++
		return true
	}
	return true
}

// Success ends the failure streak and closes a half-open circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sent++
	b.streak = 0
	if b.state == StateHalfOpen {
		b.move(StateClosed)
		b.logger.Info("provider recovered", zap.String("breaker", b.Key()))
	}
}

// Failure extends the streak. A failed probe reopens immediately.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failed++
	b.streak++
	b.lastFailure = b.now()

	switch {
	case b.state == StateHalfOpen:
		b.move(StateOpen)
		b.logger.Warn("provider probe failed, circuit reopened", zap.String("breaker", b.Key()))
	case b.state == StateClosed && b.streak >= b.cfg.Threshold:
		b.move(StateOpen)
		b.logger.Warn("provider circuit opened",
			zap.String("breaker", b.Key()),
			zap.Int("failures", b.streak),
		)
	}
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streak = 0
	b.move(StateClosed)
}

// Snapshot is the health view of one breaker.
type Snapshot struct {
	Provider    string     `json:"provider"`
	Scope       string     `json:"organizationId,omitempty"`
	State       string     `json:"state"`
	Streak      int        `json:"failureStreak"`
	Sent        int64      `json:"sent"`
	Failed      int64      `json:"failed"`
	Rejected    int64      `json:"rejected"`
	LastFailure *time.Time `json:"lastFailure,omitempty"`
	Since       time.Time  `json:"since"`
}

// Snapshot reports counters and state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Provider: b.cfg.Name,
		Scope:    b.cfg.Scope,
		State:    b.state.String(),
		Streak:   b.streak,
		Sent:     b.sent,
		Failed:   b.failed,
		Rejected: b.rejected,
		Since:    b.changedAt,
	}
	if !b.lastFailure.IsZero() {
		last := b.lastFailure
		s.LastFailure = &last
	}
	return s
}

// move changes state. Caller holds the lock.
func (b *Breaker) move(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.changedAt = b.now()
	b.probes = 0
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.Key(), from, to)
	}
}

// Registry tracks the breakers of a process for health reporting.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Add registers b under its key, replacing any previous breaker.
func (r *Registry) Add(b *Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[b.Key()] = b
}

// Snapshots returns every breaker's snapshot sorted by provider, then scope.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Scope < out[j].Scope
	})
	return out
}
