package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/agentrelay/internal/telemetry"
)

// Default per-principal policy.
const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 30
)

// Decision is the outcome of one SlidingWindow check.
type Decision struct {
	Allowed bool
	// RetryAfter is set on rejection. It is always the window length in whole
	// seconds, not the time until the oldest hit expires.
	RetryAfter int
	// Remaining is how many more requests the window admits right now.
	Remaining int
}

// SlidingWindow admits at most max requests per identity within any trailing
// window. It records the timestamp of every admitted request and prunes
// expired ones lazily on the next check for the same identity.
type SlidingWindow struct {
	window time.Duration
	max    int
	now    func() time.Time

	// mu guards hits and makes each check-and-append atomic, so concurrent
	// requests for one identity cannot both see the last free slot.
	mu   sync.Mutex
	hits map[string][]time.Time

	rejected metric.Int64Counter
}

// SlidingOption configures a SlidingWindow.
type SlidingOption func(*SlidingWindow)

// WithClock replaces the time source.
func WithClock(now func() time.Time) SlidingOption {
	return func(s *SlidingWindow) { s.now = now }
}

// NewSlidingWindow creates a limiter. Non-positive arguments fall back to
// DefaultWindow and DefaultMaxRequests.
func NewSlidingWindow(window time.Duration, max int, opts ...SlidingOption) *SlidingWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMaxRequests
	}
	s := &SlidingWindow{
		window: window,
		max:    max,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := telemetry.Meter("agentrelay/ratelimit")
	var err error
	s.rejected, err = meter.Int64Counter("agentrelay.ratelimit.rejected",
		metric.WithDescription("Requests rejected by the per-principal sliding window"))
	telemetry.HandleError(err)
	_, err = meter.Int64ObservableGauge("agentrelay.ratelimit.identities",
		metric.WithDescription("Identities with live sliding-window state"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(s.Len()))
			return nil
		}),
	)
	telemetry.HandleError(err)
	return s
}

// Window returns the configured window length.
func (s *SlidingWindow) Window() time.Duration { return s.window }

// Max returns the configured request ceiling.
func (s *SlidingWindow) Max() int { return s.max }

// Check records a request for identity if the window has room. An empty
// identity is always admitted and nothing is recorded for it.
func (s *SlidingWindow) Check(ctx context.Context, identity string) Decision {
	if identity == "" {
		return Decision{Allowed: true, Remaining: s.max}
	}

	s.mu.Lock()
	now := s.now()
	active := s.prune(s.hits[identity], now)
	if len(active) >= s.max {
		s.hits[identity] = active
		s.mu.Unlock()

		if s.rejected != nil {
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.Int("limit", s.max)))
		}
		return Decision{Allowed: false, RetryAfter: s.retryAfter(), Remaining: 0}
	}
	active = append(active, now)
	s.hits[identity] = active
	s.mu.Unlock()

	return Decision{Allowed: true, Remaining: s.max - len(active)}
}

// Reset forgets all recorded requests for identity.
func (s *SlidingWindow) Reset(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hits, identity)
}

// Sweep drops identities whose recorded requests have all expired and
// returns how many were removed. Lazy pruning alone never forgets an identity
// that stops calling; running Sweep periodically bounds that growth without
// changing any admit/reject outcome.
func (s *SlidingWindow) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, ts := range s.hits {
		active := s.prune(ts, now)
		if len(active) == 0 {
			delete(s.hits, id)
			removed++
			continue
		}
		s.hits[id] = active
	}
	return removed
}

// Len returns the number of identities with recorded requests.
func (s *SlidingWindow) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}

// prune returns the hits of ts still inside the window. A hit exactly one
// window old has expired.
func (s *SlidingWindow) prune(ts []time.Time, now time.Time) []time.Time {
	var out []time.Time
	for _, t := range ts {
		if now.Sub(t) < s.window {
			out = append(out, t)
		}
	}
	return out
}

func (s *SlidingWindow) retryAfter() int {
	return int(math.Ceil(s.window.Seconds()))
}
