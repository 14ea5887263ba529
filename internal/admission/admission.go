// Package admission composes principal resolution, role authorization and
// per-principal rate limiting into the single check every protected request
// passes before reaching the registry or message store.
package admission

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/agentrelay/internal/auth"
	"github.com/ashita-ai/agentrelay/internal/ctxutil"
	"github.com/ashita-ai/agentrelay/internal/model"
	"github.com/ashita-ai/agentrelay/internal/ratelimit"
	"github.com/ashita-ai/agentrelay/internal/telemetry"
)

// PrincipalResolver turns request credentials into a Principal.
type PrincipalResolver interface {
	Resolve(r *http.Request) (model.Principal, error)
}

// RateChecker records a request for an identity and decides whether to admit
// it. *ratelimit.SlidingWindow implements it.
type RateChecker interface {
	Check(ctx context.Context, identity string) ratelimit.Decision
}

// Policy is what an endpoint requires of its callers. A nil Roles admits any
// authenticated principal.
type Policy struct {
	Roles       []model.Role
	RateLimited bool
}

// ErrorWriter renders an admission failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Gate runs resolve, authorize and rate-limit in that order and stops at the
// first failure.
type Gate struct {
	resolver PrincipalResolver
	limiter  RateChecker
	rejected metric.Int64Counter
}

// NewGate creates a Gate. A nil limiter disables rate limiting even for
// policies that ask for it.
func NewGate(resolver PrincipalResolver, limiter RateChecker) *Gate {
	g := &Gate{resolver: resolver, limiter: limiter}
	var err error
	g.rejected, err = telemetry.Meter("agentrelay/admission").Int64Counter("agentrelay.admission.rejected",
		metric.WithDescription("Requests rejected by the admission gate, by stage"))
	telemetry.HandleError(err)
	return g
}

// Admit returns the request's Principal or the first stage's error.
func (g *Gate) Admit(r *http.Request, policy Policy) (model.Principal, error) {
	p, err := g.resolver.Resolve(r)
	if err != nil {
		g.reject(r.Context(), "authenticate", err)
		return model.Principal{}, err
	}

	if err := auth.Authorize(p, policy.Roles...); err != nil {
		g.reject(r.Context(), "authorize", err)
		return model.Principal{}, err
	}

	if policy.RateLimited && g.limiter != nil {
		d := g.limiter.Check(r.Context(), p.ID)
		if !d.Allowed {
			err := model.RateLimited("too many requests", d.RetryAfter)
			g.reject(r.Context(), "rate_limit", err)
			return model.Principal{}, err
		}
	}

	return p, nil
}

// Middleware admits requests for next. On success the Principal is attached
// to the request context; on failure onError writes the response and next is
// never called.
func (g *Gate) Middleware(policy Policy, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := g.Admit(r, policy)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctxutil.WithPrincipal(r.Context(), p)))
		})
	}
}

func (g *Gate) reject(ctx context.Context, stage string, err error) {
	if g.rejected == nil {
		return
	}
	g.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("kind", string(model.KindOf(err))),
	))
}
