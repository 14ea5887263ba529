// Package registry stores agent identities.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/agentrelay/internal/ids"
	"github.com/ashita-ai/agentrelay/internal/kv"
	"github.com/ashita-ai/agentrelay/internal/model"
	"github.com/ashita-ai/agentrelay/internal/telemetry"
)

const instrumentationScope = "agentrelay/registry"

const keyPrefix = "agent/"

// ErrAgentNotFound is returned (wrapped) when an agent id does not exist.
var ErrAgentNotFound = model.NotFound("agent not found")

// Registry is the agent store. Mutations are serialised by mu and each one
// is a single kv.Update, so readers never see a half-applied change.
type Registry struct {
	store  kv.Store
	ids    *ids.Generator
	now    func() time.Time
	logger *slog.Logger

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	created        metric.Int64Counter
	deleted        metric.Int64Counter
	scanDuration   metric.Float64Histogram

	mu sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the time source used for updatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMeterProvider records metrics through mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Registry) { r.meterProvider = mp }
}

// WithTracerProvider starts spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) { r.tracerProvider = tp }
}

// New creates a Registry over store. gen mints agent ids and creation times.
func New(store kv.Store, gen *ids.Generator, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{store: store, ids: gen, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(r)
	}

	meter := telemetry.Meter(instrumentationScope)
	if r.meterProvider != nil {
		meter = r.meterProvider.Meter(instrumentationScope)
	}
	r.tracer = telemetry.Tracer(instrumentationScope)
	if r.tracerProvider != nil {
		r.tracer = r.tracerProvider.Tracer(instrumentationScope)
	}

	var err error
	r.created, err = meter.Int64Counter("agentrelay.agents.created",
		metric.WithDescription("Agents registered, by type"))
	telemetry.HandleError(err)
	r.deleted, err = meter.Int64Counter("agentrelay.agents.deleted",
		metric.WithDescription("Agents removed from the registry"))
	telemetry.HandleError(err)
	r.scanDuration, err = meter.Float64Histogram("agentrelay.agents.scan.duration",
		metric.WithDescription("Time to scan the registry for a list (ms)"),
		metric.WithUnit("ms"),
	)
	telemetry.HandleError(err)
	return r
}

// startSpan opens a child span for op. end records err on the span.
func (r *Registry) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := r.tracer.Start(ctx, "registry."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// ListFilter narrows List. An empty Type matches every agent.
type ListFilter struct {
	Type string
}

// CreateParams are the caller-supplied fields of a new agent.
type CreateParams struct {
	Name      string
	Type      string
	SessionID string
	CreatedBy string
}

// UpdateParams is a partial update. Nil fields are left unchanged.
type UpdateParams struct {
	Name   *string
	Status *string
}

func agentKey(id string) string { return keyPrefix + id }

// List returns one page of agents in registration order and the total
// number matching f. A page past the end is empty, not an error.
func (r *Registry) List(ctx context.Context, f ListFilter, page, limit int) (_ []model.Agent, _ int, err error) {
	ctx, end := r.startSpan(ctx, "List", attribute.String("agentrelay.agent_type", f.Type))
	defer func() { end(err) }()

	var matched []model.Agent
	scanStart := time.Now()
	err = r.store.Scan(ctx, keyPrefix, func(key string, value []byte) error {
		var a model.Agent
		if err := kv.Unmarshal(value, &a); err != nil {
			return fmt.Errorf("registry: decode %s: %w", key, err)
		}
		if f.Type == "" || string(a.Type) == f.Type {
			matched = append(matched, a)
		}
		return nil
	})
	r.scanDuration.Record(ctx, float64(time.Since(scanStart).Milliseconds()))
	if err != nil {
		return nil, 0, fmt.Errorf("registry: list: %w", err)
	}

	from, to := model.PageBounds(page, limit, len(matched))
	out := make([]model.Agent, to-from)
	copy(out, matched[from:to])
	return out, len(matched), nil
}

// Get returns the agent with id.
func (r *Registry) Get(ctx context.Context, id string) (model.Agent, error) {
	var a model.Agent
	if err := kv.GetRecord(ctx, r.store, agentKey(id), &a); err != nil {
		return model.Agent{}, r.mapErr("get", id, err)
	}
	return a, nil
}

// Create registers a new agent. The session id defaults from the type when
// empty and the status starts as active.
func (r *Registry) Create(ctx context.Context, p CreateParams) (_ model.Agent, err error) {
	ctx, end := r.startSpan(ctx, "Create", attribute.String("agentrelay.agent_type", p.Type))
	defer func() { end(err) }()

	name := strings.TrimSpace(p.Name)
	if name == "" {
		return model.Agent{}, model.InvalidArgument("name is required")
	}
	typ, err := model.ParseAgentType(p.Type)
	if err != nil {
		return model.Agent{}, err
	}
	session := strings.TrimSpace(p.SessionID)
	if session == "" {
		session = model.DefaultSessionID(typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, createdAt := r.ids.Next(string(typ))
	a := model.Agent{
		ID:        id,
		Name:      name,
		Type:      typ,
		SessionID: session,
		Status:    model.AgentActive,
		CreatedAt: createdAt.UTC(),
		CreatedBy: p.CreatedBy,
	}

	err = r.store.Update(ctx, func(tx kv.Tx) error {
		if _, err := tx.Get(ctx, agentKey(id)); err == nil {
			return model.Conflict(fmt.Sprintf("agent %s already exists", id))
		} else if !errors.Is(err, kv.ErrNotFound) {
			return err
		}
		return kv.PutRecord(ctx, tx, agentKey(id), a)
	})
	if err != nil {
		return model.Agent{}, r.mapErr("create", id, err)
	}

	r.created.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_type", string(typ))))
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("agentrelay.agent_id", id))
	r.logger.Info("registry: agent created", "agent_id", id, "type", typ, "created_by", p.CreatedBy)
	return a, nil
}

// Update applies the non-nil fields of p and refreshes updatedAt. An unknown
// id is reported as not found and nothing is written.
func (r *Registry) Update(ctx context.Context, id string, p UpdateParams) (_ model.Agent, err error) {
	ctx, end := r.startSpan(ctx, "Update", attribute.String("agentrelay.agent_id", id))
	defer func() { end(err) }()

	var name string
	if p.Name != nil {
		name = strings.TrimSpace(*p.Name)
		if name == "" {
			return model.Agent{}, model.InvalidArgument("name must not be empty")
		}
	}
	var status model.AgentStatus
	if p.Status != nil {
		if status, err = model.ParseAgentStatus(*p.Status); err != nil {
			return model.Agent{}, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var a model.Agent
	err = r.store.Update(ctx, func(tx kv.Tx) error {
		if err := kv.GetRecord(ctx, tx, agentKey(id), &a); err != nil {
			return err
		}
		if p.Name != nil {
			a.Name = name
		}
		if p.Status != nil {
			a.Status = status
		}
		now := r.now().UTC()
		a.UpdatedAt = &now
		return kv.PutRecord(ctx, tx, agentKey(id), a)
	})
	if err != nil {
		return model.Agent{}, r.mapErr("update", id, err)
	}
	return a, nil
}

// Delete removes the agent with id.
func (r *Registry) Delete(ctx context.Context, id string) (err error) {
	ctx, end := r.startSpan(ctx, "Delete", attribute.String("agentrelay.agent_id", id))
	defer func() { end(err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err = r.store.Delete(ctx, agentKey(id)); err != nil {
		return r.mapErr("delete", id, err)
	}
	r.deleted.Add(ctx, 1)
	r.logger.Info("registry: agent deleted", "agent_id", id)
	return nil
}

// Status reports an agent's status and when its record last changed.
func (r *Registry) Status(ctx context.Context, id string) (model.AgentStatusView, error) {
	a, err := r.Get(ctx, id)
	if err != nil {
		return model.AgentStatusView{}, err
	}
	return model.AgentStatusView{ID: a.ID, Status: a.Status, LastActive: a.LastActive()}, nil
}

// mapErr turns kv.ErrNotFound into ErrAgentNotFound and wraps everything else
// with the operation name. Classified errors pass through unchanged.
func (r *Registry) mapErr(op, id string, err error) error {
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("registry: %s %s: %w", op, id, ErrAgentNotFound)
	}
	var relayErr *model.Error
	if errors.As(err, &relayErr) {
		return err
	}
	return fmt.Errorf("registry: %s %s: %w", op, id, err)
}
