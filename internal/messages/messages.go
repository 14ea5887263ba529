// Package messages stores addressed messages between agents.
//
// Each message lives under "msg/<id>". A per-agent index under "idx/<agent>"
// lists, in send order, the ids of every message the agent sent or received.
// The index is written in the same kv.Update as the message it describes and
// can always be recomputed from the messages with RebuildIndex.
package messages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
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

const (
	msgPrefix = "msg/"
	idxPrefix = "idx/"

	// DefaultConversationLimit is how many turns Conversation returns when
	// the caller does not say.
	DefaultConversationLimit = 50

	instrumentationScope = "agentrelay/messages"
)

var (
	// ErrMessageNotFound is returned (wrapped) when a message id does not exist.
	ErrMessageNotFound = model.NotFound("message not found")

	// ErrNotMessageOwner is returned when someone other than the sender tries
	// to delete a message.
	ErrNotMessageOwner = model.NewError(model.KindForbidden, model.ReasonNotMessageOwner, "only the sender can delete this message")
)

// Store is the message store.
type Store struct {
	store  kv.Store
	ids    *ids.Generator
	now    func() time.Time
	broker *Broker
	logger *slog.Logger

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	sent           metric.Int64Counter
	statusChanges  metric.Int64Counter
	deleted        metric.Int64Counter
	scanDuration   metric.Float64Histogram

	// mu serialises mutations so the read-modify-write of index entries
	// never interleaves between two sends.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source used for updatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithBroker publishes committed changes to b.
func WithBroker(b *Broker) Option {
	return func(s *Store) { s.broker = b }
}

// WithMeterProvider records metrics through mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Store) { s.meterProvider = mp }
}

// WithTracerProvider starts spans from tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Store) { s.tracerProvider = tp }
}

// New creates a Store over kvStore. gen mints message ids and timestamps.
func New(kvStore kv.Store, gen *ids.Generator, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{store: kvStore, ids: gen, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	meter := telemetry.Meter(instrumentationScope)
	if s.meterProvider != nil {
		meter = s.meterProvider.Meter(instrumentationScope)
	}
	s.tracer = telemetry.Tracer(instrumentationScope)
	if s.tracerProvider != nil {
		s.tracer = s.tracerProvider.Tracer(instrumentationScope)
	}

	var err error
	s.sent, err = meter.Int64Counter("agentrelay.messages.sent",
		metric.WithDescription("Messages stored, by message type"))
	telemetry.HandleError(err)
	s.statusChanges, err = meter.Int64Counter("agentrelay.messages.status_changes",
		metric.WithDescription("Delivery status transitions, by new status"))
	telemetry.HandleError(err)
	s.deleted, err = meter.Int64Counter("agentrelay.messages.deleted",
		metric.WithDescription("Messages deleted by their sender"))
	telemetry.HandleError(err)
	s.scanDuration, err = meter.Float64Histogram("agentrelay.messages.scan.duration",
		metric.WithDescription("Time to read messages for a list, conversation or reindex (ms)"),
		metric.WithUnit("ms"),
	)
	telemetry.HandleError(err)
	return s
}

// startSpan opens a child span for op. end records err on the span.
func (s *Store) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := s.tracer.Start(ctx, "messages."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (s *Store) recordScan(ctx context.Context, op string, start time.Time) {
	s.scanDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("op", op)))
}

// Filter narrows List. Empty fields match everything; set fields must match
// exactly.
type Filter struct {
	From string
	To   string
}

// SendParams are the fields of a new message. UserID is the authenticated
// sender and the only principal allowed to delete it.
type SendParams struct {
	From    string
	To      string
	Content string
	Type    string
	UserID  string
}

func msgKey(id string) string    { return msgPrefix + id }
func idxKey(agent string) string { return idxPrefix + agent }

// List returns one page of messages matching f, newest first, and the total
// number matching.
func (s *Store) List(ctx context.Context, f Filter, page, limit int) (_ []model.Message, _ int, err error) {
	ctx, end := s.startSpan(ctx, "List",
		attribute.String("agentrelay.from", f.From),
		attribute.String("agentrelay.to", f.To),
	)
	defer func() { end(err) }()

	var matched []model.Message
	scanStart := time.Now()
	err = s.store.Scan(ctx, msgPrefix, func(key string, value []byte) error {
		var m model.Message
		if err := kv.Unmarshal(value, &m); err != nil {
			return fmt.Errorf("messages: decode %s: %w", key, err)
		}
		if f.From != "" && m.From != f.From {
			return nil
		}
		if f.To != "" && m.To != f.To {
			return nil
		}
		matched = append(matched, m)
		return nil
	})
	s.recordScan(ctx, "list", scanStart)
	if err != nil {
		return nil, 0, fmt.Errorf("messages: list: %w", err)
	}

	// Reverse first so messages sharing a timestamp keep newest-sent first.
	slices.Reverse(matched)
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })

	lo, hi := model.PageBounds(page, limit, len(matched))
	out := make([]model.Message, hi-lo)
	copy(out, matched[lo:hi])
	return out, len(matched), nil
}

// Get returns the message with id.
func (s *Store) Get(ctx context.Context, id string) (model.Message, error) {
	var m model.Message
	if err := kv.GetRecord(ctx, s.store, msgKey(id), &m); err != nil {
		return model.Message{}, mapErr("get", id, err)
	}
	return m, nil
}

// Send stores a new message with status sent and appends it to the index
// entries of both endpoints, creating them if needed.
func (s *Store) Send(ctx context.Context, p SendParams) (_ model.Message, err error) {
	ctx, end := s.startSpan(ctx, "Send")
	defer func() { end(err) }()

	from := strings.TrimSpace(p.From)
	to := strings.TrimSpace(p.To)
	content := strings.TrimSpace(p.Content)
	if from == "" || to == "" || content == "" {
		return model.Message{}, model.InvalidArgument("from, to, and content are required")
	}
	typ, err := model.ParseMessageType(p.Type)
	if err != nil {
		return model.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ts := s.ids.Next("msg")
	m := model.Message{
		ID:        id,
		From:      from,
		To:        to,
		Content:   content,
		Type:      typ,
		Timestamp: ts.UTC(),
		Status:    model.DeliverySent,
		UserID:    p.UserID,
	}

	err = s.store.Update(ctx, func(tx kv.Tx) error {
		if _, err := tx.Get(ctx, msgKey(id)); err == nil {
			return model.Conflict(fmt.Sprintf("message %s already exists", id))
		} else if !errors.Is(err, kv.ErrNotFound) {
			return err
		}
		if err := kv.PutRecord(ctx, tx, msgKey(id), m); err != nil {
			return err
		}
		for _, agent := range endpoints(m) {
			if err := appendIndex(ctx, tx, agent, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Message{}, mapErr("send", id, err)
	}

	s.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("message_type", string(typ))))
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("agentrelay.message_id", id),
		attribute.String("agentrelay.from", from),
		attribute.String("agentrelay.to", to),
	)
	s.logger.Debug("messages: sent", "message_id", id, "from", from, "to", to, "type", typ)
	s.publish(EventSent, m)
	return m, nil
}

// UpdateStatus sets a message's delivery status and updatedAt.
func (s *Store) UpdateStatus(ctx context.Context, id, status string) (_ model.Message, err error) {
	ctx, end := s.startSpan(ctx, "UpdateStatus", attribute.String("agentrelay.message_id", id))
	defer func() { end(err) }()

	st, err := model.ParseDeliveryStatus(status)
	if err != nil {
		return model.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var m model.Message
	err = s.store.Update(ctx, func(tx kv.Tx) error {
		if err := kv.GetRecord(ctx, tx, msgKey(id), &m); err != nil {
			return err
		}
		m.Status = st
		now := s.now().UTC()
		m.UpdatedAt = &now
		return kv.PutRecord(ctx, tx, msgKey(id), m)
	})
	if err != nil {
		return model.Message{}, mapErr("update status", id, err)
	}

	s.statusChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(st))))
	s.publish(EventStatusChanged, m)
	return m, nil
}

// Delete removes a message and its index entries. Only the principal that
// sent it may do so; anyone else gets ErrNotMessageOwner and the message is
// left in place.
func (s *Store) Delete(ctx context.Context, id, userID string) (err error) {
	ctx, end := s.startSpan(ctx, "Delete", attribute.String("agentrelay.message_id", id))
	defer func() { end(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	var m model.Message
	err = s.store.Update(ctx, func(tx kv.Tx) error {
		if err := kv.GetRecord(ctx, tx, msgKey(id), &m); err != nil {
			return err
		}
		if m.UserID != userID {
			return ErrNotMessageOwner
		}
		if err := tx.Delete(ctx, msgKey(id)); err != nil {
			return err
		}
		for _, agent := range endpoints(m) {
			if err := removeIndex(ctx, tx, agent, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return mapErr("delete", id, err)
	}

	s.deleted.Add(ctx, 1)
	s.logger.Debug("messages: deleted", "message_id", id, "user_id", userID)
	s.publish(EventDeleted, m)
	return nil
}

// Conversation returns the messages exchanged between a and b in either
// direction, oldest first, keeping only the latest limit of them. A
// non-positive limit uses DefaultConversationLimit.
func (s *Store) Conversation(ctx context.Context, a, b string, limit int) (_ model.Conversation, err error) {
	ctx, end := s.startSpan(ctx, "Conversation",
		attribute.String("agentrelay.agent_a", a),
		attribute.String("agentrelay.agent_b", b),
	)
	defer func() { end(err) }()

	if limit <= 0 {
		limit = DefaultConversationLimit
	}

	msgIDs, err := s.Index(ctx, a)
	if err != nil {
		return model.Conversation{}, err
	}

	scanStart := time.Now()
	var conv []model.Message
	for _, id := range msgIDs {
		var m model.Message
		if err := kv.GetRecord(ctx, s.store, msgKey(id), &m); err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				// Deleted between reading the index and the record.
				continue
			}
			return model.Conversation{}, fmt.Errorf("messages: conversation: load %s: %w", id, err)
		}
		if (m.From == a && m.To == b) || (m.From == b && m.To == a) {
			conv = append(conv, m)
		}
	}

	s.recordScan(ctx, "conversation", scanStart)

	sort.SliceStable(conv, func(i, j int) bool { return conv[i].Timestamp.Before(conv[j].Timestamp) })
	if len(conv) > limit {
		conv = conv[len(conv)-limit:]
	}
	if conv == nil {
		conv = []model.Message{}
	}

	return model.Conversation{
		Conversation: conv,
		Participants: [2]string{a, b},
		MessageCount: len(conv),
	}, nil
}

// Index returns the ids of every message agent sent or received, in send
// order. An agent with no messages has an empty index.
func (s *Store) Index(ctx context.Context, agent string) ([]string, error) {
	var out []string
	err := kv.GetRecord(ctx, s.store, idxKey(agent), &out)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("messages: read index %s: %w", agent, err)
	}
	return out, nil
}

// RebuildIndex discards every index entry and recomputes them from the
// stored messages. Returns the number of entries written.
func (s *Store) RebuildIndex(ctx context.Context) (_ int, err error) {
	ctx, end := s.startSpan(ctx, "RebuildIndex")
	defer func() { end(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	scanStart := time.Now()
	var staleKeys []string
	if err := s.store.Scan(ctx, idxPrefix, func(key string, _ []byte) error {
		staleKeys = append(staleKeys, key)
		return nil
	}); err != nil {
		return 0, fmt.Errorf("messages: rebuild index: scan index: %w", err)
	}

	index := make(map[string][]string)
	var order []string
	if err := s.store.Scan(ctx, msgPrefix, func(key string, value []byte) error {
		var m model.Message
		if err := kv.Unmarshal(value, &m); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		for _, agent := range endpoints(m) {
			if _, ok := index[agent]; !ok {
				order = append(order, agent)
			}
			index[agent] = append(index[agent], m.ID)
		}
		return nil
	}); err != nil {
		return 0, fmt.Errorf("messages: rebuild index: scan messages: %w", err)
	}
	s.recordScan(ctx, "reindex", scanStart)

	err = s.store.Update(ctx, func(tx kv.Tx) error {
		for _, key := range staleKeys {
			if err := tx.Delete(ctx, key); err != nil && !errors.Is(err, kv.ErrNotFound) {
				return err
			}
		}
		for _, agent := range order {
			if err := kv.PutRecord(ctx, tx, idxKey(agent), index[agent]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("messages: rebuild index: %w", err)
	}

	s.logger.Info("messages: index rebuilt", "entries", len(order))
	return len(order), nil
}

func (s *Store) publish(typ string, m model.Message) {
	if s.broker != nil {
		s.broker.Publish(Event{Type: typ, Message: m})
	}
}

// endpoints returns the distinct agents a message is indexed under.
func endpoints(m model.Message) []string {
	if m.From == m.To {
		return []string{m.From}
	}
	return []string{m.From, m.To}
}

func appendIndex(ctx context.Context, tx kv.Tx, agent, id string) error {
	var entry []string
	if err := kv.GetRecord(ctx, tx, idxKey(agent), &entry); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	return kv.PutRecord(ctx, tx, idxKey(agent), append(entry, id))
}

func removeIndex(ctx context.Context, tx kv.Tx, agent, id string) error {
	var entry []string
	err := kv.GetRecord(ctx, tx, idxKey(agent), &entry)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	entry = slices.DeleteFunc(entry, func(v string) bool { return v == id })
	if len(entry) == 0 {
		return tx.Delete(ctx, idxKey(agent))
	}
	return kv.PutRecord(ctx, tx, idxKey(agent), entry)
}

// mapErr turns kv.ErrNotFound into ErrMessageNotFound and wraps everything
// else with the operation name. Classified errors pass through unchanged.
func mapErr(op, id string, err error) error {
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("messages: %s %s: %w", op, id, ErrMessageNotFound)
	}
	var relayErr *model.Error
	if errors.As(err, &relayErr) {
		return err
	}
	return fmt.Errorf("messages: %s %s: %w", op, id, err)
}
