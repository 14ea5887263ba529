package messages_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/agentrelay/internal/ids"
	"github.com/ashita-ai/agentrelay/internal/kv"
	"github.com/ashita-ai/agentrelay/internal/messages"
	"github.com/ashita-ai/agentrelay/internal/model"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	store  *messages.Store
	kv     kv.Store
	clock  *clock
	broker *messages.Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	kvStore := kv.NewMemoryStore()
	broker := messages.NewBroker(testLogger())
	s := messages.New(kvStore, ids.New(c.Now), testLogger(),
		messages.WithClock(c.Now), messages.WithBroker(broker))
	return &fixture{store: s, kv: kvStore, clock: c, broker: broker}
}

// send stores a message and advances the clock so timestamps are distinct.
func (f *fixture) send(t *testing.T, from, to, content, userID string) model.Message {
	t.Helper()
	m, err := f.store.Send(context.Background(), messages.SendParams{From: from, To: to, Content: content, UserID: userID})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return m
}

func TestSendPopulatesMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.store.Send(ctx, messages.SendParams{From: " boss-1 ", To: "worker-2", Content: " hello ", UserID: "user-1"})
	require.NoError(t, err)

	assert.Regexp(t, `^msg-\d+$`, m.ID)
	assert.Equal(t, "boss-1", m.From)
	assert.Equal(t, "worker-2", m.To)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, model.MessageText, m.Type)
	assert.Equal(t, model.DeliverySent, m.Status)
	assert.Equal(t, "user-1", m.UserID)
	assert.True(t, m.Timestamp.Equal(f.clock.Now()))
	assert.Nil(t, m.UpdatedAt)

	got, err := f.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Content, got.Content)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		p    messages.SendParams
	}{
		{"missing from", messages.SendParams{To: "b", Content: "x"}},
		{"missing to", messages.SendParams{From: "a", Content: "x"}},
		{"blank content", messages.SendParams{From: "a", To: "b", Content: "   "}},
		{"bad type", messages.SendParams{From: "a", To: "b", Content: "x", Type: "shout"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.store.Send(ctx, tt.p)
			assert.Equal(t, model.KindInvalidArgument, model.KindOf(err))
		})
	}

	list, total, err := f.store.List(ctx, messages.Filter{}, 1, 20)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
}

func TestSendIndexesBothEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m1 := f.send(t, "a", "b", "one", "u")
	m2 := f.send(t, "b", "c", "two", "u")
	m3 := f.send(t, "new-agent", "a", "three", "u")

	idxA, err := f.store.Index(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{m1.ID, m3.ID}, idxA)

	idxB, err := f.store.Index(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{m1.ID, m2.ID}, idxB)

	idxNew, err := f.store.Index(ctx, "new-agent")
	require.NoError(t, err)
	assert.Equal(t, []string{m3.ID}, idxNew)

	none, err := f.store.Index(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSendToSelfIndexedOnce(t *testing.T) {
	f := newFixture(t)
	m := f.send(t, "a", "a", "note to self", "u")

	idx, err := f.store.Index(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{m.ID}, idx)

	conv, err := f.store.Conversation(context.Background(), "a", "a", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.MessageCount)
}

func TestListFiltersAndSortsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Insert out of timestamp order: the clock moves backwards for the third.
	m1 := f.send(t, "A", "B", "1", "u")
	m2 := f.send(t, "B", "A", "2", "u")
	f.clock.Advance(-10 * time.Second)
	m3 := f.send(t, "A", "C", "3", "u")
	f.clock.Advance(20 * time.Second)
	m4 := f.send(t, "A", "B", "4", "u")

	list, total, err := f.store.List(ctx, messages.Filter{From: "A"}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 3)
	for _, m := range list {
		assert.Equal(t, "A", m.From)
	}
	assert.Equal(t, []string{m4.ID, m1.ID, m3.ID}, []string{list[0].ID, list[1].ID, list[2].ID})
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].Timestamp.After(list[i-1].Timestamp), "list must be newest first")
	}

	both, total, err := f.store.List(ctx, messages.Filter{From: "A", To: "B"}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{m4.ID, m1.ID}, []string{both[0].ID, both[1].ID})

	toA, total, err := f.store.List(ctx, messages.Filter{To: "A"}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, m2.ID, toA[0].ID)

	// Paging over the unfiltered list.
	page2, total, err := f.store.List(ctx, messages.Filter{}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page2, 1)
	assert.Equal(t, m3.ID, page2[0].ID)

	past, _, err := f.store.List(ctx, messages.Filter{}, 9, 3)
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestGetMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Get(context.Background(), "msg-1")
	assert.True(t, errors.Is(err, messages.ErrMessageNotFound))
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, "a", "b", "hi", "u")

	updated, err := f.store.UpdateStatus(ctx, m.ID, "read")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryRead, updated.Status)
	require.NotNil(t, updated.UpdatedAt)
	assert.True(t, updated.UpdatedAt.Equal(f.clock.Now()))
	assert.Equal(t, m.Content, updated.Content)
	assert.True(t, updated.Timestamp.Equal(m.Timestamp))

	_, err = f.store.UpdateStatus(ctx, m.ID, "lost")
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err))

	_, err = f.store.UpdateStatus(ctx, "msg-404", "read")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestDeleteByNonSenderIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.send(t, "a", "b", "hi", "owner")

	err := f.store.Delete(ctx, m.ID, "intruder")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &model.Error{Kind: model.KindForbidden, Reason: model.ReasonNotMessageOwner}))

	got, err := f.store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	idx, err := f.store.Index(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{m.ID}, idx)
}

func TestDeleteBySenderRemovesMessageAndIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := f.send(t, "a", "b", "one", "owner")
	m2 := f.send(t, "a", "c", "two", "owner")

	require.NoError(t, f.store.Delete(ctx, m1.ID, "owner"))

	_, err := f.store.Get(ctx, m1.ID)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))

	idxA, err := f.store.Index(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{m2.ID}, idxA)

	idxB, err := f.store.Index(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, idxB)

	err = f.store.Delete(ctx, m1.ID, "owner")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestConversationTailSlice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var sent []model.Message
	for i := 0; i < 5; i++ {
		if i%2 == 0 {
			sent = append(sent, f.send(t, "A", "B", "ping", "u"))
		} else {
			sent = append(sent, f.send(t, "B", "A", "pong", "u"))
		}
	}
	// Noise that must not appear.
	f.send(t, "A", "C", "other", "u")
	f.send(t, "C", "B", "other", "u")

	conv, err := f.store.Conversation(ctx, "A", "B", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)
	assert.Equal(t, [2]string{"A", "B"}, conv.Participants)
	require.Len(t, conv.Conversation, 2)
	assert.Equal(t, sent[3].ID, conv.Conversation[0].ID)
	assert.Equal(t, sent[4].ID, conv.Conversation[1].ID)
	assert.True(t, conv.Conversation[0].Timestamp.Before(conv.Conversation[1].Timestamp))

	full, err := f.store.Conversation(ctx, "B", "A", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, full.MessageCount)
	assert.Equal(t, [2]string{"B", "A"}, full.Participants)
	assert.Equal(t, sent[0].ID, full.Conversation[0].ID)
}

func TestConversationSortsByTimestampNotInsertion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	late := f.send(t, "A", "B", "late", "u")
	f.clock.Advance(-time.Hour)
	early := f.send(t, "B", "A", "early", "u")

	conv, err := f.store.Conversation(ctx, "A", "B", 10)
	require.NoError(t, err)
	require.Len(t, conv.Conversation, 2)
	assert.Equal(t, early.ID, conv.Conversation[0].ID)
	assert.Equal(t, late.ID, conv.Conversation[1].ID)
}

func TestConversationEmpty(t *testing.T) {
	f := newFixture(t)
	conv, err := f.store.Conversation(context.Background(), "A", "B", 10)
	require.NoError(t, err)
	assert.NotNil(t, conv.Conversation)
	assert.Empty(t, conv.Conversation)
	assert.Zero(t, conv.MessageCount)
}

func TestRebuildIndexMatchesIncremental(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, "a", "b", "1", "u")
	m2 := f.send(t, "b", "c", "2", "u")
	f.send(t, "c", "a", "3", "u")
	require.NoError(t, f.store.Delete(ctx, m2.ID, "u"))

	before := map[string][]string{}
	for _, agent := range []string{"a", "b", "c"} {
		idx, err := f.store.Index(ctx, agent)
		require.NoError(t, err)
		before[agent] = idx
	}

	// Corrupt the index, then rebuild it.
	require.NoError(t, kv.PutRecord(ctx, f.kv, "idx/a", []string{"msg-bogus"}))
	require.NoError(t, kv.PutRecord(ctx, f.kv, "idx/ghost", []string{"msg-ghost"}))

	n, err := f.store.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for agent, want := range before {
		idx, err := f.store.Index(ctx, agent)
		require.NoError(t, err)
		assert.Equal(t, want, idx, "index for %s", agent)
	}
	ghost, err := f.store.Index(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, ghost)
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := f.broker.Subscribe()
	defer f.broker.Unsubscribe(ch)

	m := f.send(t, "a", "b", "hi", "owner")
	_, err := f.store.UpdateStatus(ctx, m.ID, "delivered")
	require.NoError(t, err)
	// A rejected delete publishes nothing.
	require.Error(t, f.store.Delete(ctx, m.ID, "someone-else"))
	require.NoError(t, f.store.Delete(ctx, m.ID, "owner"))

	var types []string
	for i := 0; i < 3; i++ {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
			assert.Equal(t, m.ID, ev.Message.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, []string{messages.EventSent, messages.EventStatusChanged, messages.EventDeleted}, types)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event %q", ev.Type)
	default:
	}
}

func TestConcurrentSendsKeepIndexConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "A", "B"
			if i%2 == 1 {
				from, to = "B", "A"
			}
			_, err := f.store.Send(ctx, messages.SendParams{From: from, To: to, Content: "x", UserID: "u"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	idxA, err := f.store.Index(ctx, "A")
	require.NoError(t, err)
	idxB, err := f.store.Index(ctx, "B")
	require.NoError(t, err)
	assert.Len(t, idxA, n)
	assert.ElementsMatch(t, idxA, idxB)

	_, total, err := f.store.List(ctx, messages.Filter{}, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, n, total)
}
