package registry_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/agentrelay/internal/ids"
	"github.com/ashita-ai/agentrelay/internal/kv"
	"github.com/ashita-ai/agentrelay/internal/model"
	"github.com/ashita-ai/agentrelay/internal/registry"
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

func newRegistry(t *testing.T) (*registry.Registry, kv.Store, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := kv.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return registry.New(store, ids.New(c.Now), logger, registry.WithClock(c.Now)), store, c
}

func countAgents(t *testing.T, store kv.Store) int {
	t.Helper()
	n := 0
	require.NoError(t, store.Scan(context.Background(), "agent/", func(string, []byte) error {
		n++
		return nil
	}))
	return n
}

func TestCreateDefaultsSessionFromType(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	worker, err := r.Create(ctx, registry.CreateParams{Name: "W1", Type: "worker", CreatedBy: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "multiagent:0.1", worker.SessionID)

	boss, err := r.Create(ctx, registry.CreateParams{Name: "B1", Type: "boss", CreatedBy: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "multiagent:0.0", boss.SessionID)

	president, err := r.Create(ctx, registry.CreateParams{Name: "P1", Type: "president"})
	require.NoError(t, err)
	assert.Equal(t, "multiagent:0.1", president.SessionID)

	custom, err := r.Create(ctx, registry.CreateParams{Name: "W2", Type: "worker", SessionID: "  other:1.2 "})
	require.NoError(t, err)
	assert.Equal(t, "other:1.2", custom.SessionID)
}

func TestCreatePopulatesRecord(t *testing.T) {
	r, _, c := newRegistry(t)

	a, err := r.Create(context.Background(), registry.CreateParams{Name: "  W1 ", Type: "worker", CreatedBy: "user-1"})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^worker-\d+$`), a.ID)
	assert.Equal(t, "W1", a.Name)
	assert.Equal(t, model.AgentWorker, a.Type)
	assert.Equal(t, model.AgentActive, a.Status)
	assert.Equal(t, "user-1", a.CreatedBy)
	assert.True(t, a.CreatedAt.Equal(c.Now()))
	assert.Nil(t, a.UpdatedAt)

	got, err := r.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.True(t, a.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.UpdatedAt)
}

func TestCreateInvalidTypeStoresNothing(t *testing.T) {
	r, store, _ := newRegistry(t)

	_, err := r.Create(context.Background(), registry.CreateParams{Name: "X", Type: "invalid"})
	require.Error(t, err)
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err))
	assert.Equal(t, 0, countAgents(t, store))
}

func TestCreateRequiresName(t *testing.T) {
	r, store, _ := newRegistry(t)

	_, err := r.Create(context.Background(), registry.CreateParams{Name: "   ", Type: "worker"})
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err))
	assert.Equal(t, 0, countAgents(t, store))
}

func TestCreateSameMillisecondGetsDistinctIDs(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	a, err := r.Create(ctx, registry.CreateParams{Name: "A", Type: "worker"})
	require.NoError(t, err)
	b, err := r.Create(ctx, registry.CreateParams{Name: "B", Type: "worker"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestCreateConflictOnExistingKey(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := kv.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx := context.Background()

	// A second process-lifetime generator starts over and mints an id that
	// the store already holds.
	first := registry.New(store, ids.New(c.Now), logger)
	a, err := first.Create(ctx, registry.CreateParams{Name: "A", Type: "boss"})
	require.NoError(t, err)

	second := registry.New(store, ids.New(c.Now), logger)
	_, err = second.Create(ctx, registry.CreateParams{Name: "B", Type: "boss"})
	require.Error(t, err)
	assert.Equal(t, model.KindConflict, model.KindOf(err))

	got, err := first.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
}

func TestGetMissing(t *testing.T) {
	r, _, _ := newRegistry(t)
	_, err := r.Get(context.Background(), "worker-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrAgentNotFound))
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestUpdatePartial(t *testing.T) {
	r, _, c := newRegistry(t)
	ctx := context.Background()

	a, err := r.Create(ctx, registry.CreateParams{Name: "W1", Type: "worker"})
	require.NoError(t, err)

	c.Advance(time.Minute)
	busy := "busy"
	updated, err := r.Update(ctx, a.ID, registry.UpdateParams{Status: &busy})
	require.NoError(t, err)
	assert.Equal(t, "W1", updated.Name)
	assert.Equal(t, model.AgentBusy, updated.Status)
	require.NotNil(t, updated.UpdatedAt)
	assert.True(t, updated.UpdatedAt.Equal(c.Now()))

	c.Advance(time.Minute)
	name := "Worker One"
	updated, err = r.Update(ctx, a.ID, registry.UpdateParams{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Worker One", updated.Name)
	assert.Equal(t, model.AgentBusy, updated.Status)
	assert.True(t, updated.UpdatedAt.Equal(c.Now()))

	// An empty update still refreshes updatedAt.
	c.Advance(time.Minute)
	updated, err = r.Update(ctx, a.ID, registry.UpdateParams{})
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.Equal(c.Now()))

	stored, err := r.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Worker One", stored.Name)
	assert.True(t, stored.CreatedAt.Equal(a.CreatedAt))
}

func TestUpdateInvalidStatus(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	a, err := r.Create(ctx, registry.CreateParams{Name: "W1", Type: "worker"})
	require.NoError(t, err)

	bogus := "bogus"
	_, err = r.Update(ctx, a.ID, registry.UpdateParams{Status: &bogus})
	assert.Equal(t, model.KindInvalidArgument, model.KindOf(err))

	stored, err := r.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentActive, stored.Status)
	assert.Nil(t, stored.UpdatedAt)
}

func TestUpdateMissingDoesNotCreate(t *testing.T) {
	r, store, _ := newRegistry(t)

	active := "active"
	_, err := r.Update(context.Background(), "worker-42", registry.UpdateParams{Status: &active})
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
	assert.Equal(t, 0, countAgents(t, store))
}

func TestDelete(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	a, err := r.Create(ctx, registry.CreateParams{Name: "W1", Type: "worker"})
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, a.ID))
	_, err = r.Get(ctx, a.ID)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))

	err = r.Delete(ctx, a.ID)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestStatus(t *testing.T) {
	r, _, c := newRegistry(t)
	ctx := context.Background()

	a, err := r.Create(ctx, registry.CreateParams{Name: "W1", Type: "worker"})
	require.NoError(t, err)

	st, err := r.Status(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, st.ID)
	assert.Equal(t, model.AgentActive, st.Status)
	assert.True(t, st.LastActive.Equal(a.CreatedAt))

	c.Advance(time.Hour)
	inactive := "inactive"
	_, err = r.Update(ctx, a.ID, registry.UpdateParams{Status: &inactive})
	require.NoError(t, err)

	st, err = r.Status(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentInactive, st.Status)
	assert.True(t, st.LastActive.Equal(c.Now()))

	_, err = r.Status(ctx, "boss-1")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestListFilterAndPaging(t *testing.T) {
	r, _, c := newRegistry(t)
	ctx := context.Background()

	var workers []string
	types := []string{"worker", "boss", "worker", "president", "worker", "worker"}
	for i, typ := range types {
		a, err := r.Create(ctx, registry.CreateParams{Name: "A", Type: typ})
		require.NoError(t, err)
		if typ == "worker" {
			workers = append(workers, a.ID)
		}
		c.Advance(time.Duration(i+1) * time.Millisecond)
	}

	all, total, err := r.List(ctx, registry.ListFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, all, 6)

	page1, total, err := r.List(ctx, registry.ListFilter{Type: "worker"}, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page1, 3)
	assert.Equal(t, workers[:3], []string{page1[0].ID, page1[1].ID, page1[2].ID})

	page2, _, err := r.List(ctx, registry.ListFilter{Type: "worker"}, 2, 3)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, workers[3], page2[0].ID)

	past, total, err := r.List(ctx, registry.ListFilter{Type: "worker"}, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Empty(t, past)

	none, total, err := r.List(ctx, registry.ListFilter{Type: "janitor"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, none)
}

func TestListKeepsOrderAfterUpdate(t *testing.T) {
	r, _, c := newRegistry(t)
	ctx := context.Background()

	first, err := r.Create(ctx, registry.CreateParams{Name: "first", Type: "worker"})
	require.NoError(t, err)
	c.Advance(time.Millisecond)
	second, err := r.Create(ctx, registry.CreateParams{Name: "second", Type: "worker"})
	require.NoError(t, err)

	busy := "busy"
	_, err = r.Update(ctx, first.ID, registry.UpdateParams{Status: &busy})
	require.NoError(t, err)

	list, _, err := r.List(ctx, registry.ListFilter{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestConcurrentCreates(t *testing.T) {
	r, store, _ := newRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create(ctx, registry.CreateParams{Name: "W", Type: "worker"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 50, countAgents(t, store))
}
