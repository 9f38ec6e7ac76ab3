package endpoint

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notno/agentcom-hub/pkg/config"
	"github.com/notno/agentcom-hub/pkg/events"
	"github.com/notno/agentcom-hub/pkg/storage"
)

func newTestRegistry(t *testing.T) (*Registry, *events.Bus) {
	t.Helper()
	engine, err := storage.NewEngine(t.TempDir(), t.TempDir(), events.NewBus(), config.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	bus := events.NewBus()
	r, err := NewRegistry(engine, bus)
	require.NoError(t, err)
	return r, bus
}

func TestRegisterThenGetStartsUnknown(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Register(RegisterParams{ID: "ollama-1", Kind: KindOllama, Address: "localhost:9000"})
	require.NoError(t, err)

	snap, err := r.Get("ollama-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, snap.Status)
}

func TestRegisterDuplicateIDFails(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Register(RegisterParams{ID: "ollama-1", Kind: KindOllama, Address: "a"})
	require.NoError(t, err)
	_, err = r.Register(RegisterParams{ID: "ollama-1", Kind: KindOllama, Address: "b"})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestTwoConsecutiveSuccessesMarkHealthy(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register(RegisterParams{ID: "e1", Kind: KindOllama, Address: "a"})

	r.recordProbe("e1", true, []string{"llama3"})
	snap, _ := r.Get("e1")
	assert.Equal(t, StatusUnknown, snap.Status)

	r.recordProbe("e1", true, []string{"llama3"})
	snap, _ = r.Get("e1")
	assert.Equal(t, StatusHealthy, snap.Status)
	assert.Equal(t, []string{"llama3"}, snap.Models)
}

func TestTwoConsecutiveFailuresMarkUnhealthy(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register(RegisterParams{ID: "e1", Kind: KindOllama, Address: "a"})
	r.recordProbe("e1", true, nil)
	r.recordProbe("e1", true, nil)

	r.recordProbe("e1", false, nil)
	snap, _ := r.Get("e1")
	assert.Equal(t, StatusHealthy, snap.Status)

	r.recordProbe("e1", false, nil)
	snap, _ = r.Get("e1")
	assert.Equal(t, StatusUnhealthy, snap.Status)
}

func TestStatusTransitionPublishesEndpointChanged(t *testing.T) {
	r, bus := newTestRegistry(t)
	r.Register(RegisterParams{ID: "e1", Kind: KindOllama, Address: "a"})

	ch, unsub := bus.Subscribe(events.TopicEndpointChanged)
	defer unsub()

	r.recordProbe("e1", true, nil)
	r.recordProbe("e1", true, nil)

	select {
	case env := <-ch:
		evt := env.Data.(ChangedEvent)
		assert.Equal(t, StatusUnknown, evt.From)
		assert.Equal(t, StatusHealthy, evt.To)
	case <-time.After(time.Second):
		t.Fatal("expected endpoint_changed event")
	}
}

func TestUpdateResourcesReplacesPriorSnapshot(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register(RegisterParams{ID: "e1", Kind: KindOllama, Address: "a"})

	require.NoError(t, r.UpdateResources("e1", ResourceSnapshot{CPUPercent: 10}))
	require.NoError(t, r.UpdateResources("e1", ResourceSnapshot{CPUPercent: 90}))

	snap, ok := r.GetResources("e1")
	require.True(t, ok)
	assert.Equal(t, 90.0, snap.CPUPercent)
}

func TestDeregisterRemovesEndpoint(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register(RegisterParams{ID: "e1", Kind: KindOllama, Address: "a"})
	require.NoError(t, r.Deregister("e1"))

	_, err := r.Get("e1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersByKind(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register(RegisterParams{ID: "o1", Kind: KindOllama, Address: "a"})
	r.Register(RegisterParams{ID: "c1", Kind: KindCloudAPI, Address: "b"})

	ollamaOnly, err := r.List(KindOllama)
	require.NoError(t, err)
	require.Len(t, ollamaOnly, 1)
	assert.Equal(t, "o1", ollamaOnly[0].ID)
}

// fakeChecker lets the prober loop be tested without real network dials.
type fakeChecker struct {
	mu      sync.Mutex
	healthy bool
}

func (f *fakeChecker) Check(ctx context.Context, e Endpoint) (bool, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy, nil
}

func TestProberRoundAppliesCheckerResultsToEveryEndpoint(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register(RegisterParams{ID: "e1", Kind: KindOllama, Address: "a"})
	r.Register(RegisterParams{ID: "e2", Kind: KindOllama, Address: "b"})

	checker := &fakeChecker{healthy: true}
	cfg := config.New()
	p := NewProber(r, checker, cfg)

	p.runRound(context.Background())
	p.runRound(context.Background())

	snap1, _ := r.Get("e1")
	snap2, _ := r.Get("e2")
	assert.Equal(t, StatusHealthy, snap1.Status)
	assert.Equal(t, StatusHealthy, snap2.Status)
}
