package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/versionstore"
)

type fakeCache struct {
	mu        sync.Mutex
	versions  map[dataset.ID]float64
	inGrace   map[dataset.ID]bool
	refreshed []dataset.ID
	refreshTo map[dataset.ID]float64
	fetchErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		versions:  make(map[dataset.ID]float64),
		inGrace:   make(map[dataset.ID]bool),
		refreshTo: make(map[dataset.ID]float64),
	}
}

func (f *fakeCache) RefreshFromRemote(_ context.Context, id dataset.ID) ([]dataset.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	f.refreshed = append(f.refreshed, id)
	if v, ok := f.refreshTo[id]; ok {
		f.versions[id] = v
	}
	return nil, nil
}

func (f *fakeCache) Snapshot(context.Context, dataset.ID, bool) ([]dataset.Row, string, error) {
	return nil, "Lunes 1 de Enero de 2024, 00:00:00", nil
}

func (f *fakeCache) Version(id dataset.ID) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versions[id]
}

func (f *fakeCache) InEditGrace(id dataset.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inGrace[id]
}

type fakeVersions struct {
	v versionstore.Versions
}

func (f *fakeVersions) Load() versionstore.Versions { return f.v }

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (f *fakeBroadcaster) Broadcast(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event == "server_update" {
		f.events = append(f.events, payload.(ChangeEvent))
	}
}

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestTickRefreshesWhenPersistedAhead(t *testing.T) {
	c := newFakeCache()
	c.versions[dataset.IPS] = 100
	c.refreshTo[dataset.IPS] = 200
	vs := &fakeVersions{v: versionstore.Versions{dataset.IPS: 200, dataset.MTESS: 0}}
	bc := &fakeBroadcaster{}
	l := New(c, vs, bc, nil)
	l.lastEmitted[dataset.IPS] = 100

	if err := l.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(c.refreshed) != 1 || c.refreshed[0] != dataset.IPS {
		t.Fatalf("refreshed = %v, want [IPS]", c.refreshed)
	}
	if bc.count() != 1 {
		t.Fatalf("broadcasts = %d, want 1", bc.count())
	}
	ev := bc.events[0]
	if ev.Source != "IPS" || ev.Version != 200 {
		t.Errorf("event = %+v", ev)
	}
	if ev.LastUpdated == "" {
		t.Error("event missing display timestamp")
	}
}

func TestTickEpsilonSuppressesRefresh(t *testing.T) {
	c := newFakeCache()
	c.versions[dataset.IPS] = 100
	// Within syncEpsilon of the cached version: treated as in sync.
	vs := &fakeVersions{v: versionstore.Versions{dataset.IPS: 100.05}}
	bc := &fakeBroadcaster{}
	l := New(c, vs, bc, nil)
	l.lastEmitted[dataset.IPS] = 100

	if err := l.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(c.refreshed) != 0 {
		t.Errorf("refreshed = %v, want none", c.refreshed)
	}
	if bc.count() != 0 {
		t.Errorf("broadcasts = %d, want 0", bc.count())
	}
}

func TestTickSkipsDatasetInEditGrace(t *testing.T) {
	c := newFakeCache()
	c.versions[dataset.IPS] = 100
	c.inGrace[dataset.IPS] = true
	vs := &fakeVersions{v: versionstore.Versions{dataset.IPS: 500}}
	bc := &fakeBroadcaster{}
	l := New(c, vs, bc, nil)
	l.lastEmitted[dataset.IPS] = 100

	if err := l.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(c.refreshed) != 0 {
		t.Errorf("refreshed = %v for a dataset in edit grace, want none", c.refreshed)
	}
}

func TestTickBroadcastsOnlyOnce(t *testing.T) {
	c := newFakeCache()
	c.versions[dataset.IPS] = 300
	vs := &fakeVersions{v: versionstore.Versions{dataset.IPS: 300}}
	bc := &fakeBroadcaster{}
	l := New(c, vs, bc, nil)

	// First tick announces the version the loop has not emitted yet.
	if err := l.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if bc.count() != 1 {
		t.Fatalf("broadcasts after first tick = %d, want 1", bc.count())
	}

	// Nothing changed: a second tick stays silent.
	if err := l.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if bc.count() != 1 {
		t.Errorf("broadcasts after second tick = %d, want still 1", bc.count())
	}
}

func TestTickReturnsRefreshError(t *testing.T) {
	c := newFakeCache()
	c.fetchErr = errors.New("graph down")
	vs := &fakeVersions{v: versionstore.Versions{dataset.IPS: 500}}
	l := New(c, vs, &fakeBroadcaster{}, nil)

	if err := l.Tick(context.Background()); err == nil {
		t.Fatal("Tick should surface the refresh error")
	}
}

func TestWakeTriggersEarlyTick(t *testing.T) {
	c := newFakeCache()
	c.versions[dataset.IPS] = 100
	vs := &fakeVersions{v: versionstore.Versions{dataset.IPS: 100}}
	bc := &fakeBroadcaster{}
	// Long interval: only a wake can cause a tick within the test window.
	l := New(c, vs, bc, nil, WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	l.Wake()

	deadline := time.Now().Add(2 * time.Second)
	for bc.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if bc.count() == 0 {
		t.Error("wake did not trigger a tick")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Run did not stop on context cancel")
	}
}

func TestWakeNeverBlocks(t *testing.T) {
	l := New(newFakeCache(), &fakeVersions{v: versionstore.Versions{}}, &fakeBroadcaster{}, nil)
	for i := 0; i < 10; i++ {
		l.Wake()
	}
}
