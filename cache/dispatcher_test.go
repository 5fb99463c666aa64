package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
)

type fakePatcher struct {
	mu      sync.Mutex
	patches []string // "item/field=value"
	failOn  map[string]bool
}

func (f *fakePatcher) PatchItemField(_ context.Context, _ dataset.ID, itemID, field string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := itemID + "/" + field
	if f.failOn[key] {
		return errors.New("patch rejected")
	}
	f.patches = append(f.patches, key+"="+value.(string))
	return nil
}

func (f *fakePatcher) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.patches))
	copy(out, f.patches)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDispatchPatchesStatusThenEditor(t *testing.T) {
	p := &fakePatcher{}
	d := NewDispatcher(p, nil)

	d.Dispatch(dataset.IPS, []string{"7"}, "REVISADO", "Ana")
	waitFor(t, func() bool { return len(p.snapshot()) == 2 })

	got := p.snapshot()
	if got[0] != "7/REVISADO=REVISADO" {
		t.Errorf("first patch = %q, want the status field", got[0])
	}
	if got[1] != "7/ModificadoPor=Ana" {
		t.Errorf("second patch = %q, want the attribution field", got[1])
	}
}

func TestDispatchSkipsEditorWhenStatusFails(t *testing.T) {
	p := &fakePatcher{failOn: map[string]bool{"7/REVISADO": true}}
	d := NewDispatcher(p, nil)

	d.Dispatch(dataset.IPS, []string{"7", "8"}, "REVISADO", "Ana")
	waitFor(t, func() bool { return len(p.snapshot()) == 2 })

	for _, patch := range p.snapshot() {
		if patch == "7/ModificadoPor=Ana" {
			t.Error("attribution patched for a row whose status patch failed")
		}
	}
}

func TestDispatchNoEditor(t *testing.T) {
	p := &fakePatcher{}
	d := NewDispatcher(p, nil)

	d.Dispatch(dataset.MTESS, []string{"1"}, "REVISADO", "")
	waitFor(t, func() bool { return len(p.snapshot()) == 1 })

	if got := p.snapshot()[0]; got != "1/REVISADO=REVISADO" {
		t.Errorf("patch = %q", got)
	}
}

func TestDispatchAttributionFailureIsNonFatal(t *testing.T) {
	p := &fakePatcher{failOn: map[string]bool{"1/ModificadoPor": true}}
	d := NewDispatcher(p, nil)

	d.Dispatch(dataset.IPS, []string{"1", "2"}, "REVISADO", "Ana")
	// 1/status, 2/status, 2/editor land; 1/editor fails.
	waitFor(t, func() bool { return len(p.snapshot()) == 3 })
}
