package cache

import (
	"context"
	"log/slog"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
)

// statusField and editorField are the remote internal column names patched
// when an edit is propagated.
const (
	statusField = "REVISADO"
	editorField = "ModificadoPor"
)

// Patcher issues a single-field partial update against one remote row.
// Implemented by *graph.Client.
type Patcher interface {
	PatchItemField(ctx context.Context, id dataset.ID, itemID, field string, value any) error
}

// Dispatcher propagates already-applied local edits to the remote list in the
// background. The caller never waits on it: the cache is the source of truth
// for the UI, remote propagation is eventual. There is no retry and no
// cross-row ordering: each row is patched independently and a failed row
// only shows up in the logs.
type Dispatcher struct {
	patcher Patcher
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(p Patcher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{patcher: p, logger: logger}
}

// Dispatch starts background propagation for the given rows and returns
// immediately. The spawned task outlives the originating request, so it runs
// on a fresh context rather than the request's.
func (d *Dispatcher) Dispatch(id dataset.ID, rowIDs []string, status, editor string) {
	go d.run(context.Background(), id, rowIDs, status, editor)
}

// run patches each row in two steps: the status field first (that is the
// one that must succeed for the row to count as propagated), then the
// attribution field best-effort. An attribution failure never rolls back the
// status patch.
func (d *Dispatcher) run(ctx context.Context, id dataset.ID, rowIDs []string, status, editor string) {
	d.logger.Info("dispatch: starting remote patch", "dataset", id, "rows", len(rowIDs), "status", status)

	ok := 0
	for _, rowID := range rowIDs {
		if err := d.patcher.PatchItemField(ctx, id, rowID, statusField, status); err != nil {
			d.logger.Error("dispatch: status patch failed", "dataset", id, "item", rowID, "error", err)
			continue
		}
		ok++

		if editor == "" {
			continue
		}
		if err := d.patcher.PatchItemField(ctx, id, rowID, editorField, editor); err != nil {
			d.logger.Warn("dispatch: attribution patch failed", "dataset", id, "item", rowID, "error", err)
		}
	}

	d.logger.Info("dispatch: remote patch finished", "dataset", id, "ok", ok, "failed", len(rowIDs)-ok)
}
