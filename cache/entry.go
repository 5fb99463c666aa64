package cache

import (
	"sync"
	"time"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
)

// entry is the per-dataset critical section: the row table plus the two
// timestamps driving change detection and race suppression. All access goes
// through the RWMutex; a reader never observes a half-applied write.
type entry struct {
	mu            sync.RWMutex
	rows          []dataset.Row
	lastChange    float64 // unix seconds; bumped on any refresh, local or remote
	lastLocalEdit float64 // unix seconds; bumped only by user edits
}

func (e *entry) empty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rows) == 0
}

// snapshot returns a copy of the table so long-running consumers (exports,
// JSON rendering) are immune to concurrent replacement.
func (e *entry) snapshot() []dataset.Row {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]dataset.Row, len(e.rows))
	copy(out, e.rows)
	return out
}

func (e *entry) version() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastChange
}

func (e *entry) localEdit() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastLocalEdit
}

// applyEdit mutates matching rows in place and, when at least one row
// matched, advances both bookkeeping timestamps.
func (e *entry) applyEdit(rowIDs []string, status, editor string, now time.Time, nowSec float64) int {
	wanted := make(map[string]bool, len(rowIDs))
	for _, id := range rowIDs {
		wanted[id] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for i := range e.rows {
		if !wanted[e.rows[i].ID] {
			continue
		}
		e.rows[i].Revisado = status
		e.rows[i].Modified = now
		if editor != "" {
			e.rows[i].ModifiedBy = editor
		}
		n++
	}
	if n > 0 {
		e.lastChange = nowSec
		e.lastLocalEdit = nowSec
	}
	return n
}

// install replaces the table unless a local edit happened within the guard
// window. Returns false when the candidate table was discarded.
func (e *entry) install(rows []dataset.Row, nowSec float64, guard time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastLocalEdit > 0 && nowSec-e.lastLocalEdit < guard.Seconds() {
		return false
	}
	e.rows = rows
	e.lastChange = nowSec
	return true
}
