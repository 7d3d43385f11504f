// Package ledger records per-unit completion state alongside the output
// tree. Existence of an output file alone cannot distinguish "done" from
// "crashed mid-write"; the ledger closes that gap by marking a unit done
// only after its outputs are fully renamed into place.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/cityclimate/rasterflow/internal/fsutil"
)

// Status is the lifecycle state of one unit of work.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Ledger is a file-backed map from unit key to status. It is safe for
// concurrent use within one process; it does not coordinate independent
// processes racing on the same file.
type Ledger struct {
	path string

	mu      sync.Mutex
	entries map[string]Status
}

// Open loads the ledger at path, creating an empty one if absent.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path, entries: make(map[string]Status)}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &l.entries); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	return l, nil
}

// Mark sets the status for a key and persists the ledger atomically.
func (l *Ledger) Mark(key string, s Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = s
	return l.save()
}

// Status returns the recorded status for a key, or StatusPending if the key
// has never been marked.
func (l *Ledger) Status(key string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.entries[key]; ok {
		return s
	}
	return StatusPending
}

// Done reports whether the key has been marked done.
func (l *Ledger) Done(key string) bool {
	return l.Status(key) == StatusDone
}

func (l *Ledger) save() error {
	raw, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	return fsutil.AtomicWriteFile(l.path, raw, 0o644)
}
