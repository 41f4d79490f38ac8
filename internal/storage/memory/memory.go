// internal/storage/memory/memory.go
package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/courtkit/rotation/internal/config"
	"github.com/courtkit/rotation/pkg/core"
)

// History rings are bounded so a long-lived planning session cannot grow
// the process without limit. Oldest entries fall off first.
const (
	maxSnapshots = 4096
	maxEvents    = 4096
	maxSamples   = 1024
)

// Backend stores formations and session history in memory and exports to
// JSON on Close
type Backend struct {
	cfg config.MemoryConfig

	formations map[string]*core.Formation // keyed by Name

	snapshots []core.Snapshot
	events    []core.ValidationEvent
	samples   []core.PerfSample

	idCounter      uint
	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:        cfg,
		formations: make(map[string]*core.Formation),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports the accumulated data to disk
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.exportJSON()
}

// SaveFormation stores a formation keyed by name, overwriting any existing
// formation with the same name. The stored ID is assigned to the passed
// pointer.
func (b *Backend) SaveFormation(f *core.Formation) error {
	if f.Name == "" {
		return fmt.Errorf("formation name must not be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	stored := copyFormation(*f)
	if existing, ok := b.formations[f.Name]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		b.idCounter++
		stored.ID = b.idCounter
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	b.formations[stored.Name] = &stored

	f.ID = stored.ID
	f.CreatedAt = stored.CreatedAt
	f.UpdatedAt = stored.UpdatedAt
	return nil
}

// LoadFormation returns a copy of the named formation.
func (b *Backend) LoadFormation(name string) (*core.Formation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stored, ok := b.formations[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, core.ErrFormationNotFound)
	}
	cp := copyFormation(*stored)
	return &cp, nil
}

// ListFormations returns copies of all stored formations, sorted by name.
func (b *Backend) ListFormations() ([]core.Formation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.Formation, 0, len(b.formations))
	for _, f := range b.formations {
		out = append(out, copyFormation(*f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteFormation removes the named formation.
func (b *Backend) DeleteFormation(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.formations[name]; !ok {
		return fmt.Errorf("%q: %w", name, core.ErrFormationNotFound)
	}
	delete(b.formations, name)
	return nil
}

// WriteSnapshot appends a snapshot to the bounded history ring.
func (b *Backend) WriteSnapshot(s *core.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snapshots = append(b.snapshots, *s)
	if len(b.snapshots) > maxSnapshots {
		b.snapshots = b.snapshots[1:]
	}
	return nil
}

// WriteValidationEvent appends a validation event to the bounded ring.
func (b *Backend) WriteValidationEvent(e *core.ValidationEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, *e)
	if len(b.events) > maxEvents {
		b.events = b.events[1:]
	}
	return nil
}

// WritePerfSample appends a health sample to the bounded ring.
func (b *Backend) WritePerfSample(p *core.PerfSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, *p)
	if len(b.samples) > maxSamples {
		b.samples = b.samples[1:]
	}
	return nil
}

// Snapshots returns a copy of the snapshot ring, oldest first.
func (b *Backend) Snapshots() []core.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.Snapshot, len(b.snapshots))
	copy(out, b.snapshots)
	return out
}

// Events returns a copy of the validation event ring, oldest first.
func (b *Backend) Events() []core.ValidationEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.ValidationEvent, len(b.events))
	copy(out, b.events)
	return out
}

// GetExportPath returns the path of the last export written by Close.
func (b *Backend) GetExportPath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// copyFormation returns a value copy with its own player slice, so callers
// cannot alias stored state.
func copyFormation(f core.Formation) core.Formation {
	players := make([]core.FormationPlayer, len(f.Players))
	copy(players, f.Players)
	f.Players = players
	return f
}
