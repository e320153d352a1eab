// Package registry holds the live, in-memory view of every election
// this EC knows about. It is the hot path every inbound bus event and
// admin request goes through, so two locks are used deliberately: a
// map-level RWMutex that only ever guards insert/lookup/snapshot, and
// a per-entry mutex that guards mutation of one election. A long-running
// operation on election A (e.g. recording a ballot) never blocks a
// lookup of election B, nor a concurrent admin request listing all
// election ids.
package registry

import (
	"sync"

	"github.com/ec-core/ec/ecerr"
	"github.com/ec-core/ec/election"
)

type entry struct {
	mu sync.Mutex
	e  *election.Election
}

// Registry is the process-wide table of live elections.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Insert adds e to the registry under its own lock. It is used both
// at startup (hydrating from the Store) and when a new election is
// admin-created. Inserting an id that already exists replaces the
// entry's election value but keeps the entry's mutex identity, which
// is never observable to callers since WithElection always goes
// through the map lookup first.
func (r *Registry) Insert(e *election.Election) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[e.ID]; ok {
		existing.mu.Lock()
		existing.e = e
		existing.mu.Unlock()
		return
	}
	r.entries[e.ID] = &entry{e: e}
}

// WithElection looks up electionID and, while holding that entry's
// lock (not the map lock), runs fn against the live *election.Election.
// Returns ecerr.ErrNotFound if no such election is registered.
func (r *Registry) WithElection(electionID string, fn func(*election.Election) error) error {
	r.mu.RLock()
	ent, ok := r.entries[electionID]
	r.mu.RUnlock()
	if !ok {
		return ecerr.ErrNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return fn(ent.e)
}

// SnapshotIDs returns the ids of every election currently registered,
// in no particular order. Used by the status engine to decide which
// elections to sweep each tick without holding the map lock for the
// duration of the sweep.
func (r *Registry) SnapshotIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Get returns a copy of the current AnnouncementView for electionID,
// or ErrNotFound.
func (r *Registry) Get(electionID string) (election.AnnouncementView, error) {
	var view election.AnnouncementView
	err := r.WithElection(electionID, func(e *election.Election) error {
		view = e.Announcement()
		return nil
	})
	return view, err
}

// Exists reports whether electionID is registered, without taking an
// entry lock.
func (r *Registry) Exists(electionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[electionID]
	return ok
}
