// Package status runs the periodic wall-clock sweep that advances
// every election's status (Open -> InProgress -> Finished), the Go
// equivalent of the original Rust binary's tokio::time::interval task
// in main.rs. A change of status is persisted through the Store and
// handed to a Republisher so the bus carries an up to date
// announcement without admin action.
package status

import (
	"log"
	"sync"
	"time"

	"github.com/ec-core/ec/election"
	"github.com/ec-core/ec/registry"
)

// Interval is the fixed period between sweeps, matching the original
// implementation's 30 second status-check loop.
const Interval = 30 * time.Second

// Store is the subset of store.Store the engine needs, kept narrow so
// it can be faked in tests without pulling in bbolt.
type Store interface {
	UpsertElection(e *election.Election) error
}

// Republisher is notified whenever an election's status changes, so
// it can push a fresh announcement event. Satisfied by
// publisher.Publisher.
type Republisher interface {
	RepublishAnnouncement(electionID string)
}

// Engine drives the registry's status machine forward with the wall
// clock. now is a seam for tests; New sets it to time.Now().Unix().
type Engine struct {
	registry *registry.Registry
	store    Store
	pub      Republisher
	now      func() int64

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// New constructs an Engine. pub may be nil if no republishing is
// desired (e.g. in tests exercising only the status transition).
func New(reg *registry.Registry, store Store, pub Republisher) *Engine {
	return &Engine{
		registry:   reg,
		store:      store,
		pub:        pub,
		now:        func() int64 { return time.Now().Unix() },
		shutdownCh: make(chan struct{}),
	}
}

// Start launches the background ticker goroutine. Call Stop to shut
// it down cleanly.
func (eng *Engine) Start() {
	eng.wg.Add(1)
	go eng.run()
}

// Stop signals the ticker goroutine to exit and waits for it.
func (eng *Engine) Stop() {
	close(eng.shutdownCh)
	eng.wg.Wait()
}

func (eng *Engine) run() {
	defer eng.wg.Done()
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-eng.shutdownCh:
			return
		case <-ticker.C:
			eng.Sweep()
		}
	}
}

// Sweep advances every registered election's status once against the
// current wall clock. It is exported so cmd/ecd can also invoke it
// once at startup before the first tick, covering elections whose
// start/end time already elapsed while the process was down.
func (eng *Engine) Sweep() {
	now := eng.now()
	for _, id := range eng.registry.SnapshotIDs() {
		changed := false
		err := eng.registry.WithElection(id, func(e *election.Election) error {
			beforeStatus := e.Status
			beforeUpdatedAt := e.UpdatedAt
			if !e.AdvanceStatus(now) {
				return nil
			}
			if err := eng.store.UpsertElection(e); err != nil {
				e.Status = beforeStatus
				e.UpdatedAt = beforeUpdatedAt
				return err
			}
			changed = true
			return nil
		})
		if err != nil {
			log.Printf("status: advance election %s: %v", id, err)
			continue
		}
		if changed && eng.pub != nil {
			eng.pub.RepublishAnnouncement(id)
		}
	}
}
