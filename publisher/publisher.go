// Package publisher builds and republishes the two addressable bus
// events this system defines — election announcements (kind 35000)
// and tallies (kind 35001) — retrying each publish with bounded
// exponential backoff. A permanently failed publish never rolls back
// any state: the election/ballot was already accepted and persisted,
// the bus event is a best-effort projection of it, matching the
// original implementation's publish_election_event, which logs and
// moves on rather than undoing a vote on relay failure.
package publisher

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ec-core/ec/election"
)

// AnnouncementTTL and TallyTTL set the "expiration" tag of each event
// kind, per spec.md §4.6.
const (
	AnnouncementTTL = 15 * 24 * time.Hour
	TallyTTL        = 5 * 24 * time.Hour
)

// kindAnnouncement and kindTally mirror bus.KindAnnouncement/KindTally;
// kept as local constants so this package does not import bus (cmd/ecd
// adapts bus.Bus to this package's Bus interface).
const (
	kindAnnouncement = 35000
	kindTally        = 35001
)

// maxAttempts and the backoff schedule below set the bounded retry
// policy: 5 attempts, waiting 1s, 2s, 4s and 8s between them (the
// schedule's last 16s entry is not reached with 5 attempts).
const maxAttempts = 5

var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// Bus is the subset of bus.Bus the publisher needs.
type Bus interface {
	PublishAddressable(ctx context.Context, ev AddressableEvent) error
}

// AddressableEvent mirrors bus.AddressableEvent so this package does
// not need to import bus directly; publisher.Publisher's Bus argument
// is adapted by the caller (cmd/ecd) to satisfy this interface.
type AddressableEvent struct {
	Kind       int
	Identifier string
	Content    string
	ExpiresAt  int64
}

// Registry is the subset of registry.Registry the publisher needs to
// read an election's current state before building an event.
type Registry interface {
	WithElection(electionID string, fn func(*election.Election) error) error
}

// Publisher republishes announcement/tally events on demand, retrying
// each publish attempt in its own goroutine so a slow or unreachable
// relay set never blocks the caller (the status engine's sweep, or the
// protocol engine's ballot handler).
type Publisher struct {
	bus Bus
	reg Registry
	now func() int64
}

// New constructs a Publisher.
func New(bus Bus, reg Registry, now func() int64) *Publisher {
	return &Publisher{bus: bus, reg: reg, now: now}
}

// RepublishAnnouncement builds and publishes the current announcement
// for electionID, retrying with backoff in a background goroutine.
// Satisfies status.Republisher.
func (p *Publisher) RepublishAnnouncement(electionID string) {
	var view election.AnnouncementView
	err := p.reg.WithElection(electionID, func(e *election.Election) error {
		view = e.Announcement()
		return nil
	})
	if err != nil {
		log.Printf("publisher: load election %s for announcement: %v", electionID, err)
		return
	}

	content, err := json.Marshal(view)
	if err != nil {
		log.Printf("publisher: marshal announcement for %s: %v", electionID, err)
		return
	}

	ev := AddressableEvent{
		Kind:       kindAnnouncement,
		Identifier: electionID,
		Content:    string(content),
		ExpiresAt:  election.ExpirationTag(p.now(), AnnouncementTTL),
	}
	go p.publishWithRetry(ev)
}

// RepublishTally builds and publishes the current tally for
// electionID. Satisfies protocol.TallyPublisher.
func (p *Publisher) RepublishTally(electionID string) {
	var rows []election.TallyRow
	err := p.reg.WithElection(electionID, func(e *election.Election) error {
		rows = election.SortedTally(e.Tally, e.Candidates)
		return nil
	})
	if err != nil {
		log.Printf("publisher: load election %s for tally: %v", electionID, err)
		return
	}

	content, err := json.Marshal(rows)
	if err != nil {
		log.Printf("publisher: marshal tally for %s: %v", electionID, err)
		return
	}

	ev := AddressableEvent{
		Kind:       kindTally,
		Identifier: electionID,
		Content:    string(content),
		ExpiresAt:  election.ExpirationTag(p.now(), TallyTTL),
	}
	go p.publishWithRetry(ev)
}

func (p *Publisher) publishWithRetry(ev AddressableEvent) {
	ctx := context.Background()
	traceID := uuid.NewString()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoffSchedule[attempt-1])
		}
		if err := p.bus.PublishAddressable(ctx, ev); err != nil {
			lastErr = err
			log.Printf("publisher[%s]: attempt %d/%d publishing %s (kind %d) failed: %v",
				traceID, attempt+1, maxAttempts, ev.Identifier, ev.Kind, err)
			continue
		}
		log.Printf("publisher[%s]: published %s (kind %d) on attempt %d", traceID, ev.Identifier, ev.Kind, attempt+1)
		return
	}
	log.Printf("publisher[%s]: giving up on %s (kind %d) after %d attempts: %v",
		traceID, ev.Identifier, ev.Kind, maxAttempts, lastErr)
}
