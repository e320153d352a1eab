package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ec-core/ec/election"
)

type fakeBus struct {
	mu        sync.Mutex
	published []AddressableEvent
	failUntil int // fail the first failUntil attempts, then succeed
	calls     int
}

func (f *fakeBus) PublishAddressable(ctx context.Context, ev AddressableEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failUntil {
		return assert.AnError
	}
	f.published = append(f.published, ev)
	return nil
}

type fakeRegistry struct {
	e *election.Election
}

func (f *fakeRegistry) WithElection(electionID string, fn func(*election.Election) error) error {
	return fn(f.e)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRepublishAnnouncementPublishesCurrentView(t *testing.T) {
	e, err := election.New("abcd", "E1", 1000, 2000, []election.Candidate{{ID: 1, Name: "A"}}, "pk", 500)
	require.NoError(t, err)

	bus := &fakeBus{}
	reg := &fakeRegistry{e: e}
	pub := New(bus, reg, func() int64 { return 1000 })

	pub.RepublishAnnouncement("abcd")

	waitFor(t, 2*time.Second, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.published) == 1
	})
	assert.Equal(t, "abcd", bus.published[0].Identifier)
	assert.Equal(t, kindAnnouncement, bus.published[0].Kind)

	var view election.AnnouncementView
	require.NoError(t, json.Unmarshal([]byte(bus.published[0].Content), &view))
	assert.Equal(t, "abcd", view.ID)
	assert.Equal(t, "E1", view.Name)
}

func TestRepublishTallyPublishesSortedCounts(t *testing.T) {
	e, err := election.New("abcd", "E1", 1000, 2000,
		[]election.Candidate{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}, "pk", 500)
	require.NoError(t, err)
	e.RecordFingerprint("fp-1", 2)
	e.RecordFingerprint("fp-2", 2)
	e.RecordFingerprint("fp-3", 1)

	bus := &fakeBus{}
	reg := &fakeRegistry{e: e}
	pub := New(bus, reg, func() int64 { return 1000 })

	pub.RepublishTally("abcd")

	waitFor(t, 2*time.Second, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.published) == 1
	})
	assert.Equal(t, kindTally, bus.published[0].Kind)
	assert.JSONEq(t, `[[2,2],[1,1]]`, bus.published[0].Content)
}

func TestPublishWithRetryRecoversAfterTransientFailures(t *testing.T) {
	e, err := election.New("abcd", "E1", 1000, 2000, []election.Candidate{{ID: 1, Name: "A"}}, "pk", 500)
	require.NoError(t, err)

	bus := &fakeBus{failUntil: 2}
	reg := &fakeRegistry{e: e}
	pub := New(bus, reg, func() int64 { return 1000 })

	pub.RepublishAnnouncement("abcd")

	waitFor(t, 10*time.Second, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.published) == 1
	})
	assert.GreaterOrEqual(t, bus.calls, 3)
}
