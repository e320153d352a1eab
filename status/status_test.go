package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ec-core/ec/election"
	"github.com/ec-core/ec/registry"
)

type fakeStore struct {
	upserts []string
	failAll bool
}

func (f *fakeStore) UpsertElection(e *election.Election) error {
	if f.failAll {
		return assert.AnError
	}
	f.upserts = append(f.upserts, e.ID)
	return nil
}

type fakeRepublisher struct {
	ids []string
}

func (f *fakeRepublisher) RepublishAnnouncement(electionID string) {
	f.ids = append(f.ids, electionID)
}

func newEngineAt(reg *registry.Registry, st Store, pub Republisher, at int64) *Engine {
	eng := New(reg, st, pub)
	eng.now = func() int64 { return at }
	return eng
}

func TestSweepAdvancesAndPersistsChangedElections(t *testing.T) {
	reg := registry.New()
	e, err := election.New("abcd", "E1", 1000, 2000,
		[]election.Candidate{{ID: 1, Name: "A"}}, "pk", 500)
	require.NoError(t, err)
	reg.Insert(e)

	st := &fakeStore{}
	pub := &fakeRepublisher{}
	eng := newEngineAt(reg, st, pub, 1500)

	eng.Sweep()

	assert.Equal(t, []string{"abcd"}, st.upserts)
	assert.Equal(t, []string{"abcd"}, pub.ids)

	view, err := reg.Get("abcd")
	require.NoError(t, err)
	assert.Equal(t, election.StatusInProgress, view.Status)
}

func TestSweepSkipsUnchangedElections(t *testing.T) {
	reg := registry.New()
	e, err := election.New("abcd", "E1", 1000, 2000,
		[]election.Candidate{{ID: 1, Name: "A"}}, "pk", 500)
	require.NoError(t, err)
	reg.Insert(e)

	st := &fakeStore{}
	pub := &fakeRepublisher{}
	eng := newEngineAt(reg, st, pub, 600)

	eng.Sweep()

	assert.Empty(t, st.upserts)
	assert.Empty(t, pub.ids)
}

func TestSweepRollsBackOnStoreFailure(t *testing.T) {
	reg := registry.New()
	e, err := election.New("abcd", "E1", 1000, 2000,
		[]election.Candidate{{ID: 1, Name: "A"}}, "pk", 500)
	require.NoError(t, err)
	reg.Insert(e)

	st := &fakeStore{failAll: true}
	pub := &fakeRepublisher{}
	eng := newEngineAt(reg, st, pub, 1500)

	eng.Sweep()

	assert.Empty(t, st.upserts)
	assert.Empty(t, pub.ids)

	view, err := reg.Get("abcd")
	require.NoError(t, err)
	assert.Equal(t, election.StatusOpen, view.Status)
}

func TestSweepNeverUnCancels(t *testing.T) {
	reg := registry.New()
	e, err := election.New("abcd", "E1", 1000, 2000,
		[]election.Candidate{{ID: 1, Name: "A"}}, "pk", 500)
	require.NoError(t, err)
	require.NoError(t, e.Cancel(600))
	reg.Insert(e)

	st := &fakeStore{}
	pub := &fakeRepublisher{}
	eng := newEngineAt(reg, st, pub, 1500)

	eng.Sweep()

	assert.Empty(t, st.upserts)
	view, err := reg.Get("abcd")
	require.NoError(t, err)
	assert.Equal(t, election.StatusCancelled, view.Status)
}
