package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ec-core/ec/ecerr"
	"github.com/ec-core/ec/election"
)

func newTestElection(t *testing.T, id string) *election.Election {
	t.Helper()
	e, err := election.New(id, "Election "+id, 1000, 2000,
		[]election.Candidate{{ID: 1, Name: "A"}}, "pk", 500)
	require.NoError(t, err)
	return e
}

func TestWithElectionNotFound(t *testing.T) {
	r := New()
	err := r.WithElection("missing", func(*election.Election) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ecerr.ErrNotFound))
}

func TestInsertAndWithElectionMutates(t *testing.T) {
	r := New()
	r.Insert(newTestElection(t, "abcd"))

	err := r.WithElection("abcd", func(e *election.Election) error {
		e.AuthorizeVoter("voter-1")
		return nil
	})
	require.NoError(t, err)

	err = r.WithElection("abcd", func(e *election.Election) error {
		assert.True(t, e.IsAuthorizedVoter("voter-1"))
		return nil
	})
	require.NoError(t, err)
}

func TestSnapshotIDsReflectsInserts(t *testing.T) {
	r := New()
	r.Insert(newTestElection(t, "e1"))
	r.Insert(newTestElection(t, "e2"))

	ids := r.SnapshotIDs()
	assert.ElementsMatch(t, []string{"e1", "e2"}, ids)
}

func TestConcurrentAccessToDifferentElectionsDoesNotDeadlock(t *testing.T) {
	r := New()
	r.Insert(newTestElection(t, "e1"))
	r.Insert(newTestElection(t, "e2"))

	e1Entered := make(chan struct{})
	e1Release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		_ = r.WithElection("e1", func(e *election.Election) error {
			close(e1Entered)
			<-e1Release
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		<-e1Entered // e1's lock is held by the other goroutine the whole time
		err := r.WithElection("e2", func(e *election.Election) error { return nil })
		assert.NoError(t, err)
		close(e1Release)
	}()
	wg.Wait()
}

func TestGetReturnsAnnouncementView(t *testing.T) {
	r := New()
	r.Insert(newTestElection(t, "abcd"))

	view, err := r.Get("abcd")
	require.NoError(t, err)
	assert.Equal(t, "abcd", view.ID)
	assert.Equal(t, election.StatusOpen, view.Status)
}

func TestExists(t *testing.T) {
	r := New()
	assert.False(t, r.Exists("abcd"))
	r.Insert(newTestElection(t, "abcd"))
	assert.True(t, r.Exists("abcd"))
}
