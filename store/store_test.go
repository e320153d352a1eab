package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ec-core/ec/ecerr"
	"github.com/ec-core/ec/election"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ec.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedElection(t *testing.T, s *Store) *election.Election {
	t.Helper()
	e, err := election.New("abcd", "Test Election", 1000, 2000,
		[]election.Candidate{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}},
		"pubkey-der-b64", 500)
	require.NoError(t, err)
	require.NoError(t, s.UpsertElection(e))
	return e
}

func TestAddVoterIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	seedElection(t, s)

	require.NoError(t, s.AddVoter("abcd", "voter-1"))
	require.NoError(t, s.AddVoter("abcd", "voter-1"))

	voters, err := s.LoadElectionVoters("abcd")
	require.NoError(t, err)
	assert.Len(t, voters, 1)
	assert.True(t, voters["voter-1"])
}

func TestRecordBallotRejectsDoubleRedemption(t *testing.T) {
	s := openTestStore(t)
	seedElection(t, s)

	require.NoError(t, s.RecordBallot("abcd", "fp-1", 1))
	err := s.RecordBallot("abcd", "fp-1", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ecerr.ErrAlreadyConsumed)

	tally, err := s.LoadTally("abcd")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), tally[1])
}

func TestRecordBallotIncrementsTallyAcrossCandidates(t *testing.T) {
	s := openTestStore(t)
	seedElection(t, s)

	require.NoError(t, s.RecordBallot("abcd", "fp-1", 1))
	require.NoError(t, s.RecordBallot("abcd", "fp-2", 1))
	require.NoError(t, s.RecordBallot("abcd", "fp-3", 2))

	tally, err := s.LoadTally("abcd")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), tally[1])
	assert.Equal(t, uint32(1), tally[2])
}

func TestLoadAllElectionsHydratesFullState(t *testing.T) {
	s := openTestStore(t)
	seedElection(t, s)

	require.NoError(t, s.AddVoter("abcd", "voter-1"))
	require.NoError(t, s.AddVoter("abcd", "voter-2"))
	require.NoError(t, s.RecordBallot("abcd", "fp-1", 1))

	all, err := s.LoadAllElections()
	require.NoError(t, err)
	require.Len(t, all, 1)

	got := all[0]
	assert.Equal(t, "abcd", got.ID)
	assert.Equal(t, "Test Election", got.Name)
	assert.Len(t, got.Candidates, 2)
	assert.Len(t, got.AuthorizedVoters, 2)
	assert.True(t, got.HasFingerprint("fp-1"))
	assert.Equal(t, uint32(1), got.Tally[1])
}

func TestUpsertElectionPreservesCreatedAtOnUpdate(t *testing.T) {
	s := openTestStore(t)
	e := seedElection(t, s)

	e.Status = election.StatusInProgress
	e.UpdatedAt = 1600
	require.NoError(t, s.UpsertElection(e))

	got, err := s.GetElection("abcd")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.CreatedAt)
	assert.Equal(t, int64(1600), got.UpdatedAt)
	assert.Equal(t, election.StatusInProgress, got.Status)
}

func TestGetElectionNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetElection("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ecerr.ErrNotFound)
}

func TestListElectionsPaging(t *testing.T) {
	s := openTestStore(t)
	for i, id := range []string{"e001", "e002", "e003"} {
		e, err := election.New(id, "Election "+id, 1000, 2000,
			[]election.Candidate{{ID: 1, Name: "A"}}, "pk", int64(100+i))
		require.NoError(t, err)
		require.NoError(t, s.UpsertElection(e))
	}

	page, err := s.ListElections(0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "e001", page[0].ID)
	assert.Equal(t, "e002", page[1].ID)

	page2, err := s.ListElections(2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "e003", page2[0].ID)
}

func TestListVotersPaging(t *testing.T) {
	s := openTestStore(t)
	seedElection(t, s)
	for _, v := range []string{"voter-a", "voter-b", "voter-c"} {
		require.NoError(t, s.AddVoter("abcd", v))
	}

	page, err := s.ListVoters("abcd", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"voter-a", "voter-b"}, page)

	page2, err := s.ListVoters("abcd", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"voter-c"}, page2)
}

func TestFingerprintsAndVotersAreIsolatedPerElection(t *testing.T) {
	s := openTestStore(t)
	seedElection(t, s)
	e2, err := election.New("wxyz", "Other", 1000, 2000,
		[]election.Candidate{{ID: 1, Name: "A"}}, "pk", 500)
	require.NoError(t, err)
	require.NoError(t, s.UpsertElection(e2))

	require.NoError(t, s.AddVoter("abcd", "shared-pubkey"))
	ok, err := s.IsVoter("wxyz", "shared-pubkey")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RecordBallot("abcd", "fp-shared", 1))
	ok, err = s.HasFingerprint("wxyz", "fp-shared")
	require.NoError(t, err)
	assert.False(t, ok)
}
