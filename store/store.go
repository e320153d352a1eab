// Package store is the durable single-writer image of every election:
// the same role sqlx/SQLite plays in the original implementation, here
// played by an embedded bbolt database so the whole EC ships as one
// binary with no external database to operate. Composite keys inside a
// handful of named buckets stand in for SQL tables; every bucket is
// keyed (or sub-keyed) by election id first so per-election data never
// collides with another election's rows (invariant 2).
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/ec-core/ec/ecerr"
	"github.com/ec-core/ec/election"
)

var (
	bucketElections            = []byte("elections")
	bucketCandidates           = []byte("candidates")
	bucketElectionVoters       = []byte("election_voters")
	bucketConsumedFingerprints = []byte("consumed_fingerprints")
	bucketTallies              = []byte("tallies")
)

var allBuckets = [][]byte{
	bucketElections,
	bucketCandidates,
	bucketElectionVoters,
	bucketConsumedFingerprints,
	bucketTallies,
}

// Store is the durable image of every election known to this EC. All
// methods are safe for concurrent use; bbolt serializes writers
// internally, matching spec.md §5's single-writer discipline.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures
// every bucket this package needs exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// electionRecord is the on-disk shape of the elections bucket; it
// excludes the voter/fingerprint/tally sets, which live in their own
// buckets so a single vote never rewrites the whole election row.
type electionRecord struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	StartTime       int64           `json:"start_time"`
	EndTime         int64           `json:"end_time"`
	Status          election.Status `json:"status"`
	RSAPublicKeyRef string          `json:"rsa_public_key"`
	CreatedAt       int64           `json:"created_at"`
	UpdatedAt       int64           `json:"updated_at"`
}

func candidateKey(electionID string, candidateID uint8) []byte {
	return []byte(fmt.Sprintf("%s/%03d", electionID, candidateID))
}

func voterKey(electionID, pubkey string) []byte {
	return []byte(electionID + "/" + pubkey)
}

func fingerprintKey(electionID, fingerprint string) []byte {
	return []byte(electionID + "/" + fingerprint)
}

func tallyKey(electionID string, candidateID uint8) []byte {
	return []byte(fmt.Sprintf("%s/%03d", electionID, candidateID))
}

// UpsertElection inserts or updates an election's row and its
// candidate rows, preserving the existing CreatedAt on update (the
// update_at/insert_or_update shape of the original database.rs
// upsert_election).
func (s *Store) UpsertElection(e *election.Election) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		eb := tx.Bucket(bucketElections)
		rec := electionRecord{
			ID:              e.ID,
			Name:            e.Name,
			StartTime:       e.StartTime,
			EndTime:         e.EndTime,
			Status:          e.Status,
			RSAPublicKeyRef: e.RSAPublicKeyRef,
			CreatedAt:       e.CreatedAt,
			UpdatedAt:       e.UpdatedAt,
		}
		if existing := eb.Get([]byte(e.ID)); existing != nil {
			var prev electionRecord
			if err := json.Unmarshal(existing, &prev); err == nil {
				rec.CreatedAt = prev.CreatedAt
			}
		}
		buf, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal election %s: %w", e.ID, err)
		}
		if err := eb.Put([]byte(e.ID), buf); err != nil {
			return err
		}
		return upsertCandidatesTx(tx, e.ID, e.Candidates)
	})
}

// UpsertCandidates inserts or updates the candidate rows of an
// election on its own, mirroring upsert_candidates's ON CONFLICT DO
// UPDATE semantics (a later AddCandidate call does not clobber an
// already-accumulated vote_count-equivalent, since counts live in
// bucketTallies, not here).
func (s *Store) UpsertCandidates(electionID string, candidates []election.Candidate) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return upsertCandidatesTx(tx, electionID, candidates)
	})
}

func upsertCandidatesTx(tx *bbolt.Tx, electionID string, candidates []election.Candidate) error {
	cb := tx.Bucket(bucketCandidates)
	for _, c := range candidates {
		buf, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal candidate %d of %s: %w", c.ID, electionID, err)
		}
		if err := cb.Put(candidateKey(electionID, c.ID), buf); err != nil {
			return err
		}
	}
	return nil
}

// AddVoter authorizes pubkey for electionID. It is idempotent: adding
// the same pubkey twice is not an error (the original save_election_voters
// used ON CONFLICT DO NOTHING for the same reason — admins re-running a
// batch import must not fail).
func (s *Store) AddVoter(electionID, pubkey string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketElectionVoters)
		return b.Put(voterKey(electionID, pubkey), []byte{1})
	})
}

// IsVoter reports whether pubkey is authorized for electionID.
func (s *Store) IsVoter(electionID, pubkey string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketElectionVoters)
		ok = b.Get(voterKey(electionID, pubkey)) != nil
		return nil
	})
	return ok, err
}

// RecordBallot atomically redeems fingerprint against electionID and
// increments candidateID's tally in a single bbolt transaction. If the
// fingerprint was already redeemed, the entire transaction is a no-op
// and ErrAlreadyConsumed is returned — the double-vote check and the
// tally update happen-or-don't-happen together, so a crash between
// them is impossible (spec.md §4.5.3 / invariant 4).
func (s *Store) RecordBallot(electionID, fingerprint string, candidateID uint8) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		fb := tx.Bucket(bucketConsumedFingerprints)
		key := fingerprintKey(electionID, fingerprint)
		if fb.Get(key) != nil {
			return ecerr.ErrAlreadyConsumed
		}
		if err := fb.Put(key, []byte{1}); err != nil {
			return err
		}
		tb := tx.Bucket(bucketTallies)
		tk := tallyKey(electionID, candidateID)
		var count uint32
		if existing := tb.Get(tk); existing != nil {
			count = binary.BigEndian.Uint32(existing)
		}
		count++
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, count)
		return tb.Put(tk, buf)
	})
}

// HasFingerprint reports whether fingerprint was already redeemed
// against electionID, without mutating anything.
func (s *Store) HasFingerprint(electionID, fingerprint string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConsumedFingerprints)
		ok = b.Get(fingerprintKey(electionID, fingerprint)) != nil
		return nil
	})
	return ok, err
}

// LoadElectionVoters returns every pubkey authorized for electionID.
func (s *Store) LoadElectionVoters(electionID string) (map[string]bool, error) {
	out := make(map[string]bool)
	prefix := []byte(electionID + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketElectionVoters).Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			out[strings.TrimPrefix(string(k), string(prefix))] = true
		}
		return nil
	})
	return out, err
}

// LoadConsumedFingerprints returns every fingerprint redeemed against
// electionID.
func (s *Store) LoadConsumedFingerprints(electionID string) (map[string]bool, error) {
	out := make(map[string]bool)
	prefix := []byte(electionID + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketConsumedFingerprints).Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			out[strings.TrimPrefix(string(k), string(prefix))] = true
		}
		return nil
	})
	return out, err
}

// LoadTally returns the current vote counts for electionID, keyed by
// candidate id.
func (s *Store) LoadTally(electionID string) (map[uint8]uint32, error) {
	out := make(map[uint8]uint32)
	prefix := []byte(electionID + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketTallies).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			id, err := candidateIDFromKey(k, prefix)
			if err != nil {
				return err
			}
			out[id] = binary.BigEndian.Uint32(v)
		}
		return nil
	})
	return out, err
}

// LoadCandidates returns the candidates of electionID in ascending id
// order.
func (s *Store) LoadCandidates(electionID string) ([]election.Candidate, error) {
	var out []election.Candidate
	prefix := []byte(electionID + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketCandidates).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var cand election.Candidate
			if err := json.Unmarshal(v, &cand); err != nil {
				return fmt.Errorf("unmarshal candidate %s: %w", k, err)
			}
			out = append(out, cand)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func candidateIDFromKey(key, prefix []byte) (uint8, error) {
	suffix := strings.TrimPrefix(string(key), string(prefix))
	var id int
	if _, err := fmt.Sscanf(suffix, "%03d", &id); err != nil {
		return 0, fmt.Errorf("parse candidate id from key %s: %w", key, err)
	}
	return uint8(id), nil
}

// LoadAllElections hydrates every election row into a fully populated
// *election.Election, joining in its candidates, authorized voters,
// consumed fingerprints and tally. This is the C3 Registry's startup
// path: after this call the Registry's in-memory view and the Store
// are identical (invariant 7), before any new events are processed.
func (s *Store) LoadAllElections() ([]*election.Election, error) {
	var recs []electionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketElections).ForEach(func(_, v []byte) error {
			var rec electionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal election: %w", err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	out := make([]*election.Election, 0, len(recs))
	for _, rec := range recs {
		candidates, err := s.LoadCandidates(rec.ID)
		if err != nil {
			return nil, err
		}
		voters, err := s.LoadElectionVoters(rec.ID)
		if err != nil {
			return nil, err
		}
		fingerprints, err := s.LoadConsumedFingerprints(rec.ID)
		if err != nil {
			return nil, err
		}
		tally, err := s.LoadTally(rec.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, &election.Election{
			ID:                   rec.ID,
			Name:                 rec.Name,
			StartTime:            rec.StartTime,
			EndTime:              rec.EndTime,
			Status:               rec.Status,
			Candidates:           candidates,
			RSAPublicKeyRef:      rec.RSAPublicKeyRef,
			CreatedAt:            rec.CreatedAt,
			UpdatedAt:            rec.UpdatedAt,
			AuthorizedVoters:     voters,
			ConsumedFingerprints: fingerprints,
			Tally:                tally,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// ListElections returns up to limit announcement views starting after
// offset elections (ordered by CreatedAt), mirroring get_elections's
// paging and its clamp of limit to [1, 1000] / default 100.
func (s *Store) ListElections(offset, limit int) ([]election.AnnouncementView, error) {
	all, err := s.LoadAllElections()
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []election.AnnouncementView{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	views := make([]election.AnnouncementView, 0, end-offset)
	for _, e := range all[offset:end] {
		views = append(views, e.Announcement())
	}
	return views, nil
}

// ListVoters returns up to limit voter pubkeys authorized for
// electionID, in deterministic (sorted) order starting after offset.
func (s *Store) ListVoters(electionID string, offset, limit int) ([]string, error) {
	voters, err := s.LoadElectionVoters(electionID)
	if err != nil {
		return nil, err
	}
	all := make([]string, 0, len(voters))
	for pk := range voters {
		all = append(all, pk)
	}
	sort.Strings(all)

	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []string{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// GetElection loads a single election by id, or ErrNotFound.
func (s *Store) GetElection(electionID string) (*election.Election, error) {
	all, err := s.LoadAllElections()
	if err != nil {
		return nil, err
	}
	for _, e := range all {
		if e.ID == electionID {
			return e, nil
		}
	}
	return nil, fmt.Errorf("election %s: %w", electionID, ecerr.ErrNotFound)
}
