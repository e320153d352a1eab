// Package election defines the Election aggregate: its status machine,
// candidate set, and the invariants the registry and store must preserve.
package election

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ec-core/ec/ecerr"
)

// Status is one of the four lifecycle states of an election.
type Status string

const (
	StatusOpen       Status = "Open"
	StatusInProgress Status = "InProgress"
	StatusFinished   Status = "Finished"
	StatusCancelled  Status = "Cancelled"
)

// Candidate is a single race entry. IDs are 1..=255 and unique within an
// election.
type Candidate struct {
	ID   uint8  `json:"id"`
	Name string `json:"name"`
}

// Election is the aggregate C3 owns live and C2 persists durably. All
// fields are mutated only through the methods below, which enforce
// spec invariants; callers outside this package must hold the entry's
// lock (registry.WithElection) before calling any of them.
type Election struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Status    Status `json:"status"`

	Candidates []Candidate `json:"candidates"`

	// RSAPublicKeyRef is the DER-encoded, base64 RSA public key of the
	// EC, attached to every election so clients never need an
	// out-of-band key lookup.
	RSAPublicKeyRef string `json:"rsa_public_key"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`

	// AuthorizedVoters, ConsumedFingerprints and Tally mirror the
	// Store's election_voters/consumed_fingerprints/tallies tables in
	// memory so the Registry can answer hot-path questions (is this
	// voter authorized? has this fingerprint been spent?) without a
	// store round trip. They are independent per election (invariant
	// 2) and are only ever mutated under the entry's lock.
	AuthorizedVoters     map[string]bool  `json:"-"`
	ConsumedFingerprints map[string]bool  `json:"-"`
	Tally                map[uint8]uint32 `json:"-"`
}

const idAlphabet = "0123456789abcdef"
const idLength = 4

// NewID generates a short printable election identifier drawn from a
// restricted hex-like alphabet, the same shape the original
// nanoid!(4, alnum-hex) call produced — just implemented directly on
// crypto/rand since no pack library owns this four-line concern.
func NewID() (string, error) {
	out := make([]byte, idLength)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate election id: %w", err)
		}
		out[i] = idAlphabet[n.Int64()]
	}
	return string(out), nil
}

// New constructs a fresh Open election, rejecting candidate lists
// with a zero or duplicate id. adminapi's AddElection handler relies
// on this check for candidate ids; store hydration builds elections
// directly and does not go through New.
func New(id, name string, startTime, endTime int64, candidates []Candidate, rsaPubKey string, now int64) (*Election, error) {
	if err := ValidateCandidates(candidates); err != nil {
		return nil, err
	}
	e := &Election{
		ID:                   id,
		Name:                 name,
		StartTime:            startTime,
		EndTime:              endTime,
		Status:               StatusOpen,
		Candidates:           append([]Candidate(nil), candidates...),
		RSAPublicKeyRef:      rsaPubKey,
		CreatedAt:            now,
		UpdatedAt:            now,
		AuthorizedVoters:     make(map[string]bool),
		ConsumedFingerprints: make(map[string]bool),
		Tally:                make(map[uint8]uint32, len(candidates)),
	}
	return e, nil
}

// ValidateCandidates checks invariant 1: unique ids in 1..=255.
func ValidateCandidates(candidates []Candidate) error {
	seen := make(map[uint8]bool, len(candidates))
	for _, c := range candidates {
		if c.ID == 0 {
			return fmt.Errorf("%w: candidate id must be 1..=255", ecerr.ErrInvalidArgument)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate candidate id %d", ecerr.ErrInvalidArgument, c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

// HasCandidate reports whether id names a candidate of this election.
func (e *Election) HasCandidate(id uint8) bool {
	for _, c := range e.Candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}

// AddCandidate inserts a new candidate, failing if the id is already
// used or out of range.
func (e *Election) AddCandidate(c Candidate, now int64) error {
	if c.ID == 0 {
		return fmt.Errorf("%w: candidate id must be 1..=255", ecerr.ErrInvalidArgument)
	}
	if e.HasCandidate(c.ID) {
		return fmt.Errorf("%w: candidate id %d already used", ecerr.ErrDuplicate, c.ID)
	}
	e.Candidates = append(e.Candidates, c)
	e.UpdatedAt = now
	return nil
}

// IsAuthorizedVoter reports whether pubkey may request a blind
// signature for this election.
func (e *Election) IsAuthorizedVoter(pubkey string) bool {
	return e.AuthorizedVoters[pubkey]
}

// AuthorizeVoter adds pubkey to the authorized set. It is idempotent:
// calling it twice with the same pubkey is not an error and leaves the
// set unchanged the second time, reporting false on the no-op call.
func (e *Election) AuthorizeVoter(pubkey string) (added bool) {
	if e.AuthorizedVoters == nil {
		e.AuthorizedVoters = make(map[string]bool)
	}
	if e.AuthorizedVoters[pubkey] {
		return false
	}
	e.AuthorizedVoters[pubkey] = true
	return true
}

// HasFingerprint reports whether fingerprint has already been
// redeemed by an accepted ballot.
func (e *Election) HasFingerprint(fingerprint string) bool {
	return e.ConsumedFingerprints[fingerprint]
}

// RecordFingerprint marks fingerprint as consumed and increments the
// tally for candidateID. It must only be called after the Store has
// durably committed the same change in the same logical operation
// (see store.RecordBallot) so the in-memory mirror never runs ahead of
// the durable image.
func (e *Election) RecordFingerprint(fingerprint string, candidateID uint8) {
	if e.ConsumedFingerprints == nil {
		e.ConsumedFingerprints = make(map[string]bool)
	}
	if e.Tally == nil {
		e.Tally = make(map[uint8]uint32)
	}
	e.ConsumedFingerprints[fingerprint] = true
	e.Tally[candidateID]++
}

// TargetStatus computes the status the election should be in at wall
// clock "now", a pure function of now/start/end (plus the absorbing
// Cancelled state), per spec.md §4.4's "deterministic function of
// now, start_time, end_time" rule.
func (e *Election) TargetStatus(now int64) Status {
	if e.Status == StatusCancelled {
		return StatusCancelled
	}
	switch {
	case now < e.StartTime:
		return StatusOpen
	case now < e.EndTime:
		return StatusInProgress
	default:
		return StatusFinished
	}
}

// AdvanceStatus applies TargetStatus(now) if it differs from the
// current status, and reports whether a change happened (so the
// caller knows whether to persist + re-announce).
func (e *Election) AdvanceStatus(now int64) bool {
	target := e.TargetStatus(now)
	if target == e.Status {
		return false
	}
	e.Status = target
	e.UpdatedAt = now
	return true
}

// Cancel transitions Open/InProgress -> Cancelled. Calling it a second
// time returns ErrInvalidTransition (idempotence law from spec.md §8).
func (e *Election) Cancel(now int64) error {
	if e.Status != StatusOpen && e.Status != StatusInProgress {
		return fmt.Errorf("%w: election %s is %s", ecerr.ErrInvalidTransition, e.ID, e.Status)
	}
	e.Status = StatusCancelled
	e.UpdatedAt = now
	return nil
}

// AcceptsIssuance reports whether blind-signature issuance is allowed
// (spec.md invariant 6).
func (e *Election) AcceptsIssuance() bool {
	return e.Status == StatusOpen || e.Status == StatusInProgress
}

// AcceptsBallots reports whether ballot acceptance is allowed (spec.md
// invariant 6).
func (e *Election) AcceptsBallots() bool {
	return e.Status == StatusInProgress
}

// TallyRow is one line of a published tally: a candidate id and its
// vote count. It marshals as a bare [candidate_id, count] pair, per
// spec.md §4.6/§8's tally wire format (e.g. [[1,1],[2,0]]), not as a
// keyed object.
type TallyRow struct {
	CandidateID uint8
	Count       uint32
}

// MarshalJSON emits r as [candidate_id, count].
func (r TallyRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint32{uint32(r.CandidateID), r.Count})
}

// SortedTally orders rows descending by count, ties broken by
// ascending candidate id, per spec.md §4.6's tally-event ordering
// rule.
func SortedTally(counts map[uint8]uint32, candidates []Candidate) []TallyRow {
	rows := make([]TallyRow, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, TallyRow{CandidateID: c.ID, Count: counts[c.ID]})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].CandidateID < rows[j].CandidateID
	})
	return rows
}

// AnnouncementView is the election content published over the bus:
// everything except authorized_voters, consumed_fingerprints and
// tally (spec.md §4.6).
type AnnouncementView struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	StartTime  int64       `json:"start_time"`
	EndTime    int64       `json:"end_time"`
	Status     Status      `json:"status"`
	Candidates []Candidate `json:"candidates"`
	RSAPubKey  string      `json:"rsa_pub_key"`
	CreatedAt  int64       `json:"created_at"`
	UpdatedAt  int64       `json:"updated_at"`
}

// Announcement builds the public view of e.
func (e *Election) Announcement() AnnouncementView {
	return AnnouncementView{
		ID:         e.ID,
		Name:       e.Name,
		StartTime:  e.StartTime,
		EndTime:    e.EndTime,
		Status:     e.Status,
		Candidates: append([]Candidate(nil), e.Candidates...),
		RSAPubKey:  e.RSAPublicKeyRef,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

// ExpirationTag returns the Unix timestamp d after createdAt, used for
// the bus event "expiration" tag (15 days for announcements, 5 days
// for tallies per spec.md §4.6).
func ExpirationTag(createdAt int64, d time.Duration) int64 {
	return createdAt + int64(d.Seconds())
}
