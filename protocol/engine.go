package protocol

import (
	"context"
	"encoding/hex"
	"log"

	"golang.org/x/crypto/sha3"

	"github.com/ec-core/ec/ecerr"
	"github.com/ec-core/ec/election"
	"github.com/ec-core/ec/registry"
)

// LogFingerprint returns a short, non-reversible SHA3-256-derived
// fingerprint of s suitable for app.log, so voter pubkeys and ballot
// fingerprints never appear there in full.
func LogFingerprint(s string) string {
	sum := sha3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// Store is the subset of store.Store the engine needs to persist
// accepted ballots durably in the same operation that updates the
// in-memory mirror.
type Store interface {
	RecordBallot(electionID, fingerprint string, candidateID uint8) error
}

// Sender delivers a gift-wrapped reply to a voter. Satisfied by
// bus.Bus. Keeping this as a narrow interface (rather than importing
// bus directly) keeps the dependency one-directional: bus never needs
// to know about protocol.
type Sender interface {
	SendGiftWrapped(ctx context.Context, recipientPubkey string, kind int, content string) error
}

// TallyPublisher is notified after a ballot is accepted so it can
// republish the election's tally event. Satisfied by
// publisher.Publisher.
type TallyPublisher interface {
	RepublishTally(electionID string)
}

// Engine handles decoded inbound messages against the live registry,
// the durable store, the sign/verify worker pool, and the bus.
type Engine struct {
	registry *registry.Registry
	store    Store
	pool     *Pool
	sender   Sender
	tallyPub TallyPublisher
	now      func() int64
}

// NewEngine constructs an Engine.
func NewEngine(reg *registry.Registry, store Store, pool *Pool, sender Sender, tallyPub TallyPublisher, now func() int64) *Engine {
	return &Engine{registry: reg, store: store, pool: pool, sender: sender, tallyPub: tallyPub, now: now}
}

// HandleInbound dispatches a decoded message from senderPubkey to the
// issuance or ballot path. Errors are logged and swallowed, mirroring
// the original implementation's main event loop, which never lets one
// malformed or rejected message interrupt processing of the next.
func (eng *Engine) HandleInbound(ctx context.Context, senderPubkey string, msg Message) {
	switch msg.Kind {
	case KindIssuance:
		eng.handleIssuance(ctx, senderPubkey, msg)
	case KindBallot:
		eng.handleBallot(ctx, senderPubkey, msg)
	default:
		log.Printf("protocol: unknown message kind %d from %s", msg.Kind, LogFingerprint(senderPubkey))
	}
}

// handleIssuance services a kind-1 blind signature request. If
// msg.ElectionID is set, only that election is tried; otherwise every
// registered election is tried in turn, matching the original
// implementation's "legacy token request without election_id" fallback
// kept for backward compatibility (see spec.md §4.5.1).
func (eng *Engine) handleIssuance(ctx context.Context, voterPubkey string, msg Message) {
	blinded, err := decodeBase64Field(msg.Payload)
	if err != nil {
		log.Printf("protocol: issuance from %s: %v", LogFingerprint(voterPubkey), err)
		return
	}

	ids := eng.candidateElectionIDs(msg.ElectionID)
	var signature []byte
	var issuedFor string
	for _, id := range ids {
		err := eng.registry.WithElection(id, func(e *election.Election) error {
			if !e.AcceptsIssuance() {
				return ecerr.ErrElectionClosed
			}
			if !e.IsAuthorizedVoter(voterPubkey) {
				return ecerr.ErrNotAuthorized
			}
			sig, signErr := eng.pool.Sign(ctx, blinded)
			if signErr != nil {
				return signErr
			}
			signature = sig
			issuedFor = id
			return nil
		})
		if err == nil {
			break
		}
		if msg.ElectionID != nil {
			log.Printf("protocol: issuance for election %s from %s rejected: %v", id, LogFingerprint(voterPubkey), err)
		}
	}

	if signature == nil {
		if msg.ElectionID != nil {
			log.Printf("protocol: voter %s not authorized for election %s", LogFingerprint(voterPubkey), *msg.ElectionID)
		} else {
			log.Printf("protocol: voter %s not authorized for any election", LogFingerprint(voterPubkey))
		}
		return
	}

	response := NewResponse(msg.ID, encodeBase64Field(signature))
	content, err := response.Encode()
	if err != nil {
		log.Printf("protocol: encode issuance response for %s: %v", LogFingerprint(voterPubkey), err)
		return
	}
	if err := eng.sender.SendGiftWrapped(ctx, voterPubkey, int(KindIssuance), content); err != nil {
		log.Printf("protocol: send issuance response to %s (election %s): %v", LogFingerprint(voterPubkey), issuedFor, err)
		return
	}
	log.Printf("protocol: issued token for election %s to %s", issuedFor, LogFingerprint(voterPubkey))
}

// handleBallot services a kind-2 completed ballot. The token's
// signature is checked once before trying any election, since it is
// independent of which election ultimately accepts the ballot;
// acceptance itself (status, candidate validity, double-vote check)
// is still tried per-election for legacy no-election_id messages.
func (eng *Engine) handleBallot(ctx context.Context, voterPubkey string, msg Message) {
	ballot, err := ParseBallotPayload(msg.Payload)
	if err != nil {
		log.Printf("protocol: ballot from %s: %v", LogFingerprint(voterPubkey), err)
		return
	}

	if err := eng.pool.Verify(ctx, ballot.Fingerprint, ballot.Randomizer, ballot.Token); err != nil {
		log.Printf("protocol: ballot from %s failed signature check: %v", LogFingerprint(voterPubkey), err)
		return
	}

	fingerprint := ballot.FingerprintKey()
	ids := eng.candidateElectionIDs(msg.ElectionID)
	var acceptedFor string
	for _, id := range ids {
		err := eng.registry.WithElection(id, func(e *election.Election) error {
			if !e.AcceptsBallots() {
				return ecerr.ErrElectionNotAcceptingBallots
			}
			if !e.HasCandidate(ballot.CandidateID) {
				return ecerr.ErrUnknownCandidate
			}
			if e.HasFingerprint(fingerprint) {
				return ecerr.ErrAlreadyVoted
			}
			if err := eng.store.RecordBallot(id, fingerprint, ballot.CandidateID); err != nil {
				return err
			}
			e.RecordFingerprint(fingerprint, ballot.CandidateID)
			acceptedFor = id
			return nil
		})
		if err == nil {
			break
		}
		if msg.ElectionID != nil {
			log.Printf("protocol: ballot for election %s from %s rejected: %v", id, LogFingerprint(voterPubkey), err)
		}
	}

	if acceptedFor == "" {
		if msg.ElectionID != nil {
			log.Printf("protocol: ballot not accepted for election %s", *msg.ElectionID)
		} else {
			log.Printf("protocol: ballot not accepted by any election")
		}
		return
	}

	log.Printf("protocol: vote accepted for election %s", acceptedFor)
	if eng.tallyPub != nil {
		eng.tallyPub.RepublishTally(acceptedFor)
	}
}

// candidateElectionIDs returns the single id to try if explicit is
// non-nil, or every registered election id otherwise (the legacy
// fallback path).
func (eng *Engine) candidateElectionIDs(explicit *string) []string {
	if explicit != nil {
		return []string{*explicit}
	}
	return eng.registry.SnapshotIDs()
}
