package protocol

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ec-core/ec/ecerr"
)

// Ballot is a completed vote, decoded from a kind-2 message's
// colon-joined payload "h_n:token:randomizer:vote" — the exact wire
// format the original implementation's main.rs splits with
// payload.split(':').
type Ballot struct {
	Fingerprint []byte // h_n: the unblinded nonce hash, and this ballot's double-vote key
	Token       []byte // the blind RSA signature over Fingerprint
	Randomizer  []byte // the 32-byte RFC 9474 message randomizer
	CandidateID uint8
}

const randomizerLen = 32

// ParseBallotPayload decodes a kind-2 message payload into a Ballot.
func ParseBallotPayload(payload string) (Ballot, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 4 {
		return Ballot{}, fmt.Errorf("%w: ballot payload has %d parts, want 4", ecerr.ErrMalformed, len(parts))
	}

	fingerprint, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return Ballot{}, fmt.Errorf("%w: decode fingerprint: %v", ecerr.ErrMalformed, err)
	}
	token, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return Ballot{}, fmt.Errorf("%w: decode token: %v", ecerr.ErrMalformed, err)
	}
	randomizer, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return Ballot{}, fmt.Errorf("%w: decode randomizer: %v", ecerr.ErrMalformed, err)
	}
	if len(randomizer) != randomizerLen {
		return Ballot{}, fmt.Errorf("%w: randomizer is %d bytes, want %d", ecerr.ErrMalformed, len(randomizer), randomizerLen)
	}
	voteNum, err := strconv.ParseUint(parts[3], 10, 8)
	if err != nil {
		return Ballot{}, fmt.Errorf("%w: parse candidate id: %v", ecerr.ErrMalformed, err)
	}

	return Ballot{
		Fingerprint: fingerprint,
		Token:       token,
		Randomizer:  randomizer,
		CandidateID: uint8(voteNum),
	}, nil
}

// FingerprintKey returns the hex form of b.Fingerprint used as the
// double-vote key in the store and the in-memory election mirror,
// matching the fingerprint_hex column of the original schema.
func (b Ballot) FingerprintKey() string {
	return hex.EncodeToString(b.Fingerprint)
}
