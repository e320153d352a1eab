// Package ecerr defines the error taxonomy shared by the store, registry,
// protocol engine and admin API so callers can tell conditions apart with
// errors.Is instead of string matching.
package ecerr

import "errors"

var (
	ErrNotFound                    = errors.New("not found")
	ErrInvalidArgument             = errors.New("invalid argument")
	ErrDuplicate                   = errors.New("duplicate")
	ErrInvalidTransition           = errors.New("invalid status transition")
	ErrElectionClosed              = errors.New("election closed")
	ErrElectionNotAcceptingBallots = errors.New("election not accepting ballots")
	ErrUnknownCandidate            = errors.New("unknown candidate")
	ErrInvalidToken                = errors.New("invalid token")
	ErrAlreadyVoted                = errors.New("already voted")
	ErrAlreadyConsumed             = errors.New("fingerprint already consumed")
	ErrNotAuthorized               = errors.New("not authorized")
	ErrMalformed                   = errors.New("malformed message")
	ErrInvalidPubkey               = errors.New("invalid pubkey")
)
