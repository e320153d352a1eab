// Package protocol decodes gift-wrapped envelopes into the two
// message kinds this system defines, and drives their handling:
// blind-signature issuance and ballot acceptance. The wire shape
// (base64 payloads, a colon-joined ballot payload, an optional
// election_id field for backward compatibility with single-election
// deployments) is taken directly from the original implementation's
// Message/BlindTokenRequest types in main.rs.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ec-core/ec/ecerr"
)

// Kind discriminates the two request variants carried inside a rumor.
type Kind int

const (
	// KindIssuance is a request for a blind RSA signature over a
	// voter-chosen nonce hash.
	KindIssuance Kind = 1
	// KindBallot is a completed, unblinded ballot redeeming a
	// previously issued token.
	KindBallot Kind = 2
)

// Message is the decoded rumor content. Id lets a response be matched
// to its request by clients that fire multiple concurrent requests;
// ElectionID is nil for legacy clients that predate multi-election
// support, which is handled by trying every open election in turn.
type Message struct {
	ID         string  `json:"id"`
	Kind       Kind    `json:"kind"`
	Payload    string  `json:"payload"`
	ElectionID *string `json:"election_id,omitempty"`
}

// DecodeMessage parses a rumor's JSON content into a Message.
func DecodeMessage(content string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return Message{}, fmt.Errorf("%w: decode message: %v", ecerr.ErrMalformed, err)
	}
	if m.Kind != KindIssuance && m.Kind != KindBallot {
		return Message{}, fmt.Errorf("%w: unknown message kind %d", ecerr.ErrMalformed, m.Kind)
	}
	return m, nil
}

// NewResponse builds a reply Message carrying the same id as the
// request it answers, kind 1 (the original implementation always
// replies with kind 1 regardless of the request kind, since only
// issuance produces a direct reply).
func NewResponse(requestID, payload string) Message {
	return Message{ID: requestID, Kind: KindIssuance, Payload: payload}
}

// Encode serializes m back to JSON for embedding as a rumor's content.
func (m Message) Encode() (string, error) {
	buf, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return string(buf), nil
}
