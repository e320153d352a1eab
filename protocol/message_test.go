package protocol

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ec-core/ec/ecerr"
)

func TestDecodeMessageRejectsUnknownKind(t *testing.T) {
	_, err := DecodeMessage(`{"id":"x","kind":9,"payload":""}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ecerr.ErrMalformed))
}

func TestDecodeMessageRoundTrip(t *testing.T) {
	electionID := "abcd"
	msg := Message{ID: "req-1", Kind: KindIssuance, Payload: "cGF5bG9hZA==", ElectionID: &electionID}
	encoded, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.Kind, decoded.Kind)
	require.NotNil(t, decoded.ElectionID)
	assert.Equal(t, electionID, *decoded.ElectionID)
}

func TestParseBallotPayloadHappyPath(t *testing.T) {
	fp := base64.StdEncoding.EncodeToString([]byte("fingerprint-bytes"))
	token := base64.StdEncoding.EncodeToString([]byte("token-bytes"))
	rnd := base64.StdEncoding.EncodeToString(make([]byte, randomizerLen))
	payload := fp + ":" + token + ":" + rnd + ":3"

	b, err := ParseBallotPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("fingerprint-bytes"), b.Fingerprint)
	assert.Equal(t, []byte("token-bytes"), b.Token)
	assert.Equal(t, uint8(3), b.CandidateID)
	assert.Equal(t, hex.EncodeToString([]byte("fingerprint-bytes")), b.FingerprintKey())
}

func TestParseBallotPayloadRejectsWrongPartCount(t *testing.T) {
	_, err := ParseBallotPayload("a:b:c")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ecerr.ErrMalformed))
}

func TestParseBallotPayloadRejectsShortRandomizer(t *testing.T) {
	fp := base64.StdEncoding.EncodeToString([]byte("fp"))
	token := base64.StdEncoding.EncodeToString([]byte("tok"))
	rnd := base64.StdEncoding.EncodeToString([]byte("too-short"))
	_, err := ParseBallotPayload(fp + ":" + token + ":" + rnd + ":1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ecerr.ErrMalformed))
}
