package protocol

import (
	"crypto/rsa"
	"fmt"

	"github.com/cloudflare/circl/blindsign/blindrsa"

	"github.com/ec-core/ec/ecerr"
)

// rsaMode is the RFC 9474 variant this deployment uses. The original
// implementation's blind-rsa-signatures crate defaults to the
// randomized mode (callers always pass a MessageRandomizer), so the Go
// side uses the matching circl mode rather than the deterministic one.
const rsaMode = blindrsa.SHA384PSSRandomized

// Signer issues blind RSA signatures over voter-blinded nonce hashes.
// It never sees the unblinded nonce, which is the whole point of the
// blind-signature step: the EC signs without learning which token it
// signed for which candidate choice.
type Signer struct {
	signer blindrsa.Signer
}

// NewSigner builds a Signer from the EC's RSA private key.
func NewSigner(key *rsa.PrivateKey) (*Signer, error) {
	return &Signer{signer: blindrsa.NewSigner(key)}, nil
}

// BlindSign signs blindedMessage (the voter's blinded nonce hash) and
// returns the blind signature, still blinded — only the requesting
// voter can unblind it into a verifiable token.
func (s *Signer) BlindSign(blindedMessage []byte) ([]byte, error) {
	sig, err := s.signer.BlindSign(blindedMessage)
	if err != nil {
		return nil, fmt.Errorf("blind sign: %w", err)
	}
	return sig, nil
}

// Verifier checks a finalized (unblinded) token against the nonce hash
// it was issued over.
type Verifier struct {
	pub *rsa.PublicKey
}

// NewVerifier builds a Verifier from the EC's RSA public key.
func NewVerifier(pub *rsa.PublicKey) *Verifier {
	return &Verifier{pub: pub}
}

// VerifyToken checks that token is a valid signature over fingerprint
// under the randomized RFC 9474 mode, given the randomizer the voter
// used when blinding. A failure here means either a forged token or a
// fingerprint that does not match what was actually signed.
func (v *Verifier) VerifyToken(fingerprint, randomizer, token []byte) error {
	verifier, err := blindrsa.NewVerifier(rsaMode, v.pub)
	if err != nil {
		return fmt.Errorf("construct blind verifier: %w", err)
	}
	prepared := make([]byte, 0, len(randomizer)+len(fingerprint))
	prepared = append(prepared, randomizer...)
	prepared = append(prepared, fingerprint...)
	if err := verifier.Verify(prepared, token); err != nil {
		return fmt.Errorf("%w: %v", ecerr.ErrInvalidToken, err)
	}
	return nil
}
