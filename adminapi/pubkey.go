package adminapi

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
)

// Secp256k1Validator checks that a hex string is a well-formed Nostr
// public key: the 32-byte x-only coordinate of a point on secp256k1,
// per BIP-340/NIP-01. It reuses go-ethereum's curve implementation
// (the same dependency the teacher's encryption/service.go uses for
// its own ECDSA keys) instead of adding a second curve library for a
// one-off validity check.
type Secp256k1Validator struct{}

// Valid reports whether pubkeyHex decodes to 32 bytes that are the
// x-coordinate of a valid secp256k1 point with even y (the BIP-340
// convention Nostr keys use). It tries both possible y parities since
// Nostr pubkeys carry no explicit sign bit.
func (Secp256k1Validator) Valid(pubkeyHex string) bool {
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(raw) != 32 {
		return false
	}
	for _, prefix := range []byte{0x02, 0x03} {
		compressed := append([]byte{prefix}, raw...)
		if _, err := crypto.DecompressPubkey(compressed); err == nil {
			return true
		}
	}
	return false
}
