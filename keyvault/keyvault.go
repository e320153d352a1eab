// Package keyvault loads the two pieces of key material this EC
// needs at startup: its Nostr identity (a secp256k1 private key) and
// its RSA blind-signature keypair. Both are read from environment
// variables; only the RSA keypair falls back to PEM files in the app
// directory, mirroring
// the original implementation's own NOSTR_PRIVATE_KEY /
// EC_PRIVATE_KEY+EC_PUBLIC_KEY / ec_private.pem+ec_public.pem
// precedence in main.rs.
package keyvault

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	envNostrPrivateKey = "NOSTR_PRIVATE_KEY"
	envRSAPrivateKey   = "EC_PRIVATE_KEY"
	envRSAPublicKey    = "EC_PUBLIC_KEY"

	rsaPrivateKeyFile = "ec_private.pem"
	rsaPublicKeyFile  = "ec_public.pem"
)

// NostrIdentity is the EC's own Nostr keypair, hex-encoded to match
// the wire format every other component (bus) expects.
type NostrIdentity struct {
	PrivateKeyHex string
	PublicKeyHex  string
}

// LoadNostrIdentity reads NOSTR_PRIVATE_KEY from the environment and
// derives the matching public key. Unlike the RSA keypair, there is no
// file fallback: an EC with no fixed Nostr identity would have its
// address change on every restart, which the original implementation
// also treats as a hard startup failure.
func LoadNostrIdentity() (NostrIdentity, error) {
	hexKey := os.Getenv(envNostrPrivateKey)
	if hexKey == "" {
		return NostrIdentity{}, fmt.Errorf("%s environment variable is required", envNostrPrivateKey)
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return NostrIdentity{}, fmt.Errorf("%s must be 32 bytes of hex", envNostrPrivateKey)
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return NostrIdentity{}, fmt.Errorf("parse %s: %w", envNostrPrivateKey, err)
	}
	pubBytes := crypto.FromECDSAPub(&key.PublicKey)
	// Nostr public keys are the 32-byte x-only coordinate (BIP-340),
	// bytes 1..33 of the uncompressed point encoding (after the 0x04
	// prefix, before the y coordinate).
	pubHex := hex.EncodeToString(pubBytes[1:33])
	return NostrIdentity{PrivateKeyHex: hexKey, PublicKeyHex: pubHex}, nil
}

// RSAKeyPair is the EC's blind-signature keypair, plus its DER/base64
// form for embedding in election announcements (spec.md §4.6 —
// clients must never need an out-of-band key lookup).
type RSAKeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
	// PublicDERBase64 is the DER-encoded, base64 public key string
	// published with every election.
	PublicDERBase64 string
}

// LoadRSAKeyPair loads the EC's RSA keypair, preferring
// EC_PRIVATE_KEY/EC_PUBLIC_KEY (PEM text) from the environment and
// falling back to ec_private.pem/ec_public.pem inside appDir.
func LoadRSAKeyPair(appDir string) (RSAKeyPair, error) {
	privPEM, pubPEM, err := rsaKeyPEMs(appDir)
	if err != nil {
		return RSAKeyPair{}, err
	}
	return parseRSAKeyPair(privPEM, pubPEM)
}

func rsaKeyPEMs(appDir string) (privPEM, pubPEM string, err error) {
	privPEM = os.Getenv(envRSAPrivateKey)
	pubPEM = os.Getenv(envRSAPublicKey)
	if privPEM != "" && pubPEM != "" {
		return privPEM, pubPEM, nil
	}

	privPath := filepath.Join(appDir, rsaPrivateKeyFile)
	pubPath := filepath.Join(appDir, rsaPublicKeyFile)
	privBytes, err := os.ReadFile(privPath)
	if err != nil {
		return "", "", fmt.Errorf("read RSA private key %s: %w", privPath, err)
	}
	pubBytes, err := os.ReadFile(pubPath)
	if err != nil {
		return "", "", fmt.Errorf("read RSA public key %s: %w", pubPath, err)
	}
	return string(privBytes), string(pubBytes), nil
}

func parseRSAKeyPair(privPEM, pubPEM string) (RSAKeyPair, error) {
	privBlock, _ := pem.Decode([]byte(privPEM))
	if privBlock == nil {
		return RSAKeyPair{}, fmt.Errorf("decode RSA private key PEM")
	}
	priv, err := x509.ParsePKCS1PrivateKey(privBlock.Bytes)
	if err != nil {
		key, err2 := x509.ParsePKCS8PrivateKey(privBlock.Bytes)
		if err2 != nil {
			return RSAKeyPair{}, fmt.Errorf("parse RSA private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return RSAKeyPair{}, fmt.Errorf("PKCS8 key is not RSA")
		}
		priv = rsaKey
	}

	pubBlock, _ := pem.Decode([]byte(pubPEM))
	if pubBlock == nil {
		return RSAKeyPair{}, fmt.Errorf("decode RSA public key PEM")
	}
	pubDER := pubBlock.Bytes
	pub, err := x509.ParsePKIXPublicKey(pubDER)
	if err != nil {
		return RSAKeyPair{}, fmt.Errorf("parse RSA public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return RSAKeyPair{}, fmt.Errorf("public key is not RSA")
	}

	return RSAKeyPair{
		Private:         priv,
		Public:          rsaPub,
		PublicDERBase64: base64.StdEncoding.EncodeToString(pubDER),
	}, nil
}

// GenerateRSAKeyPair creates a fresh RSA keypair and writes it to
// ec_private.pem/ec_public.pem inside appDir. The daemon never calls
// it: cmd/ecd fails at startup when no keys are present.
func GenerateRSAKeyPair(appDir string, bits int) (RSAKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return RSAKeyPair{}, fmt.Errorf("generate RSA key: %w", err)
	}

	privDER := x509.MarshalPKCS1PrivateKey(key)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privDER})

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return RSAKeyPair{}, fmt.Errorf("marshal RSA public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	if err := os.MkdirAll(appDir, 0700); err != nil {
		return RSAKeyPair{}, fmt.Errorf("create app directory %s: %w", appDir, err)
	}
	if err := os.WriteFile(filepath.Join(appDir, rsaPrivateKeyFile), privPEM, 0600); err != nil {
		return RSAKeyPair{}, fmt.Errorf("write RSA private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(appDir, rsaPublicKeyFile), pubPEM, 0644); err != nil {
		return RSAKeyPair{}, fmt.Errorf("write RSA public key: %w", err)
	}

	return RSAKeyPair{
		Private:         key,
		Public:          &key.PublicKey,
		PublicDERBase64: base64.StdEncoding.EncodeToString(pubDER),
	}, nil
}
