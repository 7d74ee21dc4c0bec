package tlog

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"golang.org/x/mod/sumdb/note"
)

// Ensure Ed25519Signer can sign notes at compile time.
var _ note.Signer = (*Ed25519Signer)(nil)

// Ed25519Signer signs log checkpoints as c2sp.org/signed-note signatures.
type Ed25519Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	name       string
}

// NewEd25519Signer creates a checkpoint signer. An empty name defaults to
// log-<first 8 hex chars of the public key>.
func NewEd25519Signer(privateKey ed25519.PrivateKey, name string) (*Ed25519Signer, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(privateKey), ed25519.PrivateKeySize)
	}

	publicKey := privateKey.Public().(ed25519.PublicKey)

	if name == "" {
		name = fmt.Sprintf("log-%x", publicKey[:4])
	}

	return &Ed25519Signer{
		privateKey: privateKey,
		publicKey:  publicKey,
		name:       name,
	}, nil
}

// Name returns the key name that appears in signature lines.
func (s *Ed25519Signer) Name() string {
	return s.name
}

// Sign creates an Ed25519 signature over the note text.
func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.privateKey, data), nil
}

// KeyHash returns the key ID per the signed note format:
// SHA256(name + "\n" + 0x01 + public key)[:4].
func (s *Ed25519Signer) KeyHash() uint32 {
	encoded := append([]byte{0x01}, s.publicKey...)
	h := sha256.Sum256([]byte(s.name + "\n" + string(encoded)))
	return uint32(h[0])<<24 | uint32(h[1])<<16 | uint32(h[2])<<8 | uint32(h[3])
}

// PublicKey returns the Ed25519 public key.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// VerifierKey returns the note verifier key for publishing alongside the log.
func (s *Ed25519Signer) VerifierKey() (string, error) {
	return note.NewEd25519VerifierKey(s.name, s.publicKey)
}
