// Package reid implements identity records: signed assertions binding the
// hash of an Ed25519 public key to an expiration, a list of claimed keys
// and a list of real-world anchors.
//
// A record is signed over its canonical bytes (see CanonicalBytes), which
// cover the id, claims, anchors and expiration. The revoked flag and the
// proof-of-work field are not signed.
package reid

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Record is an identity record.
type Record struct {
	// ID is SHA-256 of the owner's raw public key. It is fixed at creation;
	// a different key pair needs a new record.
	ID []byte
	// ProofOfWork is reserved for admission control and carries no meaning yet.
	ProofOfWork []byte
	// Expiration is when consumers should stop trusting the record. The log
	// does not enforce it.
	Expiration time.Time
	Signature  []byte
	Claims     []Claim
	Anchors    []Anchor
	Revoked    bool
}

// New creates a record for the given key pair and signs it with empty
// claims and anchors. The expiration is kept in UTC at second precision,
// which is what the serialized form can represent.
func New(publicKey ed25519.PublicKey, privateKey ed25519.PrivateKey, expiration time.Time) (*Record, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key size %d, want %d", ErrInvalidKey, len(publicKey), ed25519.PublicKeySize)
	}

	r := &Record{
		ID:         DeriveID(publicKey),
		Expiration: expiration.UTC().Truncate(time.Second),
	}
	if _, err := r.Resign(privateKey); err != nil {
		return nil, fmt.Errorf("sign new record: %w", err)
	}
	return r, nil
}

// AppendClaim adds a claim. The signature is not updated; call Resign
// before publishing.
func (r *Record) AppendClaim(claimType ClaimType, key Key) {
	r.Claims = append(r.Claims, Claim{Type: claimType, Key: key})
}

// AppendAnchor adds an anchor. The signature is not updated; call Resign
// before publishing.
func (r *Record) AppendAnchor(anchorType AnchorType, value string) {
	r.Anchors = append(r.Anchors, Anchor{Type: anchorType, Value: value})
}

// Revoke marks the record revoked. The flag is outside the signed bytes,
// so the existing signature stays valid.
func (r *Record) Revoke() {
	r.Revoked = true
}

// SignedBytes returns the canonical bytes of the record's current fields.
func (r *Record) SignedBytes() []byte {
	return CanonicalBytes(r.ID, r.Claims, r.Anchors, r.Expiration)
}

// Resign recomputes the signature from the current fields and stores it.
func (r *Record) Resign(privateKey ed25519.PrivateKey) ([]byte, error) {
	sig, err := Sign(privateKey, r.SignedBytes())
	if err != nil {
		return nil, err
	}
	r.Signature = sig
	return sig, nil
}

// Verify checks the signature against publicKey. It does not check that
// publicKey hashes to r.ID; see BindsID.
func (r *Record) Verify(publicKey ed25519.PublicKey) bool {
	return Verify(publicKey, r.SignedBytes(), r.Signature)
}

// IsExpired reports whether the record has expired at now.
func (r *Record) IsExpired(now time.Time) bool {
	return !now.Before(r.Expiration)
}

// HasID reports whether the record's id equals id.
func (r *Record) HasID(id []byte) bool {
	return bytes.Equal(r.ID, id)
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.ID = slices.Clone(r.ID)
	c.ProofOfWork = slices.Clone(r.ProofOfWork)
	c.Signature = slices.Clone(r.Signature)
	c.Claims = slices.Clone(r.Claims)
	c.Anchors = slices.Clone(r.Anchors)
	return &c
}

// String renders the record for humans.
func (r *Record) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", base64.StdEncoding.EncodeToString(r.ID))
	if r.ProofOfWork != nil {
		fmt.Fprintf(&b, "pow: %s\n", base64.StdEncoding.EncodeToString(r.ProofOfWork))
	} else {
		b.WriteString("pow: None\n")
	}
	fmt.Fprintf(&b, "expiration: %s\n", r.Expiration.UTC().Format(ExpirationLayout))
	fmt.Fprintf(&b, "sig: %s\n", base64.StdEncoding.EncodeToString(r.Signature))

	b.WriteString("claims:\n")
	if r.Claims == nil {
		b.WriteString("None\n")
	}
	for _, c := range r.Claims {
		fmt.Fprintf(&b, "- %s: %s\n", c.Type, c.Key.Value)
	}

	b.WriteString("anchors:\n")
	if r.Anchors == nil {
		b.WriteString("None\n")
	}
	for _, a := range r.Anchors {
		fmt.Fprintf(&b, "- %s: %s\n", a.Type, a.Value)
	}

	if r.Revoked {
		b.WriteString("revoked: True\n")
	} else {
		b.WriteString("revoked: False\n")
	}
	return b.String()
}
