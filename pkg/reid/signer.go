package reid

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned when key material cannot be used for signing
// or verification.
var ErrInvalidKey = errors.New("invalid key")

// IDSize is the length of a record id (SHA-256).
const IDSize = sha256.Size

// Sign creates an Ed25519 signature over msg. Ed25519 hashes internally,
// so msg is signed as is.
func Sign(privateKey ed25519.PrivateKey, msg []byte) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key size %d, want %d", ErrInvalidKey, len(privateKey), ed25519.PrivateKeySize)
	}
	return ed25519.Sign(privateKey, msg), nil
}

// Verify reports whether sig is a valid signature of msg by publicKey.
// Malformed keys or signatures simply fail verification.
func Verify(publicKey ed25519.PublicKey, msg, sig []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, msg, sig)
}

// DeriveID returns the record id for a public key: SHA-256 of the raw key bytes.
func DeriveID(publicKey ed25519.PublicKey) []byte {
	h := sha256.Sum256(publicKey)
	return h[:]
}

// BindsID reports whether publicKey hashes to id. A signature that verifies
// under a key not bound to the record id proves nothing about the record.
func BindsID(publicKey ed25519.PublicKey, id []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return subtle.ConstantTimeCompare(DeriveID(publicKey), id) == 1
}

// MarshalPublicKeyPEM encodes publicKey as a PKIX "PUBLIC KEY" PEM block.
func MarshalPublicKeyPEM(publicKey ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKey accepts a PKIX PEM public key, or the standard base64
// encoding of one, and returns the Ed25519 key it contains.
func ParsePublicKey(material string) (ed25519.PublicKey, error) {
	material = strings.TrimSpace(material)
	if !strings.HasPrefix(material, "-----BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(material)
		if err != nil {
			return nil, fmt.Errorf("%w: neither PEM nor base64 PEM", ErrInvalidKey)
		}
		material = string(decoded)
	}

	block, _ := pem.Decode([]byte(material))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, parsed)
	}
	return pub, nil
}
