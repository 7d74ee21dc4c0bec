package reid

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// SSHKeyClaim renders an Ed25519 public key as an OpenSSH authorized-key
// line for use as an SSHKEY claim.
func SSHKeyClaim(publicKey ed25519.PublicKey) (Key, error) {
	sshKey, err := ssh.NewPublicKey(publicKey)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshKey)))
	return Key{Type: KeyEd25519, Value: line}, nil
}

// ParseSSHKeyClaim returns the SSH public key held by an SSHKEY claim value.
func ParseSSHKeyClaim(k Key) (ssh.PublicKey, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(k.Value))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if pub.Type() != ssh.KeyAlgoED25519 {
		return nil, fmt.Errorf("%w: ssh key type %s", ErrInvalidKey, pub.Type())
	}
	return pub, nil
}

// WireGuardKeyClaim encodes a 32-byte WireGuard public key the way
// wg(8) prints it.
func WireGuardKeyClaim(key []byte) (Key, error) {
	if len(key) != 32 {
		return Key{}, fmt.Errorf("%w: wireguard key size %d, want 32", ErrInvalidKey, len(key))
	}
	return Key{Type: KeyEd25519, Value: base64.StdEncoding.EncodeToString(key)}, nil
}

// X509Claim checks that pemText holds a certificate with an Ed25519 key
// and returns it as an X509 claim value.
func X509Claim(pemText string) (Key, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil || block.Type != "CERTIFICATE" {
		return Key{}, fmt.Errorf("%w: no CERTIFICATE block", ErrInvalidKey)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if _, ok := cert.PublicKey.(ed25519.PublicKey); !ok {
		return Key{}, fmt.Errorf("%w: certificate key type %T", ErrInvalidKey, cert.PublicKey)
	}
	return Key{Type: KeyEd25519, Value: pemText}, nil
}
