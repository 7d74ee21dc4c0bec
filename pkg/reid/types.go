package reid

import (
	"fmt"
)

// ClaimType identifies what kind of key material a claim attests to.
// The numeric value is written into the signed bytes, so existing values
// must never be renumbered.
type ClaimType uint8

const (
	ClaimSSHKey ClaimType = iota
	ClaimX509
	ClaimWGKey
)

// KeyType identifies the algorithm of a claimed key.
type KeyType uint8

const (
	KeyEd25519 KeyType = iota
)

// AnchorType identifies the kind of real-world identifier an anchor carries.
type AnchorType uint8

const (
	AnchorDNS AnchorType = iota
	AnchorEmail
	AnchorPhone
	AnchorIPAddr
)

var claimTypeNames = map[ClaimType]string{
	ClaimSSHKey: "SSHKEY",
	ClaimX509:   "X509",
	ClaimWGKey:  "WGKEY",
}

var keyTypeNames = map[KeyType]string{
	KeyEd25519: "ED25519",
}

var anchorTypeNames = map[AnchorType]string{
	AnchorDNS:    "DNS",
	AnchorEmail:  "EMAIL",
	AnchorPhone:  "PHONE",
	AnchorIPAddr: "IPADDR",
}

func (t ClaimType) String() string {
	if s, ok := claimTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ClaimType(%d)", uint8(t))
}

func (t KeyType) String() string {
	if s, ok := keyTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("KeyType(%d)", uint8(t))
}

func (t AnchorType) String() string {
	if s, ok := anchorTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("AnchorType(%d)", uint8(t))
}

func (t ClaimType) MarshalText() ([]byte, error) {
	s, ok := claimTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown claim type %d", uint8(t))
	}
	return []byte(s), nil
}

func (t *ClaimType) UnmarshalText(text []byte) error {
	v, ok := lookupName(claimTypeNames, string(text))
	if !ok {
		return fmt.Errorf("unknown claim type %q", text)
	}
	*t = v
	return nil
}

func (t KeyType) MarshalText() ([]byte, error) {
	s, ok := keyTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown key type %d", uint8(t))
	}
	return []byte(s), nil
}

func (t *KeyType) UnmarshalText(text []byte) error {
	v, ok := lookupName(keyTypeNames, string(text))
	if !ok {
		return fmt.Errorf("unknown key type %q", text)
	}
	*t = v
	return nil
}

func (t AnchorType) MarshalText() ([]byte, error) {
	s, ok := anchorTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown anchor type %d", uint8(t))
	}
	return []byte(s), nil
}

func (t *AnchorType) UnmarshalText(text []byte) error {
	v, ok := lookupName(anchorTypeNames, string(text))
	if !ok {
		return fmt.Errorf("unknown anchor type %q", text)
	}
	*t = v
	return nil
}

func lookupName[T comparable](names map[T]string, name string) (T, bool) {
	for k, v := range names {
		if v == name {
			return k, true
		}
	}
	var zero T
	return zero, false
}

// Key is a piece of claimed key material. Value holds the textual
// (PEM, authorized-key or base64) rendering of the key.
type Key struct {
	Type  KeyType `json:"type"`
	Value string  `json:"value"`
}

// Claim attests key material held by the record owner.
type Claim struct {
	Type ClaimType `json:"type"`
	Key  Key       `json:"key"`
}

// Anchor associates a real-world identifier with the record.
type Anchor struct {
	Type  AnchorType `json:"type"`
	Value string     `json:"value"`
}
