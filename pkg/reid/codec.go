package reid

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDecode is returned when an encoded record cannot be decoded.
var ErrDecode = errors.New("decode record")

// recordJSON is the serialized form. The expiration is unix seconds.
type recordJSON struct {
	ID          []byte   `json:"id"`
	ProofOfWork []byte   `json:"pow"`
	Expiration  int64    `json:"expiration"`
	Signature   []byte   `json:"sig"`
	Claims      []Claim  `json:"claims"`
	Anchors     []Anchor `json:"anchors"`
	Revoked     bool     `json:"revoked"`
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		ID:          r.ID,
		ProofOfWork: r.ProofOfWork,
		Expiration:  r.Expiration.Unix(),
		Signature:   r.Signature,
		Claims:      r.Claims,
		Anchors:     r.Anchors,
		Revoked:     r.Revoked,
	})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record{
		ID:          raw.ID,
		ProofOfWork: raw.ProofOfWork,
		Expiration:  time.Unix(raw.Expiration, 0).UTC(),
		Signature:   raw.Signature,
		Claims:      raw.Claims,
		Anchors:     raw.Anchors,
		Revoked:     raw.Revoked,
	}
	return nil
}

// Encode returns the transport and storage form of the record:
// standard base64 of its JSON.
func (r *Record) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode parses the output of Encode. Any failure yields an error
// wrapping ErrDecode and no record.
func Decode(encoded string) (*Record, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrDecode, err)
	}
	if len(r.ID) != IDSize {
		return nil, fmt.Errorf("%w: id length %d, want %d", ErrDecode, len(r.ID), IDSize)
	}
	return &r, nil
}
