package reid

import (
	"time"
)

// ExpirationLayout is RFC 3339 with a numeric zone offset, so UTC renders
// as "+00:00" rather than "Z". Expirations are kept at whole seconds.
const ExpirationLayout = "2006-01-02T15:04:05-07:00"

// CanonicalBytes returns the bytes covered by a record signature:
//
//	id || (claimType keyType keyValue)* || (anchorType anchorValue)* || rfc3339(expiration)
//
// Fields are concatenated without length prefixes or delimiters. Two
// different claim/anchor sets can therefore produce the same bytes (for
// example a claim value ending in a byte equal to an anchor tag). This is
// encoding version 1 and is kept as is for compatibility with records
// already in circulation; any framed encoding would be a new version.
func CanonicalBytes(id []byte, claims []Claim, anchors []Anchor, expiration time.Time) []byte {
	exp := expiration.UTC().Format(ExpirationLayout)

	size := len(id) + len(exp)
	for _, c := range claims {
		size += 2 + len(c.Key.Value)
	}
	for _, a := range anchors {
		size += 1 + len(a.Value)
	}

	data := make([]byte, 0, size)
	data = append(data, id...)
	for _, c := range claims {
		data = append(data, byte(c.Type), byte(c.Key.Type))
		data = append(data, c.Key.Value...)
	}
	for _, a := range anchors {
		data = append(data, byte(a.Type))
		data = append(data, a.Value...)
	}
	data = append(data, exp...)
	return data
}
