package tlog

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/transparency-dev/merkle/rfc6962"
	"golang.org/x/mod/sumdb/note"
)

// Checkpoint commits to the first Size entries of the log.
type Checkpoint struct {
	Origin string
	Size   uint64
	// Hash is the RFC 6962 root over the encoded entries.
	Hash []byte
}

// Marshal renders the checkpoint body: origin, size and base64 root hash,
// one per line.
func (c Checkpoint) Marshal() []byte {
	return fmt.Appendf(nil, "%s\n%d\n%s\n", c.Origin, c.Size, base64.StdEncoding.EncodeToString(c.Hash))
}

// ParseCheckpoint parses the output of Marshal.
func ParseCheckpoint(text []byte) (Checkpoint, error) {
	lines := strings.SplitN(string(text), "\n", 4)
	if len(lines) < 4 || lines[3] != "" {
		return Checkpoint{}, fmt.Errorf("checkpoint: want 3 lines")
	}
	size, err := strconv.ParseUint(lines[1], 10, 64)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint size: %w", err)
	}
	hash, err := base64.StdEncoding.DecodeString(lines[2])
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint hash: %w", err)
	}
	if len(hash) != rfc6962.DefaultHasher.Size() {
		return Checkpoint{}, fmt.Errorf("checkpoint hash size %d", len(hash))
	}
	return Checkpoint{Origin: lines[0], Size: size, Hash: hash}, nil
}

// SignCheckpoint returns the checkpoint as a signed note.
func SignCheckpoint(c Checkpoint, signer note.Signer) ([]byte, error) {
	return note.Sign(&note.Note{Text: string(c.Marshal())}, signer)
}

// OpenCheckpoint verifies a signed checkpoint note and parses its body.
func OpenCheckpoint(msg []byte, verifier note.Verifier) (Checkpoint, error) {
	n, err := note.Open(msg, note.VerifierList(verifier))
	if err != nil {
		return Checkpoint{}, fmt.Errorf("open checkpoint note: %w", err)
	}
	return ParseCheckpoint([]byte(n.Text))
}
