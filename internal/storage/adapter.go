package storage

import (
	"context"
)

// Backend is durable, append-only storage for encoded log entries.
// Each entry is one line: base64(JSON(record)). Backends store lines
// verbatim; decoding and corruption checks happen in the log.
type Backend interface {
	// Append durably appends lines after any existing ones, in order.
	// On error none of the lines may be assumed durable.
	Append(ctx context.Context, lines []string) error

	// Load returns every stored line in append order.
	Load(ctx context.Context) ([]string, error)

	// Close releases the backend.
	Close() error
}
