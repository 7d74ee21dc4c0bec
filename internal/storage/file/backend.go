// Package file stores log entries in a newline-delimited, append-only file.
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/relves/graphlog/internal/storage"
)

// Ensure Backend implements storage.Backend at compile time.
var _ storage.Backend = (*Backend)(nil)

// maxLineSize bounds a single persisted entry when loading.
const maxLineSize = 16 << 20

// Backend appends one entry per line to a file.
type Backend struct {
	path string

	mu       sync.Mutex
	f        *os.File
	syncFile func(*os.File) error
}

// Open returns a backend for path. The file and its directory are created
// on first append, so opening a path that does not exist yet is fine.
func Open(path string) (*Backend, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	return &Backend{path: path, syncFile: (*os.File).Sync}, nil
}

// Path returns the backing file path.
func (b *Backend) Path() string {
	return b.path
}

func (b *Backend) Append(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	for _, l := range lines {
		if strings.ContainsAny(l, "\r\n") {
			return fmt.Errorf("entry contains a line break")
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if b.f == nil {
		if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(b.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		b.f = f
	}

	info, err := b.f.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	offset := info.Size()

	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}

	// A failed batch is cut off again so that the file only ever holds
	// batches that were reported as written.
	if _, err := b.f.WriteString(sb.String()); err != nil {
		return b.rollback(offset, fmt.Errorf("write log file: %w", err))
	}
	if err := b.syncFile(b.f); err != nil {
		return b.rollback(offset, fmt.Errorf("sync log file: %w", err))
	}
	return nil
}

func (b *Backend) rollback(offset int64, cause error) error {
	if err := b.f.Truncate(offset); err != nil {
		return errors.Join(cause, fmt.Errorf("truncate log file: %w", err))
	}
	return cause
}

func (b *Backend) Load(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return lines, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}
