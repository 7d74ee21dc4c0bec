package tlog_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/relves/graphlog/internal/storage/sqlite"
	"github.com/relves/graphlog/pkg/reid"
	"github.com/relves/graphlog/pkg/tlog"
)

type keyPair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newKeyPair(t *testing.T) keyPair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return keyPair{pub: pub, priv: priv}
}

func newRecord(t *testing.T, kp keyPair, anchors ...string) *reid.Record {
	t.Helper()
	r, err := reid.New(kp.pub, kp.priv, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	for _, a := range anchors {
		r.AppendAnchor(reid.AnchorDNS, a)
	}
	_, err = r.Resign(kp.priv)
	require.NoError(t, err)
	return r
}

// memBackend records every Append call.
type memBackend struct {
	mu      sync.Mutex
	lines   []string
	calls   int
	failing bool
	closed  bool
}

func (b *memBackend) Append(_ context.Context, lines []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.failing {
		return errors.New("disk full")
	}
	b.lines = append(b.lines, lines...)
	return nil
}

func (b *memBackend) Load(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...), nil
}

func (b *memBackend) Close() error {
	b.closed = true
	return nil
}

func (b *memBackend) setFailing(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = v
}

func TestLog_EmptyAccessors(t *testing.T) {
	l := tlog.New()

	_, ok := l.Head()
	assert.False(t, ok)
	_, ok = l.Tail()
	assert.False(t, ok)
	assert.Empty(t, l.TailN(3))
	_, ok = l.LookupID(make([]byte, reid.IDSize))
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len())
}

func TestLog_AppendIsMonotonic(t *testing.T) {
	l := tlog.New()
	var appended []*reid.Record

	for i := 0; i < 5; i++ {
		r := newRecord(t, newKeyPair(t))
		index, err := l.Append(r)
		require.NoError(t, err)
		appended = append(appended, r)

		assert.Equal(t, uint64(i), index)
		assert.Equal(t, i+1, l.Len())

		tail, ok := l.Tail()
		require.True(t, ok)
		assert.Equal(t, r, tail)
	}

	head, ok := l.Head()
	require.True(t, ok)
	assert.Equal(t, appended[0], head)
}

func TestLog_TailN(t *testing.T) {
	l := tlog.New()
	var appended []*reid.Record
	for i := 0; i < 5; i++ {
		r := newRecord(t, newKeyPair(t))
		_, err := l.Append(r)
		require.NoError(t, err)
		appended = append(appended, r)
	}

	assert.Equal(t, appended[2:], l.TailN(3))
	assert.Equal(t, appended, l.TailN(5))
	assert.Equal(t, appended, l.TailN(50))
	assert.Equal(t, appended[4:], l.TailN(1))
	assert.Empty(t, l.TailN(0))
	assert.Empty(t, l.TailN(-1))
}

func TestLog_SearchPrefersNewest(t *testing.T) {
	kp := newKeyPair(t)
	l := tlog.New()

	first := newRecord(t, kp, "old.example.com")
	_, err := l.Append(first)
	require.NoError(t, err)

	_, err = l.Append(newRecord(t, newKeyPair(t)))
	require.NoError(t, err)

	second := newRecord(t, kp, "new.example.com")
	second.Revoke()
	_, err = l.Append(second)
	require.NoError(t, err)

	_, err = l.Append(newRecord(t, newKeyPair(t)))
	require.NoError(t, err)

	got, ok := l.LookupID(reid.DeriveID(kp.pub))
	require.True(t, ok)
	assert.Equal(t, second, got)
	assert.True(t, got.Revoked)

	got, ok = l.Search(func(r *reid.Record) bool {
		return len(r.Anchors) == 1 && r.Anchors[0].Value == "old.example.com"
	})
	require.True(t, ok)
	assert.Equal(t, first, got)
}

func TestLog_ReturnsCopies(t *testing.T) {
	l := tlog.New()
	r := newRecord(t, newKeyPair(t), "example.com")
	_, err := l.Append(r)
	require.NoError(t, err)

	r.Anchors[0].Value = "mutated-after-append"
	tail, _ := l.Tail()
	assert.Equal(t, "example.com", tail.Anchors[0].Value)

	tail.Anchors[0].Value = "mutated-after-read"
	again, _ := l.Tail()
	assert.Equal(t, "example.com", again.Anchors[0].Value)
}

func TestLog_PersistWithoutBackend(t *testing.T) {
	l := tlog.New()
	_, err := l.Append(newRecord(t, newKeyPair(t)))
	require.NoError(t, err)

	n, err := l.Persist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, l.Pending())
}

func TestLog_PersistIsIdempotent(t *testing.T) {
	b := &memBackend{}
	l := tlog.New(tlog.WithBackend(b))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Append(newRecord(t, newKeyPair(t)))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, l.Pending())
	assert.Equal(t, 0, l.Flushed())

	n, err := l.Persist(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, l.Flushed())
	assert.Equal(t, 1, b.calls)

	n, err = l.Persist(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 3, l.Flushed())
	assert.Equal(t, 1, b.calls, "second persist must not write")

	_, err = l.Append(newRecord(t, newKeyPair(t)))
	require.NoError(t, err)
	n, err = l.Persist(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, b.lines, 4)
}

func TestLog_PersistFailureKeepsEntriesPending(t *testing.T) {
	b := &memBackend{failing: true}
	l := tlog.New(tlog.WithBackend(b))
	ctx := context.Background()

	index, err := l.AppendAndPersist(ctx, newRecord(t, newKeyPair(t)))
	require.ErrorIs(t, err, tlog.ErrPersist)
	assert.Equal(t, uint64(0), index)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 0, l.Flushed())
	assert.Equal(t, 1, l.Pending())

	b.setFailing(false)
	index, err = l.AppendAndPersist(ctx, newRecord(t, newKeyPair(t)))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), index)
	assert.Equal(t, 2, l.Flushed())
	assert.Len(t, b.lines, 2)
}

func TestLoadFromFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.b64")
	ctx := context.Background()

	l, err := tlog.LoadFromFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())

	var appended []*reid.Record
	for i := 0; i < 4; i++ {
		r := newRecord(t, newKeyPair(t), "example.com")
		_, err := l.AppendAndPersist(ctx, r)
		require.NoError(t, err)
		appended = append(appended, r)
	}
	cpBefore, err := l.Checkpoint("test")
	require.NoError(t, err)
	require.NoError(t, l.Close(ctx))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	require.Len(t, lines, 4)
	for i, line := range lines {
		decoded, err := reid.Decode(line)
		require.NoError(t, err)
		assert.Equal(t, appended[i], decoded)
	}

	reloaded, err := tlog.LoadFromFile(ctx, path)
	require.NoError(t, err)
	defer reloaded.Close(ctx)

	assert.Equal(t, 4, reloaded.Len())
	assert.Equal(t, 4, reloaded.Flushed())
	assert.Equal(t, appended, reloaded.TailN(4))

	cpAfter, err := reloaded.Checkpoint("test")
	require.NoError(t, err)
	assert.Equal(t, cpBefore, cpAfter)
}

func TestLoadFromFile_CorruptLineIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.b64")
	good, err := newRecord(t, newKeyPair(t)).Encode()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(good+"\n!!!corrupt!!!\n"+good+"\n"), 0644))

	l, err := tlog.LoadFromFile(context.Background(), path)
	assert.ErrorIs(t, err, tlog.ErrCorrupt)
	assert.Nil(t, l)
}

func TestLoad_SQLiteBackend(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "log.db")

	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	l, err := tlog.Load(ctx, store)
	require.NoError(t, err)

	r := newRecord(t, newKeyPair(t))
	_, err = l.AppendAndPersist(ctx, r)
	require.NoError(t, err)
	require.NoError(t, l.Close(ctx))

	store, err = sqlite.Open(dbPath)
	require.NoError(t, err)
	reloaded, err := tlog.Load(ctx, store)
	require.NoError(t, err)
	defer reloaded.Close(ctx)

	tail, ok := reloaded.Tail()
	require.True(t, ok)
	assert.Equal(t, r, tail)
}

func TestLog_ConcurrentAppends(t *testing.T) {
	b := &memBackend{}
	l := tlog.New(tlog.WithBackend(b))
	ctx := context.Background()

	const writers = 8
	const perWriter = 10
	records := make([][]*reid.Record, writers)
	for w := range records {
		for i := 0; i < perWriter; i++ {
			records[w] = append(records[w], newRecord(t, newKeyPair(t)))
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for _, r := range records[w] {
				_, err := l.AppendAndPersist(ctx, r)
				assert.NoError(t, err)
				_, _ = l.Tail()
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, writers*perWriter, l.Len())
	assert.Equal(t, writers*perWriter, l.Flushed())
	assert.Len(t, b.lines, writers*perWriter)
}

func TestLog_Checkpoint(t *testing.T) {
	l := tlog.New()

	cp, err := l.Checkpoint("graphlog")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cp.Size)
	assert.Equal(t, rfc6962.DefaultHasher.EmptyRoot(), cp.Hash)

	r1 := newRecord(t, newKeyPair(t))
	r2 := newRecord(t, newKeyPair(t))
	_, err = l.Append(r1)
	require.NoError(t, err)
	_, err = l.Append(r2)
	require.NoError(t, err)

	line1, err := r1.Encode()
	require.NoError(t, err)
	line2, err := r2.Encode()
	require.NoError(t, err)

	h := rfc6962.DefaultHasher
	want := h.HashChildren(h.HashLeaf([]byte(line1)), h.HashLeaf([]byte(line2)))

	cp, err = l.Checkpoint("graphlog")
	require.NoError(t, err)
	assert.Equal(t, "graphlog", cp.Origin)
	assert.Equal(t, uint64(2), cp.Size)
	assert.Equal(t, want, cp.Hash)
}

func TestLog_CloseClosesBackend(t *testing.T) {
	b := &memBackend{}
	l := tlog.New(tlog.WithBackend(b))
	_, err := l.Append(newRecord(t, newKeyPair(t)))
	require.NoError(t, err)

	require.NoError(t, l.Close(context.Background()))
	assert.True(t, b.closed)
	assert.Len(t, b.lines, 1, "close flushes pending entries")
}
