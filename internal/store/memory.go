package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/serroba/next-number/internal/nextnumber"
	"github.com/serroba/next-number/internal/ratelimit"
)

type windowKey struct {
	key      string
	duration ratelimit.Minutes
}

// MemoryBackend keeps windows and history in process memory.
// One session at a time holds a transaction: it starts with the first
// statement and ends with Commit or Close, so sessions never interleave.
type MemoryBackend struct {
	txSlot   chan struct{}
	mu       sync.Mutex
	windows  map[windowKey]ratelimit.StoredWindow
	queries  []nextnumber.Query
	requests []nextnumber.Request
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		txSlot:  make(chan struct{}, 1),
		windows: make(map[windowKey]ratelimit.StoredWindow),
	}
}

// Open starts a new session.
func (b *MemoryBackend) Open(_ context.Context) (nextnumber.Session, error) {
	return &MemorySession{backend: b}, nil
}

// Ping always succeeds.
func (b *MemoryBackend) Ping(_ context.Context) error {
	return nil
}

// Shutdown is a no-op for MemoryBackend.
func (b *MemoryBackend) Shutdown() error {
	return nil
}

// Migrate is a no-op for MemoryBackend.
func (b *MemoryBackend) Migrate(_ context.Context) error {
	return nil
}

// WindowCount returns the number of committed windows.
func (b *MemoryBackend) WindowCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.windows)
}

// Window returns the committed window for the pair, if any.
func (b *MemoryBackend) Window(key string, duration ratelimit.Minutes) (ratelimit.StoredWindow, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.windows[windowKey{key: key, duration: duration}]

	return w, ok
}

// Queries returns the committed query history.
func (b *MemoryBackend) Queries() []nextnumber.Query {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.queries)
}

// Requests returns the committed request log.
func (b *MemoryBackend) Requests() []nextnumber.Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.requests)
}

type memoryTx struct {
	windows  map[windowKey]ratelimit.StoredWindow
	queries  []nextnumber.Query
	requests []nextnumber.Request
}

// MemorySession is a nextnumber.Session over a MemoryBackend.
type MemorySession struct {
	backend *MemoryBackend
	tx      *memoryTx
	closed  bool
}

// begin waits for the backend's transaction slot on the first statement.
func (s *MemorySession) begin(ctx context.Context) (*memoryTx, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	if s.tx != nil {
		return s.tx, nil
	}

	select {
	case s.backend.txSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("begin memory transaction: %w", ctx.Err())
	}

	s.backend.mu.Lock()
	s.tx = &memoryTx{windows: maps.Clone(s.backend.windows)}
	s.backend.mu.Unlock()

	return s.tx, nil
}

func (s *MemorySession) end() {
	s.tx = nil
	<-s.backend.txSlot
}

func (s *MemorySession) GetWindow(
	ctx context.Context, key string, duration ratelimit.Minutes,
) (ratelimit.StoredWindow, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return ratelimit.StoredWindow{}, err
	}

	w, ok := tx.windows[windowKey{key: key, duration: duration}]
	if !ok {
		return ratelimit.StoredWindow{}, ratelimit.ErrWindowNotFound
	}

	return w, nil
}

func (s *MemorySession) CreateWindow(
	ctx context.Context, key string, duration ratelimit.Minutes, expiry time.Time,
) (ratelimit.StoredWindow, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return ratelimit.StoredWindow{}, err
	}

	wk := windowKey{key: key, duration: duration}
	if _, exists := tx.windows[wk]; exists {
		return ratelimit.StoredWindow{}, fmt.Errorf("%w: %s/%d", ratelimit.ErrWindowExists, key, duration)
	}

	w := ratelimit.StoredWindow{Key: key, Duration: duration, Value: 0, Expiry: expiry.UTC()}
	tx.windows[wk] = w

	return w, nil
}

func (s *MemorySession) IncrementWindows(ctx context.Context, key string, by int64) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	for wk, w := range tx.windows {
		if wk.key == key {
			w.Value += by
			tx.windows[wk] = w
		}
	}

	return nil
}

func (s *MemorySession) DeleteWindow(ctx context.Context, key string, duration ratelimit.Minutes) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	delete(tx.windows, windowKey{key: key, duration: duration})

	return nil
}

func (s *MemorySession) Prune(ctx context.Context, maxWindows int64) (int64, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}

	excess := int64(len(tx.windows)) - maxWindows
	if excess <= 0 {
		return 0, nil
	}

	keys := slices.SortedFunc(maps.Keys(tx.windows), func(a, b windowKey) int {
		return tx.windows[a].Expiry.Compare(tx.windows[b].Expiry)
	})

	for _, wk := range keys[:excess] {
		delete(tx.windows, wk)
	}

	return excess, nil
}

func (s *MemorySession) SaveQuery(ctx context.Context, query *nextnumber.Query) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	tx.queries = append(tx.queries, *query)

	return nil
}

func (s *MemorySession) SaveRequest(ctx context.Context, req *nextnumber.Request) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	tx.requests = append(tx.requests, *req)

	return nil
}

func (s *MemorySession) Commit(_ context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}

	if s.tx == nil {
		return nil
	}

	s.backend.mu.Lock()
	s.backend.windows = s.tx.windows
	s.backend.queries = append(s.backend.queries, s.tx.queries...)
	s.backend.requests = append(s.backend.requests, s.tx.requests...)
	s.backend.mu.Unlock()

	s.end()

	return nil
}

// Close discards uncommitted writes.
func (s *MemorySession) Close() error {
	if s.tx != nil {
		s.end()
	}

	s.closed = true

	return nil
}

// Compile-time checks.
var (
	_ Backend            = (*MemoryBackend)(nil)
	_ Migrator           = (*MemoryBackend)(nil)
	_ nextnumber.Session = (*MemorySession)(nil)
)
