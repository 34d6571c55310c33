package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/serroba/next-number/internal/nextnumber"
	"github.com/serroba/next-number/internal/ratelimit"
	"github.com/serroba/next-number/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backendFactory returns a backend whose tables exist and are empty.
type backendFactory func(t *testing.T) store.Backend

var contractExpiry = time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

func runSessionContract(t *testing.T, newBackend backendFactory) {
	t.Helper()

	t.Run("get missing window", func(t *testing.T) {
		s := openSession(t, newBackend(t))

		_, err := s.GetWindow(context.Background(), "api:missing", ratelimit.Hour)

		assert.ErrorIs(t, err, ratelimit.ErrWindowNotFound)
	})

	t.Run("create then get", func(t *testing.T) {
		s := openSession(t, newBackend(t))
		ctx := context.Background()

		created, err := s.CreateWindow(ctx, "api:query", ratelimit.Hour, contractExpiry)
		require.NoError(t, err)
		assert.Equal(t, int64(0), created.Value)
		assert.True(t, contractExpiry.Equal(created.Expiry))

		got, err := s.GetWindow(ctx, "api:query", ratelimit.Hour)
		require.NoError(t, err)
		assert.Equal(t, "api:query", got.Key)
		assert.Equal(t, ratelimit.Hour, got.Duration)
		assert.Equal(t, int64(0), got.Value)
		assert.True(t, contractExpiry.Equal(got.Expiry), "expiry %s != %s", got.Expiry, contractExpiry)
	})

	t.Run("create duplicate fails", func(t *testing.T) {
		s := openSession(t, newBackend(t))
		ctx := context.Background()

		_, err := s.CreateWindow(ctx, "api:dup", ratelimit.Day, contractExpiry)
		require.NoError(t, err)

		_, err = s.CreateWindow(ctx, "api:dup", ratelimit.Day, contractExpiry)
		assert.ErrorIs(t, err, ratelimit.ErrWindowExists)
	})

	t.Run("same key different durations coexist", func(t *testing.T) {
		s := openSession(t, newBackend(t))
		ctx := context.Background()

		_, err := s.CreateWindow(ctx, "api:multi", ratelimit.Hour, contractExpiry)
		require.NoError(t, err)

		_, err = s.CreateWindow(ctx, "api:multi", ratelimit.Day, contractExpiry)
		require.NoError(t, err)
	})

	t.Run("increment advances every duration of a key", func(t *testing.T) {
		s := openSession(t, newBackend(t))
		ctx := context.Background()

		for _, d := range []ratelimit.Minutes{ratelimit.Minute, ratelimit.Hour} {
			_, err := s.CreateWindow(ctx, "api:inc", d, contractExpiry)
			require.NoError(t, err)
		}

		_, err := s.CreateWindow(ctx, "api:other", ratelimit.Minute, contractExpiry)
		require.NoError(t, err)

		require.NoError(t, s.IncrementWindows(ctx, "api:inc", 3))

		for _, d := range []ratelimit.Minutes{ratelimit.Minute, ratelimit.Hour} {
			w, err := s.GetWindow(ctx, "api:inc", d)
			require.NoError(t, err)
			assert.Equal(t, int64(3), w.Value)
		}

		other, err := s.GetWindow(ctx, "api:other", ratelimit.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(0), other.Value, "other keys must not change")
	})

	t.Run("delete removes only the exact pair", func(t *testing.T) {
		s := openSession(t, newBackend(t))
		ctx := context.Background()

		for _, d := range []ratelimit.Minutes{ratelimit.Hour, ratelimit.Day} {
			_, err := s.CreateWindow(ctx, "api:del", d, contractExpiry)
			require.NoError(t, err)
		}

		require.NoError(t, s.DeleteWindow(ctx, "api:del", ratelimit.Hour))

		_, err := s.GetWindow(ctx, "api:del", ratelimit.Hour)
		assert.ErrorIs(t, err, ratelimit.ErrWindowNotFound)

		_, err = s.GetWindow(ctx, "api:del", ratelimit.Day)
		assert.NoError(t, err)
	})

	t.Run("delete missing is a no-op", func(t *testing.T) {
		s := openSession(t, newBackend(t))

		err := s.DeleteWindow(context.Background(), "api:nothing", ratelimit.Hour)

		assert.NoError(t, err)
	})

	t.Run("prune removes oldest expiry first", func(t *testing.T) {
		s := openSession(t, newBackend(t))
		ctx := context.Background()

		base := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
		keys := []string{"api:late", "api:early", "api:middle"}
		offsets := []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour}

		for i, key := range keys {
			_, err := s.CreateWindow(ctx, key, ratelimit.Hour, base.Add(offsets[i]))
			require.NoError(t, err)
		}

		pruned, err := s.Prune(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), pruned)

		_, err = s.GetWindow(ctx, "api:early", ratelimit.Hour)
		assert.ErrorIs(t, err, ratelimit.ErrWindowNotFound)

		for _, key := range []string{"api:late", "api:middle"} {
			_, err = s.GetWindow(ctx, key, ratelimit.Hour)
			assert.NoError(t, err, key)
		}

		pruned, err = s.Prune(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(0), pruned)
	})

	t.Run("committed writes are visible to other sessions", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()

		writer := openSession(t, backend)
		_, err := writer.CreateWindow(ctx, "api:durable", ratelimit.Hour, contractExpiry)
		require.NoError(t, err)
		require.NoError(t, writer.Commit(ctx))

		reader := openSession(t, backend)
		got, err := reader.GetWindow(ctx, "api:durable", ratelimit.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.Value)
	})

	t.Run("close discards uncommitted writes", func(t *testing.T) {
		backend := newBackend(t)
		ctx := context.Background()

		writer := openSession(t, backend)
		_, err := writer.CreateWindow(ctx, "api:discarded", ratelimit.Hour, contractExpiry)
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		reader := openSession(t, backend)
		_, err = reader.GetWindow(ctx, "api:discarded", ratelimit.Hour)
		assert.ErrorIs(t, err, ratelimit.ErrWindowNotFound)
	})

	t.Run("session keeps working after commit", func(t *testing.T) {
		s := openSession(t, newBackend(t))
		ctx := context.Background()

		_, err := s.CreateWindow(ctx, "api:again", ratelimit.Hour, contractExpiry)
		require.NoError(t, err)
		require.NoError(t, s.Commit(ctx))

		require.NoError(t, s.IncrementWindows(ctx, "api:again", 1))
		require.NoError(t, s.Commit(ctx))

		got, err := s.GetWindow(ctx, "api:again", ratelimit.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Value)
	})

	t.Run("closed session rejects use", func(t *testing.T) {
		s := openSession(t, newBackend(t))
		require.NoError(t, s.Close())

		_, err := s.GetWindow(context.Background(), "api:closed", ratelimit.Hour)

		assert.ErrorIs(t, err, store.ErrSessionClosed)
		assert.NoError(t, s.Close(), "second close is a no-op")
	})

	t.Run("saves history", func(t *testing.T) {
		s := openSession(t, newBackend(t))
		ctx := context.Background()

		err := s.SaveQuery(ctx, &nextnumber.Query{
			At:     contractExpiry,
			Owner:  "octocat",
			Name:   "hello-world",
			Result: 42,
		})
		require.NoError(t, err)

		err = s.SaveRequest(ctx, &nextnumber.Request{
			At:        contractExpiry,
			RequestID: "abc123",
			Method:    "GET",
			Path:      "/",
			Status:    200,
			Duration:  15 * time.Millisecond,
			ClientIP:  "203.0.113.7",
		})
		require.NoError(t, err)

		assert.NoError(t, s.Commit(ctx))
	})
}

func openSession(t *testing.T, backend store.Backend) nextnumber.Session {
	t.Helper()

	s, err := backend.Open(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}
