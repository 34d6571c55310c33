package github_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/serroba/next-number/internal/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Authorization string
	Query         string
	Variables     map[string]any
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()

	captured := &capturedRequest{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		captured.Authorization = r.Header.Get("Authorization")
		captured.Query = req.Query
		captured.Variables = req.Variables

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))

	t.Cleanup(srv.Close)

	return srv, captured
}

func newClient(srv *httptest.Server) *github.Client {
	return github.NewClient("secret-token",
		github.WithEndpoint(srv.URL),
		github.WithHTTPClient(srv.Client()),
	)
}

func TestClient_LastNumber(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the highest of the latest numbers", func(t *testing.T) {
		srv, captured := newServer(t, http.StatusOK, `{"data":{"repository":{
			"discussions":{"nodes":[{"number":40}]},
			"issues":{"nodes":[{"number":42}]},
			"pullRequests":{"nodes":[{"number":41}]}}}}`)

		n, err := newClient(srv).LastNumber(ctx, "octocat", "hello-world")

		require.NoError(t, err)
		assert.Equal(t, 42, n)
		assert.Equal(t, "Bearer secret-token", captured.Authorization)
		assert.Equal(t, map[string]any{"owner": "octocat", "name": "hello-world"}, captured.Variables)
		assert.Contains(t, captured.Query, "pullRequests")
		assert.Contains(t, captured.Query, "$owner:String!")
	})

	t.Run("empty repository yields zero", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusOK, `{"data":{"repository":{
			"discussions":{"nodes":[]},
			"issues":{"nodes":[]},
			"pullRequests":{"nodes":[]}}}}`)

		n, err := newClient(srv).LastNumber(ctx, "octocat", "empty")

		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("missing connections are treated as empty", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusOK, `{"data":{"repository":{
			"issues":{"nodes":[{"number":7}]}}}}`)

		n, err := newClient(srv).LastNumber(ctx, "octocat", "issues-only")

		require.NoError(t, err)
		assert.Equal(t, 7, n)
	})

	t.Run("null repository is not found", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusOK, `{"data":{"repository":null},
			"errors":[{"type":"NOT_FOUND","message":"Could not resolve to a Repository with the name 'octocat/missing'."}]}`)

		_, err := newClient(srv).LastNumber(ctx, "octocat", "missing")

		assert.ErrorIs(t, err, github.ErrRepositoryNotFound)
	})

	t.Run("null repository without errors is not found", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusOK, `{"data":{"repository":null}}`)

		_, err := newClient(srv).LastNumber(ctx, "octocat", "missing")

		assert.ErrorIs(t, err, github.ErrRepositoryNotFound)
	})

	t.Run("graphql errors without data", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusOK, `{"errors":[{"message":"Bad credentials"}]}`)

		_, err := newClient(srv).LastNumber(ctx, "octocat", "hello-world")

		require.Error(t, err)
		assert.NotErrorIs(t, err, github.ErrRepositoryNotFound)
		assert.Contains(t, err.Error(), "Bad credentials")
	})

	t.Run("non-2xx status", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusUnauthorized, `{"message":"Bad credentials"}`)

		_, err := newClient(srv).LastNumber(ctx, "octocat", "hello-world")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	})

	t.Run("other errors alongside data are not a missing repository", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusOK, `{"data":{"repository":null},
			"errors":[{"type":"RATE_LIMITED","message":"API rate limit exceeded for user"}]}`)

		_, err := newClient(srv).LastNumber(ctx, "octocat", "hello-world")

		require.Error(t, err)
		assert.NotErrorIs(t, err, github.ErrRepositoryNotFound)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusOK, `not json`)

		_, err := newClient(srv).LastNumber(ctx, "octocat", "hello-world")

		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusOK, `{}`)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := newClient(srv).LastNumber(cancelled, "octocat", "hello-world")

		assert.ErrorIs(t, err, context.Canceled)
	})
}
