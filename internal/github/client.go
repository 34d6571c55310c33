// Package github asks the GitHub GraphQL API for the latest numbers handed out in a repository.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// DefaultEndpoint is the public GraphQL endpoint.
const DefaultEndpoint = "https://api.github.com/graphql"

// ErrRepositoryNotFound is returned when the repository does not exist or is not visible to the token.
var ErrRepositoryNotFound = errors.New("repository not found")

// GitHub reports unknown repositories as an error with this message prefix.
const notFoundMessage = "Could not resolve to a Repository"

type numberConnection struct {
	Nodes []struct {
		Number int
	}
}

// Discussions, issues and pull requests share one number sequence per repository.
type lastNumberQuery struct {
	Repository *struct {
		Discussions  numberConnection `graphql:"discussions(orderBy: {field: CREATED_AT, direction: DESC}, first: 1)"`
		Issues       numberConnection `graphql:"issues(orderBy: {field: CREATED_AT, direction: DESC}, first: 1)"`
		PullRequests numberConnection `graphql:"pullRequests(orderBy: {field: CREATED_AT, direction: DESC}, first: 1)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// Client queries the GitHub GraphQL API.
type Client struct {
	httpClient *http.Client
	endpoint   string
	gql        *githubv4.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client the token transport is layered on.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithEndpoint points the client at a different GraphQL endpoint.
func WithEndpoint(endpoint string) Option {
	return func(cl *Client) {
		cl.endpoint = endpoint
	}
}

// NewClient creates a client authenticating with token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoint:   DefaultEndpoint,
	}

	for _, opt := range opts {
		opt(c)
	}

	authed := &http.Client{
		Timeout: c.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   c.httpClient.Transport,
		},
	}
	c.gql = githubv4.NewEnterpriseClient(c.endpoint, authed)

	return c
}

// LastNumber returns the highest number among the most recent discussion, issue and
// pull request of owner/name. A repository with none of them yields 0.
func (c *Client) LastNumber(ctx context.Context, owner, name string) (int, error) {
	var q lastNumberQuery

	err := c.gql.Query(ctx, &q, map[string]any{
		"owner": githubv4.String(owner),
		"name":  githubv4.String(name),
	})

	switch {
	case err != nil && strings.HasPrefix(err.Error(), notFoundMessage):
		return 0, fmt.Errorf("%w: %s/%s", ErrRepositoryNotFound, owner, name)
	case err != nil:
		return 0, fmt.Errorf("graphql query: %w", err)
	case q.Repository == nil:
		return 0, fmt.Errorf("%w: %s/%s", ErrRepositoryNotFound, owner, name)
	}

	repo := q.Repository
	last := 0

	for _, conn := range []numberConnection{repo.Discussions, repo.Issues, repo.PullRequests} {
		if len(conn.Nodes) > 0 {
			last = max(last, conn.Nodes[0].Number)
		}
	}

	return last, nil
}
