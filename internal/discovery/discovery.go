// Package discovery finds open, unassigned issues for a repository, picking
// the deepest query tier the current credential allows and tracking the API
// rate-limit budget across calls.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmorland/gitscout/internal/api"
	"github.com/jmorland/gitscout/internal/models"
	"github.com/jmorland/gitscout/internal/store"
)

// DefaultMaxIssues bounds how many issues one search will fetch before
// giving up, so pagination on very large repositories stays bounded.
const DefaultMaxIssues = 500

// ErrSuperseded means a newer search started while this one was in flight;
// its result was discarded so stale data can never land after fresh data.
var ErrSuperseded = errors.New("search superseded by a newer one")

// restClient is the slice of the REST surface the engine uses.
type restClient interface {
	ListOpenUnassignedIssues(ctx context.Context, ref models.RepoReference, maxIssues int) (*api.ListResult, error)
	GetRateLimit(ctx context.Context) (models.RateLimitSnapshot, error)
	CheckRepository(ctx context.Context, ref models.RepoReference) error
}

// graphqlClient is the slice of the GraphQL surface the engine uses.
type graphqlClient interface {
	SearchOpenIssues(ctx context.Context, ref models.RepoReference, maxIssues int) (*api.ListResult, error)
}

// Engine is the issue discovery session. It reads the stored credential per
// call (the authenticator is the only writer) and remembers the last
// rate-limit snapshot it observed.
type Engine struct {
	store     *store.Store
	maxIssues int

	newREST    func(token string) restClient
	newGraphQL func(token string) graphqlClient

	mu         sync.Mutex
	generation uint64
	lastLimit  models.RateLimitSnapshot
}

// New creates an engine backed by st. maxIssues <= 0 selects
// DefaultMaxIssues.
func New(st *store.Store, maxIssues int) *Engine {
	if maxIssues <= 0 {
		maxIssues = DefaultMaxIssues
	}
	return &Engine{
		store:     st,
		maxIssues: maxIssues,
		newREST: func(token string) restClient {
			return api.NewRESTClient(token)
		},
		newGraphQL: func(token string) graphqlClient {
			return api.NewGraphQLClient(token)
		},
	}
}

// FetchAvailableIssues returns open, unassigned issues for ref, newest
// first. With a stored credential the GraphQL tier also excludes issues
// cross-referenced by a pull request and the result reports
// FilteringApplied; without one the REST tier applies only the
// open/unassigned filters and FilteringApplied is false. Zero issues is a
// successful result. Every call replaces the engine's rate-limit snapshot
// when the server reported one, success or failure.
func (e *Engine) FetchAvailableIssues(ctx context.Context, ref models.RepoReference) (*models.SearchResult, error) {
	if ref.Owner == "" || ref.Repo == "" {
		return nil, api.ErrInvalidReference
	}

	gen := e.beginSearch()

	token, err := e.store.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read stored token: %w", err)
	}

	var (
		listed    *api.ListResult
		listErr   error
		filtering bool
	)
	if token != "" {
		listed, listErr = e.newGraphQL(token).SearchOpenIssues(ctx, ref, e.maxIssues)
		filtering = true
	} else {
		listed, listErr = e.newREST("").ListOpenUnassignedIssues(ctx, ref, e.maxIssues)
	}

	if listed != nil {
		e.observeRateLimit(gen, listed.RateLimit)
	}
	if listErr != nil {
		var partial *api.PartialResultError
		if errors.As(listErr, &partial) {
			e.observeRateLimit(gen, partial.RateLimit)
		}
		return nil, listErr
	}
	if !e.isCurrent(gen) {
		return nil, ErrSuperseded
	}

	return &models.SearchResult{
		Issues:           listed.Issues,
		RateLimit:        listed.RateLimit,
		FilteringApplied: filtering,
		Truncated:        listed.Truncated,
	}, nil
}

// RateLimit queries the current budget from the rate-limit endpoint using
// the stored credential when present. The snapshot is remembered.
func (e *Engine) RateLimit(ctx context.Context) (models.RateLimitSnapshot, error) {
	token, err := e.store.Token()
	if err != nil {
		return models.RateLimitSnapshot{}, fmt.Errorf("failed to read stored token: %w", err)
	}

	snapshot, err := e.newREST(token).GetRateLimit(ctx)
	if err != nil {
		return models.RateLimitSnapshot{}, err
	}

	e.mu.Lock()
	e.lastLimit = snapshot
	e.mu.Unlock()
	return snapshot, nil
}

// CheckRepository reports whether the repository exists and is accessible
// with the current credential.
func (e *Engine) CheckRepository(ctx context.Context, ref models.RepoReference) error {
	if ref.Owner == "" || ref.Repo == "" {
		return api.ErrInvalidReference
	}

	token, err := e.store.Token()
	if err != nil {
		return fmt.Errorf("failed to read stored token: %w", err)
	}
	return e.newREST(token).CheckRepository(ctx, ref)
}

// LastRateLimit returns the snapshot observed on the most recent call, zero
// if no call has reported one yet.
func (e *Engine) LastRateLimit() models.RateLimitSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastLimit
}

func (e *Engine) beginSearch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	return e.generation
}

func (e *Engine) isCurrent(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen == e.generation
}

// observeRateLimit records a snapshot unless the search was superseded; a
// superseded search must not overwrite the snapshot of the one replacing it.
func (e *Engine) observeRateLimit(gen uint64, snapshot models.RateLimitSnapshot) {
	if snapshot == (models.RateLimitSnapshot{}) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen == e.generation {
		e.lastLimit = snapshot
	}
}
