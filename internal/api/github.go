// Package api talks to GitHub's REST and GraphQL endpoints and maps their
// failures onto a typed error taxonomy.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v57/github"
	"github.com/jmorland/gitscout/internal/models"
	"golang.org/x/oauth2"
)

// pageSize is the fixed page size for issue listings.
const pageSize = 100

// ListResult is one backend's answer to an issue search. RateLimit reflects
// the last response observed, even when the listing itself failed.
type ListResult struct {
	Issues    []models.Issue
	RateLimit models.RateLimitSnapshot
	Truncated bool
}

// RESTClient wraps the GitHub REST API. It serves the unauthenticated
// discovery tier plus the rate-limit and user-profile endpoints.
type RESTClient struct {
	client *github.Client
}

// NewRESTClient creates a REST client. An empty token yields an anonymous
// client subject to the unauthenticated rate-limit budget.
func NewRESTClient(token string) *RESTClient {
	var tc *http.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(context.Background(), ts)
	}

	return &RESTClient{client: github.NewClient(tc)}
}

// ListOpenUnassignedIssues returns open issues with no assignee, newest
// first. The REST listing cannot see pull-request linkage, so no linked-PR
// filtering happens here; it does include pull requests as issues, which are
// dropped client-side. Pages are fetched sequentially. A failure after the
// first page returns a *PartialResultError carrying what was already
// fetched. maxIssues > 0 caps the total and sets Truncated when pages
// remained.
func (c *RESTClient) ListOpenUnassignedIssues(ctx context.Context, ref models.RepoReference, maxIssues int) (*ListResult, error) {
	result := &ListResult{}
	opts := &github.IssueListByRepoOptions{
		State:     "open",
		Assignee:  "none",
		Sort:      "created",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: pageSize,
		},
	}

	for {
		issues, resp, err := c.client.Issues.ListByRepo(ctx, ref.Owner, ref.Repo, opts)
		if resp != nil {
			result.RateLimit = snapshotFromResponse(resp)
		}
		if err != nil {
			err = mapRESTError(err)
			if len(result.Issues) > 0 {
				err = &PartialResultError{Issues: result.Issues, RateLimit: result.RateLimit, Err: err}
			}
			return result, err
		}

		for i, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			result.Issues = append(result.Issues, convertRESTIssue(issue))
			if maxIssues > 0 && len(result.Issues) >= maxIssues {
				result.Truncated = resp.NextPage != 0 || i+1 < len(issues)
				return result, nil
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return result, nil
}

// GetRateLimit queries the core rate-limit budget. The query itself does not
// consume budget.
func (c *RESTClient) GetRateLimit(ctx context.Context) (models.RateLimitSnapshot, error) {
	limits, _, err := c.client.RateLimit.Get(ctx)
	if err != nil {
		return models.RateLimitSnapshot{}, mapRESTError(err)
	}

	core := limits.GetCore()
	if core == nil {
		return models.RateLimitSnapshot{}, &TransportError{Err: errors.New("rate limit response missing core resource")}
	}
	return models.RateLimitSnapshot{
		Remaining: core.Remaining,
		ResetAt:   core.Reset.Time,
	}, nil
}

// GetAuthenticatedUser fetches the profile of the token's owner.
func (c *RESTClient) GetAuthenticatedUser(ctx context.Context) (*models.User, error) {
	user, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return nil, mapRESTError(err)
	}

	return &models.User{
		Login:     user.GetLogin(),
		Name:      user.GetName(),
		AvatarURL: user.GetAvatarURL(),
	}, nil
}

// CheckRepository verifies the repository exists and is accessible.
func (c *RESTClient) CheckRepository(ctx context.Context, ref models.RepoReference) error {
	_, _, err := c.client.Repositories.Get(ctx, ref.Owner, ref.Repo)
	if err != nil {
		return mapRESTError(err)
	}
	return nil
}

func snapshotFromResponse(resp *github.Response) models.RateLimitSnapshot {
	return models.RateLimitSnapshot{
		Remaining: resp.Rate.Remaining,
		ResetAt:   resp.Rate.Reset.Time,
	}
}

func convertRESTIssue(issue *github.Issue) models.Issue {
	converted := models.Issue{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		URL:       issue.GetHTMLURL(),
		CreatedAt: issue.GetCreatedAt().Time,
	}
	converted.Comments.TotalCount = issue.GetComments()
	for _, label := range issue.Labels {
		converted.Labels.Nodes = append(converted.Labels.Nodes, models.Label{
			Name:  label.GetName(),
			Color: label.GetColor(),
		})
	}
	return converted
}

// mapRESTError classifies go-github failures into the package taxonomy.
// Context cancellation passes through untouched so callers can distinguish
// their own aborts.
func mapRESTError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &RateLimitError{ResetTime: rateErr.Rate.Reset.Time}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &RateLimitError{}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}

	return &TransportError{Err: err}
}
