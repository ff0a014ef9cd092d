package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jmorland/gitscout/internal/models"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// GraphQLClient wraps the GitHub GraphQL API. It serves the authenticated
// discovery tier, where linked-PR data is available in the same query.
type GraphQLClient struct {
	client *githubv4.Client
}

// NewGraphQLClient creates a GraphQL client. GitHub's GraphQL endpoint
// rejects anonymous calls, so a token is required.
func NewGraphQLClient(token string) *GraphQLClient {
	src := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	httpClient := oauth2.NewClient(context.Background(), src)
	return &GraphQLClient{client: githubv4.NewClient(httpClient)}
}

// searchIssue is the per-issue selection of the search query. The timeline
// selection pulls cross-referenced events so PR linkage can be decided
// without a supplementary query; __typename distinguishes PR sources from
// issue sources, which otherwise share the selected fields.
type searchIssue struct {
	Number    githubv4.Int
	Title     githubv4.String
	URL       githubv4.URI
	CreatedAt githubv4.DateTime
	Comments  struct {
		TotalCount githubv4.Int
	}
	Labels struct {
		Nodes []struct {
			Name  githubv4.String
			Color githubv4.String
		}
	} `graphql:"labels(first: 20)"`
	TimelineItems struct {
		Nodes []struct {
			CrossReferencedEvent struct {
				Source struct {
					TypeName githubv4.String `graphql:"__typename"`
				}
			} `graphql:"... on CrossReferencedEvent"`
		}
	} `graphql:"timelineItems(itemTypes: [CROSS_REFERENCED_EVENT], first: 20)"`
}

// SearchOpenIssues returns open, unassigned issues for ref, newest first,
// excluding any issue cross-referenced by a pull request regardless of that
// PR's state. Pages are fetched sequentially with the rateLimit block read
// on every page. A failure after the first page returns a
// *PartialResultError carrying what was already fetched. maxIssues > 0 caps
// the total and sets Truncated when pages remained.
func (c *GraphQLClient) SearchOpenIssues(ctx context.Context, ref models.RepoReference, maxIssues int) (*ListResult, error) {
	result := &ListResult{}
	searchQuery := fmt.Sprintf("repo:%s/%s is:issue is:open no:assignee sort:created-desc", ref.Owner, ref.Repo)

	var cursor *githubv4.String
	for {
		var query struct {
			RateLimit struct {
				Limit     githubv4.Int
				Remaining githubv4.Int
				ResetAt   githubv4.DateTime
			}
			Search struct {
				Nodes []struct {
					Issue searchIssue `graphql:"... on Issue"`
				}
				PageInfo struct {
					EndCursor   githubv4.String
					HasNextPage githubv4.Boolean
				}
			} `graphql:"search(query: $searchQuery, type: ISSUE, first: $pageSize, after: $cursor)"`
		}

		variables := map[string]interface{}{
			"searchQuery": githubv4.String(searchQuery),
			"pageSize":    githubv4.Int(pageSize),
			"cursor":      cursor,
		}

		if err := c.client.Query(ctx, &query, variables); err != nil {
			err = mapGraphQLError(err, result.RateLimit)
			if len(result.Issues) > 0 {
				err = &PartialResultError{Issues: result.Issues, RateLimit: result.RateLimit, Err: err}
			}
			return result, err
		}

		result.RateLimit = models.RateLimitSnapshot{
			Remaining: int(query.RateLimit.Remaining),
			ResetAt:   query.RateLimit.ResetAt.Time,
		}
		if result.RateLimit.Remaining < 100 {
			log.Printf("GraphQL rate limit low: %d/%d remaining, resets at %s",
				result.RateLimit.Remaining, int(query.RateLimit.Limit),
				result.RateLimit.ResetAt.Format(time.RFC3339))
		}

		for i, node := range query.Search.Nodes {
			if hasLinkedPullRequest(node.Issue) {
				continue
			}
			result.Issues = append(result.Issues, convertGraphQLIssue(node.Issue))
			if maxIssues > 0 && len(result.Issues) >= maxIssues {
				result.Truncated = bool(query.Search.PageInfo.HasNextPage) || i+1 < len(query.Search.Nodes)
				return result, nil
			}
		}

		if !query.Search.PageInfo.HasNextPage {
			break
		}
		endCursor := query.Search.PageInfo.EndCursor
		cursor = &endCursor
	}

	return result, nil
}

func hasLinkedPullRequest(issue searchIssue) bool {
	for _, item := range issue.TimelineItems.Nodes {
		if item.CrossReferencedEvent.Source.TypeName == "PullRequest" {
			return true
		}
	}
	return false
}

func convertGraphQLIssue(issue searchIssue) models.Issue {
	converted := models.Issue{
		Number:    int(issue.Number),
		Title:     string(issue.Title),
		CreatedAt: issue.CreatedAt.Time,
	}
	if issue.URL.URL != nil {
		converted.URL = issue.URL.String()
	}
	converted.Comments.TotalCount = int(issue.Comments.TotalCount)
	for _, label := range issue.Labels.Nodes {
		converted.Labels.Nodes = append(converted.Labels.Nodes, models.Label{
			Name:  string(label.Name),
			Color: string(label.Color),
		})
	}
	return converted
}

// mapGraphQLError classifies githubv4 failures. The githubv4 transport folds
// HTTP status and GraphQL error payloads into flat error strings, so
// classification is by message.
func mapGraphQLError(err error, lastLimit models.RateLimitSnapshot) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "401"):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case strings.Contains(msg, "Could not resolve"), strings.Contains(msg, "NOT_FOUND"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case strings.Contains(msg, "RATE_LIMITED"), strings.Contains(msg, "rate limit"):
		return &RateLimitError{ResetTime: lastLimit.ResetAt}
	}
	return &TransportError{Err: err}
}
