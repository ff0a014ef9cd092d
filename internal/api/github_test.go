package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorland/gitscout/internal/models"
)

var testRef = models.RepoReference{Owner: "octo-org", Repo: "widgets"}

func newTestRESTClient(t *testing.T, srv *httptest.Server) *RESTClient {
	t.Helper()
	gh := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	gh.BaseURL = base
	return &RESTClient{client: gh}
}

func setRateHeaders(w http.ResponseWriter, remaining int, reset time.Time) {
	w.Header().Set("X-RateLimit-Limit", "60")
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

func restIssueJSON(number int, createdAt string, isPR bool) string {
	pr := ""
	if isPR {
		pr = `"pull_request": {"url": "https://api.github.com/repos/octo-org/widgets/pulls/9"},`
	}
	return fmt.Sprintf(`{
		"number": %d,
		"title": "issue %d",
		"html_url": "https://github.com/octo-org/widgets/issues/%d",
		"created_at": %q,
		"comments": 2,
		%s
		"labels": [{"name": "bug", "color": "d73a4a"}]
	}`, number, number, number, createdAt, pr)
}

func TestListOpenUnassignedIssues(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/octo-org/widgets/issues", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		assert.Equal(t, "none", r.URL.Query().Get("assignee"))
		assert.Equal(t, "created", r.URL.Query().Get("sort"))
		assert.Equal(t, "desc", r.URL.Query().Get("direction"))

		switch r.URL.Query().Get("page") {
		case "", "1":
			setRateHeaders(w, 58, reset)
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/octo-org/widgets/issues?page=2>; rel="next"`, srv.URL))
			fmt.Fprintf(w, "[%s, %s, %s]",
				restIssueJSON(30, "2026-03-03T00:00:00Z", false),
				restIssueJSON(29, "2026-03-02T00:00:00Z", true),
				restIssueJSON(28, "2026-03-01T00:00:00Z", false))
		case "2":
			setRateHeaders(w, 57, reset)
			fmt.Fprintf(w, "[%s]", restIssueJSON(27, "2026-02-28T00:00:00Z", false))
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	client := newTestRESTClient(t, srv)
	result, err := client.ListOpenUnassignedIssues(context.Background(), testRef, 0)
	require.NoError(t, err)

	// The PR listed as issue 29 is dropped; order is server order.
	require.Len(t, result.Issues, 3)
	assert.Equal(t, []int{30, 28, 27}, []int{result.Issues[0].Number, result.Issues[1].Number, result.Issues[2].Number})
	assert.Equal(t, "issue 30", result.Issues[0].Title)
	assert.Equal(t, "https://github.com/octo-org/widgets/issues/30", result.Issues[0].URL)
	assert.Equal(t, 2, result.Issues[0].Comments.TotalCount)
	require.Len(t, result.Issues[0].Labels.Nodes, 1)
	assert.Equal(t, models.Label{Name: "bug", Color: "d73a4a"}, result.Issues[0].Labels.Nodes[0])

	// Snapshot reflects the last page's response.
	assert.Equal(t, 57, result.RateLimit.Remaining)
	assert.Equal(t, reset.Unix(), result.RateLimit.ResetAt.Unix())
	assert.False(t, result.Truncated)

	// No duplicates and created-desc order preserved.
	seen := map[int]bool{}
	for i, issue := range result.Issues {
		assert.False(t, seen[issue.Number], "duplicate issue %d", issue.Number)
		seen[issue.Number] = true
		if i > 0 {
			assert.False(t, issue.CreatedAt.After(result.Issues[i-1].CreatedAt))
		}
	}
}

func TestListOpenUnassignedIssuesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setRateHeaders(w, 59, time.Now().Add(time.Hour))
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	client := newTestRESTClient(t, srv)
	result, err := client.ListOpenUnassignedIssues(context.Background(), testRef, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Issues)
	assert.Equal(t, 59, result.RateLimit.Remaining)
}

func TestListOpenUnassignedIssuesCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setRateHeaders(w, 58, time.Now().Add(time.Hour))
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/octo-org/widgets/issues?page=2>; rel="next"`, srv.URL))
		fmt.Fprintf(w, "[%s, %s]",
			restIssueJSON(30, "2026-03-03T00:00:00Z", false),
			restIssueJSON(29, "2026-03-02T00:00:00Z", false))
	}))
	defer srv.Close()

	client := newTestRESTClient(t, srv)
	result, err := client.ListOpenUnassignedIssues(context.Background(), testRef, 2)
	require.NoError(t, err)
	assert.Len(t, result.Issues, 2)
	assert.True(t, result.Truncated)
}

func TestListOpenUnassignedIssuesPartialPageFailure(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			setRateHeaders(w, 56, time.Now().Add(time.Hour))
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"message": "upstream error"}`)
			return
		}
		setRateHeaders(w, 57, time.Now().Add(time.Hour))
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/octo-org/widgets/issues?page=2>; rel="next"`, srv.URL))
		fmt.Fprintf(w, "[%s]", restIssueJSON(30, "2026-03-03T00:00:00Z", false))
	}))
	defer srv.Close()

	client := newTestRESTClient(t, srv)
	result, err := client.ListOpenUnassignedIssues(context.Background(), testRef, 0)
	require.Error(t, err)

	var partial *PartialResultError
	require.ErrorAs(t, err, &partial)
	require.Len(t, partial.Issues, 1)
	assert.Equal(t, 30, partial.Issues[0].Number)
	assert.Equal(t, 56, partial.RateLimit.Remaining)
	assert.Equal(t, 56, result.RateLimit.Remaining)
}

func TestListErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNotFound)
			},
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnauthorized)
			},
		},
		{
			name:   "rate limited",
			status: http.StatusForbidden,
			header: map[string]string{"X-RateLimit-Remaining": "0"},
			check: func(t *testing.T, err error) {
				var rateErr *RateLimitError
				require.ErrorAs(t, err, &rateErr)
				assert.False(t, rateErr.ResetTime.IsZero())
			},
		},
		{
			name:   "server failure",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				var transportErr *TransportError
				assert.ErrorAs(t, err, &transportErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-RateLimit-Limit", "60")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"message": "nope"}`)
			}))
			defer srv.Close()

			client := newTestRESTClient(t, srv)
			_, err := client.ListOpenUnassignedIssues(context.Background(), testRef, 0)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestListCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestRESTClient(t, srv)
	_, err := client.ListOpenUnassignedIssues(ctx, testRef, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestGetRateLimit(t *testing.T) {
	reset := time.Now().Add(45 * time.Minute).Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rate_limit", r.URL.Path)
		fmt.Fprintf(w, `{"resources": {"core": {"limit": 5000, "remaining": 4987, "reset": %d}}}`, reset.Unix())
	}))
	defer srv.Close()

	client := newTestRESTClient(t, srv)
	snapshot, err := client.GetRateLimit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4987, snapshot.Remaining)
	assert.Equal(t, reset.Unix(), snapshot.ResetAt.Unix())
}

func TestGetAuthenticatedUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user", r.URL.Path)
		fmt.Fprint(w, `{"login": "octocat", "name": "The Octocat", "avatar_url": "https://avatars.githubusercontent.com/u/583231"}`)
	}))
	defer srv.Close()

	client := newTestRESTClient(t, srv)
	user, err := client.GetAuthenticatedUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &models.User{
		Login:     "octocat",
		Name:      "The Octocat",
		AvatarURL: "https://avatars.githubusercontent.com/u/583231",
	}, user)
}

func TestCheckRepository(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/octo-org/widgets":
			fmt.Fprint(w, `{"id": 1, "full_name": "octo-org/widgets"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message": "Not Found"}`)
		}
	}))
	defer srv.Close()

	client := newTestRESTClient(t, srv)
	assert.NoError(t, client.CheckRepository(context.Background(), testRef))
	assert.ErrorIs(t, client.CheckRepository(context.Background(), models.RepoReference{Owner: "octo-org", Repo: "gone"}), ErrNotFound)
}
