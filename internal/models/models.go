package models

import (
	"time"
)

// RepoReference identifies a GitHub repository. Owner and Repo keep the
// casing the user typed; GitHub's API treats them case-insensitively but we
// never rewrite them.
type RepoReference struct {
	Owner string
	Repo  string
}

// String returns the "owner/repo" form.
func (r RepoReference) String() string {
	return r.Owner + "/" + r.Repo
}

// Label represents a GitHub issue label.
type Label struct {
	Name  string
	Color string
}

// IssueComments carries the comment count for an issue.
type IssueComments struct {
	TotalCount int
}

// IssueLabels carries an issue's labels in server order.
type IssueLabels struct {
	Nodes []Label
}

// Issue is a snapshot of a GitHub issue at fetch time. Issues are never
// persisted; each search produces a fresh set.
type Issue struct {
	Number    int
	Title     string
	URL       string
	CreatedAt time.Time
	Comments  IssueComments
	Labels    IssueLabels
}

// RateLimitSnapshot is the caller's remaining API budget as reported by the
// last response. A zero ResetAt means the server did not say.
type RateLimitSnapshot struct {
	Remaining int
	ResetAt   time.Time
}

// User represents a GitHub user profile.
type User struct {
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Credential is a bearer token and the profile it was issued to.
type Credential struct {
	Token string
	User  User
}

// DeviceFlowSession is the transient state of one OAuth device
// authorization attempt. It is never persisted.
type DeviceFlowSession struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Interval        time.Duration
	ExpiresAt       time.Time
}

// SearchResult is the outcome of one issue search. FilteringApplied reports
// whether linked-PR filtering ran (it requires a credential); Truncated
// reports that the configured issue cap cut pagination short.
type SearchResult struct {
	Issues           []Issue
	RateLimit        RateLimitSnapshot
	FilteringApplied bool
	Truncated        bool
}
