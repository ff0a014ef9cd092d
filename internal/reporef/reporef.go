// Package reporef normalizes user-supplied repository references.
package reporef

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/jmorland/gitscout/internal/models"
)

// Owner and repo names as GitHub accepts them in URL path segments.
var segmentRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Parse resolves input to an owner/repo reference. It accepts full
// github.com URLs (scheme optional; trailing slash, ".git" suffix, and extra
// path segments are tolerated) and, as a relaxed fallback, a bare
// "owner/repo" string. Anything else yields nil. Parse never returns an
// error and preserves the input's casing verbatim.
func Parse(input string) *models.RepoReference {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil
	}

	if strings.Contains(s, "github.com") {
		return parseURL(s)
	}
	return parseBare(s)
}

func parseURL(s string) *models.RepoReference {
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil
	}
	if strings.TrimPrefix(u.Hostname(), "www.") != "github.com" {
		return nil
	}
	segments := splitPath(u.Path)
	if len(segments) < 2 {
		return nil
	}
	return newRef(segments[0], segments[1])
}

func parseBare(s string) *models.RepoReference {
	segments := splitPath(s)
	if len(segments) != 2 {
		return nil
	}
	return newRef(segments[0], segments[1])
}

func splitPath(p string) []string {
	var segments []string
	for _, segment := range strings.Split(p, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}

func newRef(owner, repo string) *models.RepoReference {
	repo = strings.TrimSuffix(repo, ".git")
	if !segmentRe.MatchString(owner) || !segmentRe.MatchString(repo) {
		return nil
	}
	return &models.RepoReference{Owner: owner, Repo: repo}
}
