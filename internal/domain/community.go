// Package domain contains the core data structures and domain logic for the application.
package domain

import "time"

// DateLayout is the DD-MM-YYYY layout used for every date in a persisted snapshot.
// Existing dashboards parse this form, so it is kept instead of RFC 3339.
const DateLayout = "02-01-2006"

// NoCommits marks an author whose commit history on a repository was empty.
const NoCommits = "No commits"

// FormatDate renders t in DateLayout, in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate is the inverse of FormatDate.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// CommunitySnapshot is the persisted result of a community walk.
// Every identity in it is a hashed login, never a raw one.
type CommunitySnapshot struct {
	Authors              []string            `json:"authors"`
	Submitters           []string            `json:"submitters"`
	AuthorRepoCounts     map[string]int      `json:"author_repo_counts"`
	AuthorSubmitters     []string            `json:"author_submitters"`
	InactiveContributors map[string]string   `json:"inactive_contributors"`
	Interactions         map[string][]string `json:"interactions"`
	FirstCommitByAuthor  map[string]string   `json:"first_commit_by_author"`

	// Diagnostics lists the per-item failures that were skipped during the walk.
	Diagnostics []Diagnostic `json:"-"`
}
