// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/naka-gawa/github-community/internal/domain"
	"github.com/naka-gawa/github-community/internal/gateway"
	"github.com/naka-gawa/github-community/internal/identity"
)

// DefaultLookbackMonths is the inactivity window.
const DefaultLookbackMonths = 12

// CommunityOptions tunes a community walk.
type CommunityOptions struct {
	LookbackMonths  int
	IncludeForks    bool
	IncludeArchived bool
	// Now returns the reference time of the run. Defaults to time.Now.
	Now func() time.Time
}

// CommunityAggregator walks an organisation's repositories and builds a CommunitySnapshot.
type CommunityAggregator struct {
	source gateway.CommunitySource
	hasher identity.Hasher
	logger *log.Logger
	opts   CommunityOptions
}

// NewCommunityAggregator creates a new CommunityAggregator instance.
func NewCommunityAggregator(source gateway.CommunitySource, hasher identity.Hasher, logger *log.Logger, opts CommunityOptions) *CommunityAggregator {
	if opts.LookbackMonths <= 0 {
		opts.LookbackMonths = DefaultLookbackMonths
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CommunityAggregator{
		source: source,
		hasher: hasher,
		logger: logger,
		opts:   opts,
	}
}

// communityTables accumulates one walk. It is owned by a single Aggregate call.
type communityTables struct {
	authors      map[string]struct{}
	submitters   map[string]struct{}
	repoCounts   map[string]int
	inactive     map[string]time.Time
	firstCommit  map[string]time.Time
	noCommits    map[string]struct{}
	interactions map[string]map[string]struct{}
	diagnostics  []domain.Diagnostic
}

func newCommunityTables() *communityTables {
	return &communityTables{
		authors:      make(map[string]struct{}),
		submitters:   make(map[string]struct{}),
		repoCounts:   make(map[string]int),
		inactive:     make(map[string]time.Time),
		firstCommit:  make(map[string]time.Time),
		noCommits:    make(map[string]struct{}),
		interactions: make(map[string]map[string]struct{}),
	}
}

// AggregateOrg lists org's repositories and aggregates them in name order.
func (a *CommunityAggregator) AggregateOrg(ctx context.Context, org string) (*domain.CommunitySnapshot, error) {
	repos, err := a.source.ListOrgRepos(ctx, org)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		if r.Fork && !a.opts.IncludeForks {
			a.logger.Debug("Skipping fork", "repo", r.FullName)
			continue
		}
		if r.Archived && !a.opts.IncludeArchived {
			a.logger.Debug("Skipping archived repository", "repo", r.FullName)
			continue
		}
		names = append(names, r.FullName)
	}
	sort.Strings(names)
	return a.Aggregate(ctx, names)
}

// Aggregate walks repos sequentially. Any error outside the per-contributor
// commit lookups aborts the walk and no snapshot is returned.
func (a *CommunityAggregator) Aggregate(ctx context.Context, repos []string) (*domain.CommunitySnapshot, error) {
	a.logger.Info("Usecase: Starting community aggregation...", "repos", len(repos))
	threshold := a.opts.Now().AddDate(0, -a.opts.LookbackMonths, 0)
	tables := newCommunityTables()

	for i, repo := range repos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a.logger.Infof("[%d/%d] Processing %s...", i+1, len(repos), repo)
		if err := a.walkRepo(ctx, tables, repo, threshold); err != nil {
			return nil, err
		}
	}

	snapshot := tables.snapshot()
	a.logger.Info("Usecase: Aggregation complete.",
		"authors", len(snapshot.Authors),
		"submitters", len(snapshot.Submitters),
		"skipped", len(snapshot.Diagnostics))
	return snapshot, nil
}

func (a *CommunityAggregator) walkRepo(ctx context.Context, t *communityTables, repo string, threshold time.Time) error {
	logins, err := a.source.ListContributors(ctx, repo)
	if err != nil {
		return err
	}

	type contributor struct{ login, id string }
	var contributors []contributor
	seen := make(map[string]struct{}, len(logins))
	for i, id := range a.hasher.HashAll(logins) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		t.authors[id] = struct{}{}
		t.repoCounts[id]++
		contributors = append(contributors, contributor{login: logins[i], id: id})
	}

	for _, c := range contributors {
		if d := a.recordInactivity(ctx, t, repo, c.login, c.id, threshold); d != nil {
			a.skip(t, *d)
		}
		if d := a.recordFirstActivity(ctx, t, repo, c.login, c.id); d != nil {
			a.skip(t, *d)
		}
	}

	rawSubmitters, err := a.source.ListIssueSubmitters(ctx, repo)
	if err != nil {
		return err
	}
	repoSubmitters := make(map[string]struct{}, len(rawSubmitters))
	for _, id := range a.hasher.HashAll(rawSubmitters) {
		repoSubmitters[id] = struct{}{}
		t.submitters[id] = struct{}{}
	}

	for _, c := range contributors {
		for s := range repoSubmitters {
			if s == c.id {
				continue
			}
			set, ok := t.interactions[c.id]
			if !ok {
				set = make(map[string]struct{})
				t.interactions[c.id] = set
			}
			set[s] = struct{}{}
		}
	}
	return nil
}

// recordInactivity applies the inactivity rule: a contributor with commits
// since threshold whose account was created before threshold is recorded with
// the date of their most recent such commit.
func (a *CommunityAggregator) recordInactivity(ctx context.Context, t *communityTables, repo, login, id string, threshold time.Time) *domain.Diagnostic {
	commits, err := a.source.ListCommits(ctx, repo, login, threshold)
	if err != nil {
		return &domain.Diagnostic{Repo: repo, Contributor: id, Stage: domain.StageInactivity, Reason: redact(err, login, id)}
	}
	if len(commits) == 0 {
		return nil
	}
	createdAt, err := a.source.GetUserCreatedAt(ctx, login)
	if err != nil {
		return &domain.Diagnostic{Repo: repo, Contributor: id, Stage: domain.StageInactivity, Reason: redact(err, login, id)}
	}
	if !createdAt.Before(threshold) {
		return nil
	}
	for _, c := range commits {
		if last, ok := t.inactive[id]; !ok || c.AuthorDate.After(last) {
			t.inactive[id] = c.AuthorDate
		}
	}
	return nil
}

// recordFirstActivity keeps the earliest commit date seen for id across repositories.
func (a *CommunityAggregator) recordFirstActivity(ctx context.Context, t *communityTables, repo, login, id string) *domain.Diagnostic {
	commits, err := a.source.ListCommits(ctx, repo, login, time.Time{})
	if err != nil {
		return &domain.Diagnostic{Repo: repo, Contributor: id, Stage: domain.StageFirstActivity, Reason: redact(err, login, id)}
	}
	if len(commits) == 0 {
		t.noCommits[id] = struct{}{}
		return nil
	}
	for _, c := range commits {
		if first, ok := t.firstCommit[id]; !ok || c.AuthorDate.Before(first) {
			t.firstCommit[id] = c.AuthorDate
		}
	}
	return nil
}

// redact replaces the raw login in an error message with its hashed identity.
func redact(err error, login, id string) string {
	if login == "" {
		return err.Error()
	}
	return strings.ReplaceAll(err.Error(), login, id)
}

func (a *CommunityAggregator) skip(t *communityTables, d domain.Diagnostic) {
	a.logger.Warn("Skipping contributor", "repo", d.Repo, "contributor", d.Contributor, "stage", d.Stage, "reason", d.Reason)
	t.diagnostics = append(t.diagnostics, d)
}

// snapshot freezes the tables into a CommunitySnapshot with deterministic ordering.
func (t *communityTables) snapshot() *domain.CommunitySnapshot {
	s := &domain.CommunitySnapshot{
		Authors:              sortedKeys(t.authors),
		Submitters:           sortedKeys(t.submitters),
		AuthorRepoCounts:     make(map[string]int, len(t.repoCounts)),
		InactiveContributors: make(map[string]string, len(t.inactive)),
		Interactions:         make(map[string][]string, len(t.interactions)),
		FirstCommitByAuthor:  make(map[string]string, len(t.firstCommit)+len(t.noCommits)),
		Diagnostics:          append([]domain.Diagnostic(nil), t.diagnostics...),
	}
	for id, n := range t.repoCounts {
		s.AuthorRepoCounts[id] = n
	}
	s.AuthorSubmitters = Intersect(s.Authors, s.Submitters)
	for id, d := range t.inactive {
		s.InactiveContributors[id] = domain.FormatDate(d)
	}
	for id, set := range t.interactions {
		s.Interactions[id] = sortedKeys(set)
	}
	for id := range t.noCommits {
		s.FirstCommitByAuthor[id] = domain.NoCommits
	}
	for id, d := range t.firstCommit {
		s.FirstCommitByAuthor[id] = domain.FormatDate(d)
	}
	return s
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Intersect returns the sorted set intersection of two identity lists.
func Intersect(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, id := range b {
		in[id] = struct{}{}
	}
	out := make(map[string]struct{})
	for _, id := range a {
		if _, ok := in[id]; ok {
			out[id] = struct{}{}
		}
	}
	return sortedKeys(out)
}
