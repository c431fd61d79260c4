// Package report derives descriptive statistics from snapshots.
package report

import (
	"github.com/montanaflynn/stats"
	"github.com/naka-gawa/github-community/internal/domain"
)

// Distribution describes a set of per-contributor counts.
type Distribution struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Max    float64 `json:"max"`
}

// CommunitySummary is the overview printed by `summary community`.
type CommunitySummary struct {
	Authors          int          `json:"authors"`
	Submitters       int          `json:"submitters"`
	AuthorSubmitters int          `json:"author_submitters"`
	Inactive         int          `json:"inactive_contributors"`
	NoCommitAuthors  int          `json:"no_commit_authors"`
	ReposPerAuthor   Distribution `json:"repos_per_author"`
	InteractionReach Distribution `json:"interaction_reach"`
}

// DistroSummary is the overview printed by `summary distro`.
type DistroSummary struct {
	LatestRef          string `json:"latest_ref"`
	MainRef            string `json:"main_ref"`
	DifferentVersions  int    `json:"different_versions"`
	LabelledCandidates int    `json:"labelled_candidates"`
	AllCandidates      int    `json:"all_candidates"`
	// PendingDiffs counts differing packages that have an open pull request.
	PendingDiffs    int `json:"pending_diffs"`
	AddedPackages   int `json:"added_packages"`
	RemovedPackages int `json:"removed_packages"`
}

// SummarizeCommunity computes headline counts and distributions for s.
func SummarizeCommunity(s *domain.CommunitySnapshot) (*CommunitySummary, error) {
	sum := &CommunitySummary{
		Authors:          len(s.Authors),
		Submitters:       len(s.Submitters),
		AuthorSubmitters: len(s.AuthorSubmitters),
		Inactive:         len(s.InactiveContributors),
	}
	for _, first := range s.FirstCommitByAuthor {
		if first == domain.NoCommits {
			sum.NoCommitAuthors++
		}
	}

	repoCounts := make(stats.Float64Data, 0, len(s.AuthorRepoCounts))
	for _, n := range s.AuthorRepoCounts {
		repoCounts = append(repoCounts, float64(n))
	}
	var err error
	if sum.ReposPerAuthor, err = Describe(repoCounts); err != nil {
		return nil, err
	}

	reach := make(stats.Float64Data, 0, len(s.Interactions))
	for _, ids := range s.Interactions {
		reach = append(reach, float64(len(ids)))
	}
	if sum.InteractionReach, err = Describe(reach); err != nil {
		return nil, err
	}
	return sum, nil
}

// SummarizeDistro counts the entries of a distribution snapshot.
func SummarizeDistro(s *domain.DistroSnapshot) *DistroSummary {
	open := make(map[string]struct{}, len(s.AllCandidates))
	for _, c := range s.AllCandidates {
		open[c.Package] = struct{}{}
	}
	pending := 0
	for _, d := range s.PackagesWithDiffVersions {
		if _, ok := open[d.PackageName]; ok {
			pending++
		}
	}
	return &DistroSummary{
		LatestRef:          s.LatestRef,
		MainRef:            s.MainRef,
		DifferentVersions:  len(s.PackagesWithDiffVersions),
		LabelledCandidates: len(s.LabelledCandidates),
		AllCandidates:      len(s.AllCandidates),
		PendingDiffs:       pending,
		AddedPackages:      len(s.AddedPackages),
		RemovedPackages:    len(s.RemovedPackages),
	}
}

// Describe computes a Distribution of data, rounded to two places. Empty data
// yields a zero Distribution.
func Describe(data stats.Float64Data) (Distribution, error) {
	d := Distribution{Count: data.Len()}
	if d.Count == 0 {
		return d, nil
	}
	steps := []struct {
		dst *float64
		fn  func(stats.Float64Data) (float64, error)
	}{
		{&d.Mean, stats.Mean},
		{&d.Median, stats.Median},
		{&d.P90, func(in stats.Float64Data) (float64, error) { return stats.Percentile(in, 90) }},
		{&d.Max, stats.Max},
	}
	for _, step := range steps {
		v, err := step.fn(data)
		if err != nil {
			return Distribution{}, err
		}
		if *step.dst, err = stats.Round(v, 2); err != nil {
			return Distribution{}, err
		}
	}
	return d, nil
}
