package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/naka-gawa/github-community/internal/domain"
	"github.com/naka-gawa/github-community/internal/gateway"
	"golang.org/x/sync/errgroup"
)

// DefaultReleaseLabels are the labels release automation puts on package pull requests.
var DefaultReleaseLabels = []string{"automatic pr", "new package", "update package"}

// DistroOptions configures a VersionDiffer.
type DistroOptions struct {
	// Repo is the distribution repository, owner/name.
	Repo        string
	PackagesDir string
	MetaFile    string
	MainRef     string
	Labels      []string
	// Concurrency bounds parallel meta file fetches. 1 fetches sequentially.
	Concurrency int
}

// DefaultDistroOptions returns the layout of a typical package-distribution repository.
func DefaultDistroOptions() DistroOptions {
	return DistroOptions{
		PackagesDir: "packages",
		MetaFile:    "meta.yaml",
		MainRef:     "main",
		Labels:      append([]string(nil), DefaultReleaseLabels...),
		Concurrency: 1,
	}
}

// VersionDiffer compares package versions between the latest release and the main branch.
type VersionDiffer struct {
	source gateway.DistroSource
	logger *log.Logger
	opts   DistroOptions
}

// NewVersionDiffer creates a new VersionDiffer instance. Zero fields of opts take their defaults.
func NewVersionDiffer(source gateway.DistroSource, logger *log.Logger, opts DistroOptions) *VersionDiffer {
	defaults := DefaultDistroOptions()
	if opts.PackagesDir == "" {
		opts.PackagesDir = defaults.PackagesDir
	}
	if opts.MetaFile == "" {
		opts.MetaFile = defaults.MetaFile
	}
	if opts.MainRef == "" {
		opts.MainRef = defaults.MainRef
	}
	if opts.Labels == nil {
		opts.Labels = defaults.Labels
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaults.Concurrency
	}
	return &VersionDiffer{source: source, logger: logger, opts: opts}
}

// Diff builds a DistroSnapshot. A failure to resolve the release, list a
// packages directory, fetch a meta file or list pull requests aborts the run.
// A missing or unparseable meta file only skips that package.
func (d *VersionDiffer) Diff(ctx context.Context) (*domain.DistroSnapshot, error) {
	repo := d.opts.Repo
	d.logger.Info("[1/4] Resolving latest release...", "repo", repo)
	latestRef, err := d.source.LatestReleaseRef(ctx, repo)
	if err != nil {
		return nil, err
	}

	d.logger.Info("[2/4] Fetching package metadata...", "latest", latestRef, "main", d.opts.MainRef)
	latestDirs, latest, latestDiags, err := d.packageVersions(ctx, latestRef)
	if err != nil {
		return nil, err
	}
	mainDirs, mainVersions, mainDiags, err := d.packageVersions(ctx, d.opts.MainRef)
	if err != nil {
		return nil, err
	}

	d.logger.Info("[3/4] Fetching open pull requests...")
	allPRs, err := d.source.ListOpenPullRequests(ctx, repo)
	if err != nil {
		return nil, err
	}

	var labelledPRs []gateway.PullRequest
	if len(d.opts.Labels) > 0 {
		d.logger.Info("[4/4] Fetching labelled pull requests...", "labels", d.opts.Labels)
		labelledPRs, err = d.source.ListLabelledPullRequests(ctx, repo, d.opts.Labels)
		if err != nil {
			return nil, err
		}
	}

	latestByName := versionsByName(latest)
	allCandidates, allDiags := candidates(repo, allPRs, latestByName)
	labelledCandidates, labelledDiags := candidates(repo, labelledPRs, latestByName)
	added, removed := packageSetChanges(latestDirs, mainDirs)

	snapshot := &domain.DistroSnapshot{
		LatestRef:                latestRef,
		MainRef:                  d.opts.MainRef,
		PackagesWithDiffVersions: DiffVersions(latest, mainVersions),
		LabelledCandidates:       labelledCandidates,
		AllCandidates:            allCandidates,
		AddedPackages:            added,
		RemovedPackages:          removed,
	}
	for _, diags := range [][]domain.Diagnostic{latestDiags, mainDiags, allDiags, labelledDiags} {
		snapshot.Diagnostics = append(snapshot.Diagnostics, diags...)
	}
	for _, diag := range snapshot.Diagnostics {
		d.logger.Warn("Skipped item", "stage", diag.Stage, "package", diag.Package, "reason", diag.Reason)
	}
	d.logger.Info("Usecase: Version diff complete.",
		"different", len(snapshot.PackagesWithDiffVersions),
		"labelled_candidates", len(snapshot.LabelledCandidates),
		"candidates", len(snapshot.AllCandidates))
	return snapshot, nil
}

// packageVersions lists the package directories on ref and reads each version.
// Packages whose meta file is missing or unparseable are reported as
// diagnostics and left out of the versions; any other fetch error is returned.
func (d *VersionDiffer) packageVersions(ctx context.Context, ref string) ([]string, []domain.PackageVersion, []domain.Diagnostic, error) {
	dirs, err := d.source.ListPackageDirs(ctx, d.opts.Repo, d.opts.PackagesDir, ref)
	if err != nil {
		return nil, nil, nil, err
	}

	versions := make([]string, len(dirs))
	failures := make([]error, len(dirs))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(d.opts.Concurrency)
	for i, dir := range dirs {
		i, dir := i, dir
		eg.Go(func() error {
			metaPath := path.Join(d.opts.PackagesDir, dir, d.opts.MetaFile)
			data, err := d.source.GetFile(egCtx, d.opts.Repo, metaPath, ref)
			if err != nil {
				if errors.Is(err, gateway.ErrNotFound) {
					failures[i] = err
					return nil
				}
				return fmt.Errorf("failed to fetch metadata of %s at %s: %w", dir, ref, err)
			}
			if versions[i], err = domain.ParseMetaVersion(data); err != nil {
				failures[i] = err
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, nil, err
	}

	out := make([]domain.PackageVersion, 0, len(dirs))
	var diags []domain.Diagnostic
	for i, dir := range dirs {
		if failures[i] != nil {
			diags = append(diags, domain.Diagnostic{
				Repo:    d.opts.Repo + "@" + ref,
				Package: dir,
				Stage:   domain.StagePackageMeta,
				Reason:  failures[i].Error(),
			})
			continue
		}
		out = append(out, domain.PackageVersion{Name: dir, Version: versions[i]})
	}
	return dirs, out, diags, nil
}

// DiffVersions pairs packages by name and returns those whose versions differ,
// in the order of latest. Packages present on one side only are not reported.
func DiffVersions(latest, main []domain.PackageVersion) []domain.VersionDiff {
	diffs := make([]domain.VersionDiff, 0)
	for _, l := range latest {
		for _, m := range main {
			if l.Name == m.Name && l.Version != m.Version {
				diffs = append(diffs, domain.VersionDiff{
					PackageName:       l.Name,
					LatestVersion:     l.Version,
					MainBranchVersion: m.Version,
				})
			}
		}
	}
	return diffs
}

// packageSetChanges returns the package directories only on main (added) and
// only on the latest release (removed).
func packageSetChanges(latest, main []string) (added, removed []string) {
	latestSet := make(map[string]struct{}, len(latest))
	for _, name := range latest {
		latestSet[name] = struct{}{}
	}
	mainSet := make(map[string]struct{}, len(main))
	for _, name := range main {
		mainSet[name] = struct{}{}
	}
	added, removed = make([]string, 0), make([]string, 0)
	for name := range mainSet {
		if _, ok := latestSet[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range latestSet {
		if _, ok := mainSet[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// candidates turns pull requests into one PRCandidate per package, sorted by package.
// Pull requests with a malformed head ref become diagnostics.
func candidates(repo string, prs []gateway.PullRequest, latest map[string]string) ([]domain.PRCandidate, []domain.Diagnostic) {
	byPackage := make(map[string]domain.PRCandidate)
	var diags []domain.Diagnostic
	for _, pr := range prs {
		pkg, err := domain.PackageFromHeadRef(pr.HeadRef)
		if err != nil {
			diags = append(diags, domain.Diagnostic{Repo: repo, Stage: domain.StageHeadRef, Reason: err.Error()})
			continue
		}
		byPackage[pkg] = domain.PRCandidate{Package: pkg, LatestVersion: latest[pkg]}
	}

	out := make([]domain.PRCandidate, 0, len(byPackage))
	for _, c := range byPackage {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Package < out[j].Package
	})
	return out, diags
}

func versionsByName(versions []domain.PackageVersion) map[string]string {
	m := make(map[string]string, len(versions))
	for _, v := range versions {
		m[v.Name] = v.Version
	}
	return m
}
