package domain

import (
	"fmt"
	"strings"
)

// PackageVersion is one package and the version its meta file declares on a given ref.
type PackageVersion struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// VersionDiff is emitted for a package whose version differs between the
// latest release and the main branch.
type VersionDiff struct {
	PackageName       string `json:"package_name"`
	LatestVersion     string `json:"latest_version"`
	MainBranchVersion string `json:"main_branch_version"`
}

// PRCandidate is a package that an open pull request is about to release.
// LatestVersion is the package's version on the latest release, empty for new packages.
type PRCandidate struct {
	Package       string `json:"package"`
	LatestVersion string `json:"latest_version,omitempty"`
}

// DistroSnapshot is the persisted result of a distribution version diff.
type DistroSnapshot struct {
	LatestRef                string        `json:"latest_ref"`
	MainRef                  string        `json:"main_ref"`
	PackagesWithDiffVersions []VersionDiff `json:"packages_with_different_versions"`
	LabelledCandidates       []PRCandidate `json:"previous_and_maybe_next_labels"`
	AllCandidates            []PRCandidate `json:"all_previous_and_maybe_next"`
	AddedPackages            []string      `json:"added_packages"`
	RemovedPackages          []string      `json:"removed_packages"`

	Diagnostics []Diagnostic `json:"-"`
}

// HeadRefError reports a pull request head ref that does not have the
// <prefix>/<package> form.
type HeadRefError struct {
	Ref    string
	Reason string
}

func (e *HeadRefError) Error() string {
	return fmt.Sprintf("malformed head ref %q: %s", e.Ref, e.Reason)
}

// PackageFromHeadRef extracts the package name from a head ref such as
// "release/pkgX". The second path segment is the package name.
func PackageFromHeadRef(ref string) (string, error) {
	segments := strings.Split(ref, "/")
	if len(segments) < 2 {
		return "", &HeadRefError{Ref: ref, Reason: "expected <prefix>/<package>"}
	}
	if segments[0] == "" || segments[1] == "" {
		return "", &HeadRefError{Ref: ref, Reason: "empty path segment"}
	}
	return segments[1], nil
}
