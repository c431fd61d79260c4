package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/naka-gawa/github-community/internal/config"
	"github.com/naka-gawa/github-community/internal/domain"
	"github.com/naka-gawa/github-community/internal/report"
	"github.com/naka-gawa/github-community/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command with args in an isolated environment.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(config.EnvConfigPath, "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSummaryDistro(t *testing.T) {
	path := filepath.Join(t.TempDir(), "distro.json")
	require.NoError(t, store.WriteJSON(path, &domain.DistroSnapshot{
		LatestRef:                "0.25.0",
		MainRef:                  "main",
		PackagesWithDiffVersions: []domain.VersionDiff{{PackageName: "pkgA", LatestVersion: "1.0", MainBranchVersion: "1.1"}},
		AllCandidates:            []domain.PRCandidate{{Package: "pkgA", LatestVersion: "1.0"}},
	}))

	out, err := run(t, "summary", "distro", path)
	require.NoError(t, err)

	var sum report.DistroSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 1, sum.DifferentVersions)
	assert.Equal(t, 1, sum.PendingDiffs)
}

func TestSummaryCommunity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "community.json")
	require.NoError(t, store.WriteJSON(path, &domain.CommunitySnapshot{
		Authors:          []string{"a", "b"},
		Submitters:       []string{"b"},
		AuthorRepoCounts: map[string]int{"a": 1, "b": 3},
		AuthorSubmitters: []string{"b"},
		Interactions:     map[string][]string{"a": {"b"}},
		FirstCommitByAuthor: map[string]string{
			"a": "01-01-2021",
			"b": domain.NoCommits,
		},
	}))

	out, err := run(t, "summary", "community", path)
	require.NoError(t, err)

	var sum report.CommunitySummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 2, sum.Authors)
	assert.Equal(t, 1, sum.AuthorSubmitters)
	assert.Equal(t, 1, sum.NoCommitAuthors)
	assert.Equal(t, 2.0, sum.ReposPerAuthor.Mean)
}

func TestSnapshotCommandsRequireToken(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{name: "community", args: []string{"community", "--org", "my-org"}},
		{name: "distro", args: []string{"distro", "--repo", "my-org/distro"}},
		{name: "ratelimit", args: []string{"ratelimit"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(config.EnvToken, "")
			require.NoError(t, os.Unsetenv(config.EnvToken))
			_, err := run(t, tc.args...)
			assert.ErrorIs(t, err, config.ErrNoToken)
		})
	}
}

func TestHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	archive, err := store.OpenArchive(path)
	require.NoError(t, err)
	_, err = archive.Save(context.Background(), store.KindDistro, "my-org/distro", map[string]string{"latest_ref": "0.25.0"})
	require.NoError(t, err)
	require.NoError(t, archive.Close())

	out, err := run(t, "history", "distro", "--archive", path)
	require.NoError(t, err)
	assert.Contains(t, out, "SUBJECT")
	assert.Contains(t, out, "my-org/distro")

	out, err = run(t, "history", "distro", "--archive", path, "--subject", "my-org/distro")
	require.NoError(t, err)
	assert.JSONEq(t, `{"latest_ref": "0.25.0"}`, out)

	_, err = run(t, "history", "distro", "--archive", path, "--subject", "unknown/repo")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = run(t, "history", "releases", "--archive", path)
	assert.Error(t, err)
}

func TestQualifyRepos(t *testing.T) {
	repos, err := qualifyRepos("my-org", []string{"api", "other/web"})
	require.NoError(t, err)
	assert.Equal(t, []string{"my-org/api", "other/web"}, repos)

	_, err = qualifyRepos("", []string{"api"})
	assert.Error(t, err)
}

func TestQuotaWarning(t *testing.T) {
	reset := github.Timestamp{Time: time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC)}
	testCases := []struct {
		name string
		core *github.Rate
		want string
	}{
		{name: "no core quota", core: nil},
		{name: "above margin", core: &github.Rate{Remaining: 4999, Reset: reset}},
		{name: "at margin", core: &github.Rate{Remaining: 100, Reset: reset}},
		{name: "below margin", core: &github.Rate{Remaining: 99, Reset: reset}, want: "a request rejected for rate limiting will wait until"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := quotaWarning(tc.core, 100)
			if tc.want == "" {
				assert.Empty(t, got)
				return
			}
			assert.Contains(t, got, tc.want)
			assert.Contains(t, got, "safety margin of 100")
			assert.NotContains(t, got, "requests will wait")
		})
	}
}

func TestCommunityHelpDescribesOptionalSalt(t *testing.T) {
	assert.Contains(t, communityCmd.Long, "optionally salted")
	assert.NotContains(t, communityCmd.Long, "by salted")
}
