package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
)

// labelledPullRequestsQuery lists open pull requests carrying any of $labels.
type labelledPullRequestsQuery struct {
	Repository struct {
		PullRequests struct {
			PageInfo struct {
				HasNextPage bool
				EndCursor   githubv4.String
			}
			Nodes []struct {
				Number      int
				HeadRefName string
				Labels      struct {
					Nodes []struct {
						Name string
					}
				} `graphql:"labels(first: 20)"`
			}
		} `graphql:"pullRequests(states: OPEN, labels: $labels, first: 100, after: $cursor)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// ErrNotFound is returned by GetFile when the file does not exist at the ref.
var ErrNotFound = errors.New("file not found")

// LatestReleaseRef resolves the latest published release of repo to a ref
// whose contents reflect that release: the tag, or the target commitish when
// the release has no tag name.
func (g *GitHubGateway) LatestReleaseRef(ctx context.Context, repo string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	g.logger.Debug("Resolving latest release", "repo", repo)
	release, err := Do(ctx, g.fetcher, func(ctx context.Context) (*github.RepositoryRelease, error) {
		release, _, err := g.restClient.Repositories.GetLatestRelease(ctx, owner, name)
		return release, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get latest release of %s: %w", repo, err)
	}
	if tag := release.GetTagName(); tag != "" {
		return tag, nil
	}
	if target := release.GetTargetCommitish(); target != "" {
		return target, nil
	}
	return "", fmt.Errorf("latest release of %s has neither tag nor target commitish", repo)
}

// ListPackageDirs returns the names of the subdirectories of dir at ref, sorted.
func (g *GitHubGateway) ListPackageDirs(ctx context.Context, repo, dir, ref string) ([]string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	opts := &github.RepositoryContentGetOptions{Ref: ref}
	entries, err := Do(ctx, g.fetcher, func(ctx context.Context) ([]*github.RepositoryContent, error) {
		_, entries, _, err := g.restClient.Repositories.GetContents(ctx, owner, name, dir, opts)
		return entries, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s of %s at %s: %w", dir, repo, ref, err)
	}
	var dirs []string
	for _, entry := range entries {
		if entry.GetType() == "dir" {
			dirs = append(dirs, entry.GetName())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// GetFile returns the decoded contents of the file at p on ref. A missing file
// yields an error wrapping ErrNotFound.
func (g *GitHubGateway) GetFile(ctx context.Context, repo, p, ref string) ([]byte, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	opts := &github.RepositoryContentGetOptions{Ref: ref}
	file, err := Do(ctx, g.fetcher, func(ctx context.Context) (*github.RepositoryContent, error) {
		file, _, _, err := g.restClient.Repositories.GetContents(ctx, owner, name, path.Clean(p), opts)
		return file, err
	})
	if err != nil {
		var errResp *github.ErrorResponse
		if errors.As(err, &errResp) && errResp.Response != nil && errResp.Response.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s of %s at %s: %w", p, repo, ref, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s of %s at %s: %w", p, repo, ref, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%s of %s at %s is not a file: %w", p, repo, ref, ErrNotFound)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s of %s: %w", p, repo, err)
	}
	return []byte(content), nil
}

// ListOpenPullRequests lists every open pull request of repo using the REST API.
func (g *GitHubGateway) ListOpenPullRequests(ctx context.Context, repo string) ([]PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("Fetching open pull requests", "repo", repo)
	opts := &github.PullRequestListOptions{State: "open", ListOptions: github.ListOptions{PerPage: perPage}}
	var prs []PullRequest
	for {
		var resp *github.Response
		page, err := Do(ctx, g.fetcher, func(ctx context.Context) ([]*github.PullRequest, error) {
			var err error
			var page []*github.PullRequest
			page, resp, err = g.restClient.PullRequests.List(ctx, owner, name, opts)
			return page, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list pull requests of %s: %w", repo, err)
		}
		for _, pr := range page {
			var labels []string
			for _, l := range pr.Labels {
				labels = append(labels, l.GetName())
			}
			prs = append(prs, PullRequest{
				Number:  pr.GetNumber(),
				HeadRef: pr.GetHead().GetRef(),
				Labels:  labels,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		g.logger.Debug("  Fetching next page of pull requests...")
	}
	return prs, nil
}

// ListLabelledPullRequests lists open pull requests carrying at least one of labels, via GraphQL.
func (g *GitHubGateway) ListLabelledPullRequests(ctx context.Context, repo string, labels []string) ([]PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("Fetching labelled pull requests", "repo", repo, "labels", labels)
	labelVars := make([]githubv4.String, len(labels))
	for i, l := range labels {
		labelVars[i] = githubv4.String(l)
	}
	variables := map[string]interface{}{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(name),
		"labels": labelVars,
		"cursor": (*githubv4.String)(nil),
	}

	var prs []PullRequest
	for {
		q, err := DoOn(ctx, g.fetcher, ResourceGraphQL, func(ctx context.Context) (*labelledPullRequestsQuery, error) {
			var q labelledPullRequestsQuery
			if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
				return nil, err
			}
			return &q, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to execute GraphQL query for labelled pull requests: %w", err)
		}
		for _, node := range q.Repository.PullRequests.Nodes {
			var names []string
			for _, l := range node.Labels.Nodes {
				names = append(names, l.Name)
			}
			prs = append(prs, PullRequest{Number: node.Number, HeadRef: node.HeadRefName, Labels: names})
		}
		if !q.Repository.PullRequests.PageInfo.HasNextPage {
			break
		}
		variables["cursor"] = githubv4.NewString(q.Repository.PullRequests.PageInfo.EndCursor)
		g.logger.Debug("  Fetching next page of labelled pull requests...")
	}
	return prs, nil
}
