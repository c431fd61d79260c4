package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v62/github"
)

const perPage = 100

// ListOrgRepos lists every repository of org.
func (g *GitHubGateway) ListOrgRepos(ctx context.Context, org string) ([]Repository, error) {
	g.logger.Info("Fetching organization repositories", "org", org)
	opts := &github.RepositoryListByOrgOptions{Type: "all", ListOptions: github.ListOptions{PerPage: perPage}}
	var repos []Repository
	for {
		var resp *github.Response
		page, err := Do(ctx, g.fetcher, func(ctx context.Context) ([]*github.Repository, error) {
			var err error
			var page []*github.Repository
			page, resp, err = g.restClient.Repositories.ListByOrg(ctx, org, opts)
			return page, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories of %s: %w", org, err)
		}
		for _, r := range page {
			repos = append(repos, Repository{
				FullName: r.GetFullName(),
				Fork:     r.GetFork(),
				Archived: r.GetArchived(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		g.logger.Debug("  Fetching next page of repositories...")
	}
	return repos, nil
}

// ListContributors returns the logins of repo's contributors. Anonymous contributors are skipped.
func (g *GitHubGateway) ListContributors(ctx context.Context, repo string) ([]string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	opts := &github.ListContributorsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	var logins []string
	for {
		var resp *github.Response
		page, err := Do(ctx, g.fetcher, func(ctx context.Context) ([]*github.Contributor, error) {
			var err error
			var page []*github.Contributor
			page, resp, err = g.restClient.Repositories.ListContributors(ctx, owner, name, opts)
			return page, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list contributors of %s: %w", repo, err)
		}
		for _, c := range page {
			if login := c.GetLogin(); login != "" {
				logins = append(logins, login)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return logins, nil
}

// ListCommits lists commits on repo's default branch authored by author, newest first.
func (g *GitHubGateway) ListCommits(ctx context.Context, repo, author string, since time.Time) ([]Commit, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	opts := &github.CommitsListOptions{Author: author, Since: since, ListOptions: github.ListOptions{PerPage: perPage}}
	var commits []Commit
	for {
		var resp *github.Response
		page, err := Do(ctx, g.fetcher, func(ctx context.Context) ([]*github.RepositoryCommit, error) {
			var err error
			var page []*github.RepositoryCommit
			page, resp, err = g.restClient.Repositories.ListCommits(ctx, owner, name, opts)
			return page, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list commits of %s in %s: %w", author, repo, err)
		}
		for _, c := range page {
			commits = append(commits, Commit{
				SHA:        c.GetSHA(),
				AuthorDate: c.GetCommit().GetAuthor().GetDate().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return commits, nil
}

// GetUserCreatedAt returns the account creation time of login. Results are memoised per gateway.
func (g *GitHubGateway) GetUserCreatedAt(ctx context.Context, login string) (time.Time, error) {
	g.mu.Lock()
	createdAt, ok := g.userCreatedAt[login]
	g.mu.Unlock()
	if ok {
		return createdAt, nil
	}

	user, err := Do(ctx, g.fetcher, func(ctx context.Context) (*github.User, error) {
		user, _, err := g.restClient.Users.Get(ctx, login)
		return user, err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get user %s: %w", login, err)
	}
	createdAt = user.GetCreatedAt().Time

	g.mu.Lock()
	g.userCreatedAt[login] = createdAt
	g.mu.Unlock()
	return createdAt, nil
}

// ListIssueSubmitters returns the submitter login of every issue on repo, open or closed.
// Pull requests are issues in the REST API and are included.
func (g *GitHubGateway) ListIssueSubmitters(ctx context.Context, repo string) ([]string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	opts := &github.IssueListByRepoOptions{State: "all", ListOptions: github.ListOptions{PerPage: perPage}}
	var submitters []string
	for {
		var resp *github.Response
		page, err := Do(ctx, g.fetcher, func(ctx context.Context) ([]*github.Issue, error) {
			var err error
			var page []*github.Issue
			page, resp, err = g.restClient.Issues.ListByRepo(ctx, owner, name, opts)
			return page, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list issues of %s: %w", repo, err)
		}
		for _, issue := range page {
			if login := issue.GetUser().GetLogin(); login != "" {
				submitters = append(submitters, login)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		g.logger.Debug("  Fetching next page of issues...", "repo", repo)
	}
	return submitters, nil
}
