// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
)

// Repository is an organisation repository as returned by ListOrgRepos.
type Repository struct {
	FullName string
	Fork     bool
	Archived bool
}

// Commit holds the fields of a commit the aggregator needs.
type Commit struct {
	SHA        string
	AuthorDate time.Time
}

// PullRequest holds the fields of an open pull request the version differ needs.
type PullRequest struct {
	Number  int
	HeadRef string
	Labels  []string
}

// CommunitySource is what the community aggregator needs from GitHub.
// Repositories are addressed as "owner/name".
type CommunitySource interface {
	ListOrgRepos(ctx context.Context, org string) ([]Repository, error)
	ListContributors(ctx context.Context, repo string) ([]string, error)
	// ListCommits lists commits authored by author. A zero since lists the full history.
	ListCommits(ctx context.Context, repo, author string, since time.Time) ([]Commit, error)
	GetUserCreatedAt(ctx context.Context, login string) (time.Time, error)
	// ListIssueSubmitters returns the login of every issue submitter, issues of all states.
	ListIssueSubmitters(ctx context.Context, repo string) ([]string, error)
}

// DistroSource is what the distribution version differ needs from GitHub.
type DistroSource interface {
	LatestReleaseRef(ctx context.Context, repo string) (string, error)
	ListPackageDirs(ctx context.Context, repo, dir, ref string) ([]string, error)
	GetFile(ctx context.Context, repo, path, ref string) ([]byte, error)
	ListOpenPullRequests(ctx context.Context, repo string) ([]PullRequest, error)
	ListLabelledPullRequests(ctx context.Context, repo string, labels []string) ([]PullRequest, error)
}

// Options configures a GitHubGateway.
type Options struct {
	// APIURL points the REST client at a GitHub Enterprise Server, e.g. https://ghe.example.com/api/v3/.
	APIURL string
	// GraphQLURL is the matching GraphQL endpoint, e.g. https://ghe.example.com/api/graphql.
	GraphQLURL string
	Retry      RetryPolicy
}

// GitHubGateway implements CommunitySource and DistroSource on top of go-github and githubv4.
// Every call goes through a RateLimitedFetcher.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	fetcher       *RateLimitedFetcher
	logger        *log.Logger

	mu            sync.Mutex
	userCreatedAt map[string]time.Time
}

var (
	_ CommunitySource = (*GitHubGateway)(nil)
	_ DistroSource    = (*GitHubGateway)(nil)
	_ QuotaChecker    = (*GitHubGateway)(nil)
)

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
func NewGitHubGateway(token string, opts Options, logger *log.Logger) (*GitHubGateway, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: ts,
		},
	}

	restClient := github.NewClient(httpClient)
	graphqlClient := githubv4.NewClient(httpClient)
	if opts.APIURL != "" {
		restClient, err = restClient.WithEnterpriseURLs(opts.APIURL, opts.APIURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", opts.APIURL, err)
		}
	}
	if opts.GraphQLURL != "" {
		graphqlClient = githubv4.NewEnterpriseClient(opts.GraphQLURL, httpClient)
	}
	return newGitHubGateway(restClient, graphqlClient, opts.Retry, logger), nil
}

func newGitHubGateway(restClient *github.Client, graphqlClient *githubv4.Client, policy RetryPolicy, logger *log.Logger, fetcherOpts ...FetcherOption) *GitHubGateway {
	g := &GitHubGateway{
		restClient:    restClient,
		graphqlClient: graphqlClient,
		logger:        logger,
		userCreatedAt: make(map[string]time.Time),
	}
	g.fetcher = NewRateLimitedFetcher(g, policy, logger, fetcherOpts...)
	return g
}

// Fetcher returns the rate-limited fetcher every gateway call goes through.
func (g *GitHubGateway) Fetcher() *RateLimitedFetcher {
	return g.fetcher
}

// Quota reports the quota of resource. The rate_limit endpoint itself does not consume quota.
func (g *GitHubGateway) Quota(ctx context.Context, resource Resource) (Quota, error) {
	limits, err := g.RateLimits(ctx)
	if err != nil {
		return Quota{}, err
	}
	var rate *github.Rate
	switch resource {
	case ResourceSearch:
		rate = limits.GetSearch()
	case ResourceGraphQL:
		rate = limits.GetGraphQL()
	default:
		rate = limits.GetCore()
	}
	if rate == nil {
		return Quota{}, fmt.Errorf("rate limit response has no %s quota", resource)
	}
	return Quota{Remaining: rate.Remaining, Limit: rate.Limit, ResetAt: rate.Reset.Time}, nil
}

// RateLimits fetches the current GitHub API rate limit status.
func (g *GitHubGateway) RateLimits(ctx context.Context) (*github.RateLimits, error) {
	limits, _, err := g.restClient.RateLimit.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limits: %w", err)
	}
	return limits, nil
}

// splitRepo splits "owner/name".
func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/name", repo)
	}
	return owner, name, nil
}
