package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestGateway creates a GitHubGateway that communicates with a mock HTTP server.
// GraphQL requests are served at /graphql.
func setupTestGateway(t *testing.T, handler http.Handler, fetcherOpts ...FetcherOption) *GitHubGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	// Setup REST client to point to the mock server.
	restClient := github.NewClient(server.Client())
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	restClient.BaseURL = baseURL

	// Use NewEnterpriseClient to point the GraphQL client to our mock server's URL.
	graphqlClient := githubv4.NewEnterpriseClient(server.URL+"/graphql", server.Client())

	policy := RetryPolicy{SafetyMargin: DefaultSafetyMargin, MaxRetries: 3}
	return newGitHubGateway(restClient, graphqlClient, policy, log.New(io.Discard), fetcherOpts...)
}

func TestGitHubGateway_ListContributors(t *testing.T) {
	testCases := []struct {
		name           string
		handlerFunc    func(w http.ResponseWriter, r *http.Request)
		expected       []string
		expectError    bool
		expectedErrMsg string
	}{
		{
			name: "happy path - anonymous contributors are skipped",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/repos/org/repo-a/contributors", r.URL.Path)
				w.WriteHeader(http.StatusOK)
				fmt.Fprint(w, `[{"login":"alice"},{"login":"bob"},{"type":"Anonymous"}]`)
			},
			expected: []string{"alice", "bob"},
		},
		{
			name: "error case - GitHub API returns an error",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"message": "Internal Server Error"}`)
			},
			expectError:    true,
			expectedErrMsg: "failed to list contributors of org/repo-a",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gateway := setupTestGateway(t, http.HandlerFunc(tc.handlerFunc))
			logins, err := gateway.ListContributors(context.Background(), "org/repo-a")
			if tc.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectedErrMsg)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, logins)
			}
		})
	}
}

func TestGitHubGateway_ListContributors_InvalidRepo(t *testing.T) {
	gateway := setupTestGateway(t, http.NotFoundHandler())
	_, err := gateway.ListContributors(context.Background(), "no-slash")
	assert.ErrorContains(t, err, "expected owner/name")
}

func TestGitHubGateway_ListIssueSubmitters_Paginates(t *testing.T) {
	var serverURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/org/repo-a/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"number":3,"user":{"login":"carol"}}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/org/repo-a/issues?state=all&page=2>; rel="next"`, serverURL))
		fmt.Fprint(w, `[{"number":1,"user":{"login":"alice"}},{"number":2,"user":{"login":"bob"}}]`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	restClient := github.NewClient(server.Client())
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	restClient.BaseURL = baseURL
	gateway := newGitHubGateway(restClient, nil, DefaultRetryPolicy(), log.New(io.Discard))

	submitters, err := gateway.ListIssueSubmitters(context.Background(), "org/repo-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, submitters)
}

func TestGitHubGateway_ListCommits(t *testing.T) {
	since := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/org/repo-a/commits", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("author"))
		assert.Equal(t, since.Format(time.RFC3339), r.URL.Query().Get("since"))
		fmt.Fprint(w, `[{"sha":"b","commit":{"author":{"date":"2023-09-02T10:00:00Z"}}},{"sha":"a","commit":{"author":{"date":"2023-07-01T08:00:00Z"}}}]`)
	}
	gateway := setupTestGateway(t, http.HandlerFunc(handler))

	commits, err := gateway.ListCommits(context.Background(), "org/repo-a", "alice", since)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "b", commits[0].SHA)
	assert.Equal(t, time.Date(2023, 9, 2, 10, 0, 0, 0, time.UTC), commits[0].AuthorDate.UTC())
	assert.Equal(t, time.Date(2023, 7, 1, 8, 0, 0, 0, time.UTC), commits[1].AuthorDate.UTC())
}

func TestGitHubGateway_GetUserCreatedAt_Memoised(t *testing.T) {
	hits := 0
	handler := func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/users/alice", r.URL.Path)
		fmt.Fprint(w, `{"login":"alice","created_at":"2015-04-01T00:00:00Z"}`)
	}
	gateway := setupTestGateway(t, http.HandlerFunc(handler))

	for i := 0; i < 3; i++ {
		createdAt, err := gateway.GetUserCreatedAt(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2015, 4, 1, 0, 0, 0, 0, time.UTC), createdAt.UTC())
	}
	assert.Equal(t, 1, hits)
}

func TestGitHubGateway_RetriesAfterRateLimit(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/org/repo-a/contributors", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// Reset already in the past so the client does not short-circuit the retry.
			w.Header().Set("X-RateLimit-Limit", "5000")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10))
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message":"API rate limit exceeded for 127.0.0.1."}`)
			return
		}
		fmt.Fprint(w, `[{"login":"alice"}]`)
	})
	mux.HandleFunc("/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"resources":{"core":{"limit":5000,"remaining":0,"reset":%d}}}`, time.Now().Add(-time.Second).Unix())
	})

	rec := &recordingSleep{}
	gateway := setupTestGateway(t, mux, WithSleep(rec.sleep))

	logins, err := gateway.ListContributors(context.Background(), "org/repo-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, logins)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, gateway.Fetcher().Retries())
}

func TestGitHubGateway_Quota(t *testing.T) {
	reset := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rate_limit", r.URL.Path)
		fmt.Fprintf(w, `{"resources":{
			"core":{"limit":5000,"remaining":42,"reset":%d},
			"search":{"limit":30,"remaining":7,"reset":%d},
			"graphql":{"limit":5000,"remaining":0,"reset":%d}}}`, reset.Unix(), reset.Unix(), reset.Unix())
	}
	gateway := setupTestGateway(t, http.HandlerFunc(handler))

	testCases := []struct {
		resource  Resource
		remaining int
		limit     int
	}{
		{resource: ResourceCore, remaining: 42, limit: 5000},
		{resource: ResourceSearch, remaining: 7, limit: 30},
		{resource: ResourceGraphQL, remaining: 0, limit: 5000},
	}
	for _, tc := range testCases {
		t.Run(string(tc.resource), func(t *testing.T) {
			quota, err := gateway.Quota(context.Background(), tc.resource)
			require.NoError(t, err)
			assert.Equal(t, tc.remaining, quota.Remaining)
			assert.Equal(t, tc.limit, quota.Limit)
			assert.True(t, reset.Equal(quota.ResetAt))
		})
	}
}

func TestGitHubGateway_GraphQLRateLimitWaitsForGraphQLReset(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute)
	graphqlCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		graphqlCalls++
		if graphqlCalls <= 2 {
			fmt.Fprint(w, `{"errors":[{"type":"RATE_LIMITED","message":"API rate limit exceeded for user ID 1."}]}`)
			return
		}
		fmt.Fprint(w, `{"data":{"repository":{"pullRequests":{"pageInfo":{"hasNextPage":false},"nodes":[{"number":7,"headRefName":"update/numpy","labels":{"nodes":[]}}]}}}}`)
	})
	mux.HandleFunc("/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"resources":{
			"core":{"limit":5000,"remaining":4999,"reset":%d},
			"graphql":{"limit":5000,"remaining":0,"reset":%d}}}`, time.Now().Add(time.Hour).Unix(), reset.Unix())
	})

	rec := &recordingSleep{}
	gateway := setupTestGateway(t, mux, WithSleep(rec.sleep))

	prs, err := gateway.ListLabelledPullRequests(context.Background(), "org/distro", []string{"update package"})
	require.NoError(t, err)
	assert.Equal(t, []PullRequest{{Number: 7, HeadRef: "update/numpy"}}, prs)
	assert.Equal(t, 3, graphqlCalls)
	assert.Equal(t, 2, gateway.Fetcher().Retries())
	require.Len(t, rec.waits, 2)
	for _, wait := range rec.waits {
		assert.InDelta(t, (30 * time.Minute).Seconds(), wait.Seconds(), 5)
	}
}

func TestGitHubGateway_LatestReleaseRef(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		expected string
	}{
		{name: "tag name wins", body: `{"tag_name":"v0.25.0","target_commitish":"main"}`, expected: "v0.25.0"},
		{name: "falls back to target commitish", body: `{"target_commitish":"0.25.x"}`, expected: "0.25.x"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/repos/org/distro/releases/latest", r.URL.Path)
				fmt.Fprint(w, tc.body)
			}
			gateway := setupTestGateway(t, http.HandlerFunc(handler))
			ref, err := gateway.LatestReleaseRef(context.Background(), "org/distro")
			require.NoError(t, err)
			assert.Equal(t, tc.expected, ref)
		})
	}
}

func TestGitHubGateway_ListPackageDirsAndGetFile(t *testing.T) {
	meta := "package:\n  name: numpy\n  version: 1.26.4\n"
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/org/distro/contents/packages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v1", r.URL.Query().Get("ref"))
		fmt.Fprint(w, `[{"type":"dir","name":"scipy"},{"type":"file","name":"README.md"},{"type":"dir","name":"numpy"}]`)
	})
	mux.HandleFunc("/repos/org/distro/contents/packages/numpy/meta.yaml", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v1", r.URL.Query().Get("ref"))
		fmt.Fprintf(w, `{"type":"file","encoding":"base64","name":"meta.yaml","content":%q}`, base64.StdEncoding.EncodeToString([]byte(meta)))
	})
	gateway := setupTestGateway(t, mux)

	dirs, err := gateway.ListPackageDirs(context.Background(), "org/distro", "packages", "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"numpy", "scipy"}, dirs)

	content, err := gateway.GetFile(context.Background(), "org/distro", "packages/numpy/meta.yaml", "v1")
	require.NoError(t, err)
	assert.Equal(t, meta, string(content))
}

func TestGitHubGateway_GetFileErrors(t *testing.T) {
	testCases := []struct {
		name         string
		status       int
		wantNotFound bool
	}{
		{name: "missing file", status: http.StatusNotFound, wantNotFound: true},
		{name: "server error", status: http.StatusBadGateway, wantNotFound: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"message":"boom"}`)
			}
			gateway := setupTestGateway(t, http.HandlerFunc(handler))

			_, err := gateway.GetFile(context.Background(), "org/distro", "packages/numpy/meta.yaml", "main")
			require.Error(t, err)
			assert.Equal(t, tc.wantNotFound, errors.Is(err, ErrNotFound))
		})
	}
}

func TestGitHubGateway_ListOpenPullRequests(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/org/distro/pulls", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		fmt.Fprint(w, `[{"number":7,"head":{"ref":"update/numpy"},"labels":[{"name":"update package"}]},{"number":8,"head":{"ref":"docs"}}]`)
	}
	gateway := setupTestGateway(t, http.HandlerFunc(handler))

	prs, err := gateway.ListOpenPullRequests(context.Background(), "org/distro")
	require.NoError(t, err)
	assert.Equal(t, []PullRequest{
		{Number: 7, HeadRef: "update/numpy", Labels: []string{"update package"}},
		{Number: 8, HeadRef: "docs"},
	}, prs)
}

func TestGitHubGateway_ListLabelledPullRequests(t *testing.T) {
	testCases := []struct {
		name           string
		responseBody   string
		expected       []PullRequest
		expectError    bool
		expectedErrMsg string
	}{
		{
			name:         "happy path",
			responseBody: `{"data":{"repository":{"pullRequests":{"pageInfo":{"hasNextPage":false},"nodes":[{"number":7,"headRefName":"update/numpy","labels":{"nodes":[{"name":"update package"}]}}]}}}}`,
			expected:     []PullRequest{{Number: 7, HeadRef: "update/numpy", Labels: []string{"update package"}}},
		},
		{
			name:           "error case",
			responseBody:   `{"errors":[{"message":"Something went wrong"}]}`,
			expectError:    true,
			expectedErrMsg: "failed to execute GraphQL query",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/graphql", r.URL.Path)
				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				assert.Contains(t, string(body), "update package")
				assert.Contains(t, string(body), "pullRequests(states: OPEN")
				w.WriteHeader(http.StatusOK)
				fmt.Fprint(w, tc.responseBody)
			}
			gateway := setupTestGateway(t, http.HandlerFunc(handler))

			prs, err := gateway.ListLabelledPullRequests(context.Background(), "org/distro", []string{"automatic pr", "update package"})
			if tc.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectedErrMsg)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expected, prs)
			}
		})
	}
}
