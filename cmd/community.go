package cmd

import (
	"fmt"
	"strings"

	"github.com/naka-gawa/github-community/internal/domain"
	"github.com/naka-gawa/github-community/internal/identity"
	"github.com/naka-gawa/github-community/internal/store"
	"github.com/naka-gawa/github-community/internal/usecase"
	"github.com/spf13/cobra"
)

var communityFlags outputFlags

var communityCmd = &cobra.Command{
	Use:   "community",
	Short: "Aggregates an organisation's contributors and issue submitters as JSON",
	Long: `Walks every repository of an organisation (or the repositories given with
--repo) and writes a community snapshot. Usernames are replaced by SHA-256
digests (optionally salted with identity.salt) before anything is stored.`,
	Example: `  github-community community --org my-org -o community.json
  github-community community --org my-org --repo api --repo web --diagnostics skipped.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}

		org, _ := cmd.Flags().GetString("org")
		if org == "" {
			org = cfg.Community.Org
		}
		repos, _ := cmd.Flags().GetStringSlice("repo")
		if len(repos) == 0 {
			repos = cfg.Community.Repos
		}
		if org == "" && len(repos) == 0 {
			return fmt.Errorf("an organisation is required: use --org or set community.org")
		}
		repos, err = qualifyRepos(org, repos)
		if err != nil {
			return err
		}

		opts := cfg.CommunityOptions()
		if cmd.Flags().Changed("lookback-months") {
			opts.LookbackMonths, _ = cmd.Flags().GetInt("lookback-months")
		}
		if cmd.Flags().Changed("include-forks") {
			opts.IncludeForks, _ = cmd.Flags().GetBool("include-forks")
		}
		if cmd.Flags().Changed("include-archived") {
			opts.IncludeArchived, _ = cmd.Flags().GetBool("include-archived")
		}

		// Inject dependencies and run the main business logic.
		githubGateway, err := newGateway(cfg, logger)
		if err != nil {
			return err
		}
		aggregator := usecase.NewCommunityAggregator(githubGateway, identity.NewHasher(cfg.Identity.Salt), logger, opts)

		var snapshot *domain.CommunitySnapshot
		subject := org
		if len(repos) > 0 {
			subject = strings.Join(repos, ",")
			snapshot, err = aggregator.Aggregate(ctx, repos)
		} else {
			snapshot, err = aggregator.AggregateOrg(ctx, org)
		}
		if err != nil {
			return fmt.Errorf("failed to aggregate community: %w", err)
		}
		logger.Info("Rate limit retries", "count", githubGateway.Fetcher().Retries())

		diags := snapshot.Diagnostics
		if diags == nil {
			diags = []domain.Diagnostic{}
		}
		return communityFlags.write(ctx, cfg, logger, store.KindCommunity, subject, snapshot, diags)
	},
}

// qualifyRepos prefixes bare repository names with org.
func qualifyRepos(org string, repos []string) ([]string, error) {
	out := make([]string, 0, len(repos))
	for _, r := range repos {
		if !strings.Contains(r, "/") {
			if org == "" {
				return nil, fmt.Errorf("repository %q needs an owner: use owner/name or --org", r)
			}
			r = org + "/" + r
		}
		out = append(out, r)
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(communityCmd)
	communityCmd.Flags().String("org", "", "Target GitHub organization name")
	communityCmd.Flags().StringSlice("repo", nil, "Only walk these repositories (name or owner/name, repeatable)")
	communityCmd.Flags().Int("lookback-months", usecase.DefaultLookbackMonths, "Inactivity window in months")
	communityCmd.Flags().Bool("include-forks", false, "Include forked repositories")
	communityCmd.Flags().Bool("include-archived", false, "Include archived repositories")
	addOutputFlags(communityCmd, &communityFlags)
}
