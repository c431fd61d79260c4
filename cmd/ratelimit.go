package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/spf13/cobra"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Check GitHub API rate limit status",
	Long:  `Display the current GitHub API rate limit status for the core, search and GraphQL APIs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		githubGateway, err := newGateway(cfg, logger)
		if err != nil {
			return err
		}
		limits, err := githubGateway.RateLimits(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "GitHub API Rate Limits:")
		fmt.Fprintln(out)
		printRate(out, "Core API:  ", limits.Core)
		printRate(out, "Search API:", limits.Search)
		printRate(out, "GraphQL:   ", limits.GraphQL)

		if warning := quotaWarning(limits.Core, cfg.RetryPolicy().SafetyMargin); warning != "" {
			fmt.Fprintf(out, "\n%s\n", warning)
		}
		return nil
	},
}

// quotaWarning returns a notice when the core quota is below margin.
func quotaWarning(core *github.Rate, margin int) string {
	if core == nil || core.Remaining >= margin {
		return ""
	}
	return fmt.Sprintf("Core quota is below the safety margin of %d; a request rejected for rate limiting will wait until %s before retrying.",
		margin, core.Reset.Time.Local().Format(time.DateTime))
}

func printRate(w io.Writer, label string, rate *github.Rate) {
	if rate == nil {
		return
	}
	resetIn := time.Until(rate.Reset.Time).Round(time.Second)
	if resetIn < 0 {
		resetIn = 0
	}
	fmt.Fprintf(w, "%s %d/%d remaining (resets in %s)\n", label, rate.Remaining, rate.Limit, resetIn)
}

func init() {
	rootCmd.AddCommand(ratelimitCmd)
}
