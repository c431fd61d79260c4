package cmd

import (
	"github.com/naka-gawa/github-community/internal/report"
	"github.com/naka-gawa/github-community/internal/store"
	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Prints descriptive statistics of a snapshot file",
}

var summaryCommunityCmd = &cobra.Command{
	Use:   "community <file>",
	Short: "Summarise a community snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshot, err := store.ReadCommunity(args[0])
		if err != nil {
			return err
		}
		sum, err := report.SummarizeCommunity(snapshot)
		if err != nil {
			return err
		}
		return store.Encode(cmd.OutOrStdout(), sum)
	},
}

var summaryDistroCmd = &cobra.Command{
	Use:   "distro <file>",
	Short: "Summarise a distribution snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshot, err := store.ReadDistro(args[0])
		if err != nil {
			return err
		}
		return store.Encode(cmd.OutOrStdout(), report.SummarizeDistro(snapshot))
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
	summaryCmd.AddCommand(summaryCommunityCmd, summaryDistroCmd)
}
