package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/naka-gawa/github-community/internal/store"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:       "history <community|distro>",
	Short:     "Lists archived snapshots",
	Long:      `Lists the snapshots recorded with --archive, newest first. With --subject, prints the latest snapshot of that organisation or repository.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{store.KindCommunity, store.KindDistro},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup(cmd)
		if err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("archive")
		if path == "" {
			path = cfg.Archive.Path
		}
		if path == "" {
			return errors.New("no archive configured: use --archive or set archive.path")
		}

		archive, err := store.OpenArchive(path)
		if err != nil {
			return err
		}
		defer archive.Close()

		kind := args[0]
		out := cmd.OutOrStdout()
		if subject, _ := cmd.Flags().GetString("subject"); subject != "" {
			rec, err := archive.Latest(cmd.Context(), kind, subject)
			if err != nil {
				return fmt.Errorf("%s snapshot of %s: %w", kind, subject, err)
			}
			_, err = out.Write(rec.Document)
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		records, err := archive.List(cmd.Context(), kind, limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tSUBJECT\tID")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\n", rec.CreatedAt.Local().Format(time.DateTime), rec.Subject, rec.ID)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().String("archive", "", "SQLite archive (overrides archive.path)")
	historyCmd.Flags().Int("limit", 20, "Maximum number of snapshots to list (0 for all)")
	historyCmd.Flags().String("subject", "", "Print the latest snapshot of this organisation or repository")
}
