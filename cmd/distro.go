package cmd

import (
	"fmt"

	"github.com/naka-gawa/github-community/internal/domain"
	"github.com/naka-gawa/github-community/internal/store"
	"github.com/naka-gawa/github-community/internal/usecase"
	"github.com/spf13/cobra"
)

var distroFlags outputFlags

var distroCmd = &cobra.Command{
	Use:   "distro",
	Short: "Compares package versions between the latest release and the main branch",
	Long: `Reads the version of every package of a distribution repository at its
latest release and on its main branch, lists the packages whose versions
differ, and the packages with an open pull request.`,
	Example: `  github-community distro --repo my-org/distro -o distro.json
  github-community distro --repo my-org/distro --meta-file meta.json --label "update package"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}

		opts := cfg.DistroOptions()
		flags := cmd.Flags()
		if flags.Changed("repo") {
			opts.Repo, _ = flags.GetString("repo")
		}
		if flags.Changed("packages-dir") {
			opts.PackagesDir, _ = flags.GetString("packages-dir")
		}
		if flags.Changed("meta-file") {
			opts.MetaFile, _ = flags.GetString("meta-file")
		}
		if flags.Changed("main-ref") {
			opts.MainRef, _ = flags.GetString("main-ref")
		}
		if flags.Changed("label") {
			opts.Labels, _ = flags.GetStringSlice("label")
		}
		if flags.Changed("concurrency") {
			opts.Concurrency, _ = flags.GetInt("concurrency")
		}
		if opts.Repo == "" {
			return fmt.Errorf("a repository is required: use --repo or set distro.repo")
		}

		githubGateway, err := newGateway(cfg, logger)
		if err != nil {
			return err
		}
		snapshot, err := usecase.NewVersionDiffer(githubGateway, logger, opts).Diff(ctx)
		if err != nil {
			return fmt.Errorf("failed to diff package versions: %w", err)
		}
		logger.Info("Rate limit retries", "count", githubGateway.Fetcher().Retries())

		diags := snapshot.Diagnostics
		if diags == nil {
			diags = []domain.Diagnostic{}
		}
		return distroFlags.write(ctx, cfg, logger, store.KindDistro, opts.Repo, snapshot, diags)
	},
}

func init() {
	defaults := usecase.DefaultDistroOptions()
	rootCmd.AddCommand(distroCmd)
	distroCmd.Flags().String("repo", "", "Distribution repository (owner/name)")
	distroCmd.Flags().String("packages-dir", defaults.PackagesDir, "Directory holding one subdirectory per package")
	distroCmd.Flags().String("meta-file", defaults.MetaFile, "Metadata file inside each package directory")
	distroCmd.Flags().String("main-ref", defaults.MainRef, "Branch compared against the latest release")
	distroCmd.Flags().StringSlice("label", defaults.Labels, "Pull request labels marking release automation (repeatable)")
	distroCmd.Flags().Int("concurrency", defaults.Concurrency, "Parallel metadata fetches")
	addOutputFlags(distroCmd, &distroFlags)
}
