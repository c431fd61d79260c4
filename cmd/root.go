// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"
	"github.com/naka-gawa/github-community/internal/config"
	"github.com/naka-gawa/github-community/internal/gateway"
	"github.com/naka-gawa/github-community/internal/store"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "github-community",
	Short: "A CLI tool to measure GitHub community health and package distribution drift.",
	Long: `github-community walks a GitHub organisation and writes an anonymised
community snapshot (contributors, issue submitters, inactivity, first activity
and interactions), or compares the package versions of a distribution
repository between its latest release and its main branch.

Results are written as JSON. Set GITHUB_TOKEN (or put it in a .env file).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Add a persistent flag for verbose output, available to all commands.
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().String("config", "", "Config file (default $XDG_CONFIG_HOME/github-community/config.yaml)")
}

// newLogger creates a logger writing to w. Without --verbose only warnings and errors are shown.
func newLogger(w io.Writer, verbose bool) *log.Logger {
	level := log.WarnLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// setup loads .env and the config file and builds the logger for cmd.
func setup(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(cmd.ErrOrStderr(), verbose)

	if err := config.LoadDotEnv(); err != nil {
		return nil, nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger, nil
}

// newGateway creates the GitHub gateway from the environment token and config.
func newGateway(cfg *config.Config, logger *log.Logger) (*gateway.GitHubGateway, error) {
	token, err := config.Token()
	if err != nil {
		return nil, err
	}
	gw, err := gateway.NewGitHubGateway(token, cfg.GatewayOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub gateway: %w", err)
	}
	return gw, nil
}

// outputFlags are shared by the commands that produce a snapshot.
type outputFlags struct {
	output      string
	diagnostics string
	archive     string
}

func addOutputFlags(cmd *cobra.Command, f *outputFlags) {
	cmd.Flags().StringVarP(&f.output, "output", "o", store.Stdout, `Output file ("-" for stdout)`)
	cmd.Flags().StringVar(&f.diagnostics, "diagnostics", "", "Write skipped items to this JSON file")
	cmd.Flags().StringVar(&f.archive, "archive", "", "Also record the snapshot in this SQLite archive (overrides archive.path)")
}

// write emits a snapshot and, when requested, its diagnostics and an archive record.
// Nothing is written unless the run succeeded.
func (f *outputFlags) write(ctx context.Context, cfg *config.Config, logger *log.Logger, kind, subject string, snapshot any, diags any) error {
	if err := store.WriteJSON(f.output, snapshot); err != nil {
		return err
	}
	if f.diagnostics != "" {
		if err := store.WriteJSON(f.diagnostics, diags); err != nil {
			return err
		}
	}

	path := f.archive
	if path == "" {
		path = cfg.Archive.Path
	}
	if path == "" {
		return nil
	}
	archive, err := store.OpenArchive(path)
	if err != nil {
		return err
	}
	defer archive.Close()
	rec, err := archive.Save(ctx, kind, subject, snapshot)
	if err != nil {
		return err
	}
	logger.Info("Archived snapshot", "id", rec.ID, "kind", kind, "subject", subject)
	return nil
}
