// Package config loads the optional YAML configuration file and environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/naka-gawa/github-community/internal/gateway"
	"github.com/naka-gawa/github-community/internal/usecase"
	"gopkg.in/yaml.v3"
)

const (
	// EnvToken holds the GitHub token.
	EnvToken = "GITHUB_TOKEN"
	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "GITHUB_COMMUNITY_CONFIG"
)

// ErrNoToken is returned when no GitHub token is available.
var ErrNoToken = errors.New("GITHUB_TOKEN environment variable is not set")

// Config represents the application configuration. Unset fields keep the
// defaults of the package that consumes them.
type Config struct {
	GitHub    GitHubConfig    `yaml:"github,omitempty"`
	RateLimit RateLimitConfig `yaml:"ratelimit,omitempty"`
	Community CommunityConfig `yaml:"community,omitempty"`
	Distro    DistroConfig    `yaml:"distro,omitempty"`
	Identity  IdentityConfig  `yaml:"identity,omitempty"`
	Archive   ArchiveConfig   `yaml:"archive,omitempty"`
}

// GitHubConfig points the clients at a GitHub Enterprise Server.
type GitHubConfig struct {
	APIURL     string `yaml:"api_url,omitempty"`
	GraphQLURL string `yaml:"graphql_url,omitempty"`
}

// RateLimitConfig overrides the retry policy.
type RateLimitConfig struct {
	SafetyMargin *int           `yaml:"safety_margin,omitempty"`
	MaxRetries   *int           `yaml:"max_retries,omitempty"`
	MaxWait      *time.Duration `yaml:"max_wait,omitempty"`
}

type CommunityConfig struct {
	Org             string   `yaml:"org,omitempty"`
	Repos           []string `yaml:"repos,omitempty"`
	LookbackMonths  *int     `yaml:"lookback_months,omitempty"`
	IncludeForks    *bool    `yaml:"include_forks,omitempty"`
	IncludeArchived *bool    `yaml:"include_archived,omitempty"`
}

type DistroConfig struct {
	Repo        string   `yaml:"repo,omitempty"`
	PackagesDir string   `yaml:"packages_dir,omitempty"`
	MetaFile    string   `yaml:"meta_file,omitempty"`
	MainRef     string   `yaml:"main_ref,omitempty"`
	Labels      []string `yaml:"labels,omitempty"`
	Concurrency *int     `yaml:"concurrency,omitempty"`
}

// IdentityConfig sets the salt mixed into hashed usernames.
type IdentityConfig struct {
	Salt string `yaml:"salt,omitempty"`
}

// ArchiveConfig enables the SQLite run history.
type ArchiveConfig struct {
	Path string `yaml:"path,omitempty"`
}

// DefaultConfigDir returns the default config directory
func DefaultConfigDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ".github-community"
	}
	return filepath.Join(configDir, "github-community")
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// LoadDotEnv loads a .env file from the working directory if one exists.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load reads the config file at path. An empty path falls back to
// $GITHUB_COMMUNITY_CONFIG and then ConfigPath; only an explicitly named file
// must exist.
func Load(path string) (*Config, error) {
	explicit := true
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = ConfigPath()
		explicit = false
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Token returns the GitHub token from the environment.
func Token() (string, error) {
	token := os.Getenv(EnvToken)
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// RetryPolicy merges the ratelimit section over gateway.DefaultRetryPolicy.
func (c *Config) RetryPolicy() gateway.RetryPolicy {
	policy := gateway.DefaultRetryPolicy()
	if v := c.RateLimit.SafetyMargin; v != nil {
		policy.SafetyMargin = *v
	}
	if v := c.RateLimit.MaxRetries; v != nil {
		policy.MaxRetries = *v
	}
	if v := c.RateLimit.MaxWait; v != nil {
		policy.MaxWait = *v
	}
	return policy
}

// GatewayOptions returns the options for gateway.NewGitHubGateway.
func (c *Config) GatewayOptions() gateway.Options {
	return gateway.Options{
		APIURL:     c.GitHub.APIURL,
		GraphQLURL: c.GitHub.GraphQLURL,
		Retry:      c.RetryPolicy(),
	}
}

// CommunityOptions returns the community section as aggregator options.
func (c *Config) CommunityOptions() usecase.CommunityOptions {
	opts := usecase.CommunityOptions{LookbackMonths: usecase.DefaultLookbackMonths}
	if v := c.Community.LookbackMonths; v != nil {
		opts.LookbackMonths = *v
	}
	if v := c.Community.IncludeForks; v != nil {
		opts.IncludeForks = *v
	}
	if v := c.Community.IncludeArchived; v != nil {
		opts.IncludeArchived = *v
	}
	return opts
}

// DistroOptions merges the distro section over usecase.DefaultDistroOptions.
func (c *Config) DistroOptions() usecase.DistroOptions {
	opts := usecase.DefaultDistroOptions()
	opts.Repo = c.Distro.Repo
	if c.Distro.PackagesDir != "" {
		opts.PackagesDir = c.Distro.PackagesDir
	}
	if c.Distro.MetaFile != "" {
		opts.MetaFile = c.Distro.MetaFile
	}
	if c.Distro.MainRef != "" {
		opts.MainRef = c.Distro.MainRef
	}
	if c.Distro.Labels != nil {
		opts.Labels = c.Distro.Labels
	}
	if v := c.Distro.Concurrency; v != nil {
		opts.Concurrency = *v
	}
	return opts
}
