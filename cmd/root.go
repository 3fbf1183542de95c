package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	colour "github.com/fatih/color"
	"github.com/nickromney-org/release-update-server/internal/backend"
	"github.com/nickromney-org/release-update-server/internal/config"
	"github.com/nickromney-org/release-update-server/internal/updater"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	v = config.NewViper()

	configFile  string
	logLevel    string
	prettyLogs  bool
	showVersion bool

	// Version information (set via SetVersionInfo from main)
	appVersion = "dev"
	buildTime  = "unknown"
	gitCommit  = "unknown"

	// Colours for output
	green  = colour.New(colour.FgGreen, colour.Bold)
	yellow = colour.New(colour.FgYellow, colour.Bold)
	red    = colour.New(colour.FgRed, colour.Bold)
	cyan   = colour.New(colour.FgCyan)
	grey   = colour.New(colour.FgHiBlack) // Faint grey for timestamps
)

// SetVersionInfo sets the version information from the main package
func SetVersionInfo(version, build, commit string) {
	appVersion = version
	buildTime = build
	gitCommit = commit
}

var rootCmd = &cobra.Command{
	Use:   "release-server",
	Short: "Serve desktop application releases to auto-updaters",
	Long: `Serve application releases from GitHub, a directory or an S3 bucket.

Clients download the right file for their platform and channel, and
Squirrel.Mac / Squirrel.Windows updaters get update metadata. Releases are
cached in memory and refreshed on a timer or by a GitHub webhook.`,
	Example: `  # Serve releases of a GitHub repository
  release-server serve -r electron/fiddle

  # Serve from a local directory with a releases.yaml manifest
  release-server serve --backend file --file-dir ./releases

  # Which file would a macOS beta user get?
  release-server resolve -r electron/fiddle --channel beta --platform osx

  # List cached releases as JSON
  release-server releases -r electron/fiddle --json`,
	PersistentPreRunE: setupLogging,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Printf("release-server %s\n", appVersion)
			fmt.Printf("  Build time: %s\n", buildTime)
			fmt.Printf("  Git commit: %s\n", gitCommit)
			return nil
		}
		return cmd.Help()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default ./config.yaml)")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolVar(&prettyLogs, "pretty", false, "human-readable console logs")
	flags.String("backend", "github", "release backend ("+strings.Join(backend.Names(), ", ")+")")
	flags.StringP("repository", "r", "", "GitHub repository (owner/repo or URL)")
	flags.StringP("token", "t", os.Getenv("GITHUB_TOKEN"), "GitHub token (or GITHUB_TOKEN env var)")
	flags.String("endpoint", "", "GitHub Enterprise URL")
	flags.String("file-dir", "releases", "directory of the file backend")
	flags.String("s3-bucket", "", "bucket of the s3 backend")
	flags.String("s3-region", "", "AWS region of the s3 backend")
	flags.String("s3-prefix", "", "key prefix of the s3 backend")
	flags.Duration("cache-ttl", 0, "how long the release list is cached (default 1h)")

	for key, name := range map[string]string{
		"backend":           "backend",
		"github.repository": "repository",
		"github.token":      "token",
		"github.endpoint":   "endpoint",
		"file.dir":          "file-dir",
		"s3.bucket":         "s3-bucket",
		"s3.region":         "s3-region",
		"s3.prefix":         "s3-prefix",
		"cache.ttl":         "cache-ttl",
	} {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")

	rootCmd.AddCommand(serveCmd, resolveCmd, releasesCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// setupLogging configures the global zerolog logger
func setupLogging(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	if prettyLogs {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

// loadConfig reads the configuration, filling in a GitHub token from the
// GitHub CLI when none was given
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if strings.EqualFold(v.GetString("backend"), "github") && v.GetString("github.token") == "" {
		if token := detectGitHubToken(""); token != "" {
			v.Set("github.token", token)
		}
	}
	return config.Load(v)
}

// newService builds the configured backend and the update service on top of it
func newService(cfg *config.Config) (*updater.Service, error) {
	bcfg, err := cfg.BackendConfig()
	if err != nil {
		return nil, err
	}
	b, err := backend.New(cfg.Backend, bcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", cfg.Backend, err)
	}

	logger := log.Logger
	return updater.New(b, updater.Options{
		BackendName:       cfg.Backend,
		CacheTTL:          cfg.CacheTTL,
		CacheTimeout:      cfg.CacheTimeout,
		Prefetch:          cfg.CachePrefetch,
		RefreshSecret:     cfg.RefreshSecret,
		SignedURLs:        cfg.SignedURLs,
		SignatureSecret:   cfg.SignatureSecret,
		SignatureQueryKey: cfg.SignatureQueryKey,
		Logger:            &logger,
	})
}

// detectGitHubToken attempts to find a GitHub token from multiple sources
func detectGitHubToken(providedToken string) string {
	// 1. Use explicitly provided token (via -t flag or GITHUB_TOKEN env var)
	if providedToken != "" {
		return providedToken
	}

	// 2. Try to get token from GitHub CLI
	ghToken, err := getGitHubCLIToken()
	if err == nil && ghToken != "" {
		return ghToken
	}

	// 3. No token found - will use unauthenticated requests
	return ""
}

// getGitHubCLIToken attempts to retrieve a token from the GitHub CLI
func getGitHubCLIToken() (string, error) {
	cmd := exec.Command("gh", "auth", "token")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}

	token := strings.TrimSpace(string(output))
	if token == "" {
		return "", fmt.Errorf("gh auth token returned empty")
	}

	return token, nil
}
