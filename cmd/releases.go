package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nickromney-org/release-update-server/internal/version"
	"github.com/spf13/cobra"
)

var (
	releasesChannel  string
	releasesPlatform string
	releasesLimit    int
	releasesJSON     bool
)

var releasesCmd = &cobra.Command{
	Use:   "releases",
	Short: "List releases known to the backend",
	RunE:  runReleases,
}

func init() {
	flags := releasesCmd.Flags()
	flags.StringVar(&releasesChannel, "channel", "", "only this channel (default all)")
	flags.StringVar(&releasesPlatform, "platform", "", "only releases with a file for this platform")
	flags.IntVarP(&releasesLimit, "limit", "n", 10, "maximum releases to show (0 for all)")
	flags.BoolVar(&releasesJSON, "json", false, "output as JSON")
}

func runReleases(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	if err := svc.Init(cmd.Context()); err != nil {
		return fmt.Errorf("failed to initialise %s backend: %w", cfg.Backend, err)
	}

	releases, err := svc.Versions(cmd.Context(), releasesChannel, releasesPlatform)
	if err != nil {
		return err
	}
	if releasesLimit > 0 && len(releases) > releasesLimit {
		releases = releases[:releasesLimit]
	}

	if releasesJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(releases)
	}
	printReleaseTable(os.Stdout, releases, time.Now())
	return nil
}

// printReleaseTable prints releases newest first with their age
func printReleaseTable(w io.Writer, releases []version.Release, now time.Time) {
	if len(releases) == 0 {
		yellow.Fprintln(w, "⚠️  No releases found")
		return
	}

	cyan.Fprintln(w, "📅 Releases")
	cyan.Fprintln(w, "─────────────────────────────────────────────────────────────")
	fmt.Fprintf(w, "%-16s %-10s %-14s %-8s %s\n", "Version", "Channel", "Release Date", "Files", "Age")

	for i, r := range releases {
		daysAgo := int(now.Sub(r.PublishedAt).Hours() / 24)
		line := fmt.Sprintf("%-16s %-10s %-14s %-8d %s",
			r.Tag, r.Channel, formatUKDate(r.PublishedAt), len(r.Assets), formatDaysAgo(daysAgo))
		if i == 0 {
			green.Fprintf(w, "%s  (latest)\n", line)
			continue
		}
		fmt.Fprintln(w, line)
	}

	grey.Fprintf(w, "\nChecked at: %s\n", now.UTC().Format("2 Jan 2006 15:04:05 MST"))
}
