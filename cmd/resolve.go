package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nickromney-org/release-update-server/internal/platform"
	"github.com/nickromney-org/release-update-server/internal/version"
	"github.com/spf13/cobra"
)

var (
	resolveChannel  string
	resolveTag      string
	resolvePlatform string
	resolveFiletype string
	resolveJSON     bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show which release and file a client would get",
	Example: `  release-server resolve -r electron/fiddle --platform osx
  release-server resolve -r electron/fiddle --channel beta --platform win32 --json
  release-server resolve -r electron/fiddle --tag ">=0.30.0"`,
	RunE: runResolve,
}

func init() {
	flags := resolveCmd.Flags()
	flags.StringVar(&resolveChannel, "channel", "", "release channel (default stable, falling back to any)")
	flags.StringVar(&resolveTag, "tag", "latest", "version or constraint (latest, 1.2.3, >=1.2.3, >1.2.3)")
	flags.StringVar(&resolvePlatform, "platform", "", "platform (osx, win32, linux_64, ...)")
	flags.StringVar(&resolveFiletype, "filetype", "", "preferred file extension, e.g. dmg")
	flags.BoolVar(&resolveJSON, "json", false, "output as JSON")
}

func runResolve(cmd *cobra.Command, args []string) error {
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

	release, err := svc.Resolve(cmd.Context(), resolveChannel, resolveTag, resolvePlatform)
	if err != nil {
		red.Fprintf(os.Stderr, "\n❌ Error: %v\n\n", err)
		return err
	}

	var asset *version.Asset
	if resolvePlatform != "" {
		a, err := platform.Match(release, platform.Request{Platform: resolvePlatform, FiletypeWanted: resolveFiletype})
		if err == nil {
			asset = &a
		}
	}

	if resolveJSON {
		return outputResolveJSON(os.Stdout, release, asset)
	}
	printResolved(os.Stdout, release, asset)
	return nil
}

func outputResolveJSON(w io.Writer, release version.Release, asset *version.Asset) error {
	out := struct {
		Release version.Release `json:"release"`
		Asset   *version.Asset  `json:"asset,omitempty"`
	}{release, asset}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

// printResolved prints the release, highlighting the asset a client would download
func printResolved(w io.Writer, release version.Release, asset *version.Asset) {
	// Always print the tag first (for script compatibility)
	fmt.Fprintln(w, release.Tag)
	fmt.Fprintln(w)

	green.Fprintf(w, "✅ Version %s on channel %s (Released %s)\n",
		release.Tag, release.Channel, formatUKDate(release.PublishedAt))

	if len(release.Assets) == 0 {
		yellow.Fprintln(w, "⚠️  This release has no downloadable files")
		return
	}

	fmt.Fprintln(w)
	cyan.Fprintln(w, "📦 Files")
	cyan.Fprintln(w, "─────────────────────────────────────────────")
	fmt.Fprintf(w, "%-40s %-12s %s\n", "Filename", "Platform", "Size")
	for _, a := range release.Assets {
		line := fmt.Sprintf("%-40s %-12s %s", a.Filename, a.Platform, formatSize(a.Size))
		if asset != nil && a.ID == asset.ID {
			green.Fprintf(w, "%s  ← download\n", line)
			continue
		}
		fmt.Fprintln(w, line)
	}
}
