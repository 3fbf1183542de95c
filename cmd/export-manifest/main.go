package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nickromney-org/release-update-server/internal/backend"
	"github.com/nickromney-org/release-update-server/internal/config"
)

func main() {
	token := flag.String("token", os.Getenv("GITHUB_TOKEN"), "GitHub token")
	repo := flag.String("repo", "", "Repository to export (e.g., 'electron/fiddle')")
	endpoint := flag.String("endpoint", "", "GitHub Enterprise URL")
	output := flag.String("output", backend.DefaultManifest, "Manifest file (.yaml or .json)")
	assets := flag.Bool("assets", false, "Also download every asset next to the manifest")
	flag.Parse()

	// Parse repository
	repoConfig, err := config.ParseRepositoryString(*repo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid repository %q: %v\n", *repo, err)
		os.Exit(1)
	}

	gh, err := backend.New("github", backend.Config{GitHub: backend.GitHubConfig{
		Owner:    repoConfig.Owner,
		Repo:     repoConfig.Repo,
		Token:    *token,
		Endpoint: *endpoint,
	}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()

	fmt.Printf("Fetching all releases from %s via GitHub API...\n", repoConfig.FullName())

	releases, err := gh.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	manifest := backend.ManifestFromReleases(releases, time.Now().UTC())
	data, err := manifest.Marshal(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding manifest: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*output, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing manifest: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Wrote %d releases to %s\n", len(releases), *output)

	if !*assets {
		return
	}

	// Lay files out as <version>/<filename>, the default path of manifest assets
	dir := filepath.Dir(*output)
	count := 0
	for _, r := range releases {
		for _, a := range r.Assets {
			target := filepath.Join(dir, r.Tag.String(), a.Filename)
			if _, err := os.Stat(target); err == nil {
				continue
			}

			content, err := gh.ReadAsset(ctx, a)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error downloading %s: %v\n", a.Filename, err)
				os.Exit(1)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
				os.Exit(1)
			}
			if err := os.WriteFile(target, content, 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", target, err)
				os.Exit(1)
			}
			count++
		}
	}

	fmt.Printf("✅ Downloaded %d files to %s\n", count, dir)
}
