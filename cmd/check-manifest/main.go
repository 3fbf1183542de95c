package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nickromney-org/release-update-server/internal/backend"
	"github.com/nickromney-org/release-update-server/internal/config"
)

func main() {
	token := flag.String("token", os.Getenv("GITHUB_TOKEN"), "GitHub token")
	repo := flag.String("repo", "", "Repository the manifest was exported from")
	manifestPath := flag.String("manifest", backend.DefaultManifest, "Manifest file to check")
	recent := flag.Int("recent", 5, "How many of the newest live releases count as current")
	flag.Parse()

	data, err := os.ReadFile(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading manifest: %v\n", err)
		os.Exit(1)
	}
	manifest, err := backend.ParseManifest(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Releases come back newest first
	local := manifest.ToReleases(nil)
	if len(local) == 0 {
		fmt.Fprintf(os.Stderr, "Error: No releases found in %s\n", *manifestPath)
		os.Exit(1)
	}
	latestLocal := local[0].Tag.String()

	repoConfig, err := config.ParseRepositoryString(*repo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid repository %q: %v\n", *repo, err)
		os.Exit(1)
	}
	gh, err := backend.New("github", backend.Config{GitHub: backend.GitHubConfig{
		Owner: repoConfig.Owner,
		Repo:  repoConfig.Repo,
		Token: *token,
	}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	live, err := gh.List(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching releases: %v\n", err)
		os.Exit(1)
	}
	if len(live) > *recent {
		live = live[:*recent]
	}

	// Check if latest exported release is among the newest live ones
	for _, r := range live {
		if r.Tag.String() == latestLocal {
			fmt.Printf("✅ Manifest is current (latest: %s)\n", latestLocal)
			os.Exit(0)
		}
	}

	latestAvailable := ""
	if len(live) > 0 {
		latestAvailable = live[0].Tag.String()
	}

	fmt.Printf("⚠️  Manifest needs update (latest exported: %s, latest available: %s)\n",
		latestLocal, latestAvailable)
	os.Exit(1)
}
