package config

import (
	"fmt"
	"strings"
)

// Repository identifies the GitHub repository whose releases are served
type Repository struct {
	Owner string // GitHub owner (e.g., "electron", "atom")
	Repo  string // GitHub repo (e.g., "fiddle")
}

// ParseRepositoryString parses "owner/repo" format or URL
func ParseRepositoryString(repoStr string) (*Repository, error) {
	repoStr = strings.TrimSpace(repoStr)

	// Check if it's a GitHub URL
	if strings.Contains(repoStr, "github.com") {
		// Extract owner/repo from URL
		// https://github.com/owner/repo -> owner/repo
		parts := strings.Split(repoStr, "github.com/")
		if len(parts) == 2 {
			repoStr = strings.TrimSuffix(parts[1], "/")
			repoStr = strings.TrimSuffix(repoStr, ".git")
			repoStr = strings.Split(repoStr, "/releases")[0]
			repoStr = strings.Split(repoStr, "/tags")[0]
		}
	}

	// Parse as owner/repo
	parts := strings.Split(repoStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid repository format: %s (expected: owner/repo or GitHub URL)", repoStr)
	}

	return &Repository{
		Owner: parts[0],
		Repo:  parts[1],
	}, nil
}

// FullName returns the full repository name (owner/repo)
func (r *Repository) FullName() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Repo)
}
