package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Masterminds/semver/v3"
	gh "github.com/google/go-github/v57/github"
	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/platform"
	"github.com/nickromney-org/release-update-server/internal/version"
	"golang.org/x/oauth2"
)

// maxPages bounds how many pages of releases are followed. A repository with
// more pages fails the listing rather than returning part of it.
const maxPages = 100

// GitHubConfig configures the github backend
type GitHubConfig struct {
	Owner string
	Repo  string
	Token string
	// Endpoint is the API base URL of a GitHub Enterprise server
	Endpoint string
	// ProxyAssets streams assets through the server instead of redirecting
	// clients to GitHub. Required for private repositories.
	ProxyAssets bool
}

// GitHub lists the releases of a GitHub repository
type GitHub struct {
	gh    *gh.Client
	cfg   GitHubConfig
	Owner string
	Repo  string
}

// NewGitHub creates a new GitHub backend
func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, apperr.Validation("github backend requires a repository (owner/repo)")
	}

	var client *gh.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: cfg.Token},
		)
		tc := oauth2.NewClient(context.Background(), ts)
		client = gh.NewClient(tc)
	} else {
		client = gh.NewClient(nil)
	}

	if cfg.Endpoint != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.Endpoint, cfg.Endpoint)
		if err != nil {
			return nil, apperr.Validation("invalid github endpoint %q: %v", cfg.Endpoint, err)
		}
	}

	return &GitHub{
		gh:    client,
		cfg:   cfg,
		Owner: cfg.Owner,
		Repo:  cfg.Repo,
	}, nil
}

// Init checks that the repository is reachable with the configured credentials
func (g *GitHub) Init(ctx context.Context) error {
	if _, _, err := g.gh.Repositories.Get(ctx, g.Owner, g.Repo); err != nil {
		return apperr.Backend(err, "failed to access repository %s/%s", g.Owner, g.Repo)
	}
	return nil
}

// List fetches all published releases. Drafts are skipped; prereleases are
// kept and land in the channel named by their tag.
func (g *GitHub) List(ctx context.Context) ([]version.Release, error) {
	var allReleases []version.Release

	opts := &gh.ListOptions{PerPage: 100, Page: 1}

	for page := 1; ; page++ {
		if page > maxPages {
			return nil, apperr.Backend(nil, "%s/%s has more than %d pages of releases", g.Owner, g.Repo, maxPages)
		}

		releases, resp, err := g.gh.Repositories.ListReleases(ctx, g.Owner, g.Repo, opts)
		if err != nil {
			return nil, apperr.Backend(err, "failed to list releases (page %d)", page)
		}

		for _, ghRelease := range releases {
			if ghRelease.GetDraft() {
				continue
			}

			release, err := parseRelease(ghRelease)
			if err != nil {
				// Tags that are not versions cannot be served
				continue
			}

			allReleases = append(allReleases, *release)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return Normalize(allReleases), nil
}

// ReadAsset downloads the full content of asset
func (g *GitHub) ReadAsset(ctx context.Context, asset version.Asset) ([]byte, error) {
	rc, err := g.download(ctx, asset)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperr.Backend(err, "failed to read asset %s", asset.Filename)
	}
	return data, nil
}

// ServeAsset redirects the client to the public download URL, or streams the
// asset through the server when ProxyAssets is set
func (g *GitHub) ServeAsset(ctx context.Context, asset version.Asset, w http.ResponseWriter, r *http.Request) error {
	if !g.cfg.ProxyAssets && asset.URL != "" {
		http.Redirect(w, r, asset.URL, http.StatusFound)
		return nil
	}

	rc, err := g.download(ctx, asset)
	if err != nil {
		return err
	}
	defer rc.Close()

	contentType := asset.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", asset.Filename))
	if asset.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(asset.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("failed to stream asset %s: %w", asset.Filename, err)
	}
	return nil
}

func (g *GitHub) download(ctx context.Context, asset version.Asset) (io.ReadCloser, error) {
	id, err := strconv.ParseInt(asset.ID, 10, 64)
	if err != nil {
		return nil, apperr.Backend(err, "invalid asset id %q", asset.ID)
	}

	rc, _, err := g.gh.Repositories.DownloadReleaseAsset(ctx, g.Owner, g.Repo, id, http.DefaultClient)
	if err != nil {
		return nil, apperr.Backend(err, "failed to download asset %s", asset.Filename)
	}
	return rc, nil
}

// parseRelease converts a GitHub release to our Release type
func parseRelease(ghRelease *gh.RepositoryRelease) (*version.Release, error) {
	tagName := ghRelease.GetTagName()
	if tagName == "" {
		return nil, fmt.Errorf("release has no tag name")
	}

	// Parse version (removing 'v' prefix if present)
	ver, err := semver.NewVersion(tagName)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", tagName, err)
	}

	publishedAt := ghRelease.GetPublishedAt().Time
	if publishedAt.IsZero() {
		publishedAt = ghRelease.GetCreatedAt().Time
	}

	release := &version.Release{
		Tag:         ver,
		Channel:     version.ChannelFromTag(ver),
		PublishedAt: publishedAt,
		Notes:       ghRelease.GetBody(),
		URL:         ghRelease.GetHTMLURL(),
	}

	for _, a := range ghRelease.Assets {
		plat := platform.Detect(a.GetName())
		if plat == "" {
			continue
		}
		release.Assets = append(release.Assets, version.Asset{
			ID:          strconv.FormatInt(a.GetID(), 10),
			Filename:    a.GetName(),
			Platform:    plat,
			Size:        int64(a.GetSize()),
			ContentType: a.GetContentType(),
			URL:         a.GetBrowserDownloadURL(),
		})
	}

	return release, nil
}
