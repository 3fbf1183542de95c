package updater

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/platform"
	"github.com/nickromney-org/release-update-server/internal/signature"
	"github.com/nickromney-org/release-update-server/internal/version"
	"github.com/nickromney-org/release-update-server/internal/winrelease"
)

// DefaultUpdateFiletype is the file type offered to Squirrel.Mac clients
const DefaultUpdateFiletype = "zip"

// UpdateInfo is the Squirrel.Mac update response
type UpdateInfo struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	Notes   string `json:"notes"`
	PubDate string `json:"pub_date"`
}

// CheckUpdate returns the newest release above currentTag for the platform,
// or nil when the client is up to date. Notes of every release between the
// current version and the newest are merged.
func (s *Service) CheckUpdate(ctx context.Context, platformName, currentTag, filetype, baseURL string) (*UpdateInfo, error) {
	if currentTag == "" {
		return nil, apperr.Validation(`requires "version" parameter`)
	}
	if platformName == "" {
		return nil, apperr.Validation(`requires "platform" parameter`)
	}

	token := platform.Detect(platformName)
	if token == "" {
		return nil, apperr.Validation("unknown platform %q", platformName)
	}

	current, err := semver.NewVersion(currentTag)
	if err != nil {
		return nil, apperr.Validation("invalid version %q: %v", currentTag, err)
	}

	newer, err := s.resolver.Filter(ctx, version.Query{
		Channel:  version.ChannelAny,
		Tag:      version.Constraint{Op: version.OpGT, Version: current},
		Platform: token,
	})
	if err != nil {
		return nil, err
	}
	if len(newer) == 0 {
		return nil, nil
	}

	if filetype == "" {
		filetype = DefaultUpdateFiletype
	}
	query := url.Values{}
	query.Set("filetype", filetype)
	s.sign(query)

	latest := newer[0]
	return &UpdateInfo{
		URL:     joinURL(baseURL, "download", "version", latest.Tag.String(), token) + "?" + query.Encode(),
		Name:    latest.Tag.String(),
		Notes:   version.MergeNotes(newer, false),
		PubDate: latest.PublishedAt.UTC().Format(time.RFC3339),
	}, nil
}

// WindowsReleases builds the RELEASES manifest for a Squirrel.Windows client
// on currentTag. The manifest of the newest release carrying one is read,
// entries older than the client are dropped and every filename is rewritten
// to a download URL of this server.
func (s *Service) WindowsReleases(ctx context.Context, currentTag, baseURL string) (string, error) {
	current, err := semver.NewVersion(currentTag)
	if err != nil {
		return "", apperr.Validation("invalid version %q: %v", currentTag, err)
	}

	candidates, err := s.resolver.Filter(ctx, version.Query{
		Channel:  version.ChannelAny,
		Tag:      version.Constraint{Op: version.OpGTE, Version: current},
		Platform: platform.Windows32,
	})
	if err != nil {
		return "", err
	}

	var (
		release version.Release
		asset   version.Asset
		found   bool
	)
	for _, r := range candidates {
		if a, ok := r.AssetByFilename(winrelease.Filename); ok {
			release, asset, found = r, a, true
			break
		}
	}
	if !found {
		return "", apperr.NotFound("no %s file for versions >= %s", winrelease.Filename, current)
	}

	if err := s.Init(ctx); err != nil {
		return "", err
	}
	raw, err := s.backend.ReadAsset(ctx, asset)
	if err != nil {
		return "", err
	}

	entries, err := winrelease.Parse(string(raw))
	if err != nil {
		return "", err
	}
	entries = winrelease.FilterMinVersion(entries, current)

	query := url.Values{}
	s.sign(query)
	suffix := ""
	if len(query) > 0 {
		suffix = "?" + query.Encode()
	}

	entries = winrelease.RewriteFilenames(entries, func(e winrelease.Entry) string {
		return joinURL(baseURL, "download", packageTag(candidates, release, e), e.Filename) + suffix
	})

	s.logger.Debug().
		Str("version", release.Tag.String()).
		Int("entries", len(entries)).
		Msg("serving RELEASES")
	return winrelease.GenerateWithLineEnding(entries, winrelease.LineEnding(string(raw))), nil
}

// packageTag names the release a package is downloaded from: the one that
// carries the file, else the one whose tag the filename encodes, else owner.
// Filenames like "App-1.2.0-beta1-full.nupkg" only encode 1.2.0.
func packageTag(releases []version.Release, owner version.Release, e winrelease.Entry) string {
	for _, r := range releases {
		if _, ok := r.AssetByFilename(e.Filename); ok {
			return r.Tag.String()
		}
	}
	for _, r := range releases {
		if r.Tag.Equal(e.Semver) {
			return r.Tag.String()
		}
	}
	return owner.Tag.String()
}

// Notes returns the releases from fromTag (inclusive) up to the newest, across
// all channels. An empty fromTag selects every release.
func (s *Service) Notes(ctx context.Context, fromTag string) ([]version.Release, error) {
	tag := version.Latest
	if fromTag != "" {
		v, err := semver.NewVersion(fromTag)
		if err != nil {
			return nil, apperr.Validation("invalid version %q: %v", fromTag, err)
		}
		tag = version.Constraint{Op: version.OpGTE, Version: v}
	}

	releases, err := s.resolver.Filter(ctx, version.Query{Channel: version.ChannelAny, Tag: tag})
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, apperr.NotFound("no versions matching %s", tag)
	}
	return releases, nil
}

// VerifyWebhook checks a GitHub X-Hub-Signature header ("sha1=<hex>") against
// the HMAC-SHA1 of body keyed with the refresh secret
func (s *Service) VerifyWebhook(body []byte, header string) error {
	if s.opts.RefreshSecret == "" {
		return apperr.Unauthorized("refresh secret is not configured")
	}

	sig, ok := strings.CutPrefix(header, "sha1=")
	if !ok {
		return apperr.Unauthorized("invalid webhook signature")
	}
	received, err := hex.DecodeString(sig)
	if err != nil {
		return apperr.Unauthorized("invalid webhook signature")
	}

	mac := hmac.New(sha1.New, []byte(s.opts.RefreshSecret))
	mac.Write(body)
	if !hmac.Equal(received, mac.Sum(nil)) {
		return apperr.Unauthorized("invalid webhook signature")
	}
	return nil
}

// WebhookSignature returns the X-Hub-Signature value for body
func WebhookSignature(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func (s *Service) sign(query url.Values) {
	if s.opts.SignedURLs {
		query.Set(s.opts.SignatureQueryKey, signature.Generate(s.opts.SignatureSecret))
	}
}

// joinURL appends escaped path segments to base
func joinURL(base string, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(escaped, "/")
}
