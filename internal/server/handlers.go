package server

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/updater"
	"github.com/nickromney-org/release-update-server/internal/version"
	"github.com/rs/zerolog"
)

const webhookSignatureHeader = "X-Hub-Signature"

// downloadRoute is what a /download path addresses
type downloadRoute struct {
	channel  string
	tag      string
	platform string
	filename string
}

// parseDownloadPath splits the part of a download URL after /download:
//
//	""                      latest, platform from the user agent
//	/:platform
//	/channel/:channel[/:platform]
//	/version/:tag[/:platform]
//	/:tag/:filename
func parseDownloadPath(rest string) (downloadRoute, bool) {
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return downloadRoute{}, true
	}

	parts := strings.Split(rest, "/")
	for _, p := range parts {
		if p == "" {
			return downloadRoute{}, false
		}
	}

	switch {
	case parts[0] == "channel" && (len(parts) == 2 || len(parts) == 3):
		route := downloadRoute{channel: parts[1]}
		if len(parts) == 3 {
			route.platform = parts[2]
		}
		return route, true
	case parts[0] == "version" && (len(parts) == 2 || len(parts) == 3):
		route := downloadRoute{tag: parts[1]}
		if len(parts) == 3 {
			route.platform = parts[2]
		}
		return route, true
	case parts[0] == "channel" || parts[0] == "version":
		return downloadRoute{}, false
	case len(parts) == 1:
		return downloadRoute{platform: parts[0]}, true
	case len(parts) == 2:
		return downloadRoute{tag: parts[0], filename: parts[1]}, true
	}
	return downloadRoute{}, false
}

func (s *Server) download(c *gin.Context) {
	route, ok := parseDownloadPath(c.Param("rest"))
	if !ok {
		_ = c.Error(apperr.NotFound("Page not found"))
		return
	}

	ctx := c.Request.Context()
	release, asset, err := s.svc.ResolveDownload(ctx, updater.DownloadRequest{
		Channel:        route.channel,
		Tag:            route.tag,
		Platform:       route.platform,
		Filename:       route.filename,
		FiletypeWanted: c.Query("filetype"),
		UserAgent:      c.Request.UserAgent(),
		Signature:      c.Query(s.svc.SignatureQueryKey()),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := s.svc.ServeAsset(ctx, c.Writer, c.Request, release, asset); err != nil {
		_ = c.Error(err)
	}
}

func (s *Server) updateRedirect(c *gin.Context) {
	v := c.Query("version")
	p := c.Query("platform")
	if v == "" {
		_ = c.Error(apperr.Validation(`requires "version" parameter`))
		return
	}
	if p == "" {
		_ = c.Error(apperr.Validation(`requires "platform" parameter`))
		return
	}
	c.Redirect(http.StatusFound, "/update/"+url.PathEscape(p)+"/"+url.PathEscape(v))
}

func (s *Server) update(c *gin.Context) {
	filetype := c.DefaultQuery("filetype", updater.DefaultUpdateFiletype)
	info, err := s.svc.CheckUpdate(c.Request.Context(), c.Param("platform"), c.Param("version"), filetype, s.baseURL(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if info == nil {
		c.String(http.StatusNoContent, "No updates")
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) updateWindows(c *gin.Context) {
	content, err := s.svc.WindowsReleases(c.Request.Context(), c.Param("version"), s.baseURL(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="RELEASES"`)
	c.Data(http.StatusOK, "application/octet-stream", []byte(content))
}

func (s *Server) notes(c *gin.Context) {
	releases, err := s.svc.Notes(c.Request.Context(), c.Param("version"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	if c.NegotiateFormat(gin.MIMEPlain, gin.MIMEJSON) == gin.MIMEJSON {
		c.JSON(http.StatusOK, gin.H{
			"notes":    version.MergeNotes(releases, false),
			"pub_date": releases[0].PublishedAt.UTC().Format(time.RFC3339),
		})
		return
	}
	c.String(http.StatusOK, version.MergeNotes(releases, true))
}

// refresh handles the GitHub release webhook
func (s *Server) refresh(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		_ = c.Error(apperr.Validation("failed to read body: %v", err))
		return
	}
	if err := s.svc.VerifyWebhook(body, c.GetHeader(webhookSignatureHeader)); err != nil {
		_ = c.Error(err)
		return
	}

	s.svc.Refresh()
	zerolog.Ctx(c.Request.Context()).Info().Msg("release cache refreshed by webhook")
	c.String(http.StatusOK, "Ok")
}

func (s *Server) apiStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Status())
}

func (s *Server) apiVersions(c *gin.Context) {
	releases, err := s.svc.Versions(c.Request.Context(), c.Query("channel"), c.Query("platform"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, releases)
}

func (s *Server) apiChannels(c *gin.Context) {
	channels, err := s.svc.Channels(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, channels)
}

func (s *Server) apiResolve(c *gin.Context) {
	release, err := s.svc.Resolve(c.Request.Context(), c.Query("channel"), c.Query("tag"), c.Query("platform"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, release)
}

func (s *Server) apiRefresh(c *gin.Context) {
	s.svc.Refresh()
	c.JSON(http.StatusOK, gin.H{"done": true})
}

// baseURL is the absolute root of the server as seen by the client
func (s *Server) baseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	host := c.Request.Host

	if s.opts.TrustProxy {
		if proto := firstHeaderValue(c.GetHeader("X-Forwarded-Proto")); proto != "" {
			scheme = proto
		}
		if fwd := firstHeaderValue(c.GetHeader("X-Forwarded-Host")); fwd != "" {
			host = fwd
		}
	}
	return scheme + "://" + host + "/"
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
