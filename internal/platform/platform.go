// Package platform maps file names and client user agents onto platform
// tokens and picks the asset of a release a client should download.
package platform

import (
	"path"
	"strings"

	"github.com/mssola/useragent"
	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/version"
)

// Platform tokens
const (
	OSX       = "osx"
	OSX32     = "osx_32"
	OSX64     = "osx_64"
	Windows   = "windows"
	Windows32 = "windows_32"
	Windows64 = "windows_64"
	Linux     = "linux"
	Linux32   = "linux_32"
	Linux64   = "linux_64"
)

// Tokens lists every canonical token Detect can return
var Tokens = []string{OSX32, OSX64, Windows32, Windows64, Linux32, Linux64}

// Detect maps a platform name or asset filename onto a canonical token such as
// "osx_64" or "windows_32". It returns "" when no operating system is recognised.
func Detect(name string) string {
	name = strings.ToLower(name)

	// Squirrel.Windows update files
	if name == "releases" || strings.HasSuffix(name, ".nupkg") {
		return Windows32
	}

	prefix := ""
	if strings.Contains(name, "win") || strings.HasSuffix(name, ".exe") {
		prefix = Windows
	}
	if strings.Contains(name, "linux") || strings.Contains(name, "ubuntu") ||
		strings.HasSuffix(name, ".deb") || strings.HasSuffix(name, ".rpm") ||
		strings.HasSuffix(name, ".tgz") || strings.HasSuffix(name, ".tar.gz") ||
		strings.HasSuffix(name, ".appimage") {
		prefix = Linux
	}
	if strings.Contains(name, "mac") || strings.Contains(name, "osx") ||
		strings.Contains(name, "darwin") || strings.HasSuffix(name, ".dmg") {
		prefix = OSX
	}
	if prefix == "" {
		return ""
	}

	suffix := ""
	if strings.Contains(name, "32") || strings.Contains(name, "ia32") || strings.Contains(name, "i386") {
		suffix = "32"
	}
	if strings.Contains(name, "64") {
		suffix = "64"
	}
	if suffix == "" {
		if prefix == OSX {
			suffix = "64"
		} else {
			suffix = "32"
		}
	}

	return prefix + "_" + suffix
}

// FromUserAgent derives a platform token from a client user agent string
func FromUserAgent(ua string) string {
	if ua == "" {
		return ""
	}
	agent := useragent.New(ua)
	osName := strings.ToLower(agent.OS())
	plat := strings.ToLower(agent.Platform())

	switch {
	case strings.Contains(osName, "mac os") || strings.Contains(plat, "mac"):
		return OSX64
	case strings.Contains(osName, "windows") || strings.Contains(plat, "windows"):
		return Windows32
	case strings.Contains(osName, "linux") || strings.Contains(plat, "linux") || strings.Contains(plat, "x11"):
		if strings.Contains(osName, "x86_64") || strings.Contains(osName, "amd64") ||
			strings.Contains(strings.ToLower(ua), "x86_64") {
			return Linux64
		}
		return Linux32
	}
	return ""
}

// ToOS strips the architecture suffix: "osx_64" becomes "osx"
func ToOS(token string) string {
	if i := strings.IndexByte(token, '_'); i >= 0 {
		return token[:i]
	}
	return token
}

// Extension returns the file extension of an asset, treating ".tar.gz" as one extension
func Extension(filename string) string {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".tar.gz") {
		return ".tar.gz"
	}
	return strings.ToLower(path.Ext(filename))
}

// Request describes which file of a release a client wants
type Request struct {
	Platform       string
	Filename       string
	FiletypeWanted string
	UserAgent      string
}

// Resolve returns the platform token for a request: the explicit platform
// (normalised with Detect) or, failing that, the one derived from the user agent.
func (r Request) Resolve() string {
	if r.Platform != "" {
		if p := Detect(r.Platform); p != "" {
			return p
		}
	}
	return FromUserAgent(r.UserAgent)
}

// Match selects the asset of release a client should download
func Match(release version.Release, req Request) (version.Asset, error) {
	if req.Filename != "" {
		asset, ok := release.AssetByFilename(req.Filename)
		if !ok {
			return version.Asset{}, apperr.NotFound("no file %q in version %s", req.Filename, release.Tag)
		}
		return asset, nil
	}

	token := req.Resolve()
	if token == "" {
		return version.Asset{}, apperr.Validation("no platform specified and impossible to detect one")
	}

	wanted := strings.ToLower(strings.TrimSpace(req.FiletypeWanted))
	if wanted != "" && !strings.HasPrefix(wanted, ".") {
		wanted = "." + wanted
	}

	var first *version.Asset
	for i := range release.Assets {
		asset := &release.Assets[i]
		if asset.Platform != token {
			continue
		}
		if wanted != "" && Extension(asset.Filename) == wanted {
			return *asset, nil
		}
		if first == nil {
			first = asset
		}
	}

	if first == nil {
		return version.Asset{}, apperr.NotFound("no download available for platform %s for version %s (%s)",
			token, release.Tag, release.Channel)
	}
	return *first, nil
}
