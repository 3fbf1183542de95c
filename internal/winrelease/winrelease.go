// Package winrelease reads and writes the RELEASES manifest served to
// Squirrel.Windows updaters. Each line is "<sha1> <filename> <size>".
package winrelease

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/nickromney-org/release-update-server/internal/apperr"
)

// Filename is the name of the manifest asset attached to a release
const Filename = "RELEASES"

// channelMagnitude separates channels in the fourth component of a Windows version
const channelMagnitude = 1000

// channels are the prerelease channels that survive the trip through a
// four-part Windows version, in order of their magnitude.
var channels = []string{"alpha", "beta", "unstable", "rc"}

var (
	lineRegex    = regexp.MustCompile(`^([0-9a-fA-F]{40})\s+(\S+)\s+(\d+)$`)
	splitRegex   = regexp.MustCompile(`[.-]`)
	numericRegex = regexp.MustCompile(`^\d+$`)
)

// Entry is one package listed in a RELEASES manifest
type Entry struct {
	Hash     string
	Filename string
	Size     int64
	// Version is the dotted Windows version embedded in Filename
	Version string
	Semver  *semver.Version
	IsDelta bool
}

// Equal reports whether two entries carry the same data
func (e Entry) Equal(o Entry) bool {
	if e.Hash != o.Hash || e.Filename != o.Filename || e.Size != o.Size ||
		e.Version != o.Version || e.IsDelta != o.IsDelta {
		return false
	}
	if e.Semver == nil || o.Semver == nil {
		return e.Semver == o.Semver
	}
	return e.Semver.Equal(o.Semver)
}

// Parse reads a RELEASES manifest. Blank lines are skipped; any other line that
// does not have the three fields fails the whole parse.
func Parse(raw string) ([]Entry, error) {
	raw = strings.TrimPrefix(raw, "\ufeff")

	var entries []Entry
	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		entry, err := parseLine(strings.TrimSpace(line))
		if err != nil {
			return nil, apperr.Format("invalid RELEASES line %d: %v", i+1, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseLine(line string) (Entry, error) {
	parts := lineRegex.FindStringSubmatch(line)
	if parts == nil {
		return Entry{}, fmt.Errorf("expected \"<sha1> <filename> <size>\", got %q", line)
	}

	size, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid size %q: %w", parts[3], err)
	}

	filename := parts[2]
	winVersion := VersionFromFilename(filename)
	if winVersion == "" {
		return Entry{}, fmt.Errorf("no version in filename %q", filename)
	}
	sv, err := ToSemver(winVersion)
	if err != nil {
		return Entry{}, err
	}

	return Entry{
		Hash:     parts[1],
		Filename: filename,
		Size:     size,
		Version:  winVersion,
		Semver:   sv,
		IsDelta:  !strings.Contains(filename, "-full.nupkg"),
	}, nil
}

// VersionFromFilename extracts the dotted version from a package name such as
// "MyApp-1.4.0-full.nupkg" (1.4.0) or "MyApp-1.4.0.2001-delta.nupkg" (1.4.0.2001).
func VersionFromFilename(filename string) string {
	name := strings.Replace(filename, ".nupkg", "", 1)
	name = strings.Replace(name, "-delta", "", 1)
	name = strings.Replace(name, "-full", "", 1)

	var numbers []string
	for _, part := range splitRegex.Split(name, -1) {
		if numericRegex.MatchString(part) {
			numbers = append(numbers, part)
		}
	}
	return strings.Join(numbers, ".")
}

// ToSemver maps a Windows version onto a semantic version. The fourth component
// encodes a prerelease: 1.2.3.2001 is 1.2.3-beta.1.
func ToSemver(winVersion string) (*semver.Version, error) {
	parts := strings.Split(winVersion, ".")
	base := parts
	if len(base) > 3 {
		base = base[:3]
	}
	s := strings.Join(base, ".")

	if len(parts) > 3 {
		pre, err := strconv.Atoi(parts[3])
		if err == nil && pre > 0 {
			channelID := pre / channelMagnitude
			if channelID >= 1 && channelID <= len(channels) {
				s = fmt.Sprintf("%s-%s.%d", s, channels[channelID-1], pre-channelID*channelMagnitude)
			}
		}
	}

	v, err := semver.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", winVersion, err)
	}
	return v, nil
}

// WindowsVersion is the inverse of ToSemver
func WindowsVersion(v *semver.Version) string {
	base := fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
	pre := v.Prerelease()
	if pre == "" {
		return base
	}

	ids := strings.SplitN(pre, ".", 2)
	for i, ch := range channels {
		if ids[0] != ch {
			continue
		}
		count := 0
		if len(ids) == 2 {
			count, _ = strconv.Atoi(ids[1])
		}
		return fmt.Sprintf("%s.%d", base, (i+1)*channelMagnitude+count)
	}
	return base
}

// LineEnding returns the line terminator used by raw, "\r\n" or "\n"
func LineEnding(raw string) string {
	if strings.Contains(raw, "\r\n") {
		return "\r\n"
	}
	return "\n"
}

// Generate writes entries as a RELEASES manifest with "\n" line endings
func Generate(entries []Entry) string {
	return GenerateWithLineEnding(entries, "\n")
}

// GenerateWithLineEnding writes entries in order, one line each, joined by eol
func GenerateWithLineEnding(entries []Entry, eol string) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s %s %d", e.Hash, e.Filename, e.Size))
	}
	return strings.Join(lines, eol)
}

// FilterMinVersion keeps entries whose version is at least minVersion, preserving order
func FilterMinVersion(entries []Entry, minVersion *semver.Version) []Entry {
	var kept []Entry
	for _, e := range entries {
		if e.Semver != nil && !e.Semver.LessThan(minVersion) {
			kept = append(kept, e)
		}
	}
	return kept
}

// RewriteFilenames returns a copy of entries with each filename replaced by
// fn(entry). Hash, size and version are left untouched.
func RewriteFilenames(entries []Entry, fn func(Entry) string) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].Filename = fn(e)
	}
	return out
}
