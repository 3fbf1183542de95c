package version

import "strings"

// MergeNotes concatenates the notes of releases in order. With includeTag each
// block is titled "## <tag>" and followed by a blank line.
func MergeNotes(releases []Release, includeTag bool) string {
	var b strings.Builder
	for _, r := range releases {
		if r.Notes == "" {
			continue
		}
		if includeTag {
			b.WriteString("## ")
			b.WriteString(r.Tag.String())
			b.WriteString("\n")
		}
		b.WriteString(r.Notes)
		b.WriteString("\n")
		if includeTag {
			b.WriteString("\n")
		}
	}
	return b.String()
}
