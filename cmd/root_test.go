package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	colour "github.com/fatih/color"
	"github.com/nickromney-org/release-update-server/internal/version"
)

func init() {
	colour.NoColor = true
}

// Test helpers
func mustParseTime(t string) time.Time {
	parsed, err := time.Parse(time.RFC3339, t)
	if err != nil {
		panic(err)
	}
	return parsed
}

func testRelease() version.Release {
	return version.Release{
		Tag:         semver.MustParse("1.4.0"),
		Channel:     "stable",
		PublishedAt: mustParseTime("2024-07-25T10:00:00Z"),
		Notes:       "Bug fixes",
		Assets: []version.Asset{
			{ID: "1", Filename: "App-1.4.0-mac.zip", Platform: "osx_64", Size: 85 * 1024 * 1024},
			{ID: "2", Filename: "App-Setup-1.4.0.exe", Platform: "windows_32", Size: 1536},
		},
	}
}

func TestDetectGitHubToken_Provided(t *testing.T) {
	if got := detectGitHubToken("ghp_provided"); got != "ghp_provided" {
		t.Errorf("detectGitHubToken() = %q, want provided token", got)
	}
}

func TestOutputResolveJSON(t *testing.T) {
	release := testRelease()
	asset := release.Assets[0]

	tests := []struct {
		name      string
		asset     *version.Asset
		wantAsset bool
	}{
		{name: "with asset", asset: &asset, wantAsset: true},
		{name: "release only", asset: nil, wantAsset: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := outputResolveJSON(&buf, release, tt.asset); err != nil {
				t.Fatalf("outputResolveJSON() error = %v", err)
			}

			var result map[string]json.RawMessage
			if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if _, ok := result["release"]; !ok {
				t.Error("missing release key")
			}
			if _, ok := result["asset"]; ok != tt.wantAsset {
				t.Errorf("asset key present = %v, want %v", ok, tt.wantAsset)
			}
			if !strings.Contains(buf.String(), `"tag": "1.4.0"`) {
				t.Errorf("expected tag in output:\n%s", buf.String())
			}
		})
	}
}

func TestPrintResolved(t *testing.T) {
	release := testRelease()
	asset := release.Assets[1]

	var buf bytes.Buffer
	printResolved(&buf, release, &asset)
	out := buf.String()

	if !strings.HasPrefix(out, "1.4.0\n") {
		t.Errorf("expected tag on the first line, got %q", out)
	}
	for _, want := range []string{
		"Version 1.4.0 on channel stable (Released 25 Jul 2024)",
		"App-1.4.0-mac.zip",
		"85.0 MB",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "← download") && !strings.Contains(line, "App-Setup-1.4.0.exe") {
			t.Errorf("wrong asset marked: %q", line)
		}
	}
	if !strings.Contains(out, "← download") {
		t.Error("expected the chosen asset to be marked")
	}
}

func TestPrintResolved_NoAssets(t *testing.T) {
	release := testRelease()
	release.Assets = nil

	var buf bytes.Buffer
	printResolved(&buf, release, nil)
	if !strings.Contains(buf.String(), "no downloadable files") {
		t.Errorf("expected warning, got %q", buf.String())
	}
}

func TestPrintReleaseTable(t *testing.T) {
	now := mustParseTime("2024-08-04T10:00:00Z")
	older := testRelease()
	older.Tag = semver.MustParse("1.3.0")
	older.PublishedAt = mustParseTime("2024-07-24T10:00:00Z")

	var buf bytes.Buffer
	printReleaseTable(&buf, []version.Release{testRelease(), older}, now)
	out := buf.String()

	for _, want := range []string{"25 Jul 2024", "10 days ago", "24 Jul 2024", "11 days ago", "(latest)", "Checked at: 4 Aug 2024"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "(latest)") != 1 {
		t.Errorf("expected exactly one latest marker:\n%s", out)
	}
}

func TestPrintReleaseTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	printReleaseTable(&buf, nil, time.Now())
	if !strings.Contains(buf.String(), "No releases found") {
		t.Errorf("expected empty message, got %q", buf.String())
	}
}
