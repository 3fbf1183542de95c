package version

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/nickromney-org/release-update-server/internal/apperr"
)

func TestChannelFromTag(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{"1.0.0", "stable"},
		{"v2.3.4", "stable"},
		{"1.1.0-beta", "beta"},
		{"1.1.0-beta.2", "beta"},
		{"3.0.0-rc.1", "rc"},
		{"0.1.0-alpha-2", "alpha-2"},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			if got := ChannelFromTag(semver.MustParse(tt.tag)); got != tt.want {
				t.Errorf("ChannelFromTag(%q) = %q, want %q", tt.tag, got, tt.want)
			}
		})
	}
}

func TestParseConstraint(t *testing.T) {
	tests := []struct {
		input   string
		wantOp  Op
		wantVer string
		wantErr bool
	}{
		{input: "latest", wantOp: OpLatest},
		{input: "", wantOp: OpLatest},
		{input: "*", wantOp: OpLatest},
		{input: "1.2.3", wantOp: OpEqual, wantVer: "1.2.3"},
		{input: "v1.2.3", wantOp: OpEqual, wantVer: "1.2.3"},
		{input: "==1.2.3", wantOp: OpEqual, wantVer: "1.2.3"},
		{input: "=1.2.3", wantOp: OpEqual, wantVer: "1.2.3"},
		{input: ">=1.2.3", wantOp: OpGTE, wantVer: "1.2.3"},
		{input: ">1.2.3-beta.1", wantOp: OpGT, wantVer: "1.2.3-beta.1"},
		{input: ">=not-a-version", wantErr: true},
		{input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c, err := ParseConstraint(tt.input)
			if tt.wantErr {
				if apperr.KindOf(err) != apperr.KindValidation {
					t.Errorf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.Op != tt.wantOp {
				t.Errorf("Op = %q, want %q", c.Op, tt.wantOp)
			}
			if tt.wantVer != "" && c.Version.String() != tt.wantVer {
				t.Errorf("Version = %s, want %s", c.Version, tt.wantVer)
			}
		})
	}
}

func TestConstraintAllows(t *testing.T) {
	tests := []struct {
		constraint string
		tag        string
		want       bool
	}{
		{"latest", "0.0.1", true},
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "1.2.4", false},
		{">=1.2.3", "1.2.3", true},
		{">=1.2.3", "1.2.2", false},
		{">1.2.3", "1.2.3", false},
		{">1.2.3", "1.3.0-beta.1", true},
		{">1.2.3-beta.1", "1.2.3", true},
	}

	for _, tt := range tests {
		t.Run(tt.constraint+" "+tt.tag, func(t *testing.T) {
			c := MustParseConstraint(tt.constraint)
			if got := c.Allows(semver.MustParse(tt.tag)); got != tt.want {
				t.Errorf("Allows(%s) = %v, want %v", tt.tag, got, tt.want)
			}
		})
	}
}

func TestConstraintString(t *testing.T) {
	tests := map[string]string{
		"latest":  "latest",
		"v1.0.0":  "1.0.0",
		">=1.0.0": ">=1.0.0",
		">1.0.0":  ">1.0.0",
	}
	for in, want := range tests {
		if got := MustParseConstraint(in).String(); got != want {
			t.Errorf("String(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRelease_JSONMarshaling(t *testing.T) {
	release := Release{
		Tag:         semver.MustParse("1.2.0"),
		Channel:     ChannelStable,
		PublishedAt: time.Date(2024, 7, 25, 0, 0, 0, 0, time.UTC),
		Notes:       "Bug fixes",
		Assets: []Asset{
			{ID: "1", Filename: "app-1.2.0.dmg", Platform: "osx_64", Size: 1024},
		},
	}

	data, err := json.Marshal(release)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if result["tag"] != "1.2.0" {
		t.Errorf("expected tag 1.2.0, got %v", result["tag"])
	}
	if result["published_at"] != "2024-07-25T00:00:00Z" {
		t.Errorf("unexpected published_at %v", result["published_at"])
	}
	platforms, ok := result["platforms"].([]interface{})
	if !ok || len(platforms) != 1 {
		t.Fatalf("expected 1 platform entry, got %v", result["platforms"])
	}
}

func TestRelease_AssetByFilename(t *testing.T) {
	release := newTestRelease("1.0.0", 1, "osx_64", "windows_32")

	if _, ok := release.AssetByFilename("app-1.0.0-windows_32"); !ok {
		t.Error("expected to find windows asset")
	}
	if _, ok := release.AssetByFilename("missing.zip"); ok {
		t.Error("did not expect to find missing.zip")
	}
}
