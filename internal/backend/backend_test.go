package backend

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/version"
)

// stubBackend is a minimal Backend for registry tests
type stubBackend struct{ name string }

func (s *stubBackend) Init(ctx context.Context) error { return nil }
func (s *stubBackend) List(ctx context.Context) ([]version.Release, error) {
	return nil, nil
}
func (s *stubBackend) ReadAsset(ctx context.Context, asset version.Asset) ([]byte, error) {
	return nil, nil
}
func (s *stubBackend) ServeAsset(ctx context.Context, asset version.Asset, w http.ResponseWriter, r *http.Request) error {
	return nil
}

func TestRegistry(t *testing.T) {
	Register("Stub", func(cfg Config) (Backend, error) {
		return &stubBackend{name: cfg.File.Dir}, nil
	})

	b, err := New("stub", Config{File: FileConfig{Dir: "marker"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if stub, ok := b.(*stubBackend); !ok || stub.name != "marker" {
		t.Errorf("expected stub backend built from config, got %#v", b)
	}

	names := Names()
	for _, want := range []string{"file", "github", "s3", "stub"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Names() = %v, missing %s", names, want)
		}
	}
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("ftp", Config{})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestNew_BuiltinValidation(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		cfg     Config
		wantErr bool
	}{
		{name: "github without repo", backend: "github", wantErr: true},
		{name: "github", backend: "github", cfg: Config{GitHub: GitHubConfig{Owner: "acme", Repo: "app"}}},
		{name: "file without dir", backend: "file", wantErr: true},
		{name: "file", backend: "file", cfg: Config{File: FileConfig{Dir: "releases"}}},
		{name: "s3 without bucket", backend: "s3", wantErr: true},
		{name: "s3", backend: "s3", cfg: Config{S3: S3Config{Bucket: "acme-releases"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.backend, tt.cfg)
			if tt.wantErr {
				if apperr.KindOf(err) != apperr.KindValidation {
					t.Errorf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if b == nil {
				t.Fatal("New() returned nil backend")
			}
		})
	}
}

func newRelease(tag string) version.Release {
	v := semver.MustParse(tag)
	return version.Release{
		Tag:         v,
		Channel:     version.ChannelFromTag(v),
		PublishedAt: time.Date(2024, 11, 3, 0, 0, 0, 0, time.UTC),
	}
}

func TestNormalize(t *testing.T) {
	first := newRelease("1.0.0")
	first.Notes = "first"
	duplicate := newRelease("v1.0.0")
	duplicate.Notes = "duplicate"

	releases := []version.Release{
		first,
		newRelease("2.0.0"),
		duplicate,
		{},
		newRelease("1.5.0-beta.1"),
	}

	got := Normalize(releases)

	expected := []string{"2.0.0", "1.5.0-beta.1", "1.0.0"}
	if len(got) != len(expected) {
		t.Fatalf("expected %d releases, got %d", len(expected), len(got))
	}
	for i, want := range expected {
		if got[i].Tag.String() != want {
			t.Errorf("release %d: expected %s, got %s", i, want, got[i].Tag)
		}
	}
	if got[2].Notes != "first" {
		t.Errorf("expected first occurrence to win, got notes %q", got[2].Notes)
	}
}
