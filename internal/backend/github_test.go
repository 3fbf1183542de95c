package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/platform"
	"github.com/nickromney-org/release-update-server/internal/version"
)

const page1 = `[
  {"tag_name": "v1.2.0", "published_at": "2024-11-01T00:00:00Z", "body": "Bug fixes", "html_url": "https://github.com/acme/app/releases/tag/v1.2.0",
   "assets": [
     {"id": 11, "name": "App-1.2.0.dmg", "size": 2048, "content_type": "application/x-apple-diskimage", "browser_download_url": "https://github.com/acme/app/releases/download/v1.2.0/App-1.2.0.dmg"},
     {"id": 12, "name": "RELEASES", "size": 120},
     {"id": 13, "name": "SHA256SUMS", "size": 64}
   ]},
  {"tag_name": "v1.3.0-beta.1", "prerelease": true, "published_at": "2024-11-02T00:00:00Z"},
  {"tag_name": "v9.9.9", "draft": true}
]`

const page2 = `[
  {"tag_name": "v1.1.0", "published_at": "2024-10-01T00:00:00Z"},
  {"tag_name": "latest-build", "published_at": "2024-10-02T00:00:00Z"}
]`

func newTestGitHub(t *testing.T, mux *http.ServeMux, proxy bool) *GitHub {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	g, err := NewGitHub(GitHubConfig{
		Owner:       "acme",
		Repo:        "app",
		Endpoint:    server.URL + "/",
		ProxyAssets: proxy,
	})
	if err != nil {
		t.Fatalf("NewGitHub() error = %v", err)
	}
	return g
}

func releasesMux(serverURL *string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/app/releases", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, page2)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v3/repos/acme/app/releases?page=2>; rel="next"`, *serverURL))
		fmt.Fprint(w, page1)
	})
	return mux
}

func TestGitHub_List(t *testing.T) {
	var serverURL string
	mux := releasesMux(&serverURL)
	g := newTestGitHub(t, mux, false)
	serverURL = g.gh.BaseURL.Scheme + "://" + g.gh.BaseURL.Host

	releases, err := g.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	expected := []string{"1.3.0-beta.1", "1.2.0", "1.1.0"}
	if len(releases) != len(expected) {
		t.Fatalf("expected %d releases, got %d", len(expected), len(releases))
	}
	for i, want := range expected {
		if releases[i].Tag.String() != want {
			t.Errorf("release %d: expected %s, got %s", i, want, releases[i].Tag)
		}
	}

	if releases[0].Channel != "beta" {
		t.Errorf("expected prerelease in beta channel, got %s", releases[0].Channel)
	}

	stable := releases[1]
	if stable.Notes != "Bug fixes" || stable.Channel != version.ChannelStable {
		t.Errorf("unexpected release %+v", stable)
	}
	if len(stable.Assets) != 2 {
		t.Fatalf("expected 2 assets with a platform, got %d", len(stable.Assets))
	}
	if stable.Assets[0].ID != "11" || stable.Assets[0].Platform != platform.OSX64 || stable.Assets[0].Size != 2048 {
		t.Errorf("unexpected asset %+v", stable.Assets[0])
	}
	if stable.Assets[1].Filename != "RELEASES" || stable.Assets[1].Platform != platform.Windows32 {
		t.Errorf("unexpected asset %+v", stable.Assets[1])
	}
}

// pagedMux serves one release per page and links to the next page until
// lastPage; a lastPage of 0 never stops linking.
func pagedMux(serverURL *string, lastPage int) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/app/releases", func(w http.ResponseWriter, r *http.Request) {
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 {
			page = 1
		}
		w.Header().Set("Content-Type", "application/json")
		if lastPage == 0 || page < lastPage {
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v3/repos/acme/app/releases?page=%d>; rel="next"`, *serverURL, page+1))
		}
		fmt.Fprintf(w, `[{"tag_name": "v1.0.%d", "published_at": "2024-10-01T00:00:00Z"}]`, page)
	})
	return mux
}

func TestGitHub_ListFollowsAllPages(t *testing.T) {
	var serverURL string
	g := newTestGitHub(t, pagedMux(&serverURL, 11), false)
	serverURL = g.gh.BaseURL.Scheme + "://" + g.gh.BaseURL.Host

	releases, err := g.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(releases) != 11 {
		t.Fatalf("expected 11 releases, got %d", len(releases))
	}
	if releases[0].Tag.String() != "1.0.11" || releases[10].Tag.String() != "1.0.1" {
		t.Errorf("unexpected order: first %s, last %s", releases[0].Tag, releases[10].Tag)
	}
}

func TestGitHub_ListTooManyPages(t *testing.T) {
	var serverURL string
	g := newTestGitHub(t, pagedMux(&serverURL, 0), false)
	serverURL = g.gh.BaseURL.Scheme + "://" + g.gh.BaseURL.Host

	releases, err := g.List(context.Background())
	if apperr.KindOf(err) != apperr.KindBackend {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if releases != nil {
		t.Errorf("expected no partial list, got %d releases", len(releases))
	}
}

func TestGitHub_ListPageError(t *testing.T) {
	var serverURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/app/releases", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			http.Error(w, `{"message": "boom"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v3/repos/acme/app/releases?page=2>; rel="next"`, serverURL))
		fmt.Fprint(w, page1)
	})
	g := newTestGitHub(t, mux, false)
	serverURL = g.gh.BaseURL.Scheme + "://" + g.gh.BaseURL.Host

	releases, err := g.List(context.Background())
	if apperr.KindOf(err) != apperr.KindBackend {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if releases != nil {
		t.Errorf("expected no partial list, got %d releases", len(releases))
	}
}

func TestGitHub_Init(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/app", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 1, "name": "app", "full_name": "acme/app"}`)
	})
	g := newTestGitHub(t, mux, false)
	if err := g.Init(context.Background()); err != nil {
		t.Errorf("Init() error = %v", err)
	}

	g.Repo = "missing"
	if err := g.Init(context.Background()); apperr.KindOf(err) != apperr.KindBackend {
		t.Errorf("expected BackendError for missing repository, got %v", err)
	}
}

func TestGitHub_ServeAsset(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/app/releases/assets/12", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, "RELEASES-CONTENT")
	})

	asset := version.Asset{
		ID:       "12",
		Filename: "RELEASES",
		URL:      "https://github.com/acme/app/releases/download/v1.2.0/RELEASES",
	}

	t.Run("redirect", func(t *testing.T) {
		g := newTestGitHub(t, mux, false)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/download/1.2.0/RELEASES", nil)
		if err := g.ServeAsset(context.Background(), asset, rec, req); err != nil {
			t.Fatalf("ServeAsset() error = %v", err)
		}
		if rec.Code != http.StatusFound || rec.Header().Get("Location") != asset.URL {
			t.Errorf("expected redirect to %s, got %d %s", asset.URL, rec.Code, rec.Header().Get("Location"))
		}
	})

	t.Run("proxy", func(t *testing.T) {
		g := newTestGitHub(t, mux, true)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/download/1.2.0/RELEASES", nil)
		if err := g.ServeAsset(context.Background(), asset, rec, req); err != nil {
			t.Fatalf("ServeAsset() error = %v", err)
		}
		if rec.Code != http.StatusOK || rec.Body.String() != "RELEASES-CONTENT" {
			t.Errorf("unexpected proxied response %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("read", func(t *testing.T) {
		g := newTestGitHub(t, mux, false)
		data, err := g.ReadAsset(context.Background(), asset)
		if err != nil {
			t.Fatalf("ReadAsset() error = %v", err)
		}
		if string(data) != "RELEASES-CONTENT" {
			t.Errorf("ReadAsset() = %q", data)
		}
	})

	t.Run("bad id", func(t *testing.T) {
		g := newTestGitHub(t, mux, false)
		_, err := g.ReadAsset(context.Background(), version.Asset{ID: "1.2.0/RELEASES"})
		if apperr.KindOf(err) != apperr.KindBackend {
			t.Errorf("expected BackendError, got %v", err)
		}
	})
}
