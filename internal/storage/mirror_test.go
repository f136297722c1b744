package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestMirrorer_Mirror(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("mp4 payload"))
	}))
	defer src.Close()

	store := setupTestStorage(t)
	m := NewMirrorer(store, WithCDNBaseURL("https://cdn.example.com/"))
	m.now = func() time.Time { return time.UnixMilli(1700000000000) }

	owned, cdn, err := m.Mirror(context.Background(), src.URL+"/out.mp4")
	if err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}

	if !strings.HasPrefix(owned, "http://localhost:8080/media/videos/1700000000000-") {
		t.Errorf("owned url = %q", owned)
	}
	key := strings.TrimPrefix(owned, "http://localhost:8080/media/")
	if cdn != "https://cdn.example.com/"+key {
		t.Errorf("cdn url = %q", cdn)
	}

	content, err := os.ReadFile(filepath.Join(store.Dir(), filepath.FromSlash(key)))
	if err != nil {
		t.Fatalf("mirrored object missing: %v", err)
	}
	if string(content) != "mp4 payload" {
		t.Errorf("got %q", string(content))
	}
}

func TestMirrorer_Mirror_NoCDN(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer src.Close()

	_, cdn, err := NewMirrorer(setupTestStorage(t), WithDownloadClient(src.Client())).Mirror(context.Background(), src.URL)
	if err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}
	if cdn != "" {
		t.Errorf("expected no CDN url, got %q", cdn)
	}
}

func TestMirrorer_Mirror_Errors(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer src.Close()

	t.Run("upstream status", func(t *testing.T) {
		_, _, err := NewMirrorer(setupTestStorage(t)).Mirror(context.Background(), src.URL+"/missing")
		if !errors.Is(err, ErrDownloadFailed) {
			t.Errorf("expected ErrDownloadFailed, got %v", err)
		}
	})

	t.Run("too large", func(t *testing.T) {
		_, _, err := NewMirrorer(setupTestStorage(t), WithMaxBytes(5)).Mirror(context.Background(), src.URL+"/big")
		if !errors.Is(err, ErrArtifactTooLarge) {
			t.Errorf("expected ErrArtifactTooLarge, got %v", err)
		}
	})

	t.Run("too large without content length", func(t *testing.T) {
		chunked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for i := 0; i < 4; i++ {
				_, _ = w.Write([]byte("0123456789"))
				w.(http.Flusher).Flush()
			}
		}))
		defer chunked.Close()

		store := setupTestStorage(t)
		_, _, err := NewMirrorer(store, WithMaxBytes(15), WithTempDir(t.TempDir())).Mirror(context.Background(), chunked.URL)
		if !errors.Is(err, ErrArtifactTooLarge) {
			t.Errorf("expected ErrArtifactTooLarge, got %v", err)
		}
		if entries, _ := os.ReadDir(filepath.Join(store.Dir(), "videos")); len(entries) != 0 {
			t.Errorf("expected nothing stored, got %d objects", len(entries))
		}
	})

	t.Run("bad scheme", func(t *testing.T) {
		_, _, err := NewMirrorer(setupTestStorage(t)).Mirror(context.Background(), "file:///etc/passwd")
		if !errors.Is(err, ErrDownloadFailed) {
			t.Errorf("expected ErrDownloadFailed, got %v", err)
		}
	})

	t.Run("bad url", func(t *testing.T) {
		_, _, err := NewMirrorer(setupTestStorage(t)).Mirror(context.Background(), "://nope")
		if !errors.Is(err, ErrDownloadFailed) {
			t.Errorf("expected ErrDownloadFailed, got %v", err)
		}
	})
}

func TestMirrorer_Mirror_TempFileRemoved(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mp4 payload"))
	}))
	defer src.Close()

	tmp := t.TempDir()
	if _, _, err := NewMirrorer(setupTestStorage(t), WithTempDir(tmp)).Mirror(context.Background(), src.URL); err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}
	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected temp dir to be empty, got %d files", len(entries))
	}
}

func TestMirrorer_Mirror_HostNotAllowed(t *testing.T) {
	var hits atomic.Int32
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("x"))
	}))
	defer src.Close()

	m := NewMirrorer(setupTestStorage(t), WithAllowedHosts("replicate.delivery"))
	_, _, err := m.Mirror(context.Background(), src.URL+"/latest/meta-data")
	if !errors.Is(err, ErrHostNotAllowed) {
		t.Errorf("expected ErrHostNotAllowed, got %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("expected no request to a disallowed host, got %d", hits.Load())
	}
}

func TestMirrorer_HostAllowed(t *testing.T) {
	m := NewMirrorer(nil, WithAllowedHosts(" Replicate.Delivery ", "", "beam.cloud"))
	tests := map[string]bool{
		"replicate.delivery":      true,
		"pbxt.replicate.delivery": true,
		"REPLICATE.DELIVERY":      true,
		"app.beam.cloud":          true,
		"evilreplicate.delivery":  false,
		"replicate.delivery.evil": false,
		"169.254.169.254":         false,
		"localhost":               false,
	}
	for host, want := range tests {
		if got := m.hostAllowed(host); got != want {
			t.Errorf("hostAllowed(%q) = %v, want %v", host, got, want)
		}
	}

	if !NewMirrorer(nil).hostAllowed("anything.example.com") {
		t.Error("expected an empty allowlist to allow any host")
	}
}

func TestMirrorer_Key(t *testing.T) {
	m := NewMirrorer(nil)
	pattern := regexp.MustCompile(`^videos/\d+-[0-9a-f-]{8}\.mp4$`)

	a, b := m.Key(), m.Key()
	if !pattern.MatchString(a) {
		t.Errorf("unexpected key format %q", a)
	}
	if a == b {
		t.Error("expected unique keys")
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"video/webm":               "video/webm",
		"video/mp4; codecs=avc1":   "video/mp4",
		"application/octet-stream": "video/mp4",
		"":                         "video/mp4",
	}
	for in, want := range tests {
		if got := contentType(in); got != want {
			t.Errorf("contentType(%q) = %q, want %q", in, got, want)
		}
	}
}
