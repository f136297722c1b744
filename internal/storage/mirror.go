package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxArtifactBytes bounds the size of a mirrored video.
const DefaultMaxArtifactBytes = 200 << 20

var (
	// ErrDownloadFailed is returned when the source artifact cannot be fetched.
	ErrDownloadFailed = errors.New("storage: artifact download failed")
	// ErrArtifactTooLarge is returned when the source exceeds the size limit.
	ErrArtifactTooLarge = errors.New("storage: artifact too large")
	// ErrHostNotAllowed is returned when the source host is not allowlisted.
	ErrHostNotAllowed = errors.New("storage: artifact host not allowed")
)

// Mirrorer downloads provider artifacts and stores them under
// videos/<unix-ms>-<rand>.mp4.
type Mirrorer struct {
	store      Storage
	httpClient *http.Client
	cdnBaseURL string
	maxBytes   int64
	allowed    []string
	tempDir    string
	now        func() time.Time
}

// MirrorOption configures a Mirrorer.
type MirrorOption func(*Mirrorer)

// WithCDNBaseURL makes Mirror also return cdnBaseURL/<key>.
func WithCDNBaseURL(base string) MirrorOption {
	return func(m *Mirrorer) {
		m.cdnBaseURL = strings.TrimRight(base, "/")
	}
}

// WithDownloadClient sets the HTTP client used to fetch artifacts.
func WithDownloadClient(c *http.Client) MirrorOption {
	return func(m *Mirrorer) {
		m.httpClient = c
	}
}

// WithMaxBytes sets the artifact size limit.
func WithMaxBytes(n int64) MirrorOption {
	return func(m *Mirrorer) {
		m.maxBytes = n
	}
}

// WithAllowedHosts restricts downloads to the given hosts and their
// subdomains. An empty list allows any host.
func WithAllowedHosts(hosts ...string) MirrorOption {
	return func(m *Mirrorer) {
		m.allowed = m.allowed[:0]
		for _, h := range hosts {
			h = strings.ToLower(strings.TrimSpace(h))
			if h != "" {
				m.allowed = append(m.allowed, h)
			}
		}
	}
}

// WithTempDir sets the directory downloads are spooled to.
func WithTempDir(dir string) MirrorOption {
	return func(m *Mirrorer) {
		m.tempDir = dir
	}
}

// NewMirrorer creates a Mirrorer writing into store.
func NewMirrorer(store Storage, opts ...MirrorOption) *Mirrorer {
	m := &Mirrorer{
		store:      store,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		maxBytes:   DefaultMaxArtifactBytes,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mirror copies srcURL into owned storage and returns the owned URL and,
// when configured, the CDN URL. The download is spooled to a temporary
// file so the upload gets a seekable reader without holding it in memory.
func (m *Mirrorer) Mirror(ctx context.Context, srcURL string) (string, string, error) {
	if err := m.checkSource(srcURL); err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}
	if resp.ContentLength > m.maxBytes {
		return "", "", ErrArtifactTooLarge
	}

	tmp, err := os.CreateTemp(m.tempDir, "mirror-*.mp4")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	if n > m.maxBytes {
		return "", "", ErrArtifactTooLarge
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", "", fmt.Errorf("rewind temp file: %w", err)
	}

	key := m.Key()
	ownedURL, err := m.store.Put(ctx, key, contentType(resp.Header.Get("Content-Type")), tmp)
	if err != nil {
		return "", "", err
	}

	var cdnURL string
	if m.cdnBaseURL != "" {
		cdnURL = m.cdnBaseURL + "/" + key
	}
	return ownedURL, cdnURL, nil
}

// checkSource rejects non-http(s) URLs and hosts outside the allowlist.
func (m *Mirrorer) checkSource(srcURL string) error {
	u, err := url.Parse(srcURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrDownloadFailed, u.Scheme)
	}
	if !m.hostAllowed(u.Hostname()) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Hostname())
	}
	return nil
}

func (m *Mirrorer) hostAllowed(host string) bool {
	if len(m.allowed) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, h := range m.allowed {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Key returns a fresh object key for a video.
func (m *Mirrorer) Key() string {
	return fmt.Sprintf("videos/%d-%s.mp4", m.now().UnixMilli(), uuid.NewString()[:8])
}

func contentType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil || !strings.HasPrefix(mt, "video/") {
		return "video/mp4"
	}
	return mt
}
