package calendar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// ErrNotModifiedWithoutCache is returned when the server answers 304 but no
// cached body exists.
var ErrNotModifiedWithoutCache = errors.New("calendar: 304 Not Modified without cached body")

const maxFeedBytes = 16 << 20

// Source is one subscribed ICS feed.
type Source struct {
	ID     string `yaml:"id"`
	UserID string `yaml:"user_id"`
	URL    string `yaml:"url"`
	// Schedule is a cron spec for periodic sync; empty disables it.
	Schedule string `yaml:"schedule"`
}

// FetchResult is the body of one source, fresh or from the disk cache.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
}

type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds with conditional requests and keeps the last good
// body on disk so a failing server does not wipe imported events.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	now      func() time.Time
	logger   *slog.Logger
}

// NewFetcher returns a fetcher caching under cacheDir. A nil client gets a
// 15 second timeout.
func NewFetcher(cacheDir string, client *http.Client, logger *slog.Logger) *Fetcher {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "visionary-ics-cache")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, cacheDir: cacheDir, now: time.Now, logger: logger}
}

// Fetch retrieves src honoring ETag and Last-Modified. Network failures and
// non-OK answers fall back to the cached body when there is one.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, fmt.Errorf("calendar: source %s has no URL", src.ID)
	}
	logger := f.logger.With("source_id", src.ID, "url", redactURL(src.URL))

	cachePath := f.cachePath(src.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, fmt.Errorf("calendar: create cache dir: %w", err)
	}
	meta, _ := loadCacheMeta(cachePath)
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("calendar: build request: %w", err)
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	cached := FetchResult{Source: src, Body: cachedBody, FromCache: true}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			logger.WarnContext(ctx, "ics fetch failed, using cached body", "error", err)
			return cached, nil
		}
		return FetchResult{}, fmt.Errorf("calendar: fetch %s: %w", src.ID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		if err != nil {
			return FetchResult{}, fmt.Errorf("calendar: read %s: %w", src.ID, err)
		}
		entry := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    f.now().UTC(),
		}
		if err := saveCache(cachePath, entry, body); err != nil {
			logger.WarnContext(ctx, "ics cache save failed", "error", err)
		}
		logger.InfoContext(ctx, "ics fetched", "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, ErrNotModifiedWithoutCache
		}
		logger.DebugContext(ctx, "ics not modified")
		return cached, nil

	default:
		if len(cachedBody) > 0 {
			logger.WarnContext(ctx, "ics fetch non-OK, using cached body", "status", resp.StatusCode)
			return cached, nil
		}
		return FetchResult{}, fmt.Errorf("calendar: fetch %s: %s", src.ID, resp.Status)
	}
}

func (f *Fetcher) cachePath(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so the metadata never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; feed URLs often embed secrets.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/(redacted)"
}
