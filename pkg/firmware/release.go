package firmware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	daqcore "github.com/daqifi/daqifi-core"
	log "github.com/sirupsen/logrus"
)

// DefaultCacheTTL is the release-list cache lifetime when Client.CacheTTL
// is left at zero (§4.13).
const DefaultCacheTTL = 60 * time.Minute

// Asset is the first release asset whose file name ends with the
// extension the caller asked for.
type Asset struct {
	DownloadURL string
	FileName    string
	Size        int64
}

// Release is the metadata surfaced for the highest-versioned
// non-draft (and, by default, non-prerelease) element of a feed.
type Release struct {
	TagName      string
	Version      Version
	IsPrerelease bool
	Body         string
	PublishedAt  *time.Time
	Asset        *Asset
	ZipballURL   string
}

// rawRelease mirrors the feed's JSON shape (§6 "Release-metadata JSON
// shape"): tag_name, draft, prerelease, body, published_at, assets[],
// zipball_url.
type rawRelease struct {
	TagName     string        `json:"tag_name"`
	Draft       bool          `json:"draft"`
	Prerelease  bool          `json:"prerelease"`
	Body        *string       `json:"body"`
	PublishedAt *time.Time    `json:"published_at"`
	Assets      []rawAsset    `json:"assets"`
	ZipballURL  *string       `json:"zipball_url"`
}

type rawAsset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
}

type cacheEntry struct {
	releases []rawRelease
	expires  time.Time
}

// HTTPDoer is the subset of *http.Client the release Client depends on,
// so tests can substitute a fake transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client queries release-metadata feeds (C13): a configurable endpoint
// per logical feed name, cached per feed for CacheTTL.
type Client struct {
	HTTP     HTTPDoer
	CacheTTL time.Duration

	mu     sync.Mutex
	caches map[string]cacheEntry
}

// NewClient builds a Client using http.DefaultClient and DefaultCacheTTL.
func NewClient() *Client {
	return &Client{HTTP: http.DefaultClient}
}

func (c *Client) ttl() time.Duration {
	if c.CacheTTL > 0 {
		return c.CacheTTL
	}
	return DefaultCacheTTL
}

// InvalidateCache clears every feed's cached release list.
func (c *Client) InvalidateCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caches = nil
}

func (c *Client) cached(feed string) ([]rawRelease, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.caches[feed]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.releases, true
}

func (c *Client) store(feed string, releases []rawRelease) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.caches == nil {
		c.caches = make(map[string]cacheEntry)
	}
	c.caches[feed] = cacheEntry{releases: releases, expires: time.Now().Add(c.ttl())}
}

func (c *Client) fetch(ctx context.Context, feed, endpoint string) ([]rawRelease, error) {
	if releases, ok := c.cached(feed); ok {
		return releases, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, daqcore.NewError(daqcore.InvalidArgument, "firmware.Client.fetch", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, wrapContextOrIO(ctx, "firmware.Client.fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
			return nil, daqcore.NewError(daqcore.RateLimited, "firmware.Client.fetch",
				fmt.Errorf("rate limited, resets at %s", reset))
		}
		return nil, daqcore.NewError(daqcore.RateLimited, "firmware.Client.fetch",
			fmt.Errorf("rate limited"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, daqcore.NewError(daqcore.Io, "firmware.Client.fetch",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var releases []rawRelease
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, daqcore.NewError(daqcore.MalformedRecord, "firmware.Client.fetch", err)
	}
	c.store(feed, releases)
	log.Debugf("firmware: fetched %d releases for feed %q", len(releases), feed)
	return releases, nil
}

// Latest queries the feed at endpoint (cached under feed for CacheTTL),
// discards draft releases (and prereleases unless includePrerelease),
// parses tag_name via §4.11, and returns the highest-versioned survivor
// with its first asset matching assetExtension.
func (c *Client) Latest(ctx context.Context, feed, endpoint, assetExtension string, includePrerelease bool) (Release, error) {
	releases, err := c.fetch(ctx, feed, endpoint)
	if err != nil {
		return Release{}, err
	}

	var best *rawRelease
	var bestVersion Version
	for i := range releases {
		r := &releases[i]
		if r.Draft {
			continue
		}
		if r.Prerelease && !includePrerelease {
			continue
		}
		v, ok := Parse(r.TagName)
		if !ok {
			continue
		}
		if best == nil || Less(bestVersion, v) {
			best = r
			bestVersion = v
		}
	}
	if best == nil {
		return Release{}, daqcore.NewError(daqcore.NotFound, "firmware.Client.Latest",
			fmt.Errorf("no eligible release in feed %q", feed))
	}

	out := Release{
		TagName:      best.TagName,
		Version:      bestVersion,
		IsPrerelease: best.Prerelease,
		PublishedAt:  best.PublishedAt,
	}
	if best.Body != nil {
		out.Body = *best.Body
	}
	if best.ZipballURL != nil {
		out.ZipballURL = *best.ZipballURL
	}
	for _, a := range best.Assets {
		if strings.HasSuffix(a.Name, assetExtension) {
			out.Asset = &Asset{DownloadURL: a.DownloadURL, FileName: a.Name, Size: a.Size}
			break
		}
	}
	return out, nil
}

// DownloadTo streams url's body into dir/fileName, returning the written
// path. If expectedSize is non-nil and the byte count written differs,
// it fails with InvalidOperation (§4.13).
func (c *Client) DownloadTo(ctx context.Context, dir, url, fileName string, expectedSize *int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", daqcore.NewError(daqcore.InvalidArgument, "firmware.Client.DownloadTo", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", wrapContextOrIO(ctx, "firmware.Client.DownloadTo", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", daqcore.NewError(daqcore.Io, "firmware.Client.DownloadTo",
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	path := filepath.Join(dir, fileName)
	f, err := os.Create(path)
	if err != nil {
		return "", daqcore.NewError(daqcore.Io, "firmware.Client.DownloadTo", err)
	}
	defer f.Close()

	written, err := io.Copy(f, resp.Body)
	if err != nil {
		return "", wrapContextOrIO(ctx, "firmware.Client.DownloadTo", err)
	}
	if expectedSize != nil && written != *expectedSize {
		return "", daqcore.NewError(daqcore.InvalidOperation, "firmware.Client.DownloadTo",
			fmt.Errorf("wrote %d bytes, expected %d", written, *expectedSize))
	}
	return path, nil
}

func wrapContextOrIO(ctx context.Context, op string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return daqcore.NewError(daqcore.Timeout, op, err)
	}
	if ctx.Err() != nil {
		return daqcore.NewError(daqcore.Cancelled, op, err)
	}
	return daqcore.NewError(daqcore.Io, op, err)
}

// ParseSizeHeader is a small helper for callers that need to compute
// expected asset size from an HTTP Content-Length header string.
func ParseSizeHeader(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
