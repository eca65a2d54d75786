package firmware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	daqcore "github.com/daqifi/daqifi-core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	responses []*http.Response
	errs      []error
	calls     int
	lastURL   string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.lastURL = req.URL.String()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func jsonResponse(status int, body string, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{},
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

const sampleFeed = `[
  {"tag_name": "v1.0.0", "draft": false, "prerelease": false, "body": "first", "assets": [{"name": "fw-1.0.0.bin", "browser_download_url": "http://x/fw-1.0.0.bin", "size": 10}], "zipball_url": "http://x/1.0.0.zip"},
  {"tag_name": "v2.0.0rc1", "draft": false, "prerelease": true, "assets": [{"name": "fw-2.0.0rc1.bin", "browser_download_url": "http://x/fw-2.0.0rc1.bin", "size": 20}]},
  {"tag_name": "v1.9.0", "draft": true, "assets": []},
  {"tag_name": "not-a-version", "draft": false, "assets": []}
]`

func TestClientLatestIgnoresDraftAndPrerelease(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{jsonResponse(200, sampleFeed, nil)}}
	c := &Client{HTTP: doer}

	rel, err := c.Latest(context.Background(), "main", "http://example/releases", ".bin", false)
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", rel.TagName)
	require.NotNil(t, rel.Asset)
	assert.Equal(t, "fw-1.0.0.bin", rel.Asset.FileName)
	assert.Equal(t, "http://x/1.0.0.zip", rel.ZipballURL)
}

func TestClientLatestIncludesPrereleaseWhenAsked(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{jsonResponse(200, sampleFeed, nil)}}
	c := &Client{HTTP: doer}

	rel, err := c.Latest(context.Background(), "main", "http://example/releases", ".bin", true)
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0rc1", rel.TagName)
	assert.True(t, rel.IsPrerelease)
}

func TestClientLatestCachesPerFeed(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{jsonResponse(200, sampleFeed, nil), jsonResponse(200, sampleFeed, nil)}}
	c := &Client{HTTP: doer, CacheTTL: time.Hour}

	_, err := c.Latest(context.Background(), "main", "http://example/releases", ".bin", false)
	require.NoError(t, err)
	_, err = c.Latest(context.Background(), "main", "http://example/releases", ".bin", false)
	require.NoError(t, err)
	assert.Equal(t, 1, doer.calls)

	c.InvalidateCache()
	_, err = c.Latest(context.Background(), "main", "http://example/releases", ".bin", false)
	require.NoError(t, err)
	assert.Equal(t, 2, doer.calls)
}

func TestClientLatestNoEligibleRelease(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{jsonResponse(200, `[{"tag_name":"x","draft":true}]`, nil)}}
	c := &Client{HTTP: doer}
	_, err := c.Latest(context.Background(), "main", "http://example/releases", ".bin", false)
	require.Error(t, err)
	kind, ok := daqcore.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, daqcore.NotFound, kind)
}

func TestClientLatestRateLimited(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{jsonResponse(403, "", map[string]string{"X-RateLimit-Reset": "1700000000"})}}
	c := &Client{HTTP: doer}
	_, err := c.Latest(context.Background(), "main", "http://example/releases", ".bin", false)
	require.Error(t, err)
	kind, ok := daqcore.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, daqcore.RateLimited, kind)
	assert.Contains(t, err.Error(), "1700000000")
}

func TestDownloadToSucceeds(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{jsonResponse(200, "firmware-bytes", nil)}}
	c := &Client{HTTP: doer}
	dir := t.TempDir()

	path, err := c.DownloadTo(context.Background(), dir, "http://example/asset.bin", "asset.bin", nil)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestDownloadToSizeMismatchFails(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{jsonResponse(200, "firmware-bytes", nil)}}
	c := &Client{HTTP: doer}
	dir := t.TempDir()

	expected := int64(999)
	_, err := c.DownloadTo(context.Background(), dir, "http://example/asset.bin", "asset.bin", &expected)
	require.Error(t, err)
	kind, ok := daqcore.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, daqcore.InvalidOperation, kind)
}

func TestParseSizeHeader(t *testing.T) {
	n, ok := ParseSizeHeader("123")
	require.True(t, ok)
	assert.EqualValues(t, 123, n)

	_, ok = ParseSizeHeader("not-a-number")
	assert.False(t, ok)
}
