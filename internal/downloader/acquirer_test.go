package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"feedarchiver/pkg/errors"
	"feedarchiver/pkg/models"
	"feedarchiver/pkg/retry"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// imageHost serves width=0 and width=1080 variants with separate handlers
type imageHost struct {
	mu       sync.Mutex
	queries  []string
	original http.HandlerFunc
	bounded  http.HandlerFunc
}

func (h *imageHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.queries = append(h.queries, r.URL.RawQuery)
	h.mu.Unlock()

	switch r.URL.Query().Get("width") {
	case "0":
		h.original(w, r)
	case "1080":
		h.bounded(w, r)
	default:
		http.Error(w, "bad width", http.StatusBadRequest)
	}
}

func (h *imageHost) hits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queries)
}

func serveImage(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte(body))
	}
}

func serveStatus(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}
}

func newHost(t *testing.T, original, bounded http.HandlerFunc) (*imageHost, string) {
	t.Helper()
	h := &imageHost{original: original, bounded: bounded}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, srv.URL
}

func newTestAcquirer(ceiling int64) *Acquirer {
	return NewAcquirer(resty.New(), AcquirerOptions{
		MaxOriginalBytes: ceiling,
		Retry: &retry.Config{
			MaxAttempts: 2,
			Backoff:     retry.Fixed(time.Millisecond),
		},
	}, nil)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestAcquireOriginal(t *testing.T) {
	_, base := newHost(t, serveImage("original bytes"), serveImage("bounded"))
	dest := filepath.Join(t.TempDir(), "1_a.jpg")

	result, err := newTestAcquirer(1000).Acquire(context.Background(), base+"/diaries/1/a.jpg?width=640", dest)
	require.NoError(t, err)

	assert.Equal(t, models.TierOriginal, result.Tier)
	assert.Equal(t, dest, result.Path)
	assert.Equal(t, int64(len("original bytes")), result.Bytes)
	assert.Equal(t, "original bytes", readFile(t, dest))
}

func TestAcquireFallsBackOnNonImageOriginal(t *testing.T) {
	html := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html>login</html>"))
	}
	_, base := newHost(t, html, serveImage("bounded bytes"))
	dest := filepath.Join(t.TempDir(), "1_a.jpg")

	result, err := newTestAcquirer(1000).Acquire(context.Background(), base+"/diaries/1/a.jpg", dest)
	require.NoError(t, err)

	assert.Equal(t, models.TierBounded, result.Tier)
	assert.Greater(t, result.Bytes, int64(0))
	assert.Equal(t, "bounded bytes", readFile(t, dest))
}

func TestAcquireOversizedOriginalIsDiscarded(t *testing.T) {
	_, base := newHost(t, serveImage(strings.Repeat("x", 100)), serveImage("small"))
	dest := filepath.Join(t.TempDir(), "1_a.jpg")

	result, err := newTestAcquirer(10).Acquire(context.Background(), base+"/diaries/1/a.jpg", dest)
	require.NoError(t, err)

	assert.Equal(t, models.TierBounded, result.Tier)
	assert.Equal(t, "small", readFile(t, dest))
	assert.NoFileExists(t, dest+".part")
}

func TestAcquireEmptyOriginalFallsBack(t *testing.T) {
	_, base := newHost(t, serveImage(""), serveImage("bounded"))
	dest := filepath.Join(t.TempDir(), "1_a.jpg")

	result, err := newTestAcquirer(1000).Acquire(context.Background(), base+"/diaries/1/a.jpg", dest)
	require.NoError(t, err)
	assert.Equal(t, models.TierBounded, result.Tier)
}

func TestAcquireBothTiersFail(t *testing.T) {
	_, base := newHost(t, serveStatus(http.StatusNotFound), serveStatus(http.StatusForbidden))
	dest := filepath.Join(t.TempDir(), "1_a.jpg")

	_, err := newTestAcquirer(1000).Acquire(context.Background(), base+"/diaries/1/a.jpg", dest)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDownload))
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+".part")
}

func TestAcquireRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	flaky := func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		serveImage("after retry")(w, r)
	}
	host, base := newHost(t, flaky, serveStatus(http.StatusInternalServerError))
	dest := filepath.Join(t.TempDir(), "1_a.jpg")

	result, err := newTestAcquirer(1000).Acquire(context.Background(), base+"/diaries/1/a.jpg", dest)
	require.NoError(t, err)
	assert.Equal(t, models.TierOriginal, result.Tier)
	assert.Equal(t, 2, host.hits())
}

func TestAcquireDoesNotRetryRejectedContent(t *testing.T) {
	host, base := newHost(t, serveStatus(http.StatusNotFound), serveImage("bounded"))
	dest := filepath.Join(t.TempDir(), "1_a.jpg")

	_, err := newTestAcquirer(1000).Acquire(context.Background(), base+"/diaries/1/a.jpg", dest)
	require.NoError(t, err)
	assert.Equal(t, 2, host.hits(), "one request per tier")
}

func TestAcquirePreservesOtherQueryParameters(t *testing.T) {
	host, base := newHost(t, serveStatus(http.StatusNotFound), serveImage("bounded"))
	dest := filepath.Join(t.TempDir(), "1_a.jpg")

	src := base + "/diaries/1/a.jpg?width=640&Policy=abc%2Fdef&Key-Pair-Id=K1"
	_, err := newTestAcquirer(1000).Acquire(context.Background(), src, dest)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"width=0&Policy=abc%2Fdef&Key-Pair-Id=K1",
		"width=1080&Policy=abc%2Fdef&Key-Pair-Id=K1",
	}, host.queries)
}

func TestAcquireCancelled(t *testing.T) {
	host, base := newHost(t, serveImage("a"), serveImage("b"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestAcquirer(1000).Acquire(ctx, base+"/diaries/1/a.jpg", filepath.Join(t.TempDir(), "a.jpg"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, host.hits())
}
