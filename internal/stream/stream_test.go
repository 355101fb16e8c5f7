package stream

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0remac/vo-sync/internal/clock"
	"github.com/n0remac/vo-sync/internal/logging"
	"github.com/n0remac/vo-sync/internal/token"
)

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/media/{token}", h.ServeHTTP)
	return r
}

func TestServeHTTPUnknownTokenReturns404(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	tokens := token.New(time.Hour, clk)
	h := NewHandler(tokens, http.DefaultClient, logging.New("stream-test"))

	req := httptest.NewRequest(http.MethodGet, "/media/nonexistent", nil)
	rec := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTPRedirectsForRedirectStrategy(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	tokens := token.New(time.Hour, clk)
	tok, _ := tokens.Issue(token.RemoteTarget("https://example.com/v.mp4", token.Redirect))
	h := NewHandler(tokens, http.DefaultClient, logging.New("stream-test"))

	req := httptest.NewRequest(http.MethodGet, "/media/"+tok, nil)
	rec := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://example.com/v.mp4", rec.Header().Get("Location"))
}

func TestServeHTTPProxiesWithRangeAndRefererHeaders(t *testing.T) {
	var gotRange, gotReferer string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Range", "bytes 0-3/4")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("data"))
	}))
	defer upstream.Close()

	clk := clock.NewFake(time.Unix(0, 0))
	tokens := token.New(time.Hour, clk)
	tok, _ := tokens.Issue(token.RemoteTarget(upstream.URL, token.ProxyWithHeaders))
	h := NewHandler(tokens, upstream.Client(), logging.New("stream-test"))

	req := httptest.NewRequest(http.MethodGet, "/media/"+tok, nil)
	req.Header.Set("Range", "bytes=0-3")
	rec := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes=0-3", gotRange)
	assert.Equal(t, refererHeader, gotReferer)
	assert.Equal(t, "bytes 0-3/4", rec.Header().Get("Content-Range"))
	assert.Equal(t, "data", rec.Body.String())
}

func TestServeHTTPStreamsLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.mp4")
	require.NoError(t, os.WriteFile(path, []byte("local-bytes"), 0o644))

	clk := clock.NewFake(time.Unix(0, 0))
	tokens := token.New(time.Hour, clk)
	tok, _ := tokens.Issue(token.LocalTarget(path))
	h := NewHandler(tokens, http.DefaultClient, logging.New("stream-test"))

	req := httptest.NewRequest(http.MethodGet, "/media/"+tok, nil)
	rec := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "local-bytes", rec.Body.String())
}
