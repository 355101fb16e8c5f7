// Package stream implements the Media Streaming Endpoint (spec §4.8): given
// a token it redirects, proxies with attribution headers and range
// passthrough, or streams a local file.
package stream

import (
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/n0remac/vo-sync/internal/token"
)

// refererHeader is the attribution header required for bilibili proxying
// (spec §4.8).
const refererHeader = "https://www.bilibili.com/"

var relayedHeaders = []string{"Content-Type", "Content-Length", "Accept-Ranges", "Content-Range"}

// Handler serves GET /media/{token}.
type Handler struct {
	tokens *token.Registry
	client *http.Client
	log    zerolog.Logger
}

// NewHandler builds a streaming Handler using client for upstream proxying.
func NewHandler(tokens *token.Registry, client *http.Client, log zerolog.Logger) *Handler {
	return &Handler{tokens: tokens, client: client, log: log}
}

// ServeHTTP implements spec §4.8's three-way dispatch.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")

	if url, strategy, err := h.tokens.OpenRemote(tok); err == nil {
		h.serveRemote(w, r, url, strategy)
		return
	}

	if path, err := h.tokens.OpenLocal(tok); err == nil {
		h.serveLocal(w, r, path)
		return
	}

	http.Error(w, "unknown or expired token", http.StatusNotFound)
}

func (h *Handler) serveRemote(w http.ResponseWriter, r *http.Request, url string, strategy token.Strategy) {
	if strategy == token.Redirect {
		w.Header().Set("Location", url)
		w.WriteHeader(http.StatusTemporaryRedirect)
		return
	}
	h.proxyWithHeaders(w, r, url)
}

// proxyWithHeaders relays Range through to the upstream, adds the Referer
// attribution header, and streams the response body back (spec §4.8 step
// 1, ProxyWithHeaders).
func (h *Handler) proxyWithHeaders(w http.ResponseWriter, r *http.Request, url string) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		http.Error(w, "failed to build upstream request", http.StatusNotFound)
		return
	}
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	req.Header.Set("Referer", refererHeader)

	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Warn().Err(err).Str("url", url).Msg("upstream proxy request failed")
		http.Error(w, "upstream request failed", http.StatusNotFound)
		return
	}
	defer resp.Body.Close()

	for _, header := range relayedHeaders {
		if v := resp.Header.Get(header); v != "" {
			w.Header().Set(header, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.log.Debug().Err(err).Msg("client disconnected during proxy stream")
	}
}

// serveLocal streams a local file (spec §4.8 step 2) via http.ServeContent:
// a plain GET gets 200, a request with a Range header gets 206.
func (h *Handler) serveLocal(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "local file unavailable", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "local file unavailable", http.StatusNotFound)
		return
	}

	http.ServeContent(w, r, path, info.ModTime(), f)
}
