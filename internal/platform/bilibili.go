// Package platform implements the signed two-step call against bilibili's
// API (spec §4.2). Resolver is a single narrow interface so the rest of the
// system is untouched if the signing scheme ever changes (spec §9,
// "Platform resolver fragility").
package platform

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/n0remac/vo-sync/internal/apperror"
	"github.com/n0remac/vo-sync/internal/mediaref"
	"github.com/n0remac/vo-sync/internal/token"
)

const (
	navURL     = "https://api.bilibili.com/x/web-interface/nav"
	viewURL    = "https://api.bilibili.com/x/web-interface/view"
	playurlURL = "https://api.bilibili.com/x/player/wbi/playurl"
	refererURL = "https://www.bilibili.com/"
)

// mixinKeyEncTab is the fixed 64-index permutation table used to derive the
// mixin key from the nav manifest's img/sub keys (spec §6).
var mixinKeyEncTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 30, 4,
	22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11, 36, 20, 34, 44, 52,
}

// ResolvedMedia is what a platform resolution yields: a minted token plus
// the fields /api/media/resolve needs to hand back to the caller.
type ResolvedMedia struct {
	Token      string
	URL        string
	ExpiresAt  time.Time
	SourceType string
	Cover      string
}

// Resolver resolves a platform-specific reference (e.g. a bilibili BV id or
// video URL) into a streamable token.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (ResolvedMedia, error)
}

// BilibiliResolver is the concrete Resolver for bilibili video references.
type BilibiliResolver struct {
	client *http.Client
	tokens *token.Registry
	log    zerolog.Logger

	// navURL/viewURL/playurlURL default to the real endpoints; tests
	// override them to point at a fake server.
	navURL     string
	viewURL    string
	playurlURL string
}

// NewBilibiliResolver builds a resolver using client for upstream calls and
// tokens to mint the resulting media token.
func NewBilibiliResolver(client *http.Client, tokens *token.Registry, log zerolog.Logger) *BilibiliResolver {
	return &BilibiliResolver{
		client:     client,
		tokens:     tokens,
		log:        log,
		navURL:     navURL,
		viewURL:    viewURL,
		playurlURL: playurlURL,
	}
}

type navResponse struct {
	Data struct {
		WbiImg struct {
			ImgURL string `json:"img_url"`
			SubURL string `json:"sub_url"`
		} `json:"wbi_img"`
	} `json:"data"`
}

type viewResponse struct {
	Code int    `json:"code"`
	Data struct {
		Bvid     string `json:"bvid"`
		Cid      int64  `json:"cid"`
		Title    string `json:"title"`
		Pic      string `json:"pic"`
		Duration int64  `json:"duration"`
	} `json:"data"`
}

type playurlResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Durl []struct {
			URL string `json:"url"`
		} `json:"durl"`
		Dash json.RawMessage `json:"dash"`
	} `json:"data"`
}

// Resolve implements the A–F steps of spec §4.2.
func (b *BilibiliResolver) Resolve(ctx context.Context, ref string) (ResolvedMedia, error) {
	bvid, ok := mediaref.ExtractBvid(ref)
	if !ok {
		return ResolvedMedia{}, apperror.NewBadRequest("not a recognizable bilibili reference: %s", ref)
	}

	view, err := b.fetchView(ctx, bvid)
	if err != nil {
		return ResolvedMedia{}, err
	}

	playableURL, err := b.fetchPlayURL(ctx, view.Data.Bvid, view.Data.Cid)
	if err != nil {
		return ResolvedMedia{}, err
	}

	tok, expiresAt := b.tokens.Issue(token.RemoteTarget(playableURL, token.ProxyWithHeaders))

	return ResolvedMedia{
		Token:      tok,
		URL:        "/media/" + tok,
		ExpiresAt:  expiresAt,
		SourceType: "bili",
		Cover:      view.Data.Pic,
	}, nil
}

// fetchView performs step D: look up bvid/cid/title/pic/duration.
func (b *BilibiliResolver) fetchView(ctx context.Context, bvid string) (viewResponse, error) {
	body, err := b.get(ctx, b.viewURL+"?bvid="+url.QueryEscape(bvid))
	if err != nil {
		return viewResponse{}, err
	}

	var resp viewResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data.Bvid == "" {
		return viewResponse{}, apperror.NewBadRequest("could not parse bilibili view response")
	}
	return resp, nil
}

// fetchPlayURL performs steps A–C then E: sign a query and fetch the
// playable URL, rejecting DASH-only responses per spec §4.2 step E.
func (b *BilibiliResolver) fetchPlayURL(ctx context.Context, bvid string, cid int64) (string, error) {
	mixinKey, err := b.mixinKey(ctx)
	if err != nil {
		return "", err
	}

	query := map[string]string{
		"bvid":  bvid,
		"cid":   strconv.FormatInt(cid, 10),
		"qn":    "112",
		"fnval": "1",
		"fourk": "1",
	}
	signed := sign(query, mixinKey)

	body, err := b.get(ctx, b.playurlURL+"?"+signed)
	if err != nil {
		return "", err
	}

	var resp playurlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", apperror.NewBadRequest("could not parse bilibili playurl response")
	}
	if resp.Code != 0 {
		return "", apperror.NewBadRequest("%s", resp.Message)
	}
	if len(resp.Data.Durl) > 0 {
		return resp.Data.Durl[0].URL, nil
	}
	if len(resp.Data.Dash) > 0 && string(resp.Data.Dash) != "null" {
		return "", apperror.NewBadRequest("DASH format not supported")
	}
	return "", apperror.NewBadRequest("no playable stream")
}

// mixinKey performs steps A–B: fetch the nav manifest and derive the
// 32-character mixin key via the fixed permutation table.
func (b *BilibiliResolver) mixinKey(ctx context.Context) (string, error) {
	body, err := b.get(ctx, b.navURL)
	if err != nil {
		return "", err
	}

	var nav navResponse
	if err := json.Unmarshal(body, &nav); err != nil {
		return "", apperror.NewBadRequest("could not parse bilibili nav response")
	}

	imgKey := keyFromURL(nav.Data.WbiImg.ImgURL)
	subKey := keyFromURL(nav.Data.WbiImg.SubURL)
	mixinSource := imgKey + subKey

	var sb strings.Builder
	for _, idx := range mixinKeyEncTab {
		if idx < 0 || idx >= len(mixinSource) {
			continue
		}
		sb.WriteByte(mixinSource[idx])
		if sb.Len() >= 32 {
			break
		}
	}
	return sb.String(), nil
}

// keyFromURL takes the last path segment of a URL and strips its extension.
func keyFromURL(raw string) string {
	base := path.Base(raw)
	return strings.TrimSuffix(base, path.Ext(base))
}

// sign implements step C: insert wts, strip reserved characters, sort,
// percent-encode, append the mixin key, and MD5 it.
func sign(params map[string]string, mixinKey string) string {
	cleaned := make(map[string]string, len(params)+1)
	for k, v := range params {
		cleaned[k] = stripReserved(v)
	}
	cleaned["wts"] = strconv.FormatInt(time.Now().Unix(), 10)

	keys := make([]string, 0, len(cleaned))
	for k := range cleaned {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(cleaned[k]))
	}
	encoded := sb.String()

	digest := md5.Sum([]byte(encoded + mixinKey))
	return fmt.Sprintf("%s&w_rid=%x", encoded, digest)
}

func stripReserved(v string) string {
	return strings.NewReplacer("'", "", "!", "", "(", "", ")", "", "*", "").Replace(v)
}

func (b *BilibiliResolver) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperror.NewBadRequest("could not build upstream request: %v", err)
	}
	req.Header.Set("Referer", refererURL)
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := b.client.Do(req)
	if err != nil {
		b.log.Warn().Err(err).Str("url", target).Msg("bilibili upstream request failed")
		return nil, apperror.NewNotFound("upstream request failed")
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}
