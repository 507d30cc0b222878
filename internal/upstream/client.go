package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/zbridge-dev/zbridge/internal/apierr"
	"github.com/zbridge-dev/zbridge/internal/cache"
	"github.com/zbridge-dev/zbridge/internal/config"
)

const (
	authTokenCacheKey = "upstream:auth_token"
	feVersion         = "prod-fe-1.0.77"
)

// headerPool holds browser-identical header sets; one is picked per request.
var headerPool = []map[string]string{
	{
		"User-Agent":         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
		"sec-ch-ua":          `"Not;A=Brand";v="99", "Chromium";v="139"`,
		"sec-ch-ua-platform": `"Windows"`,
	},
	{
		"User-Agent":         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
		"sec-ch-ua":          `"Not;A=Brand";v="99", "Chromium";v="139"`,
		"sec-ch-ua-platform": `"macOS"`,
	},
	{
		"User-Agent":         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36 Edg/139.0.0.0",
		"sec-ch-ua":          `"Not;A=Brand";v="99", "Edge";v="139"`,
		"sec-ch-ua-platform": `"Windows"`,
	},
}

// Client talks to the single configured upstream chat service.
type Client struct {
	cfg   *config.AppConfig
	http  *http.Client
	cache *cache.Cache
}

// NewClient builds an upstream client sharing the process-wide cache for
// auth tokens. Stream reads are bounded by the parser's idle timeout, not a
// client-level response timeout.
func NewClient(cfg *config.AppConfig, c *cache.Cache) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cache: c,
	}
}

// escapePath makes a literal JSON key safe to use as an sjson path.
func escapePath(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}

func (c *Client) browserHeaders(req *http.Request) {
	set := headerPool[rand.Intn(len(headerPool))]
	for k, v := range set {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("X-FE-Version", feVersion)
	req.Header.Set("sec-ch-ua-mobile", "?0")
	req.Header.Set("Origin", c.cfg.APIBase)
}

// AuthToken returns the bearer token for upstream calls. With anonymous
// tokens enabled it fetches and caches a guest token, falling back to the
// configured token on failure.
func (c *Client) AuthToken(ctx context.Context) string {
	if !c.cfg.AnonTokenEnabled {
		return c.cfg.UpstreamToken
	}
	if tok, ok := c.cache.Get(authTokenCacheKey); ok {
		return tok.(string)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+"/api/v1/auths/", nil)
	if err != nil {
		return c.cfg.UpstreamToken
	}
	c.browserHeaders(req)
	req.Header.Set("Referer", c.cfg.APIBase+"/")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		logrus.Warnf("anonymous token fetch failed: %v", err)
		return c.cfg.UpstreamToken
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logrus.Warnf("anonymous token fetch returned %d", resp.StatusCode)
		return c.cfg.UpstreamToken
	}

	var doc struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil || doc.Token == "" {
		return c.cfg.UpstreamToken
	}
	c.cache.Set(authTokenCacheKey, doc.Token, c.cfg.AuthTokenTTL)
	logrus.Debug("anonymous upstream token cached")
	return doc.Token
}

// Models fetches the upstream model catalog.
func (c *Client) Models(ctx context.Context) (*ModelsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+"/api/models", nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "build models request", err)
	}
	c.browserHeaders(req)
	req.Header.Set("Authorization", "Bearer "+c.AuthToken(ctx))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUpstreamUnavailable, "upstream models request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.Newf(apierr.KindUpstreamUnavailable, "upstream models request returned %d", resp.StatusCode)
	}

	var models ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, apierr.Wrap(apierr.KindUpstreamUnavailable, "decode upstream models", err)
	}
	return &models, nil
}

// ChatCompletion opens the upstream SSE stream for one chat request. The
// caller owns the returned body and must close it (ParseStream does).
// The upstream always answers in SSE, so Stream is forced on.
func (c *Client) ChatCompletion(ctx context.Context, ureq *Request) (io.ReadCloser, error) {
	ureq.Stream = true

	payload, err := json.Marshal(ureq)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "encode upstream request", err)
	}
	// Pass-through fields ride at the top level of the wire body.
	for k, v := range ureq.Params {
		payload, err = sjson.SetBytes(payload, escapePath(k), v)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "encode pass-through param "+k, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+"/api/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "build upstream request", err)
	}
	c.browserHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AuthToken(ctx))
	req.Header.Set("Referer", fmt.Sprintf("%s/c/%s", c.cfg.APIBase, ureq.ChatID))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apierr.Wrap(apierr.KindUpstreamTimeout, "upstream call timed out", err)
		}
		return nil, apierr.Wrap(apierr.KindUpstreamUnavailable, "upstream call failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, apierr.Newf(apierr.KindUpstreamUnavailable, "upstream returned %d: %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}
