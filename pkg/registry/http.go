package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
	"github.com/TEN-framework/ten-framework-sub001/pkg/semver"
)

// HTTPConfig configures the HTTP registry client
type HTTPConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries uint64
	CacheSize  int

	// PageSize is used when a query asks for every match
	PageSize int
}

// HTTP is a registry client for the package server API
type HTTP struct {
	base       string
	token      string
	client     *http.Client
	maxRetries uint64
	pageSize   int
	cache      *lru.Cache[string, []Entry]
	observer   QueryObserver
	logger     zerolog.Logger
}

var _ Facade = (*HTTP)(nil)

// NewHTTP creates an HTTP registry client
func NewHTTP(config HTTPConfig, logger zerolog.Logger) (*HTTP, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("registry url is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 256
	}
	if config.PageSize <= 0 {
		config.PageSize = 100
	}

	cache, err := lru.New[string, []Entry](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry cache: %w", err)
	}

	return &HTTP{
		base:       strings.TrimRight(config.BaseURL, "/"),
		token:      config.Token,
		client:     &http.Client{Timeout: config.Timeout},
		maxRetries: config.MaxRetries,
		pageSize:   config.PageSize,
		cache:      cache,
		logger:     logger.With().Str("component", "registry").Str("registry", "http").Logger(),
	}, nil
}

// SetObserver registers a callback for list query outcomes. It must be
// called before the registry is shared.
func (h *HTTP) SetObserver(observer QueryObserver) {
	h.observer = observer
}

type listResponse struct {
	TotalSize int               `json:"totalSize"`
	Packages  []json.RawMessage `json:"packages"`
}

// GetPackageList queries {base}/packages. With a zero PageSize every page is
// fetched. Responses are cached per query.
func (h *HTTP) GetPackageList(ctx context.Context, q Query) ([]Entry, error) {
	key := h.listURL(q, q.Page)
	if cached, ok := h.cache.Get(key); ok {
		h.notify("cached")
		return cached, nil
	}

	var entries []Entry
	if q.PageSize > 0 {
		page, _, err := h.fetchPage(ctx, h.listURL(q, q.Page))
		if err != nil {
			h.notify("error")
			return nil, err
		}
		entries = page
	} else {
		paged := q
		paged.PageSize = h.pageSize
		for n := 1; ; n++ {
			page, total, err := h.fetchPage(ctx, h.listURL(paged, n))
			if err != nil {
				h.notify("error")
				return nil, err
			}
			entries = append(entries, page...)
			if len(page) == 0 || len(entries) >= total {
				break
			}
		}
	}

	h.cache.Add(key, entries)
	h.notify("ok")
	h.logger.Debug().
		Str("type", string(q.Type)).
		Str("name", q.Name).
		Str("version", q.VersionReq.String()).
		Int("entries", len(entries)).
		Msg("Queried registry")
	return entries, nil
}

func (h *HTTP) fetchPage(ctx context.Context, rawURL string) ([]Entry, int, error) {
	body, err := h.do(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return nil, 0, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("%w: malformed package list: %w", ErrRegistryTransport, err)
	}

	entries := make([]Entry, 0, len(resp.Packages))
	for _, raw := range resp.Packages {
		e, err := parseEntry(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrRegistryTransport, err)
		}
		entries = append(entries, e)
	}
	return entries, resp.TotalSize, nil
}

// parseEntry splits the registry fields from the manifest fields of one
// package object
func parseEntry(raw []byte) (Entry, error) {
	hash := gjson.GetBytes(raw, "hash").String()
	downloadURL := gjson.GetBytes(raw, "downloadUrl").String()

	stripped, err := sjson.DeleteBytes(raw, "hash")
	if err == nil {
		stripped, err = sjson.DeleteBytes(stripped, "downloadUrl")
	}
	if err != nil {
		return Entry{}, err
	}

	m, err := manifest.Parse(stripped)
	if err != nil {
		return Entry{}, err
	}
	if hash == "" {
		hash = m.Hash
	}
	return Entry{Manifest: m, DownloadURL: downloadURL, Hash: hash}, nil
}

// GetPackage downloads url, or the canonical download path when url is empty
func (h *HTTP) GetPackage(ctx context.Context, pkgType manifest.PkgType, name string, version semver.Version, rawURL string) ([]byte, error) {
	if rawURL == "" {
		rawURL = h.packageURL(pkgType, name, version.String(), "")
	}
	return h.do(ctx, http.MethodGet, rawURL, nil, "")
}

type uploadRequest struct {
	Manifest *manifest.Manifest `json:"manifest"`
	Hash     string             `json:"hash"`
	Content  []byte             `json:"content"`
}

type uploadResponse struct {
	DownloadURL string `json:"downloadUrl"`
}

// UploadPackage publishes a package with POST {base}/packages
func (h *HTTP) UploadPackage(ctx context.Context, data []byte, info *pkginfo.PkgInfo) (string, error) {
	payload, err := json.Marshal(uploadRequest{Manifest: info.Manifest, Hash: info.Hash, Content: data})
	if err != nil {
		return "", fmt.Errorf("failed to marshal upload: %w", err)
	}

	body, err := h.do(ctx, http.MethodPost, h.base+"/packages", payload, "application/json")
	if err != nil {
		return "", err
	}

	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: malformed upload response: %w", ErrRegistryTransport, err)
	}
	h.cache.Purge()
	return resp.DownloadURL, nil
}

// DeletePackage removes a version with DELETE {base}/packages/<type>/<name>/<version>/<hash>
func (h *HTTP) DeletePackage(ctx context.Context, pkgType manifest.PkgType, name string, version semver.Version, hash string) error {
	_, err := h.do(ctx, http.MethodDelete, h.packageURL(pkgType, name, version.String(), hash), nil, "")
	if err != nil {
		return err
	}
	h.cache.Purge()
	return nil
}

// do sends one request, retrying transport errors and 5xx answers with
// exponential backoff
func (h *HTTP) do(ctx context.Context, method, rawURL string, payload []byte, contentType string) ([]byte, error) {
	var body []byte
	backoff := retry.WithMaxRetries(h.maxRetries, retry.NewExponential(100*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if h.token != "" {
			req.Header.Set("Authorization", "Bearer "+h.token)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Warn().Err(err).Str("method", method).Str("url", rawURL).Msg("Registry request failed")
			return retry.RetryableError(fmt.Errorf("%w: %w", ErrRegistryTransport, err))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: failed to read response: %w", ErrRegistryTransport, err))
		}

		switch {
		case resp.StatusCode >= 500:
			h.logger.Warn().Int("status", resp.StatusCode).Str("url", rawURL).Msg("Registry server error")
			return retry.RetryableError(fmt.Errorf("%w: %s %s: %s", ErrRegistryTransport, method, rawURL, resp.Status))
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, rawURL)
		case resp.StatusCode == http.StatusConflict:
			return fmt.Errorf("%w: %s", ErrAlreadyExists, rawURL)
		case resp.StatusCode >= 400:
			return fmt.Errorf("%w: %s %s: %s", ErrRegistryTransport, method, rawURL, resp.Status)
		}

		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (h *HTTP) listURL(q Query, page int) string {
	v := url.Values{}
	if q.Type != "" {
		v.Set("type", string(q.Type))
	}
	if q.Name != "" {
		v.Set("name", q.Name)
	}
	if !q.VersionReq.IsZero() {
		v.Set("version", q.VersionReq.String())
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
		v.Set("page", strconv.Itoa(max(page, 1)))
	}
	if len(v) == 0 {
		return h.base + "/packages"
	}
	return h.base + "/packages?" + v.Encode()
}

func (h *HTTP) packageURL(pkgType manifest.PkgType, name, version, hash string) string {
	parts := []string{h.base, "packages", string(pkgType), url.PathEscape(name), url.PathEscape(version)}
	if hash != "" {
		parts = append(parts, url.PathEscape(hash))
	}
	return strings.Join(parts, "/")
}

func (h *HTTP) notify(status string) {
	if h.observer != nil {
		h.observer(status)
	}
}
