// Package upstream talks to the upstream server over HTTP and reports its
// availability.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"offsync/internal/config"
	"offsync/internal/domain"
	"offsync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Request headers understood by the upstream.
const (
	HeaderForceUpdate  = "X-Force-Update"
	HeaderAutoResolve  = "X-Auto-Resolve"
	HeaderQueryID      = "X-Query-Id"
	HeaderTotalResults = "X-Total-Results"
)

const maxErrorBody = 2048

// Client is the HTTP integration client. It implements domain.UpstreamClient.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

// queryResponse is the body of a query answer.
type queryResponse struct {
	Items        []*models.Resource `json:"items"`
	TotalResults int                `json:"total_results"`
}

// NewClient creates a client. A non-positive rate limit disables limiting.
func NewClient(cfg config.UpstreamConfig, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Insert creates the payload upstream. Bundles are posted as a whole.
func (c *Client) Insert(ctx context.Context, payload models.Payload, opts domain.SendOptions) error {
	path := "/v1/" + url.PathEscape(models.EffectiveType(payload))
	_, err := c.do(ctx, http.MethodPost, path, payload, opts, nil, nil)
	return err
}

// Update replaces the object upstream, or applies it when the payload is a patch or bundle.
func (c *Client) Update(ctx context.Context, payload models.Payload, opts domain.SendOptions) error {
	switch p := payload.(type) {
	case *models.Patch:
		_, err := c.do(ctx, http.MethodPatch, objectPath(p.Type, p.Key), p, opts, nil, nil)
		return err
	case *models.Resource:
		_, err := c.do(ctx, http.MethodPut, objectPath(p.Type, p.Key), p, opts, nil, nil)
		return err
	case *models.Bundle:
		_, err := c.do(ctx, http.MethodPost, "/v1/"+models.TypeBundle, p, opts, nil, nil)
		return err
	default:
		return fmt.Errorf("update: unsupported payload type %T", payload)
	}
}

// Obsolete removes the object upstream. For bundles every focal object is removed.
func (c *Client) Obsolete(ctx context.Context, payload models.Payload, opts domain.SendOptions) error {
	switch p := payload.(type) {
	case *models.Resource:
		_, err := c.do(ctx, http.MethodDelete, objectPath(p.Type, p.Key), nil, opts, nil, nil)
		return err
	case *models.Bundle:
		for _, item := range p.Focal() {
			if _, err := c.do(ctx, http.MethodDelete, objectPath(item.Type, item.Key), nil, opts, nil, nil); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("obsolete: unsupported payload type %T", payload)
	}
}

// Query fetches one page of resourceType matching filter. A 304 answer
// yields a page with NotModified set.
func (c *Client) Query(ctx context.Context, resourceType, filter string, opts domain.QueryOptions) (*domain.ResultPage, error) {
	params, err := url.ParseQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("query %s: invalid filter %q: %w", resourceType, filter, err)
	}
	if opts.Count > 0 {
		params.Set("_count", strconv.Itoa(opts.Count))
	}
	params.Set("_offset", strconv.Itoa(opts.Offset))
	if opts.QueryID != "" {
		params.Set("_queryId", opts.QueryID)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	header := http.Header{}
	if opts.IfModifiedSince != nil {
		header.Set("If-Modified-Since", opts.IfModifiedSince.UTC().Format(http.TimeFormat))
	}
	if opts.QueryID != "" {
		header.Set(HeaderQueryID, opts.QueryID)
	}

	path := "/v1/" + url.PathEscape(resourceType) + "?" + params.Encode()
	var body queryResponse
	resp, err := c.do(ctx, http.MethodGet, path, nil, domain.SendOptions{}, header, &body)
	if err != nil {
		if errors.Is(err, ErrNotModified) {
			return &domain.ResultPage{NotModified: true}, nil
		}
		return nil, err
	}

	total := body.TotalResults
	if raw := resp.Header.Get(HeaderTotalResults); raw != "" && total == 0 {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			total = n
		}
	}
	return &domain.ResultPage{Items: body.Items, TotalResults: total}, nil
}

func objectPath(resourceType, key string) string {
	return "/v1/" + url.PathEscape(resourceType) + "/" + url.PathEscape(key)
}

// do executes a request and decodes a JSON answer into result when given.
func (c *Client) do(ctx context.Context, method, path string, body any, opts domain.SendOptions, header http.Header, result any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s %s: rate limiter: %w", method, path, err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if opts.Force {
		req.Header.Set(HeaderForceUpdate, "true")
	}
	if opts.AutoResolve {
		req.Header.Set(HeaderAutoResolve, "true")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("upstream request")

	if resp.StatusCode == http.StatusNotModified {
		return resp, ErrNotModified
	}

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp, &HTTPError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp, fmt.Errorf("read response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, result); err != nil {
				return resp, fmt.Errorf("unmarshal response: %w", err)
			}
		}
	}
	return resp, nil
}
