// Package wikipedia fetches species summaries from the Wikipedia REST API,
// resolves a species to a page through a name fallback chain and credits
// page images through the action API.
package wikipedia

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/k3a/html2text"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/httpclient"
	"github.com/chirpid/chirpid/internal/logger"
	"github.com/chirpid/chirpid/internal/observability/metrics"
)

const (
	// DefaultBaseURL is the English Wikipedia REST API.
	DefaultBaseURL = "https://en.wikipedia.org/api/rest_v1"
	// DefaultAPIURL is the English Wikipedia action API, used for image credits.
	DefaultAPIURL = "https://en.wikipedia.org/w/api.php"

	DefaultTimeout     = 10 * time.Second
	DefaultCacheTTL    = 24 * time.Hour
	DefaultNegativeTTL = 15 * time.Minute
	DefaultRateLimit   = 2.0
	DefaultBurst       = 2

	summaryPath      = "/page/summary/"
	maxResponseBytes = 2 << 20
)

// Config configures a Client. Zero values take the defaults above.
type Config struct {
	BaseURL     string
	APIURL      string // defaults to the action API on BaseURL's host
	HTTPClient  *httpclient.Client
	UserAgent   string
	Timeout     time.Duration
	CacheTTL    time.Duration
	NegativeTTL time.Duration

	// RateLimit (requests per second) and Burst apply to background lookups only.
	RateLimit float64
	Burst     int

	Metrics  *metrics.WikipediaMetrics
	Recorder metrics.Recorder
}

// Client is a Wikipedia summary client with a result cache. Safe for
// concurrent use.
type Client struct {
	baseURL     string
	apiURL      string
	http        *httpclient.Client
	userAgent   string
	timeout     time.Duration
	cacheTTL    time.Duration
	negativeTTL time.Duration

	cache             *cache.Cache
	backgroundLimiter *rate.Limiter

	metrics  *metrics.WikipediaMetrics
	recorder metrics.Recorder
	log      logger.Logger
}

// cachedMiss is stored for titles that resolved to no usable page.
type cachedMiss struct {
	err error
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		http:        cfg.HTTPClient,
		userAgent:   cfg.UserAgent,
		timeout:     cfg.Timeout,
		cacheTTL:    cfg.CacheTTL,
		negativeTTL: cfg.NegativeTTL,
		metrics:     cfg.Metrics,
		recorder:    cfg.Recorder,
		log:         GetLogger(),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	c.apiURL = strings.TrimSpace(cfg.APIURL)
	if c.apiURL == "" {
		c.apiURL = actionAPIURL(c.baseURL)
	}
	if c.http == nil {
		c.http = httpclient.New(nil)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = DefaultCacheTTL
	}
	if c.negativeTTL <= 0 {
		c.negativeTTL = DefaultNegativeTTL
	}

	limit, burst := cfg.RateLimit, cfg.Burst
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	c.backgroundLimiter = rate.NewLimiter(rate.Limit(limit), burst)

	if c.recorder == nil && c.metrics != nil {
		c.recorder = c.metrics
	}
	c.recorder = metrics.OrNoOp(c.recorder)

	c.cache = cache.New(c.cacheTTL, 2*c.negativeTTL)
	return c
}

// ClearCache drops every cached summary and miss.
func (c *Client) ClearCache() {
	c.cache.Flush()
}

func cacheKey(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// Summary fetches the page summary for title. A 404 yields ErrNotFound, a
// disambiguation page ErrAmbiguous; both are cached as misses.
func (c *Client) Summary(ctx context.Context, title string) (*Info, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.Newf("empty title").
			Component("wikipedia").
			Category(errors.CategoryValidation).
			Build()
	}

	key := cacheKey(title)
	if v, ok := c.cache.Get(key); ok {
		c.recordCache(true)
		switch cached := v.(type) {
		case *Info:
			info := *cached
			return &info, nil
		case cachedMiss:
			return nil, cached.err
		}
	}
	c.recordCache(false)

	if isBackground(ctx) {
		if err := c.backgroundLimiter.Wait(ctx); err != nil {
			return nil, errors.New(err).
				Component("wikipedia").
				Category(errors.CategoryCancellation).
				Context("operation", "rate_limiter_wait").
				Build()
		}
	}

	start := time.Now()
	info, err := c.fetchSummary(ctx, title)
	c.recorder.RecordDuration(metrics.OpSummary, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguous) {
			c.recorder.RecordOperation(metrics.OpSummary, metrics.StatusNotFound)
			c.cache.Set(key, cachedMiss{err: err}, c.negativeTTL)
		} else {
			c.recorder.RecordOperation(metrics.OpSummary, metrics.StatusError)
			c.recorder.RecordError(metrics.OpSummary, string(errors.CategoryOf(err)))
		}
		return nil, err
	}

	c.recorder.RecordOperation(metrics.OpSummary, metrics.StatusSuccess)
	c.cache.Set(key, info, c.cacheTTL)
	out := *info
	return &out, nil
}

func (c *Client) fetchSummary(ctx context.Context, title string) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + summaryPath + url.PathEscape(title)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component("wikipedia").
			Category(errors.CategoryValidation).
			Build()
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, errors.New(fmt.Errorf("wikipedia request failed: %w", err)).
			Component("wikipedia").
			Category(errors.CategoryNetwork).
			NetworkContext(endpoint, c.timeout).
			Build()
	}
	defer resp.Body.Close() //nolint:errcheck // read only

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read wikipedia response: %w", err)).
			Component("wikipedia").
			Category(errors.CategoryNetwork).
			Build()
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.New(fmt.Errorf("%w for %q", ErrNotFound, title)).
			Component("wikipedia").
			Category(errors.CategoryNotFound).
			Context("title", title).
			Build()
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errors.Newf("Wikipedia API error: %s", resp.Status).
			Component("wikipedia").
			Category(errors.CategoryHTTP).
			Context("status_code", resp.StatusCode).
			Build()
	}

	info, err := parseSummary(body)
	if err != nil {
		return nil, errors.New(fmt.Errorf("invalid wikipedia summary for %q: %w", title, err)).
			Component("wikipedia").
			Category(errors.CategoryFileParsing).
			Build()
	}
	if info.ambiguous {
		return nil, errors.New(fmt.Errorf("%q: %w", title, ErrAmbiguous)).
			Component("wikipedia").
			Category(errors.CategorySpeciesInfo).
			Context("title", title).
			Build()
	}

	c.log.Debug("wikipedia summary fetched",
		logger.String("title", info.Title),
		logger.Bool("has_thumbnail", info.ThumbnailURL != ""))
	return &info.Info, nil
}

type parsedSummary struct {
	Info
	ambiguous bool
}

// parseSummary reads the fields of a REST page summary. A missing plain
// extract falls back to extract_html converted to text.
func parseSummary(body []byte) (*parsedSummary, error) {
	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, err
	}

	title, err := obj.GetString("title")
	if err != nil {
		return nil, err
	}

	extract, _ := obj.GetString("extract")
	if strings.TrimSpace(extract) == "" {
		if extractHTML, err := obj.GetString("extract_html"); err == nil {
			extract = strings.TrimSpace(html2text.HTML2Text(extractHTML))
		}
	}

	thumbnail, _ := obj.GetString("thumbnail", "source")
	page, _ := obj.GetString("content_urls", "desktop", "page")
	pageType, _ := obj.GetString("type")

	return &parsedSummary{
		Info: Info{
			Title:        title,
			Description:  extract,
			ThumbnailURL: thumbnail,
			PageURL:      page,
		},
		ambiguous: pageType == "disambiguation" || strings.Contains(extract, disambiguationMarker),
	}, nil
}

func (c *Client) recordCache(hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCache(hit)
	}
}
