package wikipedia

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/k3a/html2text"
	"golang.org/x/net/html"

	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/logger"
	"github.com/chirpid/chirpid/internal/observability/metrics"
)

// Attribution credits the author of a page image.
type Attribution struct {
	Author     string `json:"author"`
	AuthorURL  string `json:"authorUrl,omitempty"`
	License    string `json:"license"`
	LicenseURL string `json:"licenseUrl,omitempty"`
}

// String formats the credit line, e.g. "Jane Doe (CC BY-SA 4.0)".
func (a *Attribution) String() string {
	if a == nil {
		return ""
	}
	if a.License == "" {
		return a.Author
	}
	return a.Author + " (" + a.License + ")"
}

// unknownCredit fills attribution fields the file page leaves empty.
const unknownCredit = "Unknown"

// actionAPIURL derives the MediaWiki action API endpoint from a REST base
// such as https://en.wikipedia.org/api/rest_v1.
func actionAPIURL(restBase string) string {
	if i := strings.Index(restBase, "/api/rest_v1"); i >= 0 {
		return restBase[:i] + "/w/api.php"
	}
	return DefaultAPIURL
}

// imageFileName extracts the file name from an upload.wikimedia.org image or
// thumbnail URL. Thumbnails carry the file name as the second to last
// segment: .../thumb/a/ab/Cardinal.jpg/320px-Cardinal.jpg.
func imageFileName(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil || u.Path == "" {
		return ""
	}
	escaped := u.EscapedPath()
	segments := strings.Split(strings.Trim(escaped, "/"), "/")
	for i, seg := range segments {
		if seg == "thumb" && i+3 < len(segments) {
			name, err := url.PathUnescape(segments[i+3])
			if err != nil {
				return ""
			}
			return name
		}
	}
	name, err := url.PathUnescape(path.Base(escaped))
	if err != nil || name == "." || name == "/" {
		return ""
	}
	return name
}

// ImageAttribution looks up the author and license of the image at
// imageURL. Results are cached; an image without file metadata yields
// ErrNotFound.
func (c *Client) ImageAttribution(ctx context.Context, imageURL string) (*Attribution, error) {
	name := imageFileName(imageURL)
	if name == "" {
		return nil, errors.New(fmt.Errorf("%w: no file name in %q", ErrNotFound, imageURL)).
			Component("wikipedia").
			Category(errors.CategoryValidation).
			Build()
	}

	key := "file:" + cacheKey(name)
	if v, ok := c.cache.Get(key); ok {
		c.recordCache(true)
		switch cached := v.(type) {
		case *Attribution:
			a := *cached
			return &a, nil
		case cachedMiss:
			return nil, cached.err
		}
	}
	c.recordCache(false)

	start := time.Now()
	attr, err := c.fetchAttribution(ctx, name)
	c.recorder.RecordDuration(metrics.OpAttribution, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.recorder.RecordOperation(metrics.OpAttribution, metrics.StatusNotFound)
			c.cache.Set(key, cachedMiss{err: err}, c.negativeTTL)
		} else {
			c.recorder.RecordOperation(metrics.OpAttribution, metrics.StatusError)
			c.recorder.RecordError(metrics.OpAttribution, string(errors.CategoryOf(err)))
		}
		return nil, err
	}

	c.recorder.RecordOperation(metrics.OpAttribution, metrics.StatusSuccess)
	c.cache.Set(key, attr, c.cacheTTL)
	out := *attr
	return &out, nil
}

func (c *Client) fetchAttribution(ctx context.Context, fileName string) (*Attribution, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{
		"action":        {"query"},
		"format":        {"json"},
		"formatversion": {"2"},
		"prop":          {"imageinfo"},
		"iiprop":        {"extmetadata"},
		"titles":        {"File:" + fileName},
		"redirects":     {""},
	}
	endpoint := c.apiURL + "?" + params.Encode()

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
		return nil, errors.New(fmt.Errorf("wikipedia file query failed: %w", err)).
			Component("wikipedia").
			Category(errors.CategoryNetwork).
			NetworkContext(c.apiURL, c.timeout).
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
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Newf("Wikipedia API error: %s", resp.Status).
			Component("wikipedia").
			Category(errors.CategoryHTTP).
			Context("status_code", resp.StatusCode).
			Build()
	}

	attr, err := parseFileMetadata(body)
	if err != nil {
		return nil, errors.New(fmt.Errorf("%w: %s has no image metadata: %w", ErrNotFound, fileName, err)).
			Component("wikipedia").
			Category(errors.CategoryNotFound).
			Context("file", fileName).
			Build()
	}

	c.log.Debug("image attribution fetched",
		logger.String("file", fileName),
		logger.String("author", attr.Author),
		logger.String("license", attr.License))
	return attr, nil
}

// parseFileMetadata reads Artist, LicenseShortName and LicenseUrl from an
// imageinfo extmetadata response.
func parseFileMetadata(body []byte) (*Attribution, error) {
	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, err
	}
	pages, err := obj.GetObjectArray("query", "pages")
	if err != nil || len(pages) == 0 {
		return nil, fmt.Errorf("no pages in response")
	}
	infos, err := pages[0].GetObjectArray("imageinfo")
	if err != nil || len(infos) == 0 {
		return nil, fmt.Errorf("no imageinfo")
	}
	meta, err := infos[0].GetObject("extmetadata")
	if err != nil {
		return nil, err
	}

	artistHTML, _ := meta.GetString("Artist", "value")
	license, _ := meta.GetString("LicenseShortName", "value")
	licenseURL, _ := meta.GetString("LicenseUrl", "value")

	attr := &Attribution{License: strings.TrimSpace(license), LicenseURL: strings.TrimSpace(licenseURL)}
	if artistHTML != "" {
		attr.AuthorURL, attr.Author = parseArtist(artistHTML)
	}
	if attr.Author == "" {
		attr.Author = unknownCredit
	}
	if attr.License == "" {
		attr.License = unknownCredit
	}
	return attr, nil
}

// parseArtist extracts the author name and link from Artist HTML. A
// Wikipedia user page link is preferred over other links; HTML without
// links yields its plain text.
func parseArtist(artistHTML string) (href, name string) {
	doc, err := html.Parse(strings.NewReader(artistHTML))
	if err != nil {
		return "", strings.TrimSpace(html2text.HTML2Text(artistHTML))
	}

	links := findLinks(doc)
	for _, link := range links {
		if h := linkHref(link); strings.Contains(h, "/wiki/User:") {
			return absoluteWikiURL(h), linkText(link)
		}
	}
	if len(links) > 0 {
		return absoluteWikiURL(linkHref(links[0])), linkText(links[0])
	}
	return "", strings.TrimSpace(html2text.HTML2Text(artistHTML))
}

// findLinks returns every anchor element under node, in document order.
func findLinks(node *html.Node) []*html.Node {
	var links []*html.Node

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			links = append(links, n)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			traverse(child)
		}
	}
	traverse(node)

	return links
}

func linkHref(link *html.Node) string {
	for _, attr := range link.Attr {
		if attr.Key == "href" {
			return attr.Val
		}
	}
	return ""
}

func linkText(link *html.Node) string {
	var b bytes.Buffer
	for child := link.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&b, child); err != nil {
			return ""
		}
	}
	return strings.TrimSpace(html2text.HTML2Text(b.String()))
}

// absoluteWikiURL resolves protocol-relative links such as
// //commons.wikimedia.org/wiki/User:Example.
func absoluteWikiURL(href string) string {
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}
