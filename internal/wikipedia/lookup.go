package wikipedia

import (
	"context"
	"strings"
	"time"

	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/logger"
	"github.com/chirpid/chirpid/internal/observability/metrics"
)

type contextKey string

const backgroundOperationKey contextKey = "background_operation"

// WithBackground marks ctx as a background lookup, subject to rate limiting.
func WithBackground(ctx context.Context) context.Context {
	return context.WithValue(ctx, backgroundOperationKey, true)
}

func isBackground(ctx context.Context) bool {
	bg, ok := ctx.Value(backgroundOperationKey).(bool)
	return ok && bg
}

// birdSuffix disambiguates common names that collide with other articles.
const birdSuffix = " bird"

// candidates returns the titles tried by Lookup, in order.
func candidates(commonName, scientificName string) []string {
	commonName = strings.TrimSpace(commonName)
	scientificName = strings.TrimSpace(scientificName)

	titles := make([]string, 0, 3)
	if commonName != "" {
		titles = append(titles, commonName)
	}
	if scientificName != "" {
		titles = append(titles, scientificName)
	}
	if commonName != "" {
		titles = append(titles, commonName+birdSuffix)
	}
	return titles
}

// Lookup resolves a species to a page: the common name first, then the
// scientific name when known, then the common name with " bird" appended.
// The first success wins; when every attempt fails the last error is returned.
func (c *Client) Lookup(ctx context.Context, commonName, scientificName string) (*Info, error) {
	start := time.Now()
	titles := candidates(commonName, scientificName)
	if len(titles) == 0 {
		return nil, errors.Newf("no species name to look up").
			Component("wikipedia").
			Category(errors.CategoryValidation).
			Build()
	}

	var lastErr error
	for i, title := range titles {
		info, err := c.Summary(ctx, title)
		if err == nil {
			c.recorder.RecordOperation(metrics.OpLookup, metrics.StatusSuccess)
			c.recorder.RecordDuration(metrics.OpLookup, time.Since(start).Seconds())
			if i > 0 {
				c.log.Debug("wikipedia lookup resolved by fallback",
					logger.String("species", commonName),
					logger.String("title", title),
					logger.Int("attempt", i+1))
			}
			return info, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	c.recorder.RecordOperation(metrics.OpLookup, metrics.StatusNotFound)
	c.recorder.RecordDuration(metrics.OpLookup, time.Since(start).Seconds())
	return nil, lastErr
}

// Describe is Lookup plus the credit for the page image. A missing or
// failed credit leaves Info.Attribution nil and is not an error.
func (c *Client) Describe(ctx context.Context, commonName, scientificName string) (*Info, error) {
	info, err := c.Lookup(ctx, commonName, scientificName)
	if err != nil || info.ThumbnailURL == "" {
		return info, err
	}

	attr, err := c.ImageAttribution(ctx, info.ThumbnailURL)
	if err != nil {
		c.log.Debug("image attribution unavailable",
			logger.String("title", info.Title),
			logger.Error(err))
		return info, nil
	}
	info.Attribution = attr
	return info, nil
}
