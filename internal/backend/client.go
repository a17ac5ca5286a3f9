// Package backend is the client for the identification backend. Upload runs
// a reachability probe, local file and duration checks, then a multipart
// POST, and maps the outcome into an IdentificationResponse or an
// *errors.EnhancedError carrying a human-readable message.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/httpclient"
	"github.com/chirpid/chirpid/internal/logger"
	"github.com/chirpid/chirpid/internal/myaudio"
	"github.com/chirpid/chirpid/internal/observability/metrics"
)

const (
	// PingPath is the health endpoint used as the reachability probe.
	PingPath = "/ping"
	// UploadPath receives the multipart recording.
	UploadPath = "/api/audio/upload"

	// MinDurationSeconds and MaxDurationSeconds bound accepted recordings, inclusive.
	MinDurationSeconds = 5.0
	MaxDurationSeconds = 60.0

	UploadFieldName   = "file"
	UploadFileName    = "recording.wav"
	UploadContentType = "audio/wav"

	// DefaultPingTimeout bounds the reachability probe.
	DefaultPingTimeout = 5 * time.Second

	maxResponseBytes = 1 << 20
)

// DurationProber reads an audio file's duration in seconds within a bounded wait.
type DurationProber interface {
	Probe(ctx context.Context, path string) (float64, error)
}

// Config configures a Client.
type Config struct {
	// BaseURL of the backend, without trailing slash. Required.
	BaseURL string

	// HTTPClient defaults to httpclient.New(nil).
	HTTPClient *httpclient.Client

	// Prober defaults to a myaudio.Prober with its default timeout.
	Prober DurationProber

	PingTimeout time.Duration

	// Metrics receives backend specific observations; optional.
	Metrics *metrics.BackendMetrics

	// Recorder overrides the operation recorder; defaults to Metrics when set.
	Recorder metrics.Recorder
}

// Client talks to the identification backend. It holds no per-call state
// and is safe for concurrent use.
type Client struct {
	baseURL     string
	http        *httpclient.Client
	prober      DurationProber
	pingTimeout time.Duration
	metrics     *metrics.BackendMetrics
	recorder    metrics.Recorder
	log         logger.Logger
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New(ErrBaseURLRequired).
			Component("backend").
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Client{
		baseURL:     baseURL,
		http:        cfg.HTTPClient,
		prober:      cfg.Prober,
		pingTimeout: cfg.PingTimeout,
		metrics:     cfg.Metrics,
		recorder:    cfg.Recorder,
		log:         GetLogger(),
	}
	if c.http == nil {
		c.http = httpclient.New(nil)
	}
	if c.prober == nil {
		c.prober = &myaudio.Prober{}
	}
	if c.pingTimeout <= 0 {
		c.pingTimeout = DefaultPingTimeout
	}
	if c.recorder == nil && c.metrics != nil {
		c.recorder = c.metrics
	}
	c.recorder = metrics.OrNoOp(c.recorder)

	return c, nil
}

// BaseURL returns the normalized backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping performs the reachability probe. Any transport failure or non-2xx
// status is an ErrNotReachable network error.
func (c *Client) Ping(ctx context.Context) (*PingResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	resp, err := c.http.Get(ctx, c.baseURL+PingPath)
	if err != nil {
		c.recordFailure(metrics.OpPing, start, errors.CategoryNetwork)
		return nil, errors.New(fmt.Errorf("%w: %w", ErrNotReachable, err)).
			Component("backend").
			Category(errors.CategoryNetwork).
			NetworkContext(c.baseURL, c.pingTimeout).
			Build()
	}
	defer closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.recordFailure(metrics.OpPing, start, errors.CategoryNetwork)
		return nil, errors.New(fmt.Errorf("%w: ping returned %s", ErrNotReachable, resp.Status)).
			Component("backend").
			Category(errors.CategoryNetwork).
			Context("status_code", resp.StatusCode).
			NetworkContext(c.baseURL, c.pingTimeout).
			Build()
	}

	// The body is informational; a reachable backend with an odd body still counts.
	var ping PingResponse
	if body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes)); err == nil {
		if err := json.Unmarshal(body, &ping); err != nil {
			c.log.Debug("ping body is not JSON", logger.Error(err))
		}
	}

	c.recorder.RecordOperation(metrics.OpPing, metrics.StatusSuccess)
	c.recorder.RecordDuration(metrics.OpPing, time.Since(start).Seconds())
	return &ping, nil
}

// ValidateDuration accepts seconds in [MinDurationSeconds, MaxDurationSeconds].
func ValidateDuration(seconds float64) error {
	switch {
	case seconds > MaxDurationSeconds:
		return errors.New(fmt.Errorf("%w: %.2fs exceeds the %gs limit", ErrRecordingTooLong, seconds, MaxDurationSeconds)).
			Component("backend").
			Category(errors.CategoryValidation).
			Context("duration_seconds", seconds).
			Build()
	case seconds < MinDurationSeconds:
		return errors.New(fmt.Errorf("%w: %.2fs is under the %gs minimum", ErrRecordingTooShort, seconds, MinDurationSeconds)).
			Component("backend").
			Category(errors.CategoryValidation).
			Context("duration_seconds", seconds).
			Build()
	}
	return nil
}

// Validate checks that path exists and that its duration is in range,
// returning the resulting Request. It makes no network calls.
func (c *Client) Validate(ctx context.Context, path string) (Request, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is a directory", path)
		}
		c.rejected("missing_file")
		return Request{}, errors.New(fmt.Errorf("%w: %w", ErrFileNotFound, err)).
			Component("backend").
			Category(errors.CategoryValidation).
			FileContext(path, 0).
			Build()
	}

	seconds, err := c.prober.Probe(ctx, path)
	if err != nil {
		category := errors.CategoryValidation
		switch {
		case errors.IsCategory(err, errors.CategoryTimeout) || errors.Is(err, myaudio.ErrProbeTimeout):
			category = errors.CategoryTimeout
			c.rejected("probe_timeout")
		case errors.IsCategory(err, errors.CategoryCancellation):
			category = errors.CategoryCancellation
		default:
			c.rejected("undecodable")
		}
		return Request{}, errors.New(err).
			Component("backend").
			Category(category).
			FileContext(path, info.Size()).
			Build()
	}

	if err := ValidateDuration(seconds); err != nil {
		if errors.Is(err, ErrRecordingTooLong) {
			c.rejected("too_long")
		} else {
			c.rejected("too_short")
		}
		return Request{}, err
	}

	return Request{AudioPath: path, DurationSeconds: seconds}, nil
}

// Upload runs the full identification sequence for the audio file at path:
// reachability probe, existence check, duration validation, multipart POST
// and response mapping. A failing probe means no upload request is made.
func (c *Client) Upload(ctx context.Context, path string) (*IdentificationResponse, error) {
	start := time.Now()

	if _, err := c.Ping(ctx); err != nil {
		c.recordFailure(metrics.OpUpload, start, errors.CategoryNetwork)
		return nil, err
	}

	req, err := c.Validate(ctx, path)
	if err != nil {
		c.recorder.RecordOperation(metrics.OpUpload, metrics.StatusRejected)
		c.recorder.RecordError(metrics.OpValidate, string(errors.CategoryOf(err)))
		return nil, err
	}

	resp, err := c.send(ctx, req)
	if err != nil {
		c.recordFailure(metrics.OpUpload, start, errors.CategoryOf(err))
		return nil, err
	}

	c.recorder.RecordOperation(metrics.OpUpload, metrics.StatusSuccess)
	c.recorder.RecordDuration(metrics.OpUpload, time.Since(start).Seconds())
	if c.metrics != nil && resp.Result != nil {
		c.metrics.ObserveConfidence(resp.Result.Confidence)
	}
	return resp, nil
}

// send posts a validated request and maps the response.
func (c *Client) send(ctx context.Context, req Request) (*IdentificationResponse, error) {
	file, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, errors.New(fmt.Errorf("%w: %w", ErrFileNotFound, err)).
			Component("backend").
			Category(errors.CategoryFileIO).
			FileContext(req.AudioPath, 0).
			Build()
	}
	defer file.Close() //nolint:errcheck // read only

	c.log.Debug("uploading recording",
		logger.String("path", req.AudioPath),
		logger.Float64("duration_seconds", req.DurationSeconds))

	uploadStart := time.Now()
	resp, err := c.http.PostMultipart(ctx, c.baseURL+UploadPath, httpclient.FilePart{
		FieldName:   UploadFieldName,
		FileName:    UploadFileName,
		ContentType: UploadContentType,
		Content:     file,
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("upload failed: %w", err)).
			Component("backend").
			Category(errors.CategoryNetwork).
			NetworkContext(c.baseURL, 0).
			Timing("upload", time.Since(uploadStart)).
			Build()
	}
	defer closeBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read upload response: %w", err)).
			Component("backend").
			Category(errors.CategoryNetwork).
			Build()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serverErr := newServerError(resp.StatusCode, body)
		c.log.Warn("upload rejected by backend",
			logger.Int("status_code", resp.StatusCode),
			logger.String("message", serverErr.Message))
		return nil, errors.New(serverErr).
			Component("backend").
			Category(errors.CategoryHTTP).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var out IdentificationResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.New(fmt.Errorf("malformed identification response: %w", err)).
			Component("backend").
			Category(errors.CategoryFileParsing).
			Context("status_code", resp.StatusCode).
			Build()
	}
	if out.Success && out.Result == nil {
		return nil, errors.New(ErrMissingResult).
			Component("backend").
			Category(errors.CategoryFileParsing).
			Build()
	}

	if out.Result != nil {
		c.log.Info("identification received",
			logger.String("species", out.Result.Species),
			logger.Float64("confidence", out.Result.Confidence),
			logger.Duration("elapsed", time.Since(uploadStart)))
	}
	return &out, nil
}

func (c *Client) recordFailure(operation string, start time.Time, category errors.ErrorCategory) {
	c.recorder.RecordOperation(operation, metrics.StatusError)
	c.recorder.RecordError(operation, string(category))
	c.recorder.RecordDuration(operation, time.Since(start).Seconds())
}

func (c *Client) rejected(reason string) {
	if c.metrics != nil {
		c.metrics.RecordRejection(reason)
	}
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
}
