package backend

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/httpclient"
	"github.com/chirpid/chirpid/internal/myaudio"
	"github.com/chirpid/chirpid/internal/observability/metrics"
)

const testBaseURL = "http://backend.test"

var (
	pingKey   = "GET " + testBaseURL + PingPath
	uploadKey = "POST " + testBaseURL + UploadPath
)

// fixedProber reports the same duration for every path.
type fixedProber struct {
	seconds float64
	err     error
}

func (p fixedProber) Probe(context.Context, string) (float64, error) {
	return p.seconds, p.err
}

func newMockedClient(t *testing.T, prober DurationProber) (*Client, *httpmock.MockTransport, *metrics.TestRecorder) {
	t.Helper()

	transport := httpmock.NewMockTransport()
	recorder := metrics.NewTestRecorder()
	client, err := NewClient(Config{
		BaseURL:    testBaseURL + "/",
		HTTPClient: httpclient.New(&httpclient.Config{Transport: transport}),
		Prober:     prober,
		Recorder:   recorder,
	})
	require.NoError(t, err)
	return client, transport, recorder
}

func touchFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o600))
	return path
}

func writeSilentWAV(t *testing.T, seconds float64) string {
	t.Helper()
	format := myaudio.Format{SampleRate: 8000, Channels: 1}
	pcm := make([]byte, int(seconds*float64(format.SampleRate))*2)
	path := filepath.Join(t.TempDir(), "recording.wav")
	require.NoError(t, myaudio.SavePCMDataToWAV(path, pcm, format))
	return path
}

func registerPingOK(transport *httpmock.MockTransport) {
	transport.RegisterResponder(http.MethodGet, testBaseURL+PingPath,
		httpmock.NewStringResponder(http.StatusOK, `{"status":"ok","message":"Backend is running"}`))
}

const cardinalJSON = `{"success":true,"id":"abc123","result":{"species":"Northern Cardinal","confidence":0.92,"scientificName":"Cardinalis cardinalis"}}`

func TestNewClient_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{BaseURL: "  "})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.ErrorIs(t, err, ErrBaseURLRequired)
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	t.Parallel()

	client, _, _ := newMockedClient(t, fixedProber{seconds: 10})
	assert.Equal(t, testBaseURL, client.BaseURL())
}

func TestPing(t *testing.T) {
	t.Parallel()

	t.Run("reachable", func(t *testing.T) {
		t.Parallel()
		client, transport, recorder := newMockedClient(t, nil)
		registerPingOK(transport)

		resp, err := client.Ping(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "Backend is running", resp.Message)
		assert.Equal(t, 1, recorder.OperationCount(metrics.OpPing, metrics.StatusSuccess))
	})

	t.Run("non-JSON body still reachable", func(t *testing.T) {
		t.Parallel()
		client, transport, _ := newMockedClient(t, nil)
		transport.RegisterResponder(http.MethodGet, testBaseURL+PingPath,
			httpmock.NewStringResponder(http.StatusOK, "pong"))

		_, err := client.Ping(t.Context())
		require.NoError(t, err)
	})

	t.Run("server error", func(t *testing.T) {
		t.Parallel()
		client, transport, recorder := newMockedClient(t, nil)
		transport.RegisterResponder(http.MethodGet, testBaseURL+PingPath,
			httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

		_, err := client.Ping(t.Context())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotReachable)
		assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
		assert.Equal(t, 1, recorder.OperationCount(metrics.OpPing, metrics.StatusError))
	})

	t.Run("transport error", func(t *testing.T) {
		t.Parallel()
		client, transport, _ := newMockedClient(t, nil)
		transport.RegisterResponder(http.MethodGet, testBaseURL+PingPath,
			httpmock.NewErrorResponder(assert.AnError))

		_, err := client.Ping(t.Context())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotReachable)
		assert.Contains(t, err.Error(), "backend not reachable")
	})
}

func TestValidateDuration_Boundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		seconds float64
		wantErr error
	}{
		{seconds: 4.99, wantErr: ErrRecordingTooShort},
		{seconds: 5},
		{seconds: 30},
		{seconds: 60},
		{seconds: 60.01, wantErr: ErrRecordingTooLong},
		{seconds: 0, wantErr: ErrRecordingTooShort},
	}

	for _, tt := range tests {
		err := ValidateDuration(tt.seconds)
		if tt.wantErr == nil {
			assert.NoError(t, err, "duration %v", tt.seconds)
			continue
		}
		require.Error(t, err, "duration %v", tt.seconds)
		assert.ErrorIs(t, err, tt.wantErr)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}

func TestUpload_DurationBoundariesGateThePost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		seconds float64
		posts   int
		wantErr error
	}{
		{name: "exactly minimum", seconds: 5, posts: 1},
		{name: "exactly maximum", seconds: 60, posts: 1},
		{name: "just under minimum", seconds: 4.99, wantErr: ErrRecordingTooShort},
		{name: "just over maximum", seconds: 60.01, wantErr: ErrRecordingTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, transport, _ := newMockedClient(t, fixedProber{seconds: tt.seconds})
			registerPingOK(transport)
			transport.RegisterResponder(http.MethodPost, testBaseURL+UploadPath,
				httpmock.NewStringResponder(http.StatusOK, cardinalJSON))

			resp, err := client.Upload(t.Context(), touchFile(t))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, resp)
			} else {
				require.NoError(t, err)
				assert.True(t, resp.Success)
			}
			assert.Equal(t, tt.posts, transport.GetCallCountInfo()[uploadKey])
		})
	}
}

func TestValidate_RecordedDurationBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		seconds float64
		wantErr error
	}{
		{name: "exactly minimum", seconds: 5},
		{name: "exactly maximum", seconds: 60},
		{name: "just under minimum", seconds: 4.99, wantErr: ErrRecordingTooShort},
		{name: "just over maximum", seconds: 60.01, wantErr: ErrRecordingTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, _, _ := newMockedClient(t, &myaudio.Prober{})

			req, err := client.Validate(t.Context(), writeSilentWAV(t, tt.seconds))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.seconds, req.DurationSeconds, 1e-9)
		})
	}
}

func TestUpload_UnreachableBackendNeverPosts(t *testing.T) {
	t.Parallel()

	prober := &countingProber{seconds: 30}
	client, transport, recorder := newMockedClient(t, prober)
	transport.RegisterResponder(http.MethodGet, testBaseURL+PingPath,
		httpmock.NewErrorResponder(assert.AnError))
	transport.RegisterResponder(http.MethodPost, testBaseURL+UploadPath,
		httpmock.NewStringResponder(http.StatusOK, cardinalJSON))

	_, err := client.Upload(t.Context(), touchFile(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReachable)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))

	assert.Equal(t, 1, transport.GetCallCountInfo()[pingKey])
	assert.Zero(t, transport.GetCallCountInfo()[uploadKey])
	assert.Zero(t, prober.calls, "duration must not be probed when the backend is down")
	assert.Equal(t, 1, recorder.OperationCount(metrics.OpUpload, metrics.StatusError))
}

type countingProber struct {
	seconds float64
	calls   int
}

func (p *countingProber) Probe(context.Context, string) (float64, error) {
	p.calls++
	return p.seconds, nil
}

func TestUpload_MissingFile(t *testing.T) {
	t.Parallel()

	client, transport, _ := newMockedClient(t, fixedProber{seconds: 30})
	registerPingOK(transport)

	_, err := client.Upload(t.Context(), filepath.Join(t.TempDir(), "nope.wav"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Contains(t, err.Error(), "audio file does not exist")
	assert.Zero(t, transport.GetCallCountInfo()[uploadKey])
}

func TestUpload_ProbeTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	prober := &myaudio.Prober{
		Timeout: 20 * time.Millisecond,
		Read: func(string) (float64, error) {
			<-release
			return 30, nil
		},
	}
	client, transport, _ := newMockedClient(t, prober)
	registerPingOK(transport)

	_, err := client.Upload(t.Context(), touchFile(t))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.ErrorIs(t, err, myaudio.ErrProbeTimeout)
	assert.Zero(t, transport.GetCallCountInfo()[uploadKey])
}

func TestUpload_UndecodableAudio(t *testing.T) {
	t.Parallel()

	client, transport, _ := newMockedClient(t, &myaudio.Prober{})
	registerPingOK(transport)

	_, err := client.Upload(t.Context(), touchFile(t))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Zero(t, transport.GetCallCountInfo()[uploadKey])
}

func TestUpload_MultipartContract(t *testing.T) {
	t.Parallel()

	client, transport, recorder := newMockedClient(t, &myaudio.Prober{})
	registerPingOK(transport)

	var (
		fileName    string
		contentType string
		size        int64
	)
	transport.RegisterResponder(http.MethodPost, testBaseURL+UploadPath,
		func(req *http.Request) (*http.Response, error) {
			if err := req.ParseMultipartForm(4 << 20); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, `{"error":"bad form"}`), nil
			}
			file, header, err := req.FormFile(UploadFieldName)
			if err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, `{"error":"no file"}`), nil
			}
			defer file.Close() //nolint:errcheck // test
			fileName = header.Filename
			contentType = header.Header.Get("Content-Type")
			size = header.Size
			return httpmock.NewStringResponse(http.StatusOK, cardinalJSON), nil
		})

	path := writeSilentWAV(t, 30)
	resp, err := client.Upload(t.Context(), path)
	require.NoError(t, err)

	require.NotNil(t, resp.Result)
	assert.Equal(t, "abc123", resp.ID)
	assert.Equal(t, "Northern Cardinal", resp.Result.Species)
	assert.InDelta(t, 0.92, resp.Result.Confidence, 1e-9)
	assert.Equal(t, "Cardinalis cardinalis", resp.Result.ScientificName)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, UploadFileName, fileName)
	assert.Equal(t, UploadContentType, contentType)
	assert.Equal(t, info.Size(), size)
	assert.Equal(t, 1, recorder.OperationCount(metrics.OpUpload, metrics.StatusSuccess))
}

func TestUpload_ResponseMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		status       int
		body         string
		wantCategory errors.ErrorCategory
		wantMessage  string
	}{
		{
			name:         "server error message",
			status:       http.StatusBadRequest,
			body:         `{"error":"Unsupported audio format"}`,
			wantCategory: errors.CategoryHTTP,
			wantMessage:  "Unsupported audio format",
		},
		{
			name:         "status text fallback",
			status:       http.StatusBadGateway,
			body:         "<html>upstream down</html>",
			wantCategory: errors.CategoryHTTP,
			wantMessage:  "Bad Gateway",
		},
		{
			name:         "JSON without error field",
			status:       http.StatusInternalServerError,
			body:         `{"detail":"boom"}`,
			wantCategory: errors.CategoryHTTP,
			wantMessage:  "Internal Server Error",
		},
		{
			name:         "malformed success body",
			status:       http.StatusOK,
			body:         `{"success":tru`,
			wantCategory: errors.CategoryFileParsing,
			wantMessage:  "malformed identification response",
		},
		{
			name:         "success without result",
			status:       http.StatusOK,
			body:         `{"success":true}`,
			wantCategory: errors.CategoryFileParsing,
			wantMessage:  "no result",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, transport, _ := newMockedClient(t, fixedProber{seconds: 12})
			registerPingOK(transport)
			transport.RegisterResponder(http.MethodPost, testBaseURL+UploadPath,
				httpmock.NewStringResponder(tt.status, tt.body))

			_, err := client.Upload(t.Context(), touchFile(t))
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.wantCategory), "category %s", errors.CategoryOf(err))
			assert.Contains(t, err.Error(), tt.wantMessage)

			if tt.wantCategory == errors.CategoryHTTP {
				var serverErr *ServerError
				require.ErrorAs(t, err, &serverErr)
				assert.Equal(t, tt.status, serverErr.StatusCode)
			}
		})
	}
}

func TestUpload_UnsuccessfulResponseIsReturned(t *testing.T) {
	t.Parallel()

	client, transport, _ := newMockedClient(t, fixedProber{seconds: 12})
	registerPingOK(transport)
	transport.RegisterResponder(http.MethodPost, testBaseURL+UploadPath,
		httpmock.NewStringResponder(http.StatusOK, `{"success":false,"message":"No bird detected"}`))

	resp, err := client.Upload(t.Context(), touchFile(t))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "No bird detected", resp.Message)
	assert.Nil(t, resp.Result)
}

func TestUpload_RetryWithSameRequestSucceedsOnceReachable(t *testing.T) {
	t.Parallel()

	client, transport, _ := newMockedClient(t, fixedProber{seconds: 30})
	transport.RegisterResponder(http.MethodGet, testBaseURL+PingPath,
		httpmock.NewErrorResponder(assert.AnError))
	transport.RegisterResponder(http.MethodPost, testBaseURL+UploadPath,
		httpmock.NewStringResponder(http.StatusOK, cardinalJSON))

	path := touchFile(t)
	_, err := client.Upload(t.Context(), path)
	require.Error(t, err)

	registerPingOK(transport)
	resp, err := client.Upload(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, "Northern Cardinal", resp.Result.Species)
	assert.Equal(t, 2, transport.GetCallCountInfo()[pingKey])
	assert.Equal(t, 1, transport.GetCallCountInfo()[uploadKey])
}

func TestValidate_ReturnsRequest(t *testing.T) {
	t.Parallel()

	client, transport, _ := newMockedClient(t, fixedProber{seconds: 42.5})
	path := touchFile(t)

	req, err := client.Validate(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, Request{AudioPath: path, DurationSeconds: 42.5}, req)
	assert.Zero(t, transport.GetTotalCallCount())
}
