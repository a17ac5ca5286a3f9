package httpclient

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestClient returns a client with production defaults, adjusted by opts.
func newTestClient(t *testing.T, opts ...func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	client := New(&cfg)
	t.Cleanup(client.Close)
	return client
}

func withTimeout(d time.Duration) func(*Config) {
	return func(c *Config) { c.DefaultTimeout = d }
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// drain reads what is left of the body and closes it so the connection can
// be reused.
func drain(t *testing.T, resp *http.Response) {
	t.Helper()
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		t.Logf("close body: %v", err)
	}
}
