package workflow

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chirpid/chirpid/internal/backend"
	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/history"
	"github.com/chirpid/chirpid/internal/httpclient"
	"github.com/chirpid/chirpid/internal/myaudio"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var cardinalResult = &backend.Result{
	Species:        "Northern Cardinal",
	Confidence:     0.92,
	ScientificName: "Cardinalis cardinalis",
}

// scriptedUploader returns queued outcomes in order, repeating the last one.
type scriptedUploader struct {
	mu       sync.Mutex
	outcomes []outcome
	paths    []string
}

type outcome struct {
	resp *backend.IdentificationResponse
	err  error
}

func (u *scriptedUploader) Upload(_ context.Context, path string) (*backend.IdentificationResponse, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, path)
	o := u.outcomes[0]
	if len(u.outcomes) > 1 {
		u.outcomes = u.outcomes[1:]
	}
	return o.resp, o.err
}

func (u *scriptedUploader) calls() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.paths...)
}

func success() outcome {
	return outcome{resp: &backend.IdentificationResponse{Success: true, ID: "abc", Result: cardinalResult}}
}

func failure(msg string) outcome {
	return outcome{err: errors.Newf("%s", msg).Category(errors.CategoryNetwork).Build()}
}

// scriptedPrompter answers with queued decisions and records the messages.
type scriptedPrompter struct {
	mu        sync.Mutex
	decisions []Decision
	messages  []string
}

func (p *scriptedPrompter) Confirm(_ context.Context, message string) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	if len(p.decisions) == 0 {
		return DecisionCancel
	}
	d := p.decisions[0]
	p.decisions = p.decisions[1:]
	return d
}

// fakeCapture writes an empty file on Stop.
type fakeCapture struct {
	dir      string
	started  atomic.Int32
	stopped  atomic.Int32
	canceled atomic.Int32
	startErr error
}

func (c *fakeCapture) Start(context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.started.Add(1)
	return nil
}

func (c *fakeCapture) Stop() (string, error) {
	n := c.stopped.Add(1)
	path := filepath.Join(c.dir, "recording.wav")
	if n > 1 {
		return "", errors.Newf("no recording in progress").Category(errors.CategoryState).Build()
	}
	return path, os.WriteFile(path, []byte("RIFF"), 0o600)
}

func (c *fakeCapture) Cancel()        { c.canceled.Add(1) }
func (c *fakeCapture) Level() float64 { return -18 }

type navRecorder struct {
	mu   sync.Mutex
	navs []Navigation
}

func (n *navRecorder) record(nav Navigation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.navs = append(n.navs, nav)
}

func (n *navRecorder) all() []Navigation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Navigation(nil), n.navs...)
}

type fixture struct {
	wf       *Workflow
	uploader *scriptedUploader
	prompter *scriptedPrompter
	capture  *fakeCapture
	store    *history.Store
	navs     *navRecorder
	file     string
}

func newFixture(t *testing.T, outcomes ...outcome) *fixture {
	t.Helper()

	dir := t.TempDir()
	file := filepath.Join(dir, "picked.wav")
	require.NoError(t, os.WriteFile(file, []byte("RIFF"), 0o600))

	f := &fixture{
		uploader: &scriptedUploader{outcomes: outcomes},
		prompter: &scriptedPrompter{},
		capture:  &fakeCapture{dir: dir},
		store:    history.NewStore(nil),
		navs:     &navRecorder{},
		file:     file,
	}
	t.Cleanup(f.store.Close)

	wf, err := New(Config{
		Uploader:      f.uploader,
		Capture:       f.capture,
		History:       f.store,
		Prompter:      f.prompter,
		Navigate:      f.navs.record,
		MeterInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(wf.Close)
	f.wf = wf
	return f
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestSend_SuccessAppendsHistoryAndNavigatesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, success())
	require.NoError(t, f.wf.LoadFile(f.file))
	require.NoError(t, f.wf.Send(t.Context()))

	assert.Equal(t, StateResult, f.wf.State())
	require.NotNil(t, f.wf.Result())
	assert.Equal(t, "Northern Cardinal", f.wf.Result().Species)

	entries := f.store.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "Northern Cardinal", entries[0].Species)
	assert.Equal(t, f.file, entries[0].AudioURI)

	navs := f.navs.all()
	require.Len(t, navs, 1)
	assert.Equal(t, Navigation{
		EntryID:        entries[0].ID,
		Species:        "Northern Cardinal",
		ScientificName: "Cardinalis cardinalis",
		Confidence:     0.92,
		AudioPath:      f.file,
	}, navs[0])
	assert.Empty(t, f.prompter.messages)
}

func TestSend_FailureThenCancelReturnsToRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, failure("backend not reachable"))
	require.NoError(t, f.wf.LoadFile(f.file))

	err := f.wf.Send(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend not reachable")

	snap := f.wf.Snapshot()
	assert.Equal(t, StateRecorded, snap.State)
	assert.Equal(t, f.file, snap.AudioPath, "the file is kept for a later retry")
	assert.Equal(t, "backend not reachable", snap.Error)
	assert.Equal(t, []string{"backend not reachable"}, f.prompter.messages)
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.navs.all())
}

func TestSend_RetryReusesTheSameRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, failure("backend not reachable"), success())
	f.prompter.decisions = []Decision{DecisionRetry}
	require.NoError(t, f.wf.LoadFile(f.file))

	require.NoError(t, f.wf.Send(t.Context()))

	assert.Equal(t, []string{f.file, f.file}, f.uploader.calls())
	assert.Equal(t, StateResult, f.wf.State())
	assert.Equal(t, 1, f.store.Len())
	assert.Len(t, f.navs.all(), 1)
	assert.Len(t, f.prompter.messages, 1)
}

func TestRetry_AfterCancelWithExplicitRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, failure("Service Unavailable"), success())
	require.NoError(t, f.wf.LoadFile(f.file))
	require.Error(t, f.wf.Send(t.Context()))
	require.Equal(t, StateRecorded, f.wf.State())

	require.NoError(t, f.wf.Retry(t.Context(), backend.Request{AudioPath: f.file}))
	assert.Equal(t, StateResult, f.wf.State())
	assert.Equal(t, []string{f.file, f.file}, f.uploader.calls())
}

func TestSend_UnsuccessfulResponseIsAFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, outcome{resp: &backend.IdentificationResponse{Success: false, Message: "No bird detected"}})
	require.NoError(t, f.wf.LoadFile(f.file))

	err := f.wf.Send(t.Context())
	require.Error(t, err)
	assert.Equal(t, "No bird detected", err.Error())
	assert.Equal(t, StateRecorded, f.wf.State())
	assert.Zero(t, f.store.Len())
}

func TestSend_RejectedOutsideRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, success())

	err := f.wf.Send(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
	assert.Empty(t, f.uploader.calls())
}

func TestSend_SingleInFlightUpload(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	blocking := &blockingUploader{release: release, entered: make(chan struct{})}
	store := history.NewStore(nil)
	defer store.Close()

	wf, err := New(Config{Uploader: blocking, History: store})
	require.NoError(t, err)
	defer wf.Close()

	file := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(file, []byte("RIFF"), 0o600))
	require.NoError(t, wf.LoadFile(file))

	done := make(chan error, 1)
	go func() { done <- wf.Send(context.Background()) }()
	<-blocking.entered

	assert.Equal(t, StateUploading, wf.State())
	assert.ErrorIs(t, wf.Send(t.Context()), ErrInvalidState)
	assert.ErrorIs(t, wf.Retry(t.Context(), backend.Request{AudioPath: file}), ErrInvalidState)
	assert.ErrorIs(t, wf.StartRecording(t.Context()), ErrInvalidState)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), blocking.calls.Load())
}

type blockingUploader struct {
	release chan struct{}
	entered chan struct{}
	calls   atomic.Int32
}

func (u *blockingUploader) Upload(context.Context, string) (*backend.IdentificationResponse, error) {
	if u.calls.Add(1) == 1 {
		close(u.entered)
	}
	<-u.release
	return success().resp, nil
}

func TestRecording_ManualStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, success())
	require.NoError(t, f.wf.StartRecording(t.Context()))
	assert.Equal(t, StateRecording, f.wf.State())

	require.Eventually(t, func() bool { return f.wf.Snapshot().Level == -18 }, time.Second, time.Millisecond,
		"metering must sample the capture level")

	require.NoError(t, f.wf.StopRecording())
	snap := f.wf.Snapshot()
	assert.Equal(t, StateRecorded, snap.State)
	assert.Equal(t, filepath.Join(f.capture.dir, "recording.wav"), snap.AudioPath)
	assert.InDelta(t, myaudio.SilenceDBFS, snap.Level, 0.001)

	// The losing stop is a no-op.
	require.NoError(t, f.wf.StopRecording())
	assert.Equal(t, int32(1), f.capture.stopped.Load())
}

func TestRecording_AutoStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, success())
	wf, err := New(Config{
		Uploader:     f.uploader,
		Capture:      f.capture,
		History:      f.store,
		MaxRecording: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer wf.Close()

	require.NoError(t, wf.StartRecording(t.Context()))
	require.Eventually(t, func() bool { return wf.State() == StateRecorded }, 2*time.Second, time.Millisecond)

	require.NoError(t, wf.StopRecording(), "manual stop after auto-stop must not fail")
	assert.Equal(t, int32(1), f.capture.stopped.Load())
}

func TestRecording_ConcurrentStopsStopOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, success())
	require.NoError(t, f.wf.StartRecording(t.Context()))

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			assert.NoError(t, f.wf.StopRecording())
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.capture.stopped.Load())
	assert.Equal(t, StateRecorded, f.wf.State())
}

func TestStartRecording_OnlyFromIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, success())
	require.NoError(t, f.wf.LoadFile(f.file))

	err := f.wf.StartRecording(t.Context())
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, f.capture.started.Load())
}

func TestStartRecording_CaptureError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, success())
	f.capture.startErr = errors.Newf("no capture device").Category(errors.CategoryAudioSource).Build()

	err := f.wf.StartRecording(t.Context())
	require.Error(t, err)
	assert.Equal(t, StateIdle, f.wf.State())
}

func TestCancelRecording(t *testing.T) {
	t.Parallel()

	f := newFixture(t, success())
	require.NoError(t, f.wf.StartRecording(t.Context()))
	f.wf.CancelRecording()

	assert.Equal(t, StateIdle, f.wf.State())
	assert.Equal(t, int32(1), f.capture.canceled.Load())
	assert.Zero(t, f.capture.stopped.Load())
}

func TestClear_DiscardsWithoutUploading(t *testing.T) {
	t.Parallel()

	f := newFixture(t, success())
	require.NoError(t, f.wf.LoadFile(f.file))
	require.NoError(t, f.wf.Clear())

	snap := f.wf.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.AudioPath)
	assert.Empty(t, f.uploader.calls())

	assert.ErrorIs(t, f.wf.Clear(), ErrInvalidState)
}

func TestLoadFile_MissingFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, success())
	err := f.wf.LoadFile(filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrFileNotFound)
	assert.Equal(t, StateIdle, f.wf.State())
}

func TestRecordAnother(t *testing.T) {
	t.Parallel()

	f := newFixture(t, success())
	assert.ErrorIs(t, f.wf.RecordAnother(), ErrInvalidState)

	require.NoError(t, f.wf.LoadFile(f.file))
	require.NoError(t, f.wf.Send(t.Context()))
	require.NoError(t, f.wf.RecordAnother())

	snap := f.wf.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Result)
	assert.Empty(t, snap.AudioPath)
	assert.Equal(t, 1, f.store.Len(), "history survives leaving the result view")
}

func TestSubscribe_SeesLatestSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, success())
	snaps, cancel := f.wf.Subscribe()
	defer cancel()

	assert.Equal(t, StateIdle, (<-snaps).State)

	require.NoError(t, f.wf.LoadFile(f.file))
	require.NoError(t, f.wf.Send(t.Context()))

	latest := <-snaps
	assert.Equal(t, StateResult, latest.State)
	require.NotNil(t, latest.Result)
	assert.Equal(t, "Northern Cardinal", latest.Result.Species)

	cancel()
	_, open := <-snaps
	assert.False(t, open)
}

func TestStateAndDecisionStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "recording", StateRecording.String())
	assert.Equal(t, "recorded", StateRecorded.String())
	assert.Equal(t, "uploading", StateUploading.String())
	assert.Equal(t, "result", StateResult.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.Equal(t, "Retry", DecisionRetry.String())
	assert.Equal(t, "Cancel", DecisionCancel.String())
}

// TestEndToEnd_NorthernCardinal runs a 30 second WAV through the real backend
// client against a mocked backend.
func TestEndToEnd_NorthernCardinal(t *testing.T) {
	t.Parallel()

	const base = "http://backend.test"
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, base+backend.PingPath,
		httpmock.NewStringResponder(http.StatusOK, `{"status":"ok","message":"Backend is running"}`))
	transport.RegisterResponder(http.MethodPost, base+backend.UploadPath,
		httpmock.NewStringResponder(http.StatusOK,
			`{"success":true,"result":{"species":"Northern Cardinal","confidence":0.92,"scientificName":"Cardinalis cardinalis"}}`))

	client, err := backend.NewClient(backend.Config{
		BaseURL:    base,
		HTTPClient: httpclient.New(&httpclient.Config{Transport: transport}),
	})
	require.NoError(t, err)

	format := myaudio.Format{SampleRate: 8000, Channels: 1}
	path := filepath.Join(t.TempDir(), "cardinal.wav")
	require.NoError(t, myaudio.SavePCMDataToWAV(path, make([]byte, 30*format.SampleRate*2), format))

	store := history.NewStore(nil)
	defer store.Close()
	navs := &navRecorder{}

	wf, err := New(Config{Uploader: client, History: store, Navigate: navs.record})
	require.NoError(t, err)
	defer wf.Close()

	require.NoError(t, wf.LoadFile(path))
	require.NoError(t, wf.Send(t.Context()))

	assert.Equal(t, StateResult, wf.State())

	entries := store.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "Northern Cardinal", entries[0].Species)

	got := navs.all()
	require.Len(t, got, 1)
	assert.Equal(t, "Northern Cardinal", got[0].Species)
	assert.InDelta(t, 0.92, got[0].Confidence, 1e-9)
	assert.Equal(t, 1, transport.GetCallCountInfo()["POST "+base+backend.UploadPath])
}
