// Package ui provides the Bubble Tea session for interactive identification.
package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/chirpid/chirpid/internal/backendstatus"
	"github.com/chirpid/chirpid/internal/history"
	"github.com/chirpid/chirpid/internal/logger"
	"github.com/chirpid/chirpid/internal/wikipedia"
	"github.com/chirpid/chirpid/internal/workflow"
)

// Workflow is the part of *workflow.Workflow the session drives.
type Workflow interface {
	StartRecording(ctx context.Context) error
	StopRecording() error
	CancelRecording()
	LoadFile(path string) error
	Clear() error
	Send(ctx context.Context) error
	RecordAnother() error
	Subscribe() (<-chan workflow.Snapshot, func())
}

// StatusMonitor is the part of *backendstatus.Monitor the session uses.
type StatusMonitor interface {
	Refresh(ctx context.Context) backendstatus.Status
	Subscribe() (<-chan backendstatus.Status, func())
}

// History is the part of *history.Store the session uses.
type History interface {
	List() []history.Entry
	Clear()
	Subscribe() (<-chan history.Event, func())
}

// SpeciesLookup fetches reference info; *wikipedia.Client satisfies it.
type SpeciesLookup interface {
	Lookup(ctx context.Context, common, scientific string) (*wikipedia.Info, error)
}

// speciesDescriber also credits the page image. The details view uses it
// when the lookup provides it.
type speciesDescriber interface {
	Describe(ctx context.Context, common, scientific string) (*wikipedia.Info, error)
}

// Player is the part of *myaudio.Player the session uses.
type Player interface {
	Toggle(path string) (bool, error)
	Playing() string
	Stop()
}

// View is the active screen.
type View int

const (
	ViewIdentify View = iota
	ViewDetails
	ViewHistory
)

// Options configures a session.
type Options struct {
	Context   context.Context
	Workflow  Workflow
	Monitor   StatusMonitor
	History   History
	Wikipedia SpeciesLookup
	Prompter  *Prompter
	Navigator *Navigator
	Player    Player
	Version   string
	Theme     Theme
}

// details is the result view state.
type details struct {
	nav     workflow.Navigation
	info    *wikipedia.Info
	infoErr string
	loading bool
}

// Session is the Bubble Tea model for one interactive run.
type Session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    Options
	keys    keyMap
	styles  Styles
	log     logger.Logger
	cancels []func()

	snapshots <-chan workflow.Snapshot
	statuses  <-chan backendstatus.Status
	events    <-chan history.Event

	width  int
	height int
	view   View

	snapshot workflow.Snapshot
	status   backendstatus.Status
	entries  []history.Entry
	selected int
	sending  bool
	playing  string

	prompt   *promptRequest
	details  *details
	showHelp bool
	notice   string

	opening   bool
	fileInput textinput.Model
	spinner   spinner.Model
	meter     progress.Model
	detailVP  viewport.Model
}

// NewSession subscribes to the workflow, monitor and history and returns
// the model. Close cancels its commands and releases the subscriptions.
func NewSession(opts Options) *Session {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Theme.Name == "" {
		opts.Theme = DefaultTheme
	}
	// commands started by this session, including a pending Retry/Cancel
	// prompt, end when the session is closed
	ctx, cancel := context.WithCancel(ctx)

	input := textinput.New()
	input.Placeholder = "/path/to/recording.wav"
	input.CharLimit = 1024
	input.Width = 60

	s := &Session{
		ctx:       ctx,
		cancel:    cancel,
		opts:      opts,
		keys:      DefaultKeyMap(),
		styles:    opts.Theme.Styles(),
		log:       logger.Global().Module("ui"),
		status:    backendstatus.Initial(),
		fileInput: input,
		spinner:   spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		meter:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40), progress.WithoutPercentage()),
		detailVP:  viewport.New(80, 12),
	}

	s.snapshots, s.cancels = subscribe(opts.Workflow.Subscribe, s.cancels)
	if opts.Monitor != nil {
		s.statuses, s.cancels = subscribe(opts.Monitor.Subscribe, s.cancels)
	}
	if opts.History != nil {
		s.entries = opts.History.List()
		s.events, s.cancels = subscribe(opts.History.Subscribe, s.cancels)
	}
	return s
}

func subscribe[T any](fn func() (<-chan T, func()), cancels []func()) (<-chan T, []func()) {
	ch, cancel := fn()
	return ch, append(cancels, cancel)
}

// Close cancels the session's in-flight commands, stops playback and
// releases its subscriptions.
func (s *Session) Close() {
	s.cancel()
	if s.opts.Player != nil {
		s.opts.Player.Stop()
	}
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}

// Messages

type snapshotMsg workflow.Snapshot

type statusMsg backendstatus.Status

type historyMsg history.Event

type promptMsg struct{ req *promptRequest }

type navigateMsg workflow.Navigation

type wikiMsg struct {
	entryID string
	info    *wikipedia.Info
	err     error
}

type sendDoneMsg struct{ err error }

type playbackMsg struct {
	path    string
	playing bool
	err     error
}

type playbackTickMsg struct{}

// playbackPoll is how often the playing indicator is refreshed.
const playbackPoll = 250 * time.Millisecond

type actionErrMsg struct{ err error }

// Commands

func waitFor[T any](ch <-chan T, wrap func(T) tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		return wrap(v)
	}
}

func (s *Session) waitSnapshot() tea.Cmd {
	return waitFor(s.snapshots, func(v workflow.Snapshot) tea.Msg { return snapshotMsg(v) })
}

func (s *Session) waitStatus() tea.Cmd {
	return waitFor(s.statuses, func(v backendstatus.Status) tea.Msg { return statusMsg(v) })
}

func (s *Session) waitHistory() tea.Cmd {
	return waitFor(s.events, func(v history.Event) tea.Msg { return historyMsg(v) })
}

func (s *Session) waitPrompt() tea.Cmd {
	if s.opts.Prompter == nil {
		return nil
	}
	return waitFor(s.opts.Prompter.requests, func(v *promptRequest) tea.Msg { return promptMsg{req: v} })
}

func (s *Session) waitNavigation() tea.Cmd {
	if s.opts.Navigator == nil {
		return nil
	}
	return waitFor(s.opts.Navigator.events, func(v workflow.Navigation) tea.Msg { return navigateMsg(v) })
}

func (s *Session) sendCmd() tea.Cmd {
	wf, ctx := s.opts.Workflow, s.ctx
	return func() tea.Msg {
		return sendDoneMsg{err: wf.Send(ctx)}
	}
}

// playCmd toggles playback of path.
func (s *Session) playCmd(path string) tea.Cmd {
	player := s.opts.Player
	if player == nil || path == "" {
		return nil
	}
	return func() tea.Msg {
		playing, err := player.Toggle(path)
		return playbackMsg{path: path, playing: playing, err: err}
	}
}

func playbackTick() tea.Cmd {
	return tea.Tick(playbackPoll, func(time.Time) tea.Msg { return playbackTickMsg{} })
}

// stopPlayback silences the player before the microphone opens.
func (s *Session) stopPlayback() {
	if s.opts.Player != nil && s.playing != "" {
		s.opts.Player.Stop()
		s.playing = ""
	}
}

func (s *Session) refreshCmd() tea.Cmd {
	if s.opts.Monitor == nil {
		return nil
	}
	monitor, ctx := s.opts.Monitor, s.ctx
	return func() tea.Msg {
		return statusMsg(monitor.Refresh(ctx))
	}
}

func (s *Session) lookupCmd(nav workflow.Navigation) tea.Cmd {
	if s.opts.Wikipedia == nil {
		return nil
	}
	wiki, ctx := s.opts.Wikipedia, s.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		lookup := wiki.Lookup
		if d, ok := wiki.(speciesDescriber); ok {
			lookup = d.Describe
		}
		info, err := lookup(ctx, nav.Species, nav.ScientificName)
		return wikiMsg{entryID: nav.EntryID, info: info, err: err}
	}
}

func actionCmd(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

// Init implements tea.Model.
func (s *Session) Init() tea.Cmd {
	return tea.Batch(
		s.waitSnapshot(),
		s.waitStatus(),
		s.waitHistory(),
		s.waitPrompt(),
		s.waitNavigation(),
		s.spinner.Tick,
	)
}

// Update implements tea.Model.
func (s *Session) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return s.handleKey(msg)

	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
		s.detailVP.Width = max(msg.Width-4, 20)
		s.detailVP.Height = max(msg.Height-12, 5)
		s.meter.Width = min(max(msg.Width-20, 10), 60)
		return s, nil

	case snapshotMsg:
		s.snapshot = workflow.Snapshot(msg)
		return s, s.waitSnapshot()

	case statusMsg:
		s.status = backendstatus.Status(msg)
		return s, s.waitStatus()

	case historyMsg:
		s.entries = s.opts.History.List()
		if s.selected >= len(s.entries) {
			s.selected = max(len(s.entries)-1, 0)
		}
		return s, s.waitHistory()

	case promptMsg:
		s.prompt = msg.req
		return s, s.waitPrompt()

	case navigateMsg:
		nav := workflow.Navigation(msg)
		s.showDetails(nav)
		return s, tea.Batch(s.waitNavigation(), s.lookupCmd(nav))

	case wikiMsg:
		if s.details != nil && s.details.nav.EntryID == msg.entryID {
			s.details.loading = false
			s.details.info = msg.info
			if msg.err != nil {
				s.details.infoErr = msg.err.Error()
				s.log.Debug("species info unavailable", logger.Error(msg.err))
			}
			s.detailVP.SetContent(s.renderDetailBody())
		}
		return s, nil

	case sendDoneMsg:
		s.sending = false
		if msg.err != nil {
			s.notice = "Upload cancelled: " + msg.err.Error()
		}
		return s, nil

	case actionErrMsg:
		s.notice = msg.err.Error()
		return s, nil

	case playbackMsg:
		if msg.err != nil {
			s.playing = ""
			s.notice = "Playback failed: " + msg.err.Error()
			return s, nil
		}
		if !msg.playing {
			s.playing = ""
			return s, nil
		}
		wasPolling := s.playing != ""
		s.playing = msg.path
		if wasPolling {
			return s, nil
		}
		return s, playbackTick()

	case playbackTickMsg:
		if s.opts.Player == nil {
			return s, nil
		}
		s.playing = s.opts.Player.Playing()
		if s.playing == "" {
			return s, nil
		}
		return s, playbackTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		s.spinner, cmd = s.spinner.Update(msg)
		return s, cmd
	}

	if s.opening {
		var cmd tea.Cmd
		s.fileInput, cmd = s.fileInput.Update(msg)
		return s, cmd
	}
	return s, nil
}

func (s *Session) showDetails(nav workflow.Navigation) {
	s.details = &details{nav: nav, loading: s.opts.Wikipedia != nil}
	s.view = ViewDetails
	s.detailVP.SetContent(s.renderDetailBody())
	s.detailVP.GotoTop()
}

func (s *Session) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if s.prompt != nil {
		return s.handlePromptKey(msg)
	}
	if s.opening {
		return s.handleOpenKey(msg)
	}
	if s.showHelp {
		s.showHelp = false
		return s, nil
	}

	switch {
	case key.Matches(msg, s.keys.Quit):
		s.opts.Workflow.CancelRecording()
		return s, tea.Quit
	case key.Matches(msg, s.keys.Help):
		s.showHelp = true
		return s, nil
	case key.Matches(msg, s.keys.Refresh):
		return s, s.refreshCmd()
	case key.Matches(msg, s.keys.Tab):
		s.cycleView()
		return s, nil
	}

	s.notice = ""
	switch s.view {
	case ViewDetails:
		return s.handleDetailsKey(msg)
	case ViewHistory:
		return s.handleHistoryKey(msg)
	default:
		return s.handleIdentifyKey(msg)
	}
}

func (s *Session) cycleView() {
	switch s.view {
	case ViewIdentify:
		s.view = ViewHistory
	case ViewHistory:
		if s.details != nil {
			s.view = ViewDetails
		} else {
			s.view = ViewIdentify
		}
	default:
		s.view = ViewIdentify
	}
}

func (s *Session) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var d workflow.Decision
	switch {
	case key.Matches(msg, s.keys.Retry):
		d = workflow.DecisionRetry
	case key.Matches(msg, s.keys.Abort):
		d = workflow.DecisionCancel
	case msg.String() == "ctrl+c":
		d = workflow.DecisionCancel
	default:
		return s, nil
	}
	s.prompt.reply <- d
	s.prompt = nil
	return s, nil
}

func (s *Session) handleOpenKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		s.opening = false
		s.fileInput.Blur()
		return s, nil
	case tea.KeyEnter:
		path := s.fileInput.Value()
		s.opening = false
		s.fileInput.Blur()
		s.fileInput.SetValue("")
		wf := s.opts.Workflow
		return s, actionCmd(func() error { return wf.LoadFile(path) })
	}
	var cmd tea.Cmd
	s.fileInput, cmd = s.fileInput.Update(msg)
	return s, cmd
}

func (s *Session) handleIdentifyKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	wf, ctx := s.opts.Workflow, s.ctx

	switch s.snapshot.State {
	case workflow.StateIdle:
		switch {
		case key.Matches(msg, s.keys.Record):
			s.stopPlayback()
			return s, actionCmd(func() error { return wf.StartRecording(ctx) })
		case key.Matches(msg, s.keys.Open):
			return s, s.openFile()
		}

	case workflow.StateRecording:
		switch {
		case key.Matches(msg, s.keys.Stop):
			return s, actionCmd(wf.StopRecording)
		case key.Matches(msg, s.keys.Cancel):
			wf.CancelRecording()
			return s, nil
		}

	case workflow.StateRecorded:
		switch {
		case key.Matches(msg, s.keys.Send):
			if s.sending {
				return s, nil
			}
			s.sending = true
			return s, s.sendCmd()
		case key.Matches(msg, s.keys.Play):
			return s, s.playCmd(s.snapshot.AudioPath)
		case key.Matches(msg, s.keys.Discard):
			s.stopPlayback()
			return s, actionCmd(wf.Clear)
		case key.Matches(msg, s.keys.Open):
			return s, s.openFile()
		}

	case workflow.StateResult:
		switch {
		case key.Matches(msg, s.keys.Another):
			s.stopPlayback()
			return s, actionCmd(wf.RecordAnother)
		case key.Matches(msg, s.keys.Play):
			return s, s.playCmd(s.snapshot.AudioPath)
		case key.Matches(msg, s.keys.Open):
			return s, s.openFile()
		}
	}
	return s, nil
}

func (s *Session) openFile() tea.Cmd {
	s.opening = true
	return s.fileInput.Focus()
}

func (s *Session) handleDetailsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, s.keys.Escape):
		s.view = ViewIdentify
		return s, nil
	case key.Matches(msg, s.keys.Play):
		if s.details != nil {
			return s, s.playCmd(s.details.nav.AudioPath)
		}
		return s, nil
	case key.Matches(msg, s.keys.Another):
		s.view = ViewIdentify
		if s.snapshot.State == workflow.StateResult {
			s.stopPlayback()
			return s, actionCmd(s.opts.Workflow.RecordAnother)
		}
		return s, nil
	}
	var cmd tea.Cmd
	s.detailVP, cmd = s.detailVP.Update(msg)
	return s, cmd
}

func (s *Session) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, s.keys.Escape):
		s.view = ViewIdentify
	case key.Matches(msg, s.keys.Up):
		if s.selected > 0 {
			s.selected--
		}
	case key.Matches(msg, s.keys.Down):
		if s.selected < len(s.entries)-1 {
			s.selected++
		}
	case key.Matches(msg, s.keys.Play):
		if s.selected < len(s.entries) {
			return s, s.playCmd(s.entries[s.selected].AudioURI)
		}
	case key.Matches(msg, s.keys.ClearHistory):
		if s.opts.History != nil {
			s.opts.History.Clear()
		}
	case key.Matches(msg, s.keys.Select):
		if s.selected < len(s.entries) {
			e := s.entries[s.selected]
			nav := workflow.Navigation{
				EntryID:        e.ID,
				Species:        e.Species,
				ScientificName: e.ScientificName,
				Confidence:     e.Confidence,
				AudioPath:      e.AudioURI,
			}
			s.showDetails(nav)
			return s, s.lookupCmd(nav)
		}
	}
	return s, nil
}
