package ui

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/logger"
)

// Factory builds a fresh session; Root calls it at start and on restart.
type Factory func() *Session

// crashState survives the value copies Bubble Tea makes of Root.
type crashState struct {
	err error
}

// Root hosts a Session and turns a panic in its Update or View into a
// "Something went wrong" screen with a restart action.
type Root struct {
	factory Factory
	session *Session
	crash   *crashState
	keys    keyMap
	styles  Styles
	width   int
	height  int
}

// NewRoot builds the first session from factory.
func NewRoot(factory Factory) Root {
	return Root{
		factory: factory,
		session: factory(),
		crash:   &crashState{},
		keys:    DefaultKeyMap(),
		styles:  DefaultTheme.Styles(),
	}
}

// Crashed reports whether the crash screen is showing.
func (r Root) Crashed() bool {
	return r.crash.err != nil
}

// Session returns the current session.
func (r Root) Session() *Session {
	return r.session
}

func (r Root) recordPanic(where string, p any) {
	err := errors.Newf("panic in %s: %v", where, p).
		Component("ui").
		Category(errors.CategoryGeneric).
		Context("stack", string(debug.Stack())).
		Build()
	logger.Global().Module("ui").Error("session crashed", logger.Error(err))
	r.crash.err = err
}

// Init implements tea.Model.
func (r Root) Init() tea.Cmd {
	return r.session.Init()
}

// Update implements tea.Model.
func (r Root) Update(msg tea.Msg) (model tea.Model, cmd tea.Cmd) {
	if size, ok := msg.(tea.WindowSizeMsg); ok {
		r.width, r.height = size.Width, size.Height
	}

	if r.Crashed() {
		return r.updateCrashed(msg)
	}

	defer func() {
		if p := recover(); p != nil {
			r.recordPanic("update", p)
			model, cmd = r, nil
		}
	}()

	next, cmd := r.session.Update(msg)
	if s, ok := next.(*Session); ok {
		r.session = s
	}
	return r, cmd
}

func (r Root) updateCrashed(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return r, nil
	}
	switch {
	case key.Matches(keyMsg, r.keys.Quit):
		return r, tea.Quit
	case key.Matches(keyMsg, r.keys.Restart):
		return r.restart()
	}
	return r, nil
}

// restart discards the crashed session and builds a new one.
func (r Root) restart() (tea.Model, tea.Cmd) {
	r.session.Close()
	r.session = r.factory()
	r.crash.err = nil

	cmds := []tea.Cmd{r.session.Init()}
	if r.width > 0 {
		size := tea.WindowSizeMsg{Width: r.width, Height: r.height}
		cmds = append(cmds, func() tea.Msg { return size })
	}
	return r, tea.Batch(cmds...)
}

// View implements tea.Model.
func (r Root) View() (out string) {
	if r.Crashed() {
		return r.renderCrash()
	}

	defer func() {
		if p := recover(); p != nil {
			r.recordPanic("view", p)
			out = r.renderCrash()
		}
	}()
	return r.session.View()
}

func (r Root) renderCrash() string {
	body := r.styles.DangerText.Render("Something went wrong") + "\n\n" +
		r.styles.Text.Render(r.crash.err.Error()) + "\n\n" +
		r.styles.MutedText.Render("enter Restart   q Quit")
	return r.styles.Modal.Render(body)
}

// Run runs the session until the user quits or ctx is done.
func Run(ctx context.Context, factory Factory) error {
	root := NewRoot(factory)

	p := tea.NewProgram(root, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if r, ok := final.(Root); ok {
		r.session.Close()
	} else {
		root.session.Close()
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal session: %w", err)
	}
	return nil
}
