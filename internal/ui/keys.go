package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines all keyboard bindings for the session.
type keyMap struct {
	// Global
	Quit    key.Binding
	Help    key.Binding
	Tab     key.Binding
	Escape  key.Binding
	Refresh key.Binding

	// Identification
	Record  key.Binding
	Stop    key.Binding
	Cancel  key.Binding
	Open    key.Binding
	Send    key.Binding
	Discard key.Binding
	Another key.Binding
	Play    key.Binding

	// History
	Up           key.Binding
	Down         key.Binding
	Select       key.Binding
	ClearHistory key.Binding

	// Retry dialog and crash screen
	Retry   key.Binding
	Abort   key.Binding
	Restart key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "q"),
			key.WithHelp("q", "Quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "Toggle help"),
		),
		Tab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "Switch view"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "Back"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "Check backend"),
		),

		Record: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "Record"),
		),
		Stop: key.NewBinding(
			key.WithKeys("s", " "),
			key.WithHelp("s/space", "Stop recording"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "Cancel recording"),
		),
		Open: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "Open audio file"),
		),
		Send: key.NewBinding(
			key.WithKeys("enter", "u"),
			key.WithHelp("enter", "Identify"),
		),
		Discard: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "Clear recording"),
		),
		Another: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "Record another"),
		),
		Play: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "Play/stop clip"),
		),

		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("↑/k", "Up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("↓/j", "Down"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "Show details"),
		),
		ClearHistory: key.NewBinding(
			key.WithKeys("X"),
			key.WithHelp("X", "Clear history"),
		),

		Retry: key.NewBinding(
			key.WithKeys("y", "r", "enter"),
			key.WithHelp("y", "Retry"),
		),
		Abort: key.NewBinding(
			key.WithKeys("n", "esc", "c"),
			key.WithHelp("n", "Cancel"),
		),
		Restart: key.NewBinding(
			key.WithKeys("enter", "r"),
			key.WithHelp("enter", "Restart"),
		),
	}
}

// helpBindings returns the bindings shown in the help overlay.
func (k keyMap) helpBindings() []key.Binding {
	return []key.Binding{
		k.Record, k.Stop, k.Cancel, k.Open, k.Send, k.Discard, k.Another, k.Play,
		k.Tab, k.Up, k.Down, k.Select, k.ClearHistory, k.Refresh, k.Escape, k.Help, k.Quit,
	}
}
