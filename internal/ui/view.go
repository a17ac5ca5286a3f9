package ui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/chirpid/chirpid/internal/backendstatus"
	"github.com/chirpid/chirpid/internal/workflow"
)

var titleCaser = cases.Title(language.English)

// meterFloor is the dBFS value shown as an empty meter.
const meterFloor = -60.0

// meterPercent maps a dBFS sample onto the meter bar.
func meterPercent(dbfs float64) float64 {
	if dbfs <= meterFloor {
		return 0
	}
	if dbfs >= 0 {
		return 1
	}
	return (dbfs - meterFloor) / -meterFloor
}

// View implements tea.Model.
func (s *Session) View() string {
	if s.prompt != nil {
		return s.renderPrompt()
	}
	if s.showHelp {
		return s.renderHelp()
	}

	var b strings.Builder
	b.WriteString(s.renderHeader())
	b.WriteString("\n\n")

	switch s.view {
	case ViewDetails:
		b.WriteString(s.renderDetails())
	case ViewHistory:
		b.WriteString(s.renderHistory())
	default:
		b.WriteString(s.renderIdentify())
	}

	if s.notice != "" {
		b.WriteString("\n")
		b.WriteString(s.styles.DangerText.Render(s.notice))
	}
	b.WriteString("\n")
	b.WriteString(s.styles.Footer.Render(s.footerHint()))
	return b.String()
}

func (s *Session) renderHeader() string {
	title := s.styles.Title.Render("ChirpID")
	if s.opts.Version != "" {
		title += s.styles.MutedText.Render(" " + s.opts.Version)
	}
	return s.styles.Header.Render(title + "  " + s.renderStatus())
}

// renderStatus renders the backend status pill.
func (s *Session) renderStatus() string {
	return renderStatus(s.styles, s.status, s.spinner.View())
}

func renderStatus(styles Styles, st backendstatus.Status, spin string) string {
	var label string
	switch {
	case st.IsLoading:
		label = styles.WarningText.Render(spin + " checking backend")
	case st.IsOnline:
		label = styles.SuccessText.Render("● backend online")
	default:
		label = styles.DangerText.Render("● backend offline")
		if st.Error != "" {
			label += styles.MutedText.Render(" (" + st.Error + ")")
		}
	}
	if st.LastChecked != nil && !st.IsLoading {
		label += styles.MutedText.Render(" · " + st.LastChecked.Format("15:04:05"))
	}
	return label
}

func (s *Session) renderIdentify() string {
	snap := s.snapshot
	var b strings.Builder

	b.WriteString(s.styles.Text.Render("State: "))
	b.WriteString(s.styles.AccentText.Render(titleCaser.String(snap.State.String())))
	b.WriteString("\n\n")

	switch snap.State {
	case workflow.StateIdle:
		b.WriteString(s.styles.MutedText.Render("Press r to record a bird, or o to open an audio file."))
	case workflow.StateRecording:
		b.WriteString(s.styles.DangerText.Render("● REC "))
		b.WriteString(s.meter.ViewAs(meterPercent(snap.Level)))
		fmt.Fprintf(&b, " %s", s.styles.MutedText.Render(fmt.Sprintf("%.0f dBFS", snap.Level)))
	case workflow.StateRecorded:
		b.WriteString(s.styles.Text.Render("Ready to identify " + filepath.Base(snap.AudioPath)))
		b.WriteString(s.renderPlaying(snap.AudioPath))
		if snap.Error != "" {
			b.WriteString("\n")
			b.WriteString(s.styles.WarningText.Render("Last attempt failed: " + snap.Error))
		}
	case workflow.StateUploading:
		b.WriteString(s.styles.WarningText.Render(s.spinner.View() + " Identifying " + filepath.Base(snap.AudioPath) + "..."))
	case workflow.StateResult:
		if r := snap.Result; r != nil {
			b.WriteString(s.styles.SuccessText.Render(r.Species))
			if r.ScientificName != "" {
				b.WriteString(s.styles.MutedText.Italic(true).Render(" " + r.ScientificName))
			}
			fmt.Fprintf(&b, "\n%s", s.styles.Text.Render(fmt.Sprintf("Confidence %.0f%%", r.Confidence*100)))
		}
		b.WriteString(s.renderPlaying(snap.AudioPath))
	}
	return s.styles.Panel.Render(b.String())
}

// renderPlaying marks path as playing, or returns "" when it is not.
func (s *Session) renderPlaying(path string) string {
	if path == "" || s.playing != path {
		return ""
	}
	return "\n" + s.styles.AccentText.Render("♪ Playing "+filepath.Base(path))
}

func (s *Session) renderDetails() string {
	if s.details == nil {
		return s.styles.MutedText.Render("No identification selected.")
	}
	header := s.styles.SuccessText.Render(s.details.nav.Species)
	if s.details.nav.ScientificName != "" {
		header += s.styles.MutedText.Italic(true).Render("  " + s.details.nav.ScientificName)
	}
	header += s.renderPlaying(s.details.nav.AudioPath)
	return header + "\n" + s.styles.Panel.Render(s.detailVP.View())
}

// renderDetailBody is the scrollable part of the details view.
func (s *Session) renderDetailBody() string {
	d := s.details
	if d == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Confidence: %.1f%%\n", d.nav.Confidence*100)
	if d.nav.AudioPath != "" {
		fmt.Fprintf(&b, "Recording:  %s\n", d.nav.AudioPath)
	}
	b.WriteString("\n")

	switch {
	case d.loading:
		b.WriteString("Loading species information...")
	case d.info != nil:
		b.WriteString(d.info.Title + "\n\n")
		b.WriteString(lipgloss.NewStyle().Width(max(s.detailVP.Width-2, 20)).Render(d.info.Description))
		if d.info.ThumbnailURL != "" {
			b.WriteString("\n\nImage: " + d.info.ThumbnailURL)
			if d.info.Attribution != nil {
				b.WriteString("\nImage by: " + d.info.Attribution.String())
			}
		}
		if d.info.PageURL != "" {
			b.WriteString("\nRead more: " + d.info.PageURL)
		}
	case d.infoErr != "":
		b.WriteString("No Wikipedia information available.")
	}
	return b.String()
}

func (s *Session) renderHistory() string {
	if len(s.entries) == 0 {
		return s.styles.Panel.Render(s.styles.MutedText.Render("No identifications yet."))
	}
	var b strings.Builder
	for i, e := range s.entries {
		image := " "
		switch {
		case e.AudioURI != "" && e.AudioURI == s.playing:
			image = "♪"
		case e.WikipediaImageURL != "":
			image = "▣"
		}
		line := fmt.Sprintf("%s %-28s %5.1f%%  %s",
			image, e.Species, e.Confidence*100, e.Timestamp.Local().Format("Jan 2 15:04"))
		if i == s.selected {
			line = s.styles.Selected.Render(line)
		}
		b.WriteString(line)
		if i < len(s.entries)-1 {
			b.WriteString("\n")
		}
	}
	title := s.styles.Text.Bold(true).Render(fmt.Sprintf("History (%d)", len(s.entries)))
	return title + "\n" + s.styles.Panel.Render(b.String())
}

func (s *Session) renderPrompt() string {
	body := s.styles.DangerText.Render("Identification failed") + "\n\n" +
		s.styles.Text.Render(s.prompt.message) + "\n\n" +
		s.styles.MutedText.Render("y Retry   n Cancel")
	box := s.styles.Modal.Render(body)
	if s.width == 0 || s.height == 0 {
		return box
	}
	return lipgloss.Place(s.width, s.height, lipgloss.Center, lipgloss.Center, box)
}

func (s *Session) renderHelp() string {
	var b strings.Builder
	b.WriteString(s.styles.Text.Bold(true).Render("Keyboard Shortcuts"))
	b.WriteString("\n\n")
	for _, binding := range s.keys.helpBindings() {
		h := binding.Help()
		fmt.Fprintf(&b, "%s  %s\n", s.styles.AccentText.Render(fmt.Sprintf("%-10s", h.Key)), h.Desc)
	}
	b.WriteString("\n")
	b.WriteString(s.styles.MutedText.Render("Press any key to close"))
	return s.styles.Panel.Render(b.String())
}

func (s *Session) footerHint() string {
	if s.opening {
		return "Open: " + s.fileInput.View() + "  (enter to load, esc to cancel)"
	}
	switch s.view {
	case ViewDetails:
		return "esc back · p play · n record another · tab switch view · q quit"
	case ViewHistory:
		return "↑/↓ select · enter details · p play · X clear · esc back · q quit"
	}
	switch s.snapshot.State {
	case workflow.StateIdle:
		return "r record · o open file · tab history · b check backend · ? help · q quit"
	case workflow.StateRecording:
		return "s stop · x cancel"
	case workflow.StateRecorded:
		return "enter identify · p play · c clear · o open another file"
	case workflow.StateUploading:
		return "uploading..."
	case workflow.StateResult:
		return "n record another · p play · tab history · q quit"
	}
	return ""
}
