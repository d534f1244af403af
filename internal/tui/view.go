package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/icco/lookahead/internal/pattern"
	"github.com/icco/lookahead/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00"))
)

// Gradient from cyan to magenta, repeated for longer patterns.
var clockColors = []string{
	"#00FFFF", "#00E5FF", "#00CCFF", "#00B2FF",
	"#0099FF", "#0080FF", "#0066FF", "#1A4DFF",
	"#3333FF", "#4D1AFF", "#6600FF", "#8000FF",
	"#9900FF", "#B300FF", "#CC00FF", "#FF00FF",
}

const labelWidth = 14 // "name    note  "

func (m Model) View() string {
	st := m.sess.Status()
	snap := m.sess.Store.Snapshot()

	var b strings.Builder
	b.WriteString(titleStyle.Render("lookahead") + "\n\n")
	b.WriteString(renderTransport(st) + "\n")
	b.WriteString(renderTiming(st, m.wakes) + "\n\n")

	b.WriteString(renderClockBar(snap.PatternLength, st.Timing.Running, st.DisplayStep) + "\n\n")

	b.WriteString(strings.Repeat(" ", labelWidth))
	for i := 0; i < snap.PatternLength; i++ {
		b.WriteString(fmt.Sprintf(" %X ", i%16))
	}
	b.WriteString("\n")

	for row, ch := range snap.Channels {
		b.WriteString(m.renderChannel(row, ch, snap, st))
		b.WriteString("\n")
	}

	b.WriteString("\n" + renderLastBar(st) + "\n")
	if m.message != "" {
		style := dimStyle
		if strings.HasPrefix(m.message, "Error") {
			style = errorStyle
		}
		b.WriteString(style.Render(m.message) + "\n")
	}
	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}

func renderTransport(st session.Status) string {
	state := "Stopped"
	if st.Timing.Running {
		state = "Playing"
	}
	return fmt.Sprintf("%s  %.0f BPM x%d  %.0fms/step  sequence %d",
		state, st.Timing.BPM, st.Timing.Multiplier, st.Timing.SecondsPerStep*1000, st.Sequence+1)
}

func renderTiming(st session.Status, wakes int) string {
	return dimStyle.Render(fmt.Sprintf("audio %.3fs  look-ahead %.0fms  schedule-ahead %.0fms  live %d  emitted %d  failed %d  wakes %d",
		st.AudioTime,
		st.Timing.LookAhead*1000,
		st.Timing.ScheduleAhead*1000,
		st.Active,
		st.Stats.Emitted,
		st.Stats.Failed,
		wakes))
}

func renderLastBar(st session.Status) string {
	if st.LastBar == nil {
		return dimStyle.Render("no bar analysed yet")
	}
	rep := st.LastBar
	line := fmt.Sprintf("bar %d  drift mean %.2fms  max %.2fms  (%d measured, %d pending)",
		rep.Bar, rep.MeanAbsDrift*1000, rep.MaxAbsDrift*1000, rep.Measured, rep.Pending)
	if rep.MaxAbsDrift > 0.005 {
		return warnStyle.Render(line)
	}
	return dimStyle.Render(line)
}

func (m Model) renderChannel(row int, ch pattern.Channel, snap pattern.Snapshot, st session.Status) string {
	var b strings.Builder

	flags := " "
	switch {
	case ch.Mute:
		flags = "M"
	case ch.Solo:
		flags = "S"
	case ch.Reverse:
		flags = "R"
	}
	if _, active := m.sess.Store.Active(ch.ID); active {
		flags += "♪"
	} else {
		flags += " "
	}

	label := fmt.Sprintf("%-6.6s%s%-4s ", ch.Name, flags, midiNoteToName(int(ch.Note)))
	if row == m.cursorY {
		b.WriteString(selectedStyle.Render(label))
	} else {
		b.WriteString(label)
	}

	audible := snap.Audible(ch)
	for step := 0; step < snap.PatternLength; step++ {
		lvl := ch.Level(step)
		cell := " · "
		switch {
		case lvl >= 1:
			cell = " ● "
		case lvl > 0:
			cell = " " + pattern.FormatSteps([]float64{lvl}) + " "
		}

		style := lipgloss.NewStyle().Width(3)
		if row == m.cursorY && step == m.cursorX {
			style = style.Background(lipgloss.Color("#7D56F4"))
		}
		switch {
		case st.Timing.Running && step == st.DisplayStep && lvl > 0:
			style = style.Foreground(lipgloss.Color("#00FF00")).Bold(true)
		case lvl > 0 && audible:
			style = style.Foreground(lipgloss.Color("#FFD700"))
		default:
			style = style.Foreground(lipgloss.Color("#666666"))
		}
		b.WriteString(style.Render(cell))
	}
	return b.String()
}

func renderClockBar(length int, isPlaying bool, currentStep int) string {
	bar := strings.Builder{}
	bar.WriteString(fmt.Sprintf("%-*s", labelWidth, "Clock"))

	for i := 0; i < length; i++ {
		var cell string
		var cellStyle lipgloss.Style
		color := clockColors[i%len(clockColors)]

		switch {
		case isPlaying && i == currentStep:
			cell = " ▶ "
			cellStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(lipgloss.Color(color)).
				Bold(true)
		case isPlaying && i < currentStep:
			cell = " █ "
			cellStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		default:
			cell = " · "
			cellStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))
		}
		bar.WriteString(cellStyle.Render(cell))
	}
	return bar.String()
}

func midiNoteToName(note int) string {
	notes := []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
	octave := (note / 12) - 1
	return fmt.Sprintf("%s%d", notes[note%12], octave)
}
