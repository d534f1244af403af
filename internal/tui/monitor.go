// Package tui is the terminal monitor. The bubbletea update loop is the host
// loop: a frame tick wakes the scheduler and redraws the grid.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/icco/lookahead/internal/pattern"
	"github.com/icco/lookahead/internal/session"
)

const (
	frameInterval = 16 * time.Millisecond
	tempoStep     = 5
	minBPM        = 20
	maxBPM        = 300
	maxMultiplier = 16
)

// tickMsg wakes the scheduler.
type tickMsg time.Time

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model is the monitor state.
type Model struct {
	sess     *session.Session
	keys     keyMap
	help     help.Model
	interval time.Duration

	cursorX int // step
	cursorY int // channel
	message string
	wakes   int
	events  int
	width   int
	height  int
}

// New returns a monitor for sess. The session is started by the play key.
func New(sess *session.Session) Model {
	return Model{
		sess:     sess,
		keys:     defaultKeyMap(),
		help:     help.New(),
		interval: frameInterval,
	}
}

func (m Model) Init() tea.Cmd {
	return tick(m.interval)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.wakes++
		m.events += m.sess.Scheduler.Poll()
		return m, tick(m.interval)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	s := m.sess
	snap := s.Store.Snapshot()
	channels := len(snap.Channels)

	switch {
	case key.Matches(msg, m.keys.Quit):
		s.Scheduler.Stop()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Up):
		if m.cursorY > 0 {
			m.cursorY--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursorY < channels-1 {
			m.cursorY++
		}
	case key.Matches(msg, m.keys.Left):
		if m.cursorX > 0 {
			m.cursorX--
		}
	case key.Matches(msg, m.keys.Right):
		if m.cursorX < snap.PatternLength-1 {
			m.cursorX++
		}
	case key.Matches(msg, m.keys.Toggle):
		m.report(s.Store.ToggleStep(m.cursorY, m.cursorX))
	case key.Matches(msg, m.keys.Play):
		if s.Scheduler.Running() {
			s.Scheduler.Stop()
			m.message = "Stopped"
		} else if err := s.Scheduler.Start(); err != nil {
			m.report(err)
		} else {
			m.message = "Playing"
		}
	case key.Matches(msg, m.keys.TempoUp):
		m.setTempo(min(snap.BPM+tempoStep, maxBPM))
	case key.Matches(msg, m.keys.TempoDown):
		m.setTempo(max(snap.BPM-tempoStep, minBPM))
	case key.Matches(msg, m.keys.MultUp):
		m.setMultiplier(min(snap.Multiplier+1, maxMultiplier))
	case key.Matches(msg, m.keys.MultDown):
		m.setMultiplier(snap.Multiplier - 1)
	case key.Matches(msg, m.keys.Mute):
		m.toggleParam(pattern.ParamMute)
	case key.Matches(msg, m.keys.Solo):
		m.toggleParam(pattern.ParamSolo)
	case key.Matches(msg, m.keys.Reverse):
		m.toggleParam(pattern.ParamReverse)
	case key.Matches(msg, m.keys.Sequence):
		s.Store.AdvanceSequence()
		m.message = fmt.Sprintf("Sequence %d of %d", s.Store.Sequence()+1, s.Store.Sequences())
	}
	return m, nil
}

func (m *Model) report(err error) {
	if err != nil {
		m.message = fmt.Sprintf("Error: %v", err)
	} else {
		m.message = ""
	}
}

func (m *Model) setTempo(bpm float64) {
	if err := m.sess.Scheduler.SetTempo(bpm); err != nil {
		m.report(err)
		return
	}
	m.sess.Store.SetBPM(bpm)
	m.message = fmt.Sprintf("Tempo %.0f BPM", bpm)
}

func (m *Model) setMultiplier(n int) {
	if err := m.sess.Scheduler.SetScheduleMultiplier(n); err != nil {
		m.report(err)
		return
	}
	m.sess.Store.SetMultiplier(n)
	m.message = fmt.Sprintf("%d steps per beat", n)
}

func (m *Model) toggleParam(p pattern.Param) {
	c, ok := m.sess.Store.Channel(m.cursorY)
	if !ok {
		return
	}
	v := 1.0
	if c.Get(p) >= 0.5 {
		v = 0
	}
	m.report(m.sess.Store.SetParam(m.cursorY, p, v))
}
