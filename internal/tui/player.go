// Package tui implements the terminal front end: a transport view driven
// by engine state snapshots, and an output device browser.
package tui

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/bhosie/chronoaudio/internal/engine"
)

const seekStep = 5.0 // seconds per arrow press
const rateStep = 0.05

type stateMsg engine.State

type tempoMsg engine.TempoResult

// PlayerModel is the Bubble Tea model for the transport view. It never
// reads engine state directly during rendering: the engine pushes
// snapshots through the observer channel and the model renders the last
// one it saw.
type PlayerModel struct {
	eng    *engine.Engine
	states chan engine.State

	state    engine.State
	bar      progress.Model
	width    int
	loopIn   float64 // pending in point; -1 when unset
	notice   string
	clicking bool
}

// NewPlayerModel wires a model to the engine's observer hook.
func NewPlayerModel(eng *engine.Engine) *PlayerModel {
	m := &PlayerModel{
		eng:    eng,
		states: make(chan engine.State, 16),
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		loopIn: -1,
	}
	eng.SetObserver(func(s engine.State) {
		select {
		case m.states <- s:
		default: // drop; a fresher snapshot is right behind
		}
	})
	return m
}

// Init begins listening for engine snapshots.
func (m *PlayerModel) Init() tea.Cmd {
	return m.waitForState()
}

func (m *PlayerModel) waitForState() tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-m.states)
	}
}

func (m *PlayerModel) detectTempo() tea.Cmd {
	ch, err := m.eng.DetectTempo()
	if err != nil {
		m.notice = err.Error()
		return nil
	}
	m.notice = "detecting tempo..."
	return func() tea.Msg {
		return tempoMsg(<-ch)
	}
}

// Update handles key input and engine snapshots.
func (m *PlayerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 4
		if m.bar.Width > 60 {
			m.bar.Width = 60
		}

	case stateMsg:
		m.state = engine.State(msg)
		return m, m.waitForState()

	case tempoMsg:
		if msg.OK {
			m.notice = fmt.Sprintf("tempo: %.1f BPM", msg.BPM)
		} else {
			m.notice = "tempo: inconclusive"
		}

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *PlayerModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c"))):
		return m, tea.Quit

	case key.Matches(msg, key.NewBinding(key.WithKeys(" "))):
		if m.eng.Status() == engine.StatusPlaying {
			m.eng.Pause()
		} else {
			m.eng.Play()
		}

	case key.Matches(msg, key.NewBinding(key.WithKeys("s"))):
		m.eng.Stop()

	case key.Matches(msg, key.NewBinding(key.WithKeys("left"))):
		m.eng.Seek(m.eng.CurrentTime() - seekStep)

	case key.Matches(msg, key.NewBinding(key.WithKeys("right"))):
		m.eng.Seek(m.eng.CurrentTime() + seekStep)

	case key.Matches(msg, key.NewBinding(key.WithKeys("up"))):
		m.eng.SetRate(m.eng.Rate() + rateStep)

	case key.Matches(msg, key.NewBinding(key.WithKeys("down"))):
		m.eng.SetRate(m.eng.Rate() - rateStep)

	case key.Matches(msg, key.NewBinding(key.WithKeys("i"))):
		m.loopIn = m.eng.CurrentTime()
		m.notice = fmt.Sprintf("loop in: %s", formatTime(m.loopIn))

	case key.Matches(msg, key.NewBinding(key.WithKeys("o"))):
		m.markLoopOut()

	case key.Matches(msg, key.NewBinding(key.WithKeys("l"))):
		if m.eng.Looping() {
			m.eng.DisableLoop()
			m.notice = "loop off"
		}

	case key.Matches(msg, key.NewBinding(key.WithKeys("t"))):
		return m, m.detectTempo()

	case key.Matches(msg, key.NewBinding(key.WithKeys("c"))):
		if m.clicking {
			m.eng.StopClick()
			m.clicking = false
		} else if m.eng.BPM() > 0 {
			m.eng.StartClick(0)
			m.clicking = true
		} else {
			m.notice = "no tempo yet; press t to detect"
		}
	}
	return m, nil
}

func (m *PlayerModel) markLoopOut() {
	if m.loopIn < 0 {
		m.notice = "set the in point first (i)"
		return
	}
	trk := m.eng.Track()
	if trk == nil {
		return
	}
	region := engine.NewLoopRegion(m.loopIn, m.eng.CurrentTime(), trk.Duration)
	if region == nil {
		m.notice = "loop too short"
		return
	}
	if m.eng.Looping() {
		m.eng.UpdateLoopRegion(region)
	} else {
		m.eng.EnableLoop(region)
	}
	m.notice = fmt.Sprintf("looping %s – %s", formatTime(region.In), formatTime(region.Out))
	m.loopIn = -1
}

// View renders the transport.
func (m *PlayerModel) View() string {
	trk := m.eng.Track()
	if trk == nil {
		return titleStyle.Render("chronoaudio") + "\n\n  no track loaded\n"
	}

	s := m.state
	var frac float64
	if s.Duration > 0 {
		frac = s.Position / s.Duration
	}

	loop := "off"
	if s.Looping {
		loop = fmt.Sprintf("%s – %s", formatTime(s.LoopIn), formatTime(s.LoopOut))
	}
	bpm := "--"
	if s.BPM > 0 {
		bpm = fmt.Sprintf("%.1f", s.BPM)
	}
	click := "off"
	if s.Clicking {
		click = "on"
	}

	out := titleStyle.Render("chronoaudio") + "  " +
		infoStyle.Render(filepath.Base(trk.Path)) + "\n\n"
	out += fmt.Sprintf("  %s  %s / %s\n\n",
		highlightStyle.Render(s.Status),
		formatTime(s.Position), formatTime(s.Duration))
	out += "  " + m.bar.ViewAs(frac) + "\n\n"
	out += fmt.Sprintf("  rate %.2fx   loop %s   bpm %s   click %s\n", s.Rate, loop, bpm, click)
	if m.notice != "" {
		out += "\n  " + dimStyle.Render(m.notice) + "\n"
	}
	out += "\n" + dimStyle.Render("  space: play/pause • ←/→: seek • ↑/↓: rate • i/o: loop points • l: loop off • t: tempo • c: click • q: quit") + "\n"
	return out
}

func formatTime(t float64) string {
	if t < 0 {
		t = 0
	}
	mins := int(t) / 60
	secs := t - float64(mins*60)
	return fmt.Sprintf("%d:%04.1f", mins, secs)
}

// StartPlayerUI launches the transport view and blocks until quit.
func StartPlayerUI(eng *engine.Engine) error {
	p := tea.NewProgram(NewPlayerModel(eng), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
