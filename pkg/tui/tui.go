// Package tui provides a terminal monitor for decoded MIDI traffic
package tui

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/james-see/blendmidi/pkg/codec"
	"github.com/james-see/blendmidi/pkg/engine"
)

// Colors follow Blender's dark theme
var (
	blenderOrange = lipgloss.Color("#E87D0D")
	blenderBlue   = lipgloss.Color("#5680C2")
	silverGray    = lipgloss.Color("#C0C0C0")
	darkGray      = lipgloss.Color("#333333")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(blenderOrange).
			Background(darkGray).
			Padding(0, 2).
			MarginBottom(1)

	menuStyle = lipgloss.NewStyle().
			Foreground(silverGray).
			PaddingLeft(2)

	selectedStyle = lipgloss.NewStyle().
			Foreground(blenderOrange).
			Bold(true).
			PaddingLeft(2)

	statusStyle = lipgloss.NewStyle().
			Foreground(blenderBlue).
			PaddingTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFF00"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(blenderOrange).
			Padding(1, 2)
)

// MaxLines bounds the monitor's scrollback
const MaxLines = 200

const meterWidth = 20

// State represents the current TUI state
type State int

const (
	StateMenu State = iota
	StateFilePicker
	StateMonitor
)

// MenuItem represents a menu option
type MenuItem struct {
	Title       string
	Description string
}

var menuItems = []MenuItem{
	{Title: "Live monitor", Description: "Watch events decoded from the connected surface"},
	{Title: "Inspect capture", Description: "Decode a .mid capture written by `blendmidi run --record`"},
	{Title: "Exit", Description: "Exit the application"},
}

// EventsMsg carries the events of one decoded block
type EventsMsg struct {
	Port   int
	Result codec.Result
}

// HaltedMsg reports that the stream stopped
type HaltedMsg struct {
	Err error
}

// captureMsg signals that a capture file was decoded
type captureMsg struct {
	path   string
	result codec.Result
	err    error
}

// Model represents the TUI model
type Model struct {
	state      State
	menuIndex  int
	filePicker filepicker.Model
	spinner    spinner.Model
	feed       <-chan tea.Msg

	source string
	lines  []string
	meters [codec.NumChannels]float64
	active [codec.NumChannels]bool
	filter uint8 // 0 shows every channel
	paused bool
	events int
	warns  int
	halted error
	err    error
	width  int
	height int
}

// New creates a model. feed delivers EventsMsg and HaltedMsg from a live
// stream and may be nil when no device is open.
func New(feed <-chan tea.Msg) Model {
	fp := filepicker.New()
	fp.AllowedTypes = []string{".mid", ".midi"}
	fp.CurrentDirectory, _ = os.Getwd()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(blenderOrange)

	return Model{
		state:      StateMenu,
		filePicker: fp,
		spinner:    s,
		feed:       feed,
	}
}

// Forwarder returns an engine.EventHandler that hands results to the TUI
// without blocking the processing loop. Results are dropped when ch is full.
func Forwarder(ch chan<- tea.Msg) engine.EventHandler {
	return func(port int, res codec.Result) {
		select {
		case ch <- EventsMsg{Port: port, Result: res}:
		default:
		}
	}
}

// listen waits for the next message of the live feed
func listen(feed <-chan tea.Msg) tea.Cmd {
	if feed == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-feed
		if !ok {
			return HaltedMsg{}
		}
		return msg
	}
}

// Init initializes the TUI model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, listen(m.feed))
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Live traffic is consumed in every state so the feed never backs up
	switch msg := msg.(type) {
	case EventsMsg:
		if m.state == StateMonitor && m.source == "live" && !m.paused {
			m.ingest(msg.Port, msg.Result)
		}
		return m, listen(m.feed)
	case HaltedMsg:
		m.halted = msg.Err
		if m.halted == nil {
			m.halted = errors.New("stream stopped")
		}
		return m, nil
	}

	// File picker needs to receive all remaining messages
	if m.state == StateFilePicker {
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "esc":
				m.state = StateMenu
				return m, nil
			case "q", "ctrl+c":
				return m, tea.Quit
			}
		}

		var cmd tea.Cmd
		m.filePicker, cmd = m.filePicker.Update(msg)

		if didSelect, path := m.filePicker.DidSelectFile(msg); didSelect {
			m.reset("file")
			m.state = StateMonitor
			return m, decodeCapture(path)
		}
		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filePicker.SetHeight(msg.Height - 10)
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case StateMenu:
			return m.updateMenu(msg)
		case StateMonitor:
			return m.updateMonitor(msg)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case captureMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.source = filepath.Base(msg.path)
		m.ingest(0, msg.result)
		return m, nil
	}

	return m, nil
}

func (m Model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.menuIndex > 0 {
			m.menuIndex--
		}
	case "down", "j":
		if m.menuIndex < len(menuItems)-1 {
			m.menuIndex++
		}
	case "enter":
		switch m.menuIndex {
		case 0:
			m.reset("live")
			if m.feed == nil {
				m.err = engine.ErrNoDevice
			}
			m.state = StateMonitor
			return m, nil
		case 1:
			m.state = StateFilePicker
			return m, m.filePicker.Init()
		default:
			return m, tea.Quit
		}
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateMonitor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.state = StateMenu
		return m, nil
	case "left", "h":
		if m.filter > 0 {
			m.filter--
		}
	case "right", "l":
		if m.filter < codec.NumChannels {
			m.filter++
		}
	case "p", " ":
		m.paused = !m.paused
	case "c":
		m.reset(m.source)
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) reset(source string) {
	m.source = source
	m.lines = nil
	m.meters = [codec.NumChannels]float64{}
	m.active = [codec.NumChannels]bool{}
	m.events = 0
	m.warns = 0
	m.paused = false
	m.err = nil
}

// ingest appends a decoded block to the scrollback and updates the meters
func (m *Model) ingest(port int, res codec.Result) {
	for ch := uint8(1); ch <= codec.NumChannels; ch++ {
		for _, ev := range res.Events.For(ch) {
			m.events++
			m.active[ch-1] = true
			if ev.Kind != codec.KindNoteOff && ev.Kind != codec.KindSysExBoundary {
				m.meters[ch-1] = ev.Value
			}
			m.push(fmt.Sprintf("p%d %s", port, ev))
		}
	}
	for _, c := range res.Conditions {
		m.warns++
		m.push(warnStyle.Render(fmt.Sprintf("p%d ! %s: %s", port, c.Kind, c.Error())))
	}
}

func (m *Model) push(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > MaxLines {
		m.lines = m.lines[len(m.lines)-MaxLines:]
	}
}

func decodeCapture(path string) tea.Cmd {
	return func() tea.Msg {
		frames, err := engine.LoadCapture(path)
		if err != nil {
			return captureMsg{err: err}
		}
		dec := codec.NewDecoder(discardLogger(), nil)
		res, err := dec.Decode(frames)
		if err != nil && !errors.Is(err, codec.ErrFatalShutdown) {
			return captureMsg{err: err}
		}
		return captureMsg{path: path, result: res}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// View renders the TUI
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(asciiLogo())
	s.WriteString("\n")

	switch m.state {
	case StateMenu:
		s.WriteString(m.viewMenu())
	case StateFilePicker:
		s.WriteString(m.viewFilePicker())
	case StateMonitor:
		s.WriteString(m.viewMonitor())
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render(m.help()))

	return s.String()
}

func (m Model) help() string {
	if m.state == StateMonitor {
		return "←/→: channel • p: pause • c: clear • esc: menu • q: quit"
	}
	return "↑/↓: navigate • enter: select • q: quit"
}

func (m Model) viewMenu() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" BLENDMIDI "))
	s.WriteString("\n\n")

	for i, item := range menuItems {
		if i == m.menuIndex {
			s.WriteString(selectedStyle.Render(fmt.Sprintf("▸ %s", item.Title)))
			s.WriteString("\n")
			s.WriteString(lipgloss.NewStyle().Foreground(blenderBlue).PaddingLeft(4).Render(item.Description))
		} else {
			s.WriteString(menuStyle.Render(fmt.Sprintf("  %s", item.Title)))
		}
		s.WriteString("\n")
	}

	return boxStyle.Render(s.String())
}

func (m Model) viewFilePicker() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" SELECT CAPTURE FILE "))
	s.WriteString("\n\n")
	s.WriteString(m.filePicker.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("esc: back to menu"))

	return s.String()
}

func (m Model) viewMonitor() string {
	var s strings.Builder

	title := " MONITOR "
	if m.source != "" && m.source != "live" {
		title = fmt.Sprintf(" %s ", strings.ToUpper(m.source))
	}
	s.WriteString(titleStyle.Render(title))
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s", m.err.Error())))
		return boxStyle.Render(s.String())
	}

	for ch := 1; ch <= codec.NumChannels; ch++ {
		if !m.active[ch-1] {
			continue
		}
		if m.filter != 0 && int(m.filter) != ch {
			continue
		}
		fmt.Fprintf(&s, "ch%-2d %s %.4f\n", ch, meter(m.meters[ch-1]), m.meters[ch-1])
	}

	visible := m.visibleLines()
	if len(visible) == 0 && m.events == 0 && m.warns == 0 {
		fmt.Fprintf(&s, "%s Waiting for MIDI...\n", m.spinner.View())
	}
	for _, l := range visible {
		s.WriteString(l)
		s.WriteString("\n")
	}

	status := fmt.Sprintf("events: %d  conditions: %d", m.events, m.warns)
	if m.filter != 0 {
		status += fmt.Sprintf("  channel: %d", m.filter)
	}
	if m.paused {
		status += "  [paused]"
	}
	s.WriteString(statusStyle.Render(status))

	if m.halted != nil && m.source == "live" {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s", m.halted.Error())))
	}

	return boxStyle.Render(s.String())
}

// visibleLines returns the tail of the scrollback that fits the window
func (m Model) visibleLines() []string {
	lines := m.lines
	if m.filter != 0 {
		prefix := fmt.Sprintf(" ch%d ", m.filter)
		filtered := make([]string, 0, len(lines))
		for _, l := range lines {
			if strings.Contains(l, prefix) {
				filtered = append(filtered, l)
			}
		}
		lines = filtered
	}
	limit := 15
	if m.height > 0 {
		limit = m.height - 16 - codec.NumChannels
		if limit < 5 {
			limit = 5
		}
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}

func meter(v float64) string {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	n := int(v*meterWidth + 0.5)
	return lipgloss.NewStyle().Foreground(blenderOrange).Render(strings.Repeat("█", n)) +
		lipgloss.NewStyle().Foreground(darkGray).Render(strings.Repeat("░", meterWidth-n))
}

func asciiLogo() string {
	logo := `
   ___ _             _ __  __ ___ ___ ___
  | _ ) |___ _ _  __| |  \/  |_ _|   \_ _|
  | _ \ / -_) ' \/ _' | |\/| || || |) | |
  |___/_\___|_||_\__,_|_|  |_|___|___/___|
`
	return lipgloss.NewStyle().Foreground(blenderOrange).Render(logo)
}

// Run starts the TUI application
func Run(feed <-chan tea.Msg) error {
	p := tea.NewProgram(New(feed), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
