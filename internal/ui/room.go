package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BioHazard786/syncwave/internal/peer"
	"github.com/BioHazard786/syncwave/internal/utils"
)

const (
	maxLines   = 200
	queueDepth = 256
)

type (
	statusMsg string
	lineMsg   string
	chatMsg   struct{ from, text string }
	titleMsg  string
	peersMsg  []peer.PeerInfo
	quitMsg   struct{}
)

// roomModel is the interactive room: a scrolling log, the latest status
// and a prompt. Each status replaces the previous one.
type roomModel struct {
	title   string
	input   textinput.Model
	spinner spinner.Model
	status  string
	lines   []string
	peers   []peer.PeerInfo
	submit  func(string)
	height  int
}

func newRoomModel(title string, submit func(string)) roomModel {
	in := textinput.New()
	in.Placeholder = "message, /download <url>, /share <file>, /play, /peers, /quit"
	in.CharLimit = 2048
	in.Prompt = "› "
	in.Focus()

	return roomModel{
		title:   title,
		input:   in,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(SpinnerStyle)),
		status:  "Waiting for peers...",
		submit:  submit,
	}
}

func (m roomModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" || m.submit == nil {
				return m, nil
			}
			submit := m.submit
			return m, func() tea.Msg {
				submit(line)
				return nil
			}
		}

	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case lineMsg:
		m.appendLine(string(msg))
		return m, nil

	case chatMsg:
		m.appendLine(fmt.Sprintf("%s %s", PeerNameStyle.Render(utils.TruncateString(msg.from, 8)+":"), msg.text))
		return m, nil

	case titleMsg:
		m.title = string(msg)
		return m, nil

	case peersMsg:
		m.peers = msg
		return m, nil

	case quitMsg:
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *roomModel) appendLine(s string) {
	m.lines = append(m.lines, strings.Split(s, "\n")...)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
}

func (m roomModel) connected() int {
	n := 0
	for _, p := range m.peers {
		if p.Registered {
			n++
		}
	}
	return n
}

func (m roomModel) View() string {
	header := HeaderStyle.Render(fmt.Sprintf("%s %s  %s %d", IconMusic, m.title, IconPeer, m.connected()))

	lines := m.lines
	if m.height > 0 {
		// header, status, prompt and footer take roughly seven rows
		if room := m.height - 7; room > 0 && len(lines) > room {
			lines = lines[len(lines)-room:]
		}
	}

	status := StatusStyle.Render(m.status)
	if m.status == "" || strings.HasSuffix(m.status, "...") {
		status = m.spinner.View() + " " + status
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		strings.Join(lines, "\n"),
		"",
		status,
		m.input.View(),
		FooterStyle.Render("enter to send • esc to leave"),
	)
}

// RoomScreen runs the room model and doubles as the node's observer.
// Updates are queued so observer calls never wait on the terminal.
type RoomScreen struct {
	program *tea.Program
	queue   chan tea.Msg
	done    chan struct{}
}

func NewRoomScreen(title string, submit func(string)) *RoomScreen {
	s := &RoomScreen{
		program: tea.NewProgram(newRoomModel(title, submit)),
		queue:   make(chan tea.Msg, queueDepth),
		done:    make(chan struct{}),
	}
	go s.forward()
	return s
}

func (s *RoomScreen) forward() {
	for {
		select {
		case msg := <-s.queue:
			s.program.Send(msg)
		case <-s.done:
			return
		}
	}
}

func (s *RoomScreen) send(msg tea.Msg) {
	select {
	case s.queue <- msg:
	default:
	}
}

// Run blocks until the user leaves or Quit is called.
func (s *RoomScreen) Run() error {
	defer close(s.done)
	_, err := s.program.Run()
	return err
}

func (s *RoomScreen) Status(text string) { s.send(statusMsg(text)) }

func (s *RoomScreen) Chat(from, text string) { s.send(chatMsg{from, text}) }

func (s *RoomScreen) PeersChanged(peers []peer.PeerInfo) { s.send(peersMsg(peers)) }

func (s *RoomScreen) SetTitle(title string) { s.send(titleMsg(title)) }

// Println adds a line to the log.
func (s *RoomScreen) Println(text string) { s.send(lineMsg(text)) }

// Say echoes the local user's chat line.
func (s *RoomScreen) Say(text string) {
	s.send(lineMsg(SelfNameStyle.Render("you:") + " " + text))
}

func (s *RoomScreen) Quit() { s.send(quitMsg{}) }
