// Package chatview is the interactive terminal client: an input line below a
// viewport that shows the conversation, with replies streamed in as the relay
// sends them.
package chatview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	glamourstyles "github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/germanamz/chatrelay/pkg/engine"
)

const defaultWidth = 80

var (
	userStyle   = lipgloss.NewStyle().Bold(true)
	modelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Faint(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// Relay is the client side of a relay connection. Receive returns io.EOF
// once the relay closed the connection normally.
type Relay interface {
	Send(ctx context.Context, text string) error
	Receive(ctx context.Context) (string, error)
}

type (
	sentMsg     struct{}
	fragmentMsg string
	trailerMsg  string
	closedMsg   struct{ err error }
)

// Model is the bubbletea model of a chat with the relay. Only one message is
// in flight at a time; input is ignored until its trailer arrives.
type Model struct {
	ctx   context.Context
	relay Relay

	viewport viewport.Model
	input    textinput.Model
	renderer *glamour.TermRenderer
	darkBG   bool

	committed *strings.Builder // pointer: bubbletea copies the model
	reply     *strings.Builder

	streaming bool
	err       error
	width     int
}

// New returns a model chatting over relay. darkBG selects the markdown style
// and is detected once before the program starts.
func New(ctx context.Context, relay Relay, darkBG bool) Model {
	in := textinput.New()
	in.Prompt = "> "
	in.Placeholder = "Send a message (/quit to leave)"
	in.Focus()

	m := Model{
		ctx:       ctx,
		relay:     relay,
		viewport:  viewport.New(defaultWidth, 20),
		input:     in,
		darkBG:    darkBG,
		committed: &strings.Builder{},
		reply:     &strings.Builder{},
	}
	m.setWidth(defaultWidth)

	return m
}

// Err returns the error that ended the chat, or nil after a normal close.
func (m Model) Err() error { return m.err }

// Transcript returns the rendered conversation so far.
func (m Model) Transcript() string { return m.committed.String() + m.reply.String() }

// Streaming reports whether a reply is being received.
func (m Model) Streaming() bool { return m.streaming }

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.setWidth(msg.Width)
		m.viewport.Height = max(msg.Height-2, 1)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}

	case sentMsg:
		return m, m.next()

	case fragmentMsg:
		m.reply.WriteString(string(msg))
		m.refresh()
		return m, m.next()

	case trailerMsg:
		m.commitReply(string(msg))
		m.streaming = false
		m.refresh()
		return m, nil

	case closedMsg:
		m.streaming = false
		m.flushReply()
		if errors.Is(msg.err, io.EOF) {
			m.committed.WriteString("\n" + statusStyle.Render("relay closed the connection") + "\n")
		} else {
			m.err = msg.err
			m.committed.WriteString("\n" + statusStyle.Render(msg.err.Error()) + "\n")
		}
		m.refresh()
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	return m.viewport.View() + "\n" + m.input.View()
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	switch {
	case m.streaming, text == "":
		return m, nil
	case text == "/quit", text == "/exit":
		return m, tea.Quit
	}

	m.input.Reset()
	m.committed.WriteString("\n" + userStyle.Render("you: ") + text + "\n\n")
	m.streaming = true
	m.refresh()

	return m, m.send(text)
}

func (m Model) send(text string) tea.Cmd {
	return func() tea.Msg {
		if err := m.relay.Send(m.ctx, text); err != nil {
			return closedMsg{err: fmt.Errorf("chat: send: %w", err)}
		}
		return sentMsg{}
	}
}

// next reads one frame from the relay.
func (m Model) next() tea.Cmd {
	return func() tea.Msg {
		frame, err := m.relay.Receive(m.ctx)
		if err != nil {
			return closedMsg{err: err}
		}
		if model, ok := engine.ParseTrailer(frame); ok {
			return trailerMsg(model)
		}
		return fragmentMsg(frame)
	}
}

// commitReply replaces the streamed reply with its rendered markdown and the
// model that produced it.
func (m *Model) commitReply(model string) {
	m.committed.WriteString(m.renderMarkdown(m.reply.String()))
	m.committed.WriteString("\n" + modelStyle.Render("["+model+"]") + "\n")
	m.reply.Reset()
}

// flushReply keeps a partial reply as streamed.
func (m *Model) flushReply() {
	if m.reply.Len() == 0 {
		return
	}
	m.committed.WriteString(m.reply.String() + "\n")
	m.reply.Reset()
}

func (m *Model) renderMarkdown(text string) string {
	if m.renderer == nil || strings.TrimSpace(text) == "" {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

func (m *Model) setWidth(w int) {
	if w <= 0 {
		w = defaultWidth
	}
	m.viewport.Width = w
	m.input.Width = max(w-len(m.input.Prompt)-1, 1)

	if w == m.width && m.renderer != nil {
		return
	}
	m.width = w

	// glamour.WithAutoStyle queries the terminal, which races with bubbletea's
	// input reader.
	style := glamourstyles.LightStyleConfig
	if m.darkBG {
		style = glamourstyles.DarkStyleConfig
	}
	r, err := glamour.NewTermRenderer(glamour.WithStyles(style), glamour.WithWordWrap(w))
	if err != nil {
		return
	}
	m.renderer = r
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.Transcript())
	m.viewport.GotoBottom()
}
