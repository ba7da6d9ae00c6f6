package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/coder/websocket"
	"github.com/germanamz/chatrelay/cmd/chatrelay/internal/chatview"
	"github.com/germanamz/chatrelay/pkg/engine"
	"golang.org/x/term"
)

var (
	modelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Faint(true) // dim
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))             // red
)

// lineReader yields one user message per call. io.EOF ends the chat.
type lineReader interface {
	ReadLine() (string, error)
}

type scanReader struct{ s *bufio.Scanner }

func (r scanReader) ReadLine() (string, error) {
	if r.s.Scan() {
		return r.s.Text(), nil
	}
	if err := r.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// wsURL turns a host:port into the relay's WebSocket URL.
func wsURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "ws://" + strings.TrimSuffix(addr, "/") + "/ws"
}

// runChat connects to a relay and opens the interactive chat view on the
// controlling terminal, or sends one message per input line when stdin is not
// a terminal.
func runChat(addr string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(addr), nil)
	if err != nil {
		return fmt.Errorf("chat: dial %s: %w", addr, err)
	}
	defer func() { _ = c.CloseNow() }()

	fd := int(os.Stdin.Fd()) //nolint:gosec // file descriptors fit in int
	if term.IsTerminal(fd) {
		err = runChatView(ctx, c)
	} else {
		err = chat(ctx, c, scanReader{s: bufio.NewScanner(os.Stdin)}, os.Stdout)
	}
	if err == nil {
		_ = c.Close(websocket.StatusNormalClosure, "")
	}
	return err
}

func runChatView(ctx context.Context, c *websocket.Conn) error {
	// Detected before the program starts so the renderer never queries the
	// terminal while bubbletea owns stdin.
	dark := lipgloss.HasDarkBackground()

	p := tea.NewProgram(chatview.New(ctx, wsRelay{c: c}, dark), tea.WithContext(ctx), tea.WithAltScreen())
	final, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}

	if m, ok := final.(chatview.Model); ok {
		return m.Err()
	}
	return nil
}

// wsRelay adapts a client WebSocket to chatview.Relay.
type wsRelay struct{ c *websocket.Conn }

func (r wsRelay) Send(ctx context.Context, text string) error {
	return r.c.Write(ctx, websocket.MessageText, []byte(text))
}

func (r wsRelay) Receive(ctx context.Context) (string, error) {
	for {
		typ, data, err := r.c.Read(ctx)
		if err != nil {
			return "", closeErr(err)
		}
		if typ == websocket.MessageText {
			return string(data), nil
		}
	}
}

// closeErr maps a normal closure to io.EOF.
func closeErr(err error) error {
	switch status := websocket.CloseStatus(err); status {
	case -1:
		return fmt.Errorf("chat: receive: %w", err)
	case websocket.StatusNormalClosure:
		return io.EOF
	default:
		return fmt.Errorf("chat: connection closed: %s", status)
	}
}

// chat sends each input line and prints the streamed reply. The next line
// is read only after the reply's trailer arrived.
func chat(ctx context.Context, c *websocket.Conn, in lineReader, out io.Writer) error {
	for {
		line, err := in.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("chat: read input: %w", err)
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		if err := c.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
			return fmt.Errorf("chat: send: %w", err)
		}

		if err := readReply(ctx, c, out); err != nil {
			return err
		}
	}
}

// readReply prints fragments until the trailer.
func readReply(ctx context.Context, c *websocket.Conn, out io.Writer) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				fmt.Fprintln(out, "\n"+statusStyle.Render(fmt.Sprintf("relay closed the connection (%d)", status)))
				if status == websocket.StatusNormalClosure {
					return nil
				}
				return fmt.Errorf("chat: connection closed: %s", status)
			}
			return fmt.Errorf("chat: receive: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}

		if model, ok := engine.ParseTrailer(string(data)); ok {
			fmt.Fprintln(out, "\n"+modelStyle.Render("["+model+"]"))
			return nil
		}

		_, _ = out.Write(data)
	}
}
