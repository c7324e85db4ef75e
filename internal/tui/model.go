// Package tui is the interactive chat screen of the docchat CLI. It keeps a
// transcript of one session in a scrollable viewport above a single-line
// prompt; typing "q" or "exit" leaves the chat.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dharsanguruparan/docchat/internal/client"
)

// Asker is the part of the client the chat screen needs.
type Asker interface {
	Ask(ctx context.Context, sessionID, question string) (client.Answer, error)
}

type turn struct {
	question string
	answer   string
	err      error
	pending  bool
}

// answerMsg carries the result of an Ask back into Update.
type answerMsg struct {
	answer client.Answer
	err    error
}

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	ctx       context.Context
	asker     Asker
	sessionID string
	title     string
	input     textinput.Model
	viewport  viewport.Model
	turns     []turn
	status    string
	ready     bool
}

// New returns a chat bound to sessionID. title is shown in the header,
// typically the document's filename.
func New(ctx context.Context, asker Asker, sessionID, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, or q to quit"
	ti.Focus()
	return Model{
		ctx:       ctx,
		asker:     asker,
		sessionID: sessionID,
		title:     title,
		input:     ti,
		viewport:  viewport.New(80, 20),
		status:    "Session " + sessionID,
	}
}

// Init starts the cursor blinking.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key presses, window resizes and finished answers.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, frame := transcriptStyle.GetFrameSize()
		// header, input box (3 lines with border) and status line
		reserved := 1 + 3 + 1 + frame
		m.viewport.Width = max(20, msg.Width-frame)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.refresh()
		return m, nil
	case answerMsg:
		if len(m.turns) == 0 {
			return m, nil
		}
		last := &m.turns[len(m.turns)-1]
		last.pending = false
		if msg.err != nil {
			last.err = msg.err
			m.status = "Error: " + msg.err.Error()
		} else {
			last.answer = msg.answer.Answer
			m.status = fmt.Sprintf("%d chunks retrieved", msg.answer.Debug.RetrievedCount)
			if msg.answer.Debug.KeywordFallback {
				m.status += " (keyword fallback)"
			}
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			return m.submit()
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	question := strings.TrimSpace(m.input.Value())
	switch {
	case question == "":
		return m, nil
	case question == "q" || strings.EqualFold(question, "exit"):
		return m, tea.Quit
	case m.waiting():
		m.status = "Still answering the previous question"
		return m, nil
	}
	m.input.Reset()
	m.turns = append(m.turns, turn{question: question, pending: true})
	m.status = "Thinking..."
	m.refresh()
	return m, m.ask(question)
}

func (m Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		ans, err := m.asker.Ask(m.ctx, m.sessionID, question)
		return answerMsg{answer: ans, err: err}
	}
}

func (m Model) waiting() bool {
	return len(m.turns) > 0 && m.turns[len(m.turns)-1].pending
}

// refresh re-renders the transcript and keeps the newest turn in view.
func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m Model) transcript() string {
	if len(m.turns) == 0 {
		return hintStyle.Render("No questions yet.")
	}
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("You: ") + t.question + "\n")
		switch {
		case t.pending:
			b.WriteString(hintStyle.Render("..."))
		case t.err != nil:
			b.WriteString(errorStyle.Render("Error: " + t.err.Error()))
		default:
			b.WriteString(answerStyle.Render("Assistant: ") + t.answer)
		}
	}
	return b.String()
}

// View renders the header, transcript, prompt and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("DocChat · " + m.title)
	return header + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(m.status)
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	hintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	questionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	answerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
