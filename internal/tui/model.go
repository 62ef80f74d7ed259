package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"studybuddy/internal/domain"
	"studybuddy/internal/service"
)

// ChatPort is the TUI-facing subset of the RAG service.
type ChatPort interface {
	ChatStream(ctx context.Context, req service.ChatRequest) (<-chan domain.StreamEvent, error)
}

// Options scopes every question asked from the TUI.
type Options struct {
	Collection string
	DocumentID string
	NResults   int
}

type entry struct {
	role    domain.Role
	content string
	sources []domain.Source
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	service  ChatPort
	opts     Options
	input    textinput.Model
	viewport viewport.Model

	transcript []entry
	history    []domain.ConversationTurn
	events     <-chan domain.StreamEvent
	cancel     context.CancelFunc
	streaming  bool

	status string
	ready  bool
}

type streamStartedMsg struct {
	events <-chan domain.StreamEvent
	cancel context.CancelFunc
}

type streamEventMsg struct {
	event domain.StreamEvent
	ok    bool
}

type streamFailedMsg struct{ err error }

// New creates a new TUI model instance.
func New(svc ChatPort, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your documents and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	status := "Ready. Esc stops an answer, Ctrl+C quits."
	if opts.DocumentID != "" {
		status = fmt.Sprintf("Scoped to document %s. %s", opts.DocumentID, status)
	}
	return Model{service: svc, opts: opts, input: ti, viewport: vp, status: status}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and stream events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.streaming && m.cancel != nil {
				m.cancel()
				m.status = "Answer stopped."
			}
			return m, nil
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.streaming {
				return m, nil
			}
			m.input.SetValue("")
			m.transcript = append(m.transcript, entry{role: domain.RoleUser, content: q}, entry{role: domain.RoleAssistant})
			m.streaming = true
			m.status = "Thinking..."
			m.refresh()
			return m, m.ask(q)
		}

	case streamStartedMsg:
		m.events, m.cancel = msg.events, msg.cancel
		return m, waitForEvent(m.events)

	case streamFailedMsg:
		m.streaming = false
		m.status = "Error: " + msg.err.Error()
		m.dropPendingAnswer()
		m.refresh()
		return m, nil

	case streamEventMsg:
		return m.handleEvent(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleEvent(msg streamEventMsg) (tea.Model, tea.Cmd) {
	if !msg.ok {
		// closed without a final event: cancelled
		m.finishStream()
		if m.status == "Thinking..." {
			m.status = "Answer stopped."
		}
		m.refresh()
		return m, nil
	}
	last := &m.transcript[len(m.transcript)-1]
	switch msg.event.Type {
	case domain.EventContent:
		last.content += msg.event.Content
		m.refresh()
		return m, waitForEvent(m.events)
	case domain.EventSources:
		last.sources = msg.event.Sources
		question := m.transcript[len(m.transcript)-2].content
		m.history = append(m.history,
			domain.ConversationTurn{Role: domain.RoleUser, Content: question},
			domain.ConversationTurn{Role: domain.RoleAssistant, Content: last.content})
		m.status = fmt.Sprintf("Answered from %d passages.", msg.event.ContextUsed)
	case domain.EventError:
		m.status = "Error: " + msg.event.Err.Error()
	}
	m.finishStream()
	m.refresh()
	return m, nil
}

// ask starts a stream. The history passed excludes the question being asked.
func (m Model) ask(question string) tea.Cmd {
	svc := m.service
	req := service.ChatRequest{
		Query:      question,
		Collection: m.opts.Collection,
		DocumentID: m.opts.DocumentID,
		NResults:   m.opts.NResults,
		History:    append([]domain.ConversationTurn(nil), m.history...),
	}
	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())
		events, err := svc.ChatStream(ctx, req)
		if err != nil {
			cancel()
			return streamFailedMsg{err: err}
		}
		return streamStartedMsg{events: events, cancel: cancel}
	}
}

func waitForEvent(events <-chan domain.StreamEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		return streamEventMsg{event: ev, ok: ok}
	}
}

func (m *Model) finishStream() {
	if m.cancel != nil {
		m.cancel()
	}
	m.streaming, m.events, m.cancel = false, nil, nil
}

func (m *Model) dropPendingAnswer() {
	if n := len(m.transcript); n > 0 && m.transcript[n-1].role == domain.RoleAssistant && m.transcript[n-1].content == "" {
		m.transcript = m.transcript[:n-1]
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Study Buddy")
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + transcript + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 {
		return "No questions yet."
	}
	var b strings.Builder
	for i, e := range m.transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch e.role {
		case domain.RoleUser:
			b.WriteString(userStyle.Render("You: "))
			b.WriteString(e.content)
		default:
			b.WriteString(assistantStyle.Render("Assistant: "))
			b.WriteString(e.content)
			if len(e.sources) > 0 {
				b.WriteString("\n")
				b.WriteString(sourceStyle.Render(formatSources(e.sources)))
			}
		}
	}
	return b.String()
}

func formatSources(sources []domain.Source) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = fmt.Sprintf("%s p.%d (%.2f)", s.Filename, s.PageNumber, s.Similarity)
	}
	return "Sources: " + strings.Join(parts, ", ")
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)
