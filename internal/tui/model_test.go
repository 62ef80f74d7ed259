package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/domain"
	"studybuddy/internal/service"
)

type fakeChat struct {
	events []domain.StreamEvent
	err    error
	reqs   []service.ChatRequest
}

func (f *fakeChat) ChatStream(_ context.Context, req service.ChatRequest) (<-chan domain.StreamEvent, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan domain.StreamEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// drive runs commands until the model stops producing them.
func drive(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	for i := 0; cmd != nil && i < 100; i++ {
		next, c := m.Update(cmd())
		m = next.(Model)
		cmd = c
	}
	return m
}

func ask(t *testing.T, m Model, question string) Model {
	t.Helper()
	m.input.SetValue(question)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.True(t, m.streaming)
	require.NotNil(t, cmd)
	return drive(t, m, cmd)
}

func TestChat_StreamsAnswerAndKeepsHistory(t *testing.T) {
	chat := &fakeChat{events: []domain.StreamEvent{
		{Type: domain.EventContent, Content: "Ribosomes "},
		{Type: domain.EventContent, Content: "build proteins."},
		{Type: domain.EventSources, Sources: []domain.Source{{Filename: "bio.pdf", PageNumber: 2, Similarity: 0.81}}, ContextUsed: 1},
	}}
	m := New(chat, Options{Collection: "documents", NResults: 5})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m = next.(Model)

	m = ask(t, m, "What do ribosomes build?")
	assert.False(t, m.streaming)
	require.Len(t, m.transcript, 2)
	assert.Equal(t, "Ribosomes build proteins.", m.transcript[1].content)
	assert.Len(t, m.transcript[1].sources, 1)
	assert.Equal(t, "Answered from 1 passages.", m.status)
	assert.Contains(t, m.renderTranscript(), "bio.pdf p.2 (0.81)")

	m = ask(t, m, "And where?")
	require.Len(t, chat.reqs, 2)
	assert.Empty(t, chat.reqs[0].History)
	require.Len(t, chat.reqs[1].History, 2)
	assert.Equal(t, domain.RoleUser, chat.reqs[1].History[0].Role)
	assert.Equal(t, "What do ribosomes build?", chat.reqs[1].History[0].Content)
	assert.Equal(t, "Ribosomes build proteins.", chat.reqs[1].History[1].Content)
	assert.Equal(t, "documents", chat.reqs[1].Collection)
	assert.Len(t, m.history, 4)
}

func TestChat_ErrorEventLeavesHistoryUntouched(t *testing.T) {
	chat := &fakeChat{events: []domain.StreamEvent{
		{Type: domain.EventContent, Content: "partial"},
		{Type: domain.EventError, Err: errors.New("upstream closed")},
	}}
	m := ask(t, New(chat, Options{}), "question")
	assert.False(t, m.streaming)
	assert.Empty(t, m.history)
	assert.Equal(t, "Error: upstream closed", m.status)
}

func TestChat_StartFailureDropsPendingAnswer(t *testing.T) {
	chat := &fakeChat{err: errors.New("no index")}
	m := ask(t, New(chat, Options{}), "question")
	assert.False(t, m.streaming)
	require.Len(t, m.transcript, 1)
	assert.Equal(t, domain.RoleUser, m.transcript[0].role)
	assert.Equal(t, "Error: no index", m.status)
}

func TestChat_ClosedStreamCountsAsStopped(t *testing.T) {
	chat := &fakeChat{events: []domain.StreamEvent{{Type: domain.EventContent, Content: "half"}}}
	m := ask(t, New(chat, Options{}), "question")
	assert.False(t, m.streaming)
	assert.Equal(t, "Answer stopped.", m.status)
	assert.Empty(t, m.history)
}

func TestChat_IgnoresBlankInput(t *testing.T) {
	m := New(&fakeChat{}, Options{})
	m.input.SetValue("   ")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, next.(Model).transcript)
}
