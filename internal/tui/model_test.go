package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/docchat/internal/client"
)

type fakeAsker struct {
	questions []string
	err       error
}

func (f *fakeAsker) Ask(_ context.Context, sessionID, question string) (client.Answer, error) {
	f.questions = append(f.questions, sessionID+":"+question)
	if f.err != nil {
		return client.Answer{}, f.err
	}
	ans := client.Answer{Answer: "because " + question}
	ans.Debug.RetrievedCount = 2
	return ans, nil
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return next.(Model)
}

func press(t *testing.T, m Model, key tea.KeyType) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: key})
	return next.(Model), cmd
}

func newSizedModel(t *testing.T, asker Asker) Model {
	t.Helper()
	m := New(context.Background(), asker, "s1", "doc.pdf")
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func TestAskAndRenderAnswer(t *testing.T) {
	asker := &fakeAsker{}
	m := newSizedModel(t, asker)

	m = typeText(t, m, "why?")
	m, cmd := press(t, m, tea.KeyEnter)
	require.NotNil(t, cmd)
	assert.Empty(t, m.input.Value())
	assert.True(t, m.waiting())

	msg := cmd()
	require.IsType(t, answerMsg{}, msg)
	next, _ := m.Update(msg)
	m = next.(Model)

	assert.Equal(t, []string{"s1:why?"}, asker.questions)
	assert.False(t, m.waiting())
	assert.Contains(t, m.transcript(), "because why?")
	assert.Equal(t, "2 chunks retrieved", m.status)
	assert.Contains(t, m.View(), "doc.pdf")
}

func TestAskErrorIsShown(t *testing.T) {
	m := newSizedModel(t, &fakeAsker{err: errors.New("document not ready")})

	m = typeText(t, m, "anything")
	m, cmd := press(t, m, tea.KeyEnter)
	next, _ := m.Update(cmd())
	m = next.(Model)

	assert.Contains(t, m.transcript(), "document not ready")
	assert.Contains(t, m.status, "Error")
}

func TestQuitWords(t *testing.T) {
	for _, word := range []string{"q", "exit", "EXIT"} {
		t.Run(word, func(t *testing.T) {
			asker := &fakeAsker{}
			m := newSizedModel(t, asker)
			m = typeText(t, m, word)
			_, cmd := press(t, m, tea.KeyEnter)
			require.NotNil(t, cmd)
			assert.Equal(t, tea.QuitMsg{}, cmd())
			assert.Empty(t, asker.questions)
		})
	}
}

func TestBlankInputIsIgnored(t *testing.T) {
	m := newSizedModel(t, &fakeAsker{})
	m = typeText(t, m, "   ")
	m, cmd := press(t, m, tea.KeyEnter)
	assert.Nil(t, cmd)
	assert.Empty(t, m.turns)
}

func TestOneQuestionAtATime(t *testing.T) {
	asker := &fakeAsker{}
	m := newSizedModel(t, asker)

	m = typeText(t, m, "first")
	m, _ = press(t, m, tea.KeyEnter)
	m = typeText(t, m, "second")
	m, cmd := press(t, m, tea.KeyEnter)

	assert.Nil(t, cmd)
	assert.Len(t, m.turns, 1)
	assert.Equal(t, "second", m.input.Value())
}
