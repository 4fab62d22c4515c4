package mcp

import (
	"context"

	"github.com/bull/drugbot/internal/drugbot"
	"github.com/bull/drugbot/internal/session"
)

type mockCore struct {
	answer    *drugbot.Answer
	answerErr error
	stats     session.Stats
	recent    []string
	history   []session.Message
	histErr   error
	clear     session.ClearResult
	clearErr  error

	clearedID  string
	clearCalls int
}

func (m *mockCore) Answer(_ context.Context, _, _ string) (*drugbot.Answer, error) {
	return m.answer, m.answerErr
}

func (m *mockCore) Stats() session.Stats { return m.stats }

func (m *mockCore) RecentQuestions() []string { return m.recent }

func (m *mockCore) History(_ context.Context, _ string) ([]session.Message, error) {
	return m.history, m.histErr
}

func (m *mockCore) ClearHistory(_ context.Context, id string) (session.ClearResult, error) {
	m.clearCalls++
	m.clearedID = id
	return m.clear, m.clearErr
}

type mockChecker struct{ err error }

func (m mockChecker) Health(context.Context) error { return m.err }
