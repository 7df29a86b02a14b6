// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahrav/go-t2ieval/internal/domain"
	"github.com/ahrav/go-t2ieval/internal/llm"
)

// ReplyFunc answers one recorded call. i counts calls from 0.
type ReplyFunc func(i int, req llm.ChatRequest) (string, error)

// Scripted is an llm.Client that records every call and replies from a
// script. It is safe for concurrent use.
type Scripted struct {
	mu    sync.Mutex
	calls []llm.ChatRequest
	reply ReplyFunc
}

// New replies with the given texts in order and fails once they run out.
func New(replies ...string) *Scripted {
	return NewFunc(func(i int, _ llm.ChatRequest) (string, error) {
		if i >= len(replies) {
			return "", fmt.Errorf("llmtest: unexpected call %d", i)
		}
		return replies[i], nil
	})
}

// NewFunc replies through f.
func NewFunc(f ReplyFunc) *Scripted {
	return &Scripted{reply: f}
}

// Chat implements llm.Client.
func (s *Scripted) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	i := len(s.calls)
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	text, err := s.reply(i, req)
	if err != nil {
		return nil, err
	}

	user := domain.Turn{Role: domain.RoleUser, Text: req.Prompt}
	if req.TargetImage != "" && len(req.History) == 0 {
		user.Images = []string{req.TargetImage}
	}
	history := append(append([]domain.Turn(nil), req.History...), user, domain.Turn{Role: domain.RoleAssistant, Text: text})
	return &llm.ChatResponse{Text: text, History: history}, nil
}

// Calls returns a copy of the recorded requests.
func (s *Scripted) Calls() []llm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.ChatRequest(nil), s.calls...)
}

// Len is the number of calls made so far.
func (s *Scripted) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
