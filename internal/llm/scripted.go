package llm

import (
	"context"
	"sync"
)

// Scripted replays canned responses in order and records every request.
// Once the script runs out it returns Fallback.
type Scripted struct {
	Fallback Response

	mu        sync.Mutex
	responses []Response
	requests  []Request
}

// NewScripted returns a provider that answers with responses in order.
func NewScripted(responses ...Response) *Scripted {
	return &Scripted{responses: responses, Fallback: Response{Text: "done"}}
}

// Push appends more responses to the script.
func (s *Scripted) Push(responses ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, responses...)
}

// Invoke returns the next scripted response.
func (s *Scripted) Invoke(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return s.Fallback, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

// Requests returns a copy of every request seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Remaining reports how many scripted responses are left.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}
