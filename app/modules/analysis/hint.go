package analysis

import (
	"context"
	"net/http"
	"net/url"
	"sync"
)

type httpHintSession struct {
	client *Client
	id     string

	mu     sync.Mutex
	closed bool
}

func (s *httpHintSession) Next(ctx context.Context, prompt string) (HintReply, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return HintReply{}, ErrHintSessionClosed
	}

	req := struct {
		Prompt string `json:"prompt"`
	}{prompt}
	var reply HintReply
	err := s.client.do(ctx, http.MethodPost, "/v1/hint/sessions/"+url.PathEscape(s.id)+"/messages", req, &reply)
	return reply, err
}

// Close releases the provider-side conversation. Calling it again is a no-op.
func (s *httpHintSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.client.do(ctx, http.MethodDelete, "/v1/hint/sessions/"+url.PathEscape(s.id), nil, nil)
}
