package websocket

import (
	"sync"

	"github.com/adwski/webrtc-meshrelay/backend/model"
)

// session is the relay endpoint of a single websocket connection.
type session struct {
	tx      chan model.Envelope
	closing chan struct{}
	once    sync.Once
}

func newSession(queueSize int) *session {
	return &session{
		tx:      make(chan model.Envelope, queueSize),
		closing: make(chan struct{}),
	}
}

// Send queues env without blocking.
func (s *session) Send(env model.Envelope) bool {
	select {
	case <-s.closing:
		return false
	default:
	}
	select {
	case s.tx <- env:
		return true
	default:
		return false
	}
}

// Close asks the sender to flush queued envelopes and hang up. Safe to call many times.
func (s *session) Close() {
	s.once.Do(func() { close(s.closing) })
}

func (s *session) Closed() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *session) reject(code, msg string) {
	s.Send(model.Envelope{
		Type:    model.EventError,
		Payload: model.ErrorPayload{Code: code, Message: msg},
	})
}
