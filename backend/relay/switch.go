package relay

import (
	"github.com/adwski/webrtc-meshrelay/backend/model"
)

// sendTo queues env for a single connection. Delivery is never awaited.
func (r *Relay) sendTo(connID string, env model.Envelope) bool {
	ep, ok := r.endpoints[connID]
	if !ok || ep.Closed() {
		r.logger.Debug().
			Str("dst", connID).
			Str("type", env.Type).
			Msg("cannot forward, dst not found")
		return false
	}
	if !ep.Send(env) {
		r.logger.Error().
			Str("dst", connID).
			Str("type", env.Type).
			Msg("dead endpoint, closing")
		ep.Close()
		return false
	}
	r.logger.Trace().
		Str("dst", connID).
		Str("type", env.Type).
		Msg("envelope is forwarded")
	return true
}

// broadcast queues env for every listed connection and returns number of successful sends.
func (r *Relay) broadcast(dst []string, env model.Envelope) int {
	var sent int
	for _, connID := range dst {
		if r.sendTo(connID, env) {
			sent++
		}
	}
	if sent == 0 && len(dst) > 0 {
		r.logger.Debug().
			Str("type", env.Type).
			Msg("broadcast did not reach anyone")
	}
	return sent
}

func (r *Relay) reject(connID string, code string, err error) {
	msg := err.Error()
	if code == model.CodeAuth {
		// never tell which part of the credential was wrong
		msg = model.ErrAuth.Error()
	}
	r.sendTo(connID, model.Envelope{
		Type:    model.EventError,
		Payload: model.ErrorPayload{Code: code, Message: msg},
	})
}
