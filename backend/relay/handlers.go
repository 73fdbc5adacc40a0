package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adwski/webrtc-meshrelay/backend/model"
	"github.com/adwski/webrtc-meshrelay/backend/storage/memory"
	"github.com/adwski/webrtc-meshrelay/backend/validate"
)

func (r *Relay) dispatchTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		model.EventJoinRoom:            r.handleJoin,
		model.EventLeaveRoom:           r.handleLeave,
		model.EventCallOffer:           r.handleCallOffer,
		model.EventCallAnswer:          r.handleCallAnswer,
		model.EventToggleMedia:         r.handleToggle,
		model.EventSendChat:            r.handleChat,
		model.EventRequestParticipants: r.handleParticipants,
		model.EventModerateMute:        r.moderation(model.ActionMute),
		model.EventModerateVideo:       r.moderation(model.ActionDisableVideo),
		model.EventModerateKick:        r.moderation(model.ActionKick),
		model.EventLivenessPing:        r.handlePing,
		model.EventCheckUser:           r.handleCheckUser,
		model.EventHandRaise:           r.hand(model.EventHandRaised),
		model.EventHandLower:           r.hand(model.EventHandLowered),
	}
}

func (r *Relay) dispatch(connID string, req model.Request) {
	logger := r.logger.With().
		Str("connID", connID).
		Str("type", req.Type).
		Logger()

	if _, ok := r.endpoints[connID]; !ok {
		logger.Debug().Msg("message from unknown connection dropped")
		return
	}
	handle, ok := r.handlers[req.Type]
	if !ok {
		logger.Debug().Msg("unknown message type")
		r.reject(connID, model.CodeValidation, fmt.Errorf("%w: unknown message type", model.ErrValidation))
		return
	}
	logger.Trace().Msg("handling message")

	err := handle(connID, req.Payload)
	if err == nil {
		return
	}
	if code, surface := model.ErrorCode(err); surface {
		logger.Debug().Err(err).Msg("request rejected")
		r.reject(connID, code, err)
		return
	}
	// not-found and not-authorized stay invisible to the requester
	logger.Debug().Err(err).Msg("request dropped")
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload is missing", model.ErrValidation)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: malformed payload", model.ErrValidation)
	}
	return nil
}

func (r *Relay) connect(connID string, ep Endpoint) {
	if old, ok := r.endpoints[connID]; ok && old != ep {
		old.Close()
	}
	r.endpoints[connID] = ep
	r.dir.Registry().Register(connID)
	r.sendTo(connID, model.Envelope{
		Type:    model.EventConnected,
		Payload: model.ConnectedPayload{ConnID: connID},
	})
	r.logger.Debug().Str("connID", connID).Msg("connection registered")
}

func (r *Relay) disconnect(connID string) {
	delete(r.endpoints, connID)
	p, ok := r.dir.Registry().Get(connID)
	if !ok {
		return
	}
	if p.Joined() {
		r.leave(connID, p.RoomID)
	} else {
		r.dir.Registry().Remove(connID)
	}
	r.logger.Debug().Str("connID", connID).Msg("connection unregistered")
}

func (r *Relay) handleJoin(connID string, payload json.RawMessage) error {
	var pl model.JoinRoomPayload
	if err := decode(payload, &pl); err != nil {
		return err
	}
	res, err := r.dir.Join(connID, pl.RoomID, pl.DisplayName, pl.Password)
	if err != nil {
		if !errors.Is(err, memory.ErrPassword) {
			return err
		}
		r.logger.Error().Err(err).Str("roomID", pl.RoomID).Msg("failed to create private room")
		return fmt.Errorf("%w: password cannot be used", model.ErrValidation)
	}
	if res.Left != nil {
		r.announceLeave(res.Left)
	}

	p := res.Participant
	r.sendTo(connID, model.Envelope{
		Type:    model.EventExistingMembers,
		Payload: res.Existing,
	})
	r.broadcast(r.dir.MemberIDs(p.RoomID, connID), model.Envelope{
		Type:    model.EventUserJoined,
		Payload: model.PeerPayload{ConnID: connID, DisplayName: p.DisplayName},
	})
	if len(res.History) > 0 {
		r.sendTo(connID, model.Envelope{
			Type:    model.EventChatHistory,
			Payload: res.History,
		})
	}

	r.logger.Debug().
		Str("connID", connID).
		Str("roomID", p.RoomID).
		Bool("created", res.Created).
		Int("existing", len(res.Existing)).
		Msg("user joined room")
	return nil
}

func (r *Relay) handleLeave(connID string, payload json.RawMessage) error {
	var pl model.RoomPayload
	if err := decode(payload, &pl); err != nil {
		return err
	}
	if !r.leave(connID, pl.RoomID) {
		return model.ErrNotFound
	}
	return nil
}

// leave is shared by leave-room, disconnect, kick, the HTTP fallback and the sweeper.
func (r *Relay) leave(connID, roomID string) bool {
	res, ok := r.dir.Leave(connID, roomID)
	if !ok {
		return false
	}
	r.announceLeave(res)
	return true
}

func (r *Relay) announceLeave(res *memory.LeaveResult) {
	r.broadcast(res.Others, model.Envelope{
		Type:    model.EventUserLeft,
		Payload: model.PeerPayload{ConnID: res.ConnID, DisplayName: res.DisplayName},
	})
	r.logger.Debug().
		Str("connID", res.ConnID).
		Str("roomID", res.RoomID).
		Bool("roomDeleted", res.RoomDeleted).
		Msg("user left room")
}

// peers resolves sender and target of a call message, both must share a room.
func (r *Relay) peers(connID, targetID string) (*model.Participant, bool) {
	from, ok := r.dir.Registry().Get(connID)
	if !ok || !from.Joined() {
		return nil, false
	}
	if _, ok = r.dir.InRoom(targetID, from.RoomID); !ok {
		return nil, false
	}
	return from, true
}

func (r *Relay) handleCallOffer(connID string, payload json.RawMessage) error {
	var pl model.CallPayload
	if err := decode(payload, &pl); err != nil {
		return err
	}
	from, ok := r.peers(connID, pl.TargetConnID)
	if !ok {
		return model.ErrNotFound
	}
	r.sendTo(pl.TargetConnID, model.Envelope{
		Type: model.EventCallOffer,
		Payload: model.OfferPayload{
			From:         connID,
			DisplayName:  from.DisplayName,
			VideoEnabled: from.VideoEnabled,
			AudioEnabled: from.AudioEnabled,
			Signal:       pl.Signal,
		},
	})
	return nil
}

func (r *Relay) handleCallAnswer(connID string, payload json.RawMessage) error {
	var pl model.CallPayload
	if err := decode(payload, &pl); err != nil {
		return err
	}
	if _, ok := r.peers(connID, pl.TargetConnID); !ok {
		return model.ErrNotFound
	}
	r.sendTo(pl.TargetConnID, model.Envelope{
		Type:    model.EventCallAnswer,
		Payload: model.AnswerPayload{From: connID, Signal: pl.Signal},
	})
	return nil
}

func (r *Relay) handleToggle(connID string, payload json.RawMessage) error {
	var pl model.TogglePayload
	if err := decode(payload, &pl); err != nil {
		return err
	}
	enabled, err := r.dir.Toggle(connID, pl.RoomID, pl.Target)
	if err != nil {
		return err
	}
	r.broadcast(r.dir.MemberIDs(pl.RoomID, connID), model.Envelope{
		Type:    model.EventCameraToggled,
		Payload: model.ToggledPayload{ConnID: connID, Target: pl.Target, Enabled: enabled},
	})
	return nil
}

func (r *Relay) handleChat(connID string, payload json.RawMessage) error {
	var pl model.ChatPayload
	if err := decode(payload, &pl); err != nil {
		return err
	}
	msg, err := r.dir.AppendChat(connID, pl.RoomID, pl.Text)
	if err != nil {
		return err
	}
	r.broadcast(r.dir.MemberIDs(pl.RoomID, ""), model.Envelope{
		Type:    model.EventChatMessage,
		Payload: msg,
	})
	return nil
}

func (r *Relay) handleParticipants(connID string, payload json.RawMessage) error {
	var pl model.RoomPayload
	if err := decode(payload, &pl); err != nil {
		return err
	}
	if _, ok := r.dir.InRoom(connID, pl.RoomID); !ok {
		return model.ErrNotFound
	}
	r.sendTo(connID, model.Envelope{
		Type:    model.EventParticipants,
		Payload: r.dir.Members(pl.RoomID),
	})
	return nil
}

func (r *Relay) handlePing(connID string, _ json.RawMessage) error {
	r.sendTo(connID, model.Envelope{Type: model.EventLivenessPong})
	return nil
}

func (r *Relay) handleCheckUser(connID string, payload json.RawMessage) error {
	var pl model.CheckUserPayload
	if err := decode(payload, &pl); err != nil {
		return err
	}
	if err := validate.RoomID(pl.RoomID); err != nil {
		return err
	}
	name, err := validate.DisplayName(pl.DisplayName)
	if err != nil {
		return err
	}
	r.sendTo(connID, model.Envelope{
		Type:    model.EventUserExists,
		Payload: model.UserExistsPayload{Exists: r.dir.NameTaken(pl.RoomID, name)},
	})
	return nil
}

func (r *Relay) hand(event string) handlerFunc {
	return func(connID string, payload json.RawMessage) error {
		var pl model.RoomPayload
		if err := decode(payload, &pl); err != nil {
			return err
		}
		p, ok := r.dir.InRoom(connID, pl.RoomID)
		if !ok {
			return model.ErrNotFound
		}
		r.broadcast(r.dir.MemberIDs(pl.RoomID, connID), model.Envelope{
			Type:    event,
			Payload: model.PeerPayload{ConnID: connID, DisplayName: p.DisplayName},
		})
		return nil
	}
}
