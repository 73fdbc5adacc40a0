package relay

import (
	"encoding/json"

	"github.com/adwski/webrtc-meshrelay/backend/model"
)

// moderation builds the handler for one moderation action.
// Commands from anyone but the room moderator are dropped without a reply.
func (r *Relay) moderation(action string) handlerFunc {
	return func(connID string, payload json.RawMessage) error {
		var pl model.ModerationPayload
		if err := decode(payload, &pl); err != nil {
			return err
		}
		if !r.dir.IsModerator(connID, pl.RoomID) {
			return model.ErrNotAuthorized
		}
		targetID, ok := r.dir.FindByName(pl.RoomID, pl.TargetDisplayName)
		if !ok {
			return model.ErrNotFound
		}
		target, _ := r.dir.Registry().Get(targetID)
		notice := model.Envelope{
			Type:    model.EventModerationNotice,
			Payload: model.NoticePayload{Action: action, TargetDisplayName: target.DisplayName},
		}

		logger := r.logger.With().
			Str("moderator", connID).
			Str("target", targetID).
			Str("roomID", pl.RoomID).
			Str("action", action).
			Logger()

		switch action {
		case model.ActionKick:
			r.sendTo(targetID, notice)
			r.leave(targetID, pl.RoomID)
			if ep, ok := r.endpoints[targetID]; ok {
				ep.Close()
			}
		default:
			mediaTarget := model.TargetAudio
			if action == model.ActionDisableVideo {
				mediaTarget = model.TargetVideo
			}
			if err := r.dir.Disable(targetID, mediaTarget); err != nil {
				return err
			}
			r.sendTo(targetID, notice)
			r.broadcast(r.dir.MemberIDs(pl.RoomID, targetID), model.Envelope{
				Type:    model.EventCameraToggled,
				Payload: model.ToggledPayload{ConnID: targetID, Target: mediaTarget, Enabled: false},
			})
		}
		logger.Info().Msg("moderation action applied")
		return nil
	}
}
