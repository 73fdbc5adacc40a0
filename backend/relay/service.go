package relay

import (
	"context"
	"errors"

	"github.com/adwski/webrtc-meshrelay/backend/model"
)

var (
	ErrConnect    = errors.New("unable to connect")
	ErrDisconnect = errors.New("unable to disconnect")
	ErrDeliver    = errors.New("unable to deliver message")
	ErrLeave      = errors.New("unable to leave room")
	ErrQuery      = errors.New("unable to query relay state")
)

// Connect registers a transport connection under connID.
func (r *Relay) Connect(ctx context.Context, connID string, ep Endpoint) error {
	if err := r.post(ctx, func() { r.connect(connID, ep) }); err != nil {
		return errors.Join(ErrConnect, err)
	}
	return nil
}

// Disconnect runs the leave protocol for connID if needed and forgets its endpoint.
func (r *Relay) Disconnect(ctx context.Context, connID string) error {
	if err := r.post(ctx, func() { r.disconnect(connID) }); err != nil {
		return errors.Join(ErrDisconnect, err)
	}
	return nil
}

// Deliver hands an inbound message from connID to the dispatch table.
func (r *Relay) Deliver(ctx context.Context, connID string, req model.Request) error {
	if err := r.post(ctx, func() { r.dispatch(connID, req) }); err != nil {
		return errors.Join(ErrDeliver, err)
	}
	return nil
}

// Leave runs the leave protocol on behalf of connID, same as a leave-room message.
// It reports whether connID actually left roomID.
func (r *Relay) Leave(ctx context.Context, connID, roomID string) (bool, error) {
	left, err := query(ctx, r, func() bool { return r.leave(connID, roomID) })
	if err != nil {
		return false, errors.Join(ErrLeave, err)
	}
	return left, nil
}

func (r *Relay) Stats(ctx context.Context) (model.Stats, error) {
	stats, err := query(ctx, r, r.stats)
	if err != nil {
		return model.Stats{}, errors.Join(ErrQuery, err)
	}
	return stats, nil
}

// LookupRoom returns public info about roomID. Second return is false for absent rooms.
func (r *Relay) LookupRoom(ctx context.Context, roomID string) (model.RoomInfo, bool, error) {
	type lookup struct {
		info model.RoomInfo
		ok   bool
	}
	res, err := query(ctx, r, func() lookup {
		info, ok := r.dir.Room(roomID)
		return lookup{info: info, ok: ok}
	})
	if err != nil {
		return model.RoomInfo{}, false, errors.Join(ErrQuery, err)
	}
	return res.info, res.ok, nil
}

func (r *Relay) MaxParticipants() int {
	return r.dir.MaxParticipants()
}

func (r *Relay) stats() model.Stats {
	rooms := r.dir.Rooms()
	var participants int
	for _, info := range rooms {
		participants += info.Participants
	}
	return model.Stats{
		Connections:  len(r.endpoints),
		Participants: participants,
		Rooms:        rooms,
	}
}
