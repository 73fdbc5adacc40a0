package memory

import (
	"slices"
	"time"

	"github.com/adwski/webrtc-meshrelay/backend/model"
)

// SweepZombies removes records registered before deadline whose connection is gone.
// Joined zombies go through Leave so that remaining members can be notified.
func (d *Directory) SweepZombies(deadline time.Time, alive func(connID string) bool) []*LeaveResult {
	var (
		left   []*LeaveResult
		zombie []string
	)
	d.reg.Each(func(p *model.Participant) {
		if p.RegisteredAt.Before(deadline) && !alive(p.ConnID) {
			zombie = append(zombie, p.ConnID)
		}
	})
	for _, connID := range zombie {
		p, ok := d.reg.Get(connID)
		if !ok {
			continue
		}
		if p.Joined() {
			if res, ok := d.Leave(connID, p.RoomID); ok {
				left = append(left, res)
				continue
			}
		}
		d.reg.Remove(connID)
	}
	return left
}

// SweepRooms drops members without registry record and deletes rooms left empty.
// It returns the number of deleted rooms.
func (d *Directory) SweepRooms() int {
	var deleted int
	for id, rm := range d.rooms {
		rm.members = slices.DeleteFunc(rm.members, func(connID string) bool {
			p, ok := d.reg.Get(connID)
			return !ok || p.RoomID != id
		})
		if len(rm.members) == 0 {
			d.deleteRoom(id)
			deleted++
		}
	}
	return deleted
}
