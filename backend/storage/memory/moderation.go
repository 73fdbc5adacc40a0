package memory

// Moderator returns the member of roomID with the earliest join, recomputed on every call.
func (d *Directory) Moderator(roomID string) string {
	rm, ok := d.rooms[roomID]
	if !ok {
		return ""
	}
	var (
		mod     string
		modSeq  uint64
		matched bool
	)
	for _, id := range rm.members {
		p, ok := d.reg.Get(id)
		if !ok {
			continue
		}
		if !matched || p.JoinSeq < modSeq {
			mod, modSeq, matched = id, p.JoinSeq, true
		}
	}
	return mod
}

func (d *Directory) IsModerator(connID, roomID string) bool {
	if _, ok := d.InRoom(connID, roomID); !ok {
		return false
	}
	return d.Moderator(roomID) == connID
}
