package relay

// sweepZombies removes registry entries whose connection has vanished
// without a disconnect event. Closed endpoints are forgotten first, so their
// entries are collected once they pass the threshold.
func (r *Relay) sweepZombies() {
	for connID, ep := range r.endpoints {
		if ep.Closed() {
			delete(r.endpoints, connID)
			r.logger.Debug().Str("connID", connID).Msg("closed endpoint dropped")
		}
	}

	deadline := r.now().Add(-r.zombieThreshold)
	before := r.dir.Registry().Len()
	left := r.dir.SweepZombies(deadline, func(connID string) bool {
		_, ok := r.endpoints[connID]
		return ok
	})
	for _, res := range left {
		r.announceLeave(res)
	}
	if cleaned := before - r.dir.Registry().Len(); cleaned > 0 {
		r.logger.Info().Int("cleaned", cleaned).Msg("zombie registry entries removed")
	}
}

// sweepRooms is a backstop for rooms that missed immediate deletion.
func (r *Relay) sweepRooms() {
	if deleted := r.dir.SweepRooms(); deleted > 0 {
		r.logger.Info().Int("deleted", deleted).Msg("empty rooms removed")
	}
}
