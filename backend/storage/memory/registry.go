package memory

import (
	"time"

	"github.com/adwski/webrtc-meshrelay/backend/model"
)

// Registry maps connection ids to participant records.
// It is not safe for concurrent use, the owner serializes access.
type Registry struct {
	db  map[string]*model.Participant
	now func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		db:  make(map[string]*model.Participant),
		now: now,
	}
}

// Register creates an empty record, existing record is returned untouched.
func (reg *Registry) Register(connID string) *model.Participant {
	if p, ok := reg.db[connID]; ok {
		return p
	}
	p := &model.Participant{
		ConnID:       connID,
		RegisteredAt: reg.now(),
	}
	reg.db[connID] = p
	return p
}

func (reg *Registry) Remove(connID string) {
	delete(reg.db, connID)
}

// Get returns false for absent records, which is a normal outcome
// when client state races with network events.
func (reg *Registry) Get(connID string) (*model.Participant, bool) {
	p, ok := reg.db[connID]
	return p, ok
}

func (reg *Registry) Len() int {
	return len(reg.db)
}

// Each calls fn for every record. Records may be removed from within fn.
func (reg *Registry) Each(fn func(p *model.Participant)) {
	for _, p := range reg.db {
		fn(p)
	}
}
