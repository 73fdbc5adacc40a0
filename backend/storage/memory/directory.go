package memory

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/adwski/webrtc-meshrelay/backend/model"
	"github.com/adwski/webrtc-meshrelay/backend/validate"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultMaxParticipants = 16
	DefaultHistorySize     = 100

	// Password hashing runs on the relay loop, costs above MaxPasswordCost
	// would hold up every room on each private join.
	MinPasswordCost = bcrypt.MinCost
	MaxPasswordCost = 8

	maxPasswordLen = 72 // bcrypt input limit
)

var (
	ErrPassword = errors.New("unable to store room password")
)

type (
	Config struct {
		Registry        *Registry
		MaxParticipants int
		HistorySize     int
		PasswordCost    int
		Now             func() time.Time
	}

	// Directory maps room ids to members and ephemeral room state.
	// Like Registry it relies on the owner to serialize access.
	Directory struct {
		reg             *Registry
		rooms           map[string]*room
		now             func() time.Time
		seq             uint64
		maxParticipants int
		historySize     int
		passwordCost    int
	}

	room struct {
		id           string
		members      []string // join order
		passwordHash []byte
		history      *chatRing
	}

	JoinResult struct {
		Participant *model.Participant

		// Existing is the membership snapshot taken before the joiner was added.
		Existing []model.Member
		History  []model.ChatMessage
		Created  bool

		// Left is set when the joiner was moved out of another room first.
		Left *LeaveResult
	}

	LeaveResult struct {
		ConnID      string
		DisplayName string
		RoomID      string
		Others      []string
		RoomDeleted bool
	}
)

func NewDirectory(cfg Config) *Directory {
	d := &Directory{
		reg:             cfg.Registry,
		rooms:           make(map[string]*room),
		now:             cfg.Now,
		maxParticipants: cfg.MaxParticipants,
		historySize:     cfg.HistorySize,
		passwordCost:    cfg.PasswordCost,
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.reg == nil {
		d.reg = NewRegistry(d.now)
	}
	if d.maxParticipants <= 0 {
		d.maxParticipants = DefaultMaxParticipants
	}
	if d.historySize <= 0 {
		d.historySize = DefaultHistorySize
	}
	d.passwordCost = min(max(d.passwordCost, MinPasswordCost), MaxPasswordCost)
	return d
}

func (d *Directory) Registry() *Registry {
	return d.reg
}

func (d *Directory) MaxParticipants() int {
	return d.maxParticipants
}

// Join attaches connID to roomID. No state is mutated when an error is returned.
func (d *Directory) Join(connID, roomID, displayName, password string) (*JoinResult, error) {
	if err := validate.RoomID(roomID); err != nil {
		return nil, err
	}
	name, err := validate.DisplayName(displayName)
	if err != nil {
		return nil, err
	}
	if len(password) > maxPasswordLen {
		return nil, fmt.Errorf("%w: password is too long", model.ErrValidation)
	}

	rm, exists := d.rooms[roomID]
	if exists {
		if rm.passwordHash != nil {
			if bcrypt.CompareHashAndPassword(rm.passwordHash, []byte(password)) != nil {
				return nil, model.ErrAuth
			}
		}
		occupied := len(rm.members)
		if slices.Contains(rm.members, connID) {
			occupied--
		}
		if occupied >= d.maxParticipants {
			return nil, model.ErrCapacity
		}
	}

	// The room may be recreated below when the joiner is its sole member.
	var hash []byte
	if password != "" && (!exists || (len(rm.members) == 1 && rm.members[0] == connID)) {
		if hash, err = bcrypt.GenerateFromPassword([]byte(password), d.passwordCost); err != nil {
			return nil, errors.Join(ErrPassword, err)
		}
	}

	res := &JoinResult{}
	if p, ok := d.reg.Get(connID); ok && p.Joined() {
		res.Left, _ = d.Leave(connID, p.RoomID)
	}

	rm, exists = d.rooms[roomID]
	if !exists {
		rm = &room{
			id:           roomID,
			passwordHash: hash,
			history:      newChatRing(d.historySize),
		}
		d.rooms[roomID] = rm
		res.Created = true
	}

	p := d.reg.Register(connID)
	d.seq++
	p.DisplayName = name
	p.RoomID = roomID
	p.VideoEnabled = false
	p.AudioEnabled = true
	p.JoinedAt = d.now()
	p.JoinSeq = d.seq

	res.Participant = p
	res.Existing = d.snapshot(rm, connID)
	res.History = rm.history.list()
	rm.members = append(rm.members, connID)
	return res, nil
}

// Leave detaches connID from roomID and deletes its registry record.
// Second return is false when connID is unknown or not in roomID.
func (d *Directory) Leave(connID, roomID string) (*LeaveResult, bool) {
	p, ok := d.reg.Get(connID)
	if !ok || p.RoomID != roomID {
		return nil, false
	}
	res := &LeaveResult{
		ConnID:      connID,
		DisplayName: p.DisplayName,
		RoomID:      roomID,
	}
	d.reg.Remove(connID)

	rm, ok := d.rooms[roomID]
	if !ok {
		return res, true
	}
	rm.members = slices.DeleteFunc(rm.members, func(id string) bool { return id == connID })
	res.Others = slices.Clone(rm.members)
	if len(rm.members) == 0 {
		d.deleteRoom(roomID)
		res.RoomDeleted = true
	}
	return res, true
}

func (d *Directory) deleteRoom(roomID string) {
	if rm, ok := d.rooms[roomID]; ok {
		rm.passwordHash = nil
		rm.history = nil
	}
	delete(d.rooms, roomID)
}

// InRoom returns participant record if connID is currently joined to roomID.
func (d *Directory) InRoom(connID, roomID string) (*model.Participant, bool) {
	p, ok := d.reg.Get(connID)
	if !ok || !p.Joined() || p.RoomID != roomID {
		return nil, false
	}
	return p, true
}

// MemberIDs returns connection ids of roomID in join order, except the given one.
func (d *Directory) MemberIDs(roomID, except string) []string {
	rm, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rm.members))
	for _, id := range rm.members {
		if id != except {
			ids = append(ids, id)
		}
	}
	return ids
}

// Members returns full member list of roomID with moderator flag.
func (d *Directory) Members(roomID string) []model.Member {
	rm, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	members := d.snapshot(rm, "")
	mod := d.Moderator(roomID)
	for i := range members {
		members[i].Moderator = members[i].ConnID == mod
	}
	return members
}

func (d *Directory) snapshot(rm *room, except string) []model.Member {
	members := make([]model.Member, 0, len(rm.members))
	for _, id := range rm.members {
		if id == except {
			continue
		}
		if p, ok := d.reg.Get(id); ok {
			members = append(members, model.MemberOf(p))
		}
	}
	return members
}

// Toggle flips cached media flag and returns its new value.
func (d *Directory) Toggle(connID, roomID, target string) (bool, error) {
	if err := validate.Target(target); err != nil {
		return false, err
	}
	p, ok := d.InRoom(connID, roomID)
	if !ok {
		return false, model.ErrNotFound
	}
	if target == model.TargetVideo {
		p.VideoEnabled = !p.VideoEnabled
		return p.VideoEnabled, nil
	}
	p.AudioEnabled = !p.AudioEnabled
	return p.AudioEnabled, nil
}

// Disable forces cached media flag off.
func (d *Directory) Disable(connID, target string) error {
	if err := validate.Target(target); err != nil {
		return err
	}
	p, ok := d.reg.Get(connID)
	if !ok {
		return model.ErrNotFound
	}
	if target == model.TargetVideo {
		p.VideoEnabled = false
	} else {
		p.AudioEnabled = false
	}
	return nil
}

// AppendChat validates text and stores it in the room history.
func (d *Directory) AppendChat(connID, roomID, text string) (model.ChatMessage, error) {
	p, ok := d.InRoom(connID, roomID)
	if !ok {
		return model.ChatMessage{}, model.ErrNotFound
	}
	clean, err := validate.ChatText(text)
	if err != nil {
		return model.ChatMessage{}, err
	}
	msg := model.ChatMessage{
		Sender:    p.DisplayName,
		Text:      clean,
		Timestamp: d.now(),
	}
	d.rooms[roomID].history.push(msg)
	return msg, nil
}

func (d *Directory) History(roomID string) []model.ChatMessage {
	rm, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	return rm.history.list()
}

// FindByName resolves a display name to the earliest joined member carrying it.
func (d *Directory) FindByName(roomID, displayName string) (string, bool) {
	rm, ok := d.rooms[roomID]
	if !ok {
		return "", false
	}
	name, err := validate.DisplayName(displayName)
	if err != nil {
		return "", false
	}
	for _, id := range rm.members {
		if p, ok := d.reg.Get(id); ok && p.DisplayName == name {
			return id, true
		}
	}
	return "", false
}

func (d *Directory) NameTaken(roomID, displayName string) bool {
	_, ok := d.FindByName(roomID, displayName)
	return ok
}

func (d *Directory) Room(roomID string) (model.RoomInfo, bool) {
	rm, ok := d.rooms[roomID]
	if !ok {
		return model.RoomInfo{}, false
	}
	return rm.info(), true
}

func (d *Directory) Rooms() []model.RoomInfo {
	infos := make([]model.RoomInfo, 0, len(d.rooms))
	for _, rm := range d.rooms {
		infos = append(infos, rm.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (rm *room) info() model.RoomInfo {
	return model.RoomInfo{
		ID:           rm.id,
		Participants: len(rm.members),
		Private:      rm.passwordHash != nil,
		ChatMessages: rm.history.len(),
	}
}
