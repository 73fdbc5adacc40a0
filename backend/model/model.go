package model

import (
	"encoding/json"
	"time"
)

// Media targets that can be toggled.
const (
	TargetVideo = "video"
	TargetAudio = "audio"
)

type Participant struct {
	ConnID       string
	DisplayName  string
	RoomID       string // empty until join completes
	VideoEnabled bool
	AudioEnabled bool
	RegisteredAt time.Time
	JoinedAt     time.Time

	// JoinSeq is a monotonic join counter, ranks moderator priority.
	JoinSeq uint64
}

// Joined reports whether participant is attached to a room.
func (p *Participant) Joined() bool {
	return p.RoomID != ""
}

type Member struct {
	ConnID       string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	VideoEnabled bool   `json:"video"`
	AudioEnabled bool   `json:"audio"`
	Moderator    bool   `json:"moderator,omitempty"`
}

func MemberOf(p *Participant) Member {
	return Member{
		ConnID:       p.ConnID,
		DisplayName:  p.DisplayName,
		VideoEnabled: p.VideoEnabled,
		AudioEnabled: p.AudioEnabled,
	}
}

type ChatMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomInfo is a read-only view of a room, never carries credentials.
type RoomInfo struct {
	ID           string `json:"roomId"`
	Participants int    `json:"participants"`
	Private      bool   `json:"private"`
	ChatMessages int    `json:"chatMessages,omitempty"`
}

type Stats struct {
	Connections  int        `json:"connections"`
	Participants int        `json:"participants"`
	Rooms        []RoomInfo `json:"rooms"`
}

// Request is an inbound relay message. Sender identity comes from the session it arrived on.
type Request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Envelope is an outbound relay message.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}
