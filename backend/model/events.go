package model

import "encoding/json"

// Inbound event types sent by clients.
const (
	EventJoinRoom            = "join-room"
	EventLeaveRoom           = "leave-room"
	EventCallOffer           = "call-offer"
	EventCallAnswer          = "call-answer"
	EventToggleMedia         = "toggle-media"
	EventSendChat            = "send-chat"
	EventRequestParticipants = "request-participants"
	EventModerateMute        = "moderate-mute"
	EventModerateVideo       = "moderate-disable-video"
	EventModerateKick        = "moderate-kick"
	EventLivenessPing        = "liveness-ping"
	EventCheckUser           = "check-user"
	EventHandRaise           = "hand-raise"
	EventHandLower           = "hand-lower"
)

// Outbound event types sent by server.
const (
	EventConnected        = "connected"
	EventExistingMembers  = "existing-members"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventCameraToggled    = "camera-toggled"
	EventChatHistory      = "chat-history"
	EventChatMessage      = "chat-message"
	EventModerationNotice = "moderation-notice"
	EventParticipants     = "participants"
	EventLivenessPong     = "liveness-pong"
	EventUserExists       = "user-exists"
	EventHandRaised       = "hand-raised"
	EventHandLowered      = "hand-lowered"
	EventError            = "error"
)

// Moderation actions.
const (
	ActionMute         = "mute"
	ActionDisableVideo = "disable-video"
	ActionKick         = "kick"
)

// Inbound payloads.
type (
	JoinRoomPayload struct {
		RoomID      string `json:"roomId"`
		DisplayName string `json:"displayName"`
		Password    string `json:"password,omitempty"`
	}

	RoomPayload struct {
		RoomID string `json:"roomId"`
	}

	CallPayload struct {
		TargetConnID string          `json:"targetConnectionId"`
		Signal       json.RawMessage `json:"signal"`
	}

	TogglePayload struct {
		RoomID string `json:"roomId"`
		Target string `json:"target"`
	}

	ChatPayload struct {
		RoomID string `json:"roomId"`
		Text   string `json:"text"`
	}

	ModerationPayload struct {
		RoomID            string `json:"roomId"`
		TargetDisplayName string `json:"targetDisplayName"`
	}

	CheckUserPayload struct {
		RoomID      string `json:"roomId"`
		DisplayName string `json:"displayName"`
	}

	// LeaveBeacon is posted over HTTP when the page unloads before the socket can flush.
	LeaveBeacon struct {
		ConnID      string `json:"connectionId"`
		RoomID      string `json:"roomId"`
		DisplayName string `json:"displayName,omitempty"`
	}
)

// Outbound payloads.
type (
	ConnectedPayload struct {
		ConnID string `json:"connectionId"`
	}

	PeerPayload struct {
		ConnID      string `json:"connectionId"`
		DisplayName string `json:"displayName"`
	}

	ToggledPayload struct {
		ConnID  string `json:"connectionId"`
		Target  string `json:"target"`
		Enabled bool   `json:"enabled"`
	}

	OfferPayload struct {
		From         string          `json:"from"`
		DisplayName  string          `json:"displayName"`
		VideoEnabled bool            `json:"video"`
		AudioEnabled bool            `json:"audio"`
		Signal       json.RawMessage `json:"signal"`
	}

	AnswerPayload struct {
		From   string          `json:"from"`
		Signal json.RawMessage `json:"signal"`
	}

	NoticePayload struct {
		Action            string `json:"action"`
		TargetDisplayName string `json:"targetDisplayName"`
	}

	UserExistsPayload struct {
		Exists bool `json:"exists"`
	}

	ErrorPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)
