package model

import (
	"encoding/json"
	"strings"
)

// Signaling event types exchanged between clients and server.
const (
	EventInvite        = "invite"
	EventAccept        = "accept"
	EventReject        = "reject"
	EventCancel        = "cancel"
	EventEnd           = "end"
	EventOffer         = "offer"
	EventAnswer        = "answer"
	EventICECandidate  = "ice-candidate"
	EventOfflineNotice = "offline-notice"
)

// Call modes.
const (
	ModeAudio = "audio"
	ModeVideo = "video"
)

// Reject and offline reasons.
const (
	ReasonRejected = "rejected"
	ReasonBusy     = "busy"
	ReasonOffline  = "offline"
)

// Event is the signaling envelope. SRC is always re-assigned by the server
// based on the authenticated websocket session; clients cannot spoof it.
// Payload carries session descriptions and connectivity candidates and is
// never interpreted by the server.
type Event struct {
	DST        string          `json:"dst,omitempty"`
	SRC        string          `json:"src,omitempty"`
	Type       string          `json:"type"`
	Room       string          `json:"room,omitempty"`
	Mode       string          `json:"mode,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	CallerName string          `json:"caller_name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Push payload types sent to the external push collaborator.
const (
	PushTypeCall       = "call"
	PushTypeMissedCall = "missed_call"
)

type PushPayload struct {
	Type       string `json:"type"`
	Room       string `json:"room_id"`
	Mode       string `json:"mode"`
	CallerID   string `json:"caller_id"`
	CallerName string `json:"caller_name"`
}

type Wire struct {
	RX chan Event
	TX chan Event
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Event),
		TX: make(chan Event),
	}
}

// roomSeparator joins the two participant ids into a room id. User ids
// must not contain it or RoomPeer cannot split the id back; ValidUserID
// enforces that at the authentication boundary.
const roomSeparator = ":"

// RoomID derives the call-session key from the two participant ids.
// Both sides compute the same value without a prior handshake.
func RoomID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + roomSeparator + b
}

// ValidUserID reports whether an id is usable as a room participant.
func ValidUserID(id string) bool {
	return id != "" && !strings.Contains(id, roomSeparator)
}

// RoomPeer returns the other participant of a room given one of them.
func RoomPeer(roomID, userID string) (string, bool) {
	a, b, ok := strings.Cut(roomID, roomSeparator)
	if !ok {
		return "", false
	}
	switch userID {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}
