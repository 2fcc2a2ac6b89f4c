// Package protocol defines the JSON wire protocol spoken at the client
// boundary: event names, payload shapes, and the room-error taxonomy.
//
// Every frame is a text envelope of the form {"event": <name>, "data": {...}}.
// Negotiation fragments (offer/answer/candidate) are carried as raw JSON and
// never parsed by the hub.
package protocol

import (
	"encoding/json"
	"strings"
)

// Event names the kind of a wire message.
type Event string

// Client → server events.
const (
	EventJoinRoom         Event = "join-room"
	EventLeaveRoom        Event = "leave-room"
	EventWebRTCOffer      Event = "webrtc-offer"
	EventWebRTCAnswer     Event = "webrtc-answer"
	EventWebRTCCandidate  Event = "webrtc-ice-candidate"
	EventMediaState       Event = "media-state"
	EventChatMessage      Event = "chat-message"
	EventScreenShareStart Event = "screen-share-start"
	EventScreenShareStop  Event = "screen-share-stop"
)

// Server → client events.
const (
	EventRoomJoined         Event = "room-joined"
	EventRoomError          Event = "room-error"
	EventRoomLeft           Event = "room-left"
	EventParticipantJoined  Event = "participant-joined"
	EventParticipantLeft    Event = "participant-left"
	EventParticipantsUpdate Event = "participants-update"
	EventMediaStateChanged  Event = "media-state-changed"
	EventScreenShareStarted Event = "screen-share-started"
	EventScreenShareStopped Event = "screen-share-stopped"
)

// Error codes carried in room-error.code.
const (
	CodeRoomNotFound      = "ROOM_NOT_FOUND"
	CodeRoomFull          = "ROOM_FULL"
	CodeRoomAlreadyExists = "ROOM_ALREADY_EXISTS"
	CodeInvalidRoomCode   = "INVALID_ROOM_CODE"
	CodeAlreadyInRoom     = "ALREADY_IN_ROOM"
	CodeNameRequired      = "NAME_REQUIRED"
	CodePeerIDRequired    = "PEER_ID_REQUIRED"
	CodePeerIDTaken       = "PEER_ID_TAKEN"
	CodeServerError       = "SERVER_ERROR"
)

// MaxChatLength is the hard cap on chat messages, in code points of the
// trimmed input.
const MaxChatLength = 1000

// Envelope is the framing for every wire message.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an event and its payload into a wire frame.
func Encode(event Event, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// MustEncode is Encode for payloads built entirely from server-side types.
// It panics on marshal failure, which can only happen on a programming error.
func MustEncode(event Event, payload any) []byte {
	b, err := Encode(event, payload)
	if err != nil {
		panic(err)
	}
	return b
}

// --- Client → server payloads ---

// JoinRoomRequest is the payload of a join-room event.
type JoinRoomRequest struct {
	RoomCode string `json:"roomCode"`
	PeerID   string `json:"peerId"`
	Name     string `json:"name"`
	IsHost   bool   `json:"isHost,omitempty"`
}

// RelayPayload is the shared shape of the three negotiation-fragment events.
// Exactly one of Offer, Answer, or Candidate is set; the hub treats it as an
// opaque blob. From is always stamped by the server, never copied from the
// inbound frame.
type RelayPayload struct {
	To        string          `json:"to"`
	From      string          `json:"from,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// MediaStateRequest is the payload of a media-state event.
type MediaStateRequest struct {
	VideoEnabled  bool `json:"videoEnabled"`
	AudioEnabled  bool `json:"audioEnabled"`
	ScreenSharing bool `json:"screenSharing,omitempty"`
}

// ChatRequest is the payload of a chat-message event.
type ChatRequest struct {
	Message string `json:"message"`
}

// --- Server → client payloads ---

// Participant is the view of a room member handed to clients.
type Participant struct {
	ID     string `json:"id"`
	PeerID string `json:"peerId"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// RoomJoined is the payload of a room-joined event.
type RoomJoined struct {
	RoomCode     string        `json:"roomCode"`
	IsHost       bool          `json:"isHost"`
	Participants []Participant `json:"participants"`
}

// RoomError is the payload of a room-error event.
type RoomError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParticipantJoined is the payload of a participant-joined event.
type ParticipantJoined struct {
	Participant Participant `json:"participant"`
}

// ParticipantLeft is the payload of a participant-left event.
type ParticipantLeft struct {
	ParticipantID string `json:"participantId"`
	PeerID        string `json:"peerId"`
}

// ParticipantsUpdate is the payload of a participants-update event.
type ParticipantsUpdate struct {
	Participants []Participant `json:"participants"`
}

// MediaStateChanged is the payload of a media-state-changed event.
type MediaStateChanged struct {
	ParticipantID string `json:"participantId"`
	PeerID        string `json:"peerId"`
	VideoEnabled  bool   `json:"videoEnabled"`
	AudioEnabled  bool   `json:"audioEnabled"`
	ScreenSharing bool   `json:"screenSharing,omitempty"`
}

// ChatMessage is the payload of a server-originated chat-message event.
type ChatMessage struct {
	From      string `json:"from"`
	FromName  string `json:"fromName"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ScreenShare is the payload of screen-share-started / screen-share-stopped.
type ScreenShare struct {
	ParticipantID string `json:"participantId"`
	PeerID        string `json:"peerId"`
}

// ClampChat trims a chat message and truncates it to MaxChatLength code
// points. An empty result means the message must be dropped.
func ClampChat(message string) string {
	trimmed := strings.TrimSpace(message)
	runes := []rune(trimmed)
	if len(runes) > MaxChatLength {
		return string(runes[:MaxChatLength])
	}
	return trimmed
}
