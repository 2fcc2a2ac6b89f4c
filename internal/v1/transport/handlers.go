package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/huddlekit/signaling/internal/v1/logging"
	"github.com/huddlekit/signaling/internal/v1/metrics"
	"github.com/huddlekit/signaling/internal/v1/protocol"
	"github.com/huddlekit/signaling/internal/v1/registry"
)

func toParticipants(views []registry.ParticipantView) []protocol.Participant {
	participants := make([]protocol.Participant, 0, len(views))
	for _, v := range views {
		participants = append(participants, protocol.Participant{
			ID:     v.ConnID,
			PeerID: v.PeerID,
			Name:   v.Name,
			IsHost: v.IsHost,
		})
	}
	return participants
}

func (h *Hub) sendError(c *Client, code, message string) {
	c.Send(protocol.MustEncode(protocol.EventRoomError, protocol.RoomError{Code: code, Message: message}))
}

// broadcast delivers an event to every room member except the originator.
// The recipient snapshot is taken inside the registry; writes happen with no
// locks held, so a slow client never stalls the room. When a bus is present
// the frame is mirrored to other instances.
func (h *Hub) broadcast(ctx context.Context, roomCode, exceptConnID string, event protocol.Event, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		logging.Error(ctx, "Failed to marshal broadcast", zap.String("event", string(event)), zap.Error(err))
		return
	}

	for _, s := range h.reg.Recipients(roomCode, exceptConnID) {
		if !s.Send(frame) {
			logging.Warn(ctx, "Dropped broadcast frame for recipient", zap.String("recipient", s.ConnID()))
		}
	}

	if h.bus != nil {
		go func() {
			_ = h.bus.Publish(context.Background(), roomCode, string(event), frame, exceptConnID)
		}()
	}
}

func (h *Hub) handleJoinRoom(ctx context.Context, c *Client, data json.RawMessage) {
	if c.roomCode != "" {
		h.sendError(c, protocol.CodeAlreadyInRoom, "already in a room")
		metrics.EventsTotal.WithLabelValues(string(protocol.EventJoinRoom), "error").Inc()
		return
	}

	var req protocol.JoinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(c, protocol.CodeInvalidRoomCode, "malformed join payload")
		metrics.EventsTotal.WithLabelValues(string(protocol.EventJoinRoom), "error").Inc()
		return
	}

	code := registry.NormalizeCode(req.RoomCode)
	if code == "" {
		h.sendError(c, protocol.CodeInvalidRoomCode, "room code is required")
		metrics.EventsTotal.WithLabelValues(string(protocol.EventJoinRoom), "error").Inc()
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.sendError(c, protocol.CodeNameRequired, "display name is required")
		metrics.EventsTotal.WithLabelValues(string(protocol.EventJoinRoom), "error").Inc()
		return
	}
	if strings.TrimSpace(req.PeerID) == "" {
		h.sendError(c, protocol.CodePeerIDRequired, "peer id is required")
		metrics.EventsTotal.WithLabelValues(string(protocol.EventJoinRoom), "error").Inc()
		return
	}

	ctx = logging.WithRoom(ctx, code)

	var roster []registry.ParticipantView
	var self registry.ParticipantView
	var err error

	if req.IsHost {
		roster, err = h.reg.Create(code, c.id, req.PeerID, req.Name, c)
		if err == nil {
			self = roster[0]
		}
	} else {
		self, roster, err = h.reg.Join(code, c.id, req.PeerID, req.Name, c)
	}

	if err != nil {
		h.sendError(c, joinErrorCode(err), err.Error())
		metrics.EventsTotal.WithLabelValues(string(protocol.EventJoinRoom), "error").Inc()
		return
	}

	c.roomCode = code
	c.peerID = self.PeerID
	c.displayName = self.Name

	c.Send(protocol.MustEncode(protocol.EventRoomJoined, protocol.RoomJoined{
		RoomCode:     code,
		IsHost:       self.IsHost,
		Participants: toParticipants(roster),
	}))

	h.broadcast(ctx, code, c.id, protocol.EventParticipantJoined, protocol.ParticipantJoined{
		Participant: protocol.Participant{ID: self.ConnID, PeerID: self.PeerID, Name: self.Name, IsHost: self.IsHost},
	})
	h.broadcast(ctx, code, c.id, protocol.EventParticipantsUpdate, protocol.ParticipantsUpdate{
		Participants: toParticipants(roster),
	})

	h.ensureSubscribed(code)

	logging.Info(ctx, "Participant joined room",
		zap.String("peerId", self.PeerID), zap.Bool("isHost", self.IsHost))
	metrics.EventsTotal.WithLabelValues(string(protocol.EventJoinRoom), "ok").Inc()
}

func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, registry.ErrRoomNotFound):
		return protocol.CodeRoomNotFound
	case errors.Is(err, registry.ErrRoomFull):
		return protocol.CodeRoomFull
	case errors.Is(err, registry.ErrRoomExists):
		return protocol.CodeRoomAlreadyExists
	case errors.Is(err, registry.ErrPeerIDTaken):
		return protocol.CodePeerIDTaken
	default:
		return protocol.CodeServerError
	}
}

func (h *Hub) handleLeaveRoom(ctx context.Context, c *Client) {
	if c.roomCode == "" {
		logging.Warn(ctx, "leave-room without membership, dropping")
		metrics.EventsTotal.WithLabelValues(string(protocol.EventLeaveRoom), "dropped").Inc()
		return
	}

	ctx = logging.WithRoom(ctx, c.roomCode)
	h.departRoom(ctx, c)
	c.Send(protocol.MustEncode(protocol.EventRoomLeft, nil))
	metrics.EventsTotal.WithLabelValues(string(protocol.EventLeaveRoom), "ok").Inc()
}

// departRoom runs the shared departure path for explicit leaves and
// disconnects, then clears the connection's room binding. Idempotent: a
// second call finds no membership and does nothing.
func (h *Hub) departRoom(ctx context.Context, c *Client) {
	code := c.roomCode
	res := h.reg.Leave(code, c.id)

	c.roomCode = ""
	c.peerID = ""
	c.displayName = ""

	if !res.Left {
		return
	}

	if res.RoomDeleted {
		logging.Info(ctx, "Last participant left, room deleted")
		return
	}

	h.broadcast(ctx, code, c.id, protocol.EventParticipantLeft, protocol.ParticipantLeft{
		ParticipantID: c.id,
		PeerID:        res.PeerID,
	})
	// The roster already reflects any host transfer; clients infer the new
	// host from the isHost flags.
	h.broadcast(ctx, code, c.id, protocol.EventParticipantsUpdate, protocol.ParticipantsUpdate{
		Participants: toParticipants(res.Roster),
	})

	if res.WasHost {
		logging.Info(ctx, "Host left, promoted new host", zap.String("newHostConnId", res.NewHostConnID))
	}
}

// handleRelay forwards a negotiation fragment to exactly one addressee,
// resolved by peer id within the sender's room. The from field is stamped
// from the sender's participant record; anything the client put there is
// discarded.
func (h *Hub) handleRelay(ctx context.Context, c *Client, event protocol.Event, data json.RawMessage) {
	kind := string(event)

	if c.roomCode == "" {
		logging.Warn(ctx, "Relay without membership, dropping", zap.String("kind", kind))
		metrics.EventsTotal.WithLabelValues(kind, "dropped").Inc()
		return
	}

	var payload protocol.RelayPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logging.Warn(ctx, "Malformed relay payload, dropping", zap.String("kind", kind), zap.Error(err))
		metrics.EventsTotal.WithLabelValues(kind, "dropped").Inc()
		return
	}

	target, _, ok := h.reg.ResolvePeer(c.roomCode, payload.To)
	if !ok {
		logging.Warn(logging.WithRoom(ctx, c.roomCode), "Relay target not found, dropping",
			zap.String("kind", kind), zap.String("to", payload.To))
		metrics.RelayedFragments.WithLabelValues(kind, "no_target").Inc()
		return
	}

	payload.From = c.peerID

	frame, err := protocol.Encode(event, payload)
	if err != nil {
		logging.Error(ctx, "Failed to marshal relay frame", zap.Error(err))
		metrics.RelayedFragments.WithLabelValues(kind, "error").Inc()
		return
	}

	if target.Send(frame) {
		metrics.RelayedFragments.WithLabelValues(kind, "ok").Inc()
	} else {
		metrics.RelayedFragments.WithLabelValues(kind, "dropped").Inc()
	}

	h.reg.Touch(c.roomCode)
}

func (h *Hub) handleMediaState(ctx context.Context, c *Client, data json.RawMessage) {
	if c.roomCode == "" {
		logging.Warn(ctx, "media-state without membership, dropping")
		metrics.EventsTotal.WithLabelValues(string(protocol.EventMediaState), "dropped").Inc()
		return
	}

	var req protocol.MediaStateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logging.Warn(ctx, "Malformed media-state payload, dropping", zap.Error(err))
		metrics.EventsTotal.WithLabelValues(string(protocol.EventMediaState), "dropped").Inc()
		return
	}

	h.broadcast(logging.WithRoom(ctx, c.roomCode), c.roomCode, c.id, protocol.EventMediaStateChanged, protocol.MediaStateChanged{
		ParticipantID: c.id,
		PeerID:        c.peerID,
		VideoEnabled:  req.VideoEnabled,
		AudioEnabled:  req.AudioEnabled,
		ScreenSharing: req.ScreenSharing,
	})

	h.reg.Touch(c.roomCode)
	metrics.EventsTotal.WithLabelValues(string(protocol.EventMediaState), "ok").Inc()
}

func (h *Hub) handleChat(ctx context.Context, c *Client, data json.RawMessage) {
	if c.roomCode == "" {
		logging.Warn(ctx, "chat-message without membership, dropping")
		metrics.EventsTotal.WithLabelValues(string(protocol.EventChatMessage), "dropped").Inc()
		return
	}

	var req protocol.ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logging.Warn(ctx, "Malformed chat payload, dropping", zap.Error(err))
		metrics.EventsTotal.WithLabelValues(string(protocol.EventChatMessage), "dropped").Inc()
		return
	}

	message := protocol.ClampChat(req.Message)
	if message == "" {
		logging.Warn(ctx, "Empty chat message after trimming, dropping")
		metrics.EventsTotal.WithLabelValues(string(protocol.EventChatMessage), "dropped").Inc()
		return
	}

	// The sender is excluded: clients render their own chat optimistically.
	h.broadcast(logging.WithRoom(ctx, c.roomCode), c.roomCode, c.id, protocol.EventChatMessage, protocol.ChatMessage{
		From:      c.id,
		FromName:  c.displayName,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})

	h.reg.Touch(c.roomCode)
	metrics.EventsTotal.WithLabelValues(string(protocol.EventChatMessage), "ok").Inc()
}

func (h *Hub) handleScreenShare(ctx context.Context, c *Client, outbound protocol.Event) {
	if c.roomCode == "" {
		logging.Warn(ctx, "screen-share event without membership, dropping", zap.String("event", string(outbound)))
		metrics.EventsTotal.WithLabelValues(string(outbound), "dropped").Inc()
		return
	}

	h.broadcast(logging.WithRoom(ctx, c.roomCode), c.roomCode, c.id, outbound, protocol.ScreenShare{
		ParticipantID: c.id,
		PeerID:        c.peerID,
	})

	h.reg.Touch(c.roomCode)
	metrics.EventsTotal.WithLabelValues(string(outbound), "ok").Inc()
}
