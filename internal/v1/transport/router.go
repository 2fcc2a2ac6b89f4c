package transport

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/huddlekit/signaling/internal/v1/logging"
	"github.com/huddlekit/signaling/internal/v1/metrics"
	"github.com/huddlekit/signaling/internal/v1/protocol"
)

// route dispatches one inbound frame. It runs on the connection's reader
// goroutine, so handlers may mutate the client's room binding freely.
//
// Precondition failures on join-room surface as a room-error; on every other
// kind the frame is dropped with a log entry, because a client that breaks
// sequencing gains nothing from being told so.
func (h *Hub) route(ctx context.Context, c *Client, raw []byte) {
	defer func() {
		// A handler panic is confined to this connection; room state for
		// other connections stays intact.
		if r := recover(); r != nil {
			logging.Error(ctx, "Recovered from handler panic", zap.Any("panic", r))
			metrics.EventsTotal.WithLabelValues("unknown", "panic").Inc()
		}
	}()

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logging.Warn(ctx, "Failed to unmarshal frame", zap.Error(err))
		metrics.EventsTotal.WithLabelValues("invalid", "dropped").Inc()
		return
	}

	start := time.Now()
	event := string(env.Event)

	switch env.Event {
	case protocol.EventJoinRoom:
		h.handleJoinRoom(ctx, c, env.Data)
	case protocol.EventLeaveRoom:
		h.handleLeaveRoom(ctx, c)
	case protocol.EventWebRTCOffer, protocol.EventWebRTCAnswer, protocol.EventWebRTCCandidate:
		h.handleRelay(ctx, c, env.Event, env.Data)
	case protocol.EventMediaState:
		h.handleMediaState(ctx, c, env.Data)
	case protocol.EventChatMessage:
		h.handleChat(ctx, c, env.Data)
	case protocol.EventScreenShareStart:
		h.handleScreenShare(ctx, c, protocol.EventScreenShareStarted)
	case protocol.EventScreenShareStop:
		h.handleScreenShare(ctx, c, protocol.EventScreenShareStopped)
	default:
		logging.Warn(ctx, "Unknown event received", zap.String("event", event))
		metrics.EventsTotal.WithLabelValues("unknown", "dropped").Inc()
		return
	}

	metrics.MessageProcessingDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
}
