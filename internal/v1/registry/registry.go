// Package registry owns all room and participant state. It is the only
// globally shared mutable structure in the hub: the transport layer feeds it
// admissions and departures, and asks it for recipient snapshots when
// relaying or fanning out.
//
// Concurrency discipline: the registry mutex guards only the room map; each
// room carries its own lock, so mutations in one room never serialise against
// another. Snapshots (rosters, recipients, stats) are built under the room
// lock and handed out as copies; callers write to connections only after the
// locks are released.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/huddlekit/signaling/internal/v1/logging"
	"github.com/huddlekit/signaling/internal/v1/metrics"
)

// Registry is the process-wide mapping from room code to room state.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	maxParticipants int
	clock           func() time.Time
	startedAt       time.Time

	// onRoomClosed runs (on its own goroutine) after a room leaves the map,
	// whether through the last departure, the sweeper, or a drain.
	onRoomClosed func(code string)
}

// New creates an empty registry with the given per-room participant cap.
func New(maxParticipants int) *Registry {
	return &Registry{
		rooms:           make(map[string]*Room),
		maxParticipants: maxParticipants,
		clock:           time.Now,
		startedAt:       time.Now(),
	}
}

// SetRoomClosedHook registers a callback invoked after any room is deleted.
// Must be called before the registry receives traffic.
func (reg *Registry) SetRoomClosedHook(hook func(code string)) {
	reg.onRoomClosed = hook
}

// Create makes a new room with the creator as host. Returns the initial
// roster, or ErrRoomExists if the code is taken.
func (reg *Registry) Create(code, connID, peerID, name string, sender Sender) ([]ParticipantView, error) {
	code = NormalizeCode(code)
	now := reg.clock()

	reg.mu.Lock()
	if _, exists := reg.rooms[code]; exists {
		reg.mu.Unlock()
		return nil, fmt.Errorf("create %q: %w", code, ErrRoomExists)
	}
	room := newRoom(code, now)
	room.addLocked(&Participant{
		ConnID:   connID,
		PeerID:   peerID,
		Name:     cleanName(name, connID),
		IsHost:   true,
		JoinedAt: now,
		sender:   sender,
	})
	reg.rooms[code] = room
	reg.mu.Unlock()

	metrics.ActiveRooms.Inc()
	metrics.RoomParticipants.WithLabelValues(code).Set(1)

	logging.Info(logging.WithRoom(context.Background(), code), "Room created",
		zap.String("hostConnId", connID), zap.String("hostPeerId", peerID))

	return []ParticipantView{{ConnID: connID, PeerID: peerID, Name: cleanName(name, connID), IsHost: true, JoinedAt: now}}, nil
}

// Join admits a connection to an existing room. It is idempotent for a
// connection already present. Errors: ErrRoomNotFound, ErrRoomFull,
// ErrPeerIDTaken.
func (reg *Registry) Join(code, connID, peerID, name string, sender Sender) (ParticipantView, []ParticipantView, error) {
	code = NormalizeCode(code)

	room, ok := reg.lookup(code)
	if !ok {
		return ParticipantView{}, nil, fmt.Errorf("join %q: %w", code, ErrRoomNotFound)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return ParticipantView{}, nil, fmt.Errorf("join %q: %w", code, ErrRoomNotFound)
	}

	if existing, ok := room.participants[connID]; ok {
		// Same connection joining twice returns the existing record.
		view := ParticipantView{ConnID: existing.ConnID, PeerID: existing.PeerID, Name: existing.Name, IsHost: existing.IsHost, JoinedAt: existing.JoinedAt}
		return view, room.rosterLocked(), nil
	}

	if len(room.participants) >= reg.maxParticipants {
		return ParticipantView{}, nil, fmt.Errorf("join %q: %w", code, ErrRoomFull)
	}

	if room.peerIDs.Has(peerID) {
		return ParticipantView{}, nil, fmt.Errorf("join %q: %w", code, ErrPeerIDTaken)
	}

	now := reg.clock()
	p := &Participant{
		ConnID:   connID,
		PeerID:   peerID,
		Name:     cleanName(name, connID),
		JoinedAt: now,
		sender:   sender,
	}
	room.addLocked(p)
	room.lastActivity = now

	metrics.RoomParticipants.WithLabelValues(code).Set(float64(len(room.participants)))

	view := ParticipantView{ConnID: p.ConnID, PeerID: p.PeerID, Name: p.Name, IsHost: false, JoinedAt: now}
	return view, room.rosterLocked(), nil
}

// LeaveResult reports the outcome of a departure.
type LeaveResult struct {
	Left          bool
	PeerID        string
	Name          string
	WasHost       bool
	NewHostConnID string
	RoomDeleted   bool
	Roster        []ParticipantView
}

// Leave removes a connection from a room. Unknown rooms and unknown
// connections are no-ops. The last departure deletes the room; a departing
// host hands the role to the oldest-joined remaining participant.
func (reg *Registry) Leave(code, connID string) LeaveResult {
	code = NormalizeCode(code)

	room, ok := reg.lookup(code)
	if !ok {
		return LeaveResult{}
	}

	room.mu.Lock()
	p, ok := room.removeLocked(connID)
	if !ok {
		room.mu.Unlock()
		return LeaveResult{}
	}

	res := LeaveResult{
		Left:    true,
		PeerID:  p.PeerID,
		Name:    p.Name,
		WasHost: p.IsHost,
	}

	now := reg.clock()
	room.lastActivity = now

	if len(room.participants) == 0 {
		room.closed = true
		res.RoomDeleted = true
	} else {
		if p.IsHost {
			res.NewHostConnID = room.promoteLocked()
		}
		res.Roster = room.rosterLocked()
	}
	room.mu.Unlock()

	if res.RoomDeleted {
		reg.delete(code, room)
		metrics.ActiveRooms.Dec()
		metrics.RoomParticipants.DeleteLabelValues(code)
	} else {
		metrics.RoomParticipants.WithLabelValues(code).Set(float64(len(res.Roster)))
	}

	return res
}

// ParticipantsOf returns a roster snapshot, ordered by join time.
func (reg *Registry) ParticipantsOf(code string) []ParticipantView {
	room, ok := reg.lookup(NormalizeCode(code))
	if !ok {
		return nil
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.rosterLocked()
}

// Get reports whether a room with the given code exists.
func (reg *Registry) Get(code string) (*Room, bool) {
	return reg.lookup(NormalizeCode(code))
}

// Touch updates a room's activity timestamp. Unknown rooms are a no-op.
func (reg *Registry) Touch(code string) {
	room, ok := reg.lookup(NormalizeCode(code))
	if !ok {
		return
	}
	room.mu.Lock()
	room.lastActivity = reg.clock()
	room.mu.Unlock()
}

// Recipients snapshots the senders of every room member except the given
// connection. The caller writes to them after this returns; members that
// leave in between simply miss the event.
func (reg *Registry) Recipients(code, exceptConnID string) []Sender {
	room, ok := reg.lookup(NormalizeCode(code))
	if !ok {
		return nil
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.recipientsLocked(exceptConnID)
}

// ResolvePeer finds the member of a room addressed by peer id.
func (reg *Registry) ResolvePeer(code, peerID string) (Sender, ParticipantView, bool) {
	room, ok := reg.lookup(NormalizeCode(code))
	if !ok {
		return nil, ParticipantView{}, false
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	for _, p := range room.participants {
		if p.PeerID == peerID {
			return p.sender, ParticipantView{ConnID: p.ConnID, PeerID: p.PeerID, Name: p.Name, IsHost: p.IsHost, JoinedAt: p.JoinedAt}, true
		}
	}
	return nil, ParticipantView{}, false
}

// Stats is the read-only summary served by the admin surface.
type Stats struct {
	TotalRooms        int            `json:"totalRooms"`
	TotalParticipants int            `json:"totalParticipants"`
	RoomsBySize       map[string]int `json:"roomsBySize"`
}

// StatsSnapshot builds a consistent view of the registry for the admin
// surface.
func (reg *Registry) StatsSnapshot() Stats {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.RUnlock()

	stats := Stats{RoomsBySize: make(map[string]int)}
	for _, r := range rooms {
		size := r.Size()
		if size == 0 {
			continue
		}
		stats.TotalRooms++
		stats.TotalParticipants += size
		stats.RoomsBySize[fmt.Sprintf("%d", size)]++
	}
	return stats
}

// StartedAt returns the registry creation time, used for uptime reporting.
func (reg *Registry) StartedAt() time.Time {
	return reg.startedAt
}

// SweepIdle deletes every room whose activity timestamp is older than the
// cutoff, disconnecting any members still attached. Returns the number of
// rooms evicted.
func (reg *Registry) SweepIdle(idleFor time.Duration) int {
	cutoff := reg.clock().Add(-idleFor)

	reg.mu.Lock()
	var sweptCodes []string
	var orphans []Sender
	for code, room := range reg.rooms {
		room.mu.Lock()
		if room.lastActivity.Before(cutoff) {
			room.closed = true
			orphans = append(orphans, room.recipientsLocked("")...)
			delete(reg.rooms, code)
			sweptCodes = append(sweptCodes, code)
		}
		room.mu.Unlock()
	}
	reg.mu.Unlock()

	for _, code := range sweptCodes {
		metrics.ActiveRooms.Dec()
		metrics.RoomParticipants.DeleteLabelValues(code)
		metrics.RoomsSwept.Inc()
		logging.Info(logging.WithRoom(context.Background(), code), "Swept idle room")
		if reg.onRoomClosed != nil {
			go reg.onRoomClosed(code)
		}
	}
	for _, s := range orphans {
		s.Kick("room evicted after inactivity")
	}

	return len(sweptCodes)
}

// DrainAll deletes every room and disconnects every member. Used during
// graceful shutdown.
func (reg *Registry) DrainAll(reason string) int {
	reg.mu.Lock()
	var codes []string
	var members []Sender
	for code, room := range reg.rooms {
		room.mu.Lock()
		room.closed = true
		members = append(members, room.recipientsLocked("")...)
		room.mu.Unlock()
		delete(reg.rooms, code)
		codes = append(codes, code)
	}
	reg.mu.Unlock()

	for _, code := range codes {
		metrics.ActiveRooms.Dec()
		metrics.RoomParticipants.DeleteLabelValues(code)
		if reg.onRoomClosed != nil {
			go reg.onRoomClosed(code)
		}
	}
	for _, s := range members {
		s.Kick(reason)
	}

	logging.Info(context.Background(), "Drained all rooms", zap.Int("count", len(codes)), zap.String("reason", reason))
	return len(codes)
}

func (reg *Registry) lookup(code string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[code]
	return room, ok
}

// delete removes a specific room instance from the map. The instance check
// guards against deleting a newer room that reused the code.
func (reg *Registry) delete(code string, room *Room) {
	reg.mu.Lock()
	if current, ok := reg.rooms[code]; ok && current == room {
		delete(reg.rooms, code)
	}
	reg.mu.Unlock()

	if reg.onRoomClosed != nil {
		go reg.onRoomClosed(code)
	}
}

func cleanName(name, connID string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fallbackName(connID)
	}
	return trimmed
}
