package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/set"
)

// Sender is the delivery half of a live connection. The registry never owns
// senders; it holds them so fan-out and relay can reach room members without
// the transport layer keeping a parallel roster.
//
// Send must not block: implementations enqueue on a buffered channel and
// report false when the message had to be dropped.
type Sender interface {
	ConnID() string
	Send(data []byte) bool
	Kick(reason string)
}

// Participant is one connection's membership of one room.
type Participant struct {
	ConnID   string
	PeerID   string
	Name     string
	IsHost   bool
	JoinedAt time.Time

	sender Sender
}

// ParticipantView is an immutable copy of a participant, safe to hand across
// the registry boundary.
type ParticipantView struct {
	ConnID   string
	PeerID   string
	Name     string
	IsHost   bool
	JoinedAt time.Time
}

// Room groups the participants exchanging signaling under one code.
//
// All room state is guarded by mu; the registry locks rooms individually so
// traffic in one room never serialises against another. closed marks a room
// that has been removed from the registry map; a Join that raced the removal
// observes it and reports ErrRoomNotFound.
type Room struct {
	code string

	mu           sync.RWMutex
	hostID       string
	participants map[string]*Participant
	peerIDs      set.Set[string]
	createdAt    time.Time
	lastActivity time.Time
	closed       bool
}

// NormalizeCode maps a client-supplied room code to its canonical form.
// Codes differing only in case or surrounding whitespace name the same room.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// fallbackName derives a deterministic display name from the connection id.
func fallbackName(connID string) string {
	id := connID
	if len(id) > 8 {
		id = id[:8]
	}
	return "guest-" + id
}

func newRoom(code string, now time.Time) *Room {
	return &Room{
		code:         code,
		participants: make(map[string]*Participant),
		peerIDs:      set.New[string](),
		createdAt:    now,
		lastActivity: now,
	}
}

// Code returns the room's normalized code.
func (r *Room) Code() string {
	return r.code
}

// HostID returns the connection id of the current host.
func (r *Room) HostID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostID
}

// Size returns the current participant count.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// LastActivity returns the room's activity timestamp.
func (r *Room) LastActivity() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActivity
}

// addLocked inserts a participant. Caller must hold r.mu.
func (r *Room) addLocked(p *Participant) {
	r.participants[p.ConnID] = p
	r.peerIDs.Insert(p.PeerID)
	if p.IsHost {
		r.hostID = p.ConnID
	}
}

// removeLocked removes a participant and returns it. Caller must hold r.mu.
func (r *Room) removeLocked(connID string) (*Participant, bool) {
	p, ok := r.participants[connID]
	if !ok {
		return nil, false
	}
	delete(r.participants, connID)
	r.peerIDs.Delete(p.PeerID)
	return p, true
}

// promoteLocked elects a new host: the oldest-joined remaining participant,
// ties broken by smallest connection id. Caller must hold r.mu and the room
// must be non-empty.
func (r *Room) promoteLocked() string {
	var next *Participant
	for _, p := range r.participants {
		if next == nil {
			next = p
			continue
		}
		if p.JoinedAt.Before(next.JoinedAt) ||
			(p.JoinedAt.Equal(next.JoinedAt) && p.ConnID < next.ConnID) {
			next = p
		}
	}
	next.IsHost = true
	r.hostID = next.ConnID
	return next.ConnID
}

// rosterLocked builds a deterministic snapshot of the membership, ordered by
// join time then connection id. Caller must hold r.mu.
func (r *Room) rosterLocked() []ParticipantView {
	views := make([]ParticipantView, 0, len(r.participants))
	for _, p := range r.participants {
		views = append(views, ParticipantView{
			ConnID:   p.ConnID,
			PeerID:   p.PeerID,
			Name:     p.Name,
			IsHost:   p.IsHost,
			JoinedAt: p.JoinedAt,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		if !views[i].JoinedAt.Equal(views[j].JoinedAt) {
			return views[i].JoinedAt.Before(views[j].JoinedAt)
		}
		return views[i].ConnID < views[j].ConnID
	})
	return views
}

// recipientsLocked snapshots the senders of every member except the given
// connection. Caller must hold r.mu; the caller writes after releasing it.
func (r *Room) recipientsLocked(exceptConnID string) []Sender {
	recipients := make([]Sender, 0, len(r.participants))
	for _, p := range r.participants {
		if p.ConnID == exceptConnID {
			continue
		}
		recipients = append(recipients, p.sender)
	}
	return recipients
}
