package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock returns a clock that advances by step on each call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func TestCreateRoom(t *testing.T) {
	reg := New(8)
	sender := newMockSender("conn-1")

	roster, err := reg.Create("Meeting-42", "conn-1", "peer-1", "Alice", sender)
	require.NoError(t, err)
	require.Len(t, roster, 1)

	assert.Equal(t, "conn-1", roster[0].ConnID)
	assert.Equal(t, "peer-1", roster[0].PeerID)
	assert.Equal(t, "Alice", roster[0].Name)
	assert.True(t, roster[0].IsHost)

	// Code is normalized on the way in.
	room, ok := reg.Get("meeting-42")
	require.True(t, ok)
	assert.Equal(t, "meeting-42", room.Code())
	assert.Equal(t, "conn-1", room.HostID())
}

func TestCreateRoom_CodeTaken(t *testing.T) {
	reg := New(8)
	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)

	// Same code, different case: same room.
	_, err = reg.Create("ROOM-A", "conn-2", "peer-2", "Bob", newMockSender("conn-2"))
	assert.ErrorIs(t, err, ErrRoomExists)
}

func TestJoinRoom(t *testing.T) {
	reg := New(8)
	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)

	self, roster, err := reg.Join("room-a", "conn-2", "peer-2", "Bob", newMockSender("conn-2"))
	require.NoError(t, err)

	assert.Equal(t, "conn-2", self.ConnID)
	assert.False(t, self.IsHost)
	require.Len(t, roster, 2)

	// Roster is ordered by join time: host first.
	assert.Equal(t, "conn-1", roster[0].ConnID)
	assert.True(t, roster[0].IsHost)
	assert.Equal(t, "conn-2", roster[1].ConnID)
}

func TestJoinRoom_NotFound(t *testing.T) {
	reg := New(8)
	_, _, err := reg.Join("missing", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinRoom_Full(t *testing.T) {
	reg := New(2)
	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)

	_, _, err = reg.Join("room-a", "conn-2", "peer-2", "Bob", newMockSender("conn-2"))
	require.NoError(t, err)

	// At the cap: third admission is refused, the room stays intact.
	_, _, err = reg.Join("room-a", "conn-3", "peer-3", "Carol", newMockSender("conn-3"))
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Len(t, reg.ParticipantsOf("room-a"), 2)
}

func TestJoinRoom_Idempotent(t *testing.T) {
	reg := New(8)
	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)

	first, _, err := reg.Join("room-a", "conn-2", "peer-2", "Bob", newMockSender("conn-2"))
	require.NoError(t, err)

	// Same connection joining again returns the existing record, no duplicate.
	second, roster, err := reg.Join("room-a", "conn-2", "peer-other", "Other", newMockSender("conn-2"))
	require.NoError(t, err)
	assert.Equal(t, first.PeerID, second.PeerID)
	assert.Equal(t, first.Name, second.Name)
	assert.Len(t, roster, 2)
}

func TestJoinRoom_PeerIDTaken(t *testing.T) {
	reg := New(8)
	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)

	_, _, err = reg.Join("room-a", "conn-2", "peer-1", "Bob", newMockSender("conn-2"))
	assert.ErrorIs(t, err, ErrPeerIDTaken)
}

func TestJoin_FallbackName(t *testing.T) {
	reg := New(8)
	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)

	self, _, err := reg.Join("room-a", "abcdef1234567890", "peer-2", "   ", newMockSender("abcdef1234567890"))
	require.NoError(t, err)
	assert.Equal(t, "guest-abcdef12", self.Name)
}

func TestLeave_LastParticipantDeletesRoom(t *testing.T) {
	reg := New(8)
	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)

	res := reg.Leave("room-a", "conn-1")
	assert.True(t, res.Left)
	assert.True(t, res.WasHost)
	assert.True(t, res.RoomDeleted)

	_, ok := reg.Get("room-a")
	assert.False(t, ok)
}

func TestLeave_HostPromotion(t *testing.T) {
	reg := New(8)
	reg.clock = fixedClock(time.Unix(1000, 0), time.Second)

	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)
	_, _, err = reg.Join("room-a", "conn-2", "peer-2", "Bob", newMockSender("conn-2"))
	require.NoError(t, err)
	_, _, err = reg.Join("room-a", "conn-3", "peer-3", "Carol", newMockSender("conn-3"))
	require.NoError(t, err)

	// Host leaves; the oldest-joined remaining participant is promoted.
	res := reg.Leave("room-a", "conn-1")
	require.True(t, res.Left)
	assert.True(t, res.WasHost)
	assert.False(t, res.RoomDeleted)
	assert.Equal(t, "conn-2", res.NewHostConnID)

	require.Len(t, res.Roster, 2)
	assert.Equal(t, "conn-2", res.Roster[0].ConnID)
	assert.True(t, res.Roster[0].IsHost)
	assert.False(t, res.Roster[1].IsHost)
}

func TestLeave_HostPromotionTieBreaksOnConnID(t *testing.T) {
	reg := New(8)
	frozen := time.Unix(1000, 0)
	reg.clock = func() time.Time { return frozen }

	_, err := reg.Create("room-a", "conn-host", "peer-h", "Host", newMockSender("conn-host"))
	require.NoError(t, err)
	_, _, err = reg.Join("room-a", "conn-z", "peer-z", "Zed", newMockSender("conn-z"))
	require.NoError(t, err)
	_, _, err = reg.Join("room-a", "conn-a", "peer-a", "Ann", newMockSender("conn-a"))
	require.NoError(t, err)

	// Both remaining joined at the same instant; smallest conn id wins.
	res := reg.Leave("room-a", "conn-host")
	assert.Equal(t, "conn-a", res.NewHostConnID)
}

func TestLeave_NonHostDoesNotPromote(t *testing.T) {
	reg := New(8)
	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)
	_, _, err = reg.Join("room-a", "conn-2", "peer-2", "Bob", newMockSender("conn-2"))
	require.NoError(t, err)

	res := reg.Leave("room-a", "conn-2")
	assert.True(t, res.Left)
	assert.False(t, res.WasHost)
	assert.Empty(t, res.NewHostConnID)

	room, ok := reg.Get("room-a")
	require.True(t, ok)
	assert.Equal(t, "conn-1", room.HostID())
}

func TestLeave_UnknownRoomAndConnection(t *testing.T) {
	reg := New(8)
	assert.False(t, reg.Leave("missing", "conn-1").Left)

	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)
	assert.False(t, reg.Leave("room-a", "conn-ghost").Left)

	// Double leave: second call is a no-op.
	assert.True(t, reg.Leave("room-a", "conn-1").Left)
	assert.False(t, reg.Leave("room-a", "conn-1").Left)
}

func TestPeerIDReusableAfterLeave(t *testing.T) {
	reg := New(8)
	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)
	_, _, err = reg.Join("room-a", "conn-2", "peer-2", "Bob", newMockSender("conn-2"))
	require.NoError(t, err)

	reg.Leave("room-a", "conn-2")

	_, _, err = reg.Join("room-a", "conn-3", "peer-2", "Bob2", newMockSender("conn-3"))
	assert.NoError(t, err)
}

func TestRecipients_ExcludesOriginator(t *testing.T) {
	reg := New(8)
	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)
	_, _, err = reg.Join("room-a", "conn-2", "peer-2", "Bob", newMockSender("conn-2"))
	require.NoError(t, err)
	_, _, err = reg.Join("room-a", "conn-3", "peer-3", "Carol", newMockSender("conn-3"))
	require.NoError(t, err)

	recipients := reg.Recipients("room-a", "conn-2")
	require.Len(t, recipients, 2)
	for _, r := range recipients {
		assert.NotEqual(t, "conn-2", r.ConnID())
	}

	assert.Nil(t, reg.Recipients("missing", "conn-1"))
}

func TestResolvePeer(t *testing.T) {
	reg := New(8)
	sender := newMockSender("conn-1")
	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", sender)
	require.NoError(t, err)

	got, view, ok := reg.ResolvePeer("room-a", "peer-1")
	require.True(t, ok)
	assert.Equal(t, "conn-1", got.ConnID())
	assert.Equal(t, "Alice", view.Name)

	_, _, ok = reg.ResolvePeer("room-a", "peer-ghost")
	assert.False(t, ok)
	_, _, ok = reg.ResolvePeer("missing", "peer-1")
	assert.False(t, ok)
}

func TestTouchUpdatesActivity(t *testing.T) {
	reg := New(8)
	reg.clock = fixedClock(time.Unix(1000, 0), time.Minute)

	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)

	room, ok := reg.Get("room-a")
	require.True(t, ok)
	before := room.LastActivity()

	reg.Touch("room-a")
	assert.True(t, room.LastActivity().After(before))

	// Unknown room: no panic.
	reg.Touch("missing")
}

func TestStatsSnapshot(t *testing.T) {
	reg := New(8)
	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)
	_, _, err = reg.Join("room-a", "conn-2", "peer-2", "Bob", newMockSender("conn-2"))
	require.NoError(t, err)
	_, err = reg.Create("room-b", "conn-3", "peer-3", "Carol", newMockSender("conn-3"))
	require.NoError(t, err)

	stats := reg.StatsSnapshot()
	assert.Equal(t, 2, stats.TotalRooms)
	assert.Equal(t, 3, stats.TotalParticipants)
	assert.Equal(t, map[string]int{"1": 1, "2": 1}, stats.RoomsBySize)
}

func TestStatsSnapshot_Empty(t *testing.T) {
	reg := New(8)
	stats := reg.StatsSnapshot()
	assert.Equal(t, 0, stats.TotalRooms)
	assert.Equal(t, 0, stats.TotalParticipants)
	assert.Empty(t, stats.RoomsBySize)
}

func TestDrainAll(t *testing.T) {
	reg := New(8)
	s1 := newMockSender("conn-1")
	s2 := newMockSender("conn-2")
	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", s1)
	require.NoError(t, err)
	_, err = reg.Create("room-b", "conn-2", "peer-2", "Bob", s2)
	require.NoError(t, err)

	count := reg.DrainAll("server shutting down")
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"server shutting down"}, s1.kickReasons())
	assert.Equal(t, []string{"server shutting down"}, s2.kickReasons())
	assert.Equal(t, 0, reg.StatsSnapshot().TotalRooms)
}

func TestRoomClosedHook(t *testing.T) {
	reg := New(8)

	closed := make(chan string, 1)
	reg.SetRoomClosedHook(func(code string) { closed <- code })

	_, err := reg.Create("room-a", "conn-1", "peer-1", "Alice", newMockSender("conn-1"))
	require.NoError(t, err)
	reg.Leave("room-a", "conn-1")

	select {
	case code := <-closed:
		assert.Equal(t, "room-a", code)
	case <-time.After(time.Second):
		t.Fatal("room-closed hook never fired")
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	reg := New(200)
	_, err := reg.Create("room-a", "conn-host", "peer-host", "Host", newMockSender("conn-host"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("conn-%d", i)
			peerID := fmt.Sprintf("peer-%d", i)
			if _, _, err := reg.Join("room-a", connID, peerID, "Guest", newMockSender(connID)); err != nil {
				t.Errorf("join %s: %v", connID, err)
				return
			}
			reg.Touch("room-a")
			if i%2 == 0 {
				reg.Leave("room-a", connID)
			}
		}(i)
	}
	wg.Wait()

	// Host plus the odd-numbered joiners remain.
	assert.Equal(t, 26, len(reg.ParticipantsOf("room-a")))
}

func TestConcurrentCreate_SingleWinner(t *testing.T) {
	reg := New(8)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("conn-%d", i)
			_, errs[i] = reg.Create("room-a", connID, fmt.Sprintf("peer-%d", i), "Host", newMockSender(connID))
		}(i)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.True(t, errors.Is(err, ErrRoomExists))
		}
	}
	assert.Equal(t, 1, won)
}
