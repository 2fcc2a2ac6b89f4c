package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	frame, err := Encode(EventRoomError, RoomError{Code: CodeRoomNotFound, Message: "no such room"})
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"event":"room-error","data":{"code":"ROOM_NOT_FOUND","message":"no such room"}}`,
		string(frame))
}

func TestEncode_NilPayloadOmitsData(t *testing.T) {
	frame, err := Encode(EventRoomLeft, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"room-left"}`, string(frame))
}

func TestEnvelope_RoundTrip(t *testing.T) {
	frame := MustEncode(EventJoinRoom, JoinRoomRequest{
		RoomCode: "room-a",
		PeerID:   "peer-1",
		Name:     "Alice",
		IsHost:   true,
	})

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, EventJoinRoom, env.Event)

	var req JoinRoomRequest
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, "room-a", req.RoomCode)
	assert.True(t, req.IsHost)
}

func TestRelayPayload_FragmentPassesThroughVerbatim(t *testing.T) {
	// The candidate blob is opaque; whatever the client sent is preserved
	// byte-for-byte, including fields the hub knows nothing about.
	raw := `{"candidate":"candidate:842 1 udp 1677729535","sdpMid":"0","weird":[1,2]}`

	var p RelayPayload
	require.NoError(t, json.Unmarshal([]byte(`{"to":"peer-2","candidate":`+raw+`}`), &p))
	assert.JSONEq(t, raw, string(p.Candidate))

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"weird":[1,2]`)
}

func TestClampChat(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"passthrough", "hello", "hello"},
		{"trims whitespace", "  hello  ", "hello"},
		{"whitespace only", "   \t\n ", ""},
		{"empty", "", ""},
		{"exactly at cap", strings.Repeat("a", MaxChatLength), strings.Repeat("a", MaxChatLength)},
		{"one over cap", strings.Repeat("a", MaxChatLength+1), strings.Repeat("a", MaxChatLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampChat(tt.input))
		})
	}
}

func TestClampChat_TruncatesOnRunes(t *testing.T) {
	// Multi-byte code points count as one; truncation never splits a rune.
	input := strings.Repeat("é", MaxChatLength+5)
	got := ClampChat(input)
	assert.Equal(t, MaxChatLength, len([]rune(got)))
	assert.Equal(t, strings.Repeat("é", MaxChatLength), got)
}

func TestMustEncode_PanicsOnUnmarshalable(t *testing.T) {
	assert.Panics(t, func() {
		MustEncode(EventChatMessage, map[string]any{"bad": make(chan int)})
	})
}
