package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/huddlekit/signaling/internal/v1/config"
	"github.com/huddlekit/signaling/internal/v1/protocol"
	"github.com/huddlekit/signaling/internal/v1/registry"
)

// MockConnection implements wsConnection
type MockConnection struct {
	ReadMessageFunc  func() (int, []byte, error)
	WriteMessageFunc func(int, []byte) error
	CloseFunc        func() error
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	if m.ReadMessageFunc != nil {
		return m.ReadMessageFunc()
	}
	return 0, nil, nil
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}
	return nil
}

func (m *MockConnection) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error          { return nil }
func (m *MockConnection) SetReadDeadline(_ time.Time) error           { return nil }
func (m *MockConnection) SetReadLimit(_ int64)                        {}
func (m *MockConnection) SetPongHandler(_ func(appData string) error) {}

func testConfig() *config.Config {
	return &config.Config{
		Port:            "3001",
		AllowedOrigins:  "http://localhost:3000",
		MaxParticipants: 8,
		RoomIdleTimeout: time.Hour,
		SweepInterval:   5 * time.Minute,
		PingInterval:    25 * time.Second,
		PongTimeout:     60 * time.Second,
	}
}

func newTestHub() *Hub {
	cfg := testConfig()
	return NewHub(registry.New(cfg.MaxParticipants), cfg, nil, nil)
}

// newTestClient builds a client whose pumps are not running, so every frame
// sent to it stays queued on its send channel for inspection.
func newTestClient(h *Hub, connID string) *Client {
	return newClient(h, &MockConnection{}, connID, 25*time.Second, 60*time.Second)
}

// takeFrames drains and decodes everything queued on a client's send channel.
func takeFrames(c *Client) []protocol.Envelope {
	var envs []protocol.Envelope
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return envs
			}
			var env protocol.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				panic(err)
			}
			envs = append(envs, env)
		default:
			return envs
		}
	}
}

// lastFrame returns the most recently queued frame, or a zero envelope.
func lastFrame(c *Client) protocol.Envelope {
	envs := takeFrames(c)
	if len(envs) == 0 {
		return protocol.Envelope{}
	}
	return envs[len(envs)-1]
}

// joinAsHost drives a client through room creation and drains its frames.
func joinAsHost(h *Hub, c *Client, roomCode string) {
	h.handleJoinRoom(testCtx(), c, mustMarshal(protocol.JoinRoomRequest{
		RoomCode: roomCode,
		PeerID:   "peer-" + c.id,
		Name:     "name-" + c.id,
		IsHost:   true,
	}))
	takeFrames(c)
}

// joinAsGuest drives a client through joining and drains its frames.
func joinAsGuest(h *Hub, c *Client, roomCode string) {
	h.handleJoinRoom(testCtx(), c, mustMarshal(protocol.JoinRoomRequest{
		RoomCode: roomCode,
		PeerID:   "peer-" + c.id,
		Name:     "name-" + c.id,
	}))
	takeFrames(c)
}

func testCtx() context.Context {
	return context.Background()
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
