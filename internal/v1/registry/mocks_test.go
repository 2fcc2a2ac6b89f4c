package registry

import (
	"sync"
)

// mockSender implements Sender for testing. It records everything delivered
// to it and any kick reasons.
type mockSender struct {
	id string

	mu      sync.Mutex
	frames  [][]byte
	kicks   []string
	dropAll bool
}

func newMockSender(id string) *mockSender {
	return &mockSender{id: id}
}

func (m *mockSender) ConnID() string { return m.id }

func (m *mockSender) Send(data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropAll {
		return false
	}
	m.frames = append(m.frames, data)
	return true
}

func (m *mockSender) Kick(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kicks = append(m.kicks, reason)
}

func (m *mockSender) kickReasons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.kicks...)
}

func (m *mockSender) frameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}
