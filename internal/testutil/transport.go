package testutil

import (
	"sync"

	"github.com/tmorgen/airvane/internal/wmi"
)

// Compile-time interface check.
var _ wmi.Transport = (*MockTransport)(nil)

// SentCommand is one command recorded by the mock transport.
type SentCommand struct {
	CmdID   uint32
	Payload []byte
}

// MockTransport is a thread-safe in-memory firmware transport that records
// every sent command for later inspection. An optional OnSend hook lets a
// test script firmware behavior, typically by injecting response events back
// into the device.
type MockTransport struct {
	mu   sync.Mutex
	sent []SentCommand

	// OnSend, when set, runs after each send is recorded, outside the
	// transport lock. It must not call back into Commands or Reset while a
	// concurrent test goroutine does the same.
	OnSend func(cmdID uint32, payload []byte)

	// FailSends makes every Send return SendErr without recording.
	FailSends bool
	SendErr   error
}

// NewMockTransport returns a new MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Send records the command and runs the OnSend hook.
func (m *MockTransport) Send(cmdID uint32, payload []byte) error {
	m.mu.Lock()
	if m.FailSends {
		m.mu.Unlock()
		return m.SendErr
	}
	m.sent = append(m.sent, SentCommand{
		CmdID:   cmdID,
		Payload: append([]byte(nil), payload...),
	})
	hook := m.OnSend
	m.mu.Unlock()

	if hook != nil {
		hook(cmdID, payload)
	}
	return nil
}

// Commands returns a copy of all recorded commands.
func (m *MockTransport) Commands() []SentCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentCommand, len(m.sent))
	copy(out, m.sent)
	return out
}

// CommandIDs returns just the recorded command ids, in send order.
func (m *MockTransport) CommandIDs() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint32, len(m.sent))
	for i, c := range m.sent {
		ids[i] = c.CmdID
	}
	return ids
}

// SentOp reports whether op was sent at least once, resolved in the given
// variant's id space.
func (m *MockTransport) SentOp(v wmi.Variant, op wmi.Op) bool {
	id, ok := v.CommandID(op)
	if !ok {
		return false
	}
	for _, cid := range m.CommandIDs() {
		if cid == id {
			return true
		}
	}
	return false
}

// Reset clears all recorded commands.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
