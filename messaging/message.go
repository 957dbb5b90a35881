package messaging

import (
	"sync"
	"time"
)

// MessageState is how far a sent message got.
type MessageState uint8

const (
	MessageStatePending MessageState = iota
	MessageStateSending
	// MessageStateDelivered: the friend acknowledged the message.
	MessageStateDelivered
	// MessageStateRelayed: the friend was unreachable and the directory
	// server holds the sealed message until they collect it.
	MessageStateRelayed
	MessageStateFailed
)

var messageStateNames = [...]string{"pending", "sending", "delivered", "relayed", "failed"}

func (s MessageState) String() string {
	if int(s) < len(messageStateNames) {
		return messageStateNames[s]
	}
	return "unknown"
}

// Message is one outgoing direct message and its delivery progress.
type Message struct {
	Peer  string
	Text  []byte
	Sent  time.Time
	State MessageState
	Error error

	mu       sync.Mutex
	onChange func(*Message, MessageState)
}

// NewMessage returns a pending message to peer created at now.
func NewMessage(peer string, text []byte, now time.Time) *Message {
	return &Message{Peer: peer, Text: text, Sent: now}
}

// OnStateChange registers fn to run after every state transition.
func (m *Message) OnStateChange(fn func(*Message, MessageState)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// SetState moves the message to s and notifies the registered callback.
func (m *Message) SetState(s MessageState) {
	m.transition(s, nil)
}

// GetState returns the current state.
func (m *Message) GetState() MessageState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.State
}

func (m *Message) fail(err error) {
	m.transition(MessageStateFailed, err)
}

func (m *Message) transition(s MessageState, err error) {
	m.mu.Lock()
	m.State = s
	if err != nil {
		m.Error = err
	}
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(m, s)
	}
}
