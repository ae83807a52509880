package transport

import (
	"fmt"

	"github.com/aivira/jobchat/internal/domain"
	"github.com/google/uuid"
)

// State is the connection state of a Manager. It is owned exclusively by the
// Manager; consumers only observe it through StatusEvent.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Machine-readable transport error codes, distinct from the human-readable
// message so callers can branch without string matching.
const (
	CodeConnectionError = "CONNECTION_ERROR"
	CodeMaxReconnect    = "MAX_RECONNECT_REACHED"
)

// Error is a transport-level failure with a machine-readable code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Event is one entry on the Manager's event channel. It is a closed set:
// every server frame and every status transition maps to exactly one variant.
type Event interface {
	transportEvent()
}

// StatusEvent reports a connection state transition.
type StatusEvent struct {
	State  State
	Reason string
}

// ConnectedEvent is emitted once per handshake, after the server confirms the
// session/owner pair. Queued messages are flushed before this is delivered.
type ConnectedEvent struct {
	SessionID uuid.UUID
	OwnerID   uuid.UUID
}

// BotMessageEvent carries a server-issued bot message.
type BotMessageEvent struct {
	Message domain.ChatMessage
}

// UserMessageAckEvent carries the server-confirmed copy of a user message.
type UserMessageAckEvent struct {
	Message domain.ChatMessage
}

// TypingEvent reports the bot's typing indicator.
type TypingEvent struct {
	IsTyping bool
}

// SessionUpdateEvent carries the server's view of the session after a change.
type SessionUpdateEvent struct {
	Session domain.ChatSession
}

// ErrorEvent reports a transport or server error.
type ErrorEvent struct {
	Code    string
	Message string
}

func (StatusEvent) transportEvent()         {}
func (ConnectedEvent) transportEvent()      {}
func (BotMessageEvent) transportEvent()     {}
func (UserMessageAckEvent) transportEvent() {}
func (TypingEvent) transportEvent()         {}
func (SessionUpdateEvent) transportEvent()  {}
func (ErrorEvent) transportEvent()          {}
