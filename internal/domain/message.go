package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleUser MessageRole = "user"
	RoleBot  MessageRole = "bot"
)

// MessageType is the closed set of message shapes. It drives both rendering
// and the input affordance the client shows for the latest bot message.
type MessageType string

const (
	MessageText          MessageType = "text"
	MessageButtons       MessageType = "buttons"
	MessageBoolean       MessageType = "boolean"
	MessageInputText     MessageType = "input_text"
	MessageInputTextarea MessageType = "input_textarea"
	MessageInputNumber   MessageType = "input_number"
	MessageInputDate     MessageType = "input_date"
	MessageMultiSelect   MessageType = "multi_select"
	MessageFileUpload    MessageType = "file_upload"
	MessageLoading       MessageType = "loading"
	MessageError         MessageType = "error"
	MessagePreview       MessageType = "preview"

	// MessageButtonClick is user-only: the structured reply to a buttons,
	// boolean, or multi_select prompt.
	MessageButtonClick MessageType = "button_click"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageButtons, MessageBoolean, MessageInputText,
		MessageInputTextarea, MessageInputNumber, MessageInputDate,
		MessageMultiSelect, MessageFileUpload, MessageLoading,
		MessageError, MessagePreview, MessageButtonClick:
		return true
	}
	return false
}

// Button is a selectable choice attached to a buttons-typed message.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MessageData is the type-dependent payload of a message.
type MessageData struct {
	Buttons     []Button       `json:"buttons,omitempty"`
	Choices     []string       `json:"choices,omitempty"`
	FileURL     string         `json:"file_url,omitempty"`
	FileName    string         `json:"file_name,omitempty"`
	Percent     int            `json:"percent,omitempty"`
	Preview     map[string]any `json:"preview,omitempty"`
	RetryAction string         `json:"retry_action,omitempty"`
}

// ChatMessage is a single entry in a session's history.
//
// Pending marks a client-synthesized user message that has not been confirmed
// by the server yet; Ephemeral marks a local loading placeholder. Neither is
// ever persisted or sent on the wire as true by the server.
type ChatMessage struct {
	ID        uuid.UUID    `json:"id"`
	SessionID uuid.UUID    `json:"session_id"`
	Role      MessageRole  `json:"role"`
	Content   string       `json:"content"`
	Type      MessageType  `json:"message_type"`
	Data      *MessageData `json:"message_data,omitempty"`
	Pending   bool         `json:"pending,omitempty"`
	Ephemeral bool         `json:"ephemeral,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// MessageRepository defines the interface for message storage
type MessageRepository interface {
	Create(ctx context.Context, message *ChatMessage) error
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]ChatMessage, error)
	DeleteBySession(ctx context.Context, sessionID uuid.UUID) error
}
