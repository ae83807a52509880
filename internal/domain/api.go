package domain

// Request and response shapes shared by the REST handlers and the fallback
// client.

// CreateSessionRequest starts or resumes a session for the authenticated
// owner. Without ForceNew an existing active session of the same type is
// resumed instead of creating a new one.
type CreateSessionRequest struct {
	SessionType SessionType `json:"session_type" validate:"required,oneof=job_creation resume_creation"`
	ForceNew    bool        `json:"force_new"`
}

// SendMessageRequest is the REST fallback send payload.
type SendMessageRequest struct {
	Content     string       `json:"content" validate:"required,max=8000"`
	MessageType MessageType  `json:"message_type" validate:"required"`
	MessageData *MessageData `json:"message_data,omitempty"`
}

// SessionWithMessages is a session plus its full message history.
type SessionWithMessages struct {
	Session  ChatSession   `json:"session"`
	Messages []ChatMessage `json:"messages"`
}

// SessionPage is one page of an owner's sessions.
type SessionPage struct {
	Sessions []ChatSession `json:"sessions"`
	HasMore  bool          `json:"has_more"`
}

// SendResult pairs the confirmed user message with the bot's replies.
type SendResult struct {
	UserMessage ChatMessage   `json:"user_message"`
	BotMessages []ChatMessage `json:"bot_messages"`
}
