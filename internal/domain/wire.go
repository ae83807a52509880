package domain

// FrameType tags a JSON frame on the realtime connection.
type FrameType string

// Client to server.
const (
	FrameMessage FrameType = "message"
	FramePing    FrameType = "ping"
)

// Server to client.
const (
	FrameConnected      FrameType = "connected"
	FramePong           FrameType = "pong"
	FrameTyping         FrameType = "typing"
	FrameUserMessageAck FrameType = "user_message_ack"
	FrameBotMessage     FrameType = "bot_message"
	FrameSessionUpdate  FrameType = "session_update"
	FrameError          FrameType = "error"
)

// Machine-readable codes carried on error frames, distinct from the
// human-readable text so clients can branch without string matching.
const (
	CodeInvalidMessage   = "INVALID_MESSAGE"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeSessionCompleted = "SESSION_COMPLETED"
	CodeProcessingError  = "PROCESSING_ERROR"
)

// ClientFrame is a frame sent by the client over the socket.
type ClientFrame struct {
	Type        FrameType    `json:"type"`
	Content     string       `json:"content,omitempty"`
	MessageType MessageType  `json:"message_type,omitempty"`
	MessageData *MessageData `json:"message_data,omitempty"`
}

// ServerFrame is a frame sent by the server over the socket. Exactly the
// fields relevant to Type are populated.
type ServerFrame struct {
	Type        FrameType    `json:"type"`
	SessionID   string       `json:"session_id,omitempty"`
	CandidateID string       `json:"candidate_id,omitempty"`
	EmployerID  string       `json:"employer_id,omitempty"`
	IsTyping    bool         `json:"is_typing,omitempty"`
	Message     *ChatMessage `json:"message,omitempty"`
	Session     *ChatSession `json:"session,omitempty"`
	Error       string       `json:"error,omitempty"`
	Code        string       `json:"code,omitempty"`
}
