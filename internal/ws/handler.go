package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aivira/jobchat/internal/domain"
	"github.com/aivira/jobchat/internal/service"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler upgrades chat connections and serves the frame protocol. The first
// frame after the upgrade is always the connected ack; clients treat the
// session as live only once they have seen it.
type Handler struct {
	chatService    *service.ChatService
	registry       *Registry
	allowedOrigins []string
}

// NewHandler creates a new realtime chat handler.
func NewHandler(chatService *service.ChatService, registry *Registry, allowedOrigins []string) *Handler {
	return &Handler{
		chatService:    chatService,
		registry:       registry,
		allowedOrigins: allowedOrigins,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session ID", http.StatusBadRequest)
		return
	}

	ownerID, role, err := ownerFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	swm, err := h.chatService.GetSession(r.Context(), sessionID, ownerID)
	if err != nil {
		switch err {
		case domain.ErrSessionNotFound:
			http.Error(w, "session not found", http.StatusNotFound)
		case domain.ErrOwnerMismatch:
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	if swm.Session.OwnerRole != role {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session ended")

	h.registry.Register(ownerID, sessionID, conn)
	defer h.registry.Unregister(ownerID, sessionID, conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ack := domain.ServerFrame{Type: domain.FrameConnected, SessionID: sessionID.String()}
	switch role {
	case domain.OwnerCandidate:
		ack.CandidateID = ownerID.String()
	case domain.OwnerEmployer:
		ack.EmployerID = ownerID.String()
	}
	if err := h.writeFrame(ctx, conn, ack); err != nil {
		return
	}

	h.serve(ctx, conn, sessionID, ownerID)
}

// serve is the per-connection read loop. All writes happen from this
// goroutine, so frames for one exchange are never interleaved.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, sessionID, ownerID uuid.UUID) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Debug().Err(err).Str("session_id", sessionID.String()).Msg("websocket read error")
			}
			return
		}

		var frame domain.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if h.writeError(ctx, conn, domain.CodeInvalidMessage, "malformed frame") != nil {
				return
			}
			continue
		}

		switch frame.Type {
		case domain.FramePing:
			if h.writeFrame(ctx, conn, domain.ServerFrame{Type: domain.FramePong}) != nil {
				return
			}
		case domain.FrameMessage:
			if h.handleMessage(ctx, conn, sessionID, ownerID, frame) != nil {
				return
			}
		default:
			if h.writeError(ctx, conn, domain.CodeInvalidMessage, "unknown frame type") != nil {
				return
			}
		}
	}
}

// handleMessage runs one step-engine exchange and streams the result:
// typing on, user ack, bot replies, typing off, then the session update.
func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, sessionID, ownerID uuid.UUID, frame domain.ClientFrame) error {
	req := domain.SendMessageRequest{
		Content:     frame.Content,
		MessageType: frame.MessageType,
		MessageData: frame.MessageData,
	}
	if req.Content == "" {
		return h.writeError(ctx, conn, domain.CodeInvalidMessage, "empty message")
	}
	if req.MessageType == "" {
		req.MessageType = domain.MessageText
	}
	if !req.MessageType.Valid() {
		return h.writeError(ctx, conn, domain.CodeInvalidMessage, "unknown message type")
	}

	if err := h.writeFrame(ctx, conn, domain.ServerFrame{Type: domain.FrameTyping, IsTyping: true}); err != nil {
		return err
	}

	result, session, err := h.chatService.ProcessMessage(ctx, sessionID, ownerID, req)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to process message")
		if werr := h.writeFrame(ctx, conn, domain.ServerFrame{Type: domain.FrameTyping, IsTyping: false}); werr != nil {
			return werr
		}
		code, text := processError(err)
		return h.writeError(ctx, conn, code, text)
	}

	user := result.UserMessage
	if err := h.writeFrame(ctx, conn, domain.ServerFrame{Type: domain.FrameUserMessageAck, Message: &user}); err != nil {
		return err
	}
	for i := range result.BotMessages {
		if err := h.writeFrame(ctx, conn, domain.ServerFrame{Type: domain.FrameBotMessage, Message: &result.BotMessages[i]}); err != nil {
			return err
		}
	}
	if err := h.writeFrame(ctx, conn, domain.ServerFrame{Type: domain.FrameTyping, IsTyping: false}); err != nil {
		return err
	}
	return h.writeFrame(ctx, conn, domain.ServerFrame{Type: domain.FrameSessionUpdate, Session: session})
}

func (h *Handler) writeFrame(ctx context.Context, conn *websocket.Conn, frame domain.ServerFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *Handler) writeError(ctx context.Context, conn *websocket.Conn, code, message string) error {
	return h.writeFrame(ctx, conn, domain.ServerFrame{Type: domain.FrameError, Code: code, Error: message})
}

// processError maps a service failure to an error-frame code and text.
func processError(err error) (string, string) {
	switch err {
	case domain.ErrSessionCompleted:
		return domain.CodeSessionCompleted, "session is no longer active"
	case domain.ErrSessionNotFound:
		return domain.CodeSessionNotFound, "session not found"
	default:
		return domain.CodeProcessingError, "failed to process message"
	}
}

func ownerFromQuery(r *http.Request) (uuid.UUID, domain.OwnerRole, error) {
	if v := r.URL.Query().Get("candidate_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, "", errInvalidOwner
		}
		return id, domain.OwnerCandidate, nil
	}
	if v := r.URL.Query().Get("employer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, "", errInvalidOwner
		}
		return id, domain.OwnerEmployer, nil
	}
	return uuid.Nil, "", errMissingOwner
}

var (
	errInvalidOwner = &ownerError{"invalid owner ID"}
	errMissingOwner = &ownerError{"candidate_id or employer_id is required"}
)

type ownerError struct{ msg string }

func (e *ownerError) Error() string { return e.msg }
