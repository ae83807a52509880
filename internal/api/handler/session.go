package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aivira/jobchat/internal/api/middleware"
	"github.com/aivira/jobchat/internal/api/response"
	"github.com/aivira/jobchat/internal/domain"
	"github.com/aivira/jobchat/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// SessionCloser shuts down live realtime connections for an owner. Satisfied
// by *ws.Registry; may be nil when no realtime endpoint is mounted.
type SessionCloser interface {
	CloseOwner(ownerID uuid.UUID)
}

type SessionHandler struct {
	chatService *service.ChatService
	realtime    SessionCloser
	validate    *validator.Validate
}

func NewSessionHandler(chatService *service.ChatService, realtime SessionCloser) *SessionHandler {
	return &SessionHandler{
		chatService: chatService,
		realtime:    realtime,
		validate:    validator.New(),
	}
}

// Create opens a new scripted session, or resumes the owner's active one of
// the same type unless force_new is set.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		response.Unauthorized(w, "owner not found")
		return
	}
	role, _ := middleware.GetOwnerRole(r.Context())

	var req domain.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.chatService.CreateSession(r.Context(), ownerID, role, req.SessionType, req.ForceNew)
	if err != nil {
		response.InternalError(w, "failed to create session")
		return
	}

	response.Created(w, result)
}

// Get returns one session with its full message history.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		response.Unauthorized(w, "owner not found")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	result, err := h.chatService.GetSession(r.Context(), sessionID, ownerID)
	if err != nil {
		writeServiceError(w, err, "failed to fetch session")
		return
	}

	response.OK(w, result)
}

// List returns a page of the owner's sessions, newest first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		response.Unauthorized(w, "owner not found")
		return
	}

	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	page, err := h.chatService.ListSessions(r.Context(), ownerID, limit, offset)
	if err != nil {
		response.InternalError(w, "failed to list sessions")
		return
	}

	response.OK(w, page)
}

// Delete removes a session and all of its messages.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		response.Unauthorized(w, "owner not found")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	if err := h.chatService.DeleteSession(r.Context(), sessionID, ownerID); err != nil {
		writeServiceError(w, err, "failed to delete session")
		return
	}

	// Sockets still serving the deleted session must not keep running the
	// step engine against a row that no longer exists.
	if h.realtime != nil {
		h.realtime.CloseOwner(ownerID)
	}

	response.NoContent(w)
}

// SendMessage runs one step-engine exchange over plain HTTP. Used when the
// realtime connection is unavailable.
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.GetOwnerID(r.Context())
	if !ok {
		response.Unauthorized(w, "owner not found")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	var req domain.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	if req.MessageType == "" {
		req.MessageType = domain.MessageText
	}
	if !req.MessageType.Valid() {
		response.BadRequest(w, "unknown message type")
		return
	}

	result, _, err := h.chatService.ProcessMessage(r.Context(), sessionID, ownerID, req)
	if err != nil {
		writeServiceError(w, err, "failed to process message")
		return
	}

	response.OK(w, result)
}

func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch err {
	case domain.ErrSessionNotFound:
		response.NotFound(w, "session not found")
	case domain.ErrOwnerMismatch:
		response.Forbidden(w, "session belongs to another owner")
	case domain.ErrSessionCompleted:
		response.Conflict(w, "session is no longer active")
	default:
		response.InternalError(w, fallback)
	}
}
