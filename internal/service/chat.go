package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aivira/jobchat/internal/domain"
	"github.com/aivira/jobchat/internal/repository/redis"
	"github.com/aivira/jobchat/internal/steps"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const historyLimit = 200

// ChatService runs the scripted conversation flows on the server: session
// lifecycle plus one step-engine exchange per user message. Both the REST
// fallback path and the realtime path go through the same methods.
type ChatService struct {
	sessionRepo domain.SessionRepository
	messageRepo domain.MessageRepository
	active      *redis.ActiveSessionIndex
}

// NewChatService creates a new chat service. The active-session index may be
// nil; enforcement then falls back to the repository query alone.
func NewChatService(sessionRepo domain.SessionRepository, messageRepo domain.MessageRepository, active *redis.ActiveSessionIndex) *ChatService {
	return &ChatService{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		active:      active,
	}
}

// CreateSession creates a session for the owner, or resumes the existing
// active one of the same type unless forceNew is set. Forcing over an active
// session classifies the old one as abandoned.
func (s *ChatService) CreateSession(ctx context.Context, ownerID uuid.UUID, role domain.OwnerRole, sessionType domain.SessionType, forceNew bool) (*domain.SessionWithMessages, error) {
	existing, err := s.findActive(ctx, ownerID, sessionType)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if !forceNew {
			messages, err := s.messageRepo.ListBySession(ctx, existing.ID, historyLimit)
			if err != nil {
				return nil, fmt.Errorf("failed to load session history: %w", err)
			}
			return &domain.SessionWithMessages{Session: *existing, Messages: messages}, nil
		}

		existing.Status = domain.StatusAbandoned
		existing.UpdatedAt = time.Now()
		if err := s.sessionRepo.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to abandon previous session: %w", err)
		}
	}

	table := steps.ForFlow(sessionType)
	now := time.Now()
	session := &domain.ChatSession{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		OwnerRole:     role,
		Type:          sessionType,
		Status:        domain.StatusActive,
		Step:          table.Start(),
		CollectedData: map[string]any{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	welcome := botMessage(session.ID, table, table.Start(), session.CollectedData)
	if err := s.messageRepo.Create(ctx, &welcome); err != nil {
		return nil, fmt.Errorf("failed to seed welcome message: %w", err)
	}

	if s.active != nil {
		if err := s.active.Set(ctx, ownerID, sessionType, session.ID); err != nil {
			log.Warn().Err(err).Msg("failed to index active session")
		}
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("owner_id", ownerID.String()).
		Str("type", string(sessionType)).
		Msg("session created")

	return &domain.SessionWithMessages{Session: *session, Messages: []domain.ChatMessage{welcome}}, nil
}

// GetSession returns a session with full history, verifying ownership.
func (s *ChatService) GetSession(ctx context.Context, sessionID, ownerID uuid.UUID) (*domain.SessionWithMessages, error) {
	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != ownerID {
		return nil, domain.ErrOwnerMismatch
	}

	messages, err := s.messageRepo.ListBySession(ctx, sessionID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}
	return &domain.SessionWithMessages{Session: *session, Messages: messages}, nil
}

// ListSessions returns one page of the owner's sessions with a has-more flag.
func (s *ChatService) ListSessions(ctx context.Context, ownerID uuid.UUID, limit, offset int) (*domain.SessionPage, error) {
	if limit <= 0 {
		limit = 20
	}
	// Fetch one extra row to decide has_more without a count query.
	sessions, err := s.sessionRepo.ListByOwner(ctx, ownerID, limit+1, offset)
	if err != nil {
		return nil, err
	}

	page := &domain.SessionPage{Sessions: sessions}
	if len(sessions) > limit {
		page.Sessions = sessions[:limit]
		page.HasMore = true
	}
	return page, nil
}

// DeleteSession removes a session and its messages. This is the only hard
// delete path and always follows an explicit user action.
func (s *ChatService) DeleteSession(ctx context.Context, sessionID, ownerID uuid.UUID) error {
	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.OwnerID != ownerID {
		return domain.ErrOwnerMismatch
	}

	if err := s.messageRepo.DeleteBySession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.sessionRepo.Delete(ctx, sessionID); err != nil {
		return err
	}

	if s.active != nil && session.Status == domain.StatusActive {
		if err := s.active.Clear(ctx, ownerID, session.Type); err != nil {
			log.Warn().Err(err).Msg("failed to clear active session index")
		}
	}

	log.Info().Str("session_id", sessionID.String()).Msg("session deleted")
	return nil
}

// ProcessMessage runs one exchange: store the user message, record the
// answer, advance the step, and produce the next bot prompt. Returns the
// confirmed user message, the bot replies, and the updated session.
func (s *ChatService) ProcessMessage(ctx context.Context, sessionID, ownerID uuid.UUID, req domain.SendMessageRequest) (*domain.SendResult, *domain.ChatSession, error) {
	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.OwnerID != ownerID {
		return nil, nil, domain.ErrOwnerMismatch
	}
	if session.Status != domain.StatusActive {
		return nil, nil, domain.ErrSessionCompleted
	}

	now := time.Now()
	userMsg := domain.ChatMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   req.Content,
		Type:      req.MessageType,
		Data:      req.MessageData,
		CreatedAt: now,
	}
	if err := s.messageRepo.Create(ctx, &userMsg); err != nil {
		return nil, nil, fmt.Errorf("failed to save user message: %w", err)
	}

	table := steps.ForFlow(session.Type)
	s.recordAnswer(session, table, req)

	next := table.NextStep(session.Step, req.Content, session.CollectedData)
	session.Step = next
	session.UpdatedAt = now
	if table.IsTerminal(next) {
		session.Status = domain.StatusCompleted
		if s.active != nil {
			if err := s.active.Clear(ctx, ownerID, session.Type); err != nil {
				log.Warn().Err(err).Msg("failed to clear active session index")
			}
		}
	}
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("failed to update session: %w", err)
	}

	bot := botMessage(sessionID, table, next, session.CollectedData)
	if err := s.messageRepo.Create(ctx, &bot); err != nil {
		return nil, nil, fmt.Errorf("failed to save bot message: %w", err)
	}

	log.Debug().
		Str("session_id", sessionID.String()).
		Str("step", next).
		Msg("step advanced")

	return &domain.SendResult{
		UserMessage: userMsg,
		BotMessages: []domain.ChatMessage{bot},
	}, session, nil
}

// recordAnswer stores the submitted value under the current step's bound
// field. Numbers are stored as ints so previews render them unquoted; file
// messages store the uploaded URL instead of the display text.
func (s *ChatService) recordAnswer(session *domain.ChatSession, table *steps.Table, req domain.SendMessageRequest) {
	cfg, ok := table.Get(session.Step)
	if !ok || cfg.Field == "" {
		return
	}
	if session.CollectedData == nil {
		session.CollectedData = map[string]any{}
	}

	switch {
	case req.MessageType == domain.MessageFileUpload && req.MessageData != nil:
		session.CollectedData[cfg.Field] = req.MessageData.FileURL
	case cfg.Type == domain.MessageInputNumber:
		if n, err := strconv.Atoi(req.Content); err == nil {
			session.CollectedData[cfg.Field] = n
		} else {
			session.CollectedData[cfg.Field] = req.Content
		}
	default:
		session.CollectedData[cfg.Field] = req.Content
	}
}

func botMessage(sessionID uuid.UUID, table *steps.Table, stepID string, answers map[string]any) domain.ChatMessage {
	question, msgType, data := table.Prompt(stepID, answers)
	return domain.ChatMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      domain.RoleBot,
		Content:   question,
		Type:      msgType,
		Data:      data,
		CreatedAt: time.Now(),
	}
}

func (s *ChatService) findActive(ctx context.Context, ownerID uuid.UUID, sessionType domain.SessionType) (*domain.ChatSession, error) {
	if s.active != nil {
		id, err := s.active.Get(ctx, ownerID, sessionType)
		if err == nil && id != uuid.Nil {
			session, err := s.sessionRepo.Get(ctx, id)
			if err == nil && session.Status == domain.StatusActive {
				return session, nil
			}
		}
	}

	session, err := s.sessionRepo.GetActive(ctx, ownerID, sessionType)
	if err != nil {
		if err == domain.ErrSessionNotFound {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}
