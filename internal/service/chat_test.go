package service

import (
	"context"
	"testing"

	"github.com/aivira/jobchat/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func activeSession(ownerID uuid.UUID, step string) *domain.ChatSession {
	return &domain.ChatSession{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		OwnerRole:     domain.OwnerEmployer,
		Type:          domain.SessionJobCreation,
		Status:        domain.StatusActive,
		Step:          step,
		CollectedData: map[string]any{},
	}
}

func TestChatService_CreateSession(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()

	t.Run("creates session at the first step with a welcome message", func(t *testing.T) {
		sessionRepo := new(MockSessionRepository)
		messageRepo := new(MockMessageRepository)
		svc := NewChatService(sessionRepo, messageRepo, nil)

		sessionRepo.On("GetActive", ctx, ownerID, domain.SessionJobCreation).
			Return(nil, domain.ErrSessionNotFound)
		sessionRepo.On("Create", ctx, mock.AnythingOfType("*domain.ChatSession")).Return(nil)
		messageRepo.On("Create", ctx, mock.AnythingOfType("*domain.ChatMessage")).Return(nil)

		res, err := svc.CreateSession(ctx, ownerID, domain.OwnerEmployer, domain.SessionJobCreation, false)
		assert.NoError(t, err)
		assert.Equal(t, domain.StatusActive, res.Session.Status)
		assert.Equal(t, "welcome", res.Session.Step)
		if assert.Len(t, res.Messages, 1) {
			assert.Equal(t, domain.RoleBot, res.Messages[0].Role)
			assert.Equal(t, domain.MessageButtons, res.Messages[0].Type)
		}

		sessionRepo.AssertExpectations(t)
		messageRepo.AssertExpectations(t)
	})

	t.Run("resumes the active session instead of creating another", func(t *testing.T) {
		sessionRepo := new(MockSessionRepository)
		messageRepo := new(MockMessageRepository)
		svc := NewChatService(sessionRepo, messageRepo, nil)

		existing := activeSession(ownerID, "salary_min")
		history := []domain.ChatMessage{{ID: uuid.New(), SessionID: existing.ID, Role: domain.RoleBot}}

		sessionRepo.On("GetActive", ctx, ownerID, domain.SessionJobCreation).Return(existing, nil)
		messageRepo.On("ListBySession", ctx, existing.ID, historyLimit).Return(history, nil)

		res, err := svc.CreateSession(ctx, ownerID, domain.OwnerEmployer, domain.SessionJobCreation, false)
		assert.NoError(t, err)
		assert.Equal(t, existing.ID, res.Session.ID)
		assert.Equal(t, history, res.Messages)

		sessionRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("force_new abandons the active session", func(t *testing.T) {
		sessionRepo := new(MockSessionRepository)
		messageRepo := new(MockMessageRepository)
		svc := NewChatService(sessionRepo, messageRepo, nil)

		existing := activeSession(ownerID, "salary_min")

		sessionRepo.On("GetActive", ctx, ownerID, domain.SessionJobCreation).Return(existing, nil)
		sessionRepo.On("Update", ctx, mock.MatchedBy(func(s *domain.ChatSession) bool {
			return s.ID == existing.ID && s.Status == domain.StatusAbandoned
		})).Return(nil)
		sessionRepo.On("Create", ctx, mock.AnythingOfType("*domain.ChatSession")).Return(nil)
		messageRepo.On("Create", ctx, mock.AnythingOfType("*domain.ChatMessage")).Return(nil)

		res, err := svc.CreateSession(ctx, ownerID, domain.OwnerEmployer, domain.SessionJobCreation, true)
		assert.NoError(t, err)
		assert.NotEqual(t, existing.ID, res.Session.ID)

		sessionRepo.AssertExpectations(t)
	})
}

func TestChatService_GetSession(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()

	t.Run("rejects another owner's session", func(t *testing.T) {
		sessionRepo := new(MockSessionRepository)
		messageRepo := new(MockMessageRepository)
		svc := NewChatService(sessionRepo, messageRepo, nil)

		other := activeSession(uuid.New(), "welcome")
		sessionRepo.On("Get", ctx, other.ID).Return(other, nil)

		_, err := svc.GetSession(ctx, other.ID, ownerID)
		assert.ErrorIs(t, err, domain.ErrOwnerMismatch)
	})

	t.Run("not found passes through", func(t *testing.T) {
		sessionRepo := new(MockSessionRepository)
		messageRepo := new(MockMessageRepository)
		svc := NewChatService(sessionRepo, messageRepo, nil)

		id := uuid.New()
		sessionRepo.On("Get", ctx, id).Return(nil, domain.ErrSessionNotFound)

		_, err := svc.GetSession(ctx, id, ownerID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}

func TestChatService_ListSessions(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()

	sessionRepo := new(MockSessionRepository)
	messageRepo := new(MockMessageRepository)
	svc := NewChatService(sessionRepo, messageRepo, nil)

	three := []domain.ChatSession{
		*activeSession(ownerID, "a"),
		*activeSession(ownerID, "b"),
		*activeSession(ownerID, "c"),
	}
	sessionRepo.On("ListByOwner", ctx, ownerID, 3, 0).Return(three, nil)

	page, err := svc.ListSessions(ctx, ownerID, 2, 0)
	assert.NoError(t, err)
	assert.Len(t, page.Sessions, 2)
	assert.True(t, page.HasMore)
}

func TestChatService_ProcessMessage(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()

	t.Run("records the answer and advances the step", func(t *testing.T) {
		sessionRepo := new(MockSessionRepository)
		messageRepo := new(MockMessageRepository)
		svc := NewChatService(sessionRepo, messageRepo, nil)

		session := activeSession(ownerID, "job_title")
		sessionRepo.On("Get", ctx, session.ID).Return(session, nil)
		sessionRepo.On("Update", ctx, mock.AnythingOfType("*domain.ChatSession")).Return(nil)
		messageRepo.On("Create", ctx, mock.AnythingOfType("*domain.ChatMessage")).Return(nil)

		result, updated, err := svc.ProcessMessage(ctx, session.ID, ownerID, domain.SendMessageRequest{
			Content:     "Platform Engineer",
			MessageType: domain.MessageText,
		})
		assert.NoError(t, err)
		assert.Equal(t, "job_requirements", updated.Step)
		assert.Equal(t, "Platform Engineer", updated.CollectedData["job_title"])
		assert.Equal(t, domain.RoleUser, result.UserMessage.Role)
		if assert.Len(t, result.BotMessages, 1) {
			assert.Equal(t, domain.MessageInputTextarea, result.BotMessages[0].Type)
		}

		messageRepo.AssertNumberOfCalls(t, "Create", 2)
	})

	t.Run("number answers are stored as ints", func(t *testing.T) {
		sessionRepo := new(MockSessionRepository)
		messageRepo := new(MockMessageRepository)
		svc := NewChatService(sessionRepo, messageRepo, nil)

		session := activeSession(ownerID, "salary_min")
		sessionRepo.On("Get", ctx, session.ID).Return(session, nil)
		sessionRepo.On("Update", ctx, mock.AnythingOfType("*domain.ChatSession")).Return(nil)
		messageRepo.On("Create", ctx, mock.AnythingOfType("*domain.ChatMessage")).Return(nil)

		_, updated, err := svc.ProcessMessage(ctx, session.ID, ownerID, domain.SendMessageRequest{
			Content:     "120000",
			MessageType: domain.MessageText,
		})
		assert.NoError(t, err)
		assert.Equal(t, 120000, updated.CollectedData["salary_min"])
	})

	t.Run("terminal step completes the session", func(t *testing.T) {
		sessionRepo := new(MockSessionRepository)
		messageRepo := new(MockMessageRepository)
		svc := NewChatService(sessionRepo, messageRepo, nil)

		session := activeSession(ownerID, "preview")
		sessionRepo.On("Get", ctx, session.ID).Return(session, nil)
		sessionRepo.On("Update", ctx, mock.AnythingOfType("*domain.ChatSession")).Return(nil)
		messageRepo.On("Create", ctx, mock.AnythingOfType("*domain.ChatMessage")).Return(nil)

		_, updated, err := svc.ProcessMessage(ctx, session.ID, ownerID, domain.SendMessageRequest{
			Content:     "publish",
			MessageType: domain.MessageButtonClick,
		})
		assert.NoError(t, err)
		assert.Equal(t, "done", updated.Step)
		assert.Equal(t, domain.StatusCompleted, updated.Status)
	})

	t.Run("completed session rejects further messages", func(t *testing.T) {
		sessionRepo := new(MockSessionRepository)
		messageRepo := new(MockMessageRepository)
		svc := NewChatService(sessionRepo, messageRepo, nil)

		session := activeSession(ownerID, "done")
		session.Status = domain.StatusCompleted
		sessionRepo.On("Get", ctx, session.ID).Return(session, nil)

		_, _, err := svc.ProcessMessage(ctx, session.ID, ownerID, domain.SendMessageRequest{Content: "hi"})
		assert.ErrorIs(t, err, domain.ErrSessionCompleted)
		messageRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("owner mismatch is rejected before any write", func(t *testing.T) {
		sessionRepo := new(MockSessionRepository)
		messageRepo := new(MockMessageRepository)
		svc := NewChatService(sessionRepo, messageRepo, nil)

		session := activeSession(uuid.New(), "welcome")
		sessionRepo.On("Get", ctx, session.ID).Return(session, nil)

		_, _, err := svc.ProcessMessage(ctx, session.ID, ownerID, domain.SendMessageRequest{Content: "hi"})
		assert.ErrorIs(t, err, domain.ErrOwnerMismatch)
		messageRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestChatService_DeleteSession(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()

	sessionRepo := new(MockSessionRepository)
	messageRepo := new(MockMessageRepository)
	svc := NewChatService(sessionRepo, messageRepo, nil)

	session := activeSession(ownerID, "welcome")
	sessionRepo.On("Get", ctx, session.ID).Return(session, nil)
	messageRepo.On("DeleteBySession", ctx, session.ID).Return(nil)
	sessionRepo.On("Delete", ctx, session.ID).Return(nil)

	assert.NoError(t, svc.DeleteSession(ctx, session.ID, ownerID))
	sessionRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}
