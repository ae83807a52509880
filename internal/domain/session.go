package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OwnerRole identifies which side of the marketplace a session belongs to.
type OwnerRole string

const (
	OwnerCandidate OwnerRole = "candidate"
	OwnerEmployer  OwnerRole = "employer"
)

// SessionType selects the scripted flow a session runs.
type SessionType string

const (
	SessionJobCreation    SessionType = "job_creation"
	SessionResumeCreation SessionType = "resume_creation"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrOwnerMismatch    = errors.New("session does not belong to owner")
	ErrSessionCompleted = errors.New("session already completed")
)

// ChatSession is one guided conversation between an owner and the bot flow.
type ChatSession struct {
	ID            uuid.UUID      `json:"id"`
	OwnerID       uuid.UUID      `json:"owner_id"`
	OwnerRole     OwnerRole      `json:"owner_role"`
	Type          SessionType    `json:"session_type"`
	Status        SessionStatus  `json:"status"`
	Step          string         `json:"step"`
	CollectedData map[string]any `json:"collected_data"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// SessionRepository defines the interface for session storage
type SessionRepository interface {
	Create(ctx context.Context, session *ChatSession) error
	Get(ctx context.Context, id uuid.UUID) (*ChatSession, error)
	GetActive(ctx context.Context, ownerID uuid.UUID, sessionType SessionType) (*ChatSession, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int, offset int) ([]ChatSession, error)
	Update(ctx context.Context, session *ChatSession) error
	Delete(ctx context.Context, id uuid.UUID) error
}
