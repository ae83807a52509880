package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aivira/jobchat/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.ChatSession) error {
	query := `
		INSERT INTO chat_sessions (id, owner_id, owner_role, session_type, status, step, collected_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	collected, err := json.Marshal(session.CollectedData)
	if err != nil {
		return fmt.Errorf("failed to marshal collected data: %w", err)
	}

	_, err = r.pool.Exec(ctx, query,
		session.ID,
		session.OwnerID,
		session.OwnerRole,
		session.Type,
		session.Status,
		session.Step,
		collected,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.ChatSession, error) {
	query := `
		SELECT id, owner_id, owner_role, session_type, status, step, collected_data, created_at, updated_at
		FROM chat_sessions
		WHERE id = $1
	`
	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) GetActive(ctx context.Context, ownerID uuid.UUID, sessionType domain.SessionType) (*domain.ChatSession, error) {
	query := `
		SELECT id, owner_id, owner_role, session_type, status, step, collected_data, created_at, updated_at
		FROM chat_sessions
		WHERE owner_id = $1 AND session_type = $2 AND status = 'active'
		ORDER BY updated_at DESC
		LIMIT 1
	`
	s, err := scanSession(r.pool.QueryRow(ctx, query, ownerID, sessionType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int, offset int) ([]domain.ChatSession, error) {
	query := `
		SELECT id, owner_id, owner_role, session_type, status, step, collected_data, created_at, updated_at
		FROM chat_sessions
		WHERE owner_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.ChatSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

func (r *SessionRepository) Update(ctx context.Context, session *domain.ChatSession) error {
	query := `
		UPDATE chat_sessions
		SET status = $1, step = $2, collected_data = $3, updated_at = $4
		WHERE id = $5
	`
	collected, err := json.Marshal(session.CollectedData)
	if err != nil {
		return fmt.Errorf("failed to marshal collected data: %w", err)
	}

	_, err = r.pool.Exec(ctx, query, session.Status, session.Step, collected, session.UpdatedAt, session.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM chat_sessions WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*domain.ChatSession, error) {
	var s domain.ChatSession
	var collected []byte
	if err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.OwnerRole,
		&s.Type,
		&s.Status,
		&s.Step,
		&collected,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(collected) > 0 {
		if err := json.Unmarshal(collected, &s.CollectedData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal collected data: %w", err)
		}
	}
	if s.CollectedData == nil {
		s.CollectedData = map[string]any{}
	}
	return &s, nil
}
