package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lorekeep/lorekeep/internal/domain"
)

func (s *PostgresStore) CreateUser(ctx context.Context, email string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, domain.Invalidf("email is required")
	}

	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
	`, id, email)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Existsf("user %s", email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, tenant_id, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.TenantID, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.NotFoundf("user %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, tenant_id, created_at, updated_at
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.TenantID, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.NotFoundf("user %s", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// SetActiveTenant updates the user's active-tenant pointer. A nil tenantID
// resets the user to the single-user context.
func (s *PostgresStore) SetActiveTenant(ctx context.Context, userID uuid.UUID, tenantID *uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE users SET tenant_id = $2, updated_at = NOW() WHERE id = $1
	`, userID, tenantID)
	if err != nil {
		return fmt.Errorf("set active tenant: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NotFoundf("user %s", userID)
	}
	return nil
}
