package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pbaille/factserp/internal/domain"
)

const keyColumns = "id, user_name, email, name, key, is_active, created_at, last_used, usage_count"

// CreateAPIKey inserts a new credential and fills in its id
func (s *Store) CreateAPIKey(ctx context.Context, k *domain.APIKey) error {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO api_keys (user_name, email, name, key, is_active, created_at, usage_count) VALUES (?, ?, ?, ?, ?, ?, 0)",
		k.UserName, k.Email, k.Name, k.Key, k.IsActive, k.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	k.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("api key id: %w", err)
	}
	return nil
}

// GetAPIKey retrieves a credential by token, active or not
func (s *Store) GetAPIKey(ctx context.Context, token string) (*domain.APIKey, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+keyColumns+" FROM api_keys WHERE key = ?", token)
	k, err := scanKey(row)
	if err != nil {
		return nil, notFound("get api key", err)
	}
	return k, nil
}

// ListAPIKeys returns every credential, newest first
func (s *Store) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+keyColumns+" FROM api_keys ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// SetAPIKeyActive enables or disables a credential
func (s *Store) SetAPIKeyActive(ctx context.Context, token string, active bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET is_active = ? WHERE key = ?", active, token)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update api key: %w", domain.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(row scanner) (*domain.APIKey, error) {
	var k domain.APIKey
	var lastUsed sql.NullTime
	if err := row.Scan(&k.ID, &k.UserName, &k.Email, &k.Name, &k.Key, &k.IsActive, &k.CreatedAt, &lastUsed, &k.UsageCount); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		k.LastUsed = &t
	}
	return &k, nil
}
