package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// APIKeyInfo describes a stored provider key without exposing its value.
type APIKeyInfo struct {
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// SetAPIKey persists or updates the API key for a provider.
func (s *Service) SetAPIKey(ctx context.Context, provider, key string) error {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return errors.New("provider is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("api key is required")
	}
	stored := key
	if s.cipher != nil {
		enc, err := s.cipher.Encrypt(key)
		if err != nil {
			return fmt.Errorf("encrypt api key: %w", err)
		}
		stored = enc
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (provider, api_key, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(provider) DO UPDATE SET api_key = excluded.api_key, created_at = excluded.created_at`,
		provider, stored, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	return nil
}

// GetAPIKey returns the stored key for the provider, or "" when none is set.
func (s *Service) GetAPIKey(ctx context.Context, provider string) (string, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "", errors.New("provider is required")
	}
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key FROM api_keys WHERE provider = ? LIMIT 1`, provider,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("lookup api key: %w", err)
	}
	if s.cipher != nil {
		plain, err := s.cipher.Decrypt(stored)
		if err == nil {
			return plain, nil
		}
		if !errors.Is(err, errInvalidCiphertext) {
			return "", err
		}
		// Key predates encryption being enabled; treat it as plaintext.
	}
	return stored, nil
}

// ListAPIKeys reports which providers have a stored key.
func (s *Service) ListAPIKeys(ctx context.Context) ([]APIKeyInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, created_at FROM api_keys ORDER BY provider ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var infos []APIKeyInfo
	for rows.Next() {
		var info APIKeyInfo
		if err := rows.Scan(&info.Provider, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// DeleteAPIKey removes the stored key for a provider.
func (s *Service) DeleteAPIKey(ctx context.Context, provider string) error {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return errors.New("provider is required")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE provider = ?`, provider)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
