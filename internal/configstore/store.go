// Package configstore persists named article configurations: the generation
// settings and the CMS/API credentials a pipeline run borrows.
package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"article-pipeline/internal/models"
)

// Store is the Postgres-backed configuration store. It serves both
// enqueue-time resolution and the pipeline's configuration phase.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateParams describes a new configuration. ID is optional; a UUID is
// assigned when empty.
type CreateParams struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Settings    map[string]any    `json:"settings"`
	Credentials map[string]string `json:"credentials"`
}

// Create inserts a configuration and returns it with credentials attached.
func (s *Store) Create(ctx context.Context, p CreateParams) (models.Configuration, error) {
	if p.Name == "" {
		return models.Configuration{}, &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	settings := p.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	credentials := p.Credentials
	if credentials == nil {
		credentials = map[string]string{}
	}

	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return models.Configuration{}, fmt.Errorf("marshal settings: %w", err)
	}
	credentialsJSON, err := json.Marshal(credentials)
	if err != nil {
		return models.Configuration{}, fmt.Errorf("marshal credentials: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO configurations (id, name, settings, credentials, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, id, p.Name, settingsJSON, credentialsJSON, now)
	if err != nil {
		return models.Configuration{}, fmt.Errorf("insert configuration: %w", err)
	}

	return models.Configuration{
		ID:          id,
		Name:        p.Name,
		Settings:    settings,
		Credentials: credentials,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Get loads one configuration. Credentials are attached only when asked for.
func (s *Store) Get(ctx context.Context, id string, includeCredentials bool) (models.Configuration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, settings, credentials, created_at, updated_at
		FROM configurations
		WHERE id = $1
	`, id)
	cfg, err := scanConfiguration(row, includeCredentials)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Configuration{}, &models.NotFoundError{Resource: "configuration", ID: id}
	}
	if err != nil {
		return models.Configuration{}, fmt.Errorf("get configuration: %w", err)
	}
	return cfg, nil
}

// Exists reports whether a configuration with the id is present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM configurations WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check configuration: %w", err)
	}
	return exists, nil
}

// List returns all configurations, newest first, without credentials.
func (s *Store) List(ctx context.Context) ([]models.Configuration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, settings, credentials, created_at, updated_at
		FROM configurations
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	defer rows.Close()

	var configs []models.Configuration
	for rows.Next() {
		cfg, err := scanConfiguration(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan configuration: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func scanConfiguration(row pgx.Row, includeCredentials bool) (models.Configuration, error) {
	var cfg models.Configuration
	var settingsJSON, credentialsJSON []byte
	if err := row.Scan(&cfg.ID, &cfg.Name, &settingsJSON, &credentialsJSON, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return models.Configuration{}, err
	}
	if err := json.Unmarshal(settingsJSON, &cfg.Settings); err != nil {
		return models.Configuration{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	if includeCredentials {
		if err := json.Unmarshal(credentialsJSON, &cfg.Credentials); err != nil {
			return models.Configuration{}, fmt.Errorf("unmarshal credentials: %w", err)
		}
	}
	return cfg, nil
}
