package configstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"article-pipeline/internal/models"
)

// Memory is an in-process configuration store for tests and single-node
// development.
type Memory struct {
	mu      sync.Mutex
	configs map[string]models.Configuration
}

// NewMemory creates an empty in-memory configuration store.
func NewMemory() *Memory {
	return &Memory{configs: make(map[string]models.Configuration)}
}

// Create inserts a configuration.
func (m *Memory) Create(ctx context.Context, p CreateParams) (models.Configuration, error) {
	if p.Name == "" {
		return models.Configuration{}, &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	cfg := models.Configuration{
		ID:          id,
		Name:        p.Name,
		Settings:    p.Settings,
		Credentials: p.Credentials,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cfg.Settings == nil {
		cfg.Settings = map[string]any{}
	}
	if cfg.Credentials == nil {
		cfg.Credentials = map[string]string{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[id] = cfg
	return cfg, nil
}

// Get loads one configuration, stripping credentials unless asked for.
func (m *Memory) Get(ctx context.Context, id string, includeCredentials bool) (models.Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[id]
	if !ok {
		return models.Configuration{}, &models.NotFoundError{Resource: "configuration", ID: id}
	}
	if !includeCredentials {
		cfg.Credentials = nil
	}
	return cfg, nil
}

// Exists reports whether a configuration with the id is present.
func (m *Memory) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.configs[id]
	return ok, nil
}

// List returns all configurations without credentials, newest first.
func (m *Memory) List(ctx context.Context) ([]models.Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	configs := make([]models.Configuration, 0, len(m.configs))
	for _, cfg := range m.configs {
		cfg.Credentials = nil
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].CreatedAt.After(configs[j].CreatedAt) })
	return configs, nil
}
