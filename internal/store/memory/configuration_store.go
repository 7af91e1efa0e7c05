package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coilworks/optserve/internal/models"
	"github.com/coilworks/optserve/internal/store"
)

// ConfigurationStore implements store.ConfigurationStore using in-memory storage.
type ConfigurationStore struct {
	mu             sync.RWMutex
	configurations map[uuid.UUID]*models.Configuration
}

// NewConfigurationStore creates a new in-memory configuration store.
func NewConfigurationStore() *ConfigurationStore {
	return &ConfigurationStore{
		configurations: make(map[uuid.UUID]*models.Configuration),
	}
}

// Create creates a new configuration in memory.
func (s *ConfigurationStore) Create(ctx context.Context, cfg *models.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.configurations[cfg.ConfigurationID]; exists {
		return store.ErrAlreadyExists
	}

	clone := *cfg
	s.configurations[cfg.ConfigurationID] = &clone
	return nil
}

// Get retrieves a configuration by ID.
func (s *ConfigurationStore) Get(ctx context.Context, configurationID uuid.UUID) (*models.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, exists := s.configurations[configurationID]
	if !exists {
		return nil, store.ErrConfigurationNotFound
	}

	clone := *cfg
	return &clone, nil
}

// SetValidated flips the validated flag on a configuration.
func (s *ConfigurationStore) SetValidated(ctx context.Context, configurationID uuid.UUID, validated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, exists := s.configurations[configurationID]
	if !exists {
		return store.ErrConfigurationNotFound
	}

	cfg.Validated = validated
	cfg.UpdatedAt = time.Now()
	return nil
}
