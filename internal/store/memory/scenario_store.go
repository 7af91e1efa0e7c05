package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/coilworks/optserve/internal/models"
	"github.com/coilworks/optserve/internal/store"
)

// ScenarioStore implements store.ScenarioStore using in-memory storage.
type ScenarioStore struct {
	mu        sync.RWMutex
	scenarios map[uuid.UUID]*models.Scenario
}

// NewScenarioStore creates a new in-memory scenario store.
func NewScenarioStore() *ScenarioStore {
	return &ScenarioStore{
		scenarios: make(map[uuid.UUID]*models.Scenario),
	}
}

// Create creates a new scenario in memory.
func (s *ScenarioStore) Create(ctx context.Context, sc *models.Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.scenarios[sc.ScenarioID]; exists {
		return store.ErrAlreadyExists
	}

	clone := *sc
	s.scenarios[sc.ScenarioID] = &clone
	return nil
}

// Get retrieves a scenario by ID.
func (s *ScenarioStore) Get(ctx context.Context, scenarioID uuid.UUID) (*models.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, exists := s.scenarios[scenarioID]
	if !exists {
		return nil, store.ErrScenarioNotFound
	}

	clone := *sc
	return &clone, nil
}
