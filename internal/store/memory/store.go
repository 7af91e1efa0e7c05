package memory

import "github.com/coilworks/optserve/internal/store"

// Store bundles the in-memory entity stores.
type Store struct {
	users          *UserStore
	configurations *ConfigurationStore
	scenarios      *ScenarioStore
	jobs           *JobStore
}

// NewStore creates the full set of in-memory stores.
func NewStore() *Store {
	return &Store{
		users:          NewUserStore(),
		configurations: NewConfigurationStore(),
		scenarios:      NewScenarioStore(),
		jobs:           NewJobStore(),
	}
}

func (s *Store) Users() store.UserStore                   { return s.users }
func (s *Store) Configurations() store.ConfigurationStore { return s.configurations }
func (s *Store) Scenarios() store.ScenarioStore           { return s.scenarios }
func (s *Store) Jobs() store.JobStore                     { return s.jobs }
