package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coilworks/optserve/internal/store"
)

// Store bundles the PostgreSQL entity stores over a shared connection pool.
type Store struct {
	pool           *pgxpool.Pool
	users          *UserStore
	configurations *ConfigurationStore
	scenarios      *ScenarioStore
	jobs           *JobStore
}

// NewStore creates the full set of PostgreSQL stores over one pool and
// optionally runs migrations.
func NewStore(ctx context.Context, cfg *PoolConfig, autoMigrate bool) (*Store, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if autoMigrate {
		if err := RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &Store{
		pool:           pool,
		users:          NewUserStore(pool),
		configurations: NewConfigurationStore(pool),
		scenarios:      NewScenarioStore(pool),
		jobs:           NewJobStore(pool),
	}, nil
}

func (s *Store) Users() store.UserStore                   { return s.users }
func (s *Store) Configurations() store.ConfigurationStore { return s.configurations }
func (s *Store) Scenarios() store.ScenarioStore           { return s.scenarios }
func (s *Store) Jobs() store.JobStore                     { return s.jobs }

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
