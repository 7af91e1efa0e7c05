package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/coilworks/optserve/internal/models"
	"github.com/coilworks/optserve/internal/store"
)

// ConfigurationStore implements store.ConfigurationStore using PostgreSQL.
type ConfigurationStore struct {
	pool *pgxpool.Pool
}

// NewConfigurationStore creates a new PostgreSQL-backed configuration store.
func NewConfigurationStore(pool *pgxpool.Pool) *ConfigurationStore {
	return &ConfigurationStore{pool: pool}
}

// Create creates a new configuration in the database.
func (s *ConfigurationStore) Create(ctx context.Context, cfg *models.Configuration) error {
	query := `
		INSERT INTO configurations (
			configuration_id, owner_id, name, description, payload, validated,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	// Empty payloads stored as NULL rather than an empty JSONB document
	var payload any
	if len(cfg.Payload) > 0 {
		payload = cfg.Payload
	}

	_, err := s.pool.Exec(ctx, query,
		cfg.ConfigurationID,
		cfg.OwnerID,
		cfg.Name,
		cfg.Description,
		payload,
		cfg.Validated,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create configuration: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("configuration_id", cfg.ConfigurationID.String()).
		Str("owner_id", cfg.OwnerID.String()).
		Msg("Created configuration")

	return nil
}

// Get retrieves a configuration by ID.
func (s *ConfigurationStore) Get(ctx context.Context, configurationID uuid.UUID) (*models.Configuration, error) {
	query := `
		SELECT configuration_id, owner_id, name, description, payload, validated,
		       created_at, updated_at
		FROM configurations
		WHERE configuration_id = $1
	`

	var c models.Configuration
	err := s.pool.QueryRow(ctx, query, configurationID).Scan(
		&c.ConfigurationID,
		&c.OwnerID,
		&c.Name,
		&c.Description,
		&c.Payload,
		&c.Validated,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrConfigurationNotFound
		}
		return nil, fmt.Errorf("failed to get configuration: %w", mapPostgresError(err))
	}

	return &c, nil
}

// SetValidated flips the validated flag on a configuration.
func (s *ConfigurationStore) SetValidated(ctx context.Context, configurationID uuid.UUID, validated bool) error {
	query := `
		UPDATE configurations
		SET validated = $1, updated_at = NOW()
		WHERE configuration_id = $2
	`

	result, err := s.pool.Exec(ctx, query, validated, configurationID)
	if err != nil {
		return fmt.Errorf("failed to update configuration: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrConfigurationNotFound
	}

	return nil
}
