package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coilworks/optserve/internal/auth"
)

type TokenCmd struct {
	UserID     string        `help:"User identifier (UUID)" required:""`
	TTL        time.Duration `help:"Token lifetime" default:"1h"`
	SigningKey string        `help:"JWT signing key" required:"" env:"OPTSERVE_JWT_SECRET"`
}

func (t *TokenCmd) Run(ctx context.Context) error {
	userID, err := uuid.Parse(t.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}

	token, err := auth.GenerateToken(userID, []byte(t.SigningKey), t.TTL)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
