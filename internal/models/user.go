package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents an account in the system. Identity is immutable once
// created; role and flags are managed by administrative tooling outside
// this service.
type User struct {
	UserID uuid.UUID // UUIDv7
	Email  string
	Name   string
	Role   string // "user" or "admin"

	Active   bool
	Verified bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
