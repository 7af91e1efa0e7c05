package models

import (
	"time"

	"github.com/google/uuid"
)

// Configuration is a named equipment setup owned by exactly one user.
// The payload (geometry/thermal/flow parameters) is an opaque blob to this
// service; it is handed to the compute service untouched. A configuration
// is never reassigned to another owner.
type Configuration struct {
	ConfigurationID uuid.UUID // UUIDv7
	OwnerID         uuid.UUID // FK to users, immutable
	Name            string
	Description     string

	// Payload holds the equipment parameters as JSON. Stored in a JSONB
	// column and never interpreted by the orchestration core.
	Payload []byte

	// Validated is set once the payload has passed the pre-flight check
	// against the compute service. Scenarios on an unvalidated
	// configuration cannot be started.
	Validated bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
