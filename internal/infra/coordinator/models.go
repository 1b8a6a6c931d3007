package coordinator

import (
	"time"

	"github.com/uptrace/bun"
)

// instanceRow is the bun model backing the Instance Record, grounded
// on the teacher's Session bun model
// (internal/domain/session/entity.go) shape and table-naming
// convention.
type instanceRow struct {
	bun.BaseModel `bun:"table:waconnect_instances,alias:i"`

	ID            string    `bun:"id,pk"`
	URL           string    `bun:"url,notnull"`
	StartedAt     time.Time `bun:"started_at,type:timestamptz,notnull"`
	LastHeartbeat time.Time `bun:"last_heartbeat,type:timestamptz,notnull"`
	ActiveCount   int       `bun:"active_count,notnull,default:0"`
	Capacity      int       `bun:"capacity,notnull,default:0"`
	CPURatio      float64   `bun:"cpu_ratio,notnull,default:0"`
	MemoryRatio   float64   `bun:"memory_ratio,notnull,default:0"`
}

// ownershipRow is the bun model backing the Session Ownership Record.
// Acquiring ownership is an INSERT ... ON CONFLICT (session_key) DO
// UPDATE compare-and-set guarded by the previous owner's heartbeat.
type ownershipRow struct {
	bun.BaseModel `bun:"table:waconnect_ownership,alias:o"`

	SessionKey   string    `bun:"session_key,pk"`
	InstanceID   string    `bun:"instance_id,notnull"`
	AcquiredAt   time.Time `bun:"acquired_at,type:timestamptz,notnull"`
	LastActivity time.Time `bun:"last_activity,type:timestamptz,notnull"`
}
