// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/theorem-bounty-sync/internal/models"
)

// Storage defines the interface for bounty storage operations
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Read side, used by the HTTP API
	GetBounties(ctx context.Context, filter BountyFilter) ([]models.BountyRecord, error)
	GetBounty(ctx context.Context, theorem string) (*models.BountyRecord, error)
	GetLatestSyncRun(ctx context.Context) (*models.SyncRun, error)
	GetStorageStats(ctx context.Context) (*StorageStats, error)

	// BeginTx starts the transaction a reconciliation run writes through
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is one atomic unit of reconciliation writes. Nothing is visible to
// other readers until Commit succeeds.
type Tx interface {
	FindAll(ctx context.Context) ([]models.BountyRecord, error)
	UpsertByTheorem(ctx context.Context, record *models.BountyRecord) error
	RecordSyncRun(ctx context.Context, run *models.SyncRun) error
	Commit() error
	Rollback() error
}

// BountyFilter narrows GetBounties results
type BountyFilter struct {
	Status *models.BountyStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalBounties  int64      `json:"total_bounties"`
	OpenBounties   int64      `json:"open_bounties"`
	ClosedBounties int64      `json:"closed_bounties"`
	TotalSyncRuns  int64      `json:"total_sync_runs"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
