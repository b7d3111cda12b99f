// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/stacklabel/update-governor/internal/models"
)

// Storage defines the interface for catalog and audit persistence
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Pending product operations
	SavePendingProduct(ctx context.Context, product *models.PendingProduct) error
	GetPendingProduct(ctx context.Context, id string) (*models.PendingProduct, error)
	GetPendingProducts(ctx context.Context, status models.ProductStatus, limit int) ([]*models.PendingProduct, error)
	UpdateProductStatus(ctx context.Context, id string, status models.ProductStatus, reviewedBy, reason string) error
	MarkProductProcessed(ctx context.Context, id string, processedAt time.Time) error

	// Catalog operations
	PromoteProduct(ctx context.Context, product *models.Product) error
	CountProducts(ctx context.Context) (int64, error)

	// Governance audit operations
	SaveAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	GetAuditEntries(ctx context.Context, limit int) ([]*models.AuditEntry, error)

	// Statistics and maintenance
	GetStorageStats(ctx context.Context) (*StorageStats, error)
	Cleanup(ctx context.Context, retentionDays int) error
	Vacuum() error
}

// StorageStats provides storage statistics
type StorageStats struct {
	PendingProducts  int64      `json:"pending_products"`
	AcceptedProducts int64      `json:"accepted_products"`
	CatalogProducts  int64      `json:"catalog_products"`
	AuditEntries     int64      `json:"audit_entries"`
	OldestPending    *time.Time `json:"oldest_pending,omitempty"`
	LastPromotion    *time.Time `json:"last_promotion,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
	RetentionDays    int           `json:"retention_days"`
}
