// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/stacklabel/update-governor/internal/models"
	"github.com/stacklabel/update-governor/pkg/utils"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db     *sql.DB
	config *StorageConfig
	logger *logrus.Entry
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config: config,
		logger: utils.ComponentLogger("sqlite-storage"),
	}
}

// Connect establishes connection to SQLite database
func (s *SQLiteStorage) Connect() error {
	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Single writer; WAL keeps readers unblocked during promotion runs
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return utils.NewAppError(utils.ErrCodeDatabase, fmt.Sprintf("Failed to set pragma: %s", pragma), err.Error())
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping SQLite database", err.Error())
	}

	s.db = db
	s.logger.Info("Connected to SQLite database", map[string]interface{}{
		"connection": s.config.ConnectionString,
	})
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	for _, migration := range GetSQLiteMigrations() {
		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed: %s", migration.Version, migration.Description),
				err.Error())
		}
		s.logger.Debug("Applied migration", map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
	}
	return nil
}

// SavePendingProduct inserts or replaces a pending product submission
func (s *SQLiteStorage) SavePendingProduct(ctx context.Context, product *models.PendingProduct) error {
	query := `
		INSERT OR REPLACE INTO pending_products
		(id, name, brand_name, flavor, year, status, submitted_by, reviewed_by, rejection_reason, created_at, updated_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		product.ID, product.Name, product.BrandName, product.Flavor, product.Year,
		string(product.Status), product.SubmittedBy, product.ReviewedBy, product.RejectionReason,
		product.CreatedAt, product.UpdatedAt, product.ProcessedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save pending product", err.Error())
	}
	return nil
}

// GetPendingProduct retrieves a pending product by ID
func (s *SQLiteStorage) GetPendingProduct(ctx context.Context, id string) (*models.PendingProduct, error) {
	query := `
		SELECT id, name, brand_name, flavor, year, status, submitted_by, reviewed_by, rejection_reason, created_at, updated_at, processed_at
		FROM pending_products WHERE id = ?
	`
	product := &models.PendingProduct{}
	var status string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&product.ID, &product.Name, &product.BrandName, &product.Flavor, &product.Year,
		&status, &product.SubmittedBy, &product.ReviewedBy, &product.RejectionReason,
		&product.CreatedAt, &product.UpdatedAt, &product.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Pending product not found", id)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get pending product", err.Error())
	}
	product.Status = models.ProductStatus(status)
	return product, nil
}

// GetPendingProducts retrieves pending products by status, oldest first
func (s *SQLiteStorage) GetPendingProducts(ctx context.Context, status models.ProductStatus, limit int) ([]*models.PendingProduct, error) {
	query := `
		SELECT id, name, brand_name, flavor, year, status, submitted_by, reviewed_by, rejection_reason, created_at, updated_at, processed_at
		FROM pending_products WHERE status = ? AND processed_at IS NULL
		ORDER BY created_at ASC LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query pending products", err.Error())
	}
	defer rows.Close()

	var products []*models.PendingProduct
	for rows.Next() {
		product := &models.PendingProduct{}
		var rowStatus string
		if err := rows.Scan(
			&product.ID, &product.Name, &product.BrandName, &product.Flavor, &product.Year,
			&rowStatus, &product.SubmittedBy, &product.ReviewedBy, &product.RejectionReason,
			&product.CreatedAt, &product.UpdatedAt, &product.ProcessedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan pending product", err.Error())
		}
		product.Status = models.ProductStatus(rowStatus)
		products = append(products, product)
	}
	return products, rows.Err()
}

// UpdateProductStatus records a moderation decision on a submission
func (s *SQLiteStorage) UpdateProductStatus(ctx context.Context, id string, status models.ProductStatus, reviewedBy, reason string) error {
	query := `
		UPDATE pending_products
		SET status = ?, reviewed_by = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, string(status), reviewedBy, reason, time.Now().UTC(), id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update product status", err.Error())
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Pending product not found", id)
	}
	return nil
}

// MarkProductProcessed stamps a submission as consumed by an update run
func (s *SQLiteStorage) MarkProductProcessed(ctx context.Context, id string, processedAt time.Time) error {
	query := `UPDATE pending_products SET processed_at = ?, updated_at = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query, processedAt, processedAt, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark product processed", err.Error())
	}
	return nil
}

// PromoteProduct inserts an accepted submission into the live catalog
func (s *SQLiteStorage) PromoteProduct(ctx context.Context, product *models.Product) error {
	query := `
		INSERT OR IGNORE INTO products (id, name, brand_name, flavor, year, approved_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		product.ID, product.Name, product.BrandName, product.Flavor, product.Year,
		product.ApprovedBy, product.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to promote product", err.Error())
	}
	return nil
}

// CountProducts returns the live catalog size
func (s *SQLiteStorage) CountProducts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count products", err.Error())
	}
	return count, nil
}

// SaveAuditEntry records a governance outcome
func (s *SQLiteStorage) SaveAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO governance_audit (id, request_id, requester_id, request_type, outcome, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.RequestID, entry.RequesterID, entry.RequestType,
		entry.Outcome, entry.Detail, entry.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save audit entry", err.Error())
	}
	return nil
}

// GetAuditEntries retrieves recent governance outcomes, newest first
func (s *SQLiteStorage) GetAuditEntries(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, request_id, requester_id, request_type, outcome, detail, created_at
		FROM governance_audit ORDER BY created_at DESC LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query audit entries", err.Error())
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		entry := &models.AuditEntry{}
		if err := rows.Scan(
			&entry.ID, &entry.RequestID, &entry.RequesterID, &entry.RequestType,
			&entry.Outcome, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan audit entry", err.Error())
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetStorageStats returns storage statistics
func (s *SQLiteStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	queries := map[string]*int64{
		`SELECT COUNT(*) FROM pending_products WHERE status = 'pending'`:  &stats.PendingProducts,
		`SELECT COUNT(*) FROM pending_products WHERE status = 'accepted'`: &stats.AcceptedProducts,
		`SELECT COUNT(*) FROM products`:                                   &stats.CatalogProducts,
		`SELECT COUNT(*) FROM governance_audit`:                           &stats.AuditEntries,
	}
	for query, target := range queries {
		if err := s.db.QueryRowContext(ctx, query).Scan(target); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get storage stats", err.Error())
		}
	}

	var oldest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM pending_products WHERE status = 'pending'`).Scan(&oldest)
	if err == nil && oldest.Valid {
		stats.OldestPending = &oldest.Time
	}

	var latest sql.NullTime
	err = s.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM products`).Scan(&latest)
	if err == nil && latest.Valid {
		stats.LastPromotion = &latest.Time
	}

	return stats, nil
}

// Cleanup removes processed submissions and audit rows past retention
func (s *SQLiteStorage) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_products WHERE processed_at IS NOT NULL AND processed_at < ?`, cutoff)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to cleanup processed products", err.Error())
	}
	removed, _ := result.RowsAffected()

	result, err = s.db.ExecContext(ctx,
		`DELETE FROM governance_audit WHERE created_at < ?`, cutoff)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to cleanup audit entries", err.Error())
	}
	auditRemoved, _ := result.RowsAffected()

	if removed > 0 || auditRemoved > 0 {
		s.logger.Info("Storage cleanup completed", map[string]interface{}{
			"products_removed": removed,
			"audit_removed":    auditRemoved,
			"retention_days":   retentionDays,
		})
	}
	return nil
}

// Vacuum reclaims unused space
func (s *SQLiteStorage) Vacuum() error {
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to vacuum database", err.Error())
	}
	return nil
}
