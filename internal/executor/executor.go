// File: internal/executor/executor.go
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stacklabel/update-governor/internal/models"
	"github.com/stacklabel/update-governor/internal/storage"
	"github.com/stacklabel/update-governor/pkg/utils"
)

// Executor performs the actual work behind an approved update request.
// Implementations must be safe for use by a single queue worker at a time.
type Executor interface {
	Execute(ctx context.Context, request *models.QueuedRequest) error
}

// ExecutorConfig holds catalog executor configuration
type ExecutorConfig struct {
	BatchSize int           `json:"batch_size"`
	Timeout   time.Duration `json:"timeout"`
}

// DefaultExecutorConfig returns sensible defaults
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		BatchSize: 100,
		Timeout:   30 * time.Second,
	}
}

// RunStats summarizes the most recent execution run
type RunStats struct {
	TotalRuns     int64      `json:"total_runs"`
	FailedRuns    int64      `json:"failed_runs"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastPromoted  int        `json:"last_promoted"`
	LastDenied    int        `json:"last_denied"`
	TotalPromoted int64      `json:"total_promoted"`
}

// CatalogExecutor promotes accepted product submissions into the live
// catalog and retires denied ones. One run drains the moderation backlog
// up to the configured batch size.
type CatalogExecutor struct {
	mu      sync.Mutex
	storage storage.Storage
	config  *ExecutorConfig
	logger  *logrus.Entry
	stats   RunStats
}

// NewCatalogExecutor creates a catalog executor backed by the given storage
func NewCatalogExecutor(store storage.Storage, config *ExecutorConfig) *CatalogExecutor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	return &CatalogExecutor{
		storage: store,
		config:  config,
		logger:  utils.ComponentLogger("catalog-executor"),
	}
}

// Execute runs one catalog update on behalf of the queued request
func (e *CatalogExecutor) Execute(ctx context.Context, request *models.QueuedRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	start := time.Now()
	e.stats.TotalRuns++

	promoted, denied, err := e.runOnce(runCtx, request)

	now := time.Now()
	e.stats.LastRunAt = &now
	e.stats.LastPromoted = promoted
	e.stats.LastDenied = denied
	e.stats.TotalPromoted += int64(promoted)

	if err != nil {
		e.stats.FailedRuns++
		e.logger.Error("Catalog update run failed", map[string]interface{}{
			"request_id": request.ID,
			"promoted":   promoted,
			"error":      err.Error(),
		})
		return err
	}

	e.logger.Info("Catalog update run completed", map[string]interface{}{
		"request_id": request.ID,
		"requester":  request.RequesterID,
		"type":       string(request.Type),
		"promoted":   promoted,
		"denied":     denied,
		"duration":   time.Since(start).String(),
	})

	e.recordAudit(runCtx, request, promoted, denied)
	return nil
}

// runOnce drains the accepted and denied backlogs for one update run
func (e *CatalogExecutor) runOnce(ctx context.Context, request *models.QueuedRequest) (int, int, error) {
	accepted, err := e.storage.GetPendingProducts(ctx, models.ProductAccepted, e.config.BatchSize)
	if err != nil {
		return 0, 0, utils.NewAppError(utils.ErrCodeExecution, "Failed to load accepted submissions", err.Error())
	}

	promoted := 0
	for _, submission := range accepted {
		if err := ctx.Err(); err != nil {
			return promoted, 0, utils.NewAppError(utils.ErrCodeExecution, "Update run cancelled", err.Error())
		}

		product := &models.Product{
			ID:         submission.ID,
			Name:       submission.Name,
			BrandName:  submission.BrandName,
			Flavor:     submission.Flavor,
			Year:       submission.Year,
			ApprovedBy: submission.ReviewedBy,
			CreatedAt:  time.Now().UTC(),
		}
		if err := e.storage.PromoteProduct(ctx, product); err != nil {
			return promoted, 0, utils.NewAppError(utils.ErrCodeExecution,
				fmt.Sprintf("Failed to promote submission %s", submission.ID), err.Error())
		}
		if err := e.storage.MarkProductProcessed(ctx, submission.ID, time.Now().UTC()); err != nil {
			return promoted, 0, err
		}
		promoted++
	}

	// Denied submissions are only stamped so moderation queries stay clean
	rejected, err := e.storage.GetPendingProducts(ctx, models.ProductDenied, e.config.BatchSize)
	if err != nil {
		return promoted, 0, utils.NewAppError(utils.ErrCodeExecution, "Failed to load denied submissions", err.Error())
	}
	denied := 0
	for _, submission := range rejected {
		if err := e.storage.MarkProductProcessed(ctx, submission.ID, time.Now().UTC()); err != nil {
			return promoted, denied, err
		}
		denied++
	}

	return promoted, denied, nil
}

func (e *CatalogExecutor) recordAudit(ctx context.Context, request *models.QueuedRequest, promoted, denied int) {
	entry := &models.AuditEntry{
		ID:          uuid.New().String(),
		RequestID:   request.ID,
		RequesterID: request.RequesterID,
		RequestType: string(request.Type),
		Outcome:     "executed",
		Detail:      fmt.Sprintf("promoted=%d denied=%d", promoted, denied),
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.storage.SaveAuditEntry(ctx, entry); err != nil {
		e.logger.Warn("Failed to record audit entry", map[string]interface{}{
			"request_id": request.ID,
			"error":      err.Error(),
		})
	}
}

// GetStats returns a snapshot of run statistics
func (e *CatalogExecutor) GetStats() RunStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, request *models.QueuedRequest) error

func (f ExecutorFunc) Execute(ctx context.Context, request *models.QueuedRequest) error {
	return f(ctx, request)
}
