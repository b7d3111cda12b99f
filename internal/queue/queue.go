// File: internal/queue/queue.go
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stacklabel/update-governor/internal/executor"
	"github.com/stacklabel/update-governor/internal/metrics"
	"github.com/stacklabel/update-governor/internal/models"
	"github.com/stacklabel/update-governor/internal/notification"
	"github.com/stacklabel/update-governor/pkg/utils"
)

// Rejection reasons reported in errors, metrics and stats
const (
	ReasonQueueFull    = "queue_full"
	ReasonRapidRequest = "rapid_request"
)

// QueueConfig holds execution queue configuration
type QueueConfig struct {
	MaxQueueSize   int           `json:"max_queue_size"`
	RapidThreshold time.Duration `json:"rapid_threshold"`
	PollInterval   time.Duration `json:"poll_interval"`
	MaxWaitTime    time.Duration `json:"max_wait_time"`
}

// DefaultQueueConfig returns the production defaults: a single slot,
// five second rapid-fire guard, two second poll and a sixty second
// staleness bound.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxQueueSize:   1,
		RapidThreshold: 5 * time.Second,
		PollInterval:   2 * time.Second,
		MaxWaitTime:    60 * time.Second,
	}
}

// Validate checks configuration sanity
func (c *QueueConfig) Validate() error {
	if c.MaxQueueSize < 1 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "max_queue_size must be at least 1")
	}
	if c.PollInterval <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "poll_interval must be positive")
	}
	if c.MaxWaitTime < c.PollInterval {
		return utils.NewAppError(utils.ErrCodeConfiguration, "max_wait_time must be at least poll_interval")
	}
	return nil
}

// QueueStats is a point-in-time snapshot of queue counters
type QueueStats struct {
	Depth         int        `json:"depth"`
	MaxQueueSize  int        `json:"max_queue_size"`
	IsProcessing  bool       `json:"is_processing"`
	TotalEnqueued int64      `json:"total_enqueued"`
	TotalExecuted int64      `json:"total_executed"`
	TotalFailed   int64      `json:"total_failed"`
	TotalRejected int64      `json:"total_rejected"`
	StaleRemoved  int64      `json:"stale_removed"`
	LastProcessed *time.Time `json:"last_processed,omitempty"`
	RejectedFull  int64      `json:"rejected_full"`
	RejectedRapid int64      `json:"rejected_rapid"`
}

// ExecutionQueue serializes approved update requests through a bounded
// buffer and hands them to the executor one at a time. With the default
// single slot it admits at most one waiting request system-wide.
type ExecutionQueue struct {
	mu                sync.Mutex
	items             []*models.QueuedRequest
	isProcessing      bool
	lastProcessedTime time.Time

	config   *QueueConfig
	executor executor.Executor
	notifier notification.Notifier
	logger   *logrus.Entry
	metrics  *metrics.Manager

	// test seam
	now func() time.Time

	totalEnqueued int64
	totalExecuted int64
	totalFailed   int64
	rejectedFull  int64
	rejectedRapid int64
	staleRemoved  int64

	running  bool
	kickChan chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewExecutionQueue creates an execution queue
func NewExecutionQueue(config *QueueConfig, exec executor.Executor, notifier notification.Notifier, metricsManager *metrics.Manager) *ExecutionQueue {
	if config == nil {
		config = DefaultQueueConfig()
	}
	if notifier == nil {
		notifier = notification.NopNotifier{}
	}
	return &ExecutionQueue{
		items:    make([]*models.QueuedRequest, 0, config.MaxQueueSize),
		config:   config,
		executor: exec,
		notifier: notifier,
		logger:   utils.ComponentLogger("execution-queue"),
		metrics:  metricsManager,
		now:      time.Now,
		kickChan: make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// Start launches the background processing loop
func (q *ExecutionQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return utils.NewAppError(utils.ErrCodeInternal, "Execution queue already running")
	}
	q.running = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.run(ctx)

	q.logger.Info("Execution queue started", map[string]interface{}{
		"max_queue_size": q.config.MaxQueueSize,
		"poll_interval":  q.config.PollInterval.String(),
		"max_wait_time":  q.config.MaxWaitTime.String(),
	})
	return nil
}

// Stop halts the processing loop and waits for it to drain
func (q *ExecutionQueue) Stop() error {
	q.stopOnce.Do(func() {
		close(q.stopChan)
	})
	q.wg.Wait()

	q.mu.Lock()
	q.running = false
	q.mu.Unlock()

	q.logger.Info("Execution queue stopped")
	return nil
}

// IsRunning reports whether the processing loop is active
func (q *ExecutionQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *ExecutionQueue) run(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopChan:
			return
		case <-ticker.C:
			q.CleanupStaleRequests()
			q.ProcessNext(ctx)
		case <-q.kickChan:
			q.ProcessNext(ctx)
		}
	}
}

// Enqueue admits a request to the queue. It rejects with QUEUE_FULL when
// the buffer is at capacity and with RAPID_REQUEST when the same requester
// re-enqueues, or anything arrives, within the rapid threshold of the last
// completed execution.
func (q *ExecutionQueue) Enqueue(request *models.QueuedRequest) error {
	if request == nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Request is required")
	}

	q.mu.Lock()

	now := q.now()

	if !q.lastProcessedTime.IsZero() && now.Sub(q.lastProcessedTime) < q.config.RapidThreshold {
		q.rejectedRapid++
		q.mu.Unlock()
		q.rejected(request, ReasonRapidRequest)
		return utils.NewAppError(utils.ErrCodeRapidRequest,
			"Update executed too recently, retry shortly",
			fmt.Sprintf("threshold=%s", q.config.RapidThreshold))
	}

	for _, queued := range q.items {
		if queued.RequesterID == request.RequesterID && now.Sub(queued.EnqueuedAt) < q.config.RapidThreshold {
			q.rejectedRapid++
			q.mu.Unlock()
			q.rejected(request, ReasonRapidRequest)
			return utils.NewAppError(utils.ErrCodeRapidRequest,
				"Requester already enqueued within rapid threshold",
				request.RequesterID)
		}
	}

	if len(q.items) >= q.config.MaxQueueSize {
		q.rejectedFull++
		q.mu.Unlock()
		q.rejected(request, ReasonQueueFull)
		return utils.NewAppError(utils.ErrCodeQueueFull,
			"Execution queue is full, retry later",
			fmt.Sprintf("capacity=%d", q.config.MaxQueueSize))
	}

	if request.Priority == 0 {
		request.Priority = request.Type.Priority()
	}
	if request.EnqueuedAt.IsZero() {
		request.EnqueuedAt = now
	}

	q.items = append(q.items, request)
	q.totalEnqueued++
	depth := len(q.items)
	running := q.running
	q.mu.Unlock()

	if q.metrics != nil {
		pm := q.metrics.GetPrometheusMetrics()
		pm.QueueEnqueuedTotal.Inc()
		pm.QueueDepth.Set(float64(depth))
	}
	q.logger.Info("Request enqueued", map[string]interface{}{
		"request_id": request.ID,
		"requester":  request.RequesterID,
		"type":       string(request.Type),
		"priority":   request.Priority,
		"depth":      depth,
	})

	if running {
		select {
		case q.kickChan <- struct{}{}:
		default:
		}
	}
	return nil
}

func (q *ExecutionQueue) rejected(request *models.QueuedRequest, reason string) {
	if q.metrics != nil {
		q.metrics.GetPrometheusMetrics().QueueRejectedTotal.WithLabelValues(reason).Inc()
	}
	q.logger.Warn("Request rejected by queue", map[string]interface{}{
		"request_id": request.ID,
		"requester":  request.RequesterID,
		"reason":     reason,
	})
	q.notifier.Notify(&notification.Event{
		Type: notification.EventQueueRejected,
		Data: map[string]interface{}{
			"request_id": request.ID,
			"requester":  request.RequesterID,
			"reason":     reason,
		},
	})
}

// ProcessNext pops the highest priority request and executes it. Ties on
// priority fall back to arrival order. The executor runs outside the lock
// so new enqueues are admitted (or rejected) while an update is in flight.
func (q *ExecutionQueue) ProcessNext(ctx context.Context) bool {
	q.mu.Lock()
	if q.isProcessing || len(q.items) == 0 {
		q.mu.Unlock()
		return false
	}

	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].Priority > q.items[j].Priority
	})

	request := q.items[0]
	q.items = q.items[1:]
	q.isProcessing = true
	depth := len(q.items)
	q.mu.Unlock()

	if q.metrics != nil {
		pm := q.metrics.GetPrometheusMetrics()
		pm.QueueDepth.Set(float64(depth))
		pm.QueueProcessing.Set(1)
	}

	start := q.now()
	err := q.executor.Execute(ctx, request)
	duration := q.now().Sub(start)

	q.mu.Lock()
	q.isProcessing = false
	q.lastProcessedTime = q.now()
	if err != nil {
		q.totalFailed++
	} else {
		q.totalExecuted++
	}
	q.mu.Unlock()

	if q.metrics != nil {
		pm := q.metrics.GetPrometheusMetrics()
		pm.QueueProcessing.Set(0)
		pm.RecordExecution(err == nil, duration)
	}

	if err != nil {
		q.logger.Error("Update execution failed", map[string]interface{}{
			"request_id": request.ID,
			"requester":  request.RequesterID,
			"error":      err.Error(),
		})
		q.notifier.Notify(&notification.Event{
			Type: notification.EventUpdateFailed,
			Data: map[string]interface{}{
				"request_id": request.ID,
				"error":      err.Error(),
			},
		})
		return true
	}

	q.logger.Info("Update executed", map[string]interface{}{
		"request_id": request.ID,
		"requester":  request.RequesterID,
		"duration":   duration.String(),
	})
	q.notifier.Notify(&notification.Event{
		Type: notification.EventUpdateExecuted,
		Data: map[string]interface{}{
			"request_id": request.ID,
			"requester":  request.RequesterID,
		},
	})
	return true
}

// CleanupStaleRequests removes requests that waited longer than the
// configured bound and returns how many were dropped.
func (q *ExecutionQueue) CleanupStaleRequests() int {
	q.mu.Lock()

	now := q.now()
	kept := q.items[:0]
	var removed []*models.QueuedRequest
	for _, request := range q.items {
		if now.Sub(request.EnqueuedAt) > q.config.MaxWaitTime {
			removed = append(removed, request)
			continue
		}
		kept = append(kept, request)
	}
	q.items = kept
	q.staleRemoved += int64(len(removed))
	depth := len(q.items)
	q.mu.Unlock()

	if len(removed) == 0 {
		return 0
	}

	if q.metrics != nil {
		pm := q.metrics.GetPrometheusMetrics()
		pm.QueueStaleRemovedTotal.Add(float64(len(removed)))
		pm.QueueDepth.Set(float64(depth))
	}
	for _, request := range removed {
		q.logger.Warn("Removed stale request from queue", map[string]interface{}{
			"request_id": request.ID,
			"requester":  request.RequesterID,
			"waited":     q.now().Sub(request.EnqueuedAt).String(),
		})
	}
	return len(removed)
}

// GetQueue returns a snapshot copy of the waiting requests
func (q *ExecutionQueue) GetQueue() []*models.QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := make([]*models.QueuedRequest, len(q.items))
	for i, request := range q.items {
		cp := *request
		snapshot[i] = &cp
	}
	return snapshot
}

// ClearQueue drops all waiting requests and returns how many were dropped
func (q *ExecutionQueue) ClearQueue() int {
	q.mu.Lock()
	dropped := len(q.items)
	q.items = q.items[:0]
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.GetPrometheusMetrics().QueueDepth.Set(0)
	}
	if dropped > 0 {
		q.logger.Warn("Queue cleared", map[string]interface{}{
			"dropped": dropped,
		})
	}
	return dropped
}

// GetStats returns a snapshot of queue counters
func (q *ExecutionQueue) GetStats() *QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &QueueStats{
		Depth:         len(q.items),
		MaxQueueSize:  q.config.MaxQueueSize,
		IsProcessing:  q.isProcessing,
		TotalEnqueued: q.totalEnqueued,
		TotalExecuted: q.totalExecuted,
		TotalFailed:   q.totalFailed,
		TotalRejected: q.rejectedFull + q.rejectedRapid,
		StaleRemoved:  q.staleRemoved,
		RejectedFull:  q.rejectedFull,
		RejectedRapid: q.rejectedRapid,
	}
	if !q.lastProcessedTime.IsZero() {
		last := q.lastProcessedTime
		stats.LastProcessed = &last
	}
	return stats
}

// UpdateConfig replaces the queue configuration. Existing queued requests
// are kept even if the new capacity is smaller; the bound applies to new
// enqueues only.
func (q *ExecutionQueue) UpdateConfig(config *QueueConfig) error {
	if config == nil {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Queue configuration is required")
	}
	if err := config.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	q.config = config
	q.mu.Unlock()

	q.logger.Info("Queue configuration updated", map[string]interface{}{
		"max_queue_size": config.MaxQueueSize,
		"poll_interval":  config.PollInterval.String(),
	})
	return nil
}
