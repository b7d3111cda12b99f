// File: internal/governance/manager.go
package governance

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stacklabel/update-governor/internal/admission"
	"github.com/stacklabel/update-governor/internal/clock"
	"github.com/stacklabel/update-governor/internal/metrics"
	"github.com/stacklabel/update-governor/internal/models"
	"github.com/stacklabel/update-governor/internal/notification"
	"github.com/stacklabel/update-governor/internal/queue"
	"github.com/stacklabel/update-governor/pkg/utils"
)

// ManagerConfig holds governance manager configuration
type ManagerConfig struct {
	QuorumThreshold  float64       `json:"quorum_threshold"`
	ExpirationWindow time.Duration `json:"expiration_window"`
	AdminCount       int           `json:"admin_count"`
	OwnerID          string        `json:"owner_id"`
	CleanupInterval  time.Duration `json:"cleanup_interval"`
}

// DefaultManagerConfig returns the production governance defaults
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		QuorumThreshold:  0.75,
		ExpirationWindow: 10 * time.Minute,
		AdminCount:       4,
		CleanupInterval:  30 * time.Second,
	}
}

// Validate checks configuration sanity
func (c *ManagerConfig) Validate() error {
	if c.QuorumThreshold <= 0 || c.QuorumThreshold > 1 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "quorum_threshold must be in (0, 1]")
	}
	if c.AdminCount < 1 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "admin_count must be at least 1")
	}
	if c.ExpirationWindow <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "expiration_window must be positive")
	}
	if c.OwnerID != "" && !admission.ValidAdminID(c.OwnerID) {
		return utils.NewAppError(utils.ErrCodeConfiguration, "owner_id must be a valid UUID v4")
	}
	return nil
}

// ManagerStats is the governance monitoring snapshot
type ManagerStats struct {
	TotalRequests       int     `json:"total_requests"`
	PendingRequests     int     `json:"pending_requests"`
	ApprovedRequests    int     `json:"approved_requests"`
	RejectedRequests    int     `json:"rejected_requests"`
	ExpiredRequests     int     `json:"expired_requests"`
	AdminCount          int     `json:"admin_count"`
	QuorumThreshold     float64 `json:"quorum_threshold"`
	VotesNeeded         int     `json:"votes_needed"`
	DemocraticUsedToday bool    `json:"democratic_used_today"`
}

// Manager drives update requests through the voting state machine:
// pending until quorum, owner decision, or expiration; approved requests
// are handed to the execution queue. Terminal states accept no further
// transitions.
type Manager struct {
	mu       sync.RWMutex
	requests map[string]*models.UpdateRequest

	config   *ManagerConfig
	tracker  *admission.Tracker
	queue    *queue.ExecutionQueue
	dayClock *clock.DayClock
	notifier notification.Notifier
	logger   *logrus.Entry
	metrics  *metrics.Manager

	// Day-start stamp of the last democratic approval; at most one
	// democratic update per reference-timezone day.
	democraticUsedDay int64

	// test seam
	now func() time.Time

	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a governance manager
func NewManager(config *ManagerConfig, tracker *admission.Tracker, execQueue *queue.ExecutionQueue, dayClock *clock.DayClock, notifier notification.Notifier, metricsManager *metrics.Manager) *Manager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	if notifier == nil {
		notifier = notification.NopNotifier{}
	}
	return &Manager{
		requests: make(map[string]*models.UpdateRequest),
		config:   config,
		tracker:  tracker,
		queue:    execQueue,
		dayClock: dayClock,
		notifier: notifier,
		logger:   utils.ComponentLogger("governance"),
		metrics:  metricsManager,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background expiration sweep
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return utils.NewAppError(utils.ErrCodeInternal, "Governance manager already running")
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.sweepLoop(ctx)

	m.logger.Info("Governance manager started", map[string]interface{}{
		"admin_count":       m.config.AdminCount,
		"quorum_threshold":  m.config.QuorumThreshold,
		"expiration_window": m.config.ExpirationWindow.String(),
	})
	return nil
}

// Stop halts the background sweep
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Governance manager stopped")
	return nil
}

// IsRunning reports whether the background sweep is active
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.config.CleanupInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep expires overdue pending requests and clears expired admission
// holds. Returns the number of requests expired.
func (m *Manager) Sweep() int {
	now := m.now().Unix()

	m.mu.Lock()
	var expired []*models.UpdateRequest
	for _, request := range m.requests {
		if request.Status == models.StatusPending && m.requestExpired(request, now) {
			m.expireLocked(request, now)
			expired = append(expired, request.Clone())
		}
	}
	m.mu.Unlock()

	m.tracker.CleanupExpiredRequests(now)

	for _, request := range expired {
		m.notifier.Notify(&notification.Event{
			Type: notification.EventRequestExpired,
			Data: map[string]interface{}{
				"request_id": request.ID,
				"requester":  request.RequesterID,
			},
		})
	}
	return len(expired)
}

// CreateRequest admits a new update request for the admin, subject to the
// admission ledger rules (one per admin per day, no overlapping requests).
func (m *Manager) CreateRequest(adminID, adminName string) (*models.UpdateRequest, error) {
	now := m.now().Unix()

	if err := m.tracker.Check(adminID, now); err != nil {
		return nil, err
	}

	request := &models.UpdateRequest{
		ID:            uuid.New().String(),
		RequesterID:   adminID,
		RequesterName: adminName,
		CreatedAt:     now,
		Status:        models.StatusPending,
		Votes:         make(map[string]models.Vote),
	}

	m.mu.Lock()
	m.requests[request.ID] = request
	m.mu.Unlock()

	m.tracker.RecordRequest(adminID, now)

	if m.metrics != nil {
		m.metrics.GetPrometheusMetrics().RecordRequestOutcome(string(models.StatusPending))
	}
	m.logger.Info("Update request created", map[string]interface{}{
		"request_id": request.ID,
		"requester":  adminID,
	})
	m.notifier.Notify(&notification.Event{
		Type: notification.EventRequestCreated,
		Data: map[string]interface{}{
			"request_id": request.ID,
			"requester":  adminID,
		},
	})

	return request.Clone(), nil
}

// CastVote records an admin's ballot on a pending request. An admin's
// later ballot replaces their earlier one; only the latest counts. When
// approve ballots reach quorum the request is approved and handed to the
// execution queue.
func (m *Manager) CastVote(requestID, voterID string, vote models.Vote) (*models.UpdateRequest, error) {
	if !admission.ValidAdminID(voterID) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Voter id is not a valid UUID v4", voterID)
	}
	if !vote.Valid() {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Vote must be approve or reject", string(vote))
	}

	now := m.now().Unix()

	m.mu.Lock()
	request, ok := m.requests[requestID]
	if !ok {
		m.mu.Unlock()
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Update request not found", requestID)
	}

	if request.Status == models.StatusPending && m.requestExpired(request, now) {
		m.expireLocked(request, now)
	}
	if request.Status.Terminal() {
		snapshot := request.Clone()
		m.mu.Unlock()
		return snapshot, utils.NewAppError(utils.ErrCodeRequestTerminal,
			"Request is no longer accepting votes", string(snapshot.Status))
	}

	request.Votes[voterID] = vote
	approvals := request.ApproveCount()
	needed := m.votesNeeded()

	if m.metrics != nil {
		m.metrics.GetPrometheusMetrics().VotesCastTotal.Inc()
	}
	m.logger.Info("Vote cast", map[string]interface{}{
		"request_id": requestID,
		"voter":      voterID,
		"vote":       string(vote),
		"approvals":  approvals,
		"needed":     needed,
	})

	if approvals < needed {
		snapshot := request.Clone()
		m.mu.Unlock()
		return snapshot, nil
	}

	// Quorum reached. The democratic path is throttled to one executed
	// update per day; a throttled request stays pending and expires on
	// its own schedule.
	if m.democraticUsedTodayLocked(now) {
		snapshot := request.Clone()
		m.mu.Unlock()
		return snapshot, utils.NewAppError(utils.ErrCodeDailyLimit,
			"Democratic update already executed today")
	}

	request.Status = models.StatusApproved
	resolved := now
	request.ResolvedAt = &resolved
	request.ResolvedBy = "quorum"
	m.democraticUsedDay = m.dayClock.DayStart(now)
	snapshot := request.Clone()
	m.mu.Unlock()

	m.approved(snapshot, models.RequestTypeDemocratic)

	if err := m.enqueue(snapshot, models.RequestTypeDemocratic); err != nil {
		// Approval is terminal and stands; the hand-off is retryable
		return snapshot, err
	}
	return snapshot, nil
}

// OwnerApprove approves a pending request unilaterally. Only the
// configured owner may take this path; it bypasses quorum and the
// democratic daily throttle.
func (m *Manager) OwnerApprove(requestID, ownerID string) (*models.UpdateRequest, error) {
	if err := m.requireOwner(ownerID); err != nil {
		return nil, err
	}

	now := m.now().Unix()

	m.mu.Lock()
	request, ok := m.requests[requestID]
	if !ok {
		m.mu.Unlock()
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Update request not found", requestID)
	}

	if request.Status == models.StatusPending && m.requestExpired(request, now) {
		m.expireLocked(request, now)
	}
	if request.Status.Terminal() {
		snapshot := request.Clone()
		m.mu.Unlock()
		return snapshot, utils.NewAppError(utils.ErrCodeRequestTerminal,
			"Request is no longer pending", string(snapshot.Status))
	}

	request.Status = models.StatusApproved
	resolved := now
	request.ResolvedAt = &resolved
	request.ResolvedBy = ownerID
	snapshot := request.Clone()
	m.mu.Unlock()

	m.approved(snapshot, models.RequestTypeOwner)

	if err := m.enqueue(snapshot, models.RequestTypeOwner); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

// OwnerReject rejects a pending request unilaterally
func (m *Manager) OwnerReject(requestID, ownerID, reason string) (*models.UpdateRequest, error) {
	if err := m.requireOwner(ownerID); err != nil {
		return nil, err
	}

	now := m.now().Unix()

	m.mu.Lock()
	request, ok := m.requests[requestID]
	if !ok {
		m.mu.Unlock()
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Update request not found", requestID)
	}

	if request.Status == models.StatusPending && m.requestExpired(request, now) {
		m.expireLocked(request, now)
	}
	if request.Status.Terminal() {
		snapshot := request.Clone()
		m.mu.Unlock()
		return snapshot, utils.NewAppError(utils.ErrCodeRequestTerminal,
			"Request is no longer pending", string(snapshot.Status))
	}

	request.Status = models.StatusRejected
	resolved := now
	request.ResolvedAt = &resolved
	request.ResolvedBy = ownerID
	snapshot := request.Clone()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.GetPrometheusMetrics().RecordRequestOutcome(string(models.StatusRejected))
	}
	m.logger.Info("Update request rejected by owner", map[string]interface{}{
		"request_id": requestID,
		"owner":      ownerID,
		"reason":     reason,
	})
	m.notifier.Notify(&notification.Event{
		Type: notification.EventRequestRejected,
		Data: map[string]interface{}{
			"request_id": requestID,
			"owner":      ownerID,
			"reason":     reason,
		},
	})

	return snapshot, nil
}

// RetryEnqueue re-attempts the queue hand-off for an approved request
// whose earlier enqueue was rejected
func (m *Manager) RetryEnqueue(requestID string) (*models.UpdateRequest, error) {
	m.mu.RLock()
	request, ok := m.requests[requestID]
	if !ok {
		m.mu.RUnlock()
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Update request not found", requestID)
	}
	if request.Status != models.StatusApproved {
		snapshot := request.Clone()
		m.mu.RUnlock()
		return snapshot, utils.NewAppError(utils.ErrCodeValidation,
			"Only approved requests can be re-enqueued", string(snapshot.Status))
	}
	snapshot := request.Clone()
	ownerID := m.config.OwnerID
	m.mu.RUnlock()

	requestType := models.RequestTypeDemocratic
	if ownerID != "" && snapshot.ResolvedBy == ownerID {
		requestType = models.RequestTypeOwner
	}

	if err := m.enqueue(snapshot, requestType); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

// GetRequest returns a snapshot of one request, lazily expiring it first
func (m *Manager) GetRequest(requestID string) (*models.UpdateRequest, error) {
	now := m.now().Unix()

	m.mu.Lock()
	defer m.mu.Unlock()

	request, ok := m.requests[requestID]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Update request not found", requestID)
	}
	if request.Status == models.StatusPending && m.requestExpired(request, now) {
		m.expireLocked(request, now)
	}
	return request.Clone(), nil
}

// ListRequests returns snapshots of all requests, optionally filtered by
// status. Pending requests past their window are expired before filtering.
func (m *Manager) ListRequests(status models.RequestStatus) []*models.UpdateRequest {
	now := m.now().Unix()

	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*models.UpdateRequest, 0, len(m.requests))
	for _, request := range m.requests {
		if request.Status == models.StatusPending && m.requestExpired(request, now) {
			m.expireLocked(request, now)
		}
		if status != "" && request.Status != status {
			continue
		}
		result = append(result, request.Clone())
	}
	return result
}

// SetAdminCount updates the roster size used as the quorum denominator
func (m *Manager) SetAdminCount(count int) error {
	if count < 1 {
		return utils.NewAppError(utils.ErrCodeValidation, "Admin count must be at least 1")
	}

	m.mu.Lock()
	m.config.AdminCount = count
	m.mu.Unlock()

	m.logger.Info("Admin roster size updated", map[string]interface{}{
		"admin_count": count,
	})
	return nil
}

// GetStats returns governance statistics
func (m *Manager) GetStats() *ManagerStats {
	now := m.now().Unix()

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &ManagerStats{
		TotalRequests:       len(m.requests),
		AdminCount:          m.config.AdminCount,
		QuorumThreshold:     m.config.QuorumThreshold,
		VotesNeeded:         m.votesNeeded(),
		DemocraticUsedToday: m.democraticUsedTodayLocked(now),
	}
	for _, request := range m.requests {
		switch request.Status {
		case models.StatusPending:
			stats.PendingRequests++
		case models.StatusApproved:
			stats.ApprovedRequests++
		case models.StatusRejected:
			stats.RejectedRequests++
		case models.StatusExpired:
			stats.ExpiredRequests++
		}
	}
	return stats
}

// internal helpers

func (m *Manager) requireOwner(ownerID string) error {
	if m.config.OwnerID == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "No owner configured")
	}
	if ownerID != m.config.OwnerID {
		return utils.NewAppError(utils.ErrCodeAdmissionDenied, "Caller is not the configured owner")
	}
	return nil
}

// votesNeeded rounds the quorum threshold up so a fractional quorum is
// never reachable one vote early
func (m *Manager) votesNeeded() int {
	return int(math.Ceil(m.config.QuorumThreshold * float64(m.config.AdminCount)))
}

func (m *Manager) requestExpired(request *models.UpdateRequest, now int64) bool {
	if request.CreatedAt <= 0 {
		return true
	}
	return now > request.CreatedAt+int64(m.config.ExpirationWindow/time.Second)
}

// expireLocked transitions a pending request to expired, caller holds the lock
func (m *Manager) expireLocked(request *models.UpdateRequest, now int64) {
	request.Status = models.StatusExpired
	resolved := now
	request.ResolvedAt = &resolved

	if m.metrics != nil {
		m.metrics.GetPrometheusMetrics().RecordRequestOutcome(string(models.StatusExpired))
	}
	m.logger.Info("Update request expired", map[string]interface{}{
		"request_id": request.ID,
		"requester":  request.RequesterID,
		"age":        fmt.Sprintf("%ds", now-request.CreatedAt),
	})
}

func (m *Manager) democraticUsedTodayLocked(now int64) bool {
	return m.democraticUsedDay != 0 && m.dayClock.SameDay(m.democraticUsedDay, now)
}

func (m *Manager) approved(request *models.UpdateRequest, requestType models.RequestType) {
	if m.metrics != nil {
		m.metrics.GetPrometheusMetrics().RecordRequestOutcome(string(models.StatusApproved))
	}
	m.logger.Info("Update request approved", map[string]interface{}{
		"request_id":  request.ID,
		"requester":   request.RequesterID,
		"type":        string(requestType),
		"resolved_by": request.ResolvedBy,
	})
	m.notifier.Notify(&notification.Event{
		Type: notification.EventRequestApproved,
		Data: map[string]interface{}{
			"request_id": request.ID,
			"requester":  request.RequesterID,
			"type":       string(requestType),
		},
	})
}

func (m *Manager) enqueue(request *models.UpdateRequest, requestType models.RequestType) error {
	queued := &models.QueuedRequest{
		ID:            request.ID,
		RequesterID:   request.RequesterID,
		RequesterName: request.RequesterName,
		Type:          requestType,
		Priority:      requestType.Priority(),
		EnqueuedAt:    m.now(),
	}
	if err := m.queue.Enqueue(queued); err != nil {
		m.logger.Warn("Queue hand-off rejected", map[string]interface{}{
			"request_id": request.ID,
			"retryable":  utils.IsRetryable(err),
			"error":      err.Error(),
		})
		return err
	}
	return nil
}
