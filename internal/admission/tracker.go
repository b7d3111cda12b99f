// File: internal/admission/tracker.go
package admission

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stacklabel/update-governor/internal/clock"
	"github.com/stacklabel/update-governor/internal/metrics"
	"github.com/stacklabel/update-governor/internal/models"
	"github.com/stacklabel/update-governor/pkg/utils"
)

// Denial reasons surfaced in AppError details and metrics labels
const (
	ReasonInvalidAdminID   = "invalid_admin_id"
	ReasonInvalidTimestamp = "invalid_timestamp"
	ReasonAlreadyRequested = "already_requested_today"
	ReasonOverlap          = "overlapping_request"
	ReasonActiveRequest    = "active_request"
)

// TrackerConfig holds admission tracker configuration
type TrackerConfig struct {
	MaxRequestsPerDay int           `json:"max_requests_per_day"`
	ExpirationWindow  time.Duration `json:"expiration_window"`
	SanityWindow      time.Duration `json:"sanity_window"`
}

// DefaultTrackerConfig returns the production admission limits
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		MaxRequestsPerDay: 1,
		ExpirationWindow:  10 * time.Minute,
		SanityWindow:      365 * 24 * time.Hour,
	}
}

// adminRecord is the per-admin eligibility ledger entry. requestsToday is
// only meaningful while dayStartTime matches the current day boundary; a
// stale dayStartTime means a lazy reset is due before the counter is read.
type adminRecord struct {
	adminID          string
	requestsToday    int
	lastRequestTime  int64
	dayStartTime     int64
	hasActiveRequest bool
}

// TrackerStats is the tracker's monitoring snapshot
type TrackerStats struct {
	TrackedAdmins  int    `json:"tracked_admins"`
	ActiveRequests int    `json:"active_requests"`
	ChecksTotal    uint64 `json:"checks_total"`
	DenialsTotal   uint64 `json:"denials_total"`
	LastResetDay   int64  `json:"last_reset_day"`
}

// Tracker is the per-admin, per-day request eligibility ledger. It answers
// "can this admin request today" and records requests and expirations.
// All timestamps are unix seconds supplied by the caller, which keeps the
// rules deterministic and testable.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*adminRecord

	config *TrackerConfig
	clock  *clock.DayClock
	logger *logrus.Logger

	metricsManager *metrics.Manager

	currentDayStart int64
	lastResetDay    int64

	checksTotal  uint64
	denialsTotal uint64
}

// NewTracker creates a new admission tracker
func NewTracker(config *TrackerConfig, dayClock *clock.DayClock, metricsManager *metrics.Manager) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}

	return &Tracker{
		records:        make(map[string]*adminRecord),
		config:         config,
		clock:          dayClock,
		logger:         utils.GetLogger(),
		metricsManager: metricsManager,
		lastResetDay:   -1,
	}
}

// Check reports whether the admin may create a request at now, returning a
// coded error describing the denial. Fails closed on malformed input.
func (t *Tracker) Check(adminID string, now int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checksTotal++

	if !ValidAdminID(adminID) {
		return t.denyLocked(ReasonInvalidAdminID, utils.NewAppError(utils.ErrCodeValidation,
			"Admin id is not a valid UUID v4", adminID))
	}
	if !t.validTimestamp(now) {
		return t.denyLocked(ReasonInvalidTimestamp, utils.NewAppError(utils.ErrCodeValidation,
			"Timestamp outside sanity window"))
	}

	// Lazy daily reset before reading any counter
	if t.needsDailyResetLocked(now) {
		t.resetDailyLocked(now)
	}

	dayStart := t.clock.DayStart(now)

	if t.hasRequestedTodayLocked(adminID, dayStart) {
		return t.denyLocked(ReasonAlreadyRequested, utils.NewAppError(utils.ErrCodeAdmissionDenied,
			"Admin has already made a request today"))
	}

	// Cross-admin overlap scan: any request recorded inside the current day
	// window blocks admission regardless of which admin made it. Linear scan
	// is sufficient at admin-roster scale.
	if t.overlapCountLocked(dayStart, now) > 0 {
		return t.denyLocked(ReasonOverlap, utils.NewAppError(utils.ErrCodeAdmissionDenied,
			"Overlapping request recorded within the current day window"))
	}

	if record, ok := t.records[adminID]; ok && record.hasActiveRequest {
		if !t.expired(record.lastRequestTime, now) {
			return t.denyLocked(ReasonActiveRequest, utils.NewAppError(utils.ErrCodeAdmissionDenied,
				"Admin has an active non-expired request"))
		}
	}

	if t.metricsManager != nil {
		t.metricsManager.GetPrometheusMetrics().RecordAdmissionCheck(true, "")
	}

	return nil
}

// CanMakeRequest is the boolean form of Check
func (t *Tracker) CanMakeRequest(adminID string, now int64) bool {
	return t.Check(adminID, now) == nil
}

// RecordRequest records a request for the admin at the given time.
// Invalid input is a silent no-op; the tracker never corrupts its ledger
// on garbage.
func (t *Tracker) RecordRequest(adminID string, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !ValidAdminID(adminID) || !t.validTimestamp(now) {
		return
	}

	record, ok := t.records[adminID]
	if !ok {
		record = &adminRecord{adminID: adminID}
		t.records[adminID] = record
	}

	// Day-boundary check before touching the counter
	dayStart := t.clock.DayStart(now)
	if record.dayStartTime != dayStart {
		record.requestsToday = 0
		record.dayStartTime = dayStart
	}

	record.lastRequestTime = now
	record.hasActiveRequest = true
	record.requestsToday++

	if t.metricsManager != nil {
		pm := t.metricsManager.GetPrometheusMetrics()
		pm.RequestsRecordedTotal.Inc()
		pm.ActiveRequests.Set(float64(t.activeCountLocked()))
	}

	t.logger.Info("Recorded admin request", map[string]interface{}{
		"admin_id":       adminID,
		"timestamp":      now,
		"requests_today": record.requestsToday,
	})
}

// IsRequestExpired reports whether a request made at requestTimestamp has
// expired by now. Non-positive timestamps are treated as expired.
func (t *Tracker) IsRequestExpired(requestTimestamp, now int64) bool {
	return expiredWithin(requestTimestamp, now, t.config.ExpirationWindow)
}

// CleanupExpiredRequests clears the active flag on every record whose last
// request has expired. It does not touch the daily counters.
func (t *Tracker) CleanupExpiredRequests(now int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cleared := 0
	for _, record := range t.records {
		if record.hasActiveRequest && t.expired(record.lastRequestTime, now) {
			record.hasActiveRequest = false
			cleared++
		}
	}

	if cleared > 0 {
		if t.metricsManager != nil {
			t.metricsManager.GetPrometheusMetrics().ActiveRequests.Set(float64(t.activeCountLocked()))
		}
		t.logger.Info("Cleared expired admin requests", map[string]interface{}{"count": cleared})
	}

	return cleared
}

// ResetDaily zeroes the daily counters and active flags for every record.
// Idempotent: a second call on the same day leaves the state unchanged.
func (t *Tracker) ResetDaily(now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetDailyLocked(now)
}

// NeedsDailyReset reports whether the day boundary has rolled over since
// the tracker's last reset
func (t *Tracker) NeedsDailyReset(now int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.needsDailyResetLocked(now)
}

// HasAdminRequestedToday reports whether the admin already has a counted
// request in the current day window
func (t *Tracker) HasAdminRequestedToday(adminID string, now int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hasRequestedTodayLocked(adminID, t.clock.DayStart(now))
}

// AdminRequestCountToday returns the admin's counted requests for the
// current day window, zero for a stale or unknown record
func (t *Tracker) AdminRequestCountToday(adminID string, now int64) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, ok := t.records[adminID]
	if !ok || record.dayStartTime != t.clock.DayStart(now) {
		return 0
	}
	return record.requestsToday
}

// GetTotalRequestsToday sums today's counted requests across all records.
// Stale-day records are excluded, not lazily reset, so the read has no
// side effects.
func (t *Tracker) GetTotalRequestsToday(now int64) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	dayStart := t.clock.DayStart(now)
	total := 0
	for _, record := range t.records {
		if record.dayStartTime == dayStart {
			total += record.requestsToday
		}
	}
	return total
}

// AllAdminStats returns a snapshot of every tracked admin
func (t *Tracker) AllAdminStats() []models.AdminStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := make([]models.AdminStats, 0, len(t.records))
	for _, record := range t.records {
		stats = append(stats, models.AdminStats{
			AdminID:          record.adminID,
			RequestsToday:    record.requestsToday,
			LastRequestTime:  record.lastRequestTime,
			HasActiveRequest: record.hasActiveRequest,
		})
	}
	return stats
}

// GetStats returns tracker statistics
func (t *Tracker) GetStats() *TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return &TrackerStats{
		TrackedAdmins:  len(t.records),
		ActiveRequests: t.activeCountLocked(),
		ChecksTotal:    t.checksTotal,
		DenialsTotal:   t.denialsTotal,
		LastResetDay:   t.lastResetDay,
	}
}

// internal helpers, caller holds the lock

func (t *Tracker) denyLocked(reason string, err *utils.AppError) error {
	t.denialsTotal++
	if t.metricsManager != nil {
		t.metricsManager.GetPrometheusMetrics().RecordAdmissionCheck(false, reason)
	}
	t.logger.Debug("Admission denied", map[string]interface{}{"reason": reason})
	return err
}

func (t *Tracker) needsDailyResetLocked(now int64) bool {
	return t.clock.DayStart(now) != t.currentDayStart
}

func (t *Tracker) resetDailyLocked(now int64) {
	for _, record := range t.records {
		record.requestsToday = 0
		record.hasActiveRequest = false
	}

	t.lastResetDay = t.currentDayStart
	t.currentDayStart = t.clock.DayStart(now)

	t.logger.Info("Admission tracker daily reset", map[string]interface{}{
		"day_start": t.currentDayStart,
	})
}

func (t *Tracker) hasRequestedTodayLocked(adminID string, dayStart int64) bool {
	record, ok := t.records[adminID]
	if !ok {
		return false
	}
	return record.dayStartTime == dayStart && record.requestsToday >= t.config.MaxRequestsPerDay
}

func (t *Tracker) overlapCountLocked(dayStart, now int64) int {
	count := 0
	for _, record := range t.records {
		if record.dayStartTime == dayStart &&
			record.lastRequestTime >= dayStart &&
			record.lastRequestTime <= now {
			count++
		}
	}
	return count
}

func (t *Tracker) activeCountLocked() int {
	count := 0
	for _, record := range t.records {
		if record.hasActiveRequest {
			count++
		}
	}
	return count
}

func (t *Tracker) expired(requestTimestamp, now int64) bool {
	return expiredWithin(requestTimestamp, now, t.config.ExpirationWindow)
}

func (t *Tracker) validTimestamp(ts int64) bool {
	window := int64(t.config.SanityWindow / time.Second)
	wall := time.Now().Unix()
	return ts > wall-window && ts < wall+window
}

// expiredWithin is the shared expiration predicate. Once true for a given
// requestTimestamp it stays true for any later now.
func expiredWithin(requestTimestamp, now int64, window time.Duration) bool {
	if requestTimestamp <= 0 || now <= 0 {
		return true
	}
	return now > requestTimestamp+int64(window/time.Second)
}

// ValidAdminID reports whether the id is a well-formed UUID v4, the only
// identity format the core accepts. Authenticity is the caller's problem;
// format is ours.
func ValidAdminID(adminID string) bool {
	if len(adminID) != 36 {
		return false
	}
	parsed, err := uuid.Parse(adminID)
	if err != nil {
		return false
	}
	return parsed.Version() == 4
}
