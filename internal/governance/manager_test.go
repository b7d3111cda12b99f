// File: internal/governance/manager_test.go
package governance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklabel/update-governor/internal/admission"
	"github.com/stacklabel/update-governor/internal/clock"
	"github.com/stacklabel/update-governor/internal/executor"
	"github.com/stacklabel/update-governor/internal/models"
	"github.com/stacklabel/update-governor/internal/queue"
	"github.com/stacklabel/update-governor/pkg/utils"
)

func noopExecutor() executor.Executor {
	return executor.ExecutorFunc(func(ctx context.Context, request *models.QueuedRequest) error {
		return nil
	})
}

type testHarness struct {
	manager *Manager
	queue   *queue.ExecutionQueue
	tracker *admission.Tracker
	ownerID string
	current time.Time
}

// advance moves the shared test clock forward
func (h *testHarness) advance(d time.Duration) {
	h.current = h.current.Add(d)
}

// newHarness builds a manager wired to a real queue and tracker with a
// controllable clock anchored at local noon, so day math never straddles
// a midnight boundary during the run.
func newHarness(t *testing.T) *testHarness {
	t.Helper()

	dayClock, err := clock.NewDayClock(clock.DefaultTimezone)
	require.NoError(t, err)

	h := &testHarness{
		ownerID: uuid.New().String(),
		current: time.Unix(dayClock.DayStart(time.Now().Unix())+12*3600, 0),
	}
	nowFunc := func() time.Time { return h.current }

	h.tracker = admission.NewTracker(admission.DefaultTrackerConfig(), dayClock, nil)
	h.queue = queue.NewExecutionQueue(queue.DefaultQueueConfig(), noopExecutor(), nil, nil)

	h.manager = NewManager(&ManagerConfig{
		QuorumThreshold:  0.75,
		ExpirationWindow: 10 * time.Minute,
		AdminCount:       4,
		OwnerID:          h.ownerID,
		CleanupInterval:  30 * time.Second,
	}, h.tracker, h.queue, dayClock, nil, nil)
	h.manager.now = nowFunc

	return h
}

func TestCreateRequest(t *testing.T) {
	h := newHarness(t)
	admin := uuid.New().String()

	request, err := h.manager.CreateRequest(admin, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, request.Status)
	assert.Equal(t, admin, request.RequesterID)
	assert.Equal(t, "alice", request.RequesterName)
	assert.Empty(t, request.Votes)

	// Same admin, same day: the admission ledger says no
	_, err = h.manager.CreateRequest(admin, "alice")
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeAdmissionDenied, utils.ErrorCode(err))
}

func TestCreateRequestRejectsInvalidAdmin(t *testing.T) {
	h := newHarness(t)

	_, err := h.manager.CreateRequest("not-a-uuid", "bob")
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeValidation, utils.ErrorCode(err))
}

func TestQuorumApprovalFlipsOnExactThreshold(t *testing.T) {
	h := newHarness(t)
	request, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	// 4 admins at 0.75 means exactly 3 approvals
	v1, v2, v3 := uuid.New().String(), uuid.New().String(), uuid.New().String()

	updated, err := h.manager.CastVote(request.ID, v1, models.VoteApprove)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, updated.Status)

	updated, err = h.manager.CastVote(request.ID, v2, models.VoteApprove)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, updated.Status)

	updated, err = h.manager.CastVote(request.ID, v3, models.VoteApprove)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, updated.Status)
	assert.Equal(t, "quorum", updated.ResolvedBy)
	require.NotNil(t, updated.ResolvedAt)

	// Approval handed the request to the execution queue at democratic priority
	queued := h.queue.GetQueue()
	require.Len(t, queued, 1)
	assert.Equal(t, request.ID, queued[0].ID)
	assert.Equal(t, models.PriorityDemocratic, queued[0].Priority)
}

func TestLastVoteWins(t *testing.T) {
	h := newHarness(t)
	request, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	voter := uuid.New().String()

	updated, err := h.manager.CastVote(request.ID, voter, models.VoteApprove)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ApproveCount())

	// The same admin flips to reject; only the latest ballot counts
	updated, err = h.manager.CastVote(request.ID, voter, models.VoteReject)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.ApproveCount())
	assert.Len(t, updated.Votes, 1)
}

func TestCastVoteValidation(t *testing.T) {
	h := newHarness(t)
	request, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	_, err = h.manager.CastVote(request.ID, "bogus", models.VoteApprove)
	assert.Equal(t, utils.ErrCodeValidation, utils.ErrorCode(err))

	_, err = h.manager.CastVote(request.ID, uuid.New().String(), models.Vote("maybe"))
	assert.Equal(t, utils.ErrCodeValidation, utils.ErrorCode(err))

	_, err = h.manager.CastVote("missing", uuid.New().String(), models.VoteApprove)
	assert.Equal(t, utils.ErrCodeNotFound, utils.ErrorCode(err))
}

func TestVotingOnTerminalRequest(t *testing.T) {
	h := newHarness(t)
	request, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	_, err = h.manager.OwnerReject(request.ID, h.ownerID, "not today")
	require.NoError(t, err)

	snapshot, err := h.manager.CastVote(request.ID, uuid.New().String(), models.VoteApprove)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeRequestTerminal, utils.ErrorCode(err))
	assert.Equal(t, models.StatusRejected, snapshot.Status)
}

func TestRequestExpiresAfterWindow(t *testing.T) {
	h := newHarness(t)
	request, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	h.advance(10*time.Minute + time.Second)

	snapshot, err := h.manager.GetRequest(request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, snapshot.Status)
	require.NotNil(t, snapshot.ResolvedAt)

	// Expired is terminal
	_, err = h.manager.CastVote(request.ID, uuid.New().String(), models.VoteApprove)
	assert.Equal(t, utils.ErrCodeRequestTerminal, utils.ErrorCode(err))
	_, err = h.manager.OwnerApprove(request.ID, h.ownerID)
	assert.Equal(t, utils.ErrCodeRequestTerminal, utils.ErrorCode(err))
}

func TestSweepExpiresPendingRequests(t *testing.T) {
	h := newHarness(t)
	request, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	assert.Equal(t, 0, h.manager.Sweep())

	h.advance(11 * time.Minute)
	assert.Equal(t, 1, h.manager.Sweep())

	snapshot, err := h.manager.GetRequest(request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, snapshot.Status)
}

func TestOwnerApprove(t *testing.T) {
	h := newHarness(t)
	request, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	updated, err := h.manager.OwnerApprove(request.ID, h.ownerID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, updated.Status)
	assert.Equal(t, h.ownerID, updated.ResolvedBy)

	queued := h.queue.GetQueue()
	require.Len(t, queued, 1)
	assert.Equal(t, models.PriorityOwner, queued[0].Priority)
	assert.Equal(t, models.RequestTypeOwner, queued[0].Type)
}

func TestOwnerApproveRequiresOwner(t *testing.T) {
	h := newHarness(t)
	request, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	_, err = h.manager.OwnerApprove(request.ID, uuid.New().String())
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeAdmissionDenied, utils.ErrorCode(err))
}

func TestOwnerPathSkipsDemocraticThrottle(t *testing.T) {
	h := newHarness(t)
	request, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	_, err = h.manager.OwnerApprove(request.ID, h.ownerID)
	require.NoError(t, err)

	assert.False(t, h.manager.GetStats().DemocraticUsedToday)
}

func TestDemocraticThrottleOncePerDay(t *testing.T) {
	h := newHarness(t)
	first, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	voters := []string{uuid.New().String(), uuid.New().String(), uuid.New().String()}
	for _, voter := range voters {
		_, err = h.manager.CastVote(first.ID, voter, models.VoteApprove)
	}
	require.NoError(t, err)
	assert.True(t, h.manager.GetStats().DemocraticUsedToday)

	// The admission ledger would block a second request today, so plant one
	// directly to exercise the voting-side throttle on its own.
	second := &models.UpdateRequest{
		ID:          uuid.New().String(),
		RequesterID: uuid.New().String(),
		CreatedAt:   h.current.Unix(),
		Status:      models.StatusPending,
		Votes:       make(map[string]models.Vote),
	}
	h.manager.mu.Lock()
	h.manager.requests[second.ID] = second
	h.manager.mu.Unlock()

	var snapshot *models.UpdateRequest
	for i, voter := range voters {
		snapshot, err = h.manager.CastVote(second.ID, voter, models.VoteApprove)
		if i < len(voters)-1 {
			require.NoError(t, err)
		}
	}

	// Quorum reached but the daily democratic slot is spent
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeDailyLimit, utils.ErrorCode(err))
	assert.Equal(t, models.StatusPending, snapshot.Status)

	// Next day the throttle lifts
	h.advance(24 * time.Hour)
	assert.False(t, h.manager.GetStats().DemocraticUsedToday)
}

func TestEnqueueRejectionLeavesRequestApproved(t *testing.T) {
	h := newHarness(t)
	request, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	// Occupy the single queue slot so the hand-off bounces
	require.NoError(t, h.queue.Enqueue(&models.QueuedRequest{
		ID:          uuid.New().String(),
		RequesterID: uuid.New().String(),
		Type:        models.RequestTypeDemocratic,
	}))

	snapshot, err := h.manager.OwnerApprove(request.ID, h.ownerID)
	require.Error(t, err)
	assert.True(t, utils.IsRetryable(err))
	assert.Equal(t, models.StatusApproved, snapshot.Status)

	// Free the slot and retry the hand-off
	h.queue.ClearQueue()
	snapshot, err = h.manager.RetryEnqueue(request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, snapshot.Status)

	queued := h.queue.GetQueue()
	require.Len(t, queued, 1)
	assert.Equal(t, request.ID, queued[0].ID)
	assert.Equal(t, models.PriorityOwner, queued[0].Priority)
}

func TestRetryEnqueueRequiresApproved(t *testing.T) {
	h := newHarness(t)
	request, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	_, err = h.manager.RetryEnqueue(request.ID)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeValidation, utils.ErrorCode(err))

	_, err = h.manager.RetryEnqueue("missing")
	assert.Equal(t, utils.ErrCodeNotFound, utils.ErrorCode(err))
}

func TestListRequests(t *testing.T) {
	h := newHarness(t)
	request, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	all := h.manager.ListRequests("")
	require.Len(t, all, 1)

	pending := h.manager.ListRequests(models.StatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, request.ID, pending[0].ID)

	assert.Empty(t, h.manager.ListRequests(models.StatusApproved))

	h.advance(11 * time.Minute)
	expired := h.manager.ListRequests(models.StatusExpired)
	require.Len(t, expired, 1)
}

func TestSetAdminCountChangesQuorum(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, 3, h.manager.GetStats().VotesNeeded)

	require.NoError(t, h.manager.SetAdminCount(8))
	assert.Equal(t, 6, h.manager.GetStats().VotesNeeded)

	assert.Error(t, h.manager.SetAdminCount(0))
}

func TestGetStatsCountsByStatus(t *testing.T) {
	h := newHarness(t)
	request, err := h.manager.CreateRequest(uuid.New().String(), "alice")
	require.NoError(t, err)

	stats := h.manager.GetStats()
	assert.Equal(t, 1, stats.TotalRequests)
	assert.Equal(t, 1, stats.PendingRequests)

	_, err = h.manager.OwnerApprove(request.ID, h.ownerID)
	require.NoError(t, err)

	stats = h.manager.GetStats()
	assert.Equal(t, 1, stats.ApprovedRequests)
	assert.Equal(t, 0, stats.PendingRequests)
}
