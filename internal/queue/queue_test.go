// File: internal/queue/queue_test.go
package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklabel/update-governor/internal/executor"
	"github.com/stacklabel/update-governor/internal/models"
	"github.com/stacklabel/update-governor/pkg/utils"
)

func noopExecutor() executor.Executor {
	return executor.ExecutorFunc(func(ctx context.Context, request *models.QueuedRequest) error {
		return nil
	})
}

func newTestQueue(exec executor.Executor) (*ExecutionQueue, *time.Time) {
	current := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	q := NewExecutionQueue(DefaultQueueConfig(), exec, nil, nil)
	q.now = func() time.Time { return current }
	return q, &current
}

func makeRequest(requestType models.RequestType) *models.QueuedRequest {
	return &models.QueuedRequest{
		ID:          uuid.New().String(),
		RequesterID: uuid.New().String(),
		Type:        requestType,
		Priority:    requestType.Priority(),
	}
}

func TestEnqueueSingleSlot(t *testing.T) {
	q, _ := newTestQueue(noopExecutor())

	require.NoError(t, q.Enqueue(makeRequest(models.RequestTypeDemocratic)))

	err := q.Enqueue(makeRequest(models.RequestTypeDemocratic))
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeQueueFull, utils.ErrorCode(err))
	assert.True(t, utils.IsRetryable(err))

	stats := q.GetStats()
	assert.Equal(t, 1, stats.Depth)
	assert.Equal(t, int64(1), stats.TotalEnqueued)
	assert.Equal(t, int64(1), stats.RejectedFull)
}

func TestEnqueueConcurrentAdmitsExactlyOne(t *testing.T) {
	q, _ := newTestQueue(noopExecutor())

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- q.Enqueue(makeRequest(models.RequestTypeDemocratic))
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	rejected := 0
	for err := range results {
		if err == nil {
			accepted++
		} else {
			assert.Equal(t, utils.ErrCodeQueueFull, utils.ErrorCode(err))
			rejected++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, attempts-1, rejected)
	assert.Equal(t, 1, q.GetStats().Depth)
}

func TestRapidRequestAfterExecution(t *testing.T) {
	q, current := newTestQueue(noopExecutor())

	require.NoError(t, q.Enqueue(makeRequest(models.RequestTypeDemocratic)))
	require.True(t, q.ProcessNext(context.Background()))

	// Immediately after an execution every enqueue is rapid-fire
	err := q.Enqueue(makeRequest(models.RequestTypeDemocratic))
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeRapidRequest, utils.ErrorCode(err))
	assert.True(t, utils.IsRetryable(err))

	// Past the threshold the queue accepts again
	*current = current.Add(6 * time.Second)
	assert.NoError(t, q.Enqueue(makeRequest(models.RequestTypeDemocratic)))
}

func TestRapidRequestSameRequester(t *testing.T) {
	q, current := newTestQueue(noopExecutor())
	require.NoError(t, q.UpdateConfig(&QueueConfig{
		MaxQueueSize:   2,
		RapidThreshold: 5 * time.Second,
		PollInterval:   2 * time.Second,
		MaxWaitTime:    60 * time.Second,
	}))

	request := makeRequest(models.RequestTypeDemocratic)
	require.NoError(t, q.Enqueue(request))

	duplicate := makeRequest(models.RequestTypeDemocratic)
	duplicate.RequesterID = request.RequesterID
	*current = current.Add(2 * time.Second)

	err := q.Enqueue(duplicate)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeRapidRequest, utils.ErrorCode(err))
	assert.Equal(t, int64(1), q.GetStats().RejectedRapid)
}

func TestProcessNextPriorityOrdering(t *testing.T) {
	var executed []string
	exec := executor.ExecutorFunc(func(ctx context.Context, request *models.QueuedRequest) error {
		executed = append(executed, request.ID)
		return nil
	})

	q, current := newTestQueue(exec)
	require.NoError(t, q.UpdateConfig(&QueueConfig{
		MaxQueueSize:   3,
		RapidThreshold: 5 * time.Second,
		PollInterval:   2 * time.Second,
		MaxWaitTime:    60 * time.Second,
	}))

	democratic := makeRequest(models.RequestTypeDemocratic)
	owner := makeRequest(models.RequestTypeOwner)
	laterDemocratic := makeRequest(models.RequestTypeDemocratic)

	require.NoError(t, q.Enqueue(democratic))
	require.NoError(t, q.Enqueue(owner))
	require.NoError(t, q.Enqueue(laterDemocratic))

	for i := 0; i < 3; i++ {
		require.True(t, q.ProcessNext(context.Background()))
		*current = current.Add(10 * time.Second)
	}

	// Owner priority wins; equal priorities keep arrival order
	require.Len(t, executed, 3)
	assert.Equal(t, owner.ID, executed[0])
	assert.Equal(t, democratic.ID, executed[1])
	assert.Equal(t, laterDemocratic.ID, executed[2])
}

func TestProcessNextEmptyQueue(t *testing.T) {
	q, _ := newTestQueue(noopExecutor())
	assert.False(t, q.ProcessNext(context.Background()))
}

func TestProcessNextExecutorFailure(t *testing.T) {
	exec := executor.ExecutorFunc(func(ctx context.Context, request *models.QueuedRequest) error {
		return utils.NewAppError(utils.ErrCodeExecution, "boom")
	})
	q, _ := newTestQueue(exec)

	require.NoError(t, q.Enqueue(makeRequest(models.RequestTypeDemocratic)))
	require.True(t, q.ProcessNext(context.Background()))

	stats := q.GetStats()
	assert.Equal(t, 0, stats.Depth)
	assert.Equal(t, int64(1), stats.TotalFailed)
	assert.Equal(t, int64(0), stats.TotalExecuted)
	assert.NotNil(t, stats.LastProcessed)
}

func TestCleanupStaleRequests(t *testing.T) {
	q, current := newTestQueue(noopExecutor())

	require.NoError(t, q.Enqueue(makeRequest(models.RequestTypeDemocratic)))
	assert.Equal(t, 0, q.CleanupStaleRequests())

	*current = current.Add(61 * time.Second)
	assert.Equal(t, 1, q.CleanupStaleRequests())

	stats := q.GetStats()
	assert.Equal(t, 0, stats.Depth)
	assert.Equal(t, int64(1), stats.StaleRemoved)
}

func TestGetQueueReturnsSnapshot(t *testing.T) {
	q, _ := newTestQueue(noopExecutor())

	request := makeRequest(models.RequestTypeDemocratic)
	require.NoError(t, q.Enqueue(request))

	snapshot := q.GetQueue()
	require.Len(t, snapshot, 1)
	assert.Equal(t, request.ID, snapshot[0].ID)

	// Mutating the snapshot must not touch the queue
	snapshot[0].ID = "mutated"
	assert.Equal(t, request.ID, q.GetQueue()[0].ID)
}

func TestClearQueue(t *testing.T) {
	q, _ := newTestQueue(noopExecutor())

	require.NoError(t, q.Enqueue(makeRequest(models.RequestTypeDemocratic)))
	assert.Equal(t, 1, q.ClearQueue())
	assert.Equal(t, 0, q.GetStats().Depth)
	assert.Equal(t, 0, q.ClearQueue())
}

func TestUpdateConfigValidation(t *testing.T) {
	q, _ := newTestQueue(noopExecutor())

	assert.Error(t, q.UpdateConfig(nil))
	assert.Error(t, q.UpdateConfig(&QueueConfig{MaxQueueSize: 0, PollInterval: time.Second, MaxWaitTime: time.Minute}))
	assert.Error(t, q.UpdateConfig(&QueueConfig{MaxQueueSize: 1, PollInterval: time.Minute, MaxWaitTime: time.Second}))
}

func TestStartStop(t *testing.T) {
	q, _ := newTestQueue(noopExecutor())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Start(ctx))
	assert.True(t, q.IsRunning())
	assert.Error(t, q.Start(ctx))

	require.NoError(t, q.Stop())
	assert.False(t, q.IsRunning())
}
