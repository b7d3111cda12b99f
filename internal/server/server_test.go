// File: internal/server/server_test.go
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklabel/update-governor/internal/admission"
	"github.com/stacklabel/update-governor/internal/clock"
	"github.com/stacklabel/update-governor/internal/config"
	"github.com/stacklabel/update-governor/internal/executor"
	"github.com/stacklabel/update-governor/internal/governance"
	"github.com/stacklabel/update-governor/internal/models"
	"github.com/stacklabel/update-governor/internal/queue"
	"github.com/stacklabel/update-governor/internal/storage"
)

type apiHarness struct {
	server  *Server
	ownerID string
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		ConnectionString: ":memory:",
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	dayClock, err := clock.NewDayClock(clock.DefaultTimezone)
	require.NoError(t, err)

	tracker := admission.NewTracker(admission.DefaultTrackerConfig(), dayClock, nil)

	noop := executor.ExecutorFunc(func(ctx context.Context, request *models.QueuedRequest) error {
		return nil
	})
	execQueue := queue.NewExecutionQueue(queue.DefaultQueueConfig(), noop, nil, nil)

	ownerID := uuid.New().String()
	gov := governance.NewManager(&governance.ManagerConfig{
		QuorumThreshold:  0.75,
		ExpirationWindow: 10 * time.Minute,
		AdminCount:       4,
		OwnerID:          ownerID,
		CleanupInterval:  30 * time.Second,
	}, tracker, execQueue, dayClock, nil, nil)

	cfg := &config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  time.Minute,
		EnableCORS:   true,
	}

	return &apiHarness{
		server:  NewServer(cfg, gov, execQueue, tracker, store, nil),
		ownerID: ownerID,
	}
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	h.server.Router().ServeHTTP(recorder, req)
	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), target))
}

func TestHealthEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	recorder := h.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	var health map[string]interface{}
	decode(t, recorder, &health)
	assert.Equal(t, "healthy", health["status"])
}

func TestCreateRequestEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	admin := uuid.New().String()

	recorder := h.do(t, "POST", "/api/v1/requests", map[string]string{
		"admin_id":   admin,
		"admin_name": "alice",
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var request models.UpdateRequest
	decode(t, recorder, &request)
	assert.Equal(t, models.StatusPending, request.Status)
	assert.NotEmpty(t, request.ID)

	// Second request from the same admin is denied
	recorder = h.do(t, "POST", "/api/v1/requests", map[string]string{
		"admin_id": admin,
	})
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestCreateRequestValidation(t *testing.T) {
	h := newAPIHarness(t)

	recorder := h.do(t, "POST", "/api/v1/requests", map[string]string{
		"admin_id": "not-a-uuid",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	req := httptest.NewRequest("POST", "/api/v1/requests", bytes.NewReader([]byte("{broken")))
	recorder = httptest.NewRecorder()
	h.server.Router().ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestVotingFlowOverAPI(t *testing.T) {
	h := newAPIHarness(t)

	recorder := h.do(t, "POST", "/api/v1/requests", map[string]string{
		"admin_id": uuid.New().String(),
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var request models.UpdateRequest
	decode(t, recorder, &request)

	votePath := fmt.Sprintf("/api/v1/requests/%s/votes", request.ID)
	for i := 0; i < 2; i++ {
		recorder = h.do(t, "POST", votePath, map[string]string{
			"voter_id": uuid.New().String(),
			"vote":     "approve",
		})
		require.Equal(t, http.StatusOK, recorder.Code)
	}

	recorder = h.do(t, "POST", votePath, map[string]string{
		"voter_id": uuid.New().String(),
		"vote":     "approve",
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	var approved models.UpdateRequest
	decode(t, recorder, &approved)
	assert.Equal(t, models.StatusApproved, approved.Status)

	// The approved request is waiting in the queue
	recorder = h.do(t, "GET", "/api/v1/queue", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var queueBody struct {
		Count int `json:"count"`
	}
	decode(t, recorder, &queueBody)
	assert.Equal(t, 1, queueBody.Count)
}

func TestOwnerEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	recorder := h.do(t, "POST", "/api/v1/requests", map[string]string{
		"admin_id": uuid.New().String(),
	})
	require.Equal(t, http.StatusCreated, recorder.Code)
	var request models.UpdateRequest
	decode(t, recorder, &request)

	// Non-owner is refused
	recorder = h.do(t, "POST", fmt.Sprintf("/api/v1/requests/%s/approve", request.ID), map[string]string{
		"owner_id": uuid.New().String(),
	})
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	recorder = h.do(t, "POST", fmt.Sprintf("/api/v1/requests/%s/approve", request.ID), map[string]string{
		"owner_id": h.ownerID,
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	var approved models.UpdateRequest
	decode(t, recorder, &approved)
	assert.Equal(t, models.StatusApproved, approved.Status)

	// Approving again conflicts with the terminal state
	recorder = h.do(t, "POST", fmt.Sprintf("/api/v1/requests/%s/approve", request.ID), map[string]string{
		"owner_id": h.ownerID,
	})
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestGetRequestNotFound(t *testing.T) {
	h := newAPIHarness(t)

	recorder := h.do(t, "GET", "/api/v1/requests/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestQueueEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	recorder := h.do(t, "GET", "/api/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var stats queue.QueueStats
	decode(t, recorder, &stats)
	assert.Equal(t, 0, stats.Depth)
	assert.Equal(t, 1, stats.MaxQueueSize)

	recorder = h.do(t, "DELETE", "/api/v1/queue", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestAdminEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	recorder := h.do(t, "PUT", "/api/v1/admins/count", map[string]int{"count": 6})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = h.do(t, "PUT", "/api/v1/admins/count", map[string]int{"count": 0})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = h.do(t, "GET", "/api/v1/admins/stats", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestProductEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	recorder := h.do(t, "POST", "/api/v1/products", map[string]string{
		"name":         "Whey Isolate",
		"brand_name":   "Acme Labs",
		"flavor":       "chocolate",
		"submitted_by": uuid.New().String(),
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var product models.PendingProduct
	decode(t, recorder, &product)
	assert.Equal(t, models.ProductPending, product.Status)

	// Missing required fields
	recorder = h.do(t, "POST", "/api/v1/products", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = h.do(t, "GET", "/api/v1/products", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var listing struct {
		Count int `json:"count"`
	}
	decode(t, recorder, &listing)
	assert.Equal(t, 1, listing.Count)

	recorder = h.do(t, "POST", fmt.Sprintf("/api/v1/products/%s/review", product.ID), map[string]interface{}{
		"reviewed_by": uuid.New().String(),
		"accept":      true,
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = h.do(t, "GET", "/api/v1/products?status=accepted", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	decode(t, recorder, &listing)
	assert.Equal(t, 1, listing.Count)
}

func TestAuditEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	recorder := h.do(t, "GET", "/api/v1/audit", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Count int `json:"count"`
	}
	decode(t, recorder, &body)
	assert.Equal(t, 0, body.Count)
}

func TestCORSHeaders(t *testing.T) {
	h := newAPIHarness(t)

	recorder := h.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
}
