// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/stacklabel/update-governor/internal/admission"
	"github.com/stacklabel/update-governor/internal/config"
	"github.com/stacklabel/update-governor/internal/governance"
	"github.com/stacklabel/update-governor/internal/metrics"
	"github.com/stacklabel/update-governor/internal/models"
	"github.com/stacklabel/update-governor/internal/queue"
	"github.com/stacklabel/update-governor/internal/storage"
	"github.com/stacklabel/update-governor/pkg/utils"
)

// Server exposes the governance core over HTTP
type Server struct {
	config     *config.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	logger     *logrus.Entry

	governance *governance.Manager
	queue      *queue.ExecutionQueue
	tracker    *admission.Tracker
	storage    storage.Storage
	metrics    *metrics.Manager

	startTime time.Time
}

// NewServer creates the HTTP server
func NewServer(cfg *config.ServerConfig, gov *governance.Manager, execQueue *queue.ExecutionQueue, tracker *admission.Tracker, store storage.Storage, metricsManager *metrics.Manager) *Server {
	s := &Server{
		config:     cfg,
		router:     mux.NewRouter(),
		logger:     utils.ComponentLogger("server"),
		governance: gov,
		queue:      execQueue,
		tracker:    tracker,
		storage:    store,
		metrics:    metricsManager,
		startTime:  time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.loggingMiddleware)
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
	if s.metrics != nil {
		s.router.Use(s.metricsMiddleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	api.HandleFunc("/requests", s.handleCreateRequest).Methods("POST")
	api.HandleFunc("/requests", s.handleListRequests).Methods("GET")
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods("GET")
	api.HandleFunc("/requests/{id}/votes", s.handleCastVote).Methods("POST")
	api.HandleFunc("/requests/{id}/approve", s.handleOwnerApprove).Methods("POST")
	api.HandleFunc("/requests/{id}/reject", s.handleOwnerReject).Methods("POST")
	api.HandleFunc("/requests/{id}/enqueue", s.handleRetryEnqueue).Methods("POST")

	api.HandleFunc("/queue", s.handleGetQueue).Methods("GET")
	api.HandleFunc("/queue", s.handleClearQueue).Methods("DELETE")
	api.HandleFunc("/queue/stats", s.handleQueueStats).Methods("GET")

	api.HandleFunc("/admins/stats", s.handleAdminStats).Methods("GET")
	api.HandleFunc("/admins/count", s.handleSetAdminCount).Methods("PUT")

	api.HandleFunc("/products", s.handleSubmitProduct).Methods("POST")
	api.HandleFunc("/products", s.handleListProducts).Methods("GET")
	api.HandleFunc("/products/{id}/review", s.handleReviewProduct).Methods("POST")

	api.HandleFunc("/audit", s.handleAuditLog).Methods("GET")
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", map[string]interface{}{
		"address": s.config.Address(),
	})

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return utils.NewAppError(utils.ErrCodeInternal, "HTTP server failed", err.Error())
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying router, used by tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().UTC(),
		"components": map[string]interface{}{
			"governance": s.governance.IsRunning(),
			"queue":      s.queue.IsRunning(),
		},
	}

	if s.storage != nil {
		if err := s.storage.Ping(); err != nil {
			health["status"] = "degraded"
			health["storage_error"] = err.Error()
		}
	}

	status := http.StatusOK
	if health["status"] != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"governance": s.governance.GetStats(),
		"queue":      s.queue.GetStats(),
		"admission":  s.tracker.GetStats(),
	}
	if s.storage != nil {
		if storageStats, err := s.storage.GetStorageStats(r.Context()); err == nil {
			stats["storage"] = storageStats
		}
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type createRequestPayload struct {
	AdminID   string `json:"admin_id"`
	AdminName string `json:"admin_name"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var payload createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error()))
		return
	}

	request, err := s.governance.CreateRequest(payload.AdminID, payload.AdminName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, request)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	status := models.RequestStatus(r.URL.Query().Get("status"))
	requests := s.governance.ListRequests(status)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	request, err := s.governance.GetRequest(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, request)
}

type castVotePayload struct {
	VoterID string `json:"voter_id"`
	Vote    string `json:"vote"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var payload castVotePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error()))
		return
	}

	request, err := s.governance.CastVote(mux.Vars(r)["id"], payload.VoterID, models.Vote(payload.Vote))
	if err != nil {
		s.writeVoteOutcome(w, request, err)
		return
	}
	s.writeJSON(w, http.StatusOK, request)
}

type ownerActionPayload struct {
	OwnerID string `json:"owner_id"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleOwnerApprove(w http.ResponseWriter, r *http.Request) {
	var payload ownerActionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error()))
		return
	}

	request, err := s.governance.OwnerApprove(mux.Vars(r)["id"], payload.OwnerID)
	if err != nil {
		s.writeVoteOutcome(w, request, err)
		return
	}
	s.writeJSON(w, http.StatusOK, request)
}

func (s *Server) handleOwnerReject(w http.ResponseWriter, r *http.Request) {
	var payload ownerActionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error()))
		return
	}

	request, err := s.governance.OwnerReject(mux.Vars(r)["id"], payload.OwnerID, payload.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, request)
}

func (s *Server) handleRetryEnqueue(w http.ResponseWriter, r *http.Request) {
	request, err := s.governance.RetryEnqueue(mux.Vars(r)["id"])
	if err != nil {
		s.writeVoteOutcome(w, request, err)
		return
	}
	s.writeJSON(w, http.StatusOK, request)
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	queued := s.queue.GetQueue()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue": queued,
		"count": len(queued),
	})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	dropped := s.queue.ClearQueue()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"dropped": dropped,
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queue.GetStats())
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats := s.tracker.AllAdminStats()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"admins": stats,
		"count":  len(stats),
	})
}

type adminCountPayload struct {
	Count int `json:"count"`
}

func (s *Server) handleSetAdminCount(w http.ResponseWriter, r *http.Request) {
	var payload adminCountPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error()))
		return
	}

	if err := s.governance.SetAdminCount(payload.Count); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"admin_count": payload.Count,
	})
}

type submitProductPayload struct {
	Name        string `json:"name"`
	BrandName   string `json:"brand_name"`
	Flavor      string `json:"flavor,omitempty"`
	Year        string `json:"year,omitempty"`
	SubmittedBy string `json:"submitted_by"`
}

func (s *Server) handleSubmitProduct(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeConfiguration, "Storage not configured"))
		return
	}

	var payload submitProductPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error()))
		return
	}
	if payload.Name == "" || payload.BrandName == "" {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "name and brand_name are required"))
		return
	}

	now := time.Now().UTC()
	product := &models.PendingProduct{
		ID:          uuid.New().String(),
		Name:        payload.Name,
		BrandName:   payload.BrandName,
		Flavor:      payload.Flavor,
		Year:        payload.Year,
		Status:      models.ProductPending,
		SubmittedBy: payload.SubmittedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.storage.SavePendingProduct(r.Context(), product); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, product)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeConfiguration, "Storage not configured"))
		return
	}

	status := models.ProductStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.ProductPending
	}
	products, err := s.storage.GetPendingProducts(r.Context(), status, 200)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"products": products,
		"count":    len(products),
	})
}

type reviewProductPayload struct {
	ReviewedBy string `json:"reviewed_by"`
	Accept     bool   `json:"accept"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleReviewProduct(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeConfiguration, "Storage not configured"))
		return
	}

	var payload reviewProductPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error()))
		return
	}

	status := models.ProductDenied
	if payload.Accept {
		status = models.ProductAccepted
	}
	id := mux.Vars(r)["id"]
	if err := s.storage.UpdateProductStatus(r.Context(), id, status, payload.ReviewedBy, payload.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": status,
	})
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, utils.NewAppError(utils.ErrCodeConfiguration, "Storage not configured"))
		return
	}

	entries, err := s.storage.GetAuditEntries(r.Context(), 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := utils.ErrorCode(err)

	body := map[string]interface{}{
		"error": err.Error(),
		"code":  code,
	}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		body["message"] = appErr.Message
		if appErr.Details != "" {
			body["details"] = appErr.Details
		}
	}
	if utils.IsRetryable(err) {
		body["retryable"] = true
	}

	s.writeJSON(w, statusForCode(code), body)
}

// writeVoteOutcome reports a governance transition that returned both a
// request snapshot and an error (throttled quorum, rejected hand-off).
// The snapshot rides along so callers see the authoritative status.
func (s *Server) writeVoteOutcome(w http.ResponseWriter, request *models.UpdateRequest, err error) {
	if request == nil {
		s.writeError(w, err)
		return
	}

	code := utils.ErrorCode(err)
	body := map[string]interface{}{
		"request": request,
		"error":   err.Error(),
		"code":    code,
	}
	if utils.IsRetryable(err) {
		body["retryable"] = true
	}
	s.writeJSON(w, statusForCode(code), body)
}

func statusForCode(code string) int {
	switch code {
	case utils.ErrCodeValidation:
		return http.StatusBadRequest
	case utils.ErrCodeAdmissionDenied:
		return http.StatusForbidden
	case utils.ErrCodeNotFound:
		return http.StatusNotFound
	case utils.ErrCodeRequestTerminal:
		return http.StatusConflict
	case utils.ErrCodeDailyLimit, utils.ErrCodeQueueFull, utils.ErrCodeRapidRequest:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
