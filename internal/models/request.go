// File: internal/models/request.go
package models

import "time"

// RequestStatus represents the lifecycle state of an update request
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	StatusExpired  RequestStatus = "expired"
)

// Terminal reports whether the status accepts no further transitions
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// RequestType distinguishes the two approval paths
type RequestType string

const (
	RequestTypeOwner      RequestType = "owner"
	RequestTypeDemocratic RequestType = "democratic"
)

// Execution priorities per request type. Owner requests always execute
// before democratic ones when both are eligible.
const (
	PriorityOwner      = 100
	PriorityDemocratic = 50
)

// Priority returns the execution priority for the request type
func (t RequestType) Priority() int {
	if t == RequestTypeOwner {
		return PriorityOwner
	}
	return PriorityDemocratic
}

// Vote is a single admin's ballot on an update request
type Vote string

const (
	VoteApprove Vote = "approve"
	VoteReject  Vote = "reject"
)

// Valid reports whether the vote value is one of the known ballots
func (v Vote) Valid() bool {
	return v == VoteApprove || v == VoteReject
}

// UpdateRequest represents one in-flight governance request.
// Timestamps are unix seconds; Votes maps voter admin id to their latest
// ballot (one counted vote per admin).
type UpdateRequest struct {
	ID            string          `json:"id"`
	RequesterID   string          `json:"requester_id"`
	RequesterName string          `json:"requester_name"`
	CreatedAt     int64           `json:"created_at"`
	Status        RequestStatus   `json:"status"`
	Votes         map[string]Vote `json:"votes"`
	ResolvedAt    *int64          `json:"resolved_at,omitempty"`
	ResolvedBy    string          `json:"resolved_by,omitempty"`
}

// ApproveCount returns the number of approve ballots currently counted
func (r *UpdateRequest) ApproveCount() int {
	count := 0
	for _, v := range r.Votes {
		if v == VoteApprove {
			count++
		}
	}
	return count
}

// Clone returns a deep copy safe to hand to callers outside the manager lock
func (r *UpdateRequest) Clone() *UpdateRequest {
	cp := *r
	cp.Votes = make(map[string]Vote, len(r.Votes))
	for k, v := range r.Votes {
		cp.Votes[k] = v
	}
	if r.ResolvedAt != nil {
		resolved := *r.ResolvedAt
		cp.ResolvedAt = &resolved
	}
	return &cp
}

// QueuedRequest is a request admitted to the execution queue
type QueuedRequest struct {
	ID            string                 `json:"id"`
	RequesterID   string                 `json:"requester_id"`
	RequesterName string                 `json:"requester_name"`
	Type          RequestType            `json:"type"`
	Priority      int                    `json:"priority"`
	EnqueuedAt    time.Time              `json:"enqueued_at"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// AdminStats is the read-only admission snapshot for one admin
type AdminStats struct {
	AdminID          string `json:"admin_id"`
	RequestsToday    int    `json:"requests_today"`
	LastRequestTime  int64  `json:"last_request_time"`
	HasActiveRequest bool   `json:"has_active_request"`
}
