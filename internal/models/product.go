// File: internal/models/product.go
package models

import "time"

// ProductStatus is the moderation state of a pending product submission
type ProductStatus string

const (
	ProductPending  ProductStatus = "pending"
	ProductAccepted ProductStatus = "accepted"
	ProductDenied   ProductStatus = "denied"
)

// PendingProduct is a crowdsourced supplement submission awaiting (or past)
// moderation. Accepted rows are promoted into the live catalog by the
// daily update executor.
type PendingProduct struct {
	ID              string        `json:"id" db:"id"`
	Name            string        `json:"name" db:"name"`
	BrandName       string        `json:"brand_name" db:"brand_name"`
	Flavor          string        `json:"flavor,omitempty" db:"flavor"`
	Year            string        `json:"year,omitempty" db:"year"`
	Status          ProductStatus `json:"status" db:"status"`
	SubmittedBy     string        `json:"submitted_by" db:"submitted_by"`
	ReviewedBy      string        `json:"reviewed_by,omitempty" db:"reviewed_by"`
	RejectionReason string        `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
	ProcessedAt     *time.Time    `json:"processed_at,omitempty" db:"processed_at"`
}

// Product is a live catalog entry
type Product struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	BrandName  string    `json:"brand_name" db:"brand_name"`
	Flavor     string    `json:"flavor,omitempty" db:"flavor"`
	Year       string    `json:"year,omitempty" db:"year"`
	ApprovedBy string    `json:"approved_by" db:"approved_by"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// AuditEntry records one governance outcome (execution, rejection,
// expiration) for the operational audit trail
type AuditEntry struct {
	ID          string    `json:"id" db:"id"`
	RequestID   string    `json:"request_id" db:"request_id"`
	RequesterID string    `json:"requester_id" db:"requester_id"`
	RequestType string    `json:"request_type" db:"request_type"`
	Outcome     string    `json:"outcome" db:"outcome"`
	Detail      string    `json:"detail,omitempty" db:"detail"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
