package domain

import (
	"time"
)

// Transaction is a single customer purchase, the source of truth for all
// downstream metrics. Transactions are immutable once ingested.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// The purchasing customer
	CustomerID int64 `json:"customerId"`

	// Financial details
	Amount   float64 `json:"amount"`
	Category string  `json:"category,omitempty"`

	// Temporal
	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"createdAt"`
}

// TransactionRequest is the API request payload for transaction ingestion.
type TransactionRequest struct {
	CustomerID int64     `json:"customerId"`
	Amount     float64   `json:"amount"`
	Category   string    `json:"category,omitempty"`
	Date       time.Time `json:"date"`
}

// Validate checks the ingest invariants shared by single and batch ingest.
func (r *TransactionRequest) Validate() error {
	if r.CustomerID < 0 {
		return &InputError{Stage: "ingest", Reason: "customerId must be non-negative"}
	}
	if r.Amount <= 0 {
		return &InputError{Stage: "ingest", Reason: "amount must be positive"}
	}
	if r.Date.IsZero() {
		return &InputError{Stage: "ingest", Reason: "date is required"}
	}
	return nil
}

// ToTransaction converts a request to a Transaction domain object.
func (r *TransactionRequest) ToTransaction() *Transaction {
	return &Transaction{
		CustomerID: r.CustomerID,
		Amount:     r.Amount,
		Category:   r.Category,
		Date:       r.Date.UTC(),
		CreatedAt:  time.Now().UTC(),
	}
}
