package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	AuditStatusConfirmed = "CONFIRMED"
	AuditStatusPending   = "PENDING"
	AuditStatusFailed    = "FAILED"
)

// AuditLogEntry is one append-only ledger record. Payload keeps the exact
// bytes that were hashed; it must never be re-encoded.
type AuditLogEntry struct {
	ID               uuid.UUID       `json:"id"`
	Seq              int64           `json:"seq"`
	SubmissionID     uuid.UUID       `json:"submission_id"`
	SubmissionRef    string          `json:"submission_ref"`
	Timestamp        time.Time       `json:"timestamp"`
	Portal           string          `json:"portal"`
	Action           string          `json:"action"`
	Status           string          `json:"status"`
	ReceiptID        string          `json:"receipt_id,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	PrevHash         string          `json:"prev_hash"`
	HashAlg          string          `json:"hash_alg"`
	ConfirmationHash string          `json:"confirmation_hash"`
}

// Clone copies the entry including its payload bytes.
func (e AuditLogEntry) Clone() AuditLogEntry {
	out := e
	out.Payload = append(json.RawMessage(nil), e.Payload...)
	return out
}

// AuditFilter selects ledger entries for listing and export.
type AuditFilter struct {
	SubmissionID *uuid.UUID
	Portal       string
	Status       string
	From         *time.Time
	To           *time.Time
	Limit        int
}

// Match reports whether e satisfies every set criterion.
func (f AuditFilter) Match(e AuditLogEntry) bool {
	if f.SubmissionID != nil && e.SubmissionID != *f.SubmissionID {
		return false
	}
	if f.Portal != "" && e.Portal != f.Portal {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}
