package models

import (
	// Go Internal Packages
	"bytes"
	"encoding/json"
	"time"

	// Local Packages
	errors "tx-tracker/errors"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Resolved reports whether s is terminal.
func (s Status) Resolved() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// TransactionRecord is the canonical state of one submitted ledger transaction.
// Values handed out by a store are snapshots; mutate them freely.
type TransactionRecord struct {
	ID            string          `json:"id"`
	Category      Category        `json:"category"`
	Status        Status          `json:"status"`
	Description   string          `json:"description"`
	Outcome       json.RawMessage `json:"outcome,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int64           `json:"version"`
}

// NewPendingRecord builds the record the submitter persists right after the ledger
// hands back a transaction id. Times are truncated to the millisecond so they survive
// a round trip through every storage driver unchanged.
func NewPendingRecord(id string, op Operation, now time.Time) TransactionRecord {
	at := now.UTC().Truncate(time.Millisecond)
	return TransactionRecord{
		ID:          id,
		Category:    op.Category,
		Status:      StatusPending,
		Description: op.Description,
		CreatedAt:   at,
		UpdatedAt:   at,
		Version:     1,
	}
}

// Clone returns a deep copy.
func (r TransactionRecord) Clone() TransactionRecord {
	if r.Outcome != nil {
		r.Outcome = append(json.RawMessage(nil), r.Outcome...)
	}
	return r
}

// Age is the time elapsed since submission.
func (r TransactionRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// SameIdentity compares the fields that never change after creation.
func (r TransactionRecord) SameIdentity(o TransactionRecord) bool {
	return r.ID == o.ID &&
		r.Category == o.Category &&
		r.Description == o.Description &&
		r.CreatedAt.Equal(o.CreatedAt)
}

// ValidateNew checks a record about to be created.
func (r TransactionRecord) ValidateNew() error {
	ve := errors.ValidationErrs()
	if r.ID == "" {
		ve.Add("id", "cannot be empty")
	}
	if r.Status != StatusPending {
		ve.Add("status", "must be pending on creation")
	}
	if r.CreatedAt.IsZero() {
		ve.Add("created_at", "cannot be empty")
	}
	return ve.Err()
}

// StatusUpdate is a partial write of the status fields of a record.
type StatusUpdate struct {
	Status        Status
	Outcome       json.RawMessage
	FailureReason string
}

func Succeeded(outcome json.RawMessage) StatusUpdate {
	return StatusUpdate{Status: StatusSucceeded, Outcome: outcome}
}

func Failed(reason string) StatusUpdate {
	return StatusUpdate{Status: StatusFailed, FailureReason: reason}
}

func (u StatusUpdate) Validate() error {
	ve := errors.ValidationErrs()
	if !u.Status.Valid() {
		ve.Add("status", "unknown value "+string(u.Status))
	}
	if u.Status != StatusSucceeded && len(u.Outcome) > 0 {
		ve.Add("outcome", "only allowed when succeeded")
	}
	if len(u.Outcome) > 0 && !json.Valid(u.Outcome) {
		ve.Add("outcome", "must be valid json")
	}
	if u.Status == StatusFailed && u.FailureReason == "" {
		ve.Add("failure_reason", "cannot be empty when failed")
	}
	if u.Status != StatusFailed && u.FailureReason != "" {
		ve.Add("failure_reason", "only allowed when failed")
	}
	return ve.Err()
}

// Apply computes the record that results from u. It reports changed=false for a
// pending->pending write and for a repeat of the exact terminal value already stored;
// any other write to a resolved record is an InvalidTransition.
func (r TransactionRecord) Apply(u StatusUpdate, now time.Time) (TransactionRecord, bool, error) {
	if err := u.Validate(); err != nil {
		return r, false, err
	}

	if r.Status.Resolved() {
		if u.Status == r.Status && sameJSON(u.Outcome, r.Outcome) && u.FailureReason == r.FailureReason {
			return r.Clone(), false, nil
		}
		return r, false, errors.TransitionErr(r.ID, string(r.Status), string(u.Status))
	}
	if u.Status == StatusPending {
		return r.Clone(), false, nil
	}

	next := r.Clone()
	next.Status = u.Status
	next.FailureReason = u.FailureReason
	next.Outcome = nil
	if len(u.Outcome) > 0 {
		next.Outcome = compactJSON(u.Outcome)
	}
	next.UpdatedAt = now.UTC().Truncate(time.Millisecond)
	next.Version++
	return next, true, nil
}

func compactJSON(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	return buf.Bytes()
}

func sameJSON(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	return bytes.Equal(compactJSON(a), compactJSON(b))
}

// MongoTransaction is the document shape of a TransactionRecord.
type MongoTransaction struct {
	TxID          string    `bson:"_id"`
	Category      string    `bson:"category"`
	Status        string    `bson:"status"`
	Description   string    `bson:"description"`
	Outcome       string    `bson:"outcome,omitempty"`
	FailureReason string    `bson:"failure_reason,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
	Version       int64     `bson:"version"`
}

func (r TransactionRecord) Transform() MongoTransaction {
	return MongoTransaction{
		TxID:          r.ID,
		Category:      string(r.Category),
		Status:        string(r.Status),
		Description:   r.Description,
		Outcome:       string(r.Outcome),
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Version:       r.Version,
	}
}

func (m MongoTransaction) Record() TransactionRecord {
	rec := TransactionRecord{
		ID:            m.TxID,
		Category:      ParseCategory(m.Category),
		Status:        Status(m.Status),
		Description:   m.Description,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
		Version:       m.Version,
	}
	if m.Outcome != "" {
		rec.Outcome = json.RawMessage(m.Outcome)
	}
	return rec
}
