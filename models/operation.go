package models

import (
	// Go Internal Packages
	"encoding/json"
	"time"

	// Local Packages
	errors "tx-tracker/errors"
)

// Operation describes a business call to be submitted to the ledger. Envelope is the
// already signed transaction envelope (base64 XDR); signing happens in the wallet.
type Operation struct {
	Category    Category   `json:"category"`
	Description string     `json:"description"`
	Params      CallParams `json:"params"`
}

type CallParams struct {
	Contract string          `json:"contract"`
	Function string          `json:"function"`
	Args     json.RawMessage `json:"args,omitempty"`
	Envelope string          `json:"envelope"`
}

func (o Operation) Validate() error {
	if o.Params.Envelope == "" {
		return errors.EmptyParamErr("params.envelope")
	}
	return nil
}

type LedgerStatus string

const (
	LedgerSucceeded LedgerStatus = "succeeded"
	LedgerFailed    LedgerStatus = "failed"
	LedgerNotFound  LedgerStatus = "not_found"
	LedgerPending   LedgerStatus = "pending"
)

// LedgerOutcome is what the ledger currently knows about a transaction.
type LedgerOutcome struct {
	Status   LedgerStatus    `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Ledger   int64           `json:"ledger,omitempty"`
	ClosedAt time.Time       `json:"closed_at,omitempty"`
}

// Terminal reports whether the outcome settles the transaction.
func (o LedgerOutcome) Terminal() bool {
	return o.Status == LedgerSucceeded || o.Status == LedgerFailed
}

// Update converts a terminal outcome into the store write for it.
func (o LedgerOutcome) Update() StatusUpdate {
	if o.Status == LedgerSucceeded {
		return Succeeded(o.Result)
	}
	reason := o.Reason
	if reason == "" {
		reason = "rejected by ledger"
	}
	return Failed(reason)
}
