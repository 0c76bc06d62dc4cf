package models

import (
	// Go Internal Packages
	"encoding/json"
	"time"
)

type EventKind string

const (
	EventLedgerClosed EventKind = "ledger_closed"
	EventHeartbeat    EventKind = "heartbeat"
	EventError        EventKind = "error"
	EventReconnecting EventKind = "reconnecting"
	EventReconnected  EventKind = "reconnected"
)

// Upstream reports whether the kind originates from the ledger feed itself rather
// than from the subscriber's own connection handling.
func (k EventKind) Upstream() bool {
	return k == EventLedgerClosed || k == EventHeartbeat
}

// UpstreamEvent is the envelope delivered to downstream subscribers. Consumers must
// tolerate kinds they do not know.
type UpstreamEvent struct {
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type LedgerClosed struct {
	Sequence int64     `json:"sequence"`
	Hash     string    `json:"hash"`
	ClosedAt time.Time `json:"closed_at"`
	TxCount  int       `json:"tx_count"`
}

type ReconnectInfo struct {
	Attempt int    `json:"attempt"`
	DelayMS int64  `json:"delay_ms"`
	Reason  string `json:"reason,omitempty"`
}

// NewEvent marshals payload into an event; a payload that cannot be marshalled is dropped.
func NewEvent(kind EventKind, payload any, at time.Time) UpstreamEvent {
	ev := UpstreamEvent{Kind: kind, Timestamp: at.UTC()}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// Decode unmarshals the payload into v.
func (e UpstreamEvent) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
