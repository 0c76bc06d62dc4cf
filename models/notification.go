package models

import "time"

// Notification tells a user that one of their transactions settled.
type Notification struct {
	ID          string    `json:"id"`
	TxID        string    `json:"transaction_id"`
	Category    Category  `json:"category"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
