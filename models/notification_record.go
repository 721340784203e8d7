package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationRecord tracks delivery of an escrow completion to the
// outbound sink. Records are kept after delivery for auditing.
type NotificationRecord struct {
	ID        string    `gorm:"primaryKey" json:"-"`
	EscrowID  EscrowID  `gorm:"index" json:"escrowID"`
	TxHash    string    `json:"txHash"`
	Delivered bool      `gorm:"index" json:"delivered"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewNotificationRecord returns an undelivered record for the given
// completion.
func NewNotificationRecord(escrowID EscrowID, txHash string) *NotificationRecord {
	return &NotificationRecord{
		ID:        uuid.New().String(),
		EscrowID:  escrowID,
		TxHash:    txHash,
		Timestamp: time.Now(),
	}
}
