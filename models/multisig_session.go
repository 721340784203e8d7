package models

import (
	"encoding/json"
	"time"
)

// MultisigSession is the persisted multisig setup state of one
// participant's wallet in an escrow.
type MultisigSession struct {
	EscrowID EscrowID `gorm:"primaryKey"`
	Role     Role     `gorm:"primaryKey"`

	WalletURL string

	Stage        string
	Threshold    int
	Participants int

	PrepareInfo string
	MakeInfo    string
	MakeDigest  string

	// Rounds holds the serialized sync rounds.
	Rounds json.RawMessage

	Address string

	UpdatedAt time.Time
}
