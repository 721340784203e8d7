package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowID is the identifier of an escrow.
type EscrowID string

// NewEscrowID returns a random escrow ID.
func NewEscrowID() EscrowID {
	return EscrowID(uuid.New().String())
}

// String returns the string representation of the ID.
func (id EscrowID) String() string {
	return string(id)
}

// UserID identifies a user of the host application.
type UserID string

// String returns the string representation of the ID.
func (id UserID) String() string {
	return string(id)
}

// Role is a party's role in an escrow.
type Role string

const (
	// RoleBuyer funds the escrow and receives refunds.
	RoleBuyer Role = "buyer"
	// RoleVendor ships the goods and receives the payout.
	RoleVendor Role = "vendor"
	// RoleArbiter resolves disputes.
	RoleArbiter Role = "arbiter"
)

// Roles lists every role in a fixed order.
var Roles = []Role{RoleBuyer, RoleVendor, RoleArbiter}

// Valid returns whether r is one of the three escrow roles.
func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleVendor || r == RoleArbiter
}

// EscrowStatus is the lifecycle state of an escrow.
type EscrowStatus string

const (
	// StatusPending is the initial state. The multisig wallet may or may
	// not be set up yet but no funds have been received.
	StatusPending EscrowStatus = "pending"
	// StatusFunded means the buyer's payment reached the shared address.
	StatusFunded EscrowStatus = "funded"
	// StatusShipped means the vendor marked the order as shipped.
	StatusShipped EscrowStatus = "shipped"
	// StatusDisputed means the escrow awaits an arbiter verdict.
	StatusDisputed EscrowStatus = "disputed"
	// StatusCompleted means funds were released to the vendor.
	StatusCompleted EscrowStatus = "completed"
	// StatusRefunded means funds were returned to the buyer, or the
	// escrow was closed before it was funded.
	StatusRefunded EscrowStatus = "refunded"
)

var transitions = map[EscrowStatus][]EscrowStatus{
	StatusPending:  {StatusFunded, StatusRefunded},
	StatusFunded:   {StatusShipped, StatusDisputed, StatusRefunded},
	StatusShipped:  {StatusDisputed, StatusCompleted},
	StatusDisputed: {StatusCompleted, StatusRefunded},
}

// Terminal returns whether no further transition is possible.
func (s EscrowStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

// CanTransition returns whether the lifecycle allows moving from s to
// next.
func (s EscrowStatus) CanTransition(next EscrowStatus) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Escrow is the persisted record of a three party escrow. The role IDs on
// this row are the only source of truth for authorization. Once the
// status is terminal the row is never written again.
type Escrow struct {
	ID EscrowID `gorm:"primaryKey"`

	BuyerID   UserID `gorm:"index"`
	VendorID  UserID `gorm:"index"`
	ArbiterID UserID `gorm:"index"`

	// Amount is denominated in atomic units.
	Amount uint64

	SharedAddress string
	SetupError    string

	// Payout addresses are registered by the buyer and the vendor
	// themselves. Every spend out of the shared address goes to one of
	// them.
	BuyerPayoutAddress  string
	VendorPayoutAddress string

	Status EscrowStatus `gorm:"index"`

	FundingTxHash string
	TxHash        string
	DisputeReason string

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time `gorm:"index"`
}

// PartyID returns the user holding role.
func (e *Escrow) PartyID(role Role) UserID {
	switch role {
	case RoleBuyer:
		return e.BuyerID
	case RoleVendor:
		return e.VendorID
	case RoleArbiter:
		return e.ArbiterID
	}
	return ""
}

// RoleOf returns the role user holds in this escrow.
func (e *Escrow) RoleOf(user UserID) (Role, bool) {
	if user == "" {
		return "", false
	}
	for _, r := range Roles {
		if e.PartyID(r) == user {
			return r, true
		}
	}
	return "", false
}

// PayoutAddress returns the registered payout address of role. The
// arbiter never receives funds and has none.
func (e *Escrow) PayoutAddress(role Role) string {
	switch role {
	case RoleBuyer:
		return e.BuyerPayoutAddress
	case RoleVendor:
		return e.VendorPayoutAddress
	}
	return ""
}

// Funded returns whether funds are currently held by the shared address.
func (e *Escrow) Funded() bool {
	switch e.Status {
	case StatusFunded, StatusShipped, StatusDisputed:
		return true
	}
	return false
}

// ReadyForFunding returns whether the shared address has been set up and
// verified.
func (e *Escrow) ReadyForFunding() bool {
	return e.Status == StatusPending && e.SharedAddress != "" && e.SetupError == ""
}
