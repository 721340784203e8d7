package models

import "time"

// Verdict is the arbiter's decision in a dispute.
type Verdict string

const (
	// VerdictBuyer refunds the buyer.
	VerdictBuyer Verdict = "buyer"
	// VerdictVendor releases the funds to the vendor.
	VerdictVendor Verdict = "vendor"
)

// Valid returns whether v is a known verdict.
func (v Verdict) Valid() bool {
	return v == VerdictBuyer || v == VerdictVendor
}

// Outcome returns the escrow status the verdict leads to.
func (v Verdict) Outcome() EscrowStatus {
	if v == VerdictVendor {
		return StatusCompleted
	}
	return StatusRefunded
}

// Beneficiary returns the role that receives the funds.
func (v Verdict) Beneficiary() Role {
	if v == VerdictVendor {
		return RoleVendor
	}
	return RoleBuyer
}

// DisputeResolution records an arbiter's verdict. It is created once when
// a disputed escrow is closed and never modified.
type DisputeResolution struct {
	EscrowID EscrowID `gorm:"primaryKey"`

	ArbiterID        UserID
	Verdict          Verdict
	RecipientAddress string
	TxHash           string

	ResolvedAt time.Time
}
