package events

import "github.com/cpacia/xmr-escrow/models"

// EscrowCreated is emitted when a new escrow row is stored.
type EscrowCreated struct {
	EscrowID models.EscrowID
	Amount   uint64
}

// EscrowStatusChanged is emitted after every committed status transition.
type EscrowStatusChanged struct {
	EscrowID models.EscrowID
	From     models.EscrowStatus
	To       models.EscrowStatus
	TxHash   string
}

// EscrowCompleted is emitted when the funds of an escrow were released to
// the vendor. The notification subsystem forwards it to the outbound
// completion sink.
type EscrowCompleted struct {
	EscrowID models.EscrowID
	TxHash   string
}

// DisputeOpened is emitted when an escrow enters the disputed state.
type DisputeOpened struct {
	EscrowID  models.EscrowID
	Reason    string
	ByTimeout bool
}

// DisputeResolved is emitted when an arbiter verdict was executed.
type DisputeResolved struct {
	EscrowID models.EscrowID
	Verdict  models.Verdict
	TxHash   string
}

// MultisigFinalized is emitted once all three participants derived the
// same shared address.
type MultisigFinalized struct {
	EscrowID models.EscrowID
	Address  string
}

// MultisigSetupFailed is emitted when the participants' shared addresses
// diverge. Funding is blocked for the escrow.
type MultisigSetupFailed struct {
	EscrowID models.EscrowID
	Reason   string
}
