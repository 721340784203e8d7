package core

import (
	"context"

	"github.com/cpacia/xmr-escrow/models"
)

// CancelEscrow lets the buyer back out of a pending or funded escrow. Any
// funds are swept back to the buyer's registered payout address, signed
// by the buyer's and the arbiter's wallets.
func (n *EscrowNode) CancelEscrow(ctx context.Context, id models.EscrowID, buyerAddress string) (*models.Escrow, error) {
	return n.closeEscrow(ctx, id, ActionCancel, [2]models.Role{models.RoleBuyer, models.RoleArbiter}, buyerAddress)
}
