package core

import (
	"context"

	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/models"
)

// RefundEscrow returns the funds of a pending or funded escrow to the
// buyer's registered payout address. A non-empty buyerAddress must equal
// it. Only the vendor or the arbiter of the escrow may refund; the sweep
// is signed by their two wallets. A pending escrow holds no funds and is
// closed without a transaction.
func (n *EscrowNode) RefundEscrow(ctx context.Context, id models.EscrowID, buyerAddress string) (*models.Escrow, error) {
	return n.closeEscrow(ctx, id, ActionRefund, [2]models.Role{models.RoleVendor, models.RoleArbiter}, buyerAddress)
}

// closeEscrow moves a pending or funded escrow to refunded, sweeping any
// funds back to the buyer with the signers' wallets.
func (n *EscrowNode) closeEscrow(ctx context.Context, id models.EscrowID, action Action, signers [2]models.Role, buyerAddress string) (*models.Escrow, error) {
	return n.runTransition(ctx, id, transition{
		action: action,
		from:   []models.EscrowStatus{models.StatusPending, models.StatusFunded},
		to:     models.StatusRefunded,
		execute: func(ctx context.Context, escrow *models.Escrow) (string, error) {
			if !escrow.Funded() {
				return "", n.checkUnfunded(ctx, escrow)
			}
			return n.spend(ctx, escrow, signers, models.RoleBuyer, buyerAddress)
		},
		apply: setTxHash,
	})
}

// checkUnfunded makes sure a pending escrow did not receive a payment the
// funding poll has not seen yet. Closing it would strand those funds.
func (n *EscrowNode) checkUnfunded(ctx context.Context, escrow *models.Escrow) error {
	if escrow.SharedAddress == "" {
		return nil
	}
	client, err := n.balanceClient(escrow.ID)
	if err != nil {
		return err
	}
	balance, err := client.GetBalance(ctx, 0)
	if err != nil {
		return err
	}
	if balance.Balance > 0 {
		return errors.ErrStateConflict.Newf("escrow %s received %d atomic units, check its funding first", escrow.ID, balance.Balance)
	}
	return nil
}
