package core

import (
	"context"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/models"
)

// ConfirmReceipt is called by the buyer once the goods arrived. The funds
// are released to the vendor's registered payout address with the buyer's
// and vendor's signatures. A non-empty vendorAddress must equal it.
func (n *EscrowNode) ConfirmReceipt(ctx context.Context, id models.EscrowID, vendorAddress string) (*models.Escrow, error) {
	return n.runTransition(ctx, id, transition{
		action: ActionConfirm,
		from:   []models.EscrowStatus{models.StatusShipped},
		to:     models.StatusCompleted,
		execute: func(ctx context.Context, escrow *models.Escrow) (string, error) {
			return n.spend(ctx, escrow, [2]models.Role{models.RoleBuyer, models.RoleVendor}, models.RoleVendor, vendorAddress)
		},
		apply: setTxHash,
	})
}

func setTxHash(tx database.Tx, escrow *models.Escrow, txHash string) error {
	escrow.TxHash = txHash
	return nil
}
