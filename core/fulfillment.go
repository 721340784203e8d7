package core

import (
	"context"

	"github.com/cpacia/xmr-escrow/models"
)

// MarkShipped records that the vendor shipped the order.
func (n *EscrowNode) MarkShipped(ctx context.Context, id models.EscrowID) (*models.Escrow, error) {
	return n.runTransition(ctx, id, transition{
		action: ActionShip,
		from:   []models.EscrowStatus{models.StatusFunded},
		to:     models.StatusShipped,
	})
}
