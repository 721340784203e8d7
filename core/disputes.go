package core

import (
	"context"
	"time"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/events"
	"github.com/cpacia/xmr-escrow/models"
)

// TimeoutReason is the dispute reason recorded by the timeout monitor.
const TimeoutReason = "timeout"

// OpenDispute moves a funded or shipped escrow into dispute on behalf of
// the buyer. The funds stay locked until the arbiter resolves it.
func (n *EscrowNode) OpenDispute(ctx context.Context, id models.EscrowID, reason string) (*models.Escrow, error) {
	return n.runTransition(ctx, id, transition{
		action: ActionDispute,
		from:   []models.EscrowStatus{models.StatusFunded, models.StatusShipped},
		to:     models.StatusDisputed,
		execute: func(ctx context.Context, escrow *models.Escrow) (string, error) {
			if reason == "" {
				return "", errors.ErrValidation.New("dispute reason is empty")
			}
			return "", nil
		},
		apply: func(tx database.Tx, escrow *models.Escrow, txHash string) error {
			escrow.DisputeReason = reason
			n.emitDisputeOpened(tx, escrow.ID, reason, false)
			return nil
		},
	})
}

// ResolveDispute executes the arbiter's verdict on a disputed escrow. The
// whole balance is sent to the winning party's registered payout address,
// signed by the arbiter and the winning party. recipientAddress must be
// that address. Only the arbiter stored on this escrow may call it.
func (n *EscrowNode) ResolveDispute(ctx context.Context, id models.EscrowID, verdict models.Verdict, recipientAddress string) (*models.Escrow, error) {
	var (
		arbiter   models.UserID
		recipient string
	)
	return n.runTransition(ctx, id, transition{
		action: ActionResolve,
		from:   []models.EscrowStatus{models.StatusDisputed},
		to:     verdict.Outcome(),
		execute: func(ctx context.Context, escrow *models.Escrow) (string, error) {
			if !verdict.Valid() {
				return "", errors.ErrValidation.Newf("unknown verdict %q", verdict)
			}
			if recipientAddress == "" {
				return "", errors.ErrValidation.New("recipient address is empty")
			}
			arbiter = escrow.ArbiterID
			recipient = escrow.PayoutAddress(verdict.Beneficiary())
			return n.spend(ctx, escrow, [2]models.Role{models.RoleArbiter, verdict.Beneficiary()}, verdict.Beneficiary(), recipientAddress)
		},
		apply: func(tx database.Tx, escrow *models.Escrow, txHash string) error {
			escrow.TxHash = txHash
			resolution := &models.DisputeResolution{
				EscrowID:         escrow.ID,
				ArbiterID:        arbiter,
				Verdict:          verdict,
				RecipientAddress: recipient,
				TxHash:           txHash,
				ResolvedAt:       time.Now(),
			}
			if err := tx.Create(resolution); err != nil {
				return err
			}
			tx.RegisterCommitHook(func() {
				n.eventBus.Emit(&events.DisputeResolved{
					EscrowID: escrow.ID,
					Verdict:  verdict,
					TxHash:   txHash,
				})
			})
			return nil
		},
	})
}

// GetDisputeResolution returns the verdict recorded for a resolved
// escrow.
func (n *EscrowNode) GetDisputeResolution(ctx context.Context, id models.EscrowID) (*models.DisputeResolution, error) {
	var resolution models.DisputeResolution
	err := n.repo.DB().View(func(tx database.Tx) error {
		return tx.Read().Where("escrow_id = ?", id).First(&resolution).Error
	})
	if err != nil {
		return nil, errors.ErrNotFound.Newf("dispute resolution of escrow %s", id)
	}
	return &resolution, nil
}

func (n *EscrowNode) emitDisputeOpened(tx database.Tx, id models.EscrowID, reason string, byTimeout bool) {
	tx.RegisterCommitHook(func() {
		n.eventBus.Emit(&events.DisputeOpened{
			EscrowID:  id,
			Reason:    reason,
			ByTimeout: byTimeout,
		})
	})
}
