package core

import (
	"context"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/multisig"
	"github.com/cpacia/xmr-escrow/wallet"
)

// FundEscrow pays the escrow amount from the buyer's wallet at
// fromWalletURL into the verified shared address and marks the escrow
// funded.
func (n *EscrowNode) FundEscrow(ctx context.Context, id models.EscrowID, fromWalletURL string) (*models.Escrow, error) {
	return n.runTransition(ctx, id, transition{
		action: ActionFund,
		from:   []models.EscrowStatus{models.StatusPending},
		to:     models.StatusFunded,
		execute: func(ctx context.Context, escrow *models.Escrow) (string, error) {
			if err := checkFundable(escrow); err != nil {
				return "", err
			}
			client, err := n.pool.Get(fromWalletURL)
			if err != nil {
				return "", err
			}
			res, err := client.Transfer(ctx, []wallet.Destination{{
				Amount:  escrow.Amount,
				Address: escrow.SharedAddress,
			}})
			if err != nil {
				return "", err
			}
			if res.MultisigTxSet != "" {
				return "", errors.ErrValidation.Newf("funding wallet %s is a multisig wallet", client.Endpoint().URL)
			}
			return res.TxHash, nil
		},
		apply: func(tx database.Tx, escrow *models.Escrow, txHash string) error {
			escrow.FundingTxHash = txHash
			return nil
		},
	})
}

// CheckFunding moves a pending escrow to funded once its shared wallet
// holds at least the escrow amount in unlocked funds. Deposits still
// waiting for confirmations do not count. Any party may ask.
func (n *EscrowNode) CheckFunding(ctx context.Context, id models.EscrowID) (*models.Escrow, error) {
	unlock := n.locks.Lock(id.String())
	defer unlock()

	escrow, err := n.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if _, _, err := n.authorize(ctx, escrow, ActionCheckFunding); err != nil {
		return nil, err
	}
	return n.pollFunding(ctx, escrow)
}

// pollFunding must be called with the escrow lock held.
func (n *EscrowNode) pollFunding(ctx context.Context, escrow *models.Escrow) (*models.Escrow, error) {
	if !escrow.ReadyForFunding() {
		return escrow, nil
	}
	client, err := n.balanceClient(escrow.ID)
	if err != nil {
		return nil, err
	}
	balance, err := client.GetBalance(ctx, 0)
	if err != nil {
		return nil, err
	}
	if balance.UnlockedBalance < escrow.Amount {
		if balance.Balance >= escrow.Amount {
			log.Debugf("Escrow %s deposit of %d atomic units is awaiting confirmations", escrow.ID, balance.Balance)
		}
		return escrow, nil
	}
	updated, err := n.updateEscrow(escrow.ID, models.StatusPending, func(tx database.Tx, e *models.Escrow) error {
		e.Status = models.StatusFunded
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("Escrow %s funded with %d atomic units", escrow.ID, balance.UnlockedBalance)
	return updated, nil
}

func checkFundable(escrow *models.Escrow) error {
	if escrow.SetupError != "" {
		return multisig.ErrAddressMismatch.Newf("funding of escrow %s is blocked: %s", escrow.ID, escrow.SetupError)
	}
	if escrow.SharedAddress == "" {
		return errors.ErrStateConflict.Newf("multisig setup of escrow %s is not complete", escrow.ID)
	}
	return nil
}
