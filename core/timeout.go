package core

import (
	"context"
	"time"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/models"
)

// monitorTimeout bounds the wallet calls of a single monitor pass.
const monitorTimeout = time.Minute

// TimeoutMonitor periodically disputes funded or shipped escrows that saw
// no activity within the dispute timeout and polls pending escrows for
// their funding. It runs until the node is stopped.
func (n *EscrowNode) TimeoutMonitor() {
	if n.monitorInterval <= 0 {
		return
	}
	ticker := time.NewTicker(n.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), monitorTimeout)
			n.processTimeouts(ctx, time.Now())
			cancel()
		case <-n.shutdown:
			return
		}
	}
}

func (n *EscrowNode) processTimeouts(ctx context.Context, now time.Time) {
	var (
		stale   []models.Escrow
		pending []models.Escrow
		cutoff  = now.Add(-n.disputeTimeout)
	)
	err := n.repo.DB().View(func(tx database.Tx) error {
		err := tx.Read().
			Where("status IN ? AND last_activity_at < ?", []models.EscrowStatus{models.StatusFunded, models.StatusShipped}, cutoff).
			Find(&stale).Error
		if err != nil {
			return err
		}
		return tx.Read().
			Where("status = ? AND shared_address <> '' AND setup_error = ''", models.StatusPending).
			Find(&pending).Error
	})
	if err != nil {
		log.Errorf("Error loading escrows for the timeout monitor: %s", err)
		return
	}

	for _, escrow := range stale {
		if err := n.disputeByTimeout(escrow.ID, cutoff); err != nil {
			log.Errorf("Error disputing escrow %s after timeout: %s", escrow.ID, err)
		}
	}
	for _, escrow := range pending {
		if err := n.pollFundingLocked(ctx, escrow.ID); err != nil && !errors.Temporary(err) {
			log.Errorf("Error checking funding of escrow %s: %s", escrow.ID, err)
		} else if err != nil {
			log.Debugf("Funding check of escrow %s deferred: %s", escrow.ID, err)
		}
	}
}

// disputeByTimeout moves the escrow to disputed if it is still funded or
// shipped and inactive since before cutoff.
func (n *EscrowNode) disputeByTimeout(id models.EscrowID, cutoff time.Time) error {
	unlock := n.locks.Lock(id.String())
	defer unlock()

	escrow, err := n.loadEscrow(id)
	if err != nil {
		return err
	}
	if escrow.Status != models.StatusFunded && escrow.Status != models.StatusShipped {
		return nil
	}
	if !escrow.LastActivityAt.Before(cutoff) {
		return nil
	}
	_, err = n.updateEscrow(id, escrow.Status, func(tx database.Tx, e *models.Escrow) error {
		e.Status = models.StatusDisputed
		e.DisputeReason = TimeoutReason
		n.emitDisputeOpened(tx, id, TimeoutReason, true)
		return nil
	})
	if err != nil {
		return err
	}
	log.Warningf("Escrow %s disputed after %s without activity", id, n.disputeTimeout)
	return nil
}

func (n *EscrowNode) pollFundingLocked(ctx context.Context, id models.EscrowID) error {
	unlock := n.locks.Lock(id.String())
	defer unlock()

	escrow, err := n.loadEscrow(id)
	if err != nil {
		return err
	}
	_, err = n.pollFunding(ctx, escrow)
	return err
}
