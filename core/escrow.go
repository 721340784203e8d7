package core

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/events"
	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/multisig"
)

// CreateEscrow stores a new pending escrow between the three parties
// together with an empty multisig session for each of them.
func (n *EscrowNode) CreateEscrow(ctx context.Context, buyer, vendor, arbiter models.UserID, amount uint64) (*models.Escrow, error) {
	if buyer == "" || vendor == "" || arbiter == "" {
		return nil, errors.ErrValidation.New("every party must be set")
	}
	if buyer == vendor || buyer == arbiter || vendor == arbiter {
		return nil, errors.ErrValidation.New("parties must be distinct")
	}
	if amount == 0 {
		return nil, errors.ErrValidation.New("amount must be positive")
	}

	now := time.Now()
	escrow := &models.Escrow{
		ID:             models.NewEscrowID(),
		BuyerID:        buyer,
		VendorID:       vendor,
		ArbiterID:      arbiter,
		Amount:         amount,
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	err := n.repo.DB().Update(func(tx database.Tx) error {
		if err := tx.Create(escrow); err != nil {
			return err
		}
		for _, role := range models.Roles {
			session := &models.MultisigSession{
				EscrowID:     escrow.ID,
				Role:         role,
				Stage:        multisig.Uninitialized.String(),
				Threshold:    multisig.Threshold,
				Participants: multisig.Participants,
				UpdatedAt:    now,
			}
			if err := tx.Create(session); err != nil {
				return err
			}
		}
		tx.RegisterCommitHook(func() {
			n.eventBus.Emit(&events.EscrowCreated{
				EscrowID: escrow.ID,
				Amount:   escrow.Amount,
			})
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("Created escrow %s for %d atomic units", escrow.ID, amount)
	return escrow, nil
}

// GetEscrow loads the escrow with the given ID.
func (n *EscrowNode) GetEscrow(ctx context.Context, id models.EscrowID) (*models.Escrow, error) {
	return n.loadEscrow(id)
}

// GetMultisigSessions returns the setup state of every participant.
func (n *EscrowNode) GetMultisigSessions(ctx context.Context, id models.EscrowID) ([]models.MultisigSession, error) {
	var sessions []models.MultisigSession
	err := n.repo.DB().View(func(tx database.Tx) error {
		return tx.Read().Where("escrow_id = ?", id).Order("role").Find(&sessions).Error
	})
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, errors.ErrNotFound.Newf("escrow %s", id)
	}
	return sessions, nil
}

func (n *EscrowNode) loadEscrow(id models.EscrowID) (*models.Escrow, error) {
	var escrow models.Escrow
	err := n.repo.DB().View(func(tx database.Tx) error {
		return tx.Read().Where("id = ?", id).First(&escrow).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrNotFound.Newf("escrow %s", id)
	} else if err != nil {
		return nil, err
	}
	return &escrow, nil
}

// transition describes a single status change of an escrow.
type transition struct {
	action Action
	from   []models.EscrowStatus
	to     models.EscrowStatus

	// execute runs the wallet side of the transition and returns the
	// resulting transaction hash, if any. It runs after authorization
	// and before anything is persisted.
	execute func(ctx context.Context, escrow *models.Escrow) (string, error)

	// apply mutates the row before it is saved.
	apply func(tx database.Tx, escrow *models.Escrow, txHash string) error
}

// runTransition performs t on the escrow. The steps are always: lock,
// load, authorize, check state, run wallet calls, persist. A failure at
// any step leaves the escrow as it was.
func (n *EscrowNode) runTransition(ctx context.Context, id models.EscrowID, t transition) (*models.Escrow, error) {
	unlock := n.locks.Lock(id.String())
	defer unlock()

	escrow, err := n.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	caller, _, err := n.authorize(ctx, escrow, t.action)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(escrow, t.from, t.to); err != nil {
		return nil, errors.Wrap(err, string(t.action))
	}

	var txHash string
	if t.execute != nil {
		txHash, err = t.execute(ctx, escrow)
		if err != nil {
			return nil, errors.Wrap(err, string(t.action))
		}
	}

	from := escrow.Status
	updated, err := n.updateEscrow(id, from, func(tx database.Tx, e *models.Escrow) error {
		e.Status = t.to
		if t.apply != nil {
			return t.apply(tx, e, txHash)
		}
		return nil
	})
	if err != nil {
		if txHash != "" {
			log.Errorf("Escrow %s: transaction %s was broadcast but the %s transition could not be saved: %s", id, txHash, t.to, err)
		}
		return nil, err
	}
	log.Infof("Escrow %s moved from %s to %s by %s", id, from, t.to, caller)
	return updated, nil
}

func checkStatus(escrow *models.Escrow, from []models.EscrowStatus, to models.EscrowStatus) error {
	if escrow.Status.Terminal() {
		return errors.ErrStateConflict.Newf("escrow %s is %s", escrow.ID, escrow.Status)
	}
	for _, s := range from {
		if s == escrow.Status && escrow.Status.CanTransition(to) {
			return nil
		}
	}
	return errors.ErrStateConflict.Newf("escrow %s can not move from %s to %s", escrow.ID, escrow.Status, to)
}

// updateEscrow re-reads the escrow under a row lock, checks that it is
// still in status from, applies mutate and saves it. Status changes are
// announced on the event bus once committed.
func (n *EscrowNode) updateEscrow(id models.EscrowID, from models.EscrowStatus, mutate func(tx database.Tx, e *models.Escrow) error) (*models.Escrow, error) {
	var escrow models.Escrow
	err := n.repo.DB().Update(func(tx database.Tx) error {
		if err := tx.Lock(&escrow, "id = ?", id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.ErrNotFound.Newf("escrow %s", id)
			}
			return err
		}
		if escrow.Status.Terminal() {
			return errors.ErrStateConflict.Newf("escrow %s is %s", id, escrow.Status)
		}
		if escrow.Status != from {
			return errors.ErrStateConflict.Newf("escrow %s moved from %s to %s concurrently", id, from, escrow.Status)
		}

		if err := mutate(tx, &escrow); err != nil {
			return err
		}
		now := time.Now()
		escrow.UpdatedAt = now
		if escrow.Status != from {
			escrow.LastActivityAt = now
		}
		if err := tx.Save(&escrow); err != nil {
			return err
		}

		if escrow.Status != from {
			changed := &events.EscrowStatusChanged{
				EscrowID: id,
				From:     from,
				To:       escrow.Status,
				TxHash:   escrow.TxHash,
			}
			completed := escrow.Status == models.StatusCompleted
			txHash := escrow.TxHash
			tx.RegisterCommitHook(func() {
				n.eventBus.Emit(changed)
				if completed {
					n.eventBus.Emit(&events.EscrowCompleted{
						EscrowID: id,
						TxHash:   txHash,
					})
				}
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &escrow, nil
}
