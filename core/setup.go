package core

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/events"
	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/multisig"
	"github.com/cpacia/xmr-escrow/wallet"
)

// SetupMultisig runs the setup of all three participants' wallets in this
// process and returns the verified shared address. It is used when the
// service operates every participant's wallet daemon. Any party of the
// escrow may start it.
func (n *EscrowNode) SetupMultisig(ctx context.Context, id models.EscrowID) (string, error) {
	escrow, err := n.loadEscrow(id)
	if err != nil {
		return "", err
	}
	if _, _, err := n.authorize(ctx, escrow, ActionSetupMultisig); err != nil {
		return "", err
	}
	if done, err := checkSetup(escrow); done || err != nil {
		return escrow.SharedAddress, err
	}
	for _, role := range models.Roles {
		row, err := n.loadSession(id, role)
		if err != nil {
			return "", err
		}
		if row.WalletURL == "" {
			return "", errors.ErrValidation.Newf("no wallet registered for the %s of escrow %s", role, id)
		}
	}

	addrs := make([]string, len(models.Roles))
	g, gctx := errgroup.WithContext(ctx)
	for i, role := range models.Roles {
		i, role := i, role
		g.Go(func() error {
			addr, err := n.runParticipantSetup(gctx, id, role, n.exchange)
			addrs[i] = addr
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return addrs[0], nil
}

// RunParticipantSetup runs the setup of a single participant's wallet. The
// other participants run theirs elsewhere and meet this one through
// exchange. A nil exchange uses the node's configured exchange. The caller
// must hold role.
func (n *EscrowNode) RunParticipantSetup(ctx context.Context, id models.EscrowID, role models.Role, exchange multisig.Exchange) (string, error) {
	escrow, err := n.loadEscrow(id)
	if err != nil {
		return "", err
	}
	if _, err := n.authorizeRole(ctx, escrow, role); err != nil {
		return "", err
	}
	if done, err := checkSetup(escrow); done || err != nil {
		return escrow.SharedAddress, err
	}
	if exchange == nil {
		exchange = n.exchange
	}
	return n.runParticipantSetup(ctx, id, role, exchange)
}

// checkSetup reports whether the setup of escrow already completed, or
// fails if it may not run.
func checkSetup(escrow *models.Escrow) (bool, error) {
	if escrow.SetupError != "" {
		return false, multisig.ErrAddressMismatch.Newf("escrow %s: %s", escrow.ID, escrow.SetupError)
	}
	if escrow.Status != models.StatusPending {
		return false, errors.ErrStateConflict.Newf("escrow %s is %s", escrow.ID, escrow.Status)
	}
	return escrow.SharedAddress != "", nil
}

func (n *EscrowNode) runParticipantSetup(ctx context.Context, id models.EscrowID, role models.Role, exchange multisig.Exchange) (string, error) {
	unlock := n.locks.Lock(sessionLockKey(id, role))
	defer unlock()

	row, err := n.loadSession(id, role)
	if err != nil {
		return "", err
	}
	if row.WalletURL == "" {
		return "", errors.ErrValidation.Newf("no wallet registered for the %s of escrow %s", role, id)
	}
	client, err := n.pool.Get(row.WalletURL)
	if err != nil {
		return "", err
	}
	session, err := toSession(row)
	if err != nil {
		return "", err
	}

	coordinator := multisig.NewCoordinator(client, &sessionStore{db: n.repo.DB()}, session)
	peers := multisig.ExchangeProvider(exchange, id.String(), string(role))

	addr, err := coordinator.Run(ctx, peers)
	if err != nil {
		if errors.Is(err, multisig.ErrAddressMismatch) {
			n.recordSetupFailure(id, err)
		}
		return "", errors.Wrapf(err, "multisig setup of %s/%s", id, role)
	}

	// The last exchange step carries the finalized address of each
	// participant.
	reported, err := peers(ctx, multisig.Finalized, wallet.MultisigInfo(addr))
	if err != nil {
		return "", errors.Wrapf(err, "multisig setup of %s/%s", id, role)
	}
	addrs := []string{addr}
	for _, r := range reported {
		addrs = append(addrs, string(r))
	}
	shared, err := multisig.VerifySharedAddresses(addrs)
	if err != nil {
		if errors.Is(err, multisig.ErrAddressMismatch) {
			n.recordSetupFailure(id, err)
		}
		return "", errors.Wrapf(err, "multisig setup of %s/%s", id, role)
	}
	if err := n.recordSharedAddress(id, shared); err != nil {
		return "", err
	}
	return shared, nil
}

// recordSharedAddress stores the verified shared address on the escrow,
// which makes it ready for funding.
func (n *EscrowNode) recordSharedAddress(id models.EscrowID, addr string) error {
	unlock := n.locks.Lock(id.String())
	defer unlock()

	var mismatch error
	_, err := n.updateEscrow(id, models.StatusPending, func(tx database.Tx, e *models.Escrow) error {
		switch {
		case e.SetupError != "":
			return multisig.ErrAddressMismatch.Newf("escrow %s: %s", id, e.SetupError)
		case e.SharedAddress == addr:
		case e.SharedAddress == "":
			e.SharedAddress = addr
			tx.RegisterCommitHook(func() {
				n.eventBus.Emit(&events.MultisigFinalized{
					EscrowID: id,
					Address:  addr,
				})
			})
			log.Infof("Escrow %s multisig address %s verified", id, wallet.TruncateAddress(addr))
		default:
			mismatch = multisig.ErrAddressMismatch.Newf("escrow %s: %s != %s", id,
				wallet.TruncateAddress(e.SharedAddress), wallet.TruncateAddress(addr))
			e.SetupError = mismatch.Error()
			reason := e.SetupError
			tx.RegisterCommitHook(func() {
				n.eventBus.Emit(&events.MultisigSetupFailed{
					EscrowID: id,
					Reason:   reason,
				})
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	return mismatch
}

// recordSetupFailure blocks funding of the escrow for good.
func (n *EscrowNode) recordSetupFailure(id models.EscrowID, cause error) {
	unlock := n.locks.Lock(id.String())
	defer unlock()

	_, err := n.updateEscrow(id, models.StatusPending, func(tx database.Tx, e *models.Escrow) error {
		if e.SetupError != "" {
			return nil
		}
		e.SetupError = cause.Error()
		tx.RegisterCommitHook(func() {
			n.eventBus.Emit(&events.MultisigSetupFailed{
				EscrowID: id,
				Reason:   cause.Error(),
			})
		})
		return nil
	})
	if err != nil {
		log.Errorf("Error recording multisig setup failure of escrow %s: %s", id, err)
		return
	}
	log.Errorf("Multisig setup of escrow %s failed: %s", id, cause)
}
