package core

import (
	"context"
	"time"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/multisig"
	"github.com/cpacia/xmr-escrow/wallet"
)

// RegisterWallet assigns the wallet daemon at rawURL to role together with
// the address that receives the funds when the escrow settles in that
// party's favor. The buyer and the vendor must give a payout address, the
// arbiter must not. Only the party holding role may register, and only
// before its setup started. The daemon must be reachable and must not
// already be a multisig wallet.
func (n *EscrowNode) RegisterWallet(ctx context.Context, id models.EscrowID, role models.Role, rawURL, payoutAddress string) error {
	unlock := n.locks.Lock(sessionLockKey(id, role))
	defer unlock()

	escrow, err := n.loadEscrow(id)
	if err != nil {
		return err
	}
	if _, err := n.authorizeRole(ctx, escrow, role); err != nil {
		return err
	}
	if escrow.Status != models.StatusPending {
		return errors.ErrStateConflict.Newf("escrow %s is %s", id, escrow.Status)
	}
	if role == models.RoleArbiter {
		if payoutAddress != "" {
			return errors.ErrValidation.New("the arbiter receives no payout")
		}
	} else if err := wallet.ValidateAddress(payoutAddress); err != nil {
		return errors.Wrapf(err, "%s payout address", role)
	}
	row, err := n.loadSession(id, role)
	if err != nil {
		return err
	}
	if row.Stage != multisig.Uninitialized.String() {
		return errors.ErrStateConflict.Newf("multisig setup of %s/%s already started", id, role)
	}

	client, err := n.pool.Get(rawURL)
	if err != nil {
		return err
	}
	version, err := client.GetVersion(ctx)
	if err != nil {
		return err
	}
	status, err := client.IsMultisig(ctx)
	if err != nil {
		return err
	}
	if status.Multisig {
		return wallet.ErrAlreadyMultisig.Newf("wallet at %s", client.Endpoint().URL)
	}

	err = n.repo.DB().Update(func(tx database.Tx) error {
		var session models.MultisigSession
		if err := tx.Lock(&session, "escrow_id = ? AND role = ?", id, role); err != nil {
			return err
		}
		if session.Stage != multisig.Uninitialized.String() {
			return errors.ErrStateConflict.Newf("multisig setup of %s/%s already started", id, role)
		}
		session.WalletURL = client.Endpoint().URL
		session.UpdatedAt = time.Now()
		if err := tx.Save(&session); err != nil {
			return err
		}

		var escrow models.Escrow
		if err := tx.Lock(&escrow, "id = ?", id); err != nil {
			return err
		}
		if escrow.Status != models.StatusPending {
			return errors.ErrStateConflict.Newf("escrow %s is %s", id, escrow.Status)
		}
		switch role {
		case models.RoleBuyer:
			escrow.BuyerPayoutAddress = payoutAddress
		case models.RoleVendor:
			escrow.VendorPayoutAddress = payoutAddress
		default:
			return nil
		}
		escrow.UpdatedAt = time.Now()
		return tx.Save(&escrow)
	})
	if err != nil {
		return err
	}
	log.Infof("Registered wallet %s (rpc v%d) as %s of escrow %s", client.Endpoint().URL, version.Major(), role, id)
	return nil
}

func sessionLockKey(id models.EscrowID, role models.Role) string {
	return id.String() + "/" + string(role)
}
