package core

import (
	"context"

	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/multisig"
	"github.com/cpacia/xmr-escrow/wallet"
)

// payoutAddress returns the address registered by payee. A caller may
// name the address it expects to be paid; it must be the registered one.
func payoutAddress(escrow *models.Escrow, payee models.Role, requested string) (string, error) {
	stored := escrow.PayoutAddress(payee)
	if stored == "" {
		return "", errors.ErrStateConflict.Newf("escrow %s has no %s payout address", escrow.ID, payee)
	}
	if requested != "" && requested != stored {
		return "", errors.ErrValidation.Newf("%s is not the %s payout address of escrow %s",
			wallet.TruncateAddress(requested), payee, escrow.ID)
	}
	return stored, nil
}

// spend sweeps the shared wallet of escrow to the payout address of payee.
// The first signer builds the transaction, the second co-signs and
// broadcasts it. It returns the hash of the first broadcast transaction.
func (n *EscrowNode) spend(ctx context.Context, escrow *models.Escrow, signers [2]models.Role, payee models.Role, requested string) (string, error) {
	recipient, err := payoutAddress(escrow, payee, requested)
	if err != nil {
		return "", err
	}
	if err := wallet.ValidateAddress(recipient); err != nil {
		return "", errors.Wrap(err, "recipient")
	}
	if recipient == escrow.SharedAddress {
		return "", errors.ErrValidation.New("recipient is the escrow address")
	}
	clients, err := n.participantClients(escrow.ID)
	if err != nil {
		return "", err
	}

	// Both signers need the current output state of the other two
	// wallets before they can build or sign.
	exports := make(map[models.Role]wallet.MultisigInfo)
	for _, role := range models.Roles {
		info, err := clients[role].ExportMultisigInfo(ctx)
		if err != nil {
			return "", errors.Wrapf(err, "export %s multisig info", role)
		}
		exports[role] = info
	}
	for _, signer := range signers {
		var peers []wallet.MultisigInfo
		for _, role := range models.Roles {
			if role != signer {
				peers = append(peers, exports[role])
			}
		}
		if _, err := clients[signer].ImportMultisigInfo(ctx, peers); err != nil {
			return "", errors.Wrapf(err, "import multisig info into %s wallet", signer)
		}
	}

	sweep, err := clients[signers[0]].SweepAll(ctx, recipient)
	if err != nil {
		return "", err
	}
	if sweep.MultisigTxSet == "" {
		return "", errors.ErrWallet.Newf("%s wallet returned no multisig txset", signers[0])
	}
	signed, err := clients[signers[1]].SignMultisig(ctx, sweep.MultisigTxSet)
	if err != nil {
		return "", err
	}
	hashes, err := clients[signers[1]].SubmitMultisig(ctx, signed.TxDataHex)
	if err != nil {
		return "", err
	}
	log.Infof("Escrow %s swept to %s in %s (signed by %s and %s)", escrow.ID,
		wallet.TruncateAddress(recipient), hashes[0], signers[0], signers[1])
	return hashes[0], nil
}

// balanceClient returns the client of a finalized participant wallet this
// node knows the daemon of.
func (n *EscrowNode) balanceClient(id models.EscrowID) (*wallet.Client, error) {
	sessions, err := n.GetMultisigSessions(context.Background(), id)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.WalletURL == "" || s.Stage != multisig.Finalized.String() {
			continue
		}
		return n.pool.Get(s.WalletURL)
	}
	return nil, errors.ErrStateConflict.Newf("escrow %s has no finalized wallet", id)
}
