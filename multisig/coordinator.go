// Package multisig drives one participant's wallet through the 2-of-3
// multisig setup handshake.
//
// The handshake has four steps: prepare, make, two export/import sync
// rounds and a final readiness check. Each step needs the other two
// participants' output of the previous step, which is obtained through a
// PeerInfoFunc. How infos travel between participants is up to the caller.
//
// A step either completes and is persisted, or leaves the session at its
// last completed stage so that it can be retried.
package multisig

import (
	"context"
	"sync"

	"github.com/op/go-logging"

	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/wallet"
)

var log = logging.MustGetLogger("MSIG")

// ErrAddressMismatch means the participants' wallets derived different
// shared addresses. The setup can not be recovered and the escrow must
// not be funded.
var ErrAddressMismatch = errors.Register(201, errors.KindValidation, "shared address mismatch")

// WalletAPI is the subset of the wallet daemon client used by the
// coordinator. It is satisfied by *wallet.Client.
type WalletAPI interface {
	PrepareMultisig(ctx context.Context) (wallet.MultisigInfo, error)
	MakeMultisig(ctx context.Context, infos []wallet.MultisigInfo, threshold int) (wallet.MakeMultisigResult, error)
	ExportMultisigInfo(ctx context.Context) (wallet.MultisigInfo, error)
	ImportMultisigInfo(ctx context.Context, infos []wallet.MultisigInfo) (uint64, error)
	IsMultisig(ctx context.Context) (wallet.MultisigStatus, error)
	GetAddress(ctx context.Context) (string, error)
}

// SessionStore persists a session after every completed step.
type SessionStore interface {
	Save(ctx context.Context, session *Session) error
}

// PeerInfoFunc publishes own for the given step and returns the infos of
// the other participants for the same step. step is the stage whose
// output is exchanged.
type PeerInfoFunc func(ctx context.Context, step Stage, own wallet.MultisigInfo) ([]wallet.MultisigInfo, error)

// Coordinator runs the setup of a single participant. Its methods may be
// called concurrently but steps are serialized.
type Coordinator struct {
	wallet  WalletAPI
	store   SessionStore
	session Session
	mtx     sync.Mutex
}

// NewCoordinator returns a coordinator resuming the given session.
func NewCoordinator(w WalletAPI, store SessionStore, session *Session) *Coordinator {
	return &Coordinator{
		wallet:  w,
		store:   store,
		session: *session,
	}
}

// Session returns a copy of the current session.
func (c *Coordinator) Session() Session {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.copySession()
}

func (c *Coordinator) copySession() Session {
	s := c.session
	for i := range s.Rounds {
		s.Rounds[i].Imported = append([]wallet.MultisigInfo(nil), c.session.Rounds[i].Imported...)
	}
	return s
}

// commit persists next and makes it the current session.
func (c *Coordinator) commit(ctx context.Context, next Session) error {
	if err := c.store.Save(ctx, &next); err != nil {
		return err
	}
	c.session = next
	return nil
}

// Prepare returns the participant's prepare info, asking the daemon for it
// on first use.
func (c *Coordinator) Prepare(ctx context.Context) (wallet.MultisigInfo, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.session.Stage >= Prepared {
		return c.session.PrepareInfo, nil
	}

	info, err := c.wallet.PrepareMultisig(ctx)
	if err != nil {
		return "", errors.Wrap(err, "prepare")
	}

	next := c.copySession()
	next.PrepareInfo = info
	next.Stage = Prepared
	if err := c.commit(ctx, next); err != nil {
		return "", err
	}
	log.Debugf("Session %s/%s prepared %s", next.ID, next.Role, info)
	return info, nil
}

// Make exchanges prepare infos and turns the wallet into a 2-of-3
// multisig wallet.
func (c *Coordinator) Make(ctx context.Context, peers PeerInfoFunc) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.session.Stage < Prepared {
		return errors.ErrStateConflict.New("make: session is not prepared")
	}

	infos, err := peers(ctx, Prepared, c.session.PrepareInfo)
	if err != nil {
		return errors.Wrap(err, "make: collect peer infos")
	}
	if err := validatePeers(infos, c.session.PrepareInfo); err != nil {
		return errors.Wrap(err, "make")
	}
	digest := PeerDigest(infos)

	if c.session.Stage >= Made {
		if digest != c.session.MakeDigest {
			return errors.ErrStateConflict.New("make: already made with a different peer set")
		}
		return nil
	}

	res, err := c.wallet.MakeMultisig(ctx, infos, c.session.Threshold)
	if err != nil {
		return errors.Wrap(err, "make")
	}

	next := c.copySession()
	next.MakeInfo = res.MultisigInfo
	next.MakeDigest = digest
	next.Address = res.Address
	next.Stage = Made
	if err := c.commit(ctx, next); err != nil {
		return err
	}
	log.Debugf("Session %s/%s made provisional address %s", next.ID, next.Role, wallet.TruncateAddress(res.Address))
	return nil
}

// SyncRound runs the next export/import round. Once both rounds are done
// it re-checks the last one: the same peer set is a no-op, a different one
// is a conflict.
func (c *Coordinator) SyncRound(ctx context.Context, peers PeerInfoFunc) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.session.Stage < Made {
		return errors.ErrStateConflict.New("sync: session is not made")
	}
	i := int(c.session.Stage - Made)
	if i >= SyncRounds {
		i = SyncRounds - 1
	}
	return c.syncRound(ctx, i, peers)
}

func (c *Coordinator) syncRound(ctx context.Context, i int, peers PeerInfoFunc) error {
	if c.session.Stage >= syncStage(i) {
		return c.recheckRound(ctx, i, peers)
	}
	if c.session.Stage != syncStage(i)-1 {
		return errors.ErrStateConflict.Newf("sync round %d: session is at stage %s", i+1, c.session.Stage)
	}

	exported, err := c.wallet.ExportMultisigInfo(ctx)
	if err != nil {
		return errors.Wrapf(err, "sync round %d: export", i+1)
	}
	infos, err := peers(ctx, syncStage(i), exported)
	if err != nil {
		return errors.Wrapf(err, "sync round %d: collect peer infos", i+1)
	}
	if err := validatePeers(infos, exported); err != nil {
		return errors.Wrapf(err, "sync round %d", i+1)
	}
	outputs, err := c.wallet.ImportMultisigInfo(ctx, infos)
	if err != nil {
		return errors.Wrapf(err, "sync round %d: import", i+1)
	}

	next := c.copySession()
	next.Rounds[i] = Round{
		Exported:   exported,
		Imported:   infos,
		PeerDigest: PeerDigest(infos),
		Outputs:    outputs,
	}
	next.Stage = syncStage(i)
	if err := c.commit(ctx, next); err != nil {
		return err
	}
	log.Debugf("Session %s/%s completed sync round %d", next.ID, next.Role, i+1)
	return nil
}

func (c *Coordinator) recheckRound(ctx context.Context, i int, peers PeerInfoFunc) error {
	round := c.session.Rounds[i]
	infos, err := peers(ctx, syncStage(i), round.Exported)
	if err != nil {
		return errors.Wrapf(err, "sync round %d: collect peer infos", i+1)
	}
	if err := validatePeers(infos, round.Exported); err != nil {
		return errors.Wrapf(err, "sync round %d", i+1)
	}
	if PeerDigest(infos) != round.PeerDigest {
		return errors.ErrStateConflict.Newf("sync round %d: already completed with a different peer set", i+1)
	}
	return nil
}

// Finalize checks that the wallet is a ready 2-of-3 multisig wallet whose
// address matches the provisional one and returns the shared address.
func (c *Coordinator) Finalize(ctx context.Context) (string, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.session.Stage == Finalized {
		return c.session.Address, nil
	}
	if c.session.Stage != syncStage(SyncRounds-1) {
		return "", errors.ErrStateConflict.Newf("finalize: session is at stage %s", c.session.Stage)
	}

	status, err := c.wallet.IsMultisig(ctx)
	if err != nil {
		return "", errors.Wrap(err, "finalize")
	}
	if !status.Multisig || !status.Ready {
		return "", errors.ErrWallet.New("finalize: wallet is not a ready multisig wallet")
	}
	if int(status.Threshold) != c.session.Threshold || int(status.Total) != c.session.Participants {
		return "", errors.ErrWallet.Newf("finalize: wallet is %d-of-%d, expected %d-of-%d",
			status.Threshold, status.Total, c.session.Threshold, c.session.Participants)
	}
	addr, err := c.wallet.GetAddress(ctx)
	if err != nil {
		return "", errors.Wrap(err, "finalize")
	}
	if addr != c.session.Address {
		return "", ErrAddressMismatch.Newf("finalize: wallet reports %s, make_multisig returned %s",
			wallet.TruncateAddress(addr), wallet.TruncateAddress(c.session.Address))
	}

	next := c.copySession()
	next.Stage = Finalized
	if err := c.commit(ctx, next); err != nil {
		return "", err
	}
	log.Infof("Session %s/%s finalized at %s", next.ID, next.Role, wallet.TruncateAddress(addr))
	return addr, nil
}

// Run drives every remaining step and returns the shared address.
// Completed steps are replayed without daemon calls so that participants
// which are behind still receive this participant's infos.
func (c *Coordinator) Run(ctx context.Context, peers PeerInfoFunc) (string, error) {
	if _, err := c.Prepare(ctx); err != nil {
		return "", err
	}
	if err := c.Make(ctx, peers); err != nil {
		return "", err
	}
	for i := 0; i < SyncRounds; i++ {
		c.mtx.Lock()
		err := c.syncRound(ctx, i, peers)
		c.mtx.Unlock()
		if err != nil {
			return "", err
		}
	}
	return c.Finalize(ctx)
}

// VerifySharedAddresses checks that every participant reported the same
// shared address and returns it.
func VerifySharedAddresses(addrs []string) (string, error) {
	if len(addrs) != Participants {
		return "", errors.ErrValidation.Newf("expected %d shared addresses, got %d", Participants, len(addrs))
	}
	for _, a := range addrs {
		if a == "" {
			return "", errors.ErrValidation.New("participant has no shared address")
		}
		if a != addrs[0] {
			return "", ErrAddressMismatch.Newf("%s != %s", wallet.TruncateAddress(addrs[0]), wallet.TruncateAddress(a))
		}
	}
	return addrs[0], nil
}
