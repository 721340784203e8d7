package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/events"
	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/multisig"
	"github.com/cpacia/xmr-escrow/wallet"
)

// tamperingExchange reports a forged final address for one role.
type tamperingExchange struct {
	multisig.Exchange
	role string
	addr string
}

func (e *tamperingExchange) Publish(ctx context.Context, sessionID string, step multisig.Stage, role string, info wallet.MultisigInfo) error {
	if step == multisig.Finalized && role == e.role {
		info = wallet.MultisigInfo(e.addr)
	}
	return e.Exchange.Publish(ctx, sessionID, step, role, info)
}

func TestEscrowNode_SetupMultisig(t *testing.T) {
	m := newMarket(t)
	defer m.Close()

	escrow := newEscrow(t, m)

	if _, err := m.Node.SetupMultisig(as("stranger"), escrow.ID); !errors.Is(err, errors.ErrAuthorization) {
		t.Errorf("Expected authorization error, got %v", err)
	}

	sub, err := m.Node.SubscribeEvent(&events.MultisigFinalized{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(as(vendorID), 10*time.Second)
	defer cancel()
	addr, err := m.Node.SetupMultisig(ctx, escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := wallet.ValidateAddress(addr); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-sub.Out():
		if e.(*events.MultisigFinalized).Address != addr {
			t.Errorf("Unexpected event %+v", e)
		}
	case <-time.After(time.Second * 10):
		t.Fatal("Timed out waiting on channel")
	}

	loaded, err := m.Node.GetEscrow(context.Background(), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SharedAddress != addr || !loaded.ReadyForFunding() {
		t.Errorf("Unexpected escrow %+v", loaded)
	}
	sessions, err := m.Node.GetMultisigSessions(context.Background(), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range sessions {
		if s.Stage != multisig.Finalized.String() || s.Address != addr {
			t.Errorf("Unexpected session %+v", s)
		}
	}

	// Setup is idempotent once complete.
	calls := m.TotalCalls()
	again, err := m.Node.SetupMultisig(ctx, escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again != addr {
		t.Errorf("Expected %s, got %s", addr, again)
	}
	if m.TotalCalls() != calls {
		t.Errorf("Repeated setup made %d wallet calls", m.TotalCalls()-calls)
	}

	if err := m.Node.RegisterWallet(as(buyerID), escrow.ID, models.RoleBuyer, m.Payer.URL(), m.PayoutAddress(models.RoleBuyer)); !errors.Is(err, errors.ErrStateConflict) {
		t.Errorf("Expected state conflict, got %v", err)
	}
}

func TestEscrowNode_SetupMultisig_MissingWallet(t *testing.T) {
	m := newMarket(t)
	defer m.Close()

	escrow, err := m.Node.CreateEscrow(context.Background(), buyerID, vendorID, arbiterID, escrowAmount)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Node.RegisterWallet(as(buyerID), escrow.ID, models.RoleBuyer, m.Daemons[models.RoleBuyer].URL(), m.PayoutAddress(models.RoleBuyer)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Node.SetupMultisig(as(buyerID), escrow.ID); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestEscrowNode_RunParticipantSetup(t *testing.T) {
	m := newMarket(t)
	defer m.Close()

	escrow := newEscrow(t, m)
	exchange := multisig.NewMemoryExchange(time.Minute)

	if _, err := m.Node.RunParticipantSetup(as(buyerID), escrow.ID, models.RoleVendor, exchange); !errors.Is(err, errors.ErrAuthorization) {
		t.Errorf("Expected authorization error, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		wg    sync.WaitGroup
		mtx   sync.Mutex
		addrs = make(map[models.Role]string)
		errs  = make(map[models.Role]error)
	)
	for _, role := range models.Roles {
		wg.Add(1)
		go func(role models.Role) {
			defer wg.Done()
			addr, err := m.Node.RunParticipantSetup(WithUser(ctx, escrow.PartyID(role)), escrow.ID, role, exchange)
			mtx.Lock()
			addrs[role], errs[role] = addr, err
			mtx.Unlock()
		}(role)
	}
	wg.Wait()

	for _, role := range models.Roles {
		if errs[role] != nil {
			t.Fatalf("%s: %s", role, errs[role])
		}
		if addrs[role] != addrs[models.RoleBuyer] {
			t.Errorf("%s: expected %s, got %s", role, addrs[models.RoleBuyer], addrs[role])
		}
	}
}

func TestEscrowNode_AddressMismatchBlocksFunding(t *testing.T) {
	m := newMarket(t)
	defer m.Close()

	escrow := newEscrow(t, m)
	exchange := &tamperingExchange{
		Exchange: multisig.NewMemoryExchange(time.Minute),
		role:     string(models.RoleArbiter),
		addr:     m.Daemons[models.RoleArbiter].Address(),
	}

	sub, err := m.Node.SubscribeEvent(&events.MultisigSetupFailed{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(models.Roles))
	for i, role := range models.Roles {
		wg.Add(1)
		go func(i int, role models.Role) {
			defer wg.Done()
			_, errs[i] = m.Node.RunParticipantSetup(WithUser(ctx, escrow.PartyID(role)), escrow.ID, role, exchange)
		}(i, role)
	}
	wg.Wait()

	var mismatches int
	for _, err := range errs {
		if errors.Is(err, multisig.ErrAddressMismatch) {
			mismatches++
		}
	}
	if mismatches < 2 {
		t.Errorf("Expected at least 2 address mismatches, got %d: %v", mismatches, errs)
	}

	select {
	case <-sub.Out():
	case <-time.After(time.Second * 10):
		t.Fatal("Timed out waiting on channel")
	}

	loaded, err := m.Node.GetEscrow(context.Background(), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.SetupError == "" || loaded.ReadyForFunding() {
		t.Errorf("Expected funding to be blocked, got %+v", loaded)
	}

	if _, err := m.Node.FundEscrow(as(buyerID), escrow.ID, m.Payer.URL()); !errors.Is(err, multisig.ErrAddressMismatch) {
		t.Errorf("Expected address mismatch, got %v", err)
	}
	if m.Payer.TotalCalls() != 0 {
		t.Error("Blocked funding reached the payer wallet")
	}
	if _, err := m.Node.SetupMultisig(as(buyerID), escrow.ID); !errors.Is(err, multisig.ErrAddressMismatch) {
		t.Errorf("Expected address mismatch, got %v", err)
	}

	// The escrow can still be closed.
	closed, err := m.Node.CancelEscrow(as(buyerID), escrow.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != models.StatusRefunded {
		t.Errorf("Expected status %s, got %s", models.StatusRefunded, closed.Status)
	}
}
