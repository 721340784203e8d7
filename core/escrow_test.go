package core

import (
	"context"
	"testing"
	"time"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/events"
	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/multisig"
	"github.com/cpacia/xmr-escrow/wallet"
)

const (
	buyerID   models.UserID = "buyer-1"
	vendorID  models.UserID = "vendor-1"
	arbiterID models.UserID = "arbiter-1"

	escrowAmount uint64 = 1000000000000
	payerBalance uint64 = 10 * escrowAmount
)

func as(user models.UserID) context.Context {
	return WithUser(context.Background(), user)
}

func newMarket(t *testing.T) *MockMarket {
	multisig.PollInterval = 5 * time.Millisecond
	m, err := NewMockMarket(payerBalance)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// newEscrow creates an escrow and registers a fresh daemon for every
// party.
func newEscrow(t *testing.T, m *MockMarket) *models.Escrow {
	m.NewWallets()
	escrow, err := m.Node.CreateEscrow(context.Background(), buyerID, vendorID, arbiterID, escrowAmount)
	if err != nil {
		t.Fatal(err)
	}
	for _, role := range models.Roles {
		err := m.Node.RegisterWallet(as(escrow.PartyID(role)), escrow.ID, role, m.Daemons[role].URL(), m.PayoutAddress(role))
		if err != nil {
			t.Fatal(err)
		}
	}
	return escrow
}

// setupEscrow returns an escrow whose shared address is verified.
func setupEscrow(t *testing.T, m *MockMarket) *models.Escrow {
	escrow := newEscrow(t, m)
	ctx, cancel := context.WithTimeout(as(buyerID), 10*time.Second)
	defer cancel()
	if _, err := m.Node.SetupMultisig(ctx, escrow.ID); err != nil {
		t.Fatal(err)
	}
	escrow, err := m.Node.GetEscrow(context.Background(), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	return escrow
}

// fundedEscrow returns an escrow in the funded state.
func fundedEscrow(t *testing.T, m *MockMarket) *models.Escrow {
	escrow := setupEscrow(t, m)
	escrow, err := m.Node.FundEscrow(as(buyerID), escrow.ID, m.Payer.URL())
	if err != nil {
		t.Fatal(err)
	}
	if escrow.Status != models.StatusFunded {
		t.Fatalf("Expected status %s, got %s", models.StatusFunded, escrow.Status)
	}
	return escrow
}

func TestEscrowNode_CreateEscrow(t *testing.T) {
	m := newMarket(t)
	defer m.Close()

	tests := []struct {
		name    string
		buyer   models.UserID
		vendor  models.UserID
		arbiter models.UserID
		amount  uint64
	}{
		{"missing buyer", "", vendorID, arbiterID, escrowAmount},
		{"missing arbiter", buyerID, vendorID, "", escrowAmount},
		{"buyer is vendor", buyerID, buyerID, arbiterID, escrowAmount},
		{"vendor is arbiter", buyerID, vendorID, vendorID, escrowAmount},
		{"zero amount", buyerID, vendorID, arbiterID, 0},
	}
	for _, test := range tests {
		_, err := m.Node.CreateEscrow(context.Background(), test.buyer, test.vendor, test.arbiter, test.amount)
		if !errors.Is(err, errors.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", test.name, err)
		}
	}

	sub, err := m.Node.SubscribeEvent(&events.EscrowCreated{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	escrow, err := m.Node.CreateEscrow(context.Background(), buyerID, vendorID, arbiterID, escrowAmount)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-sub.Out():
		if e.(*events.EscrowCreated).EscrowID != escrow.ID {
			t.Errorf("Unexpected escrow ID %s", e.(*events.EscrowCreated).EscrowID)
		}
	case <-time.After(time.Second * 10):
		t.Fatal("Timed out waiting on channel")
	}

	loaded, err := m.Node.GetEscrow(context.Background(), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != models.StatusPending || loaded.Amount != escrowAmount {
		t.Errorf("Unexpected escrow %+v", loaded)
	}
	sessions, err := m.Node.GetMultisigSessions(context.Background(), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(sessions))
	}
	for _, s := range sessions {
		if s.Stage != multisig.Uninitialized.String() || s.Threshold != 2 || s.Participants != 3 {
			t.Errorf("Unexpected session %+v", s)
		}
	}

	if _, err := m.Node.GetEscrow(context.Background(), "missing"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestEscrowNode_RegisterWallet(t *testing.T) {
	m := newMarket(t)
	defer m.Close()

	escrow, err := m.Node.CreateEscrow(context.Background(), buyerID, vendorID, arbiterID, escrowAmount)
	if err != nil {
		t.Fatal(err)
	}
	url := m.Daemons[models.RoleBuyer].URL()
	payout := m.PayoutAddress(models.RoleBuyer)

	if err := m.Node.RegisterWallet(as(vendorID), escrow.ID, models.RoleBuyer, url, payout); !errors.Is(err, errors.ErrAuthorization) {
		t.Errorf("Expected authorization error, got %v", err)
	}
	if err := m.Node.RegisterWallet(context.Background(), escrow.ID, models.RoleBuyer, url, payout); !errors.Is(err, errors.ErrAuthorization) {
		t.Errorf("Expected authorization error, got %v", err)
	}
	if err := m.Node.RegisterWallet(as(buyerID), escrow.ID, models.RoleBuyer, url, ""); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Expected validation error for a missing payout address, got %v", err)
	}
	arbiterURL := m.Daemons[models.RoleArbiter].URL()
	if err := m.Node.RegisterWallet(as(arbiterID), escrow.ID, models.RoleArbiter, arbiterURL, payout); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Expected validation error for an arbiter payout address, got %v", err)
	}
	if m.TotalCalls() != 0 {
		t.Error("Rejected registrations must not reach the daemon")
	}

	err = m.Node.RegisterWallet(as(buyerID), escrow.ID, models.RoleBuyer, "http://wallet.example.com:18083", payout)
	if !errors.Is(err, errors.ErrConfig) {
		t.Errorf("Expected config error, got %v", err)
	}

	if err := m.Node.RegisterWallet(as(buyerID), escrow.ID, models.RoleBuyer, url, payout); err != nil {
		t.Fatal(err)
	}
	loaded, err := m.Node.GetEscrow(context.Background(), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.BuyerPayoutAddress != payout || loaded.VendorPayoutAddress != "" {
		t.Errorf("Unexpected payout addresses %q %q", loaded.BuyerPayoutAddress, loaded.VendorPayoutAddress)
	}
	sessions, err := m.Node.GetMultisigSessions(context.Background(), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range sessions {
		if s.Role == models.RoleBuyer && s.WalletURL != url {
			t.Errorf("Expected wallet url %s, got %s", url, s.WalletURL)
		}
	}
}

func TestEscrowNode_TransitionsRequireState(t *testing.T) {
	m := newMarket(t)
	defer m.Close()

	escrow := setupEscrow(t, m)

	if _, err := m.Node.MarkShipped(as(vendorID), escrow.ID); !errors.Is(err, errors.ErrStateConflict) {
		t.Errorf("Expected state conflict, got %v", err)
	}
	if _, err := m.Node.OpenDispute(as(buyerID), escrow.ID, "late"); !errors.Is(err, errors.ErrStateConflict) {
		t.Errorf("Expected state conflict, got %v", err)
	}
	if _, err := m.Node.ConfirmReceipt(as(buyerID), escrow.ID, m.VendorPayout.Address()); !errors.Is(err, errors.ErrStateConflict) {
		t.Errorf("Expected state conflict, got %v", err)
	}
	if _, err := m.Node.ResolveDispute(as(arbiterID), escrow.ID, models.VerdictBuyer, m.Payer.Address()); !errors.Is(err, errors.ErrStateConflict) {
		t.Errorf("Expected state conflict, got %v", err)
	}
}

func TestEscrowNode_FundEscrow(t *testing.T) {
	m := newMarket(t)
	defer m.Close()

	escrow := newEscrow(t, m)
	if _, err := m.Node.FundEscrow(as(buyerID), escrow.ID, m.Payer.URL()); !errors.Is(err, errors.ErrStateConflict) {
		t.Errorf("Expected state conflict before setup, got %v", err)
	}

	ctx, cancel := context.WithTimeout(as(vendorID), 10*time.Second)
	defer cancel()
	if _, err := m.Node.SetupMultisig(ctx, escrow.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Node.FundEscrow(as(vendorID), escrow.ID, m.Payer.URL()); !errors.Is(err, errors.ErrAuthorization) {
		t.Errorf("Expected authorization error, got %v", err)
	}
	if m.Payer.TotalCalls() != 0 {
		t.Error("Rejected funding must not reach the daemon")
	}

	funded, err := m.Node.FundEscrow(as(buyerID), escrow.ID, m.Payer.URL())
	if err != nil {
		t.Fatal(err)
	}
	if funded.Status != models.StatusFunded || funded.FundingTxHash == "" {
		t.Errorf("Unexpected escrow %+v", funded)
	}
	if bal := m.Network.Balance(funded.SharedAddress); bal != escrowAmount {
		t.Errorf("Expected shared balance %d, got %d", escrowAmount, bal)
	}
	if _, err := m.Node.FundEscrow(as(buyerID), escrow.ID, m.Payer.URL()); !errors.Is(err, errors.ErrStateConflict) {
		t.Errorf("Expected state conflict, got %v", err)
	}
}

func TestEscrowNode_CheckFunding(t *testing.T) {
	m := newMarket(t)
	defer m.Close()

	escrow := setupEscrow(t, m)

	if _, err := m.Node.CheckFunding(as("stranger"), escrow.ID); !errors.Is(err, errors.ErrAuthorization) {
		t.Errorf("Expected authorization error, got %v", err)
	}

	checked, err := m.Node.CheckFunding(as(arbiterID), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if checked.Status != models.StatusPending {
		t.Errorf("Expected status %s, got %s", models.StatusPending, checked.Status)
	}

	m.Network.Fund(escrow.SharedAddress, escrowAmount)
	checked, err = m.Node.CheckFunding(as(arbiterID), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if checked.Status != models.StatusFunded {
		t.Errorf("Expected status %s, got %s", models.StatusFunded, checked.Status)
	}
}

func TestEscrowNode_CheckFunding_WaitsForConfirmations(t *testing.T) {
	m := newMarket(t)
	defer m.Close()

	escrow := setupEscrow(t, m)

	// A deposit made outside of FundEscrow sits in the shared wallet but
	// stays locked until it is buried deep enough.
	payer, err := m.Node.Pool().Get(m.Payer.URL())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := payer.Transfer(context.Background(), []wallet.Destination{{Address: escrow.SharedAddress, Amount: escrowAmount}}); err != nil {
		t.Fatal(err)
	}
	if bal := m.Network.Balance(escrow.SharedAddress); bal != escrowAmount {
		t.Fatalf("Expected shared balance %d, got %d", escrowAmount, bal)
	}

	checked, err := m.Node.CheckFunding(as(buyerID), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if checked.Status != models.StatusPending {
		t.Errorf("Unconfirmed deposit funded the escrow: status %s", checked.Status)
	}

	m.Network.Mine(wallet.MockUnlockBlocks - 1)
	checked, err = m.Node.CheckFunding(as(buyerID), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if checked.Status != models.StatusPending {
		t.Errorf("Deposit one block short of unlocking funded the escrow: status %s", checked.Status)
	}

	m.Network.Mine(1)
	checked, err = m.Node.CheckFunding(as(buyerID), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if checked.Status != models.StatusFunded {
		t.Errorf("Expected status %s, got %s", models.StatusFunded, checked.Status)
	}
}

func TestEscrowNode_ConfirmReceipt(t *testing.T) {
	m := newMarket(t)
	defer m.Close()

	escrow := fundedEscrow(t, m)
	payout := m.VendorPayout

	if _, err := m.Node.MarkShipped(as(buyerID), escrow.ID); !errors.Is(err, errors.ErrAuthorization) {
		t.Errorf("Expected authorization error, got %v", err)
	}
	if _, err := m.Node.MarkShipped(as(vendorID), escrow.ID); err != nil {
		t.Fatal(err)
	}

	sub, err := m.Node.SubscribeEvent(&events.EscrowCompleted{}, events.MatchField("EscrowID", escrow.ID.String()))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if _, err := m.Node.ConfirmReceipt(as(vendorID), escrow.ID, payout.Address()); !errors.Is(err, errors.ErrAuthorization) {
		t.Errorf("Expected authorization error, got %v", err)
	}

	// The buyer can not release the funds to anyone but the vendor.
	calls := m.TotalCalls()
	if _, err := m.Node.ConfirmReceipt(as(buyerID), escrow.ID, m.Payer.Address()); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
	if m.TotalCalls() != calls {
		t.Errorf("Rejected release made %d wallet calls", m.TotalCalls()-calls)
	}
	shipped, err := m.Node.GetEscrow(context.Background(), escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if shipped.Status != models.StatusShipped {
		t.Errorf("Expected status %s, got %s", models.StatusShipped, shipped.Status)
	}
	completed, err := m.Node.ConfirmReceipt(as(buyerID), escrow.ID, payout.Address())
	if err != nil {
		t.Fatal(err)
	}
	if completed.Status != models.StatusCompleted || completed.TxHash == "" {
		t.Errorf("Unexpected escrow %+v", completed)
	}
	if bal := m.Network.Balance(payout.Address()); bal != escrowAmount-wallet.MockFee {
		t.Errorf("Expected payout %d, got %d", escrowAmount-wallet.MockFee, bal)
	}

	select {
	case e := <-sub.Out():
		if e.(*events.EscrowCompleted).TxHash != completed.TxHash {
			t.Errorf("Expected tx hash %s, got %s", completed.TxHash, e.(*events.EscrowCompleted).TxHash)
		}
	case <-time.After(time.Second * 10):
		t.Fatal("Timed out waiting on channel")
	}

	// Buyer and vendor signed. The arbiter only exported.
	if n := m.Daemons[models.RoleBuyer].Calls("sweep_all"); n != 1 {
		t.Errorf("Expected 1 buyer sweep, got %d", n)
	}
	if n := m.Daemons[models.RoleVendor].Calls("submit_multisig"); n != 1 {
		t.Errorf("Expected 1 vendor submit, got %d", n)
	}
	if n := m.Daemons[models.RoleArbiter].Calls("sign_multisig"); n != 0 {
		t.Errorf("Expected no arbiter signature, got %d", n)
	}
}

func TestEscrowNode_TerminalEscrowIsReadOnly(t *testing.T) {
	m := newMarket(t)
	defer m.Close()

	escrow := newEscrow(t, m)
	refunded, err := m.Node.RefundEscrow(as(arbiterID), escrow.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if refunded.Status != models.StatusRefunded || refunded.TxHash != "" {
		t.Errorf("Unexpected escrow %+v", refunded)
	}

	calls := m.TotalCalls()
	if _, err := m.Node.RefundEscrow(as(vendorID), escrow.ID, m.Payer.Address()); !errors.Is(err, errors.ErrStateConflict) {
		t.Errorf("Expected state conflict, got %v", err)
	}
	if _, err := m.Node.CancelEscrow(as(buyerID), escrow.ID, m.Payer.Address()); !errors.Is(err, errors.ErrStateConflict) {
		t.Errorf("Expected state conflict, got %v", err)
	}
	if _, err := m.Node.SetupMultisig(as(buyerID), escrow.ID); !errors.Is(err, errors.ErrStateConflict) {
		t.Errorf("Expected state conflict, got %v", err)
	}
	if _, err := m.Node.updateEscrow(escrow.ID, models.StatusRefunded, func(tx database.Tx, e *models.Escrow) error {
		e.DisputeReason = "rewrite"
		return nil
	}); !errors.Is(err, errors.ErrStateConflict) {
		t.Errorf("Expected state conflict, got %v", err)
	}
	if m.TotalCalls() != calls {
		t.Error("Terminal escrows must not reach the daemons")
	}
}
