package core

import (
	"fmt"
	"time"

	"github.com/cpacia/xmr-escrow/events"
	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/multisig"
	"github.com/cpacia/xmr-escrow/notifications"
	"github.com/cpacia/xmr-escrow/repo"
	"github.com/cpacia/xmr-escrow/wallet"
)

// MockNode builds a mock node with a temp data directory, in-memory
// database and in-process multisig exchange. Completions are logged.
func MockNode() (*EscrowNode, error) {
	r, err := repo.MockRepo()
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	node := &EscrowNode{
		repo: r,
		pool: wallet.NewPool(5*time.Second,
			wallet.RateLimit(1000, 100),
			wallet.InitialBackoff(time.Millisecond),
		),
		exchange:        multisig.NewMemoryExchange(time.Minute),
		eventBus:        bus,
		identity:        UserFromContext,
		locks:           newKeyedMutex(),
		disputeTimeout:  repo.DefaultDisputeTimeout,
		monitorInterval: repo.DefaultMonitorInterval,
		shutdown:        make(chan struct{}),
	}
	node.notifier = notifications.NewNotifier(bus, r.DB(), notifications.SinkFunc(logCompletion))
	return node, nil
}

// MockMarket is a mock node together with a wallet daemon for every party
// on a shared mock network, plus a daemon the buyer pays from and receives
// refunds to, and a daemon holding the vendor's payout address.
type MockMarket struct {
	Node         *EscrowNode
	Network      *wallet.MockNetwork
	Daemons      map[models.Role]*wallet.MockDaemon
	Payer        *wallet.MockDaemon
	VendorPayout *wallet.MockDaemon

	daemons []*wallet.MockDaemon
}

// NewMockMarket returns a MockMarket. The payer starts with fundBalance
// atomic units.
func NewMockMarket(fundBalance uint64) (*MockMarket, error) {
	node, err := MockNode()
	if err != nil {
		return nil, err
	}
	network := wallet.NewMockNetwork()
	m := &MockMarket{
		Node:         node,
		Network:      network,
		Daemons:      make(map[models.Role]*wallet.MockDaemon),
		Payer:        network.NewDaemon("payer"),
		VendorPayout: network.NewDaemon("vendor-payout"),
	}
	m.NewWallets()
	network.Fund(m.Payer.Address(), fundBalance)
	return m, nil
}

// NewWallets replaces the party daemons with fresh ones. A daemon turns
// into a multisig wallet during setup so every escrow needs its own.
func (m *MockMarket) NewWallets() {
	for _, role := range models.Roles {
		d := m.Network.NewDaemon(fmt.Sprintf("%s-%d", role, len(m.daemons)))
		m.Daemons[role] = d
		m.daemons = append(m.daemons, d)
	}
}

// PayoutAddress returns the payout address role registers with.
func (m *MockMarket) PayoutAddress(role models.Role) string {
	switch role {
	case models.RoleBuyer:
		return m.Payer.Address()
	case models.RoleVendor:
		return m.VendorPayout.Address()
	}
	return ""
}

// TotalCalls returns the number of requests served by the current party
// daemons.
func (m *MockMarket) TotalCalls() int {
	total := 0
	for _, d := range m.Daemons {
		total += d.TotalCalls()
	}
	return total
}

// Close destroys the node and stops every daemon.
func (m *MockMarket) Close() {
	m.Node.DestroyNode()
	m.Payer.Close()
	m.VendorPayout.Close()
	for _, d := range m.daemons {
		d.Close()
	}
}
