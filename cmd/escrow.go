package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/cpacia/xmr-escrow/core"
	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/repo"
)

// Create stores a new escrow and prints its ID.
type Create struct {
	repo.Config
	Buyer   string `long:"buyer" required:"true" description:"User ID of the buyer"`
	Vendor  string `long:"vendor" required:"true" description:"User ID of the vendor"`
	Arbiter string `long:"arbiter" required:"true" description:"User ID of the arbiter"`
	Amount  uint64 `long:"amount" required:"true" description:"Escrow amount in atomic units"`
}

// Execute creates the escrow.
func (x *Create) Execute(args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Stop()

	escrow, err := n.CreateEscrow(context.Background(), models.UserID(x.Buyer), models.UserID(x.Vendor), models.UserID(x.Arbiter), x.Amount)
	if err != nil {
		return err
	}
	fmt.Println(escrow.ID)
	return nil
}

// Multisig runs one participant's side of an escrow's multisig setup. The
// other participants run theirs on their own hosts and meet this one
// through the configured redis exchange.
type Multisig struct {
	repo.Config
	EscrowID string        `long:"escrow" required:"true" description:"ID of the escrow"`
	Role     string        `long:"role" required:"true" choice:"buyer" choice:"vendor" choice:"arbiter" description:"Role this host plays in the escrow"`
	User     string        `long:"user" required:"true" description:"User ID holding the role"`
	Wallet   string        `long:"wallet" description:"URL of the wallet daemon to register before the setup"`
	Payout   string        `long:"payout" description:"Address receiving this party's payout (buyer and vendor only)"`
	Timeout  time.Duration `long:"timeout" default:"10m" description:"How long to wait for the other participants"`
}

// Execute runs the setup and prints the verified shared address.
func (x *Multisig) Execute(args []string) error {
	n, err := openNode()
	if err != nil {
		return err
	}
	defer n.Stop()

	ctx, cancel := context.WithTimeout(core.WithUser(context.Background(), models.UserID(x.User)), x.Timeout)
	defer cancel()

	id, role := models.EscrowID(x.EscrowID), models.Role(x.Role)
	if x.Wallet != "" {
		if err := n.RegisterWallet(ctx, id, role, x.Wallet, x.Payout); err != nil {
			return err
		}
	}
	addr, err := n.RunParticipantSetup(ctx, id, role, nil)
	if err != nil {
		return err
	}
	fmt.Println(addr)
	return nil
}

func openNode() (*core.EscrowNode, error) {
	cfg, _, err := repo.LoadConfig()
	if err != nil {
		return nil, err
	}
	return core.NewNode(context.Background(), cfg)
}
