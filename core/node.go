package core

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/events"
	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/multisig"
	"github.com/cpacia/xmr-escrow/notifications"
	"github.com/cpacia/xmr-escrow/repo"
	"github.com/cpacia/xmr-escrow/wallet"
)

// IdentityFunc resolves the user on whose behalf a call is made.
type IdentityFunc func(ctx context.Context) (models.UserID, bool)

// EscrowNode holds all the components that make up the escrow service and
// exposes the escrow lifecycle operations.
type EscrowNode struct {

	// repo holds the database and data directory.
	repo *repo.Repo

	// pool holds one client per wallet daemon. Every escrow touching the
	// same daemon shares its client and therefore its request limits.
	pool *wallet.Pool

	// exchange carries multisig infos between the participants of a
	// setup.
	exchange multisig.Exchange

	// eventBus is used to emit escrow events.
	eventBus events.Bus

	// notifier forwards completions to the outbound sink.
	notifier *notifications.Notifier

	// identity resolves the caller of an operation.
	identity IdentityFunc

	// locks serializes operations on the same escrow.
	locks *keyedMutex

	// disputeTimeout is the inactivity period after which funded or
	// shipped escrows are moved to disputed.
	disputeTimeout time.Duration

	// monitorInterval is how often the timeout monitor runs.
	monitorInterval time.Duration

	// closeFuncs are run when the node is stopped.
	closeFuncs []func() error

	// shutdown is closed when the node is stopped. Any listening
	// goroutines can use this to terminate.
	shutdown chan struct{}
}

// Start gets the node's background services running and listens for a
// signal interrupt.
func (n *EscrowNode) Start() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		for range c {
			log.Info("Escrow node shutting down...")
			n.Stop()
			os.Exit(1)
		}
	}()

	if n.notifier != nil {
		go n.notifier.Start()
	}
	go n.TimeoutMonitor()
}

// Stop cleanly shuts down the EscrowNode and signals to any listening
// goroutines that it's time to stop.
func (n *EscrowNode) Stop() {
	close(n.shutdown)
	if n.notifier != nil {
		n.notifier.Stop()
	}
	for _, fn := range n.closeFuncs {
		if err := fn(); err != nil {
			log.Errorf("Error during shutdown: %s", err)
		}
	}
	n.repo.Close()
}

// DestroyNode shuts down the node and deletes the entire data directory.
// This should only be used during testing as destroying a live node will
// result in data loss.
func (n *EscrowNode) DestroyNode() {
	n.Stop()
	n.repo.DestroyRepo()
}

// SetIdentityFunc replaces the hook used to resolve the caller of an
// operation. The default reads the user set with WithUser.
func (n *EscrowNode) SetIdentityFunc(fn IdentityFunc) {
	n.identity = fn
}

// SubscribeEvent returns a subscription to the provided event type. The
// subscription must be closed by the caller.
func (n *EscrowNode) SubscribeEvent(event interface{}, opts ...events.SubscriptionOpt) (events.Subscription, error) {
	return n.eventBus.Subscribe(event, opts...)
}

// DB returns the node's database.
func (n *EscrowNode) DB() database.Database {
	return n.repo.DB()
}

// Pool returns the wallet client pool.
func (n *EscrowNode) Pool() *wallet.Pool {
	return n.pool
}

type userKey struct{}

// WithUser returns a context carrying the calling user's ID.
func WithUser(ctx context.Context, user models.UserID) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user set with WithUser.
func UserFromContext(ctx context.Context) (models.UserID, bool) {
	user, ok := ctx.Value(userKey{}).(models.UserID)
	return user, ok && user != ""
}
