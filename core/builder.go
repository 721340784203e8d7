package core

import (
	"context"
	"math"

	"github.com/cpacia/proxyclient"
	"github.com/op/go-logging"

	"github.com/cpacia/xmr-escrow/events"
	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/multisig"
	escrownet "github.com/cpacia/xmr-escrow/net"
	"github.com/cpacia/xmr-escrow/notifications"
	"github.com/cpacia/xmr-escrow/repo"
	"github.com/cpacia/xmr-escrow/wallet"
)

var log = logging.MustGetLogger("CORE")

// NewNode constructs and returns an EscrowNode using the given cfg.
func NewNode(ctx context.Context, cfg *repo.Config) (*EscrowNode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	escrowRepo, err := repo.NewRepo(cfg)
	if err != nil {
		return nil, err
	}

	poolOpts := []wallet.Option{
		wallet.MaxInFlight(cfg.WalletMaxInFlight),
		wallet.Attempts(cfg.WalletRetries + 1),
		wallet.Credentials(cfg.WalletRPCUser, cfg.WalletRPCPassword),
		wallet.WalletPassword(cfg.WalletPassword),
	}
	if cfg.WalletRateLimit > 0 {
		burst := int(cfg.WalletRateLimit)
		if burst < 1 {
			burst = 1
		}
		poolOpts = append(poolOpts, wallet.RateLimit(cfg.WalletRateLimit, burst))
	} else {
		poolOpts = append(poolOpts, wallet.RateLimit(math.MaxFloat64, 1))
	}

	dialer, err := escrownet.NewTorDialer(cfg.TorProxy)
	if err != nil {
		if cfg.TorProxy != "" {
			escrowRepo.Close()
			return nil, err
		}
		log.Info("Tor proxy not found. Wallets behind .onion addresses are unreachable.")
	} else {
		// The completion webhook goes through Tor as well.
		proxyclient.SetProxy(dialer)
		poolOpts = append(poolOpts, wallet.Dialer(dialer))
	}

	node := &EscrowNode{
		repo:            escrowRepo,
		pool:            wallet.NewPool(cfg.WalletTimeout, poolOpts...),
		eventBus:        events.NewBus(),
		identity:        UserFromContext,
		locks:           newKeyedMutex(),
		disputeTimeout:  cfg.DisputeTimeout,
		monitorInterval: cfg.MonitorInterval,
		shutdown:        make(chan struct{}),
	}

	if cfg.RedisAddr != "" {
		ex, err := multisig.NewRedisExchange(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, multisig.DefaultExchangeTTL)
		if err != nil {
			escrowRepo.Close()
			return nil, err
		}
		node.exchange = ex
		node.closeFuncs = append(node.closeFuncs, ex.Close)
	} else {
		node.exchange = multisig.NewMemoryExchange(multisig.DefaultExchangeTTL)
	}

	var sink notifications.CompletionSink = notifications.SinkFunc(logCompletion)
	if cfg.CompletionWebhook != "" {
		sink = notifications.NewWebhookSink(cfg.CompletionWebhook)
	}
	node.notifier = notifications.NewNotifier(node.eventBus, escrowRepo.DB(), sink)

	return node, nil
}

func logCompletion(ctx context.Context, escrowID models.EscrowID, txHash string) error {
	log.Noticef("Escrow %s completed in transaction %s", escrowID, txHash)
	return nil
}
