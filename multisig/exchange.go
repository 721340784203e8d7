package multisig

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/wallet"
)

// PollInterval is how often an ExchangeProvider checks for missing peer
// infos.
var PollInterval = 100 * time.Millisecond

// DefaultExchangeTTL is how long published infos are kept.
const DefaultExchangeTTL = time.Hour

// Exchange is a rendezvous where the participants of a session publish
// their info for each step and read everybody else's.
type Exchange interface {
	// Publish stores info under role for the given session step. A
	// second publish for the same role replaces the first.
	Publish(ctx context.Context, sessionID string, step Stage, role string, info wallet.MultisigInfo) error

	// Collect returns every info published for the session step keyed
	// by role.
	Collect(ctx context.Context, sessionID string, step Stage) (map[string]wallet.MultisigInfo, error)
}

// ExchangeProvider returns a PeerInfoFunc which publishes the
// participant's info to ex and blocks until the other participants'
// infos for the same step are available or ctx is done.
func ExchangeProvider(ex Exchange, sessionID, role string) PeerInfoFunc {
	return func(ctx context.Context, step Stage, own wallet.MultisigInfo) ([]wallet.MultisigInfo, error) {
		if err := ex.Publish(ctx, sessionID, step, role, own); err != nil {
			return nil, err
		}

		ticker := time.NewTicker(PollInterval)
		defer ticker.Stop()
		for {
			published, err := ex.Collect(ctx, sessionID, step)
			if err != nil {
				return nil, err
			}
			delete(published, role)
			if len(published) >= Participants-1 {
				roles := make([]string, 0, len(published))
				for r := range published {
					roles = append(roles, r)
				}
				sort.Strings(roles)
				peers := make([]wallet.MultisigInfo, 0, len(roles))
				for _, r := range roles {
					peers = append(peers, published[r])
				}
				return peers, nil
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil, errors.ErrNetwork.Newf("waiting for %s peer infos of %s: %v", step, sessionID, ctx.Err())
			}
		}
	}
}

// MemoryExchange is an Exchange for participants living in the same
// process.
type MemoryExchange struct {
	cache *cache.Cache
	mtx   sync.Mutex
}

// NewMemoryExchange returns a MemoryExchange dropping infos after ttl.
func NewMemoryExchange(ttl time.Duration) *MemoryExchange {
	return &MemoryExchange{
		cache: cache.New(ttl, ttl*2),
	}
}

// Publish implements Exchange.
func (m *MemoryExchange) Publish(ctx context.Context, sessionID string, step Stage, role string, info wallet.MultisigInfo) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	key := exchangeKey(sessionID, step)
	infos := make(map[string]wallet.MultisigInfo)
	if v, ok := m.cache.Get(key); ok {
		for r, i := range v.(map[string]wallet.MultisigInfo) {
			infos[r] = i
		}
	}
	infos[role] = info
	m.cache.Set(key, infos, cache.DefaultExpiration)
	return nil
}

// Collect implements Exchange.
func (m *MemoryExchange) Collect(ctx context.Context, sessionID string, step Stage) (map[string]wallet.MultisigInfo, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	infos := make(map[string]wallet.MultisigInfo)
	if v, ok := m.cache.Get(exchangeKey(sessionID, step)); ok {
		for r, i := range v.(map[string]wallet.MultisigInfo) {
			infos[r] = i
		}
	}
	return infos, nil
}

// RedisExchange is an Exchange backed by a redis server, for participants
// running on different hosts. Each session step is stored as a hash of
// role to info.
type RedisExchange struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisExchange connects to the redis server at addr.
func NewRedisExchange(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisExchange, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.ErrNetwork.Newf("redis ping %s: %v", addr, err)
	}
	return &RedisExchange{
		client: client,
		ttl:    ttl,
	}, nil
}

// Publish implements Exchange.
func (r *RedisExchange) Publish(ctx context.Context, sessionID string, step Stage, role string, info wallet.MultisigInfo) error {
	key := exchangeKey(sessionID, step)
	if err := r.client.HSet(ctx, key, role, string(info)).Err(); err != nil {
		return errors.ErrNetwork.Newf("publish %s: %v", key, err)
	}
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return errors.ErrNetwork.Newf("set expiration of %s: %v", key, err)
	}
	return nil
}

// Collect implements Exchange.
func (r *RedisExchange) Collect(ctx context.Context, sessionID string, step Stage) (map[string]wallet.MultisigInfo, error) {
	key := exchangeKey(sessionID, step)
	result, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errors.ErrNetwork.Newf("collect %s: %v", key, err)
	}
	infos := make(map[string]wallet.MultisigInfo, len(result))
	for role, info := range result {
		infos[role] = wallet.MultisigInfo(info)
	}
	return infos, nil
}

// Close closes the redis connection.
func (r *RedisExchange) Close() error {
	return r.client.Close()
}

func exchangeKey(sessionID string, step Stage) string {
	return fmt.Sprintf("xmr-escrow:multisig:%s:%s", sessionID, step)
}
