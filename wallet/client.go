// Package wallet implements a typed client for the monero-wallet-rpc
// JSON-RPC interface restricted to the operations needed to set up a
// 2-of-3 multisig wallet and to move funds out of it.
package wallet

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cpacia/proxyclient"
	logging "github.com/op/go-logging"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/cpacia/xmr-escrow/errors"
)

var log = logging.MustGetLogger("WLLT")

const (
	defaultMaxInFlight    = 4
	defaultAttempts       = 3
	defaultRateLimit      = 10
	defaultRateBurst      = 5
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// Client is a handle to a single wallet daemon. It is safe for concurrent
// use. Every request first takes a permit from a bounded semaphore, then
// the endpoint's exclusive token, so at most one request is in flight per
// daemon while the number of queued callers stays bounded.
type Client struct {
	endpoint   WalletEndpoint
	httpClient *http.Client
	sem        *semaphore.Weighted
	token      chan struct{}
	limiter    *rate.Limiter

	attempts       int
	initialBackoff time.Duration
	walletPassword string

	requests uint64
}

type options struct {
	maxInFlight    int64
	attempts       int
	rps            float64
	burst          int
	initialBackoff time.Duration
	httpClient     *http.Client
	dialer         proxy.Dialer
	walletPassword string
	username       string
	password       string
}

// Option configures a Client.
type Option func(o *options) error

// MaxInFlight bounds the number of callers holding or waiting on the
// endpoint's exclusive token.
func MaxInFlight(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.Wrap(errors.ErrConfig, "max in flight must be positive")
		}
		o.maxInFlight = int64(n)
		return nil
	}
}

// Attempts sets the total number of tries, the first one included, made
// for idempotent requests that fail with a transient network error.
func Attempts(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.Wrap(errors.ErrConfig, "attempts must be positive")
		}
		o.attempts = n
		return nil
	}
}

// RateLimit caps the request rate sent to the daemon.
func RateLimit(rps float64, burst int) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return errors.Wrap(errors.ErrConfig, "rate limit must be positive")
		}
		o.rps = rps
		o.burst = burst
		return nil
	}
}

// InitialBackoff sets the first retry delay.
func InitialBackoff(d time.Duration) Option {
	return func(o *options) error {
		o.initialBackoff = d
		return nil
	}
}

// HTTPClient overrides the http client. It is mostly useful in tests.
func HTTPClient(client *http.Client) Option {
	return func(o *options) error {
		o.httpClient = client
		return nil
	}
}

// Dialer sets the proxy dialer used to reach anonymity-network endpoints.
func Dialer(dialer proxy.Dialer) Option {
	return func(o *options) error {
		o.dialer = dialer
		return nil
	}
}

// Credentials sets the RPC login used for endpoints that were built
// without one.
func Credentials(username, password string) Option {
	return func(o *options) error {
		if username == "" && password != "" {
			return errors.Wrap(errors.ErrConfig, "rpc password set without a username")
		}
		o.username = username
		o.password = password
		return nil
	}
}

// WalletPassword sets the password passed to make_multisig.
func WalletPassword(pw string) Option {
	return func(o *options) error {
		o.walletPassword = pw
		return nil
	}
}

// NewClient returns a client for the given endpoint. The endpoint must have
// been built with NewEndpoint.
func NewClient(endpoint WalletEndpoint, opts ...Option) (*Client, error) {
	if endpoint.URL == "" || endpoint.host == "" {
		return nil, errors.Wrap(errors.ErrConfig, "wallet endpoint was not validated")
	}
	o := options{
		maxInFlight:    defaultMaxInFlight,
		attempts:       defaultAttempts,
		rps:            defaultRateLimit,
		burst:          defaultRateBurst,
		initialBackoff: defaultInitialBackoff,
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	if endpoint.Username == "" {
		endpoint.Username, endpoint.Password = o.username, o.password
	}

	httpClient := o.httpClient
	if httpClient == nil {
		switch {
		case !endpoint.Onion():
			httpClient = &http.Client{}
		case o.dialer != nil:
			httpClient = &http.Client{Transport: &http.Transport{Dial: o.dialer.Dial}}
		default:
			// Falls back to the process wide proxy configured with
			// proxyclient.SetProxy.
			httpClient = proxyclient.NewHttpClient()
		}
		httpClient.Timeout = endpoint.Timeout
	}

	return &Client{
		endpoint:       endpoint,
		httpClient:     httpClient,
		sem:            semaphore.NewWeighted(o.maxInFlight),
		token:          make(chan struct{}, 1),
		limiter:        rate.NewLimiter(rate.Limit(o.rps), o.burst),
		attempts:       o.attempts,
		initialBackoff: o.initialBackoff,
		walletPassword: o.walletPassword,
	}, nil
}

// Endpoint returns the endpoint this client talks to.
func (c *Client) Endpoint() WalletEndpoint {
	return c.endpoint
}

// Requests returns the number of HTTP requests sent so far, retries
// included.
func (c *Client) Requests() uint64 {
	return atomic.LoadUint64(&c.requests)
}

// acquire takes a semaphore permit and then the exclusive token. The
// returned func releases both.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, "waiting for wallet permit: "+err.Error())
	}
	select {
	case c.token <- struct{}{}:
	case <-ctx.Done():
		c.sem.Release(1)
		return nil, errors.Wrap(errors.ErrNetwork, "waiting for wallet lock: "+ctx.Err().Error())
	}
	return func() {
		<-c.token
		c.sem.Release(1)
	}, nil
}
