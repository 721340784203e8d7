package wallet

import (
	"sync"
	"time"
)

// Pool hands out one shared Client per wallet daemon url. It is created
// once at startup and passed by reference to everything that needs to
// talk to a daemon so the per-endpoint serialization holds process wide.
type Pool struct {
	mtx     sync.Mutex
	clients map[string]*Client
	timeout time.Duration
	opts    []Option
}

// NewPool returns an empty pool. The options are applied to every client
// the pool builds.
func NewPool(timeout time.Duration, opts ...Option) *Pool {
	return &Pool{
		clients: make(map[string]*Client),
		timeout: timeout,
		opts:    opts,
	}
}

// Get returns the client for rawURL, building it on first use. The client
// logs in with the credentials given to the pool's Credentials option.
func (p *Pool) Get(rawURL string) (*Client, error) {
	endpoint, err := NewEndpoint(rawURL, "", "", p.timeout)
	if err != nil {
		return nil, err
	}
	return p.Add(endpoint)
}

// Add registers an endpoint that carries credentials. If a client for the
// same url already exists it is returned unchanged.
func (p *Pool) Add(endpoint WalletEndpoint) (*Client, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if c, ok := p.clients[endpoint.URL]; ok {
		return c, nil
	}
	c, err := NewClient(endpoint, p.opts...)
	if err != nil {
		return nil, err
	}
	p.clients[endpoint.URL] = c
	return c, nil
}

// Len returns the number of clients in the pool.
func (p *Pool) Len() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.clients)
}
