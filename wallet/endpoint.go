package wallet

import (
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/cpacia/xmr-escrow/errors"
)

// DefaultTimeout is the per-request timeout used when an endpoint does not
// set one.
const DefaultTimeout = 30 * time.Second

// WalletEndpoint is the location of a wallet daemon together with its
// optional RPC credentials.
//
// Endpoints can only be built with NewEndpoint which refuses any host that
// is not a loopback address or an anonymity-network address. Wallet
// daemons hold spend keys and must never be reachable over the clearnet.
type WalletEndpoint struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration

	host string
}

// NewEndpoint parses and validates rawURL.
func NewEndpoint(rawURL, username, password string, timeout time.Duration) (WalletEndpoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return WalletEndpoint{}, errors.Wrapf(errors.ErrConfig, "invalid wallet url %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return WalletEndpoint{}, errors.Wrapf(errors.ErrConfig, "unsupported wallet url scheme %q", u.Scheme)
	}
	if u.User != nil {
		return WalletEndpoint{}, errors.Wrap(errors.ErrConfig, "credentials must not be embedded in the wallet url")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return WalletEndpoint{}, errors.Wrapf(errors.ErrConfig, "wallet url %q has no host", rawURL)
	}
	if !IsLoopback(host) && !IsAnonymityNetwork(host) {
		return WalletEndpoint{}, errors.Wrapf(errors.ErrConfig, "wallet host %q is neither loopback nor an anonymity network address", host)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return WalletEndpoint{
		URL:      strings.TrimSuffix(u.Scheme+"://"+u.Host+u.Path, "/"),
		Username: username,
		Password: password,
		Timeout:  timeout,
		host:     host,
	}, nil
}

// MustEndpoint is NewEndpoint for trusted, hard coded urls. It panics on
// error.
func MustEndpoint(rawURL string) WalletEndpoint {
	e, err := NewEndpoint(rawURL, "", "", 0)
	if err != nil {
		panic(err)
	}
	return e
}

// Host returns the lower cased host name of the endpoint.
func (e WalletEndpoint) Host() string {
	return e.host
}

// Onion returns whether the endpoint must be dialed through an anonymity
// network proxy.
func (e WalletEndpoint) Onion() bool {
	return IsAnonymityNetwork(e.host)
}

// IsLoopback reports whether host is exactly a loopback address. Hostnames
// which merely contain a loopback string, such as localhost.example.com,
// are rejected.
func IsLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// IsAnonymityNetwork reports whether host is a Tor hidden service or an
// I2P address.
func IsAnonymityNetwork(host string) bool {
	for _, suffix := range []string{".onion", ".i2p"} {
		if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
			label := strings.TrimSuffix(host, suffix)
			if strings.Contains(label, "..") || strings.HasPrefix(label, ".") {
				return false
			}
			return true
		}
	}
	return false
}
