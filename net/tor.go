package net

import (
	"github.com/yawning/bulb"
	"golang.org/x/net/proxy"

	"github.com/cpacia/xmr-escrow/errors"
)

// Socks5ProxyAddress returns the address of the Tor socks5 proxy. If
// a config address is passed in it will try that address. Otherwise it
// will try to connect to the proxy on the default addresses for the Tor
// browser and Tor daemon.
func Socks5ProxyAddress(cfgAddr string) (string, error) {
	candidates := []string{"127.0.0.1:9150", "127.0.0.1:9050"}
	if cfgAddr != "" {
		candidates = []string{cfgAddr}
	}
	for _, addr := range candidates {
		conn, err := bulb.Dial("tcp4", addr)
		if err != nil {
			continue
		}
		conn.Close()
		return addr, nil
	}
	return "", errors.ErrRpcUnreachable.Newf("tor socks5 proxy unavailable at %v", candidates)
}

// NewTorDialer returns a dialer that routes connections through the Tor
// socks5 proxy. Wallet daemons behind a hidden service are reached with
// it.
func NewTorDialer(cfgAddr string) (proxy.Dialer, error) {
	addr, err := Socks5ProxyAddress(cfgAddr)
	if err != nil {
		return nil, err
	}
	return proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
}
