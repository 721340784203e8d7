package wallet

import (
	"github.com/btcsuite/btcutil/base58"

	"github.com/cpacia/xmr-escrow/errors"
)

const (
	standardAddressLen   = 95
	integratedAddressLen = 106
)

// ValidateAddress checks that addr has the shape of a Monero standard or
// integrated address. Monero uses the Bitcoin base58 alphabet so any
// character outside of it makes the decoder return nothing.
func ValidateAddress(addr string) error {
	if len(addr) != standardAddressLen && len(addr) != integratedAddressLen {
		return errors.Wrapf(errors.ErrValidation, "address length %d is not a monero address length", len(addr))
	}
	if len(base58.Decode(addr)) == 0 {
		return errors.Wrap(errors.ErrValidation, "address is not base58 encoded")
	}
	return nil
}

// TruncateAddress shortens an address for logging.
func TruncateAddress(addr string) string {
	if len(addr) <= 16 {
		return addr
	}
	return addr[:8] + "..." + addr[len(addr)-8:]
}
