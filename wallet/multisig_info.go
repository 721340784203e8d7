package wallet

import (
	"strings"

	"github.com/cpacia/xmr-escrow/errors"
)

const (
	// MinMultisigInfoLen is the shortest MultisigInfo the daemon produces.
	MinMultisigInfoLen = 100

	// MaxMultisigInfoLen bounds the size of an info blob accepted from a
	// peer.
	MaxMultisigInfoLen = 5000
)

// multisigInfoPrefixes are the version tags emitted by monero-wallet-rpc.
var multisigInfoPrefixes = []string{"MultisigxV2", "MultisigxV1", "MultisigV1"}

// MultisigInfo is an opaque key-exchange blob produced by one wallet
// daemon and consumed by the others.
type MultisigInfo string

// Validate checks the shape of the info. It does not make any network
// call.
func (m MultisigInfo) Validate() error {
	s := string(m)
	if len(s) < MinMultisigInfoLen || len(s) > MaxMultisigInfoLen {
		return errors.Wrapf(errors.ErrValidation, "multisig info length %d outside [%d, %d]", len(s), MinMultisigInfoLen, MaxMultisigInfoLen)
	}
	var prefixed bool
	for _, p := range multisigInfoPrefixes {
		if strings.HasPrefix(s, p) {
			prefixed = true
			break
		}
	}
	if !prefixed {
		return errors.Wrap(errors.ErrValidation, "multisig info has an unknown version tag")
	}
	for i := 0; i < len(s); i++ {
		if !isAlphanumeric(s[i]) {
			return errors.Wrapf(errors.ErrValidation, "multisig info contains invalid character at offset %d", i)
		}
	}
	return nil
}

// String returns a truncated form suitable for logs.
func (m MultisigInfo) String() string {
	if len(m) <= 24 {
		return string(m)
	}
	return string(m[:16]) + "..." + string(m[len(m)-4:])
}

// ValidateMultisigInfos validates a set of peer infos. At least min infos
// are required and no info may appear twice.
func ValidateMultisigInfos(infos []MultisigInfo, min int) error {
	if len(infos) < min {
		return errors.Wrapf(errors.ErrValidation, "need at least %d multisig infos, got %d", min, len(infos))
	}
	seen := make(map[MultisigInfo]bool, len(infos))
	for i, info := range infos {
		if err := info.Validate(); err != nil {
			return errors.Wrapf(err, "multisig info %d", i)
		}
		if seen[info] {
			return errors.Wrapf(errors.ErrValidation, "duplicate multisig info %d", i)
		}
		seen[info] = true
	}
	return nil
}

func isAlphanumeric(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
