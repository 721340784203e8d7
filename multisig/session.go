package multisig

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/cpacia/xmr-escrow/errors"
	"github.com/cpacia/xmr-escrow/wallet"
)

const (
	// Threshold is the number of signatures required to spend.
	Threshold = 2

	// Participants is the number of wallets in the shared address.
	Participants = 3

	// SyncRounds is the number of export/import rounds run after
	// make_multisig before the wallet is ready to sign.
	SyncRounds = 2
)

// Stage is the position of a participant in the setup handshake. Stages
// only move forward.
type Stage int

const (
	Uninitialized Stage = iota
	Prepared
	Made
	SyncRound1
	SyncRound2
	Finalized
)

var stageNames = map[Stage]string{
	Uninitialized: "uninitialized",
	Prepared:      "prepared",
	Made:          "made",
	SyncRound1:    "sync_round_1",
	SyncRound2:    "sync_round_2",
	Finalized:     "finalized",
}

// String returns the persisted name of the stage.
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStage is the inverse of Stage.String. The empty string is
// Uninitialized.
func ParseStage(s string) (Stage, error) {
	if s == "" {
		return Uninitialized, nil
	}
	for stage, name := range stageNames {
		if name == s {
			return stage, nil
		}
	}
	return Uninitialized, errors.Wrapf(errors.ErrValidation, "unknown multisig stage %q", s)
}

// syncStage returns the stage reached after completing round i.
func syncStage(i int) Stage {
	return SyncRound1 + Stage(i)
}

// Round is the record of one export/import sync round.
type Round struct {
	Exported   wallet.MultisigInfo   `json:"exported"`
	Imported   []wallet.MultisigInfo `json:"imported"`
	PeerDigest string                `json:"peerDigest"`
	Outputs    uint64                `json:"outputs"`
}

// Session is the setup state of one participant's wallet.
type Session struct {
	ID   string
	Role string

	Stage        Stage
	Threshold    int
	Participants int

	PrepareInfo wallet.MultisigInfo
	MakeInfo    wallet.MultisigInfo
	MakeDigest  string

	Rounds [SyncRounds]Round

	// Address is the provisional shared address returned by
	// make_multisig. It is confirmed by Finalize.
	Address string
}

// NewSession returns a fresh 2-of-3 session.
func NewSession(id, role string) *Session {
	return &Session{
		ID:           id,
		Role:         role,
		Stage:        Uninitialized,
		Threshold:    Threshold,
		Participants: Participants,
	}
}

// Finalized returns whether the session reached its final stage.
func (s *Session) Finalized() bool {
	return s.Stage == Finalized
}

// PeerDigest returns a digest of the given peer infos which does not depend
// on their order.
func PeerDigest(infos []wallet.MultisigInfo) string {
	sorted := make([]string, len(infos))
	for i, info := range infos {
		sorted[i] = string(info)
	}
	sort.Strings(sorted)
	h := blake2b.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(h[:])
}

// validatePeers checks the peer infos handed to a step before anything is
// sent to the daemon.
func validatePeers(peers []wallet.MultisigInfo, own wallet.MultisigInfo) error {
	if err := wallet.ValidateMultisigInfos(peers, wallet.MinPeerInfos); err != nil {
		return err
	}
	for _, p := range peers {
		if p == own {
			return errors.Wrap(errors.ErrValidation, "own multisig info returned as peer info")
		}
	}
	return nil
}
