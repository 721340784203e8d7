package wallet

import (
	"context"
	"encoding/hex"

	"github.com/cpacia/xmr-escrow/errors"
)

const (
	// MinThreshold is the smallest signing threshold accepted by
	// make_multisig.
	MinThreshold = 2

	// MinPeerInfos is the number of peer infos required by make_multisig
	// and import_multisig_info in a three party setup.
	MinPeerInfos = 2

	txHashLen = 64
)

// GetVersion returns the daemon RPC version.
func (c *Client) GetVersion(ctx context.Context) (Version, error) {
	var v Version
	if err := c.call(ctx, "get_version", nil, &v, true); err != nil {
		return Version{}, err
	}
	if v.Version == 0 {
		return Version{}, errors.Wrap(errors.ErrValidation, "get_version: daemon returned version 0")
	}
	return v, nil
}

// GetBalance returns the balance of the given account.
func (c *Client) GetBalance(ctx context.Context, accountIndex uint32) (Balance, error) {
	var b Balance
	if err := c.call(ctx, "get_balance", getBalanceParams{AccountIndex: accountIndex}, &b, true); err != nil {
		return Balance{}, err
	}
	if b.UnlockedBalance > b.Balance {
		return Balance{}, errors.Wrap(errors.ErrValidation, "get_balance: unlocked balance exceeds balance")
	}
	return b, nil
}

// GetAddress returns the primary address of account 0. For a finalized
// multisig wallet this is the shared address.
func (c *Client) GetAddress(ctx context.Context) (string, error) {
	var r getAddressResult
	if err := c.call(ctx, "get_address", getAddressParams{}, &r, true); err != nil {
		return "", err
	}
	if err := ValidateAddress(r.Address); err != nil {
		return "", errors.Wrap(err, "get_address")
	}
	return r.Address, nil
}

// IsMultisig reports the multisig status of the wallet.
func (c *Client) IsMultisig(ctx context.Context) (MultisigStatus, error) {
	var s MultisigStatus
	if err := c.call(ctx, "is_multisig", nil, &s, true); err != nil {
		return MultisigStatus{}, err
	}
	if s.Multisig && (s.Threshold < MinThreshold || s.Total < s.Threshold) {
		return MultisigStatus{}, errors.Wrapf(errors.ErrValidation, "is_multisig: inconsistent %d-of-%d", s.Threshold, s.Total)
	}
	return s, nil
}

// PrepareMultisig returns this wallet's first round MultisigInfo.
func (c *Client) PrepareMultisig(ctx context.Context) (MultisigInfo, error) {
	var r prepareMultisigResult
	if err := c.call(ctx, "prepare_multisig", nil, &r, true); err != nil {
		return "", err
	}
	if err := r.MultisigInfo.Validate(); err != nil {
		return "", errors.Wrap(err, "prepare_multisig")
	}
	return r.MultisigInfo, nil
}

// MakeMultisig turns the wallet into a threshold multisig wallet using the
// peers' prepare infos.
func (c *Client) MakeMultisig(ctx context.Context, infos []MultisigInfo, threshold int) (MakeMultisigResult, error) {
	if threshold < MinThreshold {
		return MakeMultisigResult{}, errors.Wrapf(errors.ErrValidation, "make_multisig: threshold %d below %d", threshold, MinThreshold)
	}
	if err := ValidateMultisigInfos(infos, MinPeerInfos); err != nil {
		return MakeMultisigResult{}, errors.Wrap(err, "make_multisig")
	}
	params := makeMultisigParams{
		MultisigInfo: infos,
		Threshold:    threshold,
		Password:     c.walletPassword,
	}
	var r MakeMultisigResult
	if err := c.call(ctx, "make_multisig", params, &r, false); err != nil {
		return MakeMultisigResult{}, err
	}
	if err := ValidateAddress(r.Address); err != nil {
		return MakeMultisigResult{}, errors.Wrap(err, "make_multisig")
	}
	if r.MultisigInfo != "" {
		if err := r.MultisigInfo.Validate(); err != nil {
			return MakeMultisigResult{}, errors.Wrap(err, "make_multisig")
		}
	}
	return r, nil
}

// ExportMultisigInfo returns this wallet's sync info for the other
// signers.
func (c *Client) ExportMultisigInfo(ctx context.Context) (MultisigInfo, error) {
	var r exportMultisigResult
	if err := c.call(ctx, "export_multisig_info", nil, &r, true); err != nil {
		return "", err
	}
	if err := r.Info.Validate(); err != nil {
		return "", errors.Wrap(err, "export_multisig_info")
	}
	return r.Info, nil
}

// ImportMultisigInfo imports the peers' sync infos and returns the number
// of outputs the wallet now knows about.
func (c *Client) ImportMultisigInfo(ctx context.Context, infos []MultisigInfo) (uint64, error) {
	if err := ValidateMultisigInfos(infos, MinPeerInfos); err != nil {
		return 0, errors.Wrap(err, "import_multisig_info")
	}
	var r importMultisigResult
	if err := c.call(ctx, "import_multisig_info", importMultisigParams{Info: infos}, &r, true); err != nil {
		return 0, err
	}
	return r.NOutputs, nil
}

// Transfer sends to the given destinations from account 0. On a multisig
// wallet the result carries an unsigned MultisigTxSet and nothing is
// broadcast.
func (c *Client) Transfer(ctx context.Context, destinations []Destination) (TransferResult, error) {
	if len(destinations) == 0 {
		return TransferResult{}, errors.Wrap(errors.ErrValidation, "transfer: no destinations")
	}
	for i, d := range destinations {
		if d.Amount == 0 {
			return TransferResult{}, errors.Wrapf(errors.ErrValidation, "transfer: destination %d has zero amount", i)
		}
		if err := ValidateAddress(d.Address); err != nil {
			return TransferResult{}, errors.Wrapf(err, "transfer: destination %d", i)
		}
	}
	var r TransferResult
	if err := c.call(ctx, "transfer", transferParams{Destinations: destinations}, &r, false); err != nil {
		return TransferResult{}, err
	}
	if r.MultisigTxSet == "" {
		if err := validateTxHash(r.TxHash); err != nil {
			return TransferResult{}, errors.Wrap(err, "transfer")
		}
	}
	return r, nil
}

// SweepAll sends the whole unlocked balance of account 0 to address.
func (c *Client) SweepAll(ctx context.Context, address string) (SweepResult, error) {
	if err := ValidateAddress(address); err != nil {
		return SweepResult{}, errors.Wrap(err, "sweep_all")
	}
	var r SweepResult
	if err := c.call(ctx, "sweep_all", sweepAllParams{Address: address}, &r, false); err != nil {
		return SweepResult{}, err
	}
	if r.MultisigTxSet == "" && len(r.TxHashList) == 0 {
		return SweepResult{}, errors.Wrap(errors.ErrValidation, "sweep_all: daemon returned neither a txset nor tx hashes")
	}
	return r, nil
}

// SignMultisig adds this wallet's signature to a multisig txset.
func (c *Client) SignMultisig(ctx context.Context, txData string) (SignResult, error) {
	if err := validateTxData(txData); err != nil {
		return SignResult{}, errors.Wrap(err, "sign_multisig")
	}
	var r SignResult
	if err := c.call(ctx, "sign_multisig", txDataParams{TxDataHex: txData}, &r, false); err != nil {
		return SignResult{}, err
	}
	if err := validateTxData(r.TxDataHex); err != nil {
		return SignResult{}, errors.Wrap(err, "sign_multisig")
	}
	return r, nil
}

// SubmitMultisig broadcasts a fully signed multisig txset and returns the
// resulting transaction hashes.
func (c *Client) SubmitMultisig(ctx context.Context, txData string) ([]string, error) {
	if err := validateTxData(txData); err != nil {
		return nil, errors.Wrap(err, "submit_multisig")
	}
	var r submitMultisigResult
	if err := c.call(ctx, "submit_multisig", txDataParams{TxDataHex: txData}, &r, false); err != nil {
		return nil, err
	}
	if len(r.TxHashList) == 0 {
		return nil, errors.Wrap(errors.ErrValidation, "submit_multisig: no transaction hashes returned")
	}
	for _, h := range r.TxHashList {
		if err := validateTxHash(h); err != nil {
			return nil, errors.Wrap(err, "submit_multisig")
		}
	}
	return r.TxHashList, nil
}

// GetTransferByTxID looks up a transfer involving this wallet.
func (c *Client) GetTransferByTxID(ctx context.Context, txid string) (Transfer, error) {
	if err := validateTxHash(txid); err != nil {
		return Transfer{}, errors.Wrap(err, "get_transfer_by_txid")
	}
	var r getTransferResult
	if err := c.call(ctx, "get_transfer_by_txid", getTransferParams{TxID: txid}, &r, true); err != nil {
		return Transfer{}, err
	}
	return r.Transfer, nil
}

func validateTxHash(h string) error {
	if len(h) != txHashLen {
		return errors.Wrapf(errors.ErrValidation, "tx hash has length %d", len(h))
	}
	if _, err := hex.DecodeString(h); err != nil {
		return errors.Wrap(errors.ErrValidation, "tx hash is not hex")
	}
	return nil
}

func validateTxData(data string) error {
	if data == "" {
		return errors.Wrap(errors.ErrValidation, "empty tx data")
	}
	if len(data)%2 != 0 {
		return errors.Wrap(errors.ErrValidation, "tx data has odd length")
	}
	if _, err := hex.DecodeString(data); err != nil {
		return errors.Wrap(errors.ErrValidation, "tx data is not hex")
	}
	return nil
}
