package wallet

// Version is the result of get_version.
type Version struct {
	Version uint32 `json:"version"`
	Release bool   `json:"release"`
}

// Major returns the major RPC version.
func (v Version) Major() uint32 {
	return v.Version >> 16
}

// Balance is the result of get_balance. Amounts are in atomic units.
type Balance struct {
	Balance              uint64 `json:"balance"`
	UnlockedBalance      uint64 `json:"unlocked_balance"`
	MultisigImportNeeded bool   `json:"multisig_import_needed"`
}

// MultisigStatus is the result of is_multisig.
type MultisigStatus struct {
	Multisig  bool   `json:"multisig"`
	Ready     bool   `json:"ready"`
	Threshold uint32 `json:"threshold"`
	Total     uint32 `json:"total"`
}

// MakeMultisigResult is the result of make_multisig. Address is the
// provisional shared address; it is only final once the sync rounds are
// complete.
type MakeMultisigResult struct {
	Address      string       `json:"address"`
	MultisigInfo MultisigInfo `json:"multisig_info"`
}

// Destination is a single transfer output.
type Destination struct {
	Amount  uint64 `json:"amount"`
	Address string `json:"address"`
}

// TransferResult is the result of transfer. Multisig wallets return an
// unsigned MultisigTxSet instead of broadcasting.
type TransferResult struct {
	TxHash        string `json:"tx_hash"`
	Fee           uint64 `json:"fee"`
	Amount        uint64 `json:"amount"`
	MultisigTxSet string `json:"multisig_txset"`
}

// SweepResult is the result of sweep_all.
type SweepResult struct {
	TxHashList    []string `json:"tx_hash_list"`
	AmountList    []uint64 `json:"amount_list"`
	FeeList       []uint64 `json:"fee_list"`
	MultisigTxSet string   `json:"multisig_txset"`
}

// SignResult is the result of sign_multisig.
type SignResult struct {
	TxDataHex  string   `json:"tx_data_hex"`
	TxHashList []string `json:"tx_hash_list"`
}

// Transfer is a wallet transfer entry as returned by get_transfer_by_txid.
type Transfer struct {
	TxID          string `json:"txid"`
	Address       string `json:"address"`
	Amount        uint64 `json:"amount"`
	Fee           uint64 `json:"fee"`
	Confirmations uint64 `json:"confirmations"`
	Height        uint64 `json:"height"`
	Timestamp     int64  `json:"timestamp"`
	Type          string `json:"type"`
}

type getBalanceParams struct {
	AccountIndex uint32 `json:"account_index"`
}

type getAddressParams struct {
	AccountIndex uint32 `json:"account_index"`
}

type getAddressResult struct {
	Address string `json:"address"`
}

type prepareMultisigResult struct {
	MultisigInfo MultisigInfo `json:"multisig_info"`
}

type makeMultisigParams struct {
	MultisigInfo []MultisigInfo `json:"multisig_info"`
	Threshold    int            `json:"threshold"`
	Password     string         `json:"password"`
}

type exportMultisigResult struct {
	Info MultisigInfo `json:"info"`
}

type importMultisigParams struct {
	Info []MultisigInfo `json:"info"`
}

type importMultisigResult struct {
	NOutputs uint64 `json:"n_outputs"`
}

type transferParams struct {
	Destinations []Destination `json:"destinations"`
	AccountIndex uint32        `json:"account_index"`
	Priority     uint32        `json:"priority"`
	GetTxHex     bool          `json:"get_tx_hex"`
}

type sweepAllParams struct {
	Address      string `json:"address"`
	AccountIndex uint32 `json:"account_index"`
	Priority     uint32 `json:"priority"`
}

type txDataParams struct {
	TxDataHex string `json:"tx_data_hex"`
}

type submitMultisigResult struct {
	TxHashList []string `json:"tx_hash_list"`
}

type getTransferParams struct {
	TxID string `json:"txid"`
}

type getTransferResult struct {
	Transfer Transfer `json:"transfer"`
}
