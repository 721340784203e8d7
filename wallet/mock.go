package wallet

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcutil/base58"
)

// MockFee is the fee charged by every mock transaction.
const MockFee = 30000000

// MockUnlockBlocks is the number of confirmations after which received
// funds count towards a mock wallet's unlocked balance.
const MockUnlockBlocks = 10

// MockNetwork is a ledger shared by a set of mock wallet daemons. Funds
// sent by one daemon show up in the balance of whichever daemon owns the
// destination address, including every member of a multisig group.
type MockNetwork struct {
	mtx      sync.Mutex
	balances map[string]uint64
	txs      map[string]*mockTx
	txsets   map[string]*mockTxSet
	nonce    uint64
}

type mockTx struct {
	address       string
	amount        uint64
	confirmations uint64
}

type mockTxSet struct {
	source    string
	dest      []Destination
	signers   map[string]bool
	submitted bool
	txid      string
}

// NewMockNetwork returns an empty ledger.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{
		balances: make(map[string]uint64),
		txs:      make(map[string]*mockTx),
		txsets:   make(map[string]*mockTxSet),
	}
}

// Fund credits address with amount out of thin air.
func (n *MockNetwork) Fund(address string, amount uint64) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.balances[address] += amount
}

// Balance returns the balance of address.
func (n *MockNetwork) Balance(address string) uint64 {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.balances[address]
}

// unlocked returns the part of address's balance that is not held by a
// transaction with fewer than MockUnlockBlocks confirmations. The caller
// must hold n.mtx.
func (n *MockNetwork) unlocked(address string) uint64 {
	var locked uint64
	for _, tx := range n.txs {
		if tx.address == address && tx.confirmations < MockUnlockBlocks {
			locked += tx.amount
		}
	}
	if locked >= n.balances[address] {
		return 0
	}
	return n.balances[address] - locked
}

// Mine adds confirmations to every known transaction.
func (n *MockNetwork) Mine(blocks uint64) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	for _, tx := range n.txs {
		tx.confirmations += blocks
	}
}

func (n *MockNetwork) nextID(prefix string) string {
	n.nonce++
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n.nonce)
	h := sha256.Sum256(append([]byte(prefix), b...))
	return hex.EncodeToString(h[:])
}

// MockDaemon is an in-process stand-in for monero-wallet-rpc. It listens
// on a loopback httptest server so it passes endpoint validation.
type MockDaemon struct {
	Name string

	// Delay is slept before every response.
	Delay time.Duration

	net    *MockNetwork
	server *httptest.Server

	mtx           sync.Mutex
	address       string
	prepareInfo   MultisigInfo
	multisig      bool
	imports       int
	sharedAddress string
	calls         map[string]int
	failures      map[string]*RPCError

	inflight    int32
	maxInflight int32
}

// NewDaemon starts a mock daemon attached to the network.
func (n *MockNetwork) NewDaemon(name string) *MockDaemon {
	d := &MockDaemon{
		Name:        name,
		net:         n,
		address:     mockAddress("4", "personal:"+name),
		prepareInfo: mockInfo("MultisigV1", "prepare:"+name),
		calls:       make(map[string]int),
		failures:    make(map[string]*RPCError),
	}
	d.server = httptest.NewServer(http.HandlerFunc(d.serveHTTP))
	return d
}

// URL returns the daemon base url.
func (d *MockDaemon) URL() string {
	return d.server.URL
}

// Close shuts the daemon down. Subsequent requests are refused.
func (d *MockDaemon) Close() {
	d.server.Close()
}

// Address returns the daemon's personal (non multisig) address.
func (d *MockDaemon) Address() string {
	return d.address
}

// SharedAddress returns the multisig address or an empty string.
func (d *MockDaemon) SharedAddress() string {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.sharedAddress
}

// Calls returns how many times method was requested.
func (d *MockDaemon) Calls(method string) int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.calls[method]
}

// TotalCalls returns the number of requests served.
func (d *MockDaemon) TotalCalls() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	var total int
	for _, n := range d.calls {
		total += n
	}
	return total
}

// MaxConcurrent returns the highest number of requests that were ever
// being served at the same time.
func (d *MockDaemon) MaxConcurrent() int {
	return int(atomic.LoadInt32(&d.maxInflight))
}

// FailNext makes the next call to method return the given daemon error.
func (d *MockDaemon) FailNext(method string, code int, message string) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.failures[method] = &RPCError{Code: code, Message: message}
}

// ForceSharedAddress overrides the multisig address reported by the
// daemon. It simulates a participant whose setup diverged.
func (d *MockDaemon) ForceSharedAddress(addr string) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.sharedAddress = addr
}

func (d *MockDaemon) serveHTTP(w http.ResponseWriter, r *http.Request) {
	n := atomic.AddInt32(&d.inflight, 1)
	defer atomic.AddInt32(&d.inflight, -1)
	for {
		max := atomic.LoadInt32(&d.maxInflight)
		if n <= max || atomic.CompareAndSwapInt32(&d.maxInflight, max, n) {
			break
		}
	}
	if d.Delay > 0 {
		time.Sleep(d.Delay)
	}

	var req struct {
		ID     string          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if r.URL.Path != "/json_rpc" {
		http.NotFound(w, r)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d.mtx.Lock()
	d.calls[req.Method]++
	failure := d.failures[req.Method]
	delete(d.failures, req.Method)
	d.mtx.Unlock()

	var (
		result interface{}
		rpcErr *RPCError
	)
	if failure != nil {
		rpcErr = failure
	} else {
		result, rpcErr = d.dispatch(req.Method, req.Params)
	}

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (d *MockDaemon) dispatch(method string, raw json.RawMessage) (interface{}, *RPCError) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	switch method {
	case "get_version":
		return Version{Version: 1<<16 | 26, Release: true}, nil
	case "get_address":
		return getAddressResult{Address: d.currentAddress()}, nil
	case "get_balance":
		d.net.mtx.Lock()
		defer d.net.mtx.Unlock()
		addr := d.currentAddress()
		return Balance{Balance: d.net.balances[addr], UnlockedBalance: d.net.unlocked(addr)}, nil
	case "is_multisig":
		if !d.multisig {
			return MultisigStatus{}, nil
		}
		return MultisigStatus{Multisig: true, Ready: d.imports >= 2, Threshold: 2, Total: 3}, nil
	case "prepare_multisig":
		if d.multisig {
			return nil, &RPCError{Code: -1, Message: "This wallet is already multisig"}
		}
		return prepareMultisigResult{MultisigInfo: d.prepareInfo}, nil
	case "make_multisig":
		return d.makeMultisig(raw)
	case "export_multisig_info":
		if !d.multisig {
			return nil, &RPCError{Code: -1, Message: "This wallet is not multisig"}
		}
		return exportMultisigResult{Info: mockInfo("MultisigxV2", fmt.Sprintf("export:%s:%d", d.Name, d.imports))}, nil
	case "import_multisig_info":
		var p importMultisigParams
		if err := json.Unmarshal(raw, &p); err != nil || len(p.Info) == 0 {
			return nil, &RPCError{Code: -32602, Message: "invalid params"}
		}
		if !d.multisig {
			return nil, &RPCError{Code: -1, Message: "This wallet is not multisig"}
		}
		d.imports++
		var outputs uint64
		if d.net.Balance(d.sharedAddress) > 0 {
			outputs = 1
		}
		return importMultisigResult{NOutputs: outputs}, nil
	case "transfer":
		var p transferParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &RPCError{Code: -32602, Message: "invalid params"}
		}
		return d.transfer(p.Destinations)
	case "sweep_all":
		var p sweepAllParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &RPCError{Code: -32602, Message: "invalid params"}
		}
		return d.sweep(p.Address)
	case "sign_multisig":
		var p txDataParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &RPCError{Code: -32602, Message: "invalid params"}
		}
		return d.sign(p.TxDataHex)
	case "submit_multisig":
		var p txDataParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &RPCError{Code: -32602, Message: "invalid params"}
		}
		return d.submit(p.TxDataHex)
	case "get_transfer_by_txid":
		var p getTransferParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &RPCError{Code: -32602, Message: "invalid params"}
		}
		d.net.mtx.Lock()
		defer d.net.mtx.Unlock()
		tx, ok := d.net.txs[p.TxID]
		if !ok {
			return nil, &RPCError{Code: -8, Message: "Transaction not found."}
		}
		return getTransferResult{Transfer: Transfer{
			TxID:          p.TxID,
			Address:       tx.address,
			Amount:        tx.amount,
			Fee:           MockFee,
			Confirmations: tx.confirmations,
			Type:          "in",
		}}, nil
	}
	return nil, &RPCError{Code: -32601, Message: "Method not found"}
}

func (d *MockDaemon) currentAddress() string {
	if d.multisig {
		return d.sharedAddress
	}
	return d.address
}

func (d *MockDaemon) makeMultisig(raw json.RawMessage) (interface{}, *RPCError) {
	var p makeMultisigParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &RPCError{Code: -32602, Message: "invalid params"}
	}
	if d.multisig {
		return nil, &RPCError{Code: -1, Message: "This wallet is already multisig"}
	}
	if p.Threshold != 2 || len(p.MultisigInfo) != 2 {
		return nil, &RPCError{Code: -1, Message: "Unsupported multisig scheme"}
	}
	members := []string{string(d.prepareInfo)}
	for _, info := range p.MultisigInfo {
		if info == d.prepareInfo {
			return nil, &RPCError{Code: -1, Message: "Own multisig info passed as peer"}
		}
		members = append(members, string(info))
	}
	sort.Strings(members)
	d.multisig = true
	d.sharedAddress = mockAddress("5", "shared:"+strings.Join(members, ","))
	return MakeMultisigResult{
		Address:      d.sharedAddress,
		MultisigInfo: mockInfo("MultisigxV1", "make:"+d.Name),
	}, nil
}

func (d *MockDaemon) transfer(dests []Destination) (interface{}, *RPCError) {
	var total uint64
	for _, dest := range dests {
		total += dest.Amount
	}
	d.net.mtx.Lock()
	defer d.net.mtx.Unlock()

	src := d.currentAddress()
	if d.net.balances[src] < total+MockFee {
		return nil, &RPCError{Code: -4, Message: "not enough money"}
	}
	if d.multisig {
		if d.imports < 2 {
			return nil, &RPCError{Code: -4, Message: "This multisig wallet is not yet finalized"}
		}
		id := d.net.nextID("txset")
		d.net.txsets[id] = &mockTxSet{source: src, dest: dests, signers: map[string]bool{d.Name: true}}
		return TransferResult{Amount: total, Fee: MockFee, MultisigTxSet: id}, nil
	}
	txid := d.net.nextID("tx")
	d.net.balances[src] -= total + MockFee
	for _, dest := range dests {
		d.net.balances[dest.Address] += dest.Amount
		d.net.txs[txid] = &mockTx{address: dest.Address, amount: dest.Amount}
	}
	return TransferResult{TxHash: txid, Amount: total, Fee: MockFee}, nil
}

func (d *MockDaemon) sweep(address string) (interface{}, *RPCError) {
	d.net.mtx.Lock()
	bal := d.net.balances[d.currentAddress()]
	d.net.mtx.Unlock()
	if bal <= MockFee {
		return nil, &RPCError{Code: -4, Message: "No unlocked balance in the specified account"}
	}
	r, rpcErr := d.transfer([]Destination{{Address: address, Amount: bal - MockFee}})
	if rpcErr != nil {
		return nil, rpcErr
	}
	tr := r.(TransferResult)
	res := SweepResult{AmountList: []uint64{tr.Amount}, FeeList: []uint64{tr.Fee}, MultisigTxSet: tr.MultisigTxSet}
	if tr.TxHash != "" {
		res.TxHashList = []string{tr.TxHash}
	}
	return res, nil
}

func (d *MockDaemon) sign(txData string) (interface{}, *RPCError) {
	if !d.multisig || d.imports < 2 {
		return nil, &RPCError{Code: -1, Message: "This wallet is not multisig"}
	}
	d.net.mtx.Lock()
	defer d.net.mtx.Unlock()
	set, ok := d.net.txsets[txData]
	if !ok {
		return nil, &RPCError{Code: -29, Message: "Failed to parse multisig tx data"}
	}
	if set.source != d.sharedAddress {
		return nil, &RPCError{Code: -29, Message: "Multisig tx data belongs to another wallet"}
	}
	set.signers[d.Name] = true
	if set.txid == "" {
		set.txid = d.net.nextID("tx")
	}
	return SignResult{TxDataHex: txData, TxHashList: []string{set.txid}}, nil
}

func (d *MockDaemon) submit(txData string) (interface{}, *RPCError) {
	d.net.mtx.Lock()
	defer d.net.mtx.Unlock()
	set, ok := d.net.txsets[txData]
	if !ok {
		return nil, &RPCError{Code: -29, Message: "Failed to parse multisig tx data"}
	}
	if len(set.signers) < 2 {
		return nil, &RPCError{Code: -30, Message: "Not enough signers"}
	}
	if set.submitted {
		return nil, &RPCError{Code: -30, Message: "Transaction was already submitted"}
	}
	var total uint64
	for _, dest := range set.dest {
		total += dest.Amount
	}
	if d.net.balances[set.source] < total+MockFee {
		return nil, &RPCError{Code: -4, Message: "double spend"}
	}
	d.net.balances[set.source] -= total + MockFee
	for _, dest := range set.dest {
		d.net.balances[dest.Address] += dest.Amount
		d.net.txs[set.txid] = &mockTx{address: dest.Address, amount: dest.Amount}
	}
	set.submitted = true
	return submitMultisigResult{TxHashList: []string{set.txid}}, nil
}

// mockAddress derives a 95 character base58 address from seed.
func mockAddress(prefix, seed string) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	h := sha256.Sum256([]byte(seed))
	for sb.Len() < standardAddressLen {
		h = sha256.Sum256(h[:])
		sb.WriteString(base58.Encode(h[:]))
	}
	return sb.String()[:standardAddressLen]
}

// mockInfo derives a MultisigInfo of realistic size from seed.
func mockInfo(prefix, seed string) MultisigInfo {
	var sb strings.Builder
	sb.WriteString(prefix)
	h := sha256.Sum256([]byte(seed))
	for sb.Len() < 2*MinMultisigInfoLen {
		h = sha256.Sum256(h[:])
		sb.WriteString(hex.EncodeToString(h[:]))
	}
	return MultisigInfo(sb.String())
}
