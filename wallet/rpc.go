package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/cpacia/xmr-escrow/errors"
)

// Daemon refusals. They are all of kind errors.KindWallet.
var (
	ErrAlreadyMultisig = errors.Register(101, errors.KindWallet, "wallet is already multisig")
	ErrNotMultisig     = errors.Register(102, errors.KindWallet, "wallet is not multisig")
	ErrWalletLocked    = errors.Register(103, errors.KindWallet, "wallet is locked")
	ErrWalletBusy      = errors.Register(104, errors.KindWallet, "wallet is busy")
)

// maxResponseSize bounds how much of a daemon response is read.
const maxResponseSize = 10 << 20

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is an error object returned by the daemon.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wallet rpc error %d: %s", e.Code, e.Message)
}

// Unwrap maps the daemon message onto one of the wallet root errors.
func (e *RPCError) Unwrap() error {
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "already") && strings.Contains(msg, "multisig"):
		return ErrAlreadyMultisig
	case strings.Contains(msg, "not multisig"), strings.Contains(msg, "not a multisig"):
		return ErrNotMultisig
	case strings.Contains(msg, "locked"):
		return ErrWalletLocked
	case strings.Contains(msg, "busy"):
		return ErrWalletBusy
	}
	return errors.ErrWallet
}

// call performs one JSON-RPC request. Idempotent requests are retried with
// exponential backoff on transient network errors. A refused connection is
// never retried.
func (c *Client) call(ctx context.Context, method string, params, result interface{}, idempotent bool) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(errors.ErrNetwork, "%s: rate limiter: %s", method, err)
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Wrapf(errors.ErrValidation, "%s: encode request: %s", method, err)
	}

	attempts := 1
	if idempotent {
		attempts = c.attempts
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxInterval = defaultMaxBackoff

	var attempt int
	op := func() error {
		attempt++
		err := c.post(ctx, body, result)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !errors.Is(err, errors.ErrNetwork) {
			return backoff.Permanent(err)
		}
		log.Debugf("%s on %s failed (attempt %d/%d): %s", method, c.endpoint.URL, attempt, attempts, err)
		return err
	}
	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx))
	if err != nil {
		if errors.KindOf(err) == errors.KindUnknown {
			err = errors.Wrap(errors.ErrNetwork, err.Error())
		}
		return errors.Wrap(err, method)
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.URL+"/json_rpc", bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(errors.ErrConfig, "build request: %s", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.endpoint.Username != "" {
		req.SetBasicAuth(c.endpoint.Username, c.endpoint.Password)
	}

	atomic.AddUint64(&c.requests, 1)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return errors.Wrap(errors.ErrRpcUnreachable, c.endpoint.URL)
		}
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return errors.Wrapf(errors.ErrNetwork, "read response: %s", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Wrapf(errors.ErrConfig, "wallet rpc rejected credentials (%d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return errors.Wrapf(errors.ErrNetwork, "wallet rpc returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return errors.Wrapf(errors.ErrWallet, "wallet rpc returned status %d", resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return errors.Wrapf(errors.ErrValidation, "malformed rpc response: %s", err)
	}
	if envelope.Error != nil {
		return errors.Wrap(envelope.Error, "daemon refused request")
	}
	if result == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return errors.Wrap(errors.ErrValidation, "rpc response has no result")
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return errors.Wrapf(errors.ErrValidation, "malformed rpc result: %s", err)
	}
	return nil
}
