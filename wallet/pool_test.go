package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/cpacia/xmr-escrow/errors"
)

func TestPool_SharesClients(t *testing.T) {
	pool := NewPool(time.Second)

	a, err := pool.Get("http://127.0.0.1:18083")
	if err != nil {
		t.Fatal(err)
	}
	b, err := pool.Get("http://127.0.0.1:18083/")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("expected the same client for the same url")
	}
	c, err := pool.Get("http://127.0.0.1:18084")
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Error("expected different clients for different urls")
	}
	if pool.Len() != 2 {
		t.Errorf("expected 2 clients, got %d", pool.Len())
	}
}

func TestPool_RejectsClearnet(t *testing.T) {
	pool := NewPool(time.Second)
	if _, err := pool.Get("http://203.0.113.7:18083"); !errors.Is(err, errors.ErrConfig) {
		t.Errorf("expected config error, got %v", err)
	}
	if pool.Len() != 0 {
		t.Error("rejected endpoint was added to the pool")
	}
}

func TestPool_AppliesCredentials(t *testing.T) {
	mockedHTTPClient := &http.Client{}
	httpmock.ActivateNonDefault(mockedHTTPClient)
	defer httpmock.DeactivateAndReset()

	var made map[string]interface{}
	httpmock.RegisterResponder(http.MethodPost, mockURL+"/json_rpc", func(req *http.Request) (*http.Response, error) {
		user, pass, ok := req.BasicAuth()
		if !ok || user != "rpcuser" || pass != "rpcpass" {
			return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
		}
		var request struct {
			Method string                 `json:"method"`
			Params map[string]interface{} `json:"params"`
		}
		if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
			t.Fatal(err)
		}
		if request.Method == "make_multisig" {
			made = request.Params
		}
		return resultResponder(map[string]interface{}{"address": mockAddress("4", "shared"), "multisig_info": ""})(req)
	})

	pool := NewPool(time.Second,
		HTTPClient(mockedHTTPClient),
		Credentials("rpcuser", "rpcpass"),
		WalletPassword("walletpass"),
	)
	client, err := pool.Get(mockURL)
	if err != nil {
		t.Fatal(err)
	}
	if client.Endpoint().Username != "rpcuser" {
		t.Errorf("expected username rpcuser, got %q", client.Endpoint().Username)
	}
	if _, err := client.MakeMultisig(context.Background(), []MultisigInfo{mockInfo("MultisigV1", "a"), mockInfo("MultisigV1", "b")}, 2); err != nil {
		t.Fatal(err)
	}
	if made == nil || made["password"] != "walletpass" {
		t.Errorf("expected the wallet password in make_multisig, got %v", made)
	}
}

func TestPool_RejectsPasswordWithoutUser(t *testing.T) {
	pool := NewPool(time.Second, Credentials("", "rpcpass"))
	if _, err := pool.Get(mockURL); !errors.Is(err, errors.ErrConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}
