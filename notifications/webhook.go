package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cpacia/proxyclient"

	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/version"
)

// WebhookSink posts completions as JSON to an HTTP endpoint. When a Tor
// proxy is configured the request is routed through it.
type WebhookSink struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	Event    string          `json:"event"`
	EscrowID models.EscrowID `json:"escrowID"`
	TxHash   string          `json:"txHash"`
}

// NewWebhookSink returns a sink posting to url.
func NewWebhookSink(url string) *WebhookSink {
	client := proxyclient.NewHttpClient()
	client.Timeout = time.Minute
	return &WebhookSink{url: url, client: client}
}

// EscrowCompleted posts the completion. Any non 2xx status is an error.
func (w *WebhookSink) EscrowCompleted(ctx context.Context, escrowID models.EscrowID, txHash string) error {
	body, err := json.Marshal(webhookPayload{
		Event:    "escrow_completed",
		EscrowID: escrowID,
		TxHash:   txHash,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent+"/"+version.String())

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
