package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/events"
	"github.com/cpacia/xmr-escrow/models"
	"github.com/cpacia/xmr-escrow/repo"
)

func startNotifier(t *testing.T, bus events.Bus, notifier *Notifier) {
	sub, err := bus.Subscribe(&notifierStarted{})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	go notifier.Start()

	select {
	case <-sub.Out():
	case <-time.After(time.Second * 10):
		t.Fatal("Timed out waiting on channel")
	}
}

func TestNotifier(t *testing.T) {
	bus := events.NewBus()
	db, err := repo.MockDB()
	if err != nil {
		t.Fatal(err)
	}
	type delivery struct {
		id     models.EscrowID
		txHash string
	}
	out := make(chan delivery, 1)
	sink := SinkFunc(func(ctx context.Context, id models.EscrowID, txHash string) error {
		out <- delivery{id, txHash}
		return nil
	})

	notifier := NewNotifier(bus, db, sink)
	startNotifier(t, bus, notifier)
	defer notifier.Stop()

	bus.Emit(&events.EscrowCompleted{EscrowID: "abc", TxHash: "deadbeef"})

	select {
	case d := <-out:
		if d.id != "abc" || d.txHash != "deadbeef" {
			t.Errorf("Unexpected delivery %+v", d)
		}
	case <-time.After(time.Second * 10):
		t.Fatal("Timed out waiting on channel")
	}

	// Events other than completions never reach the sink.
	bus.Emit(&events.EscrowStatusChanged{EscrowID: "abc", To: models.StatusRefunded})
	select {
	case d := <-out:
		t.Errorf("Unexpected delivery %+v", d)
	case <-time.After(time.Millisecond * 100):
	}

	var records []models.NotificationRecord
	for i := 0; i < 50; i++ {
		err = db.View(func(tx database.Tx) error {
			return tx.Read().Where("delivered = ?", true).Find(&records).Error
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(records) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 delivered record got %d", len(records))
	}
}

func TestNotifier_RetriesFailedDelivery(t *testing.T) {
	bus := events.NewBus()
	db, err := repo.MockDB()
	if err != nil {
		t.Fatal(err)
	}

	var (
		mtx      sync.Mutex
		attempts int
	)
	delivered := make(chan struct{})
	sink := SinkFunc(func(ctx context.Context, id models.EscrowID, txHash string) error {
		mtx.Lock()
		defer mtx.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("sink offline")
		}
		close(delivered)
		return nil
	})

	notifier := NewNotifier(bus, db, sink)
	notifier.retryInterval = time.Millisecond * 50
	startNotifier(t, bus, notifier)
	defer notifier.Stop()

	bus.Emit(&events.EscrowCompleted{EscrowID: "abc", TxHash: "deadbeef"})

	select {
	case <-delivered:
	case <-time.After(time.Second * 10):
		t.Fatal("Timed out waiting for redelivery")
	}
}

func TestNotifier_SlowSinkDoesNotBlockWriters(t *testing.T) {
	bus := events.NewBus()
	db, err := repo.MockDB()
	if err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	delivered := make(chan models.EscrowID, 64)
	sink := SinkFunc(func(ctx context.Context, id models.EscrowID, txHash string) error {
		<-release
		delivered <- id
		return nil
	})

	notifier := NewNotifier(bus, db, sink)
	startNotifier(t, bus, notifier)
	defer notifier.Stop()

	// Completions are emitted from commit hooks, as escrow updates do.
	const completions = 40
	done := make(chan error, 1)
	go func() {
		for i := 0; i < completions; i++ {
			id := models.EscrowID(fmt.Sprintf("escrow-%d", i))
			err := db.Update(func(tx database.Tx) error {
				tx.RegisterCommitHook(func() {
					bus.Emit(&events.EscrowCompleted{EscrowID: id, TxHash: "deadbeef"})
				})
				return nil
			})
			if err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second * 5):
		t.Fatal("Writers blocked behind the completion sink")
	}

	// The database stays usable while the sink is stuck.
	var records []models.NotificationRecord
	if err := db.View(func(tx database.Tx) error {
		return tx.Read().Find(&records).Error
	}); err != nil {
		t.Fatal(err)
	}

	close(release)
	seen := make(map[models.EscrowID]bool)
	for len(seen) < completions {
		select {
		case id := <-delivered:
			seen[id] = true
		case <-time.After(time.Second * 10):
			t.Fatalf("Expected %d deliveries got %d", completions, len(seen))
		}
	}
}

func TestWebhookSink(t *testing.T) {
	mockedHTTPClient := http.Client{}
	httpmock.ActivateNonDefault(&mockedHTTPClient)
	defer httpmock.DeactivateAndReset()

	var payload webhookPayload
	httpmock.RegisterResponder(http.MethodPost, "http://127.0.0.1:8080/hooks/escrow",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				t.Fatal(err)
			}
			return httpmock.NewStringResponse(http.StatusNoContent, ""), nil
		},
	)

	sink := NewWebhookSink("http://127.0.0.1:8080/hooks/escrow")
	sink.client = &mockedHTTPClient

	if err := sink.EscrowCompleted(context.Background(), "abc", "deadbeef"); err != nil {
		t.Fatal(err)
	}
	if payload.Event != "escrow_completed" || payload.EscrowID != "abc" || payload.TxHash != "deadbeef" {
		t.Errorf("Unexpected payload %+v", payload)
	}

	httpmock.RegisterResponder(http.MethodPost, "http://127.0.0.1:8080/hooks/escrow",
		httpmock.NewStringResponder(http.StatusInternalServerError, "down"))
	if err := sink.EscrowCompleted(context.Background(), "abc", "deadbeef"); err == nil {
		t.Error("Expected error for failed webhook")
	}
}
