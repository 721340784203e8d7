package notifications

import (
	"context"
	"sync"
	"time"

	logging "github.com/op/go-logging"

	"github.com/cpacia/xmr-escrow/database"
	"github.com/cpacia/xmr-escrow/events"
	"github.com/cpacia/xmr-escrow/models"
)

var log = logging.MustGetLogger("NOTF")

const (
	defaultRetryInterval = time.Minute
	maxDeliveryAttempts  = 10
	deliveryTimeout      = 30 * time.Second
)

// CompletionSink receives escrow_completed notifications. It is the only
// interface through which completed escrows leave this process; the
// reputation subsystem subscribes to it.
type CompletionSink interface {
	EscrowCompleted(ctx context.Context, escrowID models.EscrowID, txHash string) error
}

// SinkFunc adapts a function to the CompletionSink interface.
type SinkFunc func(ctx context.Context, escrowID models.EscrowID, txHash string) error

// EscrowCompleted calls f.
func (f SinkFunc) EscrowCompleted(ctx context.Context, escrowID models.EscrowID, txHash string) error {
	return f(ctx, escrowID, txHash)
}

// notifierStarted is emitted once the notifier has subscribed to the bus.
type notifierStarted struct{}

// Notifier forwards EscrowCompleted events to the completion sink. Every
// completion is first persisted as a NotificationRecord so deliveries that
// fail are retried until they succeed or run out of attempts.
//
// The bus subscription only queues events. Persisting and delivering
// happen on a separate worker so a slow sink never stalls the emitter.
type Notifier struct {
	sink          CompletionSink
	bus           events.Bus
	db            database.Database
	retryInterval time.Duration

	mtx     sync.Mutex
	pending []*events.EscrowCompleted
	wake    chan struct{}

	shutdown chan struct{}
}

// NewNotifier returns a new notifier.
func NewNotifier(bus events.Bus, db database.Database, sink CompletionSink) *Notifier {
	return &Notifier{
		sink:          sink,
		bus:           bus,
		db:            db,
		retryInterval: defaultRetryInterval,
		wake:          make(chan struct{}, 1),
		shutdown:      make(chan struct{}),
	}
}

// Start will start up the notifier. This should use its own goroutine.
func (n *Notifier) Start() {
	sub, err := n.bus.Subscribe(&events.EscrowCompleted{})
	if err != nil {
		log.Errorf("Error subscribing to events: %s", err)
		return
	}
	defer sub.Close()

	go n.worker()

	n.bus.Emit(&notifierStarted{})

	for {
		select {
		case event := <-sub.Out():
			n.enqueue(event.(*events.EscrowCompleted))
		case <-n.shutdown:
			return
		}
	}
}

func (n *Notifier) enqueue(completed *events.EscrowCompleted) {
	n.mtx.Lock()
	n.pending = append(n.pending, completed)
	n.mtx.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *Notifier) dequeue() []*events.EscrowCompleted {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	queued := n.pending
	n.pending = nil
	return queued
}

func (n *Notifier) worker() {
	ticker := time.NewTicker(n.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.wake:
			for _, completed := range n.dequeue() {
				record := models.NewNotificationRecord(completed.EscrowID, completed.TxHash)
				err := n.db.Update(func(tx database.Tx) error {
					return tx.Save(record)
				})
				if err != nil {
					log.Errorf("Error saving notification for escrow %s: %s", completed.EscrowID, err)
					continue
				}
				n.deliver(record)
			}
		case <-ticker.C:
			n.retryUndelivered()
		case <-n.shutdown:
			return
		}
	}
}

// Stop shuts down the notifier.
func (n *Notifier) Stop() {
	close(n.shutdown)
}

func (n *Notifier) deliver(record *models.NotificationRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	record.Attempts++
	err := n.sink.EscrowCompleted(ctx, record.EscrowID, record.TxHash)
	if err != nil {
		log.Warningf("Delivery of completion for escrow %s failed (attempt %d): %s", record.EscrowID, record.Attempts, err)
		record.LastError = err.Error()
	} else {
		record.Delivered = true
		record.LastError = ""
		log.Infof("Delivered completion for escrow %s", record.EscrowID)
	}
	if err := n.db.Update(func(tx database.Tx) error {
		return tx.Save(record)
	}); err != nil {
		log.Errorf("Error updating notification record %s: %s", record.ID, err)
	}
}

func (n *Notifier) retryUndelivered() {
	var records []models.NotificationRecord
	err := n.db.View(func(tx database.Tx) error {
		return tx.Read().Where("delivered = ? AND attempts < ?", false, maxDeliveryAttempts).Find(&records).Error
	})
	if err != nil {
		log.Errorf("Error loading undelivered notifications: %s", err)
		return
	}
	for i := range records {
		n.deliver(&records[i])
	}
}
