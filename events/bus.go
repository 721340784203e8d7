package events

import (
	"errors"
	"io"
	"reflect"
	"sync"
)

// Subscription represents a subscription to one or multiple event types.
type Subscription interface {
	io.Closer

	// Out returns the channel from which to consume events.
	Out() <-chan interface{}
}

// Bus is an interface for a type-based event delivery system.
type Bus interface {
	// Subscribe creates a new Subscription.
	//
	// eventType can be either a pointer to a single event type, or a slice
	// of pointers to subscribe to multiple event types under a single
	// subscription.
	//
	// Failing to drain the channel may cause publishers to block.
	//
	//  sub, err := bus.Subscribe(new(events.EscrowCompleted))
	//  defer sub.Close()
	//  for e := range sub.Out() {
	//    event := e.(*events.EscrowCompleted) // guaranteed safe
	//    [...]
	//  }
	Subscribe(eventType interface{}, opts ...SubscriptionOpt) (Subscription, error)

	// Emit emits an event onto the bus. If any channel subscribed to the
	// type is blocked, calls to Emit will block.
	Emit(evt interface{})
}

// NewBus returns a basic event bus.
func NewBus() Bus {
	return &basicBus{
		subs: make(map[reflect.Type][]*sub),
	}
}

type basicBus struct {
	lk   sync.Mutex
	subs map[reflect.Type][]*sub
}

var _ Bus = (*basicBus)(nil)

func (b *basicBus) Emit(event interface{}) {
	b.lk.Lock()
	defer b.lk.Unlock()

	for _, s := range b.subs[reflect.TypeOf(event)] {
		if s.matches(event) {
			s.ch <- event
		}
	}
}

func (b *basicBus) Subscribe(evtTypes interface{}, opts ...SubscriptionOpt) (Subscription, error) {
	settings := defaultSettings
	for _, opt := range opts {
		if err := opt(&settings); err != nil {
			return nil, err
		}
	}

	types, ok := evtTypes.([]interface{})
	if !ok {
		types = []interface{}{evtTypes}
	}
	for _, etyp := range types {
		if reflect.TypeOf(etyp).Kind() != reflect.Ptr {
			return nil, errors.New("subscribe called with non-pointer type")
		}
	}

	b.lk.Lock()
	defer b.lk.Unlock()

	out := &sub{
		ch:    make(chan interface{}, settings.buffer),
		bus:   b,
		match: settings.match,
	}
	for _, etyp := range types {
		typ := reflect.TypeOf(etyp)
		b.subs[typ] = append(b.subs[typ], out)
		out.typs = append(out.typs, typ)
	}
	return out, nil
}

func (b *basicBus) drop(s *sub) {
	b.lk.Lock()
	defer b.lk.Unlock()

	for _, typ := range s.typs {
		subs := b.subs[typ]
		for i, existing := range subs {
			if existing == s {
				b.subs[typ] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

type sub struct {
	ch    chan interface{}
	typs  []reflect.Type
	bus   *basicBus
	match map[string]string
	once  sync.Once
}

var _ Subscription = (*sub)(nil)

func (s *sub) Out() <-chan interface{} {
	return s.ch
}

func (s *sub) Close() error {
	s.once.Do(func() {
		// Drain so that a publisher blocked on this channel can finish
		// and release the bus lock.
		go func() {
			for range s.ch {
			}
		}()
		s.bus.drop(s)
		close(s.ch)
	})
	return nil
}

func (s *sub) matches(event interface{}) bool {
	if len(s.match) == 0 {
		return true
	}
	val := reflect.Indirect(reflect.ValueOf(event))
	for field, value := range s.match {
		f := val.FieldByName(field)
		if !f.IsValid() || f.Kind() != reflect.String || f.String() != value {
			return false
		}
	}
	return true
}
