package events

import "errors"

// SubscriptionOpt configures a subscription.
type SubscriptionOpt = func(*subSettings) error

type subSettings struct {
	buffer int
	match  map[string]string
}

var defaultSettings = subSettings{
	buffer: 16,
}

// BufSize sets the subscription channel buffer.
func BufSize(n int) SubscriptionOpt {
	return func(s *subSettings) error {
		if n < 0 {
			return errors.New("negative buffer size")
		}
		s.buffer = n
		return nil
	}
}

// MatchField only delivers events whose string field has the given value.
// It is typically used to follow a single escrow:
//
//  bus.Subscribe(new(events.EscrowStatusChanged), events.MatchField("EscrowID", id))
func MatchField(field, value string) SubscriptionOpt {
	return func(s *subSettings) error {
		m := make(map[string]string, len(s.match)+1)
		for k, v := range s.match {
			m[k] = v
		}
		m[field] = value
		s.match = m
		return nil
	}
}
