package core

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		holders int32
		max     int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("escrow")
			defer unlock()

			n := atomic.AddInt32(&holders, 1)
			if n > atomic.LoadInt32(&max) {
				atomic.StoreInt32(&max, n)
			}
			atomic.AddInt32(&holders, -1)
		}()
	}
	wg.Wait()

	if max != 1 {
		t.Errorf("Expected one holder at a time, got %d", max)
	}
	if k.size() != 0 {
		t.Errorf("Expected no locks left, got %d", k.size())
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()
	<-done
	unlockA()

	if k.size() != 0 {
		t.Errorf("Expected no locks left, got %d", k.size())
	}
}
