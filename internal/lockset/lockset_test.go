package lockset

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	s := New()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("sub-1")
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
	if s.Len() != 0 {
		t.Fatalf("expected all keys released, got %d", s.Len())
	}
}

func TestLockDistinctKeysIndependent(t *testing.T) {
	s := New()
	unlockA := s.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := s.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
