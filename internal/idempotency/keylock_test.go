package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyLockSerializesSameKey(t *testing.T) {
	k := NewKeyLock()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(ctx, "a:key")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("max concurrent holders = %d", maxInside)
	}
	if k.Len() != 0 {
		t.Fatalf("entries leaked: %d", k.Len())
	}
}

func TestKeyLockDistinctKeysDoNotBlock(t *testing.T) {
	k := NewKeyLock()
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("lock b blocked by a: %v", err)
	}
	unlockB()
	if k.Len() != 1 {
		t.Fatalf("entries = %d, want 1", k.Len())
	}
}

func TestKeyLockCancelledWaiterReleasesRef(t *testing.T) {
	k := NewKeyLock()
	unlock, err := k.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "a"); err == nil {
		t.Fatal("expected waiter to give up")
	}

	unlock()
	unlock()
	if k.Len() != 0 {
		t.Fatalf("entries leaked: %d", k.Len())
	}
}
