package entitlement

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := newKeyedMutex()

	var mu sync.Mutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("stripe:sub:sub_1")
			defer unlock()

			mu.Lock()
			counter++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	// После освобождения всех захватов запись ключа удаляется.
	km.mu.Lock()
	assert.Empty(t, km.locks)
	km.mu.Unlock()
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	km := newKeyedMutex()

	unlockA := km.Lock("stripe:sub:sub_a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("whop:sub:mem_b")
		unlockB()
		close(done)
	}()

	<-done
}

func TestKeyedMutex_ReleaseAllowsNextHolder(t *testing.T) {
	km := newKeyedMutex()

	unlock := km.Lock("email:a@b.com")

	acquired := make(chan struct{})
	go func() {
		u := km.Lock("email:a@b.com")
		close(acquired)
		u()
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while it was held")
	default:
	}

	unlock()
	<-acquired
}
