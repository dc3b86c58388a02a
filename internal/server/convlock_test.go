package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		counter int
		order   []int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock(1)
			defer unlock()
			counter++
			order = append(order, counter)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Len(t, order, 50)
	assert.Equal(t, 0, k.len(), "expected released locks to be dropped")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := newKeyedMutex()

	unlock1 := k.lock(1)
	done := make(chan struct{})
	go func() {
		unlock2 := k.lock(2)
		unlock2()
		close(done)
	}()

	<-done
	assert.Equal(t, 1, k.len())
	unlock1()
	assert.Equal(t, 0, k.len())
}
