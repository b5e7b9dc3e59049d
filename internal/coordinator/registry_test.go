package coordinator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAddRemove(t *testing.T) {
	r := NewInFlightRegistry()

	assert.True(t, r.Add("anvil:0xaa"))
	assert.False(t, r.Add("anvil:0xaa"))
	assert.True(t, r.Contains("anvil:0xaa"))
	assert.Equal(t, 1, r.Len())

	// same automator on another network is a separate key
	assert.True(t, r.Add("sepolia:0xaa"))

	r.Remove("anvil:0xaa")
	assert.False(t, r.Contains("anvil:0xaa"))
	assert.True(t, r.Add("anvil:0xaa"))
}

func TestRegistryRemoveAbsentKey(t *testing.T) {
	r := NewInFlightRegistry()
	r.Remove("anvil:0xaa")
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentAdd(t *testing.T) {
	r := NewInFlightRegistry()

	const goroutines = 50
	wins := make(chan bool, goroutines)
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- r.Add("anvil:0xaa")
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won)
}
