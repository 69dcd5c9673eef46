package tlswire

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefCount_FinalReleaseRunsFinalizerOnce(t *testing.T) {
	var finalized int
	rc := NewRefCount(func() { finalized++ })

	rc.AddRef()
	rc.Release()
	assert.Equal(t, 0, finalized)
	assert.True(t, rc.Live())

	rc.Release()
	assert.Equal(t, 1, finalized)
	assert.False(t, rc.Live())
}

func TestRefCount_ReleaseBelowZeroPanics(t *testing.T) {
	rc := NewRefCount(nil)
	rc.Release()
	assert.Panics(t, func() { rc.Release() })
}

func TestRefCount_AddRefAfterFinalReleasePanics(t *testing.T) {
	rc := NewRefCount(nil)
	rc.Release()
	assert.Panics(t, func() { rc.AddRef() })
}

func TestRefCount_ConcurrentHolders(t *testing.T) {
	const holders = 64

	var finalized int
	rc := NewRefCount(func() { finalized++ })

	var wg sync.WaitGroup
	for i := 0; i < holders; i++ {
		rc.AddRef()
		wg.Add(1)
		go func() {
			defer wg.Done()
			rc.Release()
		}()
	}
	wg.Wait()

	require.Equal(t, 0, finalized)
	rc.Release()
	assert.Equal(t, 1, finalized)
}
