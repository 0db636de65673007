package bridge

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLatch(t *testing.T) {
	var l InitLatch
	boom := errors.New("boom")

	ran, err := l.Do(func() error { return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
	assert.False(t, l.Done())

	ran, err = l.Do(func() error { return nil })
	assert.True(t, ran)
	require.NoError(t, err)
	assert.True(t, l.Done())

	ran, err = l.Do(func() error {
		t.Fatal("must not run after success")
		return nil
	})
	assert.False(t, ran)
	assert.NoError(t, err)
}

func TestInitLatchConcurrent(t *testing.T) {
	var l InitLatch
	var calls atomic.Int32
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.Do(func() error {
				calls.Add(1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, l.Done())
}
