package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureFirstCompletionWins(t *testing.T) {
	f := NewFuture[string]()
	assert.True(t, f.Resolve("a"))
	assert.False(t, f.Reject(errors.New("late")))
	assert.False(t, f.Resolve("b"))

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestFutureWaitHonorsContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFutureGoAndThen(t *testing.T) {
	f := Go(func() (int, error) { return 7, nil })
	got := make(chan int, 1)
	f.Then(func(v int, err error) {
		assert.NoError(t, err)
		got <- v
	})
	select {
	case v := <-got:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("Then never fired")
	}
}

func TestRejected(t *testing.T) {
	boom := errors.New("network-error")
	_, err := Rejected[Void](boom).Wait(context.Background())
	assert.ErrorIs(t, err, boom)

	select {
	case <-Resolved(1).Done():
	default:
		t.Fatal("Resolved future not done")
	}
}

func TestTruncateDimensions(t *testing.T) {
	in := map[string]string{"a": "1"}
	out := TruncateDimensions(in)
	out["a"] = "2"
	assert.Equal(t, "1", in["a"], "result must be a copy")

	big := map[string]string{}
	for _, k := range []string{"j", "i", "h", "g", "f", "e", "d", "c", "b", "a"} {
		big[k] = k
	}
	got := TruncateDimensions(big)
	assert.Len(t, got, MaxDimensions)
	assert.Contains(t, got, "a")
	assert.NotContains(t, got, "j")
	assert.NotContains(t, got, "i")
}
