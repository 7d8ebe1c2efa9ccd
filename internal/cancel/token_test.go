package cancel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbacksFireExactlyOnce(t *testing.T) {
	tok := New()
	var before, after atomic.Int32

	tok.OnCancelled(func() { before.Add(1) })
	tok.Cancel()
	tok.Cancel()
	tok.OnCancelled(func() { after.Add(1) })
	tok.Cancel()

	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), after.Load())
	assert.True(t, tok.IsCancelled())
}

func TestConcurrentCancel(t *testing.T) {
	tok := New()
	var fired atomic.Int32
	for i := 0; i < 10; i++ {
		tok.OnCancelled(func() { fired.Add(1) })
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok.Cancel()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), fired.Load())
}

func TestCancelFromCallback(t *testing.T) {
	tok := New()
	var fired atomic.Int32
	tok.OnCancelled(func() {
		fired.Add(1)
		tok.Cancel()
	})
	tok.OnCancelled(func() { fired.Add(1) })

	tok.Cancel()
	assert.Equal(t, int32(2), fired.Load())
}

func TestImmediateCallbackIsSynchronous(t *testing.T) {
	tok := New()
	tok.Cancel()

	ran := false
	tok.OnCancelled(func() { ran = true })
	assert.True(t, ran)
}

func TestDoneAndErr(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Err())

	select {
	case <-tok.Done():
		t.Fatal("done closed before cancel")
	default:
	}

	tok.Cancel()
	<-tok.Done()
	assert.ErrorIs(t, tok.Err(), ErrCancelled)
}

func TestDoRefusesAfterCancel(t *testing.T) {
	tok := New()
	ran := 0
	assert.True(t, tok.Do(func() { ran++ }))
	tok.Cancel()
	assert.False(t, tok.Do(func() { ran++ }))
	assert.Equal(t, 1, ran)
}

func TestChild(t *testing.T) {
	parent := New()
	child := parent.Child()
	child.Cancel()
	assert.False(t, parent.IsCancelled())

	other := parent.Child()
	parent.Cancel()
	assert.True(t, other.IsCancelled())
}

func TestContext(t *testing.T) {
	tok := New()
	ctx, release := tok.Context(context.Background())
	defer release()

	require.NoError(t, ctx.Err())
	tok.Cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
