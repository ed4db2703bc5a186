package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxOriginCheck(t *testing.T) {
	o := NewOutbox("https://a", 4)

	require.NoError(t, o.Send(context.Background(), "https://a", []byte("1")))
	require.NoError(t, o.Send(context.Background(), "HTTPS://A/", []byte("2")))
	assert.ErrorIs(t, o.Send(context.Background(), "https://b", []byte("3")), ErrOriginMismatch)

	frames := o.Since(0)
	require.Len(t, frames, 2)
	assert.Equal(t, "1", string(frames[0].Payload))
	assert.Equal(t, "2", string(frames[1].Payload))
}

func TestOutboxRingOverwritesOldest(t *testing.T) {
	o := NewOutbox("https://a", 3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, o.Send(context.Background(), "https://a", []byte(fmt.Sprint(i))))
	}

	frames := o.Since(0)
	require.Len(t, frames, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{frames[0].ID, frames[1].ID, frames[2].ID})

	assert.Equal(t, int64(5), o.LastID())

	after := o.Since(4)
	require.Len(t, after, 1)
	assert.Equal(t, "5", string(after[0].Payload))
}

func TestOutboxSubscribe(t *testing.T) {
	o := NewOutbox("https://a", 4)
	ch, cancel := o.Subscribe()
	defer cancel()

	payload := []byte("hello")
	require.NoError(t, o.Send(context.Background(), "https://a", payload))
	payload[0] = 'J'

	select {
	case fr := <-ch:
		assert.Equal(t, "hello", string(fr.Payload))
		assert.Equal(t, int64(1), fr.ID)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered to subscriber")
	}
}

func TestOutboxClose(t *testing.T) {
	o := NewOutbox("https://a", 4)
	ch, cancel := o.Subscribe()

	o.Close()
	_, open := <-ch
	assert.False(t, open, "subscription should end on close")
	cancel()

	assert.ErrorIs(t, o.Send(context.Background(), "https://a", nil), ErrClosed)

	late, _ := o.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestPipe(t *testing.T) {
	p := NewPipe("https://a", 1)

	require.NoError(t, p.Send(context.Background(), "https://a", []byte("x")))
	assert.ErrorIs(t, p.Send(context.Background(), "https://evil", []byte("y")), ErrOriginMismatch)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Send(ctx, "https://a", []byte("full")), context.DeadlineExceeded)

	assert.Equal(t, "x", string(<-p.Messages()))

	p.Close()
	assert.ErrorIs(t, p.Send(context.Background(), "https://a", nil), ErrClosed)
	_, open := <-p.Messages()
	assert.False(t, open)
}

func TestSameOrigin(t *testing.T) {
	assert.True(t, SameOrigin("https://a", "https://A/"))
	assert.False(t, SameOrigin("https://a", "http://a"))
	assert.False(t, SameOrigin("https://a", ""))
}
