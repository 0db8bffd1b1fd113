package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_PublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: TypeFinalize, Body: []byte("sess-1")}))
	require.NoError(t, q.Publish(ctx, Message{Type: TypeFinalize, Body: []byte("sess-2")}))

	out, err := q.Consume(ctx)
	require.NoError(t, err)

	msg := <-out
	assert.Equal(t, TypeFinalize, msg.Type)
	assert.Equal(t, "sess-1", string(msg.Body))
	msg = <-out
	assert.Equal(t, "sess-2", string(msg.Body))
}

func TestInMemory_PublishCancelled(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Publish(ctx, Message{Type: TypeFinalize, Body: []byte("a")}))

	// Queue full; a cancelled context unblocks the publisher.
	cancel()
	err := q.Publish(ctx, Message{Type: TypeFinalize, Body: []byte("b")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := Message{Type: TypeFinalize, Body: []byte("sess|with|pipes")}
	got := deserialize(serialize(msg))
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, msg.Body, got.Body)

	// Untyped payloads survive too.
	got = deserialize("raw-body")
	assert.Empty(t, got.Type)
	assert.Equal(t, "raw-body", string(got.Body))
}

func TestInMemory_ConsumeStopsOnCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	out, err := q.Consume(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-out:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}
