package topic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscribeAndBroadcast(t *testing.T) {
	r := NewRegistry(1<<20, 8)
	sub := r.NewSubscriber("conn-1")
	r.Subscribe("agg", sub)

	r.Broadcast("agg", []byte("hello"))
	select {
	case msg := <-sub.Out():
		require.Equal(t, "hello", string(msg))
	default:
		t.Fatal("expected message on subscriber channel")
	}
}

func TestBroadcastToUnknownTopicIsNoop(t *testing.T) {
	r := NewRegistry(1<<20, 8)
	require.NotPanics(t, func() { r.Broadcast("nothing", []byte("x")) })
}

func TestUnsubscribeAllRemovesFromEveryTopic(t *testing.T) {
	r := NewRegistry(1<<20, 8)
	sub := r.NewSubscriber("conn-1")
	r.Subscribe("a", sub)
	r.Subscribe("b", sub)

	r.UnsubscribeAll(sub)

	r.Broadcast("a", []byte("x"))
	r.Broadcast("b", []byte("y"))
	select {
	case <-sub.Out():
		t.Fatal("expected no messages after UnsubscribeAll")
	default:
	}
}

func TestBroadcastDropsOverThreshold(t *testing.T) {
	r := NewRegistry(4, 8) // 4 byte budget
	sub := r.NewSubscriber("conn-1")
	r.Subscribe("agg", sub)

	r.Broadcast("agg", []byte("abcd"))  // fits exactly
	r.Broadcast("agg", []byte("extra")) // exceeds threshold, dropped

	require.Equal(t, int64(1), sub.Dropped())
}

func TestBroadcastDropsWhenChannelFull(t *testing.T) {
	r := NewRegistry(1<<20, 1)
	sub := r.NewSubscriber("conn-1")
	r.Subscribe("agg", sub)

	r.Broadcast("agg", []byte("a"))
	r.Broadcast("agg", []byte("b")) // channel buffer of 1 already full

	require.Equal(t, int64(1), sub.Dropped())
}

func TestPushDeliversWithoutTopic(t *testing.T) {
	r := NewRegistry(1<<20, 8)
	sub := r.NewSubscriber("conn-1")

	require.True(t, sub.Push([]byte("direct")))
	require.Equal(t, "direct", string(<-sub.Out()))
}

func TestAckReleasesOutstandingBytes(t *testing.T) {
	r := NewRegistry(4, 8)
	sub := r.NewSubscriber("conn-1")
	r.Subscribe("agg", sub)

	r.Broadcast("agg", []byte("abcd"))
	<-sub.Out()
	sub.Ack(4)

	r.Broadcast("agg", []byte("abcd"))
	require.Equal(t, int64(0), sub.Dropped())
}
