package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.Publish(context.Background(), 1, EventBroadcastStarted, nil))
	assert.NoError(t, n.PublishToUser(context.Background(), 1, 2, EventViewerSanctioned, nil))
	assert.NoError(t, n.StartSubscriber(context.Background(), func(string, string) {}))
}

func TestNotifier_SubscriberReceivesEnvelope(t *testing.T) {
	rdb := newTestRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type message struct{ channel, payload string }
	got := make(chan message, 4)
	require.NoError(t, n.StartSubscriber(ctx, func(channel, payload string) {
		got <- message{channel, payload}
	}))

	// the subscription is asynchronous; publish until it is live
	require.Eventually(t, func() bool {
		_ = n.Publish(context.Background(), 7, EventLikeCount, map[string]int{"likes": 3})
		select {
		case m := <-got:
			var ev Event
			require.NoError(t, json.Unmarshal([]byte(m.payload), &ev))
			return m.channel == "events:broadcast:7" && ev.Type == EventLikeCount && ev.BroadcastID == 7
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, n.PublishToUser(context.Background(), 7, 42, EventViewerSanctioned, nil))
	deadline := time.After(time.Second)
	for {
		select {
		case m := <-got:
			// earlier retries may still be in flight
			if m.channel == "events:broadcast:7" {
				continue
			}
			assert.Equal(t, "events:broadcast:7:user:42", m.channel)
			return
		case <-deadline:
			t.Fatal("user event not delivered")
		}
	}
}

func TestNotifier_StopsOnCancel(t *testing.T) {
	rdb := newTestRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())

	var received int32
	require.NoError(t, n.StartSubscriber(ctx, func(string, string) {
		atomic.AddInt32(&received, 1)
	}))
	require.Eventually(t, func() bool {
		_ = n.Publish(context.Background(), 1, EventViewerCount, nil)
		return atomic.LoadInt32(&received) >= 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	before := atomic.LoadInt32(&received)

	require.NoError(t, n.Publish(context.Background(), 1, EventViewerCount, nil))
	assert.Never(t, func() bool {
		return atomic.LoadInt32(&received) > before
	}, 100*time.Millisecond, 10*time.Millisecond)
}

type stubKinesis struct {
	kinesisiface.KinesisAPI
	mu      sync.Mutex
	inputs  []*kinesis.PutRecordInput
	failing bool
}

func (s *stubKinesis) PutRecordWithContext(_ aws.Context, in *kinesis.PutRecordInput, _ ...request.Option) (*kinesis.PutRecordOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.New("throttled")
	}
	s.inputs = append(s.inputs, in)
	return &kinesis.PutRecordOutput{SequenceNumber: aws.String("1")}, nil
}

func TestKinesisSinkPartitionsByBroadcast(t *testing.T) {
	stub := &stubKinesis{}
	n := NewNotifier(nil).WithSink(NewKinesisSinkWithClient(stub, "broadcast-events"))

	require.NoError(t, n.Publish(context.Background(), 12, EventBroadcastEnded, nil))
	require.Len(t, stub.inputs, 1)
	assert.Equal(t, "12", aws.StringValue(stub.inputs[0].PartitionKey))
	assert.Equal(t, "broadcast-events", aws.StringValue(stub.inputs[0].StreamName))

	var ev Event
	require.NoError(t, json.Unmarshal(stub.inputs[0].Data, &ev))
	assert.Equal(t, EventBroadcastEnded, ev.Type)
}

func TestSinkFailureDoesNotFailPublish(t *testing.T) {
	stub := &stubKinesis{failing: true}
	n := NewNotifier(newTestRedis(t)).WithSink(NewKinesisSinkWithClient(stub, "s"))
	assert.NoError(t, n.Publish(context.Background(), 1, EventBroadcastStarted, nil))
}
