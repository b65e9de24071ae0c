package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-engine/internal/events"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestProducer_RoutesByEventType(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8, nil)
	p.Start(context.Background())

	env, err := events.New(events.EventOrderSettled, "test", "o1", time.Now(), events.OrderSettledPayload{OrderID: "o1"})
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), env))
	p.Close()
	p.WaitClosed()

	require.Len(t, w.msgs, 1)
	assert.Equal(t, events.TopicOrderSettled, w.msgs[0].Topic)
	assert.Equal(t, []byte("o1"), w.msgs[0].Key)
	assert.True(t, w.closed)

	got, err := DecodeEnvelope(w.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
}

func TestProducer_UnknownTypeRejected(t *testing.T) {
	p := newProducer(&fakeWriter{}, 1, nil)
	err := p.Publish(context.Background(), events.Envelope{EventType: "Nope"})
	assert.Error(t, err)
}

func TestProducer_FullBuffer(t *testing.T) {
	p := newProducer(&fakeWriter{}, 1, nil)
	env := events.Envelope{EventType: events.EventOrderPaid, CorrelationID: "o1"}

	require.NoError(t, p.Publish(context.Background(), env))
	assert.ErrorIs(t, p.Publish(context.Background(), env), ErrProducerFull)
}

func TestDecodeEnvelope_Garbage(t *testing.T) {
	_, err := DecodeEnvelope(kafka.Message{Topic: "t", Value: []byte("{")})
	assert.Error(t, err)
}
