package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type recordingPublisher struct {
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)
	id := uuid.New()

	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeSplitsSettled, EntityID: id, Amount: 500_000}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte(id.String()), w.msgs[0].Key)
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, TypeSplitsSettled, decoded["event_type"])
	assert.Equal(t, "5000.00", decoded["amount"])
	assert.NotEmpty(t, decoded["occurred_at"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	p := NewKafkaPublisher(&fakeWriter{err: errors.New("broker down")})
	err := p.Publish(context.Background(), Event{Type: TypeFundsReleased, EntityID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestMultiPublishesToAllAndJoinsErrors(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("boom")}
	m := Multi{ok, failing}

	err := m.Publish(context.Background(), Event{Type: TypeWithdrawalApproved, EntityID: uuid.New()})
	require.Error(t, err)
	assert.Len(t, ok.events, 1)
	assert.Len(t, failing.events, 1)

	Emit(context.Background(), m, Event{Type: TypeWithdrawalApproved, EntityID: uuid.New()})
	assert.Len(t, ok.events, 2)
	Emit(context.Background(), nil, Event{})
}

type blockingPublisher struct {
	parentErr error
	waited    time.Duration
}

func (p *blockingPublisher) Publish(ctx context.Context, _ Event) error {
	p.parentErr = ctx.Err()
	start := time.Now()
	<-ctx.Done()
	p.waited = time.Since(start)
	return ctx.Err()
}

func (p *blockingPublisher) Close() error { return nil }

func TestEmitDetachesFromCallerDeadline(t *testing.T) {
	old := PublishTimeout
	PublishTimeout = 50 * time.Millisecond
	t.Cleanup(func() { PublishTimeout = old })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &blockingPublisher{}
	start := time.Now()
	Emit(ctx, p, Event{Type: TypePaymentRecorded, EntityID: uuid.New()})

	assert.NoError(t, p.parentErr, "publish must not start on an already cancelled context")
	assert.GreaterOrEqual(t, p.waited, 40*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}
