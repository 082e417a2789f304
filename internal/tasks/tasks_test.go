package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(bool) error {
	f.acked = true
	return nil
}

func (f *fakeAck) Nack(_ bool, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func TestDispatchUnknownJob(t *testing.T) {
	d := NewDispatcher()
	err := d.Dispatch(context.Background(), Job{Type: "nope"})
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestInlinePublisherRunsJobs(t *testing.T) {
	d := NewDispatcher()
	var got string
	d.Register("greet", func(_ context.Context, p json.RawMessage) error {
		return json.Unmarshal(p, &got)
	})

	job, err := NewJob("greet", "hello")
	require.NoError(t, err)

	p := NewInlinePublisher(d, true)
	require.NoError(t, p.Publish(context.Background(), job))
	p.Wait()
	assert.Equal(t, "hello", got)
}

func TestHandleDeliveryAckAndRequeue(t *testing.T) {
	d := NewDispatcher()
	d.Register("ok", func(context.Context, json.RawMessage) error { return nil })
	d.Register("fail", func(context.Context, json.RawMessage) error { return errors.New("boom") })

	a := &fakeAck{}
	handleDelivery(context.Background(), d, []byte(`{"type":"ok"}`), false, a)
	assert.True(t, a.acked)

	a = &fakeAck{}
	handleDelivery(context.Background(), d, []byte(`{"type":"fail"}`), false, a)
	assert.True(t, a.nacked)
	assert.True(t, a.requeued)

	a = &fakeAck{}
	handleDelivery(context.Background(), d, []byte(`{"type":"fail"}`), true, a)
	assert.True(t, a.nacked)
	assert.False(t, a.requeued, "a redelivered failure is dropped")

	a = &fakeAck{}
	handleDelivery(context.Background(), d, []byte(`not json`), false, a)
	assert.True(t, a.nacked)
	assert.False(t, a.requeued)
}

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	var runs int32
	s := &Scheduler{}
	s.Every("tick", 5*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Run(ctx)
	assert.Greater(t, atomic.LoadInt32(&runs), int32(1))
}

func TestEmailHandlerSkipsEmptyRecipient(t *testing.T) {
	h := EmailHandler(LogMailer{})
	assert.NoError(t, h(context.Background(), json.RawMessage(`{"to":"","subject":"x"}`)))
	assert.NoError(t, h(context.Background(), json.RawMessage(`{"to":"a@b.co","subject":"x","body":"y"}`)))
}
