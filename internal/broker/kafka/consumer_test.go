package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/HarborPulse/ShipWatch/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed += len(msgs)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_CallsHandler(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var gotK, gotV []byte
	err := c.Consume(context.Background(), func(k, v []byte) error {
		gotK, gotV = k, v
		return nil
	})
	require.Error(t, err)
	require.Equal(t, []byte("k"), gotK)
	require.Equal(t, []byte("v"), gotV)
	require.Equal(t, 1, fr.committed)
}

func TestConsumer_Consume_HandlerErrorStopsWithoutCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}}}
	c := newConsumerWithReader(fr)

	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(k, v []byte) error { return want })
	require.ErrorIs(t, err, want)
	require.Zero(t, fr.committed)
}

func TestConsumer_ConsumeShipmentUpdates(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{
			Key:   []byte("sh-1"),
			Value: []byte(`{"shipment_id":"sh-1","organization_id":"org-1","status":"delivered","events_inserted":2}`),
		}},
		err: errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var got messages.ShipmentUpdated
	err := c.ConsumeShipmentUpdates(context.Background(), func(m messages.ShipmentUpdated) error {
		got = m
		return nil
	})
	require.Error(t, err)
	require.Equal(t, "sh-1", got.ShipmentID)
	require.Equal(t, "delivered", got.Status)
	require.Equal(t, 2, got.EventsInserted)
	require.Equal(t, 1, fr.committed)
}

func TestConsumer_ConsumeShipmentUpdates_BadPayloadNotCommitted(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Value: []byte(`{broken`)}}}
	c := newConsumerWithReader(fr)

	err := c.ConsumeShipmentUpdates(context.Background(), func(messages.ShipmentUpdated) error {
		t.Fatal("handler must not run on undecodable payload")
		return nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode shipment.updated")
	require.Zero(t, fr.committed)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "t", "g")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
