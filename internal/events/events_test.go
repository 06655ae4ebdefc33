package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed++
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "pharmacy-events")

	err := p.Publish(context.Background(), Event{Type: SaleCompleted, PharmacyID: 7, Payload: map[string]any{"sale_id": 3}})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "7", string(msg.Key))
	assert.Equal(t, []kafka.Header{{Key: "type", Value: []byte(SaleCompleted)}}, msg.Headers)
	assert.False(t, msg.Time.IsZero())

	var got Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, SaleCompleted, got.Type)
	assert.Equal(t, int64(7), got.PharmacyID)
	assert.Equal(t, float64(3), got.Payload["sale_id"])
}

func TestKafkaPublisherErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(w, "pharmacy-events")

	err := p.Publish(context.Background(), Event{Type: StockReceived})
	assert.ErrorContains(t, err, "broker down")

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), Event{Type: StockReceived}), ErrClosed)
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(log.New(&buf, "", 0))

	require.NoError(t, p.Publish(context.Background(), Event{Type: PaymentVerified, PharmacyID: 2}))
	assert.Contains(t, buf.String(), "[EVENTS] ")
	assert.Contains(t, buf.String(), `"type":"payment.verified"`)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	_ = r.Publish(context.Background(), Event{Type: SaleCompleted})
	_ = r.Publish(context.Background(), Event{Type: StockReceived})

	assert.Equal(t, []string{SaleCompleted, StockReceived}, r.Types())
	assert.False(t, r.Events()[0].At.IsZero())
}
