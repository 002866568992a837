package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/application"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/gateway"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/domain"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/kafka"
)

type published struct {
	topic string
	event kafka.CloudEvent
}

type fakePublisher struct {
	sent []published
	err  error
}

func (p *fakePublisher) PublishEvent(_ context.Context, topic string, event kafka.CloudEvent) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{topic: topic, event: event})
	return nil
}

func TestKafkaNotifier_BookingTransitioned(t *testing.T) {
	pub := &fakePublisher{}
	n := NewKafkaNotifier(pub, zap.NewNop())
	id := uuid.New()

	err := n.BookingTransitioned(context.Background(), application.TransitionEvent{
		BookingID: id,
		Operation: "accept",
		OldStatus: "requested",
		NewStatus: "accepted",
		Version:   2,
	})
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)

	msg := pub.sent[0]
	assert.Equal(t, TopicBookingEvents, msg.topic)
	assert.Equal(t, BookingTransitioned, msg.event.Type)
	assert.Equal(t, Source, msg.event.Source)
	assert.Equal(t, id.String(), msg.event.Subject)

	var got application.TransitionEvent
	require.NoError(t, msg.event.ParseData(&got))
	assert.Equal(t, "accepted", got.NewStatus)
	assert.Equal(t, int64(2), got.Version)
}

func TestKafkaNotifier_ConfirmationReminder(t *testing.T) {
	pub := &fakePublisher{}
	n := NewKafkaNotifier(pub, zap.NewNop())
	id := uuid.New()

	require.NoError(t, n.ConfirmationReminder(context.Background(), application.ReminderEvent{
		BookingID:   id,
		CompletedAt: time.Date(2026, 6, 3, 9, 0, 0, 0, time.UTC),
	}))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, BookingConfirmationReminder, pub.sent[0].event.Type)
	assert.Equal(t, id.String(), pub.sent[0].event.Subject)
}

func TestKafkaNotifier_PropagatesPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	n := NewKafkaNotifier(pub, zap.NewNop())

	err := n.BookingTransitioned(context.Background(), application.TransitionEvent{BookingID: uuid.New()})
	assert.EqualError(t, err, "broker down")
}

type applied struct {
	id  uuid.UUID
	key string
	res gateway.Result
}

type fakeApplier struct {
	calls []applied
	err   error
}

func (a *fakeApplier) ApplyCaptureResult(_ context.Context, id uuid.UUID, key string, res gateway.Result) error {
	a.calls = append(a.calls, applied{id: id, key: key, res: res})
	return a.err
}

func gatewayMessage(t *testing.T, eventType string, data interface{}) kafkago.Message {
	t.Helper()
	ce, err := kafka.NewCloudEvent("omise-webhook-relay", eventType, data)
	require.NoError(t, err)
	raw, err := json.Marshal(ce)
	require.NoError(t, err)
	return kafkago.Message{Value: raw}
}

func newTestConsumer(applier CaptureResultApplier) *GatewayEventConsumer {
	return &GatewayEventConsumer{applier: applier, logger: zap.NewNop()}
}

func TestGatewayEventConsumer_AppliesCaptureOutcome(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		eventType string
		want      gateway.Outcome
	}{
		{GatewayCaptureSucceeded, gateway.OutcomeSucceeded},
		{GatewayCaptureFailed, gateway.OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			applier := &fakeApplier{}
			c := newTestConsumer(applier)

			msg := gatewayMessage(t, tt.eventType, CaptureEvent{
				BookingID:      id,
				IdempotencyKey: id.String() + ":capture:1",
				ChargeRef:      "chrg_1",
				Reason:         "insufficient_fund",
			})
			require.NoError(t, c.handleMessage(context.Background(), msg))
			require.Len(t, applier.calls, 1)
			assert.Equal(t, id, applier.calls[0].id)
			assert.Equal(t, id.String()+":capture:1", applier.calls[0].key)
			assert.Equal(t, tt.want, applier.calls[0].res.Outcome)
			assert.Equal(t, "chrg_1", applier.calls[0].res.Ref)
		})
	}
}

func TestGatewayEventConsumer_DropsBadMessages(t *testing.T) {
	applier := &fakeApplier{}
	c := newTestConsumer(applier)
	ctx := context.Background()

	assert.NoError(t, c.handleMessage(ctx, kafkago.Message{Value: []byte("not json")}))
	assert.NoError(t, c.handleMessage(ctx, gatewayMessage(t, "payment.transfer.succeeded", map[string]string{})))
	assert.NoError(t, c.handleMessage(ctx, gatewayMessage(t, GatewayCaptureSucceeded, CaptureEvent{IdempotencyKey: "k"})))
	assert.NoError(t, c.handleMessage(ctx, gatewayMessage(t, GatewayCaptureSucceeded, CaptureEvent{BookingID: uuid.New()})))
	assert.Empty(t, applier.calls)
}

func TestGatewayEventConsumer_RetriesTransientErrors(t *testing.T) {
	id := uuid.New()
	msg := gatewayMessage(t, GatewayCaptureSucceeded, CaptureEvent{BookingID: id, IdempotencyKey: "k"})

	transient := &fakeApplier{err: domain.NewGatewayError("capture", true, errors.New("timeout"))}
	assert.Error(t, newTestConsumer(transient).handleMessage(context.Background(), msg))

	permanent := &fakeApplier{err: domain.NewNotFoundError("booking", id.String())}
	assert.NoError(t, newTestConsumer(permanent).handleMessage(context.Background(), msg))
	assert.Len(t, permanent.calls, 1)
}
