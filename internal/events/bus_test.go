package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arkastore/backend-promo/internal/events"
)

type stubStore struct {
	inserted []events.Event
}

func (s *stubStore) InsertDomainEvent(_ context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	ev := events.Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  time.Now().UTC(),
	}
	s.inserted = append(s.inserted, ev)
	return ev, nil
}

func (s *stubStore) ListDomainEvents(context.Context, string, int) ([]events.Event, error) {
	return s.inserted, nil
}

type captureNotifier struct {
	events []events.Event
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return nil
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{notifier},
	}

	aggregate := uuid.New()
	payload := map[string]any{"promotionId": "123"}
	event, err := bus.Emit(context.Background(), events.TopicPromotionApplied, aggregate, payload)
	require.NoError(t, err)
	require.Len(t, store.inserted, 1)
	require.Equal(t, events.TopicPromotionApplied, store.inserted[0].Topic)
	require.JSONEq(t, `{"promotionId":"123"}`, string(store.inserted[0].Payload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "123", decoded["promotionId"])
}

func TestEmitRejectsBadInput(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}

	_, err := bus.Emit(context.Background(), "", uuid.New(), nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicPromotionCreated, uuid.Nil, nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicPromotionCreated, uuid.New(), "{not json")
	require.Error(t, err)
}

func TestEmitDefaultsEmptyPayload(t *testing.T) {
	store := &stubStore{}
	bus := events.Bus{Store: store}

	_, err := bus.Emit(context.Background(), events.TopicPromotionCreated, uuid.New(), nil)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(store.inserted[0].Payload))
}
