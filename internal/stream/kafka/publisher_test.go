package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func TestPublisherBroadcast(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	opp, err := domain.NewOpportunity("BTC", "nobitex", "wallex", 100, 106, at)
	require.NoError(t, err)

	w := &captureWriter{}
	p := NewPublisher(w)
	require.NoError(t, p.Broadcast(context.Background(), []domain.Opportunity{opp}))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "BTC:nobitex->wallex", string(w.msgs[0].Key))
	assert.True(t, at.Equal(w.msgs[0].Time))

	var got domain.Opportunity
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, 6.0, got.AbsoluteDiff)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisherBroadcastErrors(t *testing.T) {
	w := &captureWriter{err: errors.New("leader not available")}
	p := NewPublisher(w)

	require.NoError(t, p.Broadcast(context.Background(), nil))

	opp, err := domain.NewOpportunity("BTC", "nobitex", "wallex", 100, 106, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, p.Broadcast(context.Background(), []domain.Opportunity{opp}), domain.ErrDelivery)
}
