package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/domain"
)

func event(user, symbol string, shares int64) domain.TradeEvent {
	return domain.TradeEvent{Type: "trade", Record: domain.TradeRecord{
		ID:        "id-" + user,
		Seq:       1,
		UserID:    user,
		Symbol:    symbol,
		Shares:    shares,
		Price:     decimal.RequireFromString("12.5"),
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
}

func dial(t *testing.T, ctx context.Context, srvURL, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srvURL, "http") + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) domain.TradeEvent {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev domain.TradeEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubBroadcastsToSubscribers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	all := dial(t, ctx, srv.URL, "")
	bobOnly := dial(t, ctx, srv.URL, "?user=bob")

	require.Eventually(t, func() bool { return hub.Subscribers() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, event("alice", "AAPL", 3)))
	require.NoError(t, hub.Publish(ctx, event("bob", "MSFT", -2)))

	assert.Equal(t, "alice", readEvent(t, ctx, all).Record.UserID)
	assert.Equal(t, "bob", readEvent(t, ctx, all).Record.UserID)

	ev := readEvent(t, ctx, bobOnly)
	assert.Equal(t, "bob", ev.Record.UserID)
	assert.Equal(t, int64(-2), ev.Record.Shares)
	assert.True(t, ev.Record.Price.Equal(decimal.RequireFromString("12.5")))
}

func TestHubPublishAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	err := hub.Publish(context.Background(), event("alice", "AAPL", 1))
	assert.Error(t, err)
}

func TestHubShutdownClosesWithGoingAway(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hubCtx, stopHub := context.WithCancel(ctx)
	hub := NewHub(nil)
	go hub.Run(hubCtx)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, ctx, srv.URL, "")
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	stopHub()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, domain.TradeEvent) error { return f.err }

type countingPublisher struct{ n int }

func (c *countingPublisher) Publish(context.Context, domain.TradeEvent) error {
	c.n++
	return nil
}

func TestMultiPublishesToAll(t *testing.T) {
	boom := errors.New("boom")
	counter := &countingPublisher{}
	m := Multi{failingPublisher{err: boom}, counter}

	err := m.Publish(context.Background(), event("alice", "X", 1))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, counter.n)

	assert.NoError(t, Multi{counter}.Publish(context.Background(), event("alice", "X", 1)))
}

func TestKafkaMessageKeyedByUser(t *testing.T) {
	ev := event("alice", "AAPL", 5)
	msg, err := kafkaMessage(ev)
	require.NoError(t, err)
	assert.Equal(t, []byte("alice"), msg.Key)
	assert.True(t, msg.Time.Equal(ev.Record.Timestamp))

	var decoded domain.TradeEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "AAPL", decoded.Record.Symbol)
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "trades")
	assert.Error(t, err)

	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "trades")
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
