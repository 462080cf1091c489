package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewarden/internal/config"
)

func startTestServer(t *testing.T) *server.Server {
	t.Helper()
	opts := &server.Options{
		Host: "127.0.0.1",
		Port: -1, // random port
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSPublisherDeliversEnvelope(t *testing.T) {
	ns := startTestServer(t)

	pub, err := NewNATSPublisher(config.NATSConfig{
		Enabled:     true,
		URL:         ns.ClientURL(),
		TopicPrefix: "testwarden",
	})
	require.NoError(t, err)
	defer pub.Close()

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan *nats.Msg, 1)
	_, err = sub.Subscribe("testwarden.decision.emitted", func(msg *nats.Msg) {
		received <- msg
	})
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub.Publish(context.Background(), SubjectDecisionEmitted, map[string]any{
		"symbol": "BTC/USDT",
		"action": "BUY",
	})

	select {
	case msg := <-received:
		var env Envelope
		require.NoError(t, json.Unmarshal(msg.Data, &env))
		assert.Equal(t, SubjectDecisionEmitted, env.Subject)
		assert.WithinDuration(t, time.Now().UTC(), env.Timestamp, 5*time.Second)
		payload, ok := env.Payload.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "BTC/USDT", payload["symbol"])
	case <-time.After(3 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestNewReturnsNoopWhenDisabled(t *testing.T) {
	pub, err := New(config.NATSConfig{Enabled: false})
	require.NoError(t, err)
	_, isNoop := pub.(NoopPublisher)
	assert.True(t, isNoop)

	// Must be safe to use without a transport
	pub.Publish(context.Background(), SubjectCycleStarted, nil)
	pub.Close()
}

func TestPublishToleratesUnencodablePayload(t *testing.T) {
	ns := startTestServer(t)

	pub, err := NewNATSPublisher(config.NATSConfig{
		Enabled:     true,
		URL:         ns.ClientURL(),
		TopicPrefix: "testwarden",
	})
	require.NoError(t, err)
	defer pub.Close()

	// Channels cannot be marshalled; publish must not panic
	pub.Publish(context.Background(), SubjectCycleStarted, make(chan int))
}
