package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = client.CreateTopic(ctx, "attempt-outcomes")
	require.NoError(t, err)
	return srv, client
}

func TestPublisherPublishesJSON(t *testing.T) {
	srv, client := newFakeClient(t)
	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(context.Background(), "attempt-outcomes", map[string]any{"key": "snapshot_a.json", "outcome": "success"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"key":"snapshot_a.json","outcome":"success"}`, string(msgs[0].Data))
	assert.Equal(t, "application/json", msgs[0].Attributes["content-type"])
}

func TestPublisherRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "attempt-outcomes", "x")
	require.ErrorContains(t, err, "not configured")

	_, client := newFakeClient(t)
	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })

	_, err = pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "attempt-outcomes", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}
