package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublisher_PublishesJSONWithAttributes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "batches")
	require.NoError(t, err)

	p := New(topic, map[string]string{"event": "batch.completed"})
	defer p.Stop()

	id, err := p.Publish(ctx, "batches", map[string]any{"id": "batch-1", "pages": 5})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "batch.completed", msgs[0].Attributes["event"])
	require.Equal(t, "batches", msgs[0].Attributes["topic"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "batch-1", decoded["id"])
	require.EqualValues(t, 5, decoded["pages"])
}

func TestPublisher_NoTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil).Publish(context.Background(), "t", map[string]string{})
	require.ErrorIs(t, err, ErrNoTopic)
}

func TestPublisher_MarshalFailure(t *testing.T) {
	t.Parallel()

	p := &Publisher{topic: &pubsub.Topic{}}
	_, err := p.Publish(context.Background(), "t", make(chan int))
	require.Error(t, err)
	require.Contains(t, err.Error(), "marshal payload")
}
