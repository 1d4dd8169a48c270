package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

func TestChangeSink_DeliverPublishesToEntityChannel(t *testing.T) {
	client, mock := redismock.NewClientMock()
	sink := NewChangeSink(client, "")
	event := []byte(`{"entity":"ORDERS","type":"CREATE","data":{"id":"o-1"},"createdAt":"2024-01-01T00:00:00Z"}`)

	mock.ExpectPublish("catalog:changes:orders", event).SetVal(2)

	require.NoError(t, sink.Deliver(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, "redis", sink.Name())
}

func TestChangeSink_DeliverErrors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	sink := NewChangeSink(client, "shop")
	event := []byte(`{"entity":"ITEMS","type":"UPDATE","data":{"id":"i-1"}}`)

	mock.ExpectPublish("shop:items", event).SetErr(errors.New("connection refused"))
	require.ErrorContains(t, sink.Deliver(context.Background(), event), "connection refused")

	var validationErr *domain.ValidationError
	require.ErrorAs(t, sink.Deliver(context.Background(), []byte(`{"entity":"ITEMS"}`)), &validationErr)
	require.NoError(t, mock.ExpectationsWereMet())
}
