package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// Client вызывает API каталога по gRPC с JSON-кодеком.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient оборачивает соединение.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// SubmitOrder оформляет заказ.
func (c *Client) SubmitOrder(ctx context.Context, req *SubmitOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	if err := c.conn.Invoke(ctx, MethodSubmitOrder, req, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrder читает заказ.
func (c *Client) GetOrder(ctx context.Context, req *GetOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	if err := c.conn.Invoke(ctx, MethodGetOrder, req, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListBuyerOrders читает заказы покупателя.
func (c *Client) ListBuyerOrders(ctx context.Context, req *ListBuyerOrdersRequest, opts ...grpc.CallOption) (*ListBuyerOrdersReply, error) {
	out := new(ListBuyerOrdersReply)
	if err := c.conn.Invoke(ctx, MethodListBuyerOrders, req, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe открывает поток изменений.
func (c *Client) Subscribe(ctx context.Context, req *SubscribeRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ChangeMessage], error) {
	stream, err := c.conn.NewStream(ctx, &changeFeedDesc.Streams[0], MethodSubscribe, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[SubscribeRequest, ChangeMessage]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
