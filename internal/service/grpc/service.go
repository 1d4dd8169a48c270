// Package grpcsvc: gRPC API заказов и потоковая лента изменений каталога.
// Сообщения передаются JSON-кодеком, поэтому клиенты вызывают методы с content-subtype "json".
package grpcsvc

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/notify"
	"github.com/vladislavdragonenkov/catalog/internal/service/fulfillment"
)

const (
	orderServiceName = "catalog.v1.OrderService"
	changeFeedName   = "catalog.v1.ChangeFeed"

	MethodSubmitOrder     = "/" + orderServiceName + "/SubmitOrder"
	MethodGetOrder        = "/" + orderServiceName + "/GetOrder"
	MethodListBuyerOrders = "/" + orderServiceName + "/ListBuyerOrders"
	MethodSubscribe       = "/" + changeFeedName + "/Subscribe"

	defaultListOrdersLimit = 100
)

// OrderService: операции с заказами, которые публикует API.
type OrderService interface {
	Submit(ctx context.Context, req fulfillment.Submission) (domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	ListBuyerOrders(ctx context.Context, buyerID string, limit int) ([]domain.Order, error)
}

// ChangeFeed выдаёт подписки на живую ленту изменений.
type ChangeFeed interface {
	Subscribe(entities ...domain.EntityTag) (*notify.Subscription, error)
	Unsubscribe(sub *notify.Subscription)
}

// Server реализует OrderService и ChangeFeed.
type Server struct {
	orders OrderService
	feed   ChangeFeed
	logger *log.Entry
}

// NewServer конструирует сервер с зависимостями.
func NewServer(orders OrderService, feed ChangeFeed, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "grpc-api")
	}
	return &Server{orders: orders, feed: feed, logger: logger}
}

// Register регистрирует оба сервиса на gRPC-сервере.
func (s *Server) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&orderServiceDesc, s)
	registrar.RegisterService(&changeFeedDesc, s)
}

// SubmitOrder оформляет заказ.
func (s *Server) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*OrderReply, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	submission := fulfillment.Submission{BuyerID: req.BuyerID, Lines: make([]domain.RequestedLine, 0, len(req.Lines))}
	for _, line := range req.Lines {
		submission.Lines = append(submission.Lines, domain.RequestedLine{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	if req.Address != nil {
		submission.ShippingAddress = *req.Address
	}

	order, err := s.orders.Submit(ctx, submission)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderReply{Order: order.Snapshot()}, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Server) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderReply, error) {
	if req == nil || strings.TrimSpace(req.OrderID) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OrderReply{Order: order.Snapshot()}, nil
}

// ListBuyerOrders возвращает последние заказы покупателя.
func (s *Server) ListBuyerOrders(ctx context.Context, req *ListBuyerOrdersRequest) (*ListBuyerOrdersReply, error) {
	if req == nil || strings.TrimSpace(req.BuyerID) == "" {
		return nil, status.Error(codes.InvalidArgument, "buyer_id is required")
	}
	limit := req.Limit
	if limit <= 0 || limit > defaultListOrdersLimit {
		limit = defaultListOrdersLimit
	}

	orders, err := s.orders.ListBuyerOrders(ctx, req.BuyerID, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	reply := &ListBuyerOrdersReply{Orders: make([]domain.OrderSnapshot, 0, len(orders))}
	for _, order := range orders {
		reply.Orders = append(reply.Orders, order.Snapshot())
	}
	return reply, nil
}

// Subscribe стримит события до отмены вызова клиентом или остановки ленты.
func (s *Server) Subscribe(req *SubscribeRequest, stream grpc.ServerStreamingServer[ChangeMessage]) error {
	if s.feed == nil {
		return status.Error(codes.Unimplemented, "change feed is not configured")
	}
	entities := make([]domain.EntityTag, 0, len(req.Entities))
	for _, raw := range req.Entities {
		tag, err := domain.ParseEntityTag(raw)
		if err != nil {
			return toStatus(err)
		}
		entities = append(entities, tag)
	}

	sub, err := s.feed.Subscribe(entities...)
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	defer s.feed.Unsubscribe(sub)

	logger := s.logger.WithField("subscriber_id", sub.ID)
	logger.Debug("grpc change subscriber connected")
	defer logger.Debug("grpc change subscriber disconnected")

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			head, err := domain.PeekChangeEvent(msg)
			if err != nil {
				continue
			}
			if err := stream.Send(&ChangeMessage{Entity: string(head.Entity), Type: string(head.Type), Event: msg}); err != nil {
				return err
			}
		}
	}
}

type orderServiceServer interface {
	SubmitOrder(context.Context, *SubmitOrderRequest) (*OrderReply, error)
	GetOrder(context.Context, *GetOrderRequest) (*OrderReply, error)
	ListBuyerOrders(context.Context, *ListBuyerOrdersRequest) (*ListBuyerOrdersReply, error)
}

type changeFeedServer interface {
	Subscribe(*SubscribeRequest, grpc.ServerStreamingServer[ChangeMessage]) error
}

// unaryHandler строит обработчик метода в форме, которую ожидает grpc.MethodDesc.
func unaryHandler[Req, Res any](method string, call func(orderServiceServer, context.Context, *Req) (*Res, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(orderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(orderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var orderServiceDesc = grpc.ServiceDesc{
	ServiceName: orderServiceName,
	HandlerType: (*orderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitOrder", Handler: unaryHandler(MethodSubmitOrder, orderServiceServer.SubmitOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler(MethodGetOrder, orderServiceServer.GetOrder)},
		{MethodName: "ListBuyerOrders", Handler: unaryHandler(MethodListBuyerOrders, orderServiceServer.ListBuyerOrders)},
	},
	Metadata: "catalog/v1/catalog.json",
}

var changeFeedDesc = grpc.ServiceDesc{
	ServiceName: changeFeedName,
	HandlerType: (*changeFeedServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(SubscribeRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(changeFeedServer).Subscribe(in, &grpc.GenericServerStream[SubscribeRequest, ChangeMessage]{ServerStream: stream})
			},
		},
	},
	Metadata: "catalog/v1/catalog.json",
}

var _ orderServiceServer = (*Server)(nil)
var _ changeFeedServer = (*Server)(nil)
