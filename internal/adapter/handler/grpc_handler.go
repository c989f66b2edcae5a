package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/rl1809/order-saga/internal/core/domain"
)

const OrderServiceName = "saga.order.v1.OrderService"

type CreateOrderRequest struct {
	UserID    int64 `json:"userId"`
	ProductID int64 `json:"productId"`
	Quantity  int32 `json:"quantity"`
}

type GetOrderRequest struct {
	OrderID int64 `json:"orderId"`
}

type OrderReply struct {
	OrderID    int64     `json:"orderId"`
	UserID     int64     `json:"userId"`
	ProductID  int64     `json:"productId"`
	Quantity   int32     `json:"quantity"`
	TotalPrice string    `json:"totalPrice"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

type OrderServiceServer interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderReply, error)
	GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderReply, error)
}

type GRPCHandler struct {
	orders OrderService
	log    zerolog.Logger
}

func NewGRPCHandler(orders OrderService, log zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{orders: orders, log: log.With().Str("component", "grpc").Logger()}
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderReply, error) {
	order, err := h.orders.CreateOrder(ctx, req.UserID, req.ProductID, int(req.Quantity))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toOrderReply(order), nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderReply, error) {
	order, err := h.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toOrderReply(order), nil
}

func (h *GRPCHandler) toStatus(err error) error {
	m := lookupError(err)
	if m.target == nil {
		h.log.Error().Err(err).Msg("rpc failed")
		return status.Error(m.code, m.message)
	}
	return status.Error(m.code, err.Error())
}

func toOrderReply(o *domain.PurchaseOrder) *OrderReply {
	return &OrderReply{
		OrderID:    o.ID,
		UserID:     o.UserID,
		ProductID:  o.ProductID,
		Quantity:   int32(o.Quantity),
		TotalPrice: o.TotalPrice.StringFixed(2),
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt,
	}
}

// RegisterGRPC installs the order service and the standard health service.
func RegisterGRPC(s *grpc.Server, srv OrderServiceServer) *health.Server {
	s.RegisterService(&orderServiceDesc, srv)

	hs := health.NewServer()
	hs.SetServingStatus(OrderServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

var orderServiceDesc = grpc.ServiceDesc{
	ServiceName: OrderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: createOrderHandler},
		{MethodName: "GetOrder", Handler: getOrderHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func createOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).CreateOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + OrderServiceName + "/CreateOrder"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).CreateOrder(ctx, req.(*CreateOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + OrderServiceName + "/GetOrder"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).GetOrder(ctx, req.(*GetOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}
