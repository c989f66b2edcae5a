package handler

import (
	"context"

	"google.golang.org/grpc"
)

// OrderClient calls the order service over a connection dialed by the caller.
type OrderClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderClient(cc grpc.ClientConnInterface) *OrderClient {
	return &OrderClient{cc: cc}
}

func (c *OrderClient) CreateOrder(ctx context.Context, req *CreateOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+OrderServiceName+"/CreateOrder", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderClient) GetOrder(ctx context.Context, req *GetOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+OrderServiceName+"/GetOrder", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
