package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "dex.v1.Exchange"

// ExchangeServer is the server side of dex.v1.Exchange.
type ExchangeServer interface {
	Initialize(context.Context, *InitializeRequest) (*InitializeResponse, error)
	Deposit(context.Context, *DepositRequest) (*DepositResponse, error)
	PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*CancelOrderResponse, error)
	MatchOrders(context.Context, *MatchOrdersRequest) (*MatchOrdersResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*GetBalanceResponse, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Initialize", ExchangeServer.Initialize),
		unary("Deposit", ExchangeServer.Deposit),
		unary("PlaceOrder", ExchangeServer.PlaceOrder),
		unary("CancelOrder", ExchangeServer.CancelOrder),
		unary("MatchOrders", ExchangeServer.MatchOrders),
		unary("ListOrders", ExchangeServer.ListOrders),
		unary("GetOrder", ExchangeServer.GetOrder),
		unary("GetBalance", ExchangeServer.GetBalance),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dex/v1/exchange",
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](
	method string,
	call func(ExchangeServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(
			srv any,
			ctx context.Context,
			dec func(any) error,
			interceptor grpc.UnaryServerInterceptor,
		) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ExchangeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ExchangeServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
