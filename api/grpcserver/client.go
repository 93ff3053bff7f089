package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client calls dex.v1.Exchange as a fixed caller.
type Client struct {
	conn   grpc.ClientConnInterface
	caller string
}

func NewClient(conn grpc.ClientConnInterface, caller string) *Client {
	return &Client{conn: conn, caller: caller}
}

// As returns a client for the same connection acting as caller.
func (c *Client) As(caller string) *Client {
	return &Client{conn: c.conn, caller: caller}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	ctx = metadata.AppendToOutgoingContext(ctx, CallerKey, c.caller)
	return c.conn.Invoke(ctx, fullMethod(method), req, resp, grpc.CallContentSubtype(CodecName))
}

func (c *Client) Initialize(ctx context.Context, authority string) (*InitializeResponse, error) {
	resp := new(InitializeResponse)
	return resp, c.invoke(ctx, "Initialize", &InitializeRequest{Authority: authority}, resp)
}

func (c *Client) Deposit(ctx context.Context, owner, asset string, amount uint64) (*DepositResponse, error) {
	resp := new(DepositResponse)
	return resp, c.invoke(ctx, "Deposit", &DepositRequest{Owner: owner, Asset: asset, Amount: amount}, resp)
}

func (c *Client) PlaceOrder(ctx context.Context, side string, amount, price uint64) (*PlaceOrderResponse, error) {
	resp := new(PlaceOrderResponse)
	return resp, c.invoke(ctx, "PlaceOrder", &PlaceOrderRequest{Side: side, Amount: amount, Price: price}, resp)
}

func (c *Client) CancelOrder(ctx context.Context, id uint64) (*CancelOrderResponse, error) {
	resp := new(CancelOrderResponse)
	return resp, c.invoke(ctx, "CancelOrder", &CancelOrderRequest{OrderID: id}, resp)
}

func (c *Client) MatchOrders(ctx context.Context) (*MatchOrdersResponse, error) {
	resp := new(MatchOrdersResponse)
	return resp, c.invoke(ctx, "MatchOrders", &MatchOrdersRequest{}, resp)
}

func (c *Client) ListOrders(ctx context.Context) (*ListOrdersResponse, error) {
	resp := new(ListOrdersResponse)
	return resp, c.invoke(ctx, "ListOrders", &ListOrdersRequest{}, resp)
}

func (c *Client) GetOrder(ctx context.Context, id uint64) (*GetOrderResponse, error) {
	resp := new(GetOrderResponse)
	return resp, c.invoke(ctx, "GetOrder", &GetOrderRequest{OrderID: id}, resp)
}

func (c *Client) GetBalance(ctx context.Context, owner, asset string) (*GetBalanceResponse, error) {
	resp := new(GetBalanceResponse)
	return resp, c.invoke(ctx, "GetBalance", &GetBalanceRequest{Owner: owner, Asset: asset}, resp)
}
