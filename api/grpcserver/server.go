package grpcserver

import (
	"context"
	"time"

	"dex/domain/orderbook"
	"dex/infra/store"
	"dex/service"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// CallerKey is the metadata key carrying the caller identity. Authenticating
// it is the job of whatever terminates the connection in front of us.
const CallerKey = "x-dex-caller"

// Server adapts OrderService to gRPC.
type Server struct {
	svc *service.OrderService
	log *zap.Logger
}

var _ ExchangeServer = (*Server)(nil)

func NewServer(svc *service.OrderService, log *zap.Logger) *Server {
	return &Server{svc: svc, log: log.Named("grpc")}
}

// NewGRPCServer builds a grpc.Server with logging and the exchange service
// registered.
func NewGRPCServer(svc *service.OrderService, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	s := NewServer(svc, log)
	opts = append(opts, grpc.ChainUnaryInterceptor(s.logUnary))
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&ServiceDesc, s)
	return gs
}

// -------------------- Commands --------------------

func (s *Server) Initialize(ctx context.Context, req *InitializeRequest) (*InitializeResponse, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	authority := orderbook.Identity(req.Authority)
	if authority == "" {
		authority = caller
	}
	if err := s.svc.Initialize(ctx, authority); err != nil {
		return nil, toStatus(err)
	}
	return &InitializeResponse{Authority: string(authority)}, nil
}

func (s *Server) Deposit(ctx context.Context, req *DepositRequest) (*DepositResponse, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	asset, err := orderbook.ParseAsset(req.Asset)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	owner := orderbook.Identity(req.Owner)
	if owner == "" {
		owner = caller
	}
	bal, err := s.svc.Deposit(ctx, caller, owner, asset, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DepositResponse{Balance: bal}, nil
}

func (s *Server) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		return nil, toStatus(err)
	}
	o, err := s.svc.PlaceOrder(ctx, caller, side, req.Amount, req.Price)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PlaceOrderResponse{Order: fromOrder(o)}, nil
}

func (s *Server) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	o, err := s.svc.CancelOrder(ctx, caller, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CancelOrderResponse{Order: fromOrder(o), Refunded: o.Remaining()}, nil
}

func (s *Server) MatchOrders(ctx context.Context, _ *MatchOrdersRequest) (*MatchOrdersResponse, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.MatchOrders(ctx, caller)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &MatchOrdersResponse{
		Fills:  make([]Fill, 0, len(res.Fills)),
		Pruned: make([]uint64, 0, len(res.Pruned)),
	}
	for _, f := range res.Fills {
		resp.Fills = append(resp.Fills, fromFill(f))
	}
	for _, o := range res.Pruned {
		resp.Pruned = append(resp.Pruned, o.ID)
	}
	return resp, nil
}

// -------------------- Queries --------------------

func (s *Server) ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error) {
	orders, err := s.svc.Orders()
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListOrdersResponse{Orders: fromOrders(orders)}, nil
}

func (s *Server) GetOrder(_ context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	o, err := s.svc.Order(req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetOrderResponse{Order: fromOrder(o)}, nil
}

func (s *Server) GetBalance(ctx context.Context, req *GetBalanceRequest) (*GetBalanceResponse, error) {
	owner := orderbook.Identity(req.Owner)
	if owner == "" {
		caller, err := callerFrom(ctx)
		if err != nil {
			return nil, err
		}
		owner = caller
	}
	asset, err := orderbook.ParseAsset(req.Asset)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	bal, err := s.svc.Balance(owner, asset)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetBalanceResponse{Balance: bal}, nil
}

// -------------------- Plumbing --------------------

func callerFrom(ctx context.Context) (orderbook.Identity, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get(CallerKey)
	if len(vals) == 0 || vals[0] == "" {
		return "", status.Errorf(codes.Unauthenticated, "missing %s metadata", CallerKey)
	}
	return orderbook.Identity(vals[0]), nil
}

// First match wins. Context errors come before the domain kinds that can wrap them.
var statusCodes = []struct {
	err  error
	code codes.Code
}{
	{context.Canceled, codes.Canceled},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
	{orderbook.ErrInvalidOrderParameters, codes.InvalidArgument},
	{orderbook.ErrInvalidIdentity, codes.InvalidArgument},
	{service.ErrInvalidAmount, codes.InvalidArgument},
	{orderbook.ErrOrderNotFound, codes.NotFound},
	{orderbook.ErrUnauthorized, codes.PermissionDenied},
	{orderbook.ErrCapacityExceeded, codes.ResourceExhausted},
	{orderbook.ErrTransferFailed, codes.FailedPrecondition},
	{store.ErrNotInitialized, codes.FailedPrecondition},
	{store.ErrAlreadyInitialized, codes.AlreadyExists},
	{orderbook.ErrArithmeticOverflow, codes.OutOfRange},
	{store.ErrBalanceOverflow, codes.OutOfRange},
	{service.ErrUnavailable, codes.Unavailable},
}

func toStatus(err error) error {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return status.Error(sc.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

func (s *Server) logUnary(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	started := time.Now()
	resp, err := handler(ctx, req)

	code := status.Code(err)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Stringer("code", code),
		zap.Duration("took", time.Since(started)),
	}
	switch code {
	case codes.OK:
		s.log.Debug("rpc", fields...)
	case codes.Internal, codes.Unavailable:
		s.log.Error("rpc", append(fields, zap.Error(err))...)
	default:
		s.log.Info("rpc", append(fields, zap.Error(err))...)
	}
	return resp, err
}
