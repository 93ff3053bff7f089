package grpcserver

import (
	"context"
	"net"
	"strings"
	"testing"

	"dex/domain/orderbook"
	"dex/infra/metrics"
	"dex/infra/sequence"
	"dex/infra/store"
	"dex/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func newTestClient(t *testing.T) (*Client, *grpc.ClientConn) {
	t.Helper()
	log := zaptest.NewLogger(t)

	st, err := store.OpenInMemory(log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := service.NewOrderService(st, nil, sequence.New(0), metrics.New(), 8, log)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	gs := NewGRPCServer(svc, log)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewClient(conn, "admin"), conn
}

func requireCode(t *testing.T, want codes.Code, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, status.Code(err), err.Error())
}

func TestExchangeOverGRPC(t *testing.T) {
	admin, _ := newTestClient(t)
	alice, bob := admin.As("alice"), admin.As("bob")
	ctx := context.Background()

	_, err := alice.PlaceOrder(ctx, "buy", 1, 1)
	requireCode(t, codes.FailedPrecondition, err)

	created, err := admin.Initialize(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "admin", created.Authority)
	_, err = admin.Initialize(ctx, "")
	requireCode(t, codes.AlreadyExists, err)

	_, err = alice.Deposit(ctx, "", "quote", 100)
	requireCode(t, codes.PermissionDenied, err)
	dep, err := admin.Deposit(ctx, "alice", "quote", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), dep.Balance)
	_, err = admin.Deposit(ctx, "bob", "base", 50)
	require.NoError(t, err)

	buy, err := alice.PlaceOrder(ctx, "buy", 10, 100)
	require.NoError(t, err)
	assert.Equal(t, Order{ID: 0, Owner: "alice", Side: "buy", Amount: 10, Price: 100}, buy.Order)
	_, err = bob.PlaceOrder(ctx, "sell", 4, 90)
	require.NoError(t, err)

	_, err = alice.MatchOrders(ctx)
	requireCode(t, codes.PermissionDenied, err)

	res, err := admin.MatchOrders(ctx)
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, Fill{
		BuyID: 0, SellID: 1, Buyer: "alice", Seller: "bob",
		Quantity: 4, BuyPrice: 100, SellPrice: 90,
	}, res.Fills[0])
	assert.Equal(t, []uint64{1}, res.Pruned)

	got, err := bob.GetOrder(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.Order.Fulfilled)
	_, err = bob.GetOrder(ctx, 1)
	requireCode(t, codes.NotFound, err)

	_, err = bob.CancelOrder(ctx, 0)
	requireCode(t, codes.NotFound, err)
	cancelled, err := alice.CancelOrder(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), cancelled.Refunded)

	bal, err := alice.GetBalance(ctx, "", "quote")
	require.NoError(t, err)
	assert.Equal(t, uint64(96), bal.Balance)
	bal, err = admin.GetBalance(ctx, "bob", "quote")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), bal.Balance)

	list, err := admin.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.Orders)
}

func TestArgumentErrors(t *testing.T) {
	admin, _ := newTestClient(t)
	ctx := context.Background()
	_, err := admin.Initialize(ctx, "")
	require.NoError(t, err)

	_, err = admin.PlaceOrder(ctx, "sideways", 1, 1)
	requireCode(t, codes.InvalidArgument, err)
	_, err = admin.PlaceOrder(ctx, "buy", 0, 1)
	requireCode(t, codes.InvalidArgument, err)
	_, err = admin.Deposit(ctx, "", "gold", 1)
	requireCode(t, codes.InvalidArgument, err)
	_, err = admin.Deposit(ctx, "", "base", 0)
	requireCode(t, codes.InvalidArgument, err)

	huge := strings.Repeat("h", 70000)
	_, err = admin.Deposit(ctx, huge, "quote", 1)
	requireCode(t, codes.InvalidArgument, err)
	_, err = admin.As(huge).PlaceOrder(ctx, "buy", 1, 1)
	requireCode(t, codes.InvalidArgument, err)
	list, err := admin.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.Orders)
	_, err = admin.PlaceOrder(ctx, "sell", 5, 1)
	requireCode(t, codes.FailedPrecondition, err)
}

func TestMissingCallerIsUnauthenticated(t *testing.T) {
	_, conn := newTestClient(t)
	resp := new(PlaceOrderResponse)
	err := conn.Invoke(context.Background(), fullMethod("PlaceOrder"),
		&PlaceOrderRequest{Side: "buy", Amount: 1, Price: 1}, resp,
		grpc.CallContentSubtype(CodecName))
	requireCode(t, codes.Unauthenticated, err)
}

func TestToStatusDefaultsToInternal(t *testing.T) {
	assert.Equal(t, codes.Internal, status.Code(toStatus(assert.AnError)))
	assert.Equal(t, codes.Canceled, status.Code(toStatus(context.Canceled)))
}

func TestToStatusSeesThroughFailedEscrow(t *testing.T) {
	st, err := store.OpenInMemory(zaptest.NewLogger(t))
	require.NoError(t, err)
	defer st.Close()
	book, err := orderbook.NewOrderBook("admin", 0)
	require.NoError(t, err)

	tx := st.Begin()
	defer tx.Discard()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = book.Place(ctx, "alice", orderbook.Buy, 1, 1, tx)
	require.ErrorIs(t, err, orderbook.ErrTransferFailed)
	assert.Equal(t, codes.Canceled, status.Code(toStatus(err)))

	_, err = book.Place(context.Background(), "alice", orderbook.Buy, 1, 1, tx)
	require.ErrorIs(t, err, store.ErrInsufficientFunds)
	assert.Equal(t, codes.FailedPrecondition, status.Code(toStatus(err)))
}
