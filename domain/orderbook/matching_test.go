package orderbook_test

import (
	"context"
	"testing"

	"dex/domain/orderbook"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchOrders(t *testing.T) {
	t.Run("partial cross prunes the filled side", testMatchPartialCross)
	t.Run("no cross when bid below ask", testMatchNoCross)
	t.Run("best prices are served first", testMatchPricePriority)
	t.Run("equal prices break ties by id", testMatchTieBreak)
	t.Run("second pass changes nothing", testMatchIdempotent)
	t.Run("only the authority may match", testMatchUnauthorized)
	t.Run("failed settlement commits nothing", testMatchSettlementFailure)
	t.Run("empty book is a no-op", testMatchEmpty)
}

func testMatchPartialCross(t *testing.T) {
	b := newTestBook(t, 0)
	e := newMemEscrow()
	e.fund(alice, orderbook.Quote, 100)
	e.fund(bob, orderbook.Base, 60)

	buy := place(t, b, e, alice, orderbook.Buy, 100, 10)
	sell := place(t, b, e, bob, orderbook.Sell, 60, 9)

	res, err := b.Match(context.Background(), authority, e)
	require.NoError(t, err)

	require.Len(t, res.Fills, 1)
	assert.Equal(t, orderbook.Fill{
		BuyID: buy, SellID: sell, Buyer: alice, Seller: bob,
		Quantity: 60, BuyPrice: 10, SellPrice: 9,
	}, res.Fills[0])

	o, ok := b.Order(buy)
	require.True(t, ok)
	assert.Equal(t, uint64(60), o.Fulfilled)
	assert.Equal(t, uint64(40), o.Remaining())

	_, ok = b.Order(sell)
	assert.False(t, ok, "fully filled sell must be pruned")

	require.Len(t, res.Pruned, 1)
	assert.Equal(t, sell, res.Pruned[0].ID)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, buy, res.Updated[0].ID)

	assert.Equal(t, uint64(60), e.balance(bob, orderbook.Quote))
	assert.Equal(t, uint64(60), e.balance(alice, orderbook.Base))
	assert.Equal(t, uint64(40), e.balance(orderbook.CustodyIdentity, orderbook.Quote))
	assert.Equal(t, uint64(0), e.balance(orderbook.CustodyIdentity, orderbook.Base))
}

func testMatchNoCross(t *testing.T) {
	b := newTestBook(t, 0)
	e := newMemEscrow()
	e.fund(alice, orderbook.Quote, 50)
	e.fund(bob, orderbook.Base, 50)

	place(t, b, e, alice, orderbook.Buy, 50, 5)
	place(t, b, e, bob, orderbook.Sell, 50, 6)
	calls := len(e.calls)

	res, err := b.Match(context.Background(), authority, e)
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.Equal(t, calls, len(e.calls), "no settlement call without fills")

	for _, o := range b.Orders() {
		assert.Equal(t, uint64(0), o.Fulfilled)
	}
	assert.Equal(t, 2, b.Len())
}

func testMatchPricePriority(t *testing.T) {
	b := newTestBook(t, 0)
	e := newMemEscrow()
	e.fund(alice, orderbook.Quote, 100)
	e.fund(bob, orderbook.Base, 100)
	e.fund(carol, orderbook.Base, 100)

	buy := place(t, b, e, alice, orderbook.Buy, 30, 10)
	worse := place(t, b, e, bob, orderbook.Sell, 30, 9)
	better := place(t, b, e, carol, orderbook.Sell, 20, 7)

	res, err := b.Match(context.Background(), authority, e)
	require.NoError(t, err)
	require.Len(t, res.Fills, 2)

	assert.Equal(t, better, res.Fills[0].SellID)
	assert.Equal(t, uint64(20), res.Fills[0].Quantity)
	assert.Equal(t, worse, res.Fills[1].SellID)
	assert.Equal(t, uint64(10), res.Fills[1].Quantity)

	_, ok := b.Order(buy)
	assert.False(t, ok)
	o, ok := b.Order(worse)
	require.True(t, ok)
	assert.Equal(t, uint64(20), o.Remaining())
}

func testMatchTieBreak(t *testing.T) {
	b := newTestBook(t, 0)
	e := newMemEscrow()
	e.fund(alice, orderbook.Quote, 100)
	e.fund(bob, orderbook.Quote, 100)
	e.fund(carol, orderbook.Base, 100)

	first := place(t, b, e, alice, orderbook.Buy, 10, 5)
	second := place(t, b, e, bob, orderbook.Buy, 10, 5)
	place(t, b, e, carol, orderbook.Sell, 10, 5)

	res, err := b.Match(context.Background(), authority, e)
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, first, res.Fills[0].BuyID)

	o, ok := b.Order(second)
	require.True(t, ok)
	assert.Equal(t, uint64(0), o.Fulfilled)
}

func testMatchIdempotent(t *testing.T) {
	b := newTestBook(t, 0)
	e := newMemEscrow()
	e.fund(alice, orderbook.Quote, 100)
	e.fund(bob, orderbook.Base, 100)

	place(t, b, e, alice, orderbook.Buy, 100, 10)
	place(t, b, e, bob, orderbook.Sell, 30, 8)
	place(t, b, e, bob, orderbook.Sell, 30, 12)

	_, err := b.Match(context.Background(), authority, e)
	require.NoError(t, err)
	before := b.Orders()
	calls := len(e.calls)

	res, err := b.Match(context.Background(), authority, e)
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	assert.Empty(t, res.Pruned)
	assert.Equal(t, before, b.Orders())
	assert.Equal(t, calls, len(e.calls))
}

func testMatchUnauthorized(t *testing.T) {
	b := newTestBook(t, 0)
	e := newMemEscrow()
	e.fund(alice, orderbook.Quote, 10)
	e.fund(bob, orderbook.Base, 10)
	place(t, b, e, alice, orderbook.Buy, 10, 1)
	place(t, b, e, bob, orderbook.Sell, 10, 1)

	_, err := b.Match(context.Background(), alice, e)
	assert.True(t, errors.Is(err, orderbook.ErrUnauthorized))
	assert.Equal(t, 2, b.Len())
}

func testMatchSettlementFailure(t *testing.T) {
	b := newTestBook(t, 0)
	e := newMemEscrow()
	e.fund(alice, orderbook.Quote, 100)
	e.fund(bob, orderbook.Base, 100)
	place(t, b, e, alice, orderbook.Buy, 100, 10)
	place(t, b, e, bob, orderbook.Sell, 40, 9)
	place(t, b, e, bob, orderbook.Sell, 40, 10)
	before := b.Orders()

	e.failNext = true
	_, err := b.Match(context.Background(), authority, e)
	assert.True(t, errors.Is(err, orderbook.ErrTransferFailed))
	assert.Equal(t, before, b.Orders())
	assert.Equal(t, uint64(0), e.balance(bob, orderbook.Quote))
	assert.Equal(t, uint64(0), e.balance(alice, orderbook.Base))

	_, err = b.Match(context.Background(), authority, failingEscrow{err: context.Canceled})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, before, b.Orders())

	// retry settles everything
	res, err := b.Match(context.Background(), authority, e)
	require.NoError(t, err)
	assert.Len(t, res.Fills, 2)
	assert.Equal(t, uint64(80), e.balance(bob, orderbook.Quote))
}

func testMatchEmpty(t *testing.T) {
	b := newTestBook(t, 0)
	res, err := b.Match(context.Background(), authority, newMemEscrow())
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
}
