package orderbook_test

import (
	"context"
	"fmt"
	"math/bits"
	"testing"

	"dex/domain/orderbook"

	"github.com/stretchr/testify/require"
)

const (
	authority orderbook.Identity = "authority"
	alice     orderbook.Identity = "alice"
	bob       orderbook.Identity = "bob"
	carol     orderbook.Identity = "carol"
)

// memEscrow is an all-or-nothing balance map.
type memEscrow struct {
	balances map[orderbook.Account]uint64
	calls    [][]orderbook.Transfer
	failNext bool
}

func newMemEscrow() *memEscrow {
	return &memEscrow{balances: make(map[orderbook.Account]uint64)}
}

func (e *memEscrow) fund(owner orderbook.Identity, asset orderbook.Asset, amount uint64) {
	e.balances[orderbook.Account{Owner: owner, Asset: asset}] += amount
}

func (e *memEscrow) balance(owner orderbook.Identity, asset orderbook.Asset) uint64 {
	return e.balances[orderbook.Account{Owner: owner, Asset: asset}]
}

func (e *memEscrow) total(asset orderbook.Asset) uint64 {
	var sum uint64
	for acct, v := range e.balances {
		if acct.Asset == asset {
			sum += v
		}
	}
	return sum
}

func (e *memEscrow) Transfer(_ context.Context, legs ...orderbook.Transfer) error {
	if e.failNext {
		e.failNext = false
		return fmt.Errorf("escrow offline")
	}
	next := make(map[orderbook.Account]uint64, len(e.balances))
	for k, v := range e.balances {
		next[k] = v
	}
	for _, l := range legs {
		if l.From.Asset != l.To.Asset {
			return fmt.Errorf("asset mismatch %s -> %s", l.From, l.To)
		}
		if next[l.From] < l.Amount {
			return fmt.Errorf("insufficient balance in %s", l.From)
		}
		next[l.From] -= l.Amount
		sum, carry := bits.Add64(next[l.To], l.Amount, 0)
		if carry != 0 {
			return fmt.Errorf("balance overflow in %s", l.To)
		}
		next[l.To] = sum
	}
	e.balances = next
	e.calls = append(e.calls, legs)
	return nil
}

func newTestBook(t *testing.T, maxOrders int) *orderbook.OrderBook {
	t.Helper()
	b, err := orderbook.NewOrderBook(authority, maxOrders)
	require.NoError(t, err)
	return b
}

func place(t *testing.T, b *orderbook.OrderBook, e *memEscrow, owner orderbook.Identity, side orderbook.Side, amount, price uint64) orderbook.OrderID {
	t.Helper()
	id, err := b.Place(context.Background(), owner, side, amount, price, e)
	require.NoError(t, err)
	return id
}
