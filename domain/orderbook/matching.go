package orderbook

import (
	"cmp"
	"context"
	"slices"

	"github.com/pkg/errors"
)

// Fill is one crossing between a buy and a sell order.
type Fill struct {
	BuyID     OrderID
	SellID    OrderID
	Buyer     Identity
	Seller    Identity
	Quantity  uint64
	BuyPrice  uint64
	SellPrice uint64
}

// MatchResult describes what a committed matching pass changed.
type MatchResult struct {
	Fills []Fill
	// Updated holds orders that were partially filled and stay live.
	Updated []Order
	// Pruned holds fully filled orders removed from the book.
	Pruned []Order
}

// Match crosses the whole book once.
//
// Bids are walked best price first, asks likewise, equal prices by ascending
// id. The walk runs on working copies; the book is only touched after every
// settlement leg of the pass was accepted by the escrow in a single call.
func (b *OrderBook) Match(ctx context.Context, caller Identity, escrow Escrow) (MatchResult, error) {
	if caller != b.authority {
		return MatchResult{}, errors.Wrapf(ErrUnauthorized, "caller %q", caller)
	}

	bids, asks := b.sortedSides()
	fills, err := cross(bids, asks)
	if err != nil {
		return MatchResult{}, err
	}

	if len(fills) > 0 {
		if err := escrow.Transfer(ctx, settlementLegs(fills)...); err != nil {
			return MatchResult{}, transferFailed(err, "settle %d fills", len(fills))
		}
	}

	// ---- commit ----

	var res MatchResult
	res.Fills = fills
	touched := make(map[OrderID]struct{}, 2*len(fills))
	for _, f := range fills {
		touched[f.BuyID] = struct{}{}
		touched[f.SellID] = struct{}{}
	}
	for _, side := range [][]Order{bids, asks} {
		for i := range side {
			w := &side[i]
			if _, ok := touched[w.ID]; !ok {
				continue
			}
			b.orders[w.ID].Fulfilled = w.Fulfilled
		}
	}

	for _, o := range b.Orders() {
		switch {
		case o.FullyFilled():
			delete(b.orders, o.ID)
			res.Pruned = append(res.Pruned, o)
		case isTouched(touched, o.ID):
			res.Updated = append(res.Updated, o)
		}
	}
	return res, nil
}

func isTouched(set map[OrderID]struct{}, id OrderID) bool {
	_, ok := set[id]
	return ok
}

// sortedSides returns working copies of the open orders on each side.
func (b *OrderBook) sortedSides() (bids, asks []Order) {
	for _, o := range b.orders {
		if o.FullyFilled() {
			continue
		}
		if o.Side == Buy {
			bids = append(bids, *o)
		} else {
			asks = append(asks, *o)
		}
	}
	slices.SortFunc(bids, func(x, y Order) int {
		if c := cmp.Compare(y.Price, x.Price); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	slices.SortFunc(asks, func(x, y Order) int {
		if c := cmp.Compare(x.Price, y.Price); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return bids, asks
}

// cross runs the greedy two-cursor walk over the sorted working copies and
// mutates their Fulfilled counters.
func cross(bids, asks []Order) ([]Fill, error) {
	var fills []Fill
	i, j := 0, 0
	for i < len(bids) && j < len(asks) {
		bid, ask := &bids[i], &asks[j]
		if bid.Price < ask.Price {
			break
		}

		qty := min(bid.Remaining(), ask.Remaining())
		if err := bid.Fill(qty); err != nil {
			return nil, errors.Wrapf(err, "fill buy order %d", bid.ID)
		}
		if err := ask.Fill(qty); err != nil {
			return nil, errors.Wrapf(err, "fill sell order %d", ask.ID)
		}

		fills = append(fills, Fill{
			BuyID:     bid.ID,
			SellID:    ask.ID,
			Buyer:     bid.Owner,
			Seller:    ask.Owner,
			Quantity:  qty,
			BuyPrice:  bid.Price,
			SellPrice: ask.Price,
		})

		if bid.FullyFilled() {
			i++
		}
		if ask.FullyFilled() {
			j++
		}
	}
	return fills, nil
}

// settlementLegs moves the escrowed quote to the seller and the escrowed base
// to the buyer for every fill.
func settlementLegs(fills []Fill) []Transfer {
	legs := make([]Transfer, 0, 2*len(fills))
	for _, f := range fills {
		legs = append(legs,
			Transfer{
				From:   CustodyAccount(Quote),
				To:     Account{Owner: f.Seller, Asset: Quote},
				Amount: f.Quantity,
			},
			Transfer{
				From:   CustodyAccount(Base),
				To:     Account{Owner: f.Buyer, Asset: Base},
				Amount: f.Quantity,
			},
		)
	}
	return legs
}
