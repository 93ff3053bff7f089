package orderbook

import (
	"fmt"
	"math/bits"

	"github.com/pkg/errors"
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the two book sides.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// ParseSide accepts "buy"/"sell" (and the bid/ask aliases).
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy", "BUY", "bid", "BID":
		return Buy, nil
	case "sell", "SELL", "ask", "ASK":
		return Sell, nil
	}
	return 0, errors.Wrapf(ErrInvalidOrderParameters, "unknown side %q", s)
}

// Asset is the escrowed leg of the side.
// Buyers lock quote, sellers lock base.
func (s Side) Asset() Asset {
	if s == Buy {
		return Quote
	}
	return Base
}

type OrderID = uint64

// Order is a pure domain entity.
// Amount and Price never change after admission; Fulfilled only grows.
type Order struct {
	ID        OrderID
	Owner     Identity
	Side      Side
	Amount    uint64
	Price     uint64
	Fulfilled uint64
}

func (o *Order) Remaining() uint64 {
	return o.Amount - o.Fulfilled
}

func (o *Order) FullyFilled() bool {
	return o.Fulfilled == o.Amount
}

// Fill records q more matched units.
// It refuses to wrap or to push Fulfilled past Amount.
func (o *Order) Fill(q uint64) error {
	sum, carry := bits.Add64(o.Fulfilled, q, 0)
	if carry != 0 || sum > o.Amount {
		return ErrArithmeticOverflow
	}
	o.Fulfilled = sum
	return nil
}

func (o Order) String() string {
	return fmt.Sprintf("Order{ID=%d, Owner=%s, Side=%s, Amount=%d, Price=%d, Fulfilled=%d}",
		o.ID, o.Owner, o.Side, o.Amount, o.Price, o.Fulfilled)
}
