package service

import (
	"encoding/json"
	"time"

	"dex/domain/orderbook"
)

const eventVersion = 1

const (
	EventInitialized    = "initialized"
	EventDeposit        = "deposit"
	EventOrderPlaced    = "order_placed"
	EventOrderCancelled = "order_cancelled"
	EventFill           = "fill"
	EventOrderPruned    = "order_pruned"
)

// Event is one externally visible consequence of a command.
type Event struct {
	Type      string `json:"type"`
	OrderID   uint64 `json:"order_id,omitempty"`
	BuyID     uint64 `json:"buy_id,omitempty"`
	SellID    uint64 `json:"sell_id,omitempty"`
	Authority string `json:"authority,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Buyer     string `json:"buyer,omitempty"`
	Seller    string `json:"seller,omitempty"`
	Side      string `json:"side,omitempty"`
	Asset     string `json:"asset,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
	Price     uint64 `json:"price,omitempty"`
	Quantity  uint64 `json:"quantity,omitempty"`
	BuyPrice  uint64 `json:"buy_price,omitempty"`
	SellPrice uint64 `json:"sell_price,omitempty"`
	Refunded  uint64 `json:"refunded,omitempty"`
	Balance   uint64 `json:"balance,omitempty"`
}

// Envelope is what one command publishes: all of its events under the
// command's journal sequence.
type Envelope struct {
	V       int     `json:"v"`
	Seq     uint64  `json:"seq"`
	Command string  `json:"command"`
	Time    int64   `json:"time"`
	Events  []Event `json:"events"`
}

func encodeEnvelope(seq uint64, command string, events []Event) ([]byte, error) {
	return json.Marshal(Envelope{
		V:       eventVersion,
		Seq:     seq,
		Command: command,
		Time:    time.Now().UnixNano(),
		Events:  events,
	})
}

func placedEvent(o orderbook.Order) Event {
	return Event{
		Type:    EventOrderPlaced,
		OrderID: o.ID,
		Owner:   string(o.Owner),
		Side:    o.Side.String(),
		Amount:  o.Amount,
		Price:   o.Price,
	}
}

func cancelledEvent(o orderbook.Order) Event {
	return Event{
		Type:     EventOrderCancelled,
		OrderID:  o.ID,
		Owner:    string(o.Owner),
		Side:     o.Side.String(),
		Refunded: o.Remaining(),
	}
}

func fillEvent(f orderbook.Fill) Event {
	return Event{
		Type:      EventFill,
		BuyID:     f.BuyID,
		SellID:    f.SellID,
		Buyer:     string(f.Buyer),
		Seller:    string(f.Seller),
		Quantity:  f.Quantity,
		BuyPrice:  f.BuyPrice,
		SellPrice: f.SellPrice,
	}
}

func prunedEvent(o orderbook.Order) Event {
	return Event{
		Type:    EventOrderPruned,
		OrderID: o.ID,
		Owner:   string(o.Owner),
		Side:    o.Side.String(),
		Amount:  o.Amount,
	}
}

func initializedEvent(authority orderbook.Identity) Event {
	return Event{Type: EventInitialized, Authority: string(authority)}
}

func depositEvent(a orderbook.Account, amount, balance uint64) Event {
	return Event{
		Type:    EventDeposit,
		Owner:   string(a.Owner),
		Asset:   a.Asset.String(),
		Amount:  amount,
		Balance: balance,
	}
}
