package grpcserver

import "dex/domain/orderbook"

type InitializeRequest struct {
	// Authority defaults to the caller.
	Authority string `json:"authority,omitempty"`
}

type InitializeResponse struct {
	Authority string `json:"authority"`
}

// DepositRequest credits Owner, or the caller when Owner is empty.
type DepositRequest struct {
	Owner  string `json:"owner,omitempty"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type DepositResponse struct {
	Balance uint64 `json:"balance"`
}

type PlaceOrderRequest struct {
	Side   string `json:"side"`
	Amount uint64 `json:"amount"`
	Price  uint64 `json:"price"`
}

type PlaceOrderResponse struct {
	Order Order `json:"order"`
}

type CancelOrderRequest struct {
	OrderID uint64 `json:"order_id"`
}

type CancelOrderResponse struct {
	Order    Order  `json:"order"`
	Refunded uint64 `json:"refunded"`
}

type MatchOrdersRequest struct{}

type MatchOrdersResponse struct {
	Fills  []Fill   `json:"fills"`
	Pruned []uint64 `json:"pruned"`
}

type ListOrdersRequest struct{}

type ListOrdersResponse struct {
	Orders []Order `json:"orders"`
}

type GetOrderRequest struct {
	OrderID uint64 `json:"order_id"`
}

type GetOrderResponse struct {
	Order Order `json:"order"`
}

type GetBalanceRequest struct {
	// Owner defaults to the caller.
	Owner string `json:"owner,omitempty"`
	Asset string `json:"asset"`
}

type GetBalanceResponse struct {
	Balance uint64 `json:"balance"`
}

type Order struct {
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	Side      string `json:"side"`
	Amount    uint64 `json:"amount"`
	Price     uint64 `json:"price"`
	Fulfilled uint64 `json:"fulfilled"`
}

type Fill struct {
	BuyID     uint64 `json:"buy_id"`
	SellID    uint64 `json:"sell_id"`
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
	Quantity  uint64 `json:"quantity"`
	BuyPrice  uint64 `json:"buy_price"`
	SellPrice uint64 `json:"sell_price"`
}

// -------------------- Converters --------------------

func fromOrder(o orderbook.Order) Order {
	return Order{
		ID:        o.ID,
		Owner:     string(o.Owner),
		Side:      o.Side.String(),
		Amount:    o.Amount,
		Price:     o.Price,
		Fulfilled: o.Fulfilled,
	}
}

func fromOrders(in []orderbook.Order) []Order {
	out := make([]Order, 0, len(in))
	for _, o := range in {
		out = append(out, fromOrder(o))
	}
	return out
}

func fromFill(f orderbook.Fill) Fill {
	return Fill{
		BuyID:     f.BuyID,
		SellID:    f.SellID,
		Buyer:     string(f.Buyer),
		Seller:    string(f.Seller),
		Quantity:  f.Quantity,
		BuyPrice:  f.BuyPrice,
		SellPrice: f.SellPrice,
	}
}
