package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"dex/domain/orderbook"

	"github.com/pkg/errors"
)

// ---- keys ----

var (
	keyAuthority = []byte("meta/authority")
	keyNextID    = []byte("meta/next_id")
	keySeq       = []byte("meta/seq")
)

const (
	orderPrefix   = "order/"
	balancePrefix = "balance/"
)

func orderKey(id orderbook.OrderID) []byte {
	return []byte(fmt.Sprintf("%s%020d", orderPrefix, id))
}

func balanceKey(a orderbook.Account) []byte {
	return []byte(balancePrefix + a.Asset.String() + "/" + string(a.Owner))
}

func parseBalanceKey(b []byte) (orderbook.Account, error) {
	rest := strings.TrimPrefix(string(b), balancePrefix)
	asset, owner, ok := strings.Cut(rest, "/")
	if !ok {
		return orderbook.Account{}, errors.Wrapf(ErrCorruptRecord, "balance key %q", b)
	}
	a, err := orderbook.ParseAsset(asset)
	if err != nil {
		return orderbook.Account{}, errors.Wrapf(ErrCorruptRecord, "balance key %q", b)
	}
	return orderbook.Account{Owner: orderbook.Identity(owner), Asset: a}, nil
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}

// ---- values ----

// order frame: [id:8][side:1][amount:8][price:8][fulfilled:8][ownerLen:2][owner]
const orderFixedSize = 8 + 1 + 8 + 8 + 8 + 2

func encodeOrder(o orderbook.Order) ([]byte, error) {
	if len(o.Owner) > math.MaxUint16 {
		return nil, errors.Wrapf(orderbook.ErrInvalidIdentity, "order %d owner of %d bytes", o.ID, len(o.Owner))
	}
	buf := make([]byte, 0, orderFixedSize+len(o.Owner))
	buf = binary.LittleEndian.AppendUint64(buf, o.ID)
	buf = append(buf, byte(o.Side))
	buf = binary.LittleEndian.AppendUint64(buf, o.Amount)
	buf = binary.LittleEndian.AppendUint64(buf, o.Price)
	buf = binary.LittleEndian.AppendUint64(buf, o.Fulfilled)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(o.Owner)))
	return append(buf, o.Owner...), nil
}

func decodeOrder(b []byte) (orderbook.Order, error) {
	if len(b) < orderFixedSize {
		return orderbook.Order{}, errors.Wrapf(ErrCorruptRecord, "order record of %d bytes", len(b))
	}
	o := orderbook.Order{
		ID:        binary.LittleEndian.Uint64(b[0:8]),
		Side:      orderbook.Side(b[8]),
		Amount:    binary.LittleEndian.Uint64(b[9:17]),
		Price:     binary.LittleEndian.Uint64(b[17:25]),
		Fulfilled: binary.LittleEndian.Uint64(b[25:33]),
	}
	n := int(binary.LittleEndian.Uint16(b[33:35]))
	if len(b) != orderFixedSize+n {
		return orderbook.Order{}, errors.Wrapf(ErrCorruptRecord, "order %d owner length %d", o.ID, n)
	}
	o.Owner = orderbook.Identity(b[orderFixedSize:])
	return o, nil
}

func encodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.Wrapf(ErrCorruptRecord, "expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
