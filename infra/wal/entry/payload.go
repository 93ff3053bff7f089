package entry

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Command is the journaled form of one committed operation. It is encoded in
// protobuf wire format so old journals stay readable when fields are added.
type Command struct {
	Caller  string // 1
	Side    uint32 // 2
	Amount  uint64 // 3
	Price   uint64 // 4
	OrderID uint64 // 5
	Asset   uint32 // 6
	Fills   uint64 // 7
	Pruned  uint64 // 8
	Owner   string // 9, credited account of a deposit
}

const (
	fieldCaller protowire.Number = iota + 1
	fieldSide
	fieldAmount
	fieldPrice
	fieldOrderID
	fieldAsset
	fieldFills
	fieldPruned
	fieldOwner
)

func (c *Command) Marshal() []byte {
	var b []byte
	b = appendString(b, fieldCaller, c.Caller)
	b = appendVarint(b, fieldSide, uint64(c.Side))
	b = appendVarint(b, fieldAmount, c.Amount)
	b = appendVarint(b, fieldPrice, c.Price)
	b = appendVarint(b, fieldOrderID, c.OrderID)
	b = appendVarint(b, fieldAsset, uint64(c.Asset))
	b = appendVarint(b, fieldFills, c.Fills)
	b = appendVarint(b, fieldPruned, c.Pruned)
	b = appendString(b, fieldOwner, c.Owner)
	return b
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func (c *Command) Unmarshal(b []byte) error {
	*c = Command{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "command tag")
		}
		b = b[n:]

		switch {
		case (num == fieldCaller || num == fieldOwner) && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "command field %d", num)
			}
			if num == fieldCaller {
				c.Caller = v
			} else {
				c.Owner = v
			}
			b = b[n:]
		case typ == protowire.VarintType && num >= fieldSide && num <= fieldPruned:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "command field %d", num)
			}
			c.setVarint(num, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "command field %d", num)
			}
			b = b[n:]
		}
	}
	return nil
}

func (c *Command) setVarint(num protowire.Number, v uint64) {
	switch num {
	case fieldSide:
		c.Side = uint32(v)
	case fieldAmount:
		c.Amount = v
	case fieldPrice:
		c.Price = v
	case fieldOrderID:
		c.OrderID = v
	case fieldAsset:
		c.Asset = uint32(v)
	case fieldFills:
		c.Fills = v
	case fieldPruned:
		c.Pruned = v
	}
}
