package store

import (
	"context"
	"math/bits"

	"dex/domain/orderbook"
	"dex/infra/outbox"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// Tx is one command's view of the store. Nothing is visible to other
// readers until Commit.
type Tx struct {
	b    *pebble.Batch
	done bool
}

var _ orderbook.Escrow = (*Tx)(nil)

func (tx *Tx) Balance(a orderbook.Account) (uint64, error) {
	return readBalance(tx.b, a)
}

// Transfer applies every leg or none. Balances are computed in memory first
// and only written once all legs have been checked.
func (tx *Tx) Transfer(ctx context.Context, legs ...orderbook.Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	next := make(map[orderbook.Account]uint64)
	load := func(a orderbook.Account) (uint64, error) {
		if v, ok := next[a]; ok {
			return v, nil
		}
		return tx.Balance(a)
	}

	for _, l := range legs {
		if l.From.Asset != l.To.Asset {
			return errors.Wrapf(ErrAssetMismatch, "%s -> %s", l.From, l.To)
		}
		from, err := load(l.From)
		if err != nil {
			return err
		}
		if from < l.Amount {
			return errors.Wrapf(ErrInsufficientFunds, "%s holds %d, needs %d", l.From, from, l.Amount)
		}
		next[l.From] = from - l.Amount

		to, err := load(l.To)
		if err != nil {
			return err
		}
		sum, carry := bits.Add64(to, l.Amount, 0)
		if carry != 0 {
			return errors.Wrapf(ErrBalanceOverflow, "%s", l.To)
		}
		next[l.To] = sum
	}

	for acct, v := range next {
		if err := tx.putBalance(acct, v); err != nil {
			return err
		}
	}
	return nil
}

// Initialize records the book authority and an empty id counter. It fails
// if the exchange already has an authority, committed or staged.
func (tx *Tx) Initialize(authority orderbook.Identity) error {
	if err := orderbook.CheckIdentity(authority); err != nil {
		return errors.Wrap(err, "authority")
	}
	_, closer, err := tx.b.Get(keyAuthority)
	switch {
	case err == nil:
		closer.Close()
		return ErrAlreadyInitialized
	case !errors.Is(err, pebble.ErrNotFound):
		return err
	}
	if err := tx.b.Set(keyAuthority, []byte(authority), nil); err != nil {
		return err
	}
	return tx.PutNextID(0)
}

// Credit mints amount into a (deposits from outside the exchange).
func (tx *Tx) Credit(a orderbook.Account, amount uint64) (uint64, error) {
	cur, err := tx.Balance(a)
	if err != nil {
		return 0, err
	}
	sum, carry := bits.Add64(cur, amount, 0)
	if carry != 0 {
		return 0, errors.Wrapf(ErrBalanceOverflow, "%s", a)
	}
	return sum, tx.putBalance(a, sum)
}

func (tx *Tx) putBalance(a orderbook.Account, v uint64) error {
	if v == 0 {
		return tx.b.Delete(balanceKey(a), nil)
	}
	return tx.b.Set(balanceKey(a), encodeUint64(v), nil)
}

func (tx *Tx) PutOrder(o orderbook.Order) error {
	raw, err := encodeOrder(o)
	if err != nil {
		return err
	}
	return tx.b.Set(orderKey(o.ID), raw, nil)
}

func (tx *Tx) DeleteOrder(id orderbook.OrderID) error {
	return tx.b.Delete(orderKey(id), nil)
}

func (tx *Tx) PutNextID(id orderbook.OrderID) error {
	return tx.b.Set(keyNextID, encodeUint64(id), nil)
}

// PutSeq records the journal sequence of the command this Tx belongs to.
func (tx *Tx) PutSeq(seq uint64) error {
	return tx.b.Set(keySeq, encodeUint64(seq), nil)
}

// Enqueue stages an outbox event in this transaction.
func (tx *Tx) Enqueue(seq uint64, payload []byte) error {
	return outbox.PutNew(tx.b, seq, payload)
}

func (tx *Tx) Commit() error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.done = true
	defer tx.b.Close()
	return tx.b.Commit(pebble.Sync)
}

// Discard drops every staged write. It is safe to call after Commit.
func (tx *Tx) Discard() {
	if tx.done {
		return
	}
	tx.done = true
	_ = tx.b.Close()
}
