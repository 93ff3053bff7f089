package store

import (
	"dex/domain/orderbook"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrNotInitialized     = errors.New("exchange not initialized")
	ErrAlreadyInitialized = errors.New("exchange already initialized")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrBalanceOverflow    = errors.New("balance overflow")
	ErrAssetMismatch      = errors.New("transfer between different assets")
	ErrCorruptRecord      = errors.New("corrupt record")
)

// Store persists the book and the escrow ledger in one pebble database.
//
// Every command runs inside a single Tx so that the book rows, the balances
// and the outbox entries it produces become visible together or not at all.
type Store struct {
	db  *pebble.DB
	log *zap.Logger
}

func Open(dir string, log *zap.Logger) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", dir)
	}
	return &Store{db: db, log: log.Named("store")}, nil
}

// OpenInMemory is backed by pebble's in-memory filesystem.
func OpenInMemory(log *zap.Logger) (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory pebble")
	}
	return &Store{db: db, log: log.Named("store")}, nil
}

func (s *Store) DB() *pebble.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadBook rebuilds the in-memory book from committed state.
func (s *Store) LoadBook(maxOrders int) (*orderbook.OrderBook, error) {
	authority, err := s.get(keyAuthority)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	raw, err := s.get(keyNextID)
	if err != nil {
		return nil, errors.Wrap(err, "read next id")
	}
	nextID, err := decodeUint64(raw)
	if err != nil {
		return nil, err
	}

	var orders []orderbook.Order
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(orderPrefix),
		UpperBound: upperBound(orderPrefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		o, err := decodeOrder(iter.Value())
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	s.log.Debug("loading book",
		zap.ByteString("authority", authority),
		zap.Uint64("next_id", nextID),
		zap.Int("orders", len(orders)))
	return orderbook.Restore(orderbook.Identity(authority), nextID, maxOrders, orders)
}

// LastSeq is the sequence of the newest committed command, zero if none.
func (s *Store) LastSeq() (uint64, error) {
	raw, err := s.get(keySeq)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeUint64(raw)
}

// Balance reads a committed balance. Unknown accounts hold zero.
func (s *Store) Balance(a orderbook.Account) (uint64, error) {
	return readBalance(s.db, a)
}

// Balances lists every non-zero committed balance.
func (s *Store) Balances() (map[orderbook.Account]uint64, error) {
	out := make(map[orderbook.Account]uint64)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(balancePrefix),
		UpperBound: upperBound(balancePrefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		acct, err := parseBalanceKey(iter.Key())
		if err != nil {
			return nil, err
		}
		v, err := decodeUint64(iter.Value())
		if err != nil {
			return nil, err
		}
		out[acct] = v
	}
	return out, iter.Error()
}

// Begin opens an indexed batch; reads through it observe its own writes.
func (s *Store) Begin() *Tx {
	return &Tx{b: s.db.NewIndexedBatch()}
}

func (s *Store) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func readBalance(r pebble.Reader, a orderbook.Account) (uint64, error) {
	val, closer, err := r.Get(balanceKey(a))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return decodeUint64(val)
}
