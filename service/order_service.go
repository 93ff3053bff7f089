package service

import (
	"context"
	"math"
	"math/bits"
	"sync"
	"time"

	"dex/domain/orderbook"
	"dex/infra/metrics"
	"dex/infra/sequence"
	"dex/infra/store"
	"dex/infra/wal/entry"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrInvalidAmount signals a zero deposit.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrUnavailable signals the in-memory book could not be rebuilt after a
	// failed commit. The process has to be restarted.
	ErrUnavailable = errors.New("order service unavailable")
)

const (
	cmdInitialize = "initialize"
	cmdDeposit    = "deposit"
	cmdPlace      = "place"
	cmdCancel     = "cancel"
	cmdMatch      = "match"
)

/*
OrderService is the ONLY write entry point into the system.

Commands are serialised by mu. The book is never observed half-way through a
command and is only left changed if the storage transaction committed.
*/
type OrderService struct {
	mu sync.Mutex

	store     *store.Store
	book      *orderbook.OrderBook
	broken    bool
	journal   *entry.WAL
	seq       *sequence.Sequencer
	metrics   *metrics.Metrics
	log       *zap.Logger
	maxOrders int
}

// NewOrderService loads the committed book, if the exchange was initialized.
// journal may be nil, in which case commands are not journaled.
func NewOrderService(
	st *store.Store,
	journal *entry.WAL,
	seq *sequence.Sequencer,
	m *metrics.Metrics,
	maxOrders int,
	log *zap.Logger,
) (*OrderService, error) {
	if m == nil {
		m = metrics.New()
	}
	s := &OrderService{
		store:     st,
		journal:   journal,
		seq:       seq,
		metrics:   m,
		log:       log.Named("service"),
		maxOrders: maxOrders,
	}

	book, err := st.LoadBook(maxOrders)
	switch {
	case errors.Is(err, store.ErrNotInitialized):
		s.log.Info("exchange not initialized yet")
	case err != nil:
		return nil, errors.Wrap(err, "load book")
	default:
		s.book = book
		s.metrics.LiveOrders.Set(float64(book.Len()))
		s.log.Info("book loaded",
			zap.String("authority", string(book.Authority())),
			zap.Int("orders", book.Len()),
			zap.Uint64("next_id", book.NextID()))
	}
	return s, nil
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// Initialize creates the book and records its authority.
func (s *OrderService) Initialize(ctx context.Context, authority orderbook.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := time.Now()

	err := s.initialize(ctx, authority)
	s.observe(cmdInitialize, started, err)
	return err
}

func (s *OrderService) initialize(ctx context.Context, authority orderbook.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.broken {
		return ErrUnavailable
	}
	book, err := orderbook.NewOrderBook(authority, s.maxOrders)
	if err != nil {
		return err
	}

	tx := s.store.Begin()
	defer tx.Discard()

	if err := tx.Initialize(authority); err != nil {
		return err
	}
	cmd := &entry.Command{Caller: string(authority)}
	seq, err := s.commit(tx, cmdInitialize, entry.RecordInit, cmd, []Event{initializedEvent(authority)})
	if err != nil {
		return err
	}
	s.book = book

	s.log.Info("exchange initialized", zap.Uint64("seq", seq), zap.String("authority", string(authority)))
	return nil
}

// Deposit credits owner's account from outside the exchange and returns the
// new balance. Only the book authority may fund accounts.
func (s *OrderService) Deposit(
	ctx context.Context,
	caller orderbook.Identity,
	owner orderbook.Identity,
	asset orderbook.Asset,
	amount uint64,
) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := time.Now()

	bal, err := s.deposit(ctx, caller, owner, asset, amount)
	s.observe(cmdDeposit, started, err)
	return bal, err
}

func (s *OrderService) deposit(
	ctx context.Context,
	caller orderbook.Identity,
	owner orderbook.Identity,
	asset orderbook.Asset,
	amount uint64,
) (uint64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	if caller != s.book.Authority() {
		return 0, errors.Wrapf(orderbook.ErrUnauthorized, "caller %q", caller)
	}
	if err := orderbook.CheckIdentity(owner); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, errors.Wrap(ErrInvalidAmount, "deposit of zero")
	}
	acct := orderbook.Account{Owner: owner, Asset: asset}

	tx := s.store.Begin()
	defer tx.Discard()

	bal, err := tx.Credit(acct, amount)
	if err != nil {
		return 0, err
	}
	cmd := &entry.Command{Caller: string(caller), Owner: string(owner), Asset: uint32(asset), Amount: amount}
	seq, err := s.commit(tx, cmdDeposit, entry.RecordDeposit, cmd, []Event{depositEvent(acct, amount, bal)})
	if err != nil {
		return 0, err
	}
	s.log.Debug("deposit",
		zap.Uint64("seq", seq),
		zap.Stringer("account", acct),
		zap.Uint64("amount", amount),
		zap.Uint64("balance", bal))
	return bal, nil
}

// PlaceOrder escrows the order's collateral and rests it in the book.
func (s *OrderService) PlaceOrder(
	ctx context.Context,
	caller orderbook.Identity,
	side orderbook.Side,
	amount uint64,
	price uint64,
) (orderbook.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := time.Now()

	o, err := s.place(ctx, caller, side, amount, price)
	s.observe(cmdPlace, started, err)
	return o, err
}

func (s *OrderService) place(
	ctx context.Context,
	caller orderbook.Identity,
	side orderbook.Side,
	amount uint64,
	price uint64,
) (orderbook.Order, error) {
	if err := s.ready(ctx); err != nil {
		return orderbook.Order{}, err
	}

	tx := s.store.Begin()
	defer tx.Discard()

	id, err := s.book.Place(ctx, caller, side, amount, price, tx)
	if err != nil {
		return orderbook.Order{}, err
	}

	// From here on the book has changed; any failure must undo it.
	o, _ := s.book.Order(id)
	if err := tx.PutOrder(o); err != nil {
		return orderbook.Order{}, s.rollback(err)
	}
	if err := tx.PutNextID(s.book.NextID()); err != nil {
		return orderbook.Order{}, s.rollback(err)
	}
	cmd := &entry.Command{
		Caller:  string(caller),
		Side:    uint32(side),
		Amount:  amount,
		Price:   price,
		OrderID: id,
	}
	seq, err := s.commit(tx, cmdPlace, entry.RecordPlace, cmd, []Event{placedEvent(o)})
	if err != nil {
		return orderbook.Order{}, s.rollback(err)
	}

	s.log.Debug("order placed", zap.Uint64("seq", seq), zap.Stringer("order", o))
	return o, nil
}

// CancelOrder refunds the unfilled part of a caller-owned order and removes
// it. The returned order is the state it had when it was cancelled.
func (s *OrderService) CancelOrder(
	ctx context.Context,
	caller orderbook.Identity,
	id orderbook.OrderID,
) (orderbook.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := time.Now()

	o, err := s.cancel(ctx, caller, id)
	s.observe(cmdCancel, started, err)
	return o, err
}

func (s *OrderService) cancel(
	ctx context.Context,
	caller orderbook.Identity,
	id orderbook.OrderID,
) (orderbook.Order, error) {
	if err := s.ready(ctx); err != nil {
		return orderbook.Order{}, err
	}

	tx := s.store.Begin()
	defer tx.Discard()

	o, err := s.book.Cancel(ctx, caller, id, tx)
	if err != nil {
		return orderbook.Order{}, err
	}

	if err := tx.DeleteOrder(id); err != nil {
		return orderbook.Order{}, s.rollback(err)
	}
	cmd := &entry.Command{Caller: string(caller), OrderID: id, Amount: o.Remaining()}
	seq, err := s.commit(tx, cmdCancel, entry.RecordCancel, cmd, []Event{cancelledEvent(o)})
	if err != nil {
		return orderbook.Order{}, s.rollback(err)
	}

	s.log.Debug("order cancelled",
		zap.Uint64("seq", seq),
		zap.Stringer("order", o),
		zap.Uint64("refunded", o.Remaining()))
	return o, nil
}

// MatchOrders runs one matching pass. Only the book authority may call it.
// A pass that crosses nothing changes nothing and is not journaled.
func (s *OrderService) MatchOrders(ctx context.Context, caller orderbook.Identity) (orderbook.MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := time.Now()

	res, err := s.match(ctx, caller)
	s.observe(cmdMatch, started, err)
	return res, err
}

func (s *OrderService) match(ctx context.Context, caller orderbook.Identity) (orderbook.MatchResult, error) {
	if err := s.ready(ctx); err != nil {
		return orderbook.MatchResult{}, err
	}

	tx := s.store.Begin()
	defer tx.Discard()

	res, err := s.book.Match(ctx, caller, tx)
	if err != nil {
		return orderbook.MatchResult{}, err
	}
	if len(res.Fills) == 0 {
		return res, nil
	}

	events := make([]Event, 0, len(res.Fills)+len(res.Pruned))
	for _, f := range res.Fills {
		events = append(events, fillEvent(f))
	}
	quantity := filledQuantity(res.Fills)
	for _, o := range res.Updated {
		if err := tx.PutOrder(o); err != nil {
			return orderbook.MatchResult{}, s.rollback(err)
		}
	}
	for _, o := range res.Pruned {
		if err := tx.DeleteOrder(o.ID); err != nil {
			return orderbook.MatchResult{}, s.rollback(err)
		}
		events = append(events, prunedEvent(o))
	}

	cmd := &entry.Command{
		Caller: string(caller),
		Fills:  uint64(len(res.Fills)),
		Pruned: uint64(len(res.Pruned)),
	}
	seq, err := s.commit(tx, cmdMatch, entry.RecordMatch, cmd, events)
	if err != nil {
		return orderbook.MatchResult{}, s.rollback(err)
	}

	s.metrics.Fills.Add(float64(len(res.Fills)))
	s.metrics.FilledQuantity.Add(float64(quantity))
	s.metrics.Pruned.Add(float64(len(res.Pruned)))
	s.log.Info("matching pass",
		zap.Uint64("seq", seq),
		zap.Int("fills", len(res.Fills)),
		zap.Uint64("quantity", quantity),
		zap.Int("pruned", len(res.Pruned)))
	return res, nil
}

// filledQuantity sums fill quantities, saturating at MaxUint64.
func filledQuantity(fills []orderbook.Fill) uint64 {
	var total uint64
	for _, f := range fills {
		sum, carry := bits.Add64(total, f.Quantity, 0)
		if carry != 0 {
			return math.MaxUint64
		}
		total = sum
	}
	return total
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// Orders lists live orders by ascending id.
func (s *OrderService) Orders() ([]orderbook.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(context.Background()); err != nil {
		return nil, err
	}
	return s.book.Orders(), nil
}

func (s *OrderService) Order(id orderbook.OrderID) (orderbook.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(context.Background()); err != nil {
		return orderbook.Order{}, err
	}
	o, ok := s.book.Order(id)
	if !ok {
		return orderbook.Order{}, errors.Wrapf(orderbook.ErrOrderNotFound, "order %d", id)
	}
	return o, nil
}

// Balance reads a committed balance. The custody identity is allowed here so
// operators can inspect escrowed totals.
func (s *OrderService) Balance(owner orderbook.Identity, asset orderbook.Asset) (uint64, error) {
	return s.store.Balance(orderbook.Account{Owner: owner, Asset: asset})
}

func (s *OrderService) Authority() (orderbook.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(context.Background()); err != nil {
		return "", err
	}
	return s.book.Authority(), nil
}

//
// ──────────────────────────────────────────────────────────
// Plumbing
// ──────────────────────────────────────────────────────────
//

func (s *OrderService) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.broken {
		return ErrUnavailable
	}
	if s.book == nil {
		return store.ErrNotInitialized
	}
	return nil
}

// commit stages the command's outbox envelope and sequence, commits tx and
// journals the command.
func (s *OrderService) commit(
	tx *store.Tx,
	name string,
	rt entry.RecordType,
	cmd *entry.Command,
	events []Event,
) (uint64, error) {
	seq := s.seq.Next()
	payload, err := encodeEnvelope(seq, name, events)
	if err != nil {
		return 0, errors.Wrapf(err, "encode %s events", name)
	}
	if err := tx.Enqueue(seq, payload); err != nil {
		return 0, err
	}
	if err := tx.PutSeq(seq); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrapf(err, "commit %s", name)
	}
	s.appendJournal(rt, seq, cmd)
	return seq, nil
}

// appendJournal records a committed command. The store is already durable
// at this point, so a journal failure is logged rather than returned.
func (s *OrderService) appendJournal(rt entry.RecordType, seq uint64, cmd *entry.Command) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(entry.NewRecord(rt, seq, cmd.Marshal())); err != nil {
		s.log.Error("journal append failed",
			zap.Uint64("seq", seq),
			zap.Stringer("type", rt),
			zap.Error(err))
	}
}

// rollback discards in-memory changes of a command whose commit failed by
// reloading the committed book. It returns cause.
func (s *OrderService) rollback(cause error) error {
	book, err := s.store.LoadBook(s.maxOrders)
	if err != nil {
		s.book = nil
		s.broken = true
		s.log.Error("book reload failed, refusing further commands",
			zap.Error(err),
			zap.NamedError("cause", cause))
		return cause
	}
	s.book = book
	s.log.Warn("book reloaded after failed commit", zap.Error(cause))
	return cause
}

func (s *OrderService) observe(command string, started time.Time, err error) {
	s.metrics.Observe(command, reason(err), started)
	if s.book != nil {
		s.metrics.LiveOrders.Set(float64(s.book.Len()))
	}
	if err != nil {
		s.log.Debug("command rejected", zap.String("command", command), zap.Error(err))
	}
}

var reasons = []struct {
	err    error
	reason string
}{
	{context.Canceled, "cancelled"},
	{context.DeadlineExceeded, "deadline"},
	{orderbook.ErrInvalidOrderParameters, "invalid_parameters"},
	{orderbook.ErrOrderNotFound, "not_found"},
	{orderbook.ErrArithmeticOverflow, "overflow"},
	{orderbook.ErrTransferFailed, "transfer_failed"},
	{orderbook.ErrCapacityExceeded, "capacity"},
	{orderbook.ErrUnauthorized, "unauthorized"},
	{orderbook.ErrInvalidIdentity, "invalid_identity"},
	{store.ErrNotInitialized, "not_initialized"},
	{store.ErrAlreadyInitialized, "already_initialized"},
	{store.ErrBalanceOverflow, "overflow"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrUnavailable, "unavailable"},
}

// reason is the metrics label for err, empty on success.
func reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}
