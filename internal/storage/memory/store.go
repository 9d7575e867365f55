// Package memory is an in-process implementation of storage.Store. Units of
// work are serialized under one mutex and run against a private copy of the
// state, which replaces the shared state only when the unit succeeds.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_store/internal/apperr"
	cartdomain "github.com/fjod/go_store/internal/cart/domain"
	"github.com/fjod/go_store/internal/events"
	invdomain "github.com/fjod/go_store/internal/inventory/domain"
	orderdomain "github.com/fjod/go_store/internal/orders/domain"
	"github.com/fjod/go_store/internal/storage"
)

type state struct {
	carts   map[string]cartdomain.Record // cartID -> cart
	orders  map[string]orderdomain.Record
	stock   map[string]invdomain.Ledger // productID -> ledger
	outbox  []storage.OutboxRecord
	nextSeq int64
}

func newState() *state {
	return &state{
		carts:  make(map[string]cartdomain.Record),
		orders: make(map[string]orderdomain.Record),
		stock:  make(map[string]invdomain.Ledger),
	}
}

func (s *state) clone() *state {
	c := &state{
		carts:   make(map[string]cartdomain.Record, len(s.carts)),
		orders:  make(map[string]orderdomain.Record, len(s.orders)),
		stock:   make(map[string]invdomain.Ledger, len(s.stock)),
		outbox:  make([]storage.OutboxRecord, len(s.outbox)),
		nextSeq: s.nextSeq,
	}
	for k, v := range s.carts {
		v.Lines = append([]cartdomain.CartLine(nil), v.Lines...)
		c.carts[k] = v
	}
	for k, v := range s.orders {
		v.Lines = append([]orderdomain.OrderLine(nil), v.Lines...)
		c.orders[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	copy(c.outbox, s.outbox)
	return c
}

// Store implements storage.Store in memory.
type Store struct {
	mu    sync.Mutex
	state *state
}

func NewStore() *Store {
	return &Store{state: newState()}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Outbox() storage.OutboxReader {
	return s
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) FetchPending(_ context.Context, limit int) ([]storage.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.OutboxRecord
	for _, rec := range s.state.outbox {
		if rec.SentAt != nil {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state.outbox {
		if s.state.outbox[i].ID == id {
			now := time.Now().UTC()
			s.state.outbox[i].SentAt = &now
			return nil
		}
	}
	return nil
}

type tx struct {
	st *state
}

func (t *tx) Carts() storage.CartRepository { return cartRepo{t.st} }
func (t *tx) Orders() storage.OrderRepository { return orderRepo{t.st} }
func (t *tx) Stock() storage.StockRepository { return stockRepo{t.st} }
func (t *tx) Events() storage.EventWriter { return eventWriter{t.st} }

type cartRepo struct{ st *state }

func (r cartRepo) FindActiveByOwner(_ context.Context, ownerID string) (*cartdomain.Cart, error) {
	for _, rec := range r.st.carts {
		if rec.OwnerID == ownerID && rec.Status == cartdomain.CartStatusActive {
			return cartdomain.Restore(rec)
		}
	}
	return nil, apperr.NotFound(apperr.CodeCartNotFound, "no active cart for owner %s", ownerID)
}

func (r cartRepo) FindLineCartID(_ context.Context, lineID string) (string, error) {
	for _, rec := range r.st.carts {
		for _, l := range rec.Lines {
			if l.ID == lineID {
				return rec.ID, nil
			}
		}
	}
	return "", apperr.NotFound(apperr.CodeLineNotFound, "cart line %s not found", lineID)
}

func (r cartRepo) Create(_ context.Context, c *cartdomain.Cart) error {
	if c.IsActive() {
		for _, rec := range r.st.carts {
			if rec.OwnerID == c.OwnerID() && rec.Status == cartdomain.CartStatusActive {
				return apperr.ErrActiveCartExists
			}
		}
	}
	r.st.carts[c.ID()] = c.Record()
	return nil
}

func (r cartRepo) Save(_ context.Context, c *cartdomain.Cart) error {
	if _, ok := r.st.carts[c.ID()]; !ok {
		return apperr.NotFound(apperr.CodeCartNotFound, "cart %s not found", c.ID())
	}
	r.st.carts[c.ID()] = c.Record()
	return nil
}

type orderRepo struct{ st *state }

func (r orderRepo) Create(_ context.Context, o *orderdomain.Order) error {
	for _, rec := range r.st.orders {
		if rec.CartID == o.CartID() {
			return apperr.ErrDuplicateOrder
		}
	}
	r.st.orders[o.ID()] = o.Record()
	return nil
}

func (r orderRepo) Get(_ context.Context, id string) (*orderdomain.Order, error) {
	rec, ok := r.st.orders[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", id)
	}
	return orderdomain.Restore(rec)
}

func (r orderRepo) UpdateStatus(_ context.Context, o *orderdomain.Order, from orderdomain.OrderStatus) error {
	rec, ok := r.st.orders[o.ID()]
	if !ok {
		return apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", o.ID())
	}
	if rec.Status != from {
		return apperr.ErrConcurrentUpdate
	}
	r.st.orders[o.ID()] = o.Record()
	return nil
}

func (r orderRepo) ListByOwner(_ context.Context, ownerID string) ([]*orderdomain.Order, error) {
	return r.list(func(rec orderdomain.Record) bool { return rec.OwnerID == ownerID })
}

func (r orderRepo) ListByStatus(_ context.Context, status orderdomain.OrderStatus) ([]*orderdomain.Order, error) {
	return r.list(func(rec orderdomain.Record) bool { return rec.Status == status })
}

// list returns matching orders, newest first.
func (r orderRepo) list(match func(orderdomain.Record) bool) ([]*orderdomain.Order, error) {
	var recs []orderdomain.Record
	for _, rec := range r.st.orders {
		if match(rec) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})

	orders := make([]*orderdomain.Order, 0, len(recs))
	for _, rec := range recs {
		o, err := orderdomain.Restore(rec)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

type stockRepo struct{ st *state }

func (r stockRepo) Get(_ context.Context, productID string) (invdomain.Ledger, error) {
	if l, ok := r.st.stock[productID]; ok {
		return l, nil
	}
	return invdomain.Empty(productID), nil
}

func (r stockRepo) Increment(ctx context.Context, productID string, qty int, now time.Time) (invdomain.Change, error) {
	return r.apply(ctx, productID, invdomain.OpAdd, func(l invdomain.Ledger) (invdomain.Ledger, error) {
		return l.Add(qty, now)
	})
}

func (r stockRepo) Decrement(ctx context.Context, productID string, qty int, now time.Time) (invdomain.Change, error) {
	return r.apply(ctx, productID, invdomain.OpRemove, func(l invdomain.Ledger) (invdomain.Ledger, error) {
		return l.Remove(qty, now)
	})
}

func (r stockRepo) Set(ctx context.Context, productID string, qty int, now time.Time) (invdomain.Change, error) {
	return r.apply(ctx, productID, invdomain.OpAdjust, func(l invdomain.Ledger) (invdomain.Ledger, error) {
		return l.Adjust(qty, now)
	})
}

func (r stockRepo) apply(ctx context.Context, productID, op string, fn func(invdomain.Ledger) (invdomain.Ledger, error)) (invdomain.Change, error) {
	current, _ := r.Get(ctx, productID)
	next, err := fn(current)
	if err != nil {
		return invdomain.Change{}, err
	}
	next.Exists = true
	r.st.stock[productID] = next
	return invdomain.Change{ProductID: productID, Operation: op, Old: current.Quantity, New: next.Quantity}, nil
}

type eventWriter struct{ st *state }

func (w eventWriter) Append(_ context.Context, e events.Event) error {
	w.st.nextSeq++
	w.st.outbox = append(w.st.outbox, storage.OutboxRecord{
		ID:        w.st.nextSeq,
		Event:     e,
		CreatedAt: e.OccurredAt,
	})
	return nil
}
