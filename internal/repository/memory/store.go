// Package memory is an in-process implementation of the repository
// contracts with optimistic concurrency. Rows locked or updated inside a unit
// are version-checked when the unit commits; a stale version aborts the
// whole unit with errors.ErrConcurrencyConflict.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"qatmarket/internal/domain"
	"qatmarket/internal/repository"
	"qatmarket/pkg/errors"
)

type refKey struct {
	user uuid.UUID
	kind domain.TransactionKind
	ref  string
}

// Store holds committed state. The zero value is not usable; call New.
type Store struct {
	mu  sync.Mutex
	seq int64

	wallets     map[uuid.UUID]*domain.Wallet // by user id
	txns        []*domain.Transaction
	txnRefs     map[refKey]struct{}
	orders      map[uuid.UUID]*domain.Order
	orderCodes  map[string]uuid.UUID
	washes      map[uuid.UUID]*domain.WashOrder // by order id
	drivers     map[uuid.UUID]*domain.Driver
	giftCodes   map[string]*domain.GiftCode
	giftUses    []*domain.GiftCodeUse
	withdrawals map[uuid.UUID]*domain.Withdrawal
	notes       []*domain.Notification
	noteEvents  map[string]struct{}
	products    map[uuid.UUID]repository.Product
}

var (
	_ repository.UnitOfWork = (*Store)(nil)
	_ repository.Catalogue  = (*Store)(nil)
)

func New() *Store {
	return &Store{
		wallets:     make(map[uuid.UUID]*domain.Wallet),
		txnRefs:     make(map[refKey]struct{}),
		orders:      make(map[uuid.UUID]*domain.Order),
		orderCodes:  make(map[string]uuid.UUID),
		washes:      make(map[uuid.UUID]*domain.WashOrder),
		drivers:     make(map[uuid.UUID]*domain.Driver),
		giftCodes:   make(map[string]*domain.GiftCode),
		withdrawals: make(map[uuid.UUID]*domain.Withdrawal),
		noteEvents:  make(map[string]struct{}),
		products:    make(map[uuid.UUID]repository.Product),
	}
}

// Do runs fn against a fresh unit and commits its staged writes.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := newTx(s)
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

// PutProduct seeds the catalogue.
func (s *Store) PutProduct(p repository.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) Products(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]repository.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]repository.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// committedVersion returns the version currently stored for key, 0 when absent.
func (s *Store) committedVersion(k key) int64 {
	switch k.kind {
	case kindWallet:
		if w, ok := s.wallets[k.id]; ok {
			return w.Version
		}
	case kindOrder:
		if o, ok := s.orders[k.id]; ok {
			return o.Version
		}
	case kindWash:
		if w, ok := s.washes[k.id]; ok {
			return w.Version
		}
	case kindDriver:
		if d, ok := s.drivers[k.id]; ok {
			return d.Version
		}
	case kindGiftCode:
		if g, ok := s.giftCodes[k.code]; ok {
			return g.Version
		}
	case kindWithdrawal:
		if w, ok := s.withdrawals[k.id]; ok {
			return w.Version
		}
	}
	return 0
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range t.expect {
		if s.committedVersion(k) != v {
			return errors.ErrConcurrencyConflict
		}
	}
	for _, o := range t.newOrders {
		if _, taken := s.orderCodes[o.OrderCode]; taken {
			return errors.ErrDuplicate
		}
	}
	for _, n := range t.newNotes {
		if _, taken := s.noteEvents[n.EventID]; taken {
			return errors.ErrConcurrencyConflict
		}
	}
	for _, tr := range t.newTxns {
		if tr.Reference == "" {
			continue
		}
		if _, taken := s.txnRefs[refKey{tr.UserID, tr.Kind, tr.Reference}]; taken {
			return errors.ErrConcurrencyConflict
		}
	}

	for _, k := range t.order {
		switch v := t.staged[k].(type) {
		case *domain.Wallet:
			s.wallets[v.UserID] = cloneWallet(v)
		case *domain.Order:
			s.orders[v.ID] = cloneOrder(v)
			s.orderCodes[v.OrderCode] = v.ID
		case *domain.WashOrder:
			c := *v
			s.washes[v.OrderID] = &c
		case *domain.Driver:
			c := *v
			s.drivers[v.ID] = &c
		case *domain.GiftCode:
			c := *v
			s.giftCodes[v.Code] = &c
		case *domain.Withdrawal:
			c := *v
			s.withdrawals[v.ID] = &c
		}
	}
	for _, tr := range t.newTxns {
		s.seq++
		tr.Seq = s.seq
		c := *tr
		s.txns = append(s.txns, &c)
		if tr.Reference != "" {
			s.txnRefs[refKey{tr.UserID, tr.Kind, tr.Reference}] = struct{}{}
		}
	}
	for _, u := range t.newUses {
		c := *u
		s.giftUses = append(s.giftUses, &c)
	}
	for _, n := range t.newNotes {
		s.seq++
		n.Seq = s.seq
		c := *n
		s.notes = append(s.notes, &c)
		s.noteEvents[n.EventID] = struct{}{}
	}
	for _, mr := range t.marks {
		for _, n := range s.notes {
			if n.UserID == mr.user && n.Seq <= mr.through {
				n.IsRead = true
			}
		}
	}
	return nil
}

func cloneWallet(w *domain.Wallet) *domain.Wallet {
	c := *w
	return &c
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	c.Wash = nil
	return &c
}

func sortedNotes(in []*domain.Notification) {
	sort.Slice(in, func(i, j int) bool { return in[i].Seq < in[j].Seq })
}
