package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"qatmarket/internal/domain"
	"qatmarket/internal/repository"
	"qatmarket/pkg/errors"
)

type entityKind uint8

const (
	kindWallet entityKind = iota + 1
	kindOrder
	kindWash
	kindDriver
	kindGiftCode
	kindWithdrawal
)

type key struct {
	kind entityKind
	id   uuid.UUID
	code string
}

type markRead struct {
	user    uuid.UUID
	through int64
}

// tx stages writes until commit. Only the goroutine running the unit
// touches it.
type tx struct {
	s      *Store
	expect map[key]int64
	staged map[key]interface{}
	order  []key

	newTxns   []*domain.Transaction
	newOrders []*domain.Order
	newUses   []*domain.GiftCodeUse
	newNotes  []*domain.Notification
	marks     []markRead
}

var _ repository.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:      s,
		expect: make(map[key]int64),
		staged: make(map[key]interface{}),
	}
}

func (t *tx) Wallets() repository.WalletRepository             { return walletRepo{t} }
func (t *tx) Transactions() repository.TransactionRepository   { return txnRepo{t} }
func (t *tx) Orders() repository.OrderRepository               { return orderRepo{t} }
func (t *tx) Drivers() repository.DriverRepository             { return driverRepo{t} }
func (t *tx) GiftCodes() repository.GiftCodeRepository         { return giftCodeRepo{t} }
func (t *tx) Withdrawals() repository.WithdrawalRepository     { return withdrawalRepo{t} }
func (t *tx) Notifications() repository.NotificationRepository { return noteRepo{t} }

// observe records the committed version of k the first time the unit sees it.
// Caller holds s.mu.
func (t *tx) observe(k key) {
	if _, seen := t.expect[k]; seen {
		return
	}
	t.expect[k] = t.s.committedVersion(k)
}

func (t *tx) stage(k key, v interface{}) {
	if _, ok := t.staged[k]; !ok {
		t.order = append(t.order, k)
	}
	t.staged[k] = v
}

// visibleVersion is the version the unit currently sees for k.
func (t *tx) visibleVersion(k key) (int64, bool) {
	if v, ok := t.staged[k]; ok {
		switch e := v.(type) {
		case *domain.Wallet:
			return e.Version, true
		case *domain.Order:
			return e.Version, true
		case *domain.WashOrder:
			return e.Version, true
		case *domain.Driver:
			return e.Version, true
		case *domain.GiftCode:
			return e.Version, true
		case *domain.Withdrawal:
			return e.Version, true
		}
	}
	v := t.s.committedVersion(k)
	return v, v != 0
}

// casUpdate checks the caller's version against what the unit sees, then
// stages the row with the next version.
func (t *tx) casUpdate(k key, have int64, bump func(next int64) interface{}) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	current, exists := t.visibleVersion(k)
	if !exists {
		return errors.ErrNotFound
	}
	if current != have {
		return errors.ErrConcurrencyConflict
	}
	t.observe(k)
	t.stage(k, bump(have+1))
	return nil
}

func (t *tx) create(k key, v interface{}) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if _, exists := t.visibleVersion(k); exists {
		return errors.ErrDuplicate
	}
	t.observe(k)
	t.stage(k, v)
	return nil
}

// ---- wallets

type walletRepo struct{ t *tx }

func (r walletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	w.Version = 1
	return r.t.create(key{kind: kindWallet, id: w.UserID}, cloneWallet(w))
}

func (r walletRepo) get(userID uuid.UUID, lock bool) (*domain.Wallet, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	k := key{kind: kindWallet, id: userID}
	if lock {
		r.t.observe(k)
	}
	if v, ok := r.t.staged[k]; ok {
		return cloneWallet(v.(*domain.Wallet)), nil
	}
	w, ok := r.t.s.wallets[userID]
	if !ok {
		return nil, errors.ErrWalletNotFound
	}
	return cloneWallet(w), nil
}

func (r walletRepo) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return r.get(userID, false)
}

func (r walletRepo) LockByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return r.get(userID, true)
}

func (r walletRepo) Update(ctx context.Context, w *domain.Wallet) error {
	err := r.t.casUpdate(key{kind: kindWallet, id: w.UserID}, w.Version, func(next int64) interface{} {
		c := cloneWallet(w)
		c.Version = next
		return c
	})
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.ErrWalletNotFound
		}
		return err
	}
	w.Version++
	return nil
}

func (r walletRepo) ListUserIDs(ctx context.Context, limit, offset int) ([]uuid.UUID, error) {
	r.t.s.mu.Lock()
	all := make([]*domain.Wallet, 0, len(r.t.s.wallets))
	for _, w := range r.t.s.wallets {
		all = append(all, w)
	}
	r.t.s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].UserID.String() < all[j].UserID.String()
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	ids := make([]uuid.UUID, len(all))
	for i, w := range all {
		ids[i] = w.UserID
	}
	return ids, nil
}

// ---- transactions

type txnRepo struct{ t *tx }

func (r txnRepo) Append(ctx context.Context, tr *domain.Transaction) error {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	if tr.Reference != "" {
		rk := refKey{tr.UserID, tr.Kind, tr.Reference}
		if _, taken := r.t.s.txnRefs[rk]; taken {
			return errors.ErrDuplicate
		}
		for _, s := range r.t.newTxns {
			if s.UserID == tr.UserID && s.Kind == tr.Kind && s.Reference == tr.Reference {
				return errors.ErrDuplicate
			}
		}
	}
	r.t.newTxns = append(r.t.newTxns, tr)
	return nil
}

// each yields committed rows in seq order, then the unit's staged rows.
func (r txnRepo) each(userID uuid.UUID, fn func(*domain.Transaction)) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()
	for _, tr := range r.t.s.txns {
		if tr.UserID == userID {
			fn(tr)
		}
	}
	for _, tr := range r.t.newTxns {
		if tr.UserID == userID {
			fn(tr)
		}
	}
}

func (r txnRepo) SumCompleted(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	r.each(userID, func(tr *domain.Transaction) {
		if tr.Status == domain.TransactionStatusCompleted {
			sum = sum.Add(tr.Amount)
		}
	})
	return sum, nil
}

func (r txnRepo) ListByUser(ctx context.Context, userID uuid.UUID, afterSeq int64, limit int) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	r.each(userID, func(tr *domain.Transaction) {
		if tr.Seq != 0 && tr.Seq <= afterSeq {
			return
		}
		if limit > 0 && len(out) >= limit {
			return
		}
		c := *tr
		out = append(out, &c)
	})
	return out, nil
}

// Last returns nil when the user has no transactions.
func (r txnRepo) Last(ctx context.Context, userID uuid.UUID) (*domain.Transaction, error) {
	var last *domain.Transaction
	r.each(userID, func(tr *domain.Transaction) {
		c := *tr
		last = &c
	})
	return last, nil
}

func (r txnRepo) FindByReference(ctx context.Context, userID uuid.UUID, kind domain.TransactionKind, reference string) (*domain.Transaction, error) {
	var found *domain.Transaction
	r.each(userID, func(tr *domain.Transaction) {
		if tr.Kind == kind && tr.Reference == reference {
			c := *tr
			found = &c
		}
	})
	if found == nil {
		return nil, errors.ErrNotFound
	}
	return found, nil
}

// ---- orders

type orderRepo struct{ t *tx }

func (r orderRepo) Create(ctx context.Context, o *domain.Order) error {
	r.t.s.mu.Lock()
	if _, taken := r.t.s.orderCodes[o.OrderCode]; taken {
		r.t.s.mu.Unlock()
		return errors.ErrDuplicate
	}
	for _, s := range r.t.newOrders {
		if s.OrderCode == o.OrderCode {
			r.t.s.mu.Unlock()
			return errors.ErrDuplicate
		}
	}
	r.t.s.mu.Unlock()

	o.Version = 1
	c := cloneOrder(o)
	if err := r.t.create(key{kind: kindOrder, id: o.ID}, c); err != nil {
		return err
	}
	r.t.newOrders = append(r.t.newOrders, c)
	return nil
}

func (r orderRepo) get(id uuid.UUID, lock bool) (*domain.Order, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	k := key{kind: kindOrder, id: id}
	if lock {
		r.t.observe(k)
	}
	var o *domain.Order
	if v, ok := r.t.staged[k]; ok {
		o = cloneOrder(v.(*domain.Order))
	} else if c, ok := r.t.s.orders[id]; ok {
		o = cloneOrder(c)
	} else {
		return nil, errors.ErrOrderNotFound
	}
	if w := r.wash(id); w != nil {
		o.Wash = w
	}
	return o, nil
}

// wash returns the visible wash for orderID. Caller holds s.mu.
func (r orderRepo) wash(orderID uuid.UUID) *domain.WashOrder {
	k := key{kind: kindWash, id: orderID}
	if v, ok := r.t.staged[k]; ok {
		c := *v.(*domain.WashOrder)
		return &c
	}
	if w, ok := r.t.s.washes[orderID]; ok {
		c := *w
		return &c
	}
	return nil
}

func (r orderRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.get(id, false)
}

func (r orderRepo) LockByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.get(id, true)
}

func (r orderRepo) Update(ctx context.Context, o *domain.Order) error {
	err := r.t.casUpdate(key{kind: kindOrder, id: o.ID}, o.Version, func(next int64) interface{} {
		c := cloneOrder(o)
		c.Version = next
		return c
	})
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.ErrOrderNotFound
		}
		return err
	}
	o.Version++
	return nil
}

func (r orderRepo) CreateWash(ctx context.Context, w *domain.WashOrder) error {
	w.Version = 1
	c := *w
	return r.t.create(key{kind: kindWash, id: w.OrderID}, &c)
}

func (r orderRepo) findWash(orderID uuid.UUID, lock bool) (*domain.WashOrder, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()
	if lock {
		r.t.observe(key{kind: kindWash, id: orderID})
	}
	w := r.wash(orderID)
	if w == nil {
		return nil, errors.ErrNotFound
	}
	return w, nil
}

func (r orderRepo) FindWash(ctx context.Context, orderID uuid.UUID) (*domain.WashOrder, error) {
	return r.findWash(orderID, false)
}

func (r orderRepo) LockWash(ctx context.Context, orderID uuid.UUID) (*domain.WashOrder, error) {
	return r.findWash(orderID, true)
}

func (r orderRepo) UpdateWash(ctx context.Context, w *domain.WashOrder) error {
	err := r.t.casUpdate(key{kind: kindWash, id: w.OrderID}, w.Version, func(next int64) interface{} {
		c := *w
		c.Version = next
		return &c
	})
	if err != nil {
		return err
	}
	w.Version++
	return nil
}

func (r orderRepo) ListFlagged(ctx context.Context, limit int) ([]*domain.Order, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	var out []*domain.Order
	for id, o := range r.t.s.orders {
		if o.Status != domain.OrderStatusDelivered {
			continue
		}
		w, ok := r.t.s.washes[id]
		if !ok || w.Status == domain.WashStatusDone {
			continue
		}
		c := cloneOrder(o)
		wc := *w
		c.Wash = &wc
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- drivers

type driverRepo struct{ t *tx }

func (r driverRepo) Create(ctx context.Context, d *domain.Driver) error {
	d.Version = 1
	c := *d
	return r.t.create(key{kind: kindDriver, id: d.ID}, &c)
}

func (r driverRepo) get(id uuid.UUID, lock bool) (*domain.Driver, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	k := key{kind: kindDriver, id: id}
	if lock {
		r.t.observe(k)
	}
	if v, ok := r.t.staged[k]; ok {
		c := *v.(*domain.Driver)
		return &c, nil
	}
	d, ok := r.t.s.drivers[id]
	if !ok {
		return nil, errors.ErrDriverNotFound
	}
	c := *d
	return &c, nil
}

func (r driverRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Driver, error) {
	return r.get(id, false)
}

func (r driverRepo) LockByID(ctx context.Context, id uuid.UUID) (*domain.Driver, error) {
	return r.get(id, true)
}

func (r driverRepo) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Driver, error) {
	r.t.s.mu.Lock()
	var id uuid.UUID
	for _, v := range r.t.staged {
		if d, ok := v.(*domain.Driver); ok && d.UserID == userID {
			id = d.ID
		}
	}
	if id == uuid.Nil {
		for _, d := range r.t.s.drivers {
			if d.UserID == userID {
				id = d.ID
				break
			}
		}
	}
	r.t.s.mu.Unlock()
	if id == uuid.Nil {
		return nil, errors.ErrDriverNotFound
	}
	return r.get(id, false)
}

func (r driverRepo) Update(ctx context.Context, d *domain.Driver) error {
	err := r.t.casUpdate(key{kind: kindDriver, id: d.ID}, d.Version, func(next int64) interface{} {
		c := *d
		c.Version = next
		return &c
	})
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.ErrDriverNotFound
		}
		return err
	}
	d.Version++
	return nil
}

// ---- gift codes

type giftCodeRepo struct{ t *tx }

func (r giftCodeRepo) Create(ctx context.Context, g *domain.GiftCode) error {
	g.Version = 1
	c := *g
	return r.t.create(key{kind: kindGiftCode, code: g.Code}, &c)
}

func (r giftCodeRepo) LockByCode(ctx context.Context, code string) (*domain.GiftCode, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	k := key{kind: kindGiftCode, code: code}
	r.t.observe(k)
	if v, ok := r.t.staged[k]; ok {
		c := *v.(*domain.GiftCode)
		return &c, nil
	}
	g, ok := r.t.s.giftCodes[code]
	if !ok {
		return nil, errors.ErrGiftCodeNotFound
	}
	c := *g
	return &c, nil
}

func (r giftCodeRepo) Update(ctx context.Context, g *domain.GiftCode) error {
	err := r.t.casUpdate(key{kind: kindGiftCode, code: g.Code}, g.Version, func(next int64) interface{} {
		c := *g
		c.Version = next
		return &c
	})
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.ErrGiftCodeNotFound
		}
		return err
	}
	g.Version++
	return nil
}

func (r giftCodeRepo) InsertUse(ctx context.Context, u *domain.GiftCodeUse) error {
	c := *u
	r.t.newUses = append(r.t.newUses, &c)
	return nil
}

func (r giftCodeRepo) CountUses(ctx context.Context, code string, userID uuid.UUID) (int, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()
	n := 0
	for _, u := range r.t.s.giftUses {
		if u.Code == code && u.UserID == userID {
			n++
		}
	}
	for _, u := range r.t.newUses {
		if u.Code == code && u.UserID == userID {
			n++
		}
	}
	return n, nil
}

// ---- withdrawals

type withdrawalRepo struct{ t *tx }

func (r withdrawalRepo) Create(ctx context.Context, w *domain.Withdrawal) error {
	w.Version = 1
	c := *w
	return r.t.create(key{kind: kindWithdrawal, id: w.ID}, &c)
}

func (r withdrawalRepo) get(id uuid.UUID, lock bool) (*domain.Withdrawal, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	k := key{kind: kindWithdrawal, id: id}
	if lock {
		r.t.observe(k)
	}
	if v, ok := r.t.staged[k]; ok {
		c := *v.(*domain.Withdrawal)
		return &c, nil
	}
	w, ok := r.t.s.withdrawals[id]
	if !ok {
		return nil, errors.ErrWithdrawalNotFound
	}
	c := *w
	return &c, nil
}

func (r withdrawalRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	return r.get(id, false)
}

func (r withdrawalRepo) LockByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	return r.get(id, true)
}

func (r withdrawalRepo) Update(ctx context.Context, w *domain.Withdrawal) error {
	err := r.t.casUpdate(key{kind: kindWithdrawal, id: w.ID}, w.Version, func(next int64) interface{} {
		c := *w
		c.Version = next
		return &c
	})
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.ErrWithdrawalNotFound
		}
		return err
	}
	w.Version++
	return nil
}

// visible merges committed withdrawals of userID with the unit's staged rows.
// Caller holds s.mu.
func (r withdrawalRepo) visible(userID uuid.UUID) []*domain.Withdrawal {
	byID := make(map[uuid.UUID]*domain.Withdrawal)
	for id, w := range r.t.s.withdrawals {
		if w.UserID == userID {
			byID[id] = w
		}
	}
	for _, v := range r.t.staged {
		if w, ok := v.(*domain.Withdrawal); ok && w.UserID == userID {
			byID[w.ID] = w
		}
	}
	out := make([]*domain.Withdrawal, 0, len(byID))
	for _, w := range byID {
		c := *w
		out = append(out, &c)
	}
	return out
}

func (r withdrawalRepo) SumPending(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()
	sum := decimal.Zero
	for _, w := range r.visible(userID) {
		if w.Status == domain.WithdrawalStatusPending {
			sum = sum.Add(w.Amount)
		}
	}
	return sum, nil
}

func (r withdrawalRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Withdrawal, error) {
	r.t.s.mu.Lock()
	out := r.visible(userID)
	r.t.s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- notifications

type noteRepo struct{ t *tx }

func (r noteRepo) Insert(ctx context.Context, n *domain.Notification) error {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	if _, taken := r.t.s.noteEvents[n.EventID]; taken {
		return errors.ErrDuplicate
	}
	for _, s := range r.t.newNotes {
		if s.EventID == n.EventID {
			return errors.ErrDuplicate
		}
	}
	r.t.newNotes = append(r.t.newNotes, n)
	return nil
}

func (r noteRepo) ListUnread(ctx context.Context, userID uuid.UUID, afterSeq int64, limit int) ([]*domain.Notification, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	var out []*domain.Notification
	for _, n := range r.t.s.notes {
		if n.UserID != userID || n.IsRead || n.Seq <= afterSeq {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	sortedNotes(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r noteRepo) MarkRead(ctx context.Context, userID uuid.UUID, throughSeq int64) (int64, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()

	var n int64
	for _, note := range r.t.s.notes {
		if note.UserID == userID && !note.IsRead && note.Seq <= throughSeq {
			n++
		}
	}
	r.t.marks = append(r.t.marks, markRead{user: userID, through: throughSeq})
	return n, nil
}

func (r noteRepo) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	r.t.s.mu.Lock()
	defer r.t.s.mu.Unlock()
	n := 0
	for _, note := range r.t.s.notes {
		if note.UserID == userID && !note.IsRead {
			n++
		}
	}
	return n, nil
}
