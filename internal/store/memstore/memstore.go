// Package memstore is an in-memory store.Store. Transactions run one at a
// time against a copy of the state; the copy replaces the state only when
// the transaction function returns nil, which gives serializable isolation
// and full rollback.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/store"
)

type state struct {
	products     map[string]domain.Product
	flashSales   map[string]domain.FlashSale
	auctions     map[string]domain.Auction
	bids         []domain.Bid
	reservations map[string]domain.Reservation
	resOrder     []string
	vouchers     map[string]domain.Voucher
	usages       []domain.VoucherUsage
	orders       map[string]domain.Order
	items        []domain.OrderItem
	addresses    map[string]domain.Address
}

func newState() *state {
	return &state{
		products:     map[string]domain.Product{},
		flashSales:   map[string]domain.FlashSale{},
		auctions:     map[string]domain.Auction{},
		reservations: map[string]domain.Reservation{},
		vouchers:     map[string]domain.Voucher{},
		orders:       map[string]domain.Order{},
		addresses:    map[string]domain.Address{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		products:     cloneMap(s.products),
		flashSales:   cloneMap(s.flashSales),
		auctions:     cloneMap(s.auctions),
		bids:         append([]domain.Bid(nil), s.bids...),
		reservations: cloneMap(s.reservations),
		resOrder:     append([]string(nil), s.resOrder...),
		vouchers:     cloneMap(s.vouchers),
		usages:       append([]domain.VoucherUsage(nil), s.usages...),
		orders:       cloneMap(s.orders),
		items:        append([]domain.OrderItem(nil), s.items...),
		addresses:    cloneMap(s.addresses),
	}
}

type Store struct {
	mu       sync.Mutex
	st       *state
	failures map[string]error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState(), failures: map[string]error{}}
}

// FailOn makes every later call to the named Tx method return err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) InTx(ctx context.Context, _ store.TxOptions, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work, failures: s.failures}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type tx struct {
	st       *state
	failures map[string]error
}

func (t *tx) fail(op string) error { return t.failures[op] }

func notFound(what, id string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrNotFound, what, id)
}

// ---- products ----

func (t *tx) GetProduct(_ context.Context, id string) (domain.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return domain.Product{}, notFound("product", id)
	}
	return p, nil
}

func (t *tx) DecrementProductQuantity(_ context.Context, id string, qty int) (domain.Product, error) {
	if err := t.fail("DecrementProductQuantity"); err != nil {
		return domain.Product{}, err
	}
	p, ok := t.st.products[id]
	if !ok {
		return domain.Product{}, notFound("product", id)
	}
	if p.Quantity < qty {
		return domain.Product{}, fmt.Errorf("%w: only %d items available", domain.ErrInsufficientStock, p.Quantity)
	}
	p.Quantity -= qty
	t.st.products[id] = p
	return p, nil
}

func (t *tx) IncrementProductQuantity(_ context.Context, id string, qty int) (domain.Product, error) {
	if err := t.fail("IncrementProductQuantity"); err != nil {
		return domain.Product{}, err
	}
	p, ok := t.st.products[id]
	if !ok {
		return domain.Product{}, notFound("product", id)
	}
	p.Quantity += qty
	t.st.products[id] = p
	return p, nil
}

// ---- flash sales ----

func (t *tx) GetFlashSale(_ context.Context, id string) (domain.FlashSale, error) {
	fs, ok := t.st.flashSales[id]
	if !ok {
		return domain.FlashSale{}, notFound("flash sale", id)
	}
	return fs, nil
}

func (t *tx) LockFlashSale(ctx context.Context, id string) (domain.FlashSale, error) {
	return t.GetFlashSale(ctx, id)
}

func (t *tx) InsertFlashSale(_ context.Context, fs domain.FlashSale) error {
	if _, ok := t.st.flashSales[fs.ID]; ok {
		return fmt.Errorf("%w: flash sale %s exists", domain.ErrConflict, fs.ID)
	}
	t.st.flashSales[fs.ID] = fs
	return nil
}

func (t *tx) IncrementFlashSaleSold(_ context.Context, id string, qty int) (domain.FlashSale, error) {
	if err := t.fail("IncrementFlashSaleSold"); err != nil {
		return domain.FlashSale{}, err
	}
	fs, ok := t.st.flashSales[id]
	if !ok {
		return domain.FlashSale{}, notFound("flash sale", id)
	}
	if fs.Sold+qty > fs.LimitedQuantity {
		return domain.FlashSale{}, fmt.Errorf("%w: only %d items available", domain.ErrInsufficientStock, fs.LimitedQuantity-fs.Sold)
	}
	fs.Sold += qty
	if fs.Sold >= fs.LimitedQuantity {
		fs.Status = domain.FlashSaleSoldOut
	}
	t.st.flashSales[id] = fs
	return fs, nil
}

func (t *tx) DecrementFlashSaleSold(_ context.Context, id string, qty int, now time.Time) (domain.FlashSale, error) {
	if err := t.fail("DecrementFlashSaleSold"); err != nil {
		return domain.FlashSale{}, err
	}
	fs, ok := t.st.flashSales[id]
	if !ok {
		return domain.FlashSale{}, notFound("flash sale", id)
	}
	if fs.Sold < qty {
		return domain.FlashSale{}, fmt.Errorf("%w: flash sale %s has only %d sold", domain.ErrInsufficientStock, id, fs.Sold)
	}
	fs.Sold -= qty
	if fs.Status == domain.FlashSaleSoldOut && fs.Sold < fs.LimitedQuantity && fs.InWindow(now) {
		fs.Status = domain.FlashSaleActive
	}
	t.st.flashSales[id] = fs
	return fs, nil
}

func (t *tx) RefreshFlashSaleStatuses(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, fs := range t.st.flashSales {
		next := fs.Status
		switch {
		case fs.Status == domain.FlashSaleEnded:
		case !now.Before(fs.EndDate):
			next = domain.FlashSaleEnded
		case fs.Status == domain.FlashSaleUpcoming && !now.Before(fs.StartDate):
			next = domain.FlashSaleActive
		}
		if next != fs.Status {
			fs.Status = next
			fs.UpdatedAt = now
			t.st.flashSales[id] = fs
			n++
		}
	}
	return n, nil
}

// ---- auctions ----

func (t *tx) GetAuction(_ context.Context, id string) (domain.Auction, error) {
	a, ok := t.st.auctions[id]
	if !ok {
		return domain.Auction{}, notFound("auction", id)
	}
	return a, nil
}

func (t *tx) LockAuction(ctx context.Context, id string) (domain.Auction, error) {
	return t.GetAuction(ctx, id)
}

func (t *tx) InsertAuction(_ context.Context, a domain.Auction) error {
	for _, other := range t.st.auctions {
		if other.ProductID == a.ProductID && (other.Status == domain.AuctionActive || other.Status == domain.AuctionUpcoming) {
			return fmt.Errorf("%w: product %s already has an open auction", domain.ErrConflict, a.ProductID)
		}
	}
	t.st.auctions[a.ID] = a
	return nil
}

func (t *tx) DeleteAuction(_ context.Context, id string) error {
	if _, ok := t.st.auctions[id]; !ok {
		return notFound("auction", id)
	}
	delete(t.st.auctions, id)
	return nil
}

func (t *tx) OpenAuctionForProduct(_ context.Context, productID string) (domain.Auction, error) {
	for _, a := range t.st.auctions {
		if a.ProductID == productID && (a.Status == domain.AuctionActive || a.Status == domain.AuctionUpcoming) {
			return a, nil
		}
	}
	return domain.Auction{}, notFound("open auction for product", productID)
}

func (t *tx) InsertBid(_ context.Context, b domain.Bid) error {
	if err := t.fail("InsertBid"); err != nil {
		return err
	}
	t.st.bids = append(t.st.bids, b)
	return nil
}

func (t *tx) ApplyBid(_ context.Context, id string, amount int64, markSold bool, now time.Time) (domain.Auction, error) {
	if err := t.fail("ApplyBid"); err != nil {
		return domain.Auction{}, err
	}
	a, ok := t.st.auctions[id]
	if !ok {
		return domain.Auction{}, notFound("auction", id)
	}
	if a.Status != domain.AuctionActive {
		return domain.Auction{}, fmt.Errorf("%w: auction %s is %s", domain.ErrNotActive, id, a.Status)
	}
	if !now.Before(a.EndDate) {
		return domain.Auction{}, fmt.Errorf("%w: auction %s", domain.ErrEnded, id)
	}
	if amount <= a.Highest() {
		return domain.Auction{}, fmt.Errorf("%w: bid must exceed current bid of %d", domain.ErrBidTooLow, a.Highest())
	}
	a.CurrentBid = &amount
	a.BidCount++
	if markSold {
		a.Status = domain.AuctionSold
	}
	a.UpdatedAt = now
	t.st.auctions[id] = a
	return a, nil
}

func (t *tx) sortedBids(auctionID string) []domain.Bid {
	var out []domain.Bid
	for _, b := range t.st.bids {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (t *tx) HighestBid(_ context.Context, auctionID string) (domain.Bid, error) {
	bids := t.sortedBids(auctionID)
	if len(bids) == 0 {
		return domain.Bid{}, notFound("bids for auction", auctionID)
	}
	return bids[0], nil
}

func (t *tx) ListBids(_ context.Context, auctionID string) ([]domain.Bid, error) {
	return t.sortedBids(auctionID), nil
}

func (t *tx) SellAuction(_ context.Context, id string, price int64) (domain.Auction, error) {
	if err := t.fail("SellAuction"); err != nil {
		return domain.Auction{}, err
	}
	a, ok := t.st.auctions[id]
	if !ok {
		return domain.Auction{}, notFound("auction", id)
	}
	if a.Status != domain.AuctionActive && a.Status != domain.AuctionEnded {
		return domain.Auction{}, fmt.Errorf("%w: auction %s is %s", domain.ErrConflict, id, a.Status)
	}
	a.Status = domain.AuctionSold
	a.CurrentBid = &price
	t.st.auctions[id] = a
	return a, nil
}

func (t *tx) RefreshAuctionStatuses(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, a := range t.st.auctions {
		next := a.Status
		switch {
		case a.Status == domain.AuctionSold || a.Status == domain.AuctionEnded:
		case !now.Before(a.EndDate):
			next = domain.AuctionEnded
		case a.Status == domain.AuctionUpcoming && !now.Before(a.StartDate):
			next = domain.AuctionActive
		}
		if next != a.Status {
			a.Status = next
			a.UpdatedAt = now
			t.st.auctions[id] = a
			n++
		}
	}
	return n, nil
}

// ---- reservations ----

func (t *tx) GetReservation(_ context.Context, id string) (domain.Reservation, error) {
	r, ok := t.st.reservations[id]
	if !ok {
		return domain.Reservation{}, notFound("reservation", id)
	}
	return r, nil
}

func (t *tx) ActiveReservation(_ context.Context, userID string, kind domain.ReservationType, targetID string) (domain.Reservation, error) {
	for _, id := range t.st.resOrder {
		r := t.st.reservations[id]
		if r.UserID != userID || r.Type != kind || r.Status != domain.ReservationActive {
			continue
		}
		if (kind == domain.ReservationFlashSale && r.FlashSaleID == targetID) ||
			(kind == domain.ReservationAuction && r.AuctionID == targetID) {
			return r, nil
		}
	}
	return domain.Reservation{}, notFound("active reservation for", targetID)
}

func (t *tx) ListActiveReservations(_ context.Context, userID string, now time.Time) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, id := range t.st.resOrder {
		r := t.st.reservations[id]
		if r.UserID == userID && r.Live(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *tx) UpsertFlashSaleReservation(ctx context.Context, r domain.Reservation) (domain.Reservation, error) {
	if err := t.fail("UpsertFlashSaleReservation"); err != nil {
		return domain.Reservation{}, err
	}
	existing, err := t.ActiveReservation(ctx, r.UserID, domain.ReservationFlashSale, r.FlashSaleID)
	if err == nil {
		existing.Quantity = r.Quantity
		existing.ExpiresAt = r.ExpiresAt
		existing.UpdatedAt = r.UpdatedAt
		t.st.reservations[existing.ID] = existing
		return existing, nil
	}
	if err := t.InsertReservation(ctx, r); err != nil {
		return domain.Reservation{}, err
	}
	return r, nil
}

func (t *tx) InsertReservation(_ context.Context, r domain.Reservation) error {
	if r.Type == domain.ReservationAuction && r.Status == domain.ReservationActive {
		for _, other := range t.st.reservations {
			if other.AuctionID == r.AuctionID && other.Type == domain.ReservationAuction && other.Status == domain.ReservationActive {
				return fmt.Errorf("%w: auction %s already has an active reservation", domain.ErrConflict, r.AuctionID)
			}
		}
	}
	t.st.reservations[r.ID] = r
	t.st.resOrder = append(t.st.resOrder, r.ID)
	return nil
}

func (t *tx) HeldQuantity(_ context.Context, flashSaleID string, now time.Time, excludeUserID string) (int, error) {
	var n int
	for _, r := range t.st.reservations {
		if r.FlashSaleID == flashSaleID && r.Live(now) && r.UserID != excludeUserID {
			n += r.Quantity
		}
	}
	return n, nil
}

func (t *tx) TransitionReservation(_ context.Context, id string, to domain.ReservationStatus, now time.Time) (domain.Reservation, error) {
	r, ok := t.st.reservations[id]
	if !ok {
		return domain.Reservation{}, notFound("reservation", id)
	}
	if r.Status != domain.ReservationActive {
		return domain.Reservation{}, fmt.Errorf("%w: reservation %s is %s", domain.ErrConflict, id, r.Status)
	}
	r.Status = to
	r.UpdatedAt = now
	t.st.reservations[id] = r
	return r, nil
}

func (t *tx) CompleteFlashSaleReservation(_ context.Context, userID, flashSaleID string, now time.Time) (bool, error) {
	if err := t.fail("CompleteFlashSaleReservation"); err != nil {
		return false, err
	}
	done := false
	for id, r := range t.st.reservations {
		if r.UserID == userID && r.FlashSaleID == flashSaleID && r.Status == domain.ReservationActive {
			r.Status = domain.ReservationCompleted
			r.UpdatedAt = now
			t.st.reservations[id] = r
			done = true
		}
	}
	return done, nil
}

func (t *tx) CancelAuctionReservations(_ context.Context, auctionID string, now time.Time) (int64, error) {
	var n int64
	for id, r := range t.st.reservations {
		if r.AuctionID == auctionID && r.Status == domain.ReservationActive {
			r.Status = domain.ReservationCancelled
			r.UpdatedAt = now
			t.st.reservations[id] = r
			n++
		}
	}
	return n, nil
}

func (t *tx) ExpireReservations(_ context.Context, now time.Time) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, id := range t.st.resOrder {
		r := t.st.reservations[id]
		if r.Status == domain.ReservationActive && !now.Before(r.ExpiresAt) {
			r.Status = domain.ReservationExpired
			r.UpdatedAt = now
			t.st.reservations[id] = r
			out = append(out, r)
		}
	}
	return out, nil
}

// ---- vouchers ----

func (t *tx) GetVoucherByCode(_ context.Context, code string) (domain.Voucher, error) {
	for _, v := range t.st.vouchers {
		if v.Code == code {
			return v, nil
		}
	}
	return domain.Voucher{}, notFound("voucher", code)
}

func (t *tx) InsertVoucher(_ context.Context, v domain.Voucher) error {
	t.st.vouchers[v.ID] = v
	return nil
}

func (t *tx) CountVoucherUsage(_ context.Context, voucherID string) (int, error) {
	n := 0
	for _, u := range t.st.usages {
		if u.VoucherID == voucherID {
			n++
		}
	}
	return n, nil
}

func (t *tx) CountVoucherUsageByUser(_ context.Context, voucherID, userID string) (int, error) {
	n := 0
	for _, u := range t.st.usages {
		if u.VoucherID == voucherID && u.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertVoucherUsage(_ context.Context, u domain.VoucherUsage) error {
	if err := t.fail("InsertVoucherUsage"); err != nil {
		return err
	}
	t.st.usages = append(t.st.usages, u)
	return nil
}

// ---- orders ----

func (t *tx) InsertOrder(_ context.Context, o domain.Order) error {
	if err := t.fail("InsertOrder"); err != nil {
		return err
	}
	if o.ExternalID != "" {
		for _, other := range t.st.orders {
			if other.ExternalID == o.ExternalID {
				return fmt.Errorf("%w: order with external id %s exists", domain.ErrConflict, o.ExternalID)
			}
		}
	}
	o.Items = nil
	t.st.orders[o.ID] = o
	return nil
}

func (t *tx) InsertOrderItem(_ context.Context, it domain.OrderItem) error {
	if err := t.fail("InsertOrderItem"); err != nil {
		return err
	}
	t.st.items = append(t.st.items, it)
	return nil
}

func (t *tx) withItems(o domain.Order) domain.Order {
	o.Items = nil
	for _, it := range t.st.items {
		if it.OrderID == o.ID {
			o.Items = append(o.Items, it)
		}
	}
	return o
}

func (t *tx) GetOrder(_ context.Context, id string) (domain.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return domain.Order{}, notFound("order", id)
	}
	return t.withItems(o), nil
}

func (t *tx) OrderByExternalID(_ context.Context, externalID string) (domain.Order, error) {
	for _, o := range t.st.orders {
		if o.ExternalID == externalID {
			return t.withItems(o), nil
		}
	}
	return domain.Order{}, notFound("order with external id", externalID)
}

func (t *tx) TransitionOrder(_ context.Context, id string, from []domain.OrderStatus, to domain.OrderStatus, paymentRef string) (domain.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return domain.Order{}, notFound("order", id)
	}
	allowed := false
	for _, f := range from {
		if o.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s", domain.ErrConflict, id, o.Status)
	}
	o.Status = to
	if paymentRef != "" {
		o.PaymentRef = paymentRef
	}
	t.st.orders[id] = o
	return t.withItems(o), nil
}

func (t *tx) ExpiredUnpaidOrderIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	var due []domain.Order
	for _, o := range t.st.orders {
		if o.Status == domain.OrderPending && !now.Before(o.ExpiresAt) {
			due = append(due, o)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	ids := make([]string, 0, len(due))
	for i, o := range due {
		if limit > 0 && i >= limit {
			break
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (t *tx) PurchasedQuantity(_ context.Context, userID, flashSaleID string) (int, error) {
	n := 0
	for _, it := range t.st.items {
		if it.FlashSaleID != flashSaleID {
			continue
		}
		o := t.st.orders[it.OrderID]
		if o.UserID == userID && o.Status != domain.OrderCancelled && o.Status != domain.OrderExpired {
			n += it.Quantity
		}
	}
	return n, nil
}

// ---- addresses ----

func (t *tx) GetAddress(_ context.Context, id string) (domain.Address, error) {
	a, ok := t.st.addresses[id]
	if !ok {
		return domain.Address{}, notFound("address", id)
	}
	return a, nil
}

func (t *tx) InsertAddress(_ context.Context, a domain.Address) error {
	if err := t.fail("InsertAddress"); err != nil {
		return err
	}
	t.st.addresses[a.ID] = a
	return nil
}
