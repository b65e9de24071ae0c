package memstore

import "github.com/ariefcatur/go-storefront-engine/internal/domain"

// Seed and inspection helpers bypass transactions; they are meant for tests
// and local demo data.

func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

func (s *Store) PutFlashSale(fs domain.FlashSale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.flashSales[fs.ID] = fs
}

func (s *Store) PutAuction(a domain.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.auctions[a.ID] = a
}

func (s *Store) PutVoucher(v domain.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.vouchers[v.ID] = v
}

func (s *Store) PutVoucherUsage(u domain.VoucherUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.usages = append(s.st.usages, u)
}

func (s *Store) PutReservation(r domain.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.reservations[r.ID]; !ok {
		s.st.resOrder = append(s.st.resOrder, r.ID)
	}
	s.st.reservations[r.ID] = r
}

// PutOrder stores o and its Items.
func (s *Store) PutOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.items = append(s.st.items, o.Items...)
	o.Items = nil
	s.st.orders[o.ID] = o
}

func (s *Store) PutBid(b domain.Bid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.bids = append(s.st.bids, b)
}

func (s *Store) Product(id string) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.products[id]
}

func (s *Store) FlashSale(id string) domain.FlashSale {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.flashSales[id]
}

func (s *Store) Auction(id string) domain.Auction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.auctions[id]
}

func (s *Store) Reservations() []domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Reservation, 0, len(s.st.resOrder))
	for _, id := range s.st.resOrder {
		out = append(out, s.st.reservations[id])
	}
	return out
}

func (s *Store) Bids() []domain.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Bid(nil), s.st.bids...)
}

func (s *Store) Orders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.st.orders))
	for _, o := range s.st.orders {
		out = append(out, o)
	}
	return out
}

func (s *Store) OrderItems() []domain.OrderItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OrderItem(nil), s.st.items...)
}

func (s *Store) VoucherUsages() []domain.VoucherUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.VoucherUsage(nil), s.st.usages...)
}

func (s *Store) Addresses() []domain.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Address, 0, len(s.st.addresses))
	for _, a := range s.st.addresses {
		out = append(out, a)
	}
	return out
}
