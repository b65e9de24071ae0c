package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-engine/internal/auction"
	"github.com/ariefcatur/go-storefront-engine/internal/authz"
	"github.com/ariefcatur/go-storefront-engine/internal/domain"
	"github.com/ariefcatur/go-storefront-engine/internal/flashsale"
	"github.com/ariefcatur/go-storefront-engine/internal/logx"
	"github.com/ariefcatur/go-storefront-engine/internal/settlement"
	"github.com/ariefcatur/go-storefront-engine/internal/voucher"
)

type Reservations interface {
	ReserveFlashSale(ctx context.Context, userID, flashSaleID string, qty int) (domain.Reservation, error)
	ReserveAuctionWin(ctx context.Context, userID, auctionID string) (domain.Reservation, error)
	Cancel(ctx context.Context, userID, id string) (domain.Reservation, error)
	AvailableFlashSaleStock(ctx context.Context, flashSaleID string) (int, error)
	ListActive(ctx context.Context, userID string) ([]domain.Reservation, error)
	SweepExpired(ctx context.Context) (int64, error)
}

type Auctions interface {
	PlaceBid(ctx context.Context, auctionID, userID string, amount int64, isBuyNow bool) (auction.BidResult, error)
	Get(ctx context.Context, auctionID string) (domain.Auction, []domain.Bid, error)
	CreateAuction(ctx context.Context, in auction.NewAuction) (domain.Auction, error)
	DeleteAuction(ctx context.Context, auctionID string) error
}

type FlashSales interface {
	Create(ctx context.Context, in flashsale.NewFlashSale) (domain.FlashSale, error)
	Get(ctx context.Context, id string) (domain.FlashSale, error)
}

type Orders interface {
	Settle(ctx context.Context, req settlement.Request) (domain.Order, error)
	GetOrder(ctx context.Context, id, userID string) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID, userID, reason string) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, to domain.OrderStatus, reason string) (domain.Order, error)
	ExpireUnpaidOrders(ctx context.Context, limit int) ([]string, error)
}

type Vouchers interface {
	Validate(ctx context.Context, code string, cart domain.Cart, shippingCost int64) (voucher.Verdict, error)
}

type Handlers struct {
	Reservations Reservations
	Auctions     Auctions
	FlashSales   FlashSales
	Orders       Orders
	Vouchers     Vouchers
	Auth         *authz.JWTAuthenticator
	Log          *zap.Logger
}

func (h *Handlers) Register(r chi.Router) {
	h.Log = logx.OrNop(h.Log)

	r.Get("/flash-sales/{id}", h.getFlashSale)
	r.Get("/flash-sales/{id}/stock", h.flashSaleStock)
	r.Get("/auctions/{id}", h.getAuction)

	r.Group(func(r chi.Router) {
		r.Use(h.Auth.Middleware)

		r.With(authz.Require(authz.CapReserve)).Post("/flash-sales/{id}/reservations", h.reserveFlashSale)
		r.With(authz.Require(authz.CapReserve)).Post("/auctions/{id}/reservations", h.reserveAuctionWin)
		r.With(authz.Require(authz.CapReserve)).Get("/reservations", h.listReservations)
		r.With(authz.Require(authz.CapReserve)).Delete("/reservations/{id}", h.cancelReservation)

		r.With(authz.Require(authz.CapBid)).Post("/auctions/{id}/bids", h.placeBid)

		r.With(authz.Require(authz.CapSettle)).Post("/vouchers/preview", h.previewVoucher)
		r.With(authz.Require(authz.CapSettle)).Post("/orders", h.settle)
		r.With(authz.Require(authz.CapSettle)).Get("/orders/{id}", h.getOrder)
		r.With(authz.Require(authz.CapSettle)).Post("/orders/{id}/cancel", h.cancelOrder)

		r.Route("/admin", func(r chi.Router) {
			r.With(authz.Require(authz.CapManageSales)).Post("/flash-sales", h.createFlashSale)
			r.With(authz.Require(authz.CapManageSales)).Post("/auctions", h.createAuction)
			r.With(authz.Require(authz.CapManageSales)).Delete("/auctions/{id}", h.deleteAuction)
			r.With(authz.Require(authz.CapManageOrder)).Patch("/orders/{id}/status", h.updateOrderStatus)
			r.With(authz.Require(authz.CapMaintenance)).Post("/maintenance/sweep", h.sweep)
		})
	})
}

func identity(r *http.Request) authz.Identity {
	id, _ := authz.FromContext(r.Context())
	return id
}

// ownerScope is the user id a lookup must match; order managers see all.
func ownerScope(id authz.Identity) string {
	if id.Can(authz.CapManageOrder) {
		return ""
	}
	return id.ID
}

func (h *Handlers) getFlashSale(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	fs, err := h.FlashSales.Get(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	out := toFlashSale(fs)
	if n, err := h.Reservations.AvailableFlashSaleStock(ctx, id); err == nil {
		out.Available = &n
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) flashSaleStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	n, err := h.Reservations.AvailableFlashSaleStock(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"available": n})
}

func (h *Handlers) getAuction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	a, bids, err := h.Auctions.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuction(a, bids))
}

func (h *Handlers) reserveFlashSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Reservations.ReserveFlashSale(ctx, identity(r).ID, chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservation(res))
}

func (h *Handlers) reserveAuctionWin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Reservations.ReserveAuctionWin(ctx, identity(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservation(res))
}

func (h *Handlers) listReservations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rs, err := h.Reservations.ListActive(ctx, identity(r).ID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	out := make([]reservationResp, len(rs))
	for i, res := range rs {
		out[i] = toReservation(res)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) cancelReservation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Reservations.Cancel(ctx, identity(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservation(res))
}

func (h *Handlers) placeBid(w http.ResponseWriter, r *http.Request) {
	var req bidReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Auctions.PlaceBid(ctx, chi.URLParam(r, "id"), identity(r).ID, req.Amount, req.BuyNow)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	b := res.Bid
	writeJSON(w, http.StatusCreated, placeBidResp{
		Bid:       bidResp{ID: b.ID, UserID: b.UserID, Amount: b.Amount, CreatedAt: b.CreatedAt},
		Auction:   toAuction(res.Auction, nil),
		WasBuyNow: res.WasBuyNow,
	})
}

func (h *Handlers) previewVoucher(w http.ResponseWriter, r *http.Request) {
	var req voucherPreviewReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := h.Vouchers.Validate(ctx, req.Code, toCart(identity(r).ID, req.Items), req.ShippingCost)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, voucherPreviewResp{
		Code: v.Voucher.Code, Type: string(v.Voucher.Type), EligibleSubtotal: v.EligibleSubtotal, Discount: v.Discount,
	})
}

func (h *Handlers) settle(w http.ResponseWriter, r *http.Request) {
	var req settleReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Orders.Settle(ctx, settlement.Request{
		Cart:           toCart(identity(r).ID, req.Items),
		Address:        req.Address.input(),
		ShippingCost:   req.ShippingCost,
		VoucherCode:    req.VoucherCode,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrder(o))
}

func (h *Handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, chi.URLParam(r, "id"), ownerScope(identity(r)))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (h *Handlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.CancelOrder(ctx, chi.URLParam(r, "id"), ownerScope(identity(r)), req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (h *Handlers) createFlashSale(w http.ResponseWriter, r *http.Request) {
	var req newFlashSaleReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	fs, err := h.FlashSales.Create(ctx, flashsale.NewFlashSale{
		ProductID: req.ProductID, Price: req.Price, StartDate: req.StartDate, EndDate: req.EndDate,
		LimitedQuantity: req.LimitedQuantity, MaxOrderQuantity: req.MaxOrderQuantity,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFlashSale(fs))
}

func (h *Handlers) createAuction(w http.ResponseWriter, r *http.Request) {
	var req newAuctionReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	a, err := h.Auctions.CreateAuction(ctx, req.input())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuction(a, nil))
}

func (h *Handlers) deleteAuction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Auctions.DeleteAuction(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	to, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		badRequest(w, "unknown status "+req.Status)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.UpdateStatus(ctx, chi.URLParam(r, "id"), to, req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (h *Handlers) sweep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	n, err := h.Reservations.SweepExpired(ctx)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	ids, err := h.Orders.ExpireUnpaidOrders(ctx, 0)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, sweepResp{ReservationsExpired: n, OrdersExpired: ids})
}
