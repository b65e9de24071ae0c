package domain

import "fmt"

type LineCategory string

const (
	CategoryRegular   LineCategory = "regular"
	CategoryFlashSale LineCategory = "flashsale"
	CategoryAuction   LineCategory = "auction"
)

// Cart is the checkout snapshot handed to settlement.
type Cart struct {
	UserID string
	Lines  []CartLine
}

type CartLine struct {
	ProductID   string
	Quantity    int
	UnitPrice   int64
	FlashSaleID string
	AuctionID   string
}

func (l CartLine) Category() LineCategory {
	switch {
	case l.FlashSaleID != "":
		return CategoryFlashSale
	case l.AuctionID != "":
		return CategoryAuction
	default:
		return CategoryRegular
	}
}

func (l CartLine) Total() int64 { return l.UnitPrice * int64(l.Quantity) }

func (c Cart) Subtotal() int64 {
	var s int64
	for _, l := range c.Lines {
		s += l.Total()
	}
	return s
}

// SingleUnit reports whether the cart is exactly one line of quantity one.
func (c Cart) SingleUnit() bool {
	return len(c.Lines) == 1 && c.Lines[0].Quantity == 1
}

func (c Cart) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrValidationFailed)
	}
	if len(c.Lines) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrValidationFailed)
	}
	for i, l := range c.Lines {
		if l.ProductID == "" {
			return fmt.Errorf("%w: line %d has no product", ErrValidationFailed, i)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: invalid qty for product %s", ErrValidationFailed, l.ProductID)
		}
		if l.UnitPrice < 0 {
			return fmt.Errorf("%w: negative price for product %s", ErrValidationFailed, l.ProductID)
		}
		if l.FlashSaleID != "" && l.AuctionID != "" {
			return fmt.Errorf("%w: line %d is both flash sale and auction", ErrValidationFailed, i)
		}
	}
	return nil
}
