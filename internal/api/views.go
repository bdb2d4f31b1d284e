package api

import (
	"time"

	"storefront-checkout/internal/models"
	"storefront-checkout/internal/money"
)

type orderLineView struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	ImageRef  string `json:"image_ref"`
}

type orderView struct {
	OrderNumber   string          `json:"order_number"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	PaymentMethod string          `json:"payment_method"`
	Subtotal      string          `json:"subtotal"`
	Discount      string          `json:"discount"`
	Shipping      string          `json:"shipping"`
	Tax           string          `json:"tax"`
	Total         string          `json:"total"`
	Currency      string          `json:"currency"`
	ContactName   string          `json:"contact_name"`
	ContactEmail  string          `json:"contact_email"`
	Lines         []orderLineView `json:"lines"`
	CreatedAt     time.Time       `json:"created_at"`
}

func newOrderView(o *models.Order, lines []models.OrderLine) orderView {
	v := orderView{
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		Subtotal:      money.Format(o.SubtotalCents),
		Discount:      money.Format(o.DiscountAmountCents),
		Shipping:      money.Format(o.ShippingAmountCents),
		Tax:           money.Format(o.TaxAmountCents),
		Total:         money.Format(o.TotalAmountCents),
		Currency:      o.Currency,
		ContactName:   o.ContactName,
		ContactEmail:  o.ContactEmail,
		Lines:         make([]orderLineView, len(lines)),
		CreatedAt:     o.CreatedAt,
	}
	for i, l := range lines {
		v.Lines[i] = orderLineView{
			ProductID: l.ProductID,
			Name:      l.Name,
			UnitPrice: money.Format(l.UnitPriceCents),
			Quantity:  l.Quantity,
			ImageRef:  l.ImageRef,
		}
	}
	return v
}
