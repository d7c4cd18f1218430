package events

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Product struct {
	Code      string  `json:"code" validate:"required"`
	UnitValue float64 `json:"unitValue" validate:"gte=0"`
}

type OrderProduct struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity" validate:"gt=0"`
}

type Order struct {
	ID            string         `json:"id" validate:"required"`
	Products      []OrderProduct `json:"products" validate:"required,min=1,dive"`
	TotalAmount   float64        `json:"totalAmount" validate:"gte=0"`
	TotalItems    int            `json:"totalItems" validate:"gte=0"`
	CreatedAt     time.Time      `json:"createdAt"`
	TransactionID string         `json:"transactionId"`
}

func (o Order) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid order %q: %w", o.ID, err)
	}
	return nil
}

// Totals returns the item count and amount computed from the order lines.
func (o Order) Totals() (items int, amount float64) {
	for _, p := range o.Products {
		items += p.Quantity
		amount += float64(p.Quantity) * p.Product.UnitValue
	}
	return items, amount
}

func (o Order) clone() Order {
	c := o
	if o.Products != nil {
		c.Products = append([]OrderProduct(nil), o.Products...)
	}
	return c
}
