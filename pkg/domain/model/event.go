package model

import "github.com/google/uuid"

type Event interface {
	Type() string
}

type EventDispatcher interface {
	Dispatch(event Event) error
}

type OrderCreated struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	MemberID    uuid.UUID `json:"member_id"`
	TotalAmount int64     `json:"total_amount"`
}

func (e OrderCreated) Type() string { return "OrderCreated" }

type OrderStatusChanged struct {
	OrderID uuid.UUID   `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}

func (e OrderStatusChanged) Type() string { return "OrderStatusChanged" }

type OrderCancelled struct {
	OrderID uuid.UUID `json:"order_id"`
	Reason  string    `json:"reason"`
}

func (e OrderCancelled) Type() string { return "OrderCancelled" }

type OrderItemCancelled struct {
	OrderID     uuid.UUID `json:"order_id"`
	ItemID      uuid.UUID `json:"item_id"`
	ProductID   uuid.UUID `json:"product_id"`
	Quantity    int       `json:"quantity"`
	TotalAmount int64     `json:"total_amount"`
}

func (e OrderItemCancelled) Type() string { return "OrderItemCancelled" }

type StockDeducted struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Remaining int       `json:"remaining"`
}

func (e StockDeducted) Type() string { return "StockDeducted" }

type StockRestored struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Remaining int       `json:"remaining"`
}

func (e StockRestored) Type() string { return "StockRestored" }

// StockRestoreFailed means stock drifted and needs reconciliation.
type StockRestoreFailed struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
}

func (e StockRestoreFailed) Type() string { return "StockRestoreFailed" }

type PaymentCompletedEvent struct {
	PaymentID uuid.UUID `json:"payment_id"`
	OrderID   uuid.UUID `json:"order_id"`
	Amount    int64     `json:"amount"`
}

func (e PaymentCompletedEvent) Type() string { return "PaymentCompleted" }

type PaymentFailedEvent struct {
	PaymentID uuid.UUID `json:"payment_id"`
	OrderID   uuid.UUID `json:"order_id"`
	Reason    string    `json:"reason"`
}

func (e PaymentFailedEvent) Type() string { return "PaymentFailed" }

type PaymentCancelledEvent struct {
	PaymentID uuid.UUID `json:"payment_id"`
	OrderID   uuid.UUID `json:"order_id"`
}

func (e PaymentCancelledEvent) Type() string { return "PaymentCancelled" }
