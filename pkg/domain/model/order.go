package model

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxItemQuantity = 100

type Shipping struct {
	Address       string
	ReceiverName  string
	ReceiverPhone string
}

func (s Shipping) Valid() bool {
	return strings.TrimSpace(s.Address) != "" &&
		strings.TrimSpace(s.ReceiverName) != "" &&
		strings.TrimSpace(s.ReceiverPhone) != ""
}

// ProductSnapshot freezes catalog attributes at order time. Later product edits
// never touch it.
type ProductSnapshot struct {
	Name        string
	Price       int64
	ImageURL    string
	Description string
}

type Order struct {
	ID          uuid.UUID
	Number      string
	MemberID    uuid.UUID
	Status      OrderStatus
	TotalAmount int64 // minor currency units
	Shipping    Shipping
	Items       []OrderItem
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// OrderItem refers to its order by identifier only.
type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	Snapshot  ProductSnapshot
	Status    OrderItemStatus
}

func NewOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (i OrderItem) Subtotal() int64 {
	return i.Snapshot.Price * int64(i.Quantity)
}

func (i OrderItem) IsCancellable() bool {
	return i.Status.CanTransitionTo(ItemCancelled)
}

func (i *OrderItem) ChangeStatus(target OrderItemStatus) error {
	next, err := i.Status.TransitionTo(target)
	if err != nil {
		return err
	}
	i.Status = next
	return nil
}

func (o *Order) IsCancellable() bool {
	return o.Status.CanTransitionTo(StatusCancelled)
}

func (o *Order) ChangeStatus(target OrderStatus) error {
	next, err := o.Status.TransitionTo(target)
	if err != nil {
		return err
	}
	o.Status = next
	return nil
}

// RecalculateTotal keeps TotalAmount equal to the sum of non-cancelled subtotals.
func (o *Order) RecalculateTotal() {
	var total int64
	for _, item := range o.Items {
		if item.Status == ItemCancelled {
			continue
		}
		total += item.Subtotal()
	}
	o.TotalAmount = total
}

func (o *Order) Item(itemID uuid.UUID) (*OrderItem, error) {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i], nil
		}
	}
	return nil, ErrOrderItemNotFound
}

func (o *Order) HasActiveItems() bool {
	for _, item := range o.Items {
		if item.Status != ItemCancelled {
			return true
		}
	}
	return false
}

type OrderRepository interface {
	NextID() (uuid.UUID, error)
	Create(ctx context.Context, order *Order) error
	Find(ctx context.Context, id uuid.UUID) (*Order, error)
	FindByNumber(ctx context.Context, number string) (*Order, error)
	FindByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]Order, error)
	// Update persists the order and its item statuses. The stored version must be
	// order.Version-1, otherwise ErrOptimisticLock is returned.
	Update(ctx context.Context, order *Order) error
}

type OrderHistory struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	PreviousStatus *OrderStatus
	NewStatus      OrderStatus
	Reason         string
	ChangedBy      string
	CreatedAt      time.Time
}

func RecordHistory(orderID uuid.UUID, from *OrderStatus, to OrderStatus, reason, changedBy string) *OrderHistory {
	return &OrderHistory{
		ID:             uuid.New(),
		OrderID:        orderID,
		PreviousStatus: from,
		NewStatus:      to,
		Reason:         reason,
		ChangedBy:      changedBy,
		CreatedAt:      time.Now().UTC(),
	}
}

// OrderHistoryRepository is append-only.
type OrderHistoryRepository interface {
	Append(ctx context.Context, history *OrderHistory) error
	// ListByOrder returns records newest first.
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderHistory, error)
}
