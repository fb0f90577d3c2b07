package model

import (
	"fmt"
	"strings"
)

type OrderStatus string

const (
	StatusPendingPayment  OrderStatus = "PENDING_PAYMENT"
	StatusPaid            OrderStatus = "PAID"
	StatusPreparing       OrderStatus = "PREPARING"
	StatusShipped         OrderStatus = "SHIPPED"
	StatusDelivered       OrderStatus = "DELIVERED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRefundRequested OrderStatus = "REFUND_REQUESTED"
	StatusRefunded        OrderStatus = "REFUNDED"
)

// OrderItemStatus mirrors OrderStatus at item granularity so that a single order
// can hold delivered and cancelled lines at the same time.
type OrderItemStatus string

const (
	ItemPendingPayment  OrderItemStatus = "PENDING_PAYMENT"
	ItemPaid            OrderItemStatus = "PAID"
	ItemPreparing       OrderItemStatus = "PREPARING"
	ItemShipped         OrderItemStatus = "SHIPPED"
	ItemDelivered       OrderItemStatus = "DELIVERED"
	ItemCancelled       OrderItemStatus = "CANCELLED"
	ItemRefundRequested OrderItemStatus = "REFUND_REQUESTED"
	ItemRefunded        OrderItemStatus = "REFUNDED"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentCompleted         PaymentStatus = "COMPLETED"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentCancelled         PaymentStatus = "CANCELLED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

type transitionTable[S ~string] map[S]map[S]struct{}

func newTransitionTable[S ~string](edges map[S][]S) transitionTable[S] {
	table := make(transitionTable[S], len(edges))
	for from, targets := range edges {
		set := make(map[S]struct{}, len(targets))
		for _, to := range targets {
			set[to] = struct{}{}
		}
		table[from] = set
	}
	return table
}

func mirrorTable[S, T ~string](src transitionTable[S]) transitionTable[T] {
	table := make(transitionTable[T], len(src))
	for from, targets := range src {
		set := make(map[T]struct{}, len(targets))
		for to := range targets {
			set[T(to)] = struct{}{}
		}
		table[T(from)] = set
	}
	return table
}

func (t transitionTable[S]) allows(from, to S) bool {
	_, ok := t[from][to]
	return ok
}

func (t transitionTable[S]) known(s S) bool {
	_, ok := t[s]
	return ok
}

var orderTransitions = newTransitionTable(map[OrderStatus][]OrderStatus{
	StatusPendingPayment:  {StatusPaid, StatusCancelled},
	StatusPaid:            {StatusPreparing, StatusCancelled, StatusRefundRequested},
	StatusPreparing:       {StatusShipped, StatusCancelled},
	StatusShipped:         {StatusDelivered},
	StatusDelivered:       {StatusRefundRequested},
	StatusCancelled:       {},
	StatusRefundRequested: {StatusRefunded},
	StatusRefunded:        {},
})

var itemTransitions = mirrorTable[OrderStatus, OrderItemStatus](orderTransitions)

type InvalidTransitionError struct {
	Machine string
	From    string
	To      string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s status transition not allowed: %s -> %s", e.Machine, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func (s OrderStatus) String() string { return string(s) }

func (s OrderStatus) Valid() bool { return orderTransitions.known(s) }

func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	return orderTransitions.allows(s, target)
}

// TransitionTo is pure: it returns the target when the move is legal and never
// mutates the receiver.
func (s OrderStatus) TransitionTo(target OrderStatus) (OrderStatus, error) {
	if !s.CanTransitionTo(target) {
		return s, &InvalidTransitionError{Machine: "order", From: string(s), To: string(target)}
	}
	return target, nil
}

func (s OrderStatus) IsTerminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

func (s OrderItemStatus) String() string { return string(s) }

func (s OrderItemStatus) Valid() bool { return itemTransitions.known(s) }

func (s OrderItemStatus) CanTransitionTo(target OrderItemStatus) bool {
	return itemTransitions.allows(s, target)
}

func (s OrderItemStatus) TransitionTo(target OrderItemStatus) (OrderItemStatus, error) {
	if !s.CanTransitionTo(target) {
		return s, &InvalidTransitionError{Machine: "order item", From: string(s), To: string(target)}
	}
	return target, nil
}

func (s OrderItemStatus) IsTerminal() bool {
	return s.Valid() && len(itemTransitions[s]) == 0
}

func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}
