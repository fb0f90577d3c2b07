package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"shopmall/pkg/domain/model"
)

const (
	compensationParallelism = 4
	defaultPageSize         = 10
	maxPageSize             = 100
)

type OrderLine struct {
	ProductID uuid.UUID
	Quantity  int
}

type OrderService interface {
	CreateOrder(ctx context.Context, memberID uuid.UUID, shipping model.Shipping, lines []OrderLine) (*model.Order, error)
	ChangeOrderStatus(ctx context.Context, orderID uuid.UUID, target model.OrderStatus, reason, actor string) (*model.Order, error)

	GetOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	ListMemberOrders(ctx context.Context, memberID uuid.UUID, page, size int) ([]model.Order, error)
	GetOrderHistory(ctx context.Context, orderID uuid.UUID) ([]model.OrderHistory, error)
	VerifyOwnership(ctx context.Context, orderID, memberID uuid.UUID) error
}

func NewOrderService(
	repo model.OrderRepository,
	histories model.OrderHistoryRepository,
	members model.MemberDirectory,
	catalog model.Catalog,
	stock StockLedger,
	cancellation CancellationService,
	locks model.LockProvider,
	dispatcher model.EventDispatcher,
	opts LockOptions,
) OrderService {
	return &orderService{
		store:        newOrderStore(repo, histories, locks, opts),
		members:      members,
		catalog:      catalog,
		stock:        stock,
		cancellation: cancellation,
		dispatcher:   dispatcher,
	}
}

type orderService struct {
	store        *orderStore
	members      model.MemberDirectory
	catalog      model.Catalog
	stock        StockLedger
	cancellation CancellationService
	dispatcher   model.EventDispatcher
}

type deduction struct {
	productID uuid.UUID
	quantity  int
}

// CreateOrder reserves stock line by line. The first failure stops the loop and
// every deduction made so far is given back before the original error returns,
// so the outcome is either a fully reserved order or no order at all.
func (s *orderService) CreateOrder(ctx context.Context, memberID uuid.UUID, shipping model.Shipping, lines []OrderLine) (*model.Order, error) {
	if len(lines) == 0 {
		return nil, model.ErrEmptyOrderItems
	}
	for _, line := range lines {
		if line.Quantity <= 0 || line.Quantity > model.MaxItemQuantity {
			return nil, errors.Wrapf(model.ErrInvalidQuantity, "product %s: quantity %d", line.ProductID, line.Quantity)
		}
	}
	if !shipping.Valid() {
		return nil, model.ErrInvalidShipping
	}

	member, err := s.members.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	orderID, err := s.store.repo.NextID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &model.Order{
		ID:        orderID,
		Number:    model.NewOrderNumber(),
		MemberID:  memberID,
		Status:    model.StatusPendingPayment,
		Shipping:  shipping,
		Items:     make([]model.OrderItem, 0, len(lines)),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	deducted := make([]deduction, 0, len(lines))
	for _, line := range lines {
		if err := s.stock.Deduct(ctx, line.ProductID, line.Quantity); err != nil {
			s.compensate(ctx, orderID, deducted)
			return nil, err
		}
		deducted = append(deducted, deduction{productID: line.ProductID, quantity: line.Quantity})

		item, err := s.newItem(ctx, orderID, line)
		if err != nil {
			s.compensate(ctx, orderID, deducted)
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	order.RecalculateTotal()

	if err := s.store.repo.Create(ctx, order); err != nil {
		s.compensate(ctx, orderID, deducted)
		return nil, err
	}

	s.store.record(ctx, model.RecordHistory(order.ID, nil, model.StatusPendingPayment, "order created", member.Email))

	log.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
		"member_id":    memberID,
		"total_amount": order.TotalAmount,
	}).Info("order created")

	dispatchEvents(s.dispatcher, model.OrderCreated{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		MemberID:    memberID,
		TotalAmount: order.TotalAmount,
	})
	return order, nil
}

func (s *orderService) newItem(ctx context.Context, orderID uuid.UUID, line OrderLine) (model.OrderItem, error) {
	product, err := s.catalog.GetProduct(ctx, line.ProductID)
	if err != nil {
		return model.OrderItem{}, err
	}
	itemID, err := s.store.repo.NextID()
	if err != nil {
		return model.OrderItem{}, err
	}
	return model.OrderItem{
		ID:        itemID,
		OrderID:   orderID,
		ProductID: line.ProductID,
		Quantity:  line.Quantity,
		Snapshot:  product.Snapshot(),
		Status:    model.ItemPendingPayment,
	}, nil
}

// compensate restores every deduction of a failed attempt. Restores target
// independent product locks and run in parallel; their failures never replace
// the error that triggered compensation.
func (s *orderService) compensate(ctx context.Context, orderID uuid.UUID, deducted []deduction) {
	if len(deducted) == 0 {
		return
	}

	var (
		g      errgroup.Group
		events eventBuffer
	)
	g.SetLimit(compensationParallelism)
	for _, d := range deducted {
		d := d
		g.Go(func() error {
			restoreBestEffort(ctx, s.stock, &events, d.productID, d.quantity, log.Fields{"order_id": orderID})
			return nil
		})
	}
	_ = g.Wait()
	events.flush(s.dispatcher)

	log.WithFields(log.Fields{
		"order_id": orderID,
		"restored": len(deducted),
	}).Warn("order creation failed, stock deductions compensated")
}

func (s *orderService) ChangeOrderStatus(ctx context.Context, orderID uuid.UUID, target model.OrderStatus, reason, actor string) (*model.Order, error) {
	if !target.Valid() {
		return nil, errors.Wrapf(model.ErrInvalidTransition, "unknown target status %q", target)
	}
	if target == model.StatusCancelled {
		order, err := s.store.repo.Find(ctx, orderID)
		if err != nil {
			return nil, err
		}
		// Shipped and delivered orders are rejected as a transition, not as a cancellation.
		if _, err := order.Status.TransitionTo(model.StatusCancelled); err != nil {
			return nil, err
		}
		return s.cancellation.CancelOrder(ctx, orderID, reason, actor)
	}
	if reason == "" {
		reason = "status changed"
	}

	var (
		result *model.Order
		events eventBuffer
	)
	err := s.store.withOrder(ctx, orderID, func(lock model.Lock, order *model.Order) error {
		previous := order.Status
		if err := applyStatus(order, target); err != nil {
			return err
		}
		if err := s.store.save(ctx, lock, order); err != nil {
			return err
		}
		s.store.record(ctx, model.RecordHistory(order.ID, ptrStatus(previous), target, reason, actor))

		log.WithFields(log.Fields{
			"order_id": orderID,
			"from":     previous,
			"to":       target,
		}).Info("order status changed")

		events.add(model.OrderStatusChanged{OrderID: orderID, From: previous, To: target})
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.flush(s.dispatcher)
	return result, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	return s.store.repo.Find(ctx, orderID)
}

func (s *orderService) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	return s.store.repo.FindByNumber(ctx, number)
}

func (s *orderService) ListMemberOrders(ctx context.Context, memberID uuid.UUID, page, size int) ([]model.Order, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return s.store.repo.FindByMember(ctx, memberID, size, page*size)
}

func (s *orderService) GetOrderHistory(ctx context.Context, orderID uuid.UUID) ([]model.OrderHistory, error) {
	if _, err := s.store.repo.Find(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.histories.ListByOrder(ctx, orderID)
}

func (s *orderService) VerifyOwnership(ctx context.Context, orderID, memberID uuid.UUID) error {
	order, err := s.store.repo.Find(ctx, orderID)
	if err != nil {
		return err
	}
	if order.MemberID != memberID {
		return model.ErrAccessDenied
	}
	return nil
}
