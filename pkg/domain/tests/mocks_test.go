package tests

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"shopmall/pkg/domain/model"
	"shopmall/pkg/domain/service"
)

var testLockOptions = service.LockOptions{Wait: 2 * time.Second, Lease: time.Second}

type fixture struct {
	orders     *mockOrderRepository
	histories  *mockHistoryRepository
	products   *mockProductRepository
	members    *mockMemberDirectory
	payments   *mockPaymentRepository
	gateway    *mockGateway
	locks      *mockLockProvider
	dispatcher *mockEventDispatcher

	stock        service.StockLedger
	orderService service.OrderService
	cancellation service.CancellationService
	payment      service.PaymentService

	member *model.Member
}

func setup(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		orders:     &mockOrderRepository{store: make(map[uuid.UUID]*model.Order)},
		histories:  &mockHistoryRepository{},
		products:   &mockProductRepository{store: make(map[uuid.UUID]*model.Product)},
		members:    &mockMemberDirectory{store: make(map[uuid.UUID]*model.Member)},
		payments:   &mockPaymentRepository{store: make(map[uuid.UUID]*model.Payment), keys: make(map[string]uuid.UUID)},
		gateway:    &mockGateway{},
		locks:      &mockLockProvider{slots: make(map[string]chan struct{})},
		dispatcher: &mockEventDispatcher{},
	}

	f.stock = service.NewStockLedger(f.products, f.locks, f.dispatcher, testLockOptions)
	f.cancellation = service.NewCancellationService(f.orders, f.histories, f.payments, f.stock, f.locks, f.dispatcher, testLockOptions)
	f.orderService = service.NewOrderService(f.orders, f.histories, f.members, f.products, f.stock, f.cancellation, f.locks, f.dispatcher, testLockOptions)
	f.payment = service.NewPaymentService(f.payments, f.orders, f.histories, f.gateway, f.locks, f.dispatcher, testLockOptions)

	f.member = &model.Member{ID: uuid.New(), Email: "buyer@shopmall.test", Name: "Buyer"}
	f.members.store[f.member.ID] = f.member
	return f
}

func (f *fixture) addProduct(name string, price int64, stock int) *model.Product {
	product := &model.Product{
		ID:            uuid.New(),
		Name:          name,
		Price:         price,
		StockQuantity: stock,
		Version:       1,
	}
	f.products.put(product)
	return product
}

func (f *fixture) placeOrder(t *testing.T, lines ...service.OrderLine) *model.Order {
	t.Helper()
	order, err := f.orderService.CreateOrder(context.Background(), f.member.ID, validShipping(), lines)
	require.NoError(t, err)
	return order
}

func validShipping() model.Shipping {
	return model.Shipping{Address: "1 Market St", ReceiverName: "Kim", ReceiverPhone: "010-0000-0000"}
}

func cloneOrder(order *model.Order) *model.Order {
	clone := *order
	clone.Items = append([]model.OrderItem(nil), order.Items...)
	return &clone
}

var _ model.OrderRepository = &mockOrderRepository{}

type mockOrderRepository struct {
	mu        sync.Mutex
	store     map[uuid.UUID]*model.Order
	createErr error
}

func (m *mockOrderRepository) NextID() (uuid.UUID, error) {
	return uuid.NewRandom()
}

func (m *mockOrderRepository) Create(_ context.Context, order *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.store[order.ID]; exists {
		return errors.New("order with this ID already exists")
	}
	m.store[order.ID] = cloneOrder(order)
	return nil
}

func (m *mockOrderRepository) Find(_ context.Context, id uuid.UUID) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order, ok := m.store[id]; ok && order.DeletedAt == nil {
		return cloneOrder(order), nil
	}
	return nil, model.ErrOrderNotFound
}

func (m *mockOrderRepository) FindByNumber(_ context.Context, number string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.store {
		if order.Number == number {
			return cloneOrder(order), nil
		}
	}
	return nil, model.ErrOrderNotFound
}

func (m *mockOrderRepository) FindByMember(_ context.Context, memberID uuid.UUID, limit, offset int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orders []model.Order
	for _, order := range m.store {
		if order.MemberID == memberID {
			orders = append(orders, *cloneOrder(order))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	if offset >= len(orders) {
		return nil, nil
	}
	end := offset + limit
	if end > len(orders) {
		end = len(orders)
	}
	return orders[offset:end], nil
}

func (m *mockOrderRepository) Update(_ context.Context, order *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.store[order.ID]
	if !ok {
		return model.ErrOrderNotFound
	}
	if existing.Version != order.Version-1 {
		return model.ErrOptimisticLock
	}
	m.store[order.ID] = cloneOrder(order)
	return nil
}

func (m *mockOrderRepository) get(id uuid.UUID) *model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrder(m.store[id])
}

func (m *mockOrderRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

var _ model.OrderHistoryRepository = &mockHistoryRepository{}

type mockHistoryRepository struct {
	mu      sync.Mutex
	records []model.OrderHistory
}

func (m *mockHistoryRepository) Append(_ context.Context, history *model.OrderHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *history)
	return nil
}

func (m *mockHistoryRepository) ListByOrder(_ context.Context, orderID uuid.UUID) ([]model.OrderHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.OrderHistory
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].OrderID == orderID {
			result = append(result, m.records[i])
		}
	}
	return result, nil
}

var (
	_ model.ProductRepository = &mockProductRepository{}
	_ model.Catalog           = &mockProductRepository{}
)

type mockProductRepository struct {
	mu    sync.Mutex
	store map[uuid.UUID]*model.Product
	// updateErr fails UpdateStock for the listed products.
	updateErr map[uuid.UUID]error
}

func (m *mockProductRepository) put(product *model.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *product
	m.store[product.ID] = &clone
}

func (m *mockProductRepository) Find(_ context.Context, id uuid.UUID) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.store[id]
	if !ok {
		return nil, model.ErrProductNotFound
	}
	clone := *product
	return &clone, nil
}

func (m *mockProductRepository) GetProduct(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	return m.Find(ctx, id)
}

func (m *mockProductRepository) UpdateStock(_ context.Context, product *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[product.ID]; err != nil {
		return err
	}
	existing, ok := m.store[product.ID]
	if !ok {
		return model.ErrProductNotFound
	}
	if existing.Version != product.Version-1 {
		return model.ErrOptimisticLock
	}
	clone := *product
	m.store[product.ID] = &clone
	return nil
}

func (m *mockProductRepository) failUpdates(id uuid.UUID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr == nil {
		m.updateErr = make(map[uuid.UUID]error)
	}
	m.updateErr[id] = err
}

func (m *mockProductRepository) stockOf(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store[id].StockQuantity
}

var _ model.MemberDirectory = &mockMemberDirectory{}

type mockMemberDirectory struct {
	store map[uuid.UUID]*model.Member
}

func (m *mockMemberDirectory) GetMember(_ context.Context, id uuid.UUID) (*model.Member, error) {
	member, ok := m.store[id]
	if !ok || member.Deleted {
		return nil, model.ErrMemberNotFound
	}
	return member, nil
}

var _ model.PaymentRepository = &mockPaymentRepository{}

type mockPaymentRepository struct {
	mu    sync.Mutex
	store map[uuid.UUID]*model.Payment
	keys  map[string]uuid.UUID
	order []uuid.UUID
}

func (m *mockPaymentRepository) NextID() (uuid.UUID, error) {
	return uuid.NewRandom()
}

func (m *mockPaymentRepository) Create(_ context.Context, payment *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.keys[payment.IdempotencyKey]; taken {
		return model.ErrDuplicateIdempotencyKey
	}
	clone := *payment
	m.store[payment.ID] = &clone
	m.keys[payment.IdempotencyKey] = payment.ID
	m.order = append(m.order, payment.ID)
	return nil
}

func (m *mockPaymentRepository) Update(_ context.Context, payment *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[payment.ID]; !ok {
		return model.ErrPaymentNotFound
	}
	clone := *payment
	m.store[payment.ID] = &clone
	return nil
}

func (m *mockPaymentRepository) FindByIdempotencyKey(_ context.Context, key string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[key]
	if !ok {
		return nil, model.ErrPaymentNotFound
	}
	clone := *m.store[id]
	return &clone, nil
}

func (m *mockPaymentRepository) FindByOrderID(_ context.Context, orderID uuid.UUID) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		if payment := m.store[m.order[i]]; payment.OrderID == orderID {
			clone := *payment
			return &clone, nil
		}
	}
	return nil, model.ErrPaymentNotFound
}

func (m *mockPaymentRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

var _ model.PaymentGateway = &mockGateway{}

type mockGateway struct {
	calls atomic.Int32
	mu    sync.Mutex
	err   error
	delay time.Duration
}

func (m *mockGateway) Authorize(_ context.Context, _ int64, _ string) error {
	m.calls.Add(1)
	m.mu.Lock()
	err, delay := m.err, m.delay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (m *mockGateway) decline(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

var _ model.LockProvider = &mockLockProvider{}

// mockLockProvider hands out one slot per key. Setting expired makes every held
// lease report as lost, which simulates a holder outliving its lease.
type mockLockProvider struct {
	mu       sync.Mutex
	slots    map[string]chan struct{}
	expired  atomic.Bool
	acquired atomic.Int32
}

func (m *mockLockProvider) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		m.slots[key] = slot
	}
	return slot
}

// held counts the keys currently taken.
func (m *mockLockProvider) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, slot := range m.slots {
		n += len(slot)
	}
	return n
}

func (m *mockLockProvider) TryAcquire(ctx context.Context, key string, wait, _ time.Duration) (model.Lock, error) {
	slot := m.slot(key)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		m.acquired.Add(1)
		lock := &mockLock{key: key, slot: slot, provider: m}
		lock.held.Store(true)
		return lock, nil
	case <-timer.C:
		return nil, model.ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type mockLock struct {
	key      string
	slot     chan struct{}
	held     atomic.Bool
	provider *mockLockProvider
}

func (l *mockLock) Key() string { return l.key }

func (l *mockLock) IsHeld(_ context.Context) (bool, error) {
	return l.held.Load() && !l.provider.expired.Load(), nil
}

func (l *mockLock) Release(_ context.Context) error {
	if l.held.CompareAndSwap(true, false) {
		<-l.slot
	}
	return nil
}

var _ model.EventDispatcher = &mockEventDispatcher{}

type mockEventDispatcher struct {
	mu     sync.Mutex
	events []model.Event
	// onDispatch runs before the event is stored.
	onDispatch func(model.Event)
}

func (m *mockEventDispatcher) Dispatch(event model.Event) error {
	m.mu.Lock()
	hook := m.onDispatch
	m.mu.Unlock()
	if hook != nil {
		hook(event)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventDispatcher) setHook(hook func(model.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDispatch = hook
}

func (m *mockEventDispatcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

func (m *mockEventDispatcher) ofType(eventType string) []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Event
	for _, event := range m.events {
		if event.Type() == eventType {
			result = append(result, event)
		}
	}
	return result
}
