package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"shopmall/pkg/domain/model"
)

const orderColumns = `id, order_number, member_id, status, total_amount, shipping_address,
	receiver_name, receiver_phone, version, created_at, updated_at, deleted_at`

const itemColumns = `id, order_id, line_no, product_id, quantity, product_name, product_price,
	product_image_url, product_description, status`

type orderRow struct {
	ID              uuid.UUID    `db:"id"`
	Number          string       `db:"order_number"`
	MemberID        uuid.UUID    `db:"member_id"`
	Status          string       `db:"status"`
	TotalAmount     int64        `db:"total_amount"`
	ShippingAddress string       `db:"shipping_address"`
	ReceiverName    string       `db:"receiver_name"`
	ReceiverPhone   string       `db:"receiver_phone"`
	Version         int          `db:"version"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
	DeletedAt       sql.NullTime `db:"deleted_at"`
}

type itemRow struct {
	ID                 uuid.UUID `db:"id"`
	OrderID            uuid.UUID `db:"order_id"`
	LineNo             int       `db:"line_no"`
	ProductID          uuid.UUID `db:"product_id"`
	Quantity           int       `db:"quantity"`
	ProductName        string    `db:"product_name"`
	ProductPrice       int64     `db:"product_price"`
	ProductImageURL    string    `db:"product_image_url"`
	ProductDescription string    `db:"product_description"`
	Status             string    `db:"status"`
}

func newOrderRow(order *model.Order) orderRow {
	row := orderRow{
		ID:              order.ID,
		Number:          order.Number,
		MemberID:        order.MemberID,
		Status:          string(order.Status),
		TotalAmount:     order.TotalAmount,
		ShippingAddress: order.Shipping.Address,
		ReceiverName:    order.Shipping.ReceiverName,
		ReceiverPhone:   order.Shipping.ReceiverPhone,
		Version:         order.Version,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	if order.DeletedAt != nil {
		row.DeletedAt = sql.NullTime{Time: *order.DeletedAt, Valid: true}
	}
	return row
}

func (r orderRow) toModel(items []itemRow) model.Order {
	order := model.Order{
		ID:          r.ID,
		Number:      r.Number,
		MemberID:    r.MemberID,
		Status:      model.OrderStatus(r.Status),
		TotalAmount: r.TotalAmount,
		Shipping: model.Shipping{
			Address:       r.ShippingAddress,
			ReceiverName:  r.ReceiverName,
			ReceiverPhone: r.ReceiverPhone,
		},
		Items:     make([]model.OrderItem, 0, len(items)),
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.DeletedAt.Valid {
		deletedAt := r.DeletedAt.Time
		order.DeletedAt = &deletedAt
	}
	for _, item := range items {
		order.Items = append(order.Items, model.OrderItem{
			ID:        item.ID,
			OrderID:   item.OrderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Snapshot: model.ProductSnapshot{
				Name:        item.ProductName,
				Price:       item.ProductPrice,
				ImageURL:    item.ProductImageURL,
				Description: item.ProductDescription,
			},
			Status: model.OrderItemStatus(item.Status),
		})
	}
	return order
}

var _ model.OrderRepository = &OrderRepository{}

type OrderRepository struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) NextID() (uuid.UUID, error) {
	return uuid.NewRandom()
}

func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES (
			:id, :order_number, :member_id, :status, :total_amount, :shipping_address,
			:receiver_name, :receiver_phone, :version, :created_at, :updated_at, :deleted_at)`,
			newOrderRow(order))
		if err != nil {
			return errors.Wrap(err, "insert order")
		}

		for i, item := range order.Items {
			_, err := tx.NamedExecContext(ctx, `INSERT INTO order_items (`+itemColumns+`) VALUES (
				:id, :order_id, :line_no, :product_id, :quantity, :product_name, :product_price,
				:product_image_url, :product_description, :status)`,
				itemRow{
					ID:                 item.ID,
					OrderID:            order.ID,
					LineNo:             i,
					ProductID:          item.ProductID,
					Quantity:           item.Quantity,
					ProductName:        item.Snapshot.Name,
					ProductPrice:       item.Snapshot.Price,
					ProductImageURL:    item.Snapshot.ImageURL,
					ProductDescription: item.Snapshot.Description,
					Status:             string(item.Status),
				})
			if err != nil {
				return errors.Wrap(err, "insert order item")
			}
		}
		return nil
	})
}

func (r *OrderRepository) Find(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? AND deleted_at IS NULL`, id)
}

func (r *OrderRepository) FindByNumber(ctx context.Context, number string) (*model.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = ? AND deleted_at IS NULL`, number)
}

func (r *OrderRepository) findOne(ctx context.Context, query string, arg interface{}) (*model.Order, error) {
	var row orderRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), arg); err != nil {
		return nil, notFound(err, model.ErrOrderNotFound, "select order")
	}

	items, err := r.loadItems(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	order := row.toModel(items[row.ID])
	return &order, nil
}

func (r *OrderRepository) FindByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]model.Order, error) {
	var rows []orderRow
	query := r.db.Rebind(`SELECT ` + orderColumns + ` FROM orders
		WHERE member_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT ? OFFSET ?`)
	if err := r.db.SelectContext(ctx, &rows, query, memberID, limit, offset); err != nil {
		return nil, errors.Wrap(err, "select member orders")
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	items, err := r.loadItems(ctx, ids...)
	if err != nil {
		return nil, err
	}

	orders := make([]model.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toModel(items[row.ID]))
	}
	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderIDs ...uuid.UUID) (map[uuid.UUID][]itemRow, error) {
	ids := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		ids = append(ids, id.String())
	}

	query, args, err := sqlx.In(`SELECT `+itemColumns+` FROM order_items
		WHERE order_id IN (?) ORDER BY order_id, line_no`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "build order items query")
	}

	var rows []itemRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "select order items")
	}

	byOrder := make(map[uuid.UUID][]itemRow, len(orderIDs))
	for _, row := range rows {
		byOrder[row.OrderID] = append(byOrder[row.OrderID], row)
	}
	return byOrder, nil
}

func (r *OrderRepository) Update(ctx context.Context, order *model.Order) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE orders
			SET status = ?, total_amount = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ? AND deleted_at IS NULL`),
			string(order.Status), order.TotalAmount, order.Version, order.UpdatedAt, order.ID, order.Version-1)
		if err != nil {
			return errors.Wrap(err, "update order")
		}
		if err := checkVersioned(ctx, tx, res, "orders", order.ID, model.ErrOrderNotFound); err != nil {
			return err
		}

		for _, item := range order.Items {
			_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE order_items SET status = ? WHERE id = ?`),
				string(item.Status), item.ID)
			if err != nil {
				return errors.Wrap(err, "update order item")
			}
		}
		return nil
	})
}

type rebindQueryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

// checkVersioned tells a stale version apart from a missing row after a
// guarded UPDATE touched nothing.
func checkVersioned(ctx context.Context, q rebindQueryer, res sql.Result, table string, id uuid.UUID, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected > 0 {
		return nil
	}

	var count int
	if err := sqlx.GetContext(ctx, q, &count, q.Rebind(`SELECT COUNT(*) FROM `+table+` WHERE id = ?`), id); err != nil {
		return errors.Wrapf(err, "count %s", table)
	}
	if count == 0 {
		return missing
	}
	return model.ErrOptimisticLock
}
