package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"shopmall/pkg/domain/model"
)

const paymentColumns = `id, order_id, idempotency_key, amount, method, status, failure_reason, created_at, updated_at`

type paymentRow struct {
	ID             uuid.UUID `db:"id"`
	OrderID        uuid.UUID `db:"order_id"`
	IdempotencyKey string    `db:"idempotency_key"`
	Amount         int64     `db:"amount"`
	Method         string    `db:"method"`
	Status         string    `db:"status"`
	FailureReason  string    `db:"failure_reason"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r paymentRow) toModel() *model.Payment {
	return &model.Payment{
		ID:             r.ID,
		OrderID:        r.OrderID,
		IdempotencyKey: r.IdempotencyKey,
		Amount:         r.Amount,
		Method:         r.Method,
		Status:         model.PaymentStatus(r.Status),
		FailureReason:  r.FailureReason,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

var _ model.PaymentRepository = &PaymentRepository{}

type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) NextID() (uuid.UUID, error) {
	return uuid.NewRandom()
}

// Create relies on the unique idempotency_key index to decide races between
// requests carrying the same key.
func (r *PaymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO payments (`+paymentColumns+`) VALUES (
		:id, :order_id, :idempotency_key, :amount, :method, :status, :failure_reason, :created_at, :updated_at)`,
		paymentRow{
			ID:             payment.ID,
			OrderID:        payment.OrderID,
			IdempotencyKey: payment.IdempotencyKey,
			Amount:         payment.Amount,
			Method:         payment.Method,
			Status:         string(payment.Status),
			FailureReason:  payment.FailureReason,
			CreatedAt:      payment.CreatedAt,
			UpdatedAt:      payment.UpdatedAt,
		})
	if isDuplicateKey(err) {
		return errors.Wrapf(model.ErrDuplicateIdempotencyKey, "key %q", payment.IdempotencyKey)
	}
	return errors.Wrap(err, "insert payment")
}

func (r *PaymentRepository) Update(ctx context.Context, payment *model.Payment) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE payments
		SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?`),
		string(payment.Status), payment.FailureReason, payment.UpdatedAt, payment.ID)
	if err != nil {
		return errors.Wrap(err, "update payment")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return model.ErrPaymentNotFound
	}
	return nil
}

func (r *PaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = ?`, key)
}

func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*model.Payment, error) {
	return r.findOne(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE order_id = ? ORDER BY created_at DESC LIMIT 1`, orderID)
}

func (r *PaymentRepository) findOne(ctx context.Context, query string, arg interface{}) (*model.Payment, error) {
	var row paymentRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), arg); err != nil {
		return nil, notFound(err, model.ErrPaymentNotFound, "select payment")
	}
	return row.toModel(), nil
}
