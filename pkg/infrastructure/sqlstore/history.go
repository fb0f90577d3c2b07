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

type historyRow struct {
	ID             uuid.UUID      `db:"id"`
	OrderID        uuid.UUID      `db:"order_id"`
	PreviousStatus sql.NullString `db:"previous_status"`
	NewStatus      string         `db:"new_status"`
	Reason         string         `db:"reason"`
	ChangedBy      string         `db:"changed_by"`
	CreatedAt      time.Time      `db:"created_at"`
}

var _ model.OrderHistoryRepository = &HistoryRepository{}

type HistoryRepository struct {
	db *sqlx.DB
}

func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Append(ctx context.Context, history *model.OrderHistory) error {
	row := historyRow{
		ID:        history.ID,
		OrderID:   history.OrderID,
		NewStatus: string(history.NewStatus),
		Reason:    history.Reason,
		ChangedBy: history.ChangedBy,
		CreatedAt: history.CreatedAt,
	}
	if history.PreviousStatus != nil {
		row.PreviousStatus = sql.NullString{String: string(*history.PreviousStatus), Valid: true}
	}

	_, err := r.db.NamedExecContext(ctx, `INSERT INTO order_histories
		(id, order_id, previous_status, new_status, reason, changed_by, created_at)
		VALUES (:id, :order_id, :previous_status, :new_status, :reason, :changed_by, :created_at)`, row)
	return errors.Wrap(err, "insert order history")
}

func (r *HistoryRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]model.OrderHistory, error) {
	var rows []historyRow
	query := r.db.Rebind(`SELECT id, order_id, previous_status, new_status, reason, changed_by, created_at
		FROM order_histories WHERE order_id = ? ORDER BY created_at DESC`)
	if err := r.db.SelectContext(ctx, &rows, query, orderID); err != nil {
		return nil, errors.Wrap(err, "select order history")
	}

	histories := make([]model.OrderHistory, 0, len(rows))
	for _, row := range rows {
		history := model.OrderHistory{
			ID:        row.ID,
			OrderID:   row.OrderID,
			NewStatus: model.OrderStatus(row.NewStatus),
			Reason:    row.Reason,
			ChangedBy: row.ChangedBy,
			CreatedAt: row.CreatedAt,
		}
		if row.PreviousStatus.Valid {
			previous := model.OrderStatus(row.PreviousStatus.String)
			history.PreviousStatus = &previous
		}
		histories = append(histories, history)
	}
	return histories, nil
}
