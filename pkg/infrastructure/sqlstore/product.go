package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"shopmall/pkg/domain/model"
)

type productRow struct {
	ID            uuid.UUID `db:"id"`
	Name          string    `db:"name"`
	Description   string    `db:"description"`
	Price         int64     `db:"price"`
	ImageURL      string    `db:"image_url"`
	StockQuantity int       `db:"stock_quantity"`
	Version       int       `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

var (
	_ model.ProductRepository = &ProductRepository{}
	_ model.Catalog           = &ProductRepository{}
)

// ProductRepository reads the catalog tables and writes stock only; product
// attributes are owned by the catalog service.
type ProductRepository struct {
	db *sqlx.DB
}

func NewProductRepository(db *sqlx.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Find(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	var row productRow
	query := r.db.Rebind(`SELECT id, name, description, price, image_url, stock_quantity, version, created_at, updated_at
		FROM products WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, notFound(err, model.ErrProductNotFound, "select product")
	}
	return &model.Product{
		ID:            row.ID,
		Name:          row.Name,
		Description:   row.Description,
		Price:         row.Price,
		ImageURL:      row.ImageURL,
		StockQuantity: row.StockQuantity,
		Version:       row.Version,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

func (r *ProductRepository) GetProduct(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	return r.Find(ctx, id)
}

func (r *ProductRepository) UpdateStock(ctx context.Context, product *model.Product) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE products
		SET stock_quantity = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`),
		product.StockQuantity, product.Version, product.UpdatedAt, product.ID, product.Version-1)
	if err != nil {
		return errors.Wrap(err, "update product stock")
	}
	return checkVersioned(ctx, r.db, res, "products", product.ID, model.ErrProductNotFound)
}
