package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Product struct {
	ID            uuid.UUID
	Name          string
	Description   string
	Price         int64
	ImageURL      string
	StockQuantity int
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (p *Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		Name:        p.Name,
		Price:       p.Price,
		ImageURL:    p.ImageURL,
		Description: p.Description,
	}
}

func (p *Product) RemoveStock(quantity int) error {
	if p.StockQuantity < quantity {
		return ErrInsufficientStock
	}
	p.StockQuantity -= quantity
	return nil
}

func (p *Product) AddStock(quantity int) {
	p.StockQuantity += quantity
}

type ProductRepository interface {
	Find(ctx context.Context, id uuid.UUID) (*Product, error)
	// UpdateStock writes StockQuantity guarded by Version: the stored version must be
	// product.Version-1.
	UpdateStock(ctx context.Context, product *Product) error
}

// Catalog is read only and used to snapshot product attributes at order time.
type Catalog interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
}
