package model

import (
	"context"

	"github.com/google/uuid"
)

type Member struct {
	ID      uuid.UUID
	Email   string
	Name    string
	Deleted bool
}

// MemberDirectory returns ErrMemberNotFound for missing and soft-deleted members.
type MemberDirectory interface {
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
}
