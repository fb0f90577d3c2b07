package sqlstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"shopmall/pkg/domain/model"
)

var _ model.MemberDirectory = &MemberDirectory{}

type MemberDirectory struct {
	db *sqlx.DB
}

func NewMemberDirectory(db *sqlx.DB) *MemberDirectory {
	return &MemberDirectory{db: db}
}

func (d *MemberDirectory) GetMember(ctx context.Context, id uuid.UUID) (*model.Member, error) {
	var member struct {
		ID    uuid.UUID `db:"id"`
		Email string    `db:"email"`
		Name  string    `db:"name"`
	}
	query := d.db.Rebind(`SELECT id, email, name FROM members WHERE id = ? AND deleted_at IS NULL`)
	if err := d.db.GetContext(ctx, &member, query, id); err != nil {
		return nil, notFound(err, model.ErrMemberNotFound, "select member")
	}
	return &model.Member{ID: member.ID, Email: member.Email, Name: member.Name}, nil
}
