package repository

import (
	"context"
	"database/sql"

	"github.com/crmkit/tenant-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

// UsersRepository is the owning-user directory: lookup or create a user
// by email. Everything else about users is out of scope here.
type UsersRepository interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Insert(ctx context.Context, tx *sqlx.Tx, email, name string) (int64, error)
}

type UsersRepositoryImpl struct {
	db *sqlx.DB
}

func NewUsersRepository(db *sqlx.DB) *UsersRepositoryImpl {
	return &UsersRepositoryImpl{db: db}
}

var _ UsersRepository = (*UsersRepositoryImpl)(nil)

func (r *UsersRepositoryImpl) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `
		SELECT id, email, name, created_at, updated_at
		  FROM users
		 WHERE email = ? LIMIT 1
	`, email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UsersRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, email, name string) (int64, error) {
	const q = `INSERT INTO users (email, name, created_at, updated_at) VALUES (?, ?, NOW(), NOW())`

	var (
		res sql.Result
		err error
	)
	if tx != nil {
		res, err = tx.ExecContext(ctx, q, email, name)
	} else {
		res, err = r.db.ExecContext(ctx, q, email, name)
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
