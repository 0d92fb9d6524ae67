package model

import "time"

// User is a row in the owning-user directory. Tenants reference their
// owner by id; lookup/create-by-email is the only operation the sync
// subsystem needs.
type User struct {
	ID        int64     `db:"id"`
	Email     string    `db:"email"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
