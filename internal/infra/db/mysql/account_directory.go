package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gumballmed/scanpipe/internal/domain/accounts"
)

// AccountDirectory reads the per-user security stamp that revokes every
// outstanding token when it changes.
type AccountDirectory struct {
	db *sql.DB
}

func NewAccountDirectory(db *sql.DB) *AccountDirectory {
	return &AccountDirectory{db: db}
}

func (d *AccountDirectory) CurrentSecurityEpoch(ctx context.Context, ownerID string) (string, error) {
	const q = `SELECT security_stamp FROM users WHERE id=? LIMIT 1;`
	var stamp string
	if err := d.db.QueryRowContext(ctx, q, ownerID).Scan(&stamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", accounts.ErrUnknownOwner
		}
		return "", err
	}
	return stamp, nil
}
