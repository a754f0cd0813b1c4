package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ledger/pkg/directory"
)

// Owners is a directory.Directory backed by the owners table
type Owners struct {
	db *sql.DB
}

// NewOwners shares the store's pool
func NewOwners(s *Store) *Owners {
	return &Owners{db: s.db}
}

// FindByID implements directory.Directory
func (o *Owners) FindByID(ctx context.Context, id int64) (*directory.Owner, error) {
	var owner directory.Owner
	err := o.db.QueryRowContext(ctx,
		`SELECT id, name FROM owners WHERE id = $1`, id,
	).Scan(&owner.ID, &owner.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query owner: %w", err)
	}
	return &owner, nil
}

// Create registers an owner and returns it with its assigned ID
func (o *Owners) Create(ctx context.Context, name string) (*directory.Owner, error) {
	owner := directory.Owner{Name: name}
	err := o.db.QueryRowContext(ctx,
		`INSERT INTO owners (name) VALUES ($1) RETURNING id`, name,
	).Scan(&owner.ID)
	if err != nil {
		return nil, fmt.Errorf("insert owner: %w", err)
	}
	return &owner, nil
}
