package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/karlennis/fi-email-automation-sub000/internal/jobs"
)

const queryResolveCustomer = `
SELECT email, COALESCE(NULLIF(TRIM(full_name), ''), email)
FROM customers
WHERE id = $1
  AND unsubscribed_at IS NULL
`

// Directory resolves customer ids against the customers table.
// Unsubscribed customers resolve as not found so new jobs cannot
// target them; snapshots already embedded in existing jobs are
// unaffected.
type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

var _ jobs.CustomerDirectory = (*Directory)(nil)

func (d *Directory) Resolve(ctx context.Context, customerID uuid.UUID) (jobs.CustomerInfo, error) {
	var email, name string
	err := d.db.QueryRowContext(ctx, queryResolveCustomer, customerID).Scan(&email, &name)
	if err == sql.ErrNoRows {
		return jobs.CustomerInfo{}, jobs.ErrCustomerNotFound
	}
	if err != nil {
		return jobs.CustomerInfo{}, fmt.Errorf("resolve customer: %w", err)
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return jobs.CustomerInfo{}, jobs.ErrCustomerNotFound
	}
	return jobs.CustomerInfo{Email: email, Name: name}, nil
}
