package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marandu/sifen-ingest/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// GetActiveAccounts returns all mailbox accounts enabled for polling.
func (db *DB) GetActiveAccounts(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	query := `SELECT * FROM accounts WHERE active = true ORDER BY id`
	if err := db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("failed to get active accounts: %w", err)
	}
	return accounts, nil
}

// GetAccountByUsername returns an active account by mailbox username.
func (db *DB) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	var account models.Account
	query := `SELECT * FROM accounts WHERE username = ? AND active = true`
	err := db.GetContext(ctx, &account, query, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetCompanyByID returns a company by ID.
func (db *DB) GetCompanyByID(ctx context.Context, id int64) (*models.Company, error) {
	var company models.Company
	query := `SELECT * FROM companies WHERE id = ?`
	err := db.GetContext(ctx, &company, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &company, nil
}
