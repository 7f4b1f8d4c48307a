package models

import (
	"strconv"
	"time"
)

// Company is the tenant a mailbox and its documents belong to.
type Company struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// Account represents a mailbox the ingestion loop polls. Accounts are
// administered elsewhere; the pipeline only reads them.
type Account struct {
	ID        int64  `db:"id"`
	Username  string `db:"username"`
	Password  string `db:"password"`
	Host      string `db:"host"`
	Port      int    `db:"port"` // 0 falls back to 993
	Active    bool   `db:"active"`
	CompanyID int64  `db:"company_id"`

	// Microsoft 365 accounts are read through the Graph API instead of
	// IMAP. Tenant/client credentials are only set when Office365 is true.
	Office365    bool   `db:"office365"`
	TenantID     string `db:"tenant_id"`
	ClientID     string `db:"client_id"`
	ClientSecret string `db:"client_secret"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IMAPAddr returns the host:port pair for the IMAP dialer.
func (a *Account) IMAPAddr() string {
	port := a.Port
	if port == 0 {
		port = 993
	}
	return a.Host + ":" + strconv.Itoa(port)
}
