package database

import (
	"context"
	"fmt"
	"time"

	"github.com/marandu/sifen-ingest/pkg/models"
)

// RecordXMLError durably stores a failed attachment. It is a single
// direct insert with no retry; callers are expected to catch and log
// its error rather than let it escalate.
func (db *DB) RecordXMLError(ctx context.Context, rec *models.XMLError) error {
	query := `
		INSERT INTO xml_errors (account_id, subject, sender, received_at, filename, mime_type, size_bytes, decoded_ok, xml_text, xml_base64, error_message, stacktrace, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		rec.AccountID,
		rec.Subject,
		rec.Sender,
		rec.ReceivedAt,
		rec.Filename,
		rec.MIMEType,
		rec.SizeBytes,
		rec.DecodedOK,
		rec.XMLText,
		rec.XMLBase64,
		rec.ErrorMsg,
		rec.Stacktrace,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to record xml error: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	rec.CreatedAt = now
	return nil
}

// CountXMLErrors returns the number of captured failures, optionally
// scoped to one account (0 counts everything).
func (db *DB) CountXMLErrors(ctx context.Context, accountID int64) (int64, error) {
	var n int64
	var err error
	if accountID > 0 {
		err = db.GetContext(ctx, &n, `SELECT COUNT(*) FROM xml_errors WHERE account_id = ?`, accountID)
	} else {
		err = db.GetContext(ctx, &n, `SELECT COUNT(*) FROM xml_errors`)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count xml errors: %w", err)
	}
	return n, nil
}
