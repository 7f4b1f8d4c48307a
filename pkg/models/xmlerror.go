package models

import (
	"database/sql"
	"time"
)

// XMLError captures an attachment that failed normalization, with
// enough raw material to reprocess it later. Exactly one of XMLText
// and XMLBase64 is set: the decoded text when decoding succeeded,
// otherwise the base64 of the raw bytes.
type XMLError struct {
	ID         int64          `db:"id"`
	AccountID  sql.NullInt64  `db:"account_id"` // kept nullable: accounts may be deleted later
	Subject    string         `db:"subject"`
	Sender     string         `db:"sender"`
	ReceivedAt sql.NullTime   `db:"received_at"`
	Filename   string         `db:"filename"`
	MIMEType   string         `db:"mime_type"`
	SizeBytes  sql.NullInt64  `db:"size_bytes"`
	DecodedOK  bool           `db:"decoded_ok"`
	XMLText    sql.NullString `db:"xml_text"`
	XMLBase64  sql.NullString `db:"xml_base64"`
	ErrorMsg   string         `db:"error_message"`
	Stacktrace string         `db:"stacktrace"`
	CreatedAt  time.Time      `db:"created_at"`
}
