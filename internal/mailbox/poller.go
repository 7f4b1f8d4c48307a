package mailbox

import (
	"context"
	"database/sql"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/marandu/sifen-ingest/internal/sifen"
	"github.com/marandu/sifen-ingest/pkg/models"
)

// ErrorStore records attachments that failed normalization.
type ErrorStore interface {
	RecordXMLError(ctx context.Context, rec *models.XMLError) error
}

// AccountStore supplies the mailboxes to poll.
type AccountStore interface {
	GetActiveAccounts(ctx context.Context) ([]*models.Account, error)
}

// Config tunes one Poller.
type Config struct {
	WindowDays   int           // full days to look back, today excluded
	MaxMessages  int           // cap per account per cycle
	ErrorDir     string        // on-disk staging area for failed payloads
	DialTimeout  time.Duration // IMAP TCP dial timeout
	GraphBaseURL string        // empty means the production Graph endpoint
}

// CycleStats aggregates one full poll cycle across all accounts.
type CycleStats struct {
	Accounts int // accounts successfully opened
	Skipped  int // accounts skipped on connect/auth failure
	Messages int // messages fetched and run through the loop
	Deleted  int // messages flagged for removal
	Created  int // documents inserted
	Existing int // documents that already existed
	Failures int // attachments captured as errors
}

// Poller drives the ingestion pipeline: it walks active accounts
// strictly sequentially, opens one protocol session each, and runs the
// shared attachment loop over every fetched message.
type Poller struct {
	accounts   AccountStore
	errors     ErrorStore
	normalizer *sifen.Normalizer
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
	open       func(ctx context.Context, account *models.Account, window Window) (Source, error)
}

// NewPoller creates a Poller. Both mailbox variants share it; the
// account's flavor selects the protocol session per account.
func NewPoller(accounts AccountStore, errors ErrorStore, normalizer *sifen.Normalizer, cfg Config, logger *slog.Logger) *Poller {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 5
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 200
	}
	if cfg.ErrorDir == "" {
		cfg.ErrorDir = "xmls_erros"
	}
	p := &Poller{
		accounts:   accounts,
		errors:     errors,
		normalizer: normalizer,
		cfg:        cfg,
		logger:     logger.With("component", "poller"),
		now:        time.Now,
	}
	p.open = p.openSource
	return p
}

// Poll runs one full cycle over every active account. A failure on one
// account never aborts the others; the worst case for any single
// account, message or attachment is being skipped and logged.
func (p *Poller) Poll(ctx context.Context) CycleStats {
	var stats CycleStats

	accounts, err := p.accounts.GetActiveAccounts(ctx)
	if err != nil {
		p.logger.Error("failed to load accounts", "error", err)
		return stats
	}

	window := WindowEndingToday(p.now(), p.cfg.WindowDays)
	p.logger.Info("starting poll cycle",
		"accounts", len(accounts),
		"since", window.Since.Format(time.DateOnly),
		"before", window.Before.Format(time.DateOnly))

	for _, account := range accounts {
		if err := p.pollAccount(ctx, account, window, &stats); err != nil {
			stats.Skipped++
			p.logger.Error("account skipped", "username", account.Username, "error", err)
		}
	}

	p.logger.Info("poll cycle finished",
		"accounts", stats.Accounts,
		"skipped", stats.Skipped,
		"messages", stats.Messages,
		"deleted", stats.Deleted,
		"created", stats.Created,
		"existing", stats.Existing,
		"failures", stats.Failures)
	return stats
}

// openSource picks the protocol variant for the account.
func (p *Poller) openSource(ctx context.Context, account *models.Account, window Window) (Source, error) {
	if account.Office365 {
		return newGraphSource(ctx, account, p.cfg.GraphBaseURL, window, p.cfg.MaxMessages, p.logger), nil
	}
	return newIMAPSource(account, window, p.cfg.MaxMessages, p.cfg.DialTimeout, p.logger)
}

func (p *Poller) pollAccount(ctx context.Context, account *models.Account, window Window, stats *CycleStats) error {
	logger := p.logger.With("username", account.Username)
	logger.Info("polling account", "host", account.Host, "office365", account.Office365)

	src, err := p.open(ctx, account, window)
	if err != nil {
		return err
	}
	// The session is released on every exit path, including a failed
	// search; deferred deletions happen here too.
	defer func() {
		if err := src.Close(ctx); err != nil {
			logger.Warn("failed to close mailbox session", "error", err)
		}
	}()

	stats.Accounts++

	ids, err := src.List(ctx)
	if err != nil {
		return err
	}
	logger.Info("messages in window", "count", len(ids))

	for _, id := range ids {
		msg, err := src.Fetch(ctx, id)
		if err != nil {
			logger.Warn("failed to fetch message", "message_id", id, "error", err)
			continue
		}
		stats.Messages++

		if p.processMessage(ctx, account, msg, stats) {
			src.MarkProcessed(id)
			stats.Deleted++
		}
	}

	return nil
}

// processMessage runs the shared attachment loop and reports whether
// the message may be removed: it must have carried at least one
// XML-named attachment and every one of them must have processed
// without error. There is no partial credit.
func (p *Poller) processMessage(ctx context.Context, account *models.Account, msg *Message, stats *CycleStats) bool {
	logger := p.logger.With("username", account.Username, "subject", msg.Subject)

	foundXML := false
	allOK := true

	for _, att := range msg.Attachments {
		if att.Filename == "" {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(att.Filename), ".xml") {
			continue
		}
		foundXML = true

		// Decoding never fails: invalid bytes become replacement runes.
		text := strings.ToValidUTF8(string(att.Data), "�")

		if !sifen.LooksLikeInvoice(text) {
			logger.Info("attachment is not an electronic document, skipped", "filename", att.Filename)
			continue
		}

		doc, created, err := p.normalizer.Normalize(ctx, text, account.CompanyID)
		if err != nil {
			allOK = false
			stats.Failures++
			logger.Error("failed to process attachment", "filename", att.Filename, "error", err)
			p.captureFailure(ctx, account, msg, att, err)
			continue
		}

		if created {
			stats.Created++
			logger.Info("document created", "cdc", doc.CDC, "filename", att.Filename)
		} else {
			stats.Existing++
			logger.Info("document already existed", "cdc", doc.CDC, "filename", att.Filename)
		}
	}

	if !foundXML {
		logger.Info("message has no XML attachments, ignored")
		return false
	}
	return allOK
}

// captureFailure preserves the raw payload on disk and in the error
// store. Both writes are best-effort: their own failures are logged and
// never escalate past this point.
func (p *Poller) captureFailure(ctx context.Context, account *models.Account, msg *Message, att Attachment, cause error) {
	logger := p.logger.With("username", account.Username, "filename", att.Filename)

	if err := os.MkdirAll(p.cfg.ErrorDir, 0755); err != nil {
		logger.Warn("failed to create error directory", "error", err)
	} else if err := os.WriteFile(filepath.Join(p.cfg.ErrorDir, att.Filename), att.Data, 0644); err != nil {
		logger.Warn("failed to dump raw payload", "error", err)
	} else {
		logger.Info("raw payload saved", "path", filepath.Join(p.cfg.ErrorDir, att.Filename))
	}

	rec := buildXMLError(account, msg, att, cause)
	if err := p.errors.RecordXMLError(ctx, rec); err != nil {
		logger.Warn("failed to record error", "error", err)
	}
}

// buildXMLError applies the storage exclusivity rule: decoded text when
// the payload is valid UTF-8, base64 of the raw bytes otherwise.
func buildXMLError(account *models.Account, msg *Message, att Attachment, cause error) *models.XMLError {
	rec := &models.XMLError{
		AccountID:  sql.NullInt64{Int64: account.ID, Valid: true},
		Subject:    msg.Subject,
		Sender:     msg.Sender,
		Filename:   att.Filename,
		MIMEType:   att.MIMEType,
		SizeBytes:  sql.NullInt64{Int64: int64(len(att.Data)), Valid: true},
		ErrorMsg:   cause.Error(),
		Stacktrace: string(debug.Stack()),
	}
	if msg.ReceivedAt != nil {
		rec.ReceivedAt = sql.NullTime{Time: *msg.ReceivedAt, Valid: true}
	}

	if utf8.Valid(att.Data) {
		rec.DecodedOK = true
		rec.XMLText = sql.NullString{String: string(att.Data), Valid: true}
	} else if len(att.Data) > 0 {
		rec.XMLBase64 = sql.NullString{String: base64.StdEncoding.EncodeToString(att.Data), Valid: true}
	}
	return rec
}
