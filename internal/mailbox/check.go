package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/marandu/sifen-ingest/pkg/models"
)

// CheckResult summarizes a read-only inbox inspection.
type CheckResult struct {
	Total   int // messages in INBOX
	WithXML int // inspected messages carrying at least one .xml attachment
}

// CheckAccount connects to an IMAP account, selects INBOX read-only and
// inspects the most recent max messages for XML attachments. Nothing is
// deleted, processed or marked as read. Graph accounts are not
// supported here; the check is an IMAP connectivity diagnostic.
func CheckAccount(ctx context.Context, account *models.Account, max int, dialTimeout time.Duration, logger *slog.Logger) (*CheckResult, error) {
	if account.Office365 {
		return nil, fmt.Errorf("account %s uses the Graph API; check only supports IMAP accounts", account.Username)
	}
	if dialTimeout == 0 {
		dialTimeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", account.IMAPAddr(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create IMAP client: %w", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(account.Username, account.Password); err != nil {
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	mbox, err := imapClient.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	result := &CheckResult{Total: int(mbox.Messages)}
	if mbox.Messages == 0 || max <= 0 {
		return result, nil
	}

	// Most recent messages sit at the top of the sequence range.
	from := uint32(1)
	if mbox.Messages > uint32(max) {
		from = mbox.Messages - uint32(max) + 1
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, mbox.Messages)

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, imap.FetchBodyStructure}, messages)
	}()

	for msg := range messages {
		subject := ""
		if msg.Envelope != nil {
			subject = msg.Envelope.Subject
		}
		if hasXMLAttachment(msg.BodyStructure) {
			result.WithXML++
			logger.Info("message with XML attachment", "subject", subject)
		} else {
			logger.Debug("message without XML attachment", "subject", subject)
		}
	}
	if err := <-done; err != nil {
		return result, fmt.Errorf("failed to fetch: %w", err)
	}

	return result, nil
}

// hasXMLAttachment walks a BODYSTRUCTURE looking for a part whose
// filename ends in .xml.
func hasXMLAttachment(bs *imap.BodyStructure) bool {
	if bs == nil {
		return false
	}
	if name, err := bs.Filename(); err == nil && strings.HasSuffix(strings.ToLower(name), ".xml") {
		return true
	}
	for _, part := range bs.Parts {
		if hasXMLAttachment(part) {
			return true
		}
	}
	return false
}
