package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/marandu/sifen-ingest/pkg/models"
)

// imapSource reads one account over IMAP. Messages flagged processed
// are marked \Deleted and expunged in a single batch at Close time.
type imapSource struct {
	client *client.Client
	window Window
	max    int
	logger *slog.Logger
	marked []uint32
}

// newIMAPSource dials, authenticates and returns an open session.
func newIMAPSource(account *models.Account, window Window, max int, dialTimeout time.Duration, logger *slog.Logger) (*imapSource, error) {
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

	if err := imapClient.Login(account.Username, account.Password); err != nil {
		imapClient.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	return &imapSource{
		client: imapClient,
		window: window,
		max:    max,
		logger: logger.With("username", account.Username),
	}, nil
}

// List selects INBOX and searches the polling window. The search is
// date-granular, matching the server's view of the received date.
func (s *imapSource) List(ctx context.Context) ([]string, error) {
	if _, err := s.client.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = s.window.Since
	criteria.Before = s.window.Before

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	if s.max > 0 && len(uids) > s.max {
		uids = uids[:s.max]
	}

	ids := make([]string, len(uids))
	for i, uid := range uids {
		ids[i] = strconv.FormatUint(uint64(uid), 10)
	}
	return ids, nil
}

// Fetch retrieves the full body for one UID and walks its MIME parts.
func (s *imapSource) Fetch(ctx context.Context, id string) (*Message, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", id, err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uint32(uid))

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var fetched *imap.Message
	for msg := range messages {
		fetched = msg
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	if fetched == nil {
		return nil, fmt.Errorf("message %s not returned by server", id)
	}

	body := fetched.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("message %s has no body section", id)
	}

	msg := s.parseBody(body)
	if msg.ReceivedAt == nil && fetched.Envelope != nil && !fetched.Envelope.Date.IsZero() {
		date := fetched.Envelope.Date
		msg.ReceivedAt = &date
	}
	return msg, nil
}

// parseBody extracts headers and attachment parts from a raw RFC 822
// body. Header or part errors degrade to a partial message instead of
// failing the fetch.
func (s *imapSource) parseBody(body io.Reader) *Message {
	msg := &Message{}

	mr, err := mail.CreateReader(body)
	if err != nil {
		s.logger.Warn("failed to create mail reader", "error", err)
		return msg
	}

	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		msg.ReceivedAt = &date
	} else {
		msg.ReceivedAt = ParseEmailDate(mr.Header.Get("Date"))
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.logger.Warn("failed to read part", "error", err)
			break
		}

		header, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}

		filename, err := header.Filename()
		if err != nil || filename == "" {
			continue
		}
		mimeType, _, _ := header.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			s.logger.Warn("failed to read attachment", "filename", filename, "error", err)
			continue
		}

		msg.Attachments = append(msg.Attachments, Attachment{
			Filename: filename,
			MIMEType: mimeType,
			Data:     data,
		})
	}

	return msg
}

// MarkProcessed flags a message for deletion at Close time.
func (s *imapSource) MarkProcessed(id string) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return
	}
	s.marked = append(s.marked, uint32(uid))
}

// Close expunges flagged messages and logs out. Logout runs even when
// the expunge fails, so the session is never leaked.
func (s *imapSource) Close(ctx context.Context) error {
	defer s.client.Logout()

	if len(s.marked) == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(s.marked...)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := s.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark as deleted: %w", err)
	}
	if err := s.client.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge: %w", err)
	}

	s.logger.Info("expunged processed messages", "count", len(s.marked))
	return nil
}
