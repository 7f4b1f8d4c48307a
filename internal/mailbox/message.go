package mailbox

import (
	"context"
	"time"
)

// Attachment is one MIME part (or Graph attachment) with its raw bytes.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Message is a provider-neutral view of one inbox message.
type Message struct {
	Subject     string
	Sender      string
	ReceivedAt  *time.Time // nil when the date header could not be parsed
	Attachments []Attachment
}

// Source is one open protocol session for a single account. The
// per-message loop is shared between variants; only session, listing
// and removal mechanics differ.
//
// Message IDs are opaque: IMAP encodes UIDs as decimal strings, Graph
// uses its native message IDs. MarkProcessed flags a message for
// removal; actual deletion (IMAP flag+expunge, Graph archival move) is
// deferred to Close so a partial-batch crash never removes mail whose
// data is not yet durable.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, id string) (*Message, error)
	MarkProcessed(id string)
	Close(ctx context.Context) error
}

// Window is the polling date range: [Since, Before), date-granular.
type Window struct {
	Since  time.Time
	Before time.Time
}

// WindowEndingToday returns the window covering the last days full
// days. Today is always excluded: mail still arriving on the current
// day is left for the next cycle.
func WindowEndingToday(now time.Time, days int) Window {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return Window{
		Since:  today.AddDate(0, 0, -days),
		Before: today,
	}
}

// ParseEmailDate attempts the two Date header shapes seen in the wild,
// with and without the leading weekday. Unparseable dates yield nil,
// never an error.
func ParseEmailDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
	} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
