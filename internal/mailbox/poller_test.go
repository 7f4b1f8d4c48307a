package mailbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marandu/sifen-ingest/internal/database"
	"github.com/marandu/sifen-ingest/internal/sifen"
	"github.com/marandu/sifen-ingest/internal/testutil"
	"github.com/marandu/sifen-ingest/pkg/models"
)

// fakeSource serves canned messages and records what gets flagged.
type fakeSource struct {
	messages  map[string]*Message
	fetchErr  map[string]error
	processed []string
	closed    bool
}

func (f *fakeSource) List(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.messages))
	for id := range f.messages {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSource) Fetch(ctx context.Context, id string) (*Message, error) {
	if err := f.fetchErr[id]; err != nil {
		return nil, err
	}
	return f.messages[id], nil
}

func (f *fakeSource) MarkProcessed(id string) { f.processed = append(f.processed, id) }

func (f *fakeSource) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	_, err = db.Exec(`INSERT INTO companies (name) VALUES ('Test Company')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO accounts (username, password, host, port, company_id) VALUES ('billing@example.com.py', 'secret', 'imap.example.com.py', 993, 1)`)
	require.NoError(t, err)
	return db
}

func newTestPoller(t *testing.T, db *database.DB, src Source) *Poller {
	t.Helper()

	normalizer := sifen.NewNormalizer(db, testutil.Logger(t))
	p := NewPoller(db, db, normalizer, Config{
		ErrorDir: filepath.Join(t.TempDir(), "xmls_erros"),
	}, testutil.Logger(t))
	p.open = func(ctx context.Context, account *models.Account, window Window) (Source, error) {
		return src, nil
	}
	return p
}

func xmlAttachment(name, content string) Attachment {
	return Attachment{Filename: name, MIMEType: "application/xml", Data: []byte(content)}
}

func TestPoll_AllAttachmentsSucceed(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{messages: map[string]*Message{
		"1": {Subject: "Factura", Attachments: []Attachment{
			xmlAttachment("factura.xml", testutil.SampleXML),
		}},
	}}

	stats := newTestPoller(t, db, src).Poll(context.Background())

	assert.Equal(t, []string{"1"}, src.processed)
	assert.True(t, src.closed)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Deleted)
	assert.Zero(t, stats.Failures)

	doc, err := db.GetDocumentByCDC(context.Background(), testutil.SampleCDC)
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleCDC, doc.CDC)
}

func TestPoll_PartialFailureBlocksDeletion(t *testing.T) {
	db := newTestDB(t)

	broken := strings.Replace(testutil.SampleXML, "<dTotOpe>150000.00</dTotOpe>", "", 1)
	src := &fakeSource{messages: map[string]*Message{
		"1": {Subject: "Facturas del día", Attachments: []Attachment{
			xmlAttachment("ok.xml", testutil.SampleXML),
			xmlAttachment("broken.xml", broken),
		}},
	}}

	stats := newTestPoller(t, db, src).Poll(context.Background())

	// No partial credit: one failed attachment keeps the message around.
	assert.Empty(t, src.processed)
	assert.Zero(t, stats.Deleted)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Failures)

	// The successful attachment's document still exists.
	doc, err := db.GetDocumentByCDC(context.Background(), testutil.SampleCDC)
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleCDC, doc.CDC)

	n, err := db.CountXMLErrors(context.Background(), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPoll_NoXMLAttachmentsNotDeleted(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{messages: map[string]*Message{
		"1": {Subject: "Newsletter", Attachments: []Attachment{
			{Filename: "promo.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")},
		}},
		"2": {Subject: "Plain message"},
	}}

	stats := newTestPoller(t, db, src).Poll(context.Background())

	assert.Empty(t, src.processed)
	assert.Zero(t, stats.Deleted)
	assert.Zero(t, stats.Failures)
}

func TestPoll_NonInvoiceXMLIsNotAnError(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{messages: map[string]*Message{
		"1": {Subject: "Other XML", Attachments: []Attachment{
			xmlAttachment("config.xml", "<config><value>1</value></config>"),
			xmlAttachment("factura.xml", testutil.SampleXML),
		}},
	}}

	stats := newTestPoller(t, db, src).Poll(context.Background())

	// The marker-less XML is "not applicable": it neither fails the
	// message nor blocks deletion.
	assert.Equal(t, []string{"1"}, src.processed)
	assert.Zero(t, stats.Failures)
	assert.Equal(t, 1, stats.Created)
}

func TestPoll_FetchFailureSkipsMessage(t *testing.T) {
	db := newTestDB(t)
	src := &fakeSource{
		messages: map[string]*Message{
			"1": nil,
			"2": {Subject: "Factura", Attachments: []Attachment{
				xmlAttachment("factura.xml", testutil.SampleXML),
			}},
		},
		fetchErr: map[string]error{"1": fmt.Errorf("connection reset")},
	}

	stats := newTestPoller(t, db, src).Poll(context.Background())

	assert.Equal(t, []string{"2"}, src.processed)
	assert.Equal(t, 1, stats.Messages)
	assert.Equal(t, 1, stats.Created)
}

func TestPoll_OpenFailureSkipsAccount(t *testing.T) {
	db := newTestDB(t)

	normalizer := sifen.NewNormalizer(db, testutil.Logger(t))
	p := NewPoller(db, db, normalizer, Config{}, testutil.Logger(t))
	p.open = func(ctx context.Context, account *models.Account, window Window) (Source, error) {
		return nil, fmt.Errorf("auth failed")
	}

	stats := p.Poll(context.Background())
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Accounts)
}

func TestPoll_FailedPayloadDumpedToDisk(t *testing.T) {
	db := newTestDB(t)

	broken := strings.Replace(testutil.SampleXML, "<dTotOpe>150000.00</dTotOpe>", "", 1)
	src := &fakeSource{messages: map[string]*Message{
		"1": {Subject: "Factura", Attachments: []Attachment{
			xmlAttachment("broken.xml", broken),
		}},
	}}

	errorDir := filepath.Join(t.TempDir(), "xmls_erros")
	normalizer := sifen.NewNormalizer(db, testutil.Logger(t))
	p := NewPoller(db, db, normalizer, Config{ErrorDir: errorDir}, testutil.Logger(t))
	p.open = func(ctx context.Context, account *models.Account, window Window) (Source, error) {
		return src, nil
	}

	p.Poll(context.Background())

	data, err := os.ReadFile(filepath.Join(errorDir, "broken.xml"))
	require.NoError(t, err)
	assert.Equal(t, broken, string(data))
}

func TestBuildXMLError_DecodedText(t *testing.T) {
	account := &models.Account{ID: 7}
	received := time.Date(2025, 8, 12, 14, 23, 45, 0, time.UTC)
	msg := &Message{Subject: "Factura", Sender: "emisor@example.com.py", ReceivedAt: &received}
	att := xmlAttachment("factura.xml", "<DE Id=\"x\">bad date</DE>")

	rec := buildXMLError(account, msg, att, fmt.Errorf("bad date"))

	assert.True(t, rec.DecodedOK)
	assert.True(t, rec.XMLText.Valid)
	assert.False(t, rec.XMLBase64.Valid)
	assert.Equal(t, "bad date", rec.ErrorMsg)
	assert.NotEmpty(t, rec.Stacktrace)
	assert.True(t, rec.ReceivedAt.Valid)
	assert.EqualValues(t, 7, rec.AccountID.Int64)
}

func TestBuildXMLError_RawBytesFallback(t *testing.T) {
	account := &models.Account{ID: 7}
	msg := &Message{Subject: "Factura"}
	att := Attachment{Filename: "factura.xml", MIMEType: "application/xml", Data: []byte{0xff, 0xfe, 0x00, 0x80}}

	rec := buildXMLError(account, msg, att, fmt.Errorf("boom"))

	assert.False(t, rec.DecodedOK)
	assert.False(t, rec.XMLText.Valid)
	assert.True(t, rec.XMLBase64.Valid)
	assert.False(t, rec.ReceivedAt.Valid)
}
