package sifen_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marandu/sifen-ingest/internal/database"
	"github.com/marandu/sifen-ingest/internal/sifen"
	"github.com/marandu/sifen-ingest/internal/testutil"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()))

	_, err = db.Exec(`INSERT INTO companies (name) VALUES ('Test Company')`)
	require.NoError(t, err)
	return db
}

func newTestNormalizer(t *testing.T) (*sifen.Normalizer, *database.DB) {
	t.Helper()
	db := newTestDB(t)
	return sifen.NewNormalizer(db, testutil.Logger(t)), db
}

func TestNormalize_CreatesDocument(t *testing.T) {
	n, _ := newTestNormalizer(t)
	ctx := context.Background()

	doc, created, err := n.Normalize(ctx, testutil.SampleXML, 1)
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, testutil.SampleCDC, doc.CDC)
	assert.Equal(t, "150000.00", doc.Total.StringFixed(2))
	assert.Equal(t, testutil.SampleXML, doc.RawXML)
}

func TestNormalize_Idempotent(t *testing.T) {
	n, _ := newTestNormalizer(t)
	ctx := context.Background()

	first, created, err := n.Normalize(ctx, testutil.SampleXML, 1)
	require.NoError(t, err)
	require.True(t, created)

	// Second payload shares the CDC but carries a different total. The
	// stored document must keep every original field.
	altered := strings.Replace(testutil.SampleXML, "150000.00", "999999.99", 1)
	second, created, err := n.Normalize(ctx, altered, 1)
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "150000.00", second.Total.StringFixed(2))
	assert.Equal(t, testutil.SampleXML, second.RawXML)
}

func TestNormalize_SingleDocumentRow(t *testing.T) {
	n, db := newTestNormalizer(t)
	ctx := context.Background()

	_, _, err := n.Normalize(ctx, testutil.SampleXML, 1)
	require.NoError(t, err)
	_, _, err = n.Normalize(ctx, testutil.SampleXML, 1)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM documents`))
	assert.Equal(t, 1, count)
}

func TestNormalize_FirstSeenRegionNameWins(t *testing.T) {
	n, db := newTestNormalizer(t)
	ctx := context.Background()

	_, _, err := n.Normalize(ctx, testutil.SampleXML, 1)
	require.NoError(t, err)

	// Same region code, different spelling and a fresh CDC.
	other := strings.Replace(testutil.SampleXML, "ALTO PARANA", "Alto Paraná", 1)
	other = strings.Replace(other, testutil.SampleCDC, "01800628535055001003334022025072617152780999", 1)
	_, created, err := n.Normalize(ctx, other, 1)
	require.NoError(t, err)
	require.True(t, created)

	var regions []struct {
		Code string `db:"code"`
		Name string `db:"name"`
	}
	require.NoError(t, db.Select(&regions, `SELECT code, name FROM regions`))
	require.Len(t, regions, 1)
	assert.Equal(t, "ALTO PARANA", regions[0].Name)
}

func TestNormalize_MissingBlockCreatesNoRows(t *testing.T) {
	n, db := newTestNormalizer(t)
	ctx := context.Background()

	start := strings.Index(testutil.SampleXML, "<gTimb>")
	end := strings.Index(testutil.SampleXML, "</gTimb>") + len("</gTimb>")
	broken := testutil.SampleXML[:start] + testutil.SampleXML[end:]

	_, _, err := n.Normalize(ctx, broken, 1)
	var missing *sifen.MissingFieldError
	require.ErrorAs(t, err, &missing)

	for _, table := range []string{"regions", "cities", "document_types", "issuers", "documents"} {
		var count int
		require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM `+table))
		assert.Zero(t, count, "table %s must stay empty", table)
	}
}

func TestNormalize_MissingTotalCreatesNoRows(t *testing.T) {
	n, db := newTestNormalizer(t)
	ctx := context.Background()

	broken := strings.Replace(testutil.SampleXML, "<dTotOpe>150000.00</dTotOpe>", "", 1)
	_, _, err := n.Normalize(ctx, broken, 1)

	var missing *sifen.MissingFieldError
	require.ErrorAs(t, err, &missing)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM regions`))
	assert.Zero(t, count)
}
