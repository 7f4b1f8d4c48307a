package sweeper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marandu/sifen-ingest/internal/database"
	"github.com/marandu/sifen-ingest/internal/sifen"
	"github.com/marandu/sifen-ingest/internal/testutil"
)

func newTestSweeper(t *testing.T) (*Sweeper, *database.DB) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	_, err = db.Exec(`INSERT INTO companies (name) VALUES ('Test Company')`)
	require.NoError(t, err)

	return New(sifen.NewNormalizer(db, testutil.Logger(t)), testutil.Logger(t)), db
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestSweep_MixedOutcomes(t *testing.T) {
	s, db := newTestSweeper(t)
	dir := t.TempDir()

	broken := strings.Replace(testutil.SampleXML, "<dTotOpe>150000.00</dTotOpe>", "", 1)
	writeFile(t, dir, "a_good.xml", testutil.SampleXML)
	writeFile(t, dir, "b_broken.xml", broken)
	writeFile(t, dir, "c_other.xml", "<config/>")

	result, err := s.Sweep(context.Background(), Options{Dir: dir, CompanyID: 1})
	require.NoError(t, err)

	// good + marker-less skip count as OK, the broken one as failure.
	assert.Equal(t, 2, result.OK)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, result.Total)

	doc, err := db.GetDocumentByCDC(context.Background(), testutil.SampleCDC)
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleCDC, doc.CDC)
}

func TestSweep_AlreadyExistingIsOK(t *testing.T) {
	s, _ := newTestSweeper(t)
	dir := t.TempDir()
	writeFile(t, dir, "dup.xml", testutil.SampleXML)

	first, err := s.Sweep(context.Background(), Options{Dir: dir, CompanyID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, first.OK)

	second, err := s.Sweep(context.Background(), Options{Dir: dir, CompanyID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, second.OK)
	assert.Zero(t, second.Failed)
}

func TestSweep_Limit(t *testing.T) {
	s, _ := newTestSweeper(t)
	dir := t.TempDir()
	writeFile(t, dir, "1.xml", "<config/>")
	writeFile(t, dir, "2.xml", "<config/>")
	writeFile(t, dir, "3.xml", "<config/>")

	result, err := s.Sweep(context.Background(), Options{Dir: dir, Limit: 2, CompanyID: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
}

func TestSweep_MoveByOutcome(t *testing.T) {
	s, _ := newTestSweeper(t)
	dir := t.TempDir()
	okDir := filepath.Join(dir, "ok")
	failDir := filepath.Join(dir, "fail")

	broken := strings.Replace(testutil.SampleXML, "<dTotOpe>150000.00</dTotOpe>", "", 1)
	writeFile(t, dir, "good.xml", testutil.SampleXML)
	writeFile(t, dir, "broken.xml", broken)

	_, err := s.Sweep(context.Background(), Options{
		Dir:       dir,
		CompanyID: 1,
		MoveOK:    true,
		MoveFail:  true,
		OKDir:     okDir,
		FailDir:   failDir,
	})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(okDir, "good.xml"))
	assert.FileExists(t, filepath.Join(failDir, "broken.xml"))
	assert.NoFileExists(t, filepath.Join(dir, "good.xml"))
	assert.NoFileExists(t, filepath.Join(dir, "broken.xml"))
}

func TestSweep_EmptyDirectory(t *testing.T) {
	s, _ := newTestSweeper(t)

	result, err := s.Sweep(context.Background(), Options{Dir: t.TempDir(), CompanyID: 1})
	require.NoError(t, err)
	assert.Zero(t, result.Total)
}
