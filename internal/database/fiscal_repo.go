package database

import (
	"context"
	"fmt"

	"github.com/marandu/sifen-ingest/pkg/models"
)

// insertIfAbsent is the shared half of every lookup-or-create: a
// conditional insert keyed on the table's natural-key UNIQUE constraint.
// It reports whether a row was actually inserted. Relying on the
// constraint instead of a prior SELECT keeps concurrent pipeline runs
// from double-inserting; the loser of the race simply inserts nothing.
func (db *DB) insertIfAbsent(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetOrCreateRegion returns the region with the given code, inserting it
// with the supplied name when absent. The first-seen name is never
// overwritten by later encounters.
func (db *DB) GetOrCreateRegion(ctx context.Context, code, name string) (*models.Region, bool, error) {
	created, err := db.insertIfAbsent(ctx,
		`INSERT INTO regions (code, name) VALUES (?, ?) ON CONFLICT(code) DO NOTHING`,
		code, name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create region: %w", err)
	}

	var region models.Region
	if err := db.GetContext(ctx, &region, `SELECT * FROM regions WHERE code = ?`, code); err != nil {
		return nil, false, fmt.Errorf("failed to get region: %w", err)
	}
	return &region, created, nil
}

// GetOrCreateCity returns the city with the given code, inserting it
// under the given region when absent.
func (db *DB) GetOrCreateCity(ctx context.Context, code, name string, regionID int64) (*models.City, bool, error) {
	created, err := db.insertIfAbsent(ctx,
		`INSERT INTO cities (code, name, region_id) VALUES (?, ?, ?) ON CONFLICT(code) DO NOTHING`,
		code, name, regionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create city: %w", err)
	}

	var city models.City
	if err := db.GetContext(ctx, &city, `SELECT * FROM cities WHERE code = ?`, code); err != nil {
		return nil, false, fmt.Errorf("failed to get city: %w", err)
	}
	return &city, created, nil
}

// GetOrCreateDocumentType returns the document type with the given
// numeric code, inserting it when absent.
func (db *DB) GetOrCreateDocumentType(ctx context.Context, code int, name string) (*models.DocumentType, bool, error) {
	created, err := db.insertIfAbsent(ctx,
		`INSERT INTO document_types (code, name) VALUES (?, ?) ON CONFLICT(code) DO NOTHING`,
		code, name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create document type: %w", err)
	}

	var dt models.DocumentType
	if err := db.GetContext(ctx, &dt, `SELECT * FROM document_types WHERE code = ?`, code); err != nil {
		return nil, false, fmt.Errorf("failed to get document type: %w", err)
	}
	return &dt, created, nil
}

// GetOrCreateIssuer returns the issuer with the given RUC, inserting it
// when absent.
func (db *DB) GetOrCreateIssuer(ctx context.Context, code, name, tradeName string, cityID int64) (*models.Issuer, bool, error) {
	created, err := db.insertIfAbsent(ctx,
		`INSERT INTO issuers (code, name, trade_name, city_id) VALUES (?, ?, ?, ?) ON CONFLICT(code) DO NOTHING`,
		code, name, tradeName, cityID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create issuer: %w", err)
	}

	var issuer models.Issuer
	if err := db.GetContext(ctx, &issuer, `SELECT * FROM issuers WHERE code = ?`, code); err != nil {
		return nil, false, fmt.Errorf("failed to get issuer: %w", err)
	}
	return &issuer, created, nil
}

// GetOrCreateDocument inserts doc keyed by its CDC, or returns the
// already-stored row untouched when the CDC exists. Ingestion is
// at-most-once: a re-ingested CDC never updates any field, even when
// the new payload differs from the stored one.
func (db *DB) GetOrCreateDocument(ctx context.Context, doc *models.Document) (*models.Document, bool, error) {
	created, err := db.insertIfAbsent(ctx,
		`INSERT INTO documents (cdc, company_id, document_type_id, establishment, expedition_point, number, issuer_id, issued_at, total, raw_xml)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(cdc) DO NOTHING`,
		doc.CDC, doc.CompanyID, doc.DocumentTypeID, doc.Establishment, doc.ExpeditionPoint,
		doc.Number, doc.IssuerID, doc.IssuedAt, doc.Total, doc.RawXML)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create document: %w", err)
	}

	var stored models.Document
	if err := db.GetContext(ctx, &stored, `SELECT * FROM documents WHERE cdc = ?`, doc.CDC); err != nil {
		return nil, false, fmt.Errorf("failed to get document: %w", err)
	}
	return &stored, created, nil
}

// GetDocumentByCDC returns a document by its control code.
func (db *DB) GetDocumentByCDC(ctx context.Context, cdc string) (*models.Document, error) {
	var doc models.Document
	err := db.GetContext(ctx, &doc, `SELECT * FROM documents WHERE cdc = ?`, cdc)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}
