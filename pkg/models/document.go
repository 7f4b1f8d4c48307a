package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Region is a first-level administrative division (departamento).
// Created on first encounter during normalization; the first-seen name
// wins and is never rewritten.
type Region struct {
	ID        int64     `db:"id"`
	Code      string    `db:"code"` // cDepEmi
	Name      string    `db:"name"` // dDesDepEmi
	CreatedAt time.Time `db:"created_at"`
}

// City belongs to exactly one Region.
type City struct {
	ID        int64     `db:"id"`
	Code      string    `db:"code"` // cCiuEmi
	Name      string    `db:"name"` // dDesCiuEmi
	RegionID  int64     `db:"region_id"`
	CreatedAt time.Time `db:"created_at"`
}

// DocumentType is the SIFEN document class (factura, nota de crédito, ...).
type DocumentType struct {
	ID        int64     `db:"id"`
	Code      int       `db:"code"` // iTiDE
	Name      string    `db:"name"` // dDesTiDE
	CreatedAt time.Time `db:"created_at"`
}

// Issuer is the emitting taxpayer, keyed by RUC.
type Issuer struct {
	ID        int64     `db:"id"`
	Code      string    `db:"code"`       // dRucEm
	Name      string    `db:"name"`       // dNomEmi
	TradeName string    `db:"trade_name"` // dNomFanEmi, optional
	CityID    int64     `db:"city_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Document is one ingested fiscal invoice. The CDC is globally unique;
// a document is written once and never updated by the pipeline.
type Document struct {
	ID              int64           `db:"id"`
	CDC             string          `db:"cdc"` // Id attribute of <DE>
	CompanyID       int64           `db:"company_id"`
	DocumentTypeID  int64           `db:"document_type_id"`
	Establishment   string          `db:"establishment"`    // dEst
	ExpeditionPoint string          `db:"expedition_point"` // dPunExp
	Number          string          `db:"number"`           // dNumDoc
	IssuerID        int64           `db:"issuer_id"`
	IssuedAt        time.Time       `db:"issued_at"` // dFeEmiDE
	Total           decimal.Decimal `db:"total"`     // dTotOpe, exact decimal
	RawXML          string          `db:"raw_xml"`   // full source document
	CreatedAt       time.Time       `db:"created_at"`
}
