package sifen

import (
	"context"
	"log/slog"

	"github.com/marandu/sifen-ingest/pkg/models"
)

// Store is the slice of the database the normalizer writes through.
// Every method is an atomic lookup-or-create backed by the table's
// natural-key constraint.
type Store interface {
	GetOrCreateRegion(ctx context.Context, code, name string) (*models.Region, bool, error)
	GetOrCreateCity(ctx context.Context, code, name string, regionID int64) (*models.City, bool, error)
	GetOrCreateDocumentType(ctx context.Context, code int, name string) (*models.DocumentType, bool, error)
	GetOrCreateIssuer(ctx context.Context, code, name, tradeName string, cityID int64) (*models.Issuer, bool, error)
	GetOrCreateDocument(ctx context.Context, doc *models.Document) (*models.Document, bool, error)
}

// Normalizer turns raw SIFEN XML into persisted fiscal entities.
type Normalizer struct {
	store  Store
	logger *slog.Logger
}

// NewNormalizer creates a Normalizer writing through store.
func NewNormalizer(store Store, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		store:  store,
		logger: logger.With("component", "normalizer"),
	}
}

// Normalize parses xmlText and persists the document for the given
// company. Parsing completes before the first store call, so a payload
// with missing fields creates no rows at all. The returned flag is true
// when the document was inserted, false when its CDC already existed;
// in the latter case the stored row is returned untouched.
func (n *Normalizer) Normalize(ctx context.Context, xmlText string, companyID int64) (*models.Document, bool, error) {
	inv, err := Parse(xmlText)
	if err != nil {
		return nil, false, err
	}

	region, _, err := n.store.GetOrCreateRegion(ctx, inv.RegionCode, inv.RegionName)
	if err != nil {
		return nil, false, err
	}

	city, _, err := n.store.GetOrCreateCity(ctx, inv.CityCode, inv.CityName, region.ID)
	if err != nil {
		return nil, false, err
	}

	docType, _, err := n.store.GetOrCreateDocumentType(ctx, inv.DocumentTypeCode, inv.DocumentTypeName)
	if err != nil {
		return nil, false, err
	}

	issuer, _, err := n.store.GetOrCreateIssuer(ctx, inv.IssuerRUC, inv.IssuerName, inv.IssuerTradeName, city.ID)
	if err != nil {
		return nil, false, err
	}

	doc, created, err := n.store.GetOrCreateDocument(ctx, &models.Document{
		CDC:             inv.CDC,
		CompanyID:       companyID,
		DocumentTypeID:  docType.ID,
		Establishment:   inv.Establishment,
		ExpeditionPoint: inv.ExpeditionPoint,
		Number:          inv.Number,
		IssuerID:        issuer.ID,
		IssuedAt:        inv.IssuedAt,
		Total:           inv.Total,
		RawXML:          xmlText,
	})
	if err != nil {
		return nil, false, err
	}

	n.logger.Debug("document normalized", "cdc", doc.CDC, "created", created)
	return doc, created, nil
}
