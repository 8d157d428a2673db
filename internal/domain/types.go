package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ProductType identifies the product family and keys every configuration variant.
type ProductType string

const (
	// ProductTypeVTS is single-vessel tracking.
	ProductTypeVTS ProductType = "VTS"
	// ProductTypeAMS is area monitoring over an area of interest.
	ProductTypeAMS ProductType = "AMS"
	// ProductTypeFTS is fleet tracking.
	ProductTypeFTS ProductType = "FTS"
	// ProductTypeReportCompliance is a one-off compliance report.
	ProductTypeReportCompliance ProductType = "REPORT_COMPLIANCE"
	// ProductTypeReportChronology is a one-off chronology report.
	ProductTypeReportChronology ProductType = "REPORT_CHRONOLOGY"
	// ProductTypeInvestigation is an analyst-led investigation request.
	ProductTypeInvestigation ProductType = "INVESTIGATION"
	// ProductTypeMaritimeAlert is a custom alert rule subscription.
	ProductTypeMaritimeAlert ProductType = "MARITIME_ALERT"
)

var productTypes = []ProductType{
	ProductTypeVTS,
	ProductTypeAMS,
	ProductTypeFTS,
	ProductTypeReportCompliance,
	ProductTypeReportChronology,
	ProductTypeInvestigation,
	ProductTypeMaritimeAlert,
}

// ProductTypes lists every known product type in catalog order.
func ProductTypes() []ProductType {
	out := make([]ProductType, len(productTypes))
	copy(out, productTypes)
	return out
}

// ParseProductType resolves a raw string into a known ProductType. Matching is case-insensitive.
func ParseProductType(raw string) (ProductType, bool) {
	candidate := ProductType(strings.ToUpper(strings.TrimSpace(raw)))
	if candidate.Valid() {
		return candidate, true
	}
	return "", false
}

// Valid reports whether the type is part of the closed enumeration.
func (t ProductType) Valid() bool {
	for _, known := range productTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsReport reports whether the type shares the report configuration variant.
func (t ProductType) IsReport() bool {
	return t == ProductTypeReportCompliance || t == ProductTypeReportChronology
}

// MaritimeAlertType enumerates the subjects a maritime alert can watch.
type MaritimeAlertType string

const (
	MaritimeAlertShip        MaritimeAlertType = "SHIP"
	MaritimeAlertArea        MaritimeAlertType = "AREA"
	MaritimeAlertShipAndArea MaritimeAlertType = "SHIP_AND_AREA"
)

// Valid reports whether the alert type is known.
func (t MaritimeAlertType) Valid() bool {
	switch t {
	case MaritimeAlertShip, MaritimeAlertArea, MaritimeAlertShipAndArea:
		return true
	}
	return false
}

// Product is an immutable catalog entry.
type Product struct {
	ID                  string
	Name                string
	ShortDescription    string
	LongDescription     string
	Type                ProductType
	Price               decimal.Decimal
	CreditCost          int
	ImageURL            string
	Tags                []string
	AlertTypesAvailable []MaritimeAlertType
}

// OffersAlertType reports whether a maritime alert product sells the given alert type.
// Products that do not restrict alert types accept all of them.
func (p Product) OffersAlertType(t MaritimeAlertType) bool {
	if len(p.AlertTypesAvailable) == 0 {
		return true
	}
	for _, available := range p.AlertTypesAvailable {
		if available == t {
			return true
		}
	}
	return false
}

// CatalogFilter narrows catalog listings.
type CatalogFilter struct {
	Type   ProductType
	Search string
}
