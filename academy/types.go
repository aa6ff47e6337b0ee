/*
Package academy provides the business entities of the course-sales system:
students, products, sales events, and sales.

PURPOSE:
  Each entity is a thin, typed layer over the versioned engine. The facet
  structs here are the immutable Data snapshots of the uniform
  Head/History/Snapshot model; the per-entity services translate between
  typed values and raw facet JSON.

FACETS:
  Student:    core
  Product:    core, integration
  SalesEvent: core
  Sale:       core, line-items, delivery (optional), connection

  Facets evolve independently: updating a product's price does not
  re-snapshot its provider integration, and connecting a sale does not
  re-snapshot its line items.
*/
package academy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/giltayar/coursesales/versioned"
)

// =============================================================================
// ENTITY TYPES AND FACETS
// =============================================================================

const (
	TypeStudent    versioned.EntityType = "student"
	TypeProduct    versioned.EntityType = "product"
	TypeSalesEvent versioned.EntityType = "sales-event"
	TypeSale       versioned.EntityType = "sale"
)

const (
	FacetCore        versioned.Facet = "core"
	FacetIntegration versioned.Facet = "integration"
	FacetLineItems   versioned.Facet = "line-items"
	FacetDelivery    versioned.Facet = "delivery"
	FacetConnection  versioned.Facet = "connection"
)

// =============================================================================
// FACET VALUE TYPES
// =============================================================================

type StudentCore struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type ProductCore struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// ListIDs names the four subscription lists a product's contacts move
// between over a sale's lifecycle.
type ListIDs struct {
	Active     string `json:"active"`
	Cancelling string `json:"cancelling"`
	Cancelled  string `json:"cancelled"`
	Removed    string `json:"removed"`
}

// ProductIntegration is a product's external-provider configuration.
type ProductIntegration struct {
	CourseIDs []string `json:"courseIds,omitempty"`
	Lists     ListIDs  `json:"lists"`
	GroupIDs  []string `json:"groupIds,omitempty"`
}

type SalesEventCore struct {
	Name  string    `json:"name"`
	Date  time.Time `json:"date"`
	Notes string    `json:"notes,omitempty"`
}

type SaleCore struct {
	StudentNumber    versioned.EntityNumber `json:"studentNumber"`
	SalesEventNumber versioned.EntityNumber `json:"salesEventNumber,omitempty"`
	Reference        string                 `json:"reference,omitempty"`
	Notes            string                 `json:"notes,omitempty"`
}

type LineItem struct {
	ProductNumber versioned.EntityNumber `json:"productNumber"`
	Quantity      int                    `json:"quantity"`
	UnitPrice     decimal.Decimal        `json:"unitPrice"`
}

type Delivery struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

// Connection is the sale's "connected/active" boolean facet: whether the
// sale's external side effects are currently applied.
type Connection struct {
	Connected bool `json:"connected"`
}

// =============================================================================
// FACET ENCODING HELPERS
// =============================================================================

func marshalFacet(f versioned.Facet, v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s facet: %w", f, err)
	}
	return data, nil
}

// facetInto decodes one facet of a resolved state. Required facets that are
// absent are an error; optional callers check presence with state.Facet.
func facetInto(state versioned.State, f versioned.Facet, v any) error {
	raw := state.Facet(f)
	if raw == nil {
		return fmt.Errorf("%s %d: %s facet missing at history %s",
			state.EntityType, state.EntityNumber, f, state.HistoryID)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s facet: %w", f, err)
	}
	return nil
}
