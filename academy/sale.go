package academy

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/giltayar/coursesales/versioned"
)

// Sale is a resolved sale version.
type Sale struct {
	Number     versioned.EntityNumber
	Core       SaleCore
	Items      []LineItem
	Delivery   *Delivery
	Connection Connection
	HistoryID  versioned.HistoryID
	Operation  versioned.Operation
}

// Total is the sale's value: sum of quantity x unit price over line items.
func (s Sale) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// NewSale is the input for creating a sale.
type NewSale struct {
	Core     SaleCore
	Items    []LineItem
	Delivery *Delivery
}

// Sales manages sale entities.
type Sales struct {
	entities *versioned.Entities
}

func NewSales(entities *versioned.Entities) *Sales {
	return &Sales{entities: entities}
}

// Create writes the sale's first version. A new sale starts disconnected;
// connecting is a separate operation with external side effects.
func (s *Sales) Create(ctx context.Context, sale NewSale) (versioned.EntityNumber, error) {
	patches := make(map[versioned.Facet]json.RawMessage, 4)

	coreData, err := marshalFacet(FacetCore, sale.Core)
	if err != nil {
		return 0, err
	}
	patches[FacetCore] = coreData

	itemsData, err := marshalFacet(FacetLineItems, sale.Items)
	if err != nil {
		return 0, err
	}
	patches[FacetLineItems] = itemsData

	connData, err := marshalFacet(FacetConnection, Connection{Connected: false})
	if err != nil {
		return 0, err
	}
	patches[FacetConnection] = connData

	if sale.Delivery != nil {
		deliveryData, err := marshalFacet(FacetDelivery, sale.Delivery)
		if err != nil {
			return 0, err
		}
		patches[FacetDelivery] = deliveryData
	}

	num, _, err := s.entities.Create(ctx, TypeSale, "", patches)
	return num, err
}

func (s *Sales) UpdateCore(ctx context.Context, num versioned.EntityNumber, core SaleCore) (versioned.HistoryID, error) {
	data, err := marshalFacet(FacetCore, core)
	if err != nil {
		return "", err
	}
	return s.entities.Append(ctx, TypeSale, num, versioned.OpUpdate, "", map[versioned.Facet]json.RawMessage{
		FacetCore: data,
	})
}

func (s *Sales) UpdateItems(ctx context.Context, num versioned.EntityNumber, items []LineItem) (versioned.HistoryID, error) {
	data, err := marshalFacet(FacetLineItems, items)
	if err != nil {
		return "", err
	}
	return s.entities.Append(ctx, TypeSale, num, versioned.OpUpdate, "", map[versioned.Facet]json.RawMessage{
		FacetLineItems: data,
	})
}

func (s *Sales) UpdateDelivery(ctx context.Context, num versioned.EntityNumber, delivery Delivery) (versioned.HistoryID, error) {
	data, err := marshalFacet(FacetDelivery, delivery)
	if err != nil {
		return "", err
	}
	return s.entities.Append(ctx, TypeSale, num, versioned.OpUpdate, "", map[versioned.Facet]json.RawMessage{
		FacetDelivery: data,
	})
}

// =============================================================================
// LIFECYCLE OPERATIONS - each appends exactly one operation-tagged row
// =============================================================================

func (s *Sales) Connect(ctx context.Context, num versioned.EntityNumber, reason string) (versioned.HistoryID, error) {
	return s.setConnection(ctx, num, versioned.OpConnect, reason, true)
}

func (s *Sales) Disconnect(ctx context.Context, num versioned.EntityNumber, reason string) (versioned.HistoryID, error) {
	return s.setConnection(ctx, num, versioned.OpDisconnect, reason, false)
}

func (s *Sales) Refund(ctx context.Context, num versioned.EntityNumber, reason string) (versioned.HistoryID, error) {
	return s.setConnection(ctx, num, versioned.OpRefund, reason, false)
}

// CancelSubscription records the intent to end a standing order. The sale
// stays connected until the cancellation is finalized.
func (s *Sales) CancelSubscription(ctx context.Context, num versioned.EntityNumber, reason string) (versioned.HistoryID, error) {
	return s.entities.Append(ctx, TypeSale, num, versioned.OpCancelSubscription, reason, nil)
}

// RemovedFromSubscription records the finalized cancellation.
func (s *Sales) RemovedFromSubscription(ctx context.Context, num versioned.EntityNumber, reason string) (versioned.HistoryID, error) {
	return s.setConnection(ctx, num, versioned.OpRemovedFromSubscription, reason, false)
}

func (s *Sales) setConnection(ctx context.Context, num versioned.EntityNumber, op versioned.Operation, reason string, connected bool) (versioned.HistoryID, error) {
	data, err := marshalFacet(FacetConnection, Connection{Connected: connected})
	if err != nil {
		return "", err
	}
	return s.entities.Append(ctx, TypeSale, num, op, reason, map[versioned.Facet]json.RawMessage{
		FacetConnection: data,
	})
}

func (s *Sales) Delete(ctx context.Context, num versioned.EntityNumber, reason string) (versioned.HistoryID, error) {
	return s.entities.Append(ctx, TypeSale, num, versioned.OpDelete, reason, nil)
}

func (s *Sales) Restore(ctx context.Context, num versioned.EntityNumber, reason string) (versioned.HistoryID, error) {
	return s.entities.Append(ctx, TypeSale, num, versioned.OpRestore, reason, nil)
}

// =============================================================================
// READS
// =============================================================================

func (s *Sales) Get(ctx context.Context, num versioned.EntityNumber) (Sale, error) {
	state, err := s.entities.ReadCurrent(ctx, TypeSale, num)
	if err != nil {
		return Sale{}, err
	}
	return saleFromState(state)
}

func (s *Sales) At(ctx context.Context, id versioned.HistoryID) (Sale, error) {
	state, err := s.entities.ReadAtHistory(ctx, id)
	if err != nil {
		return Sale{}, err
	}
	if state.EntityType != TypeSale {
		return Sale{}, &versioned.NotFoundError{EntityType: TypeSale, HistoryID: id}
	}
	return saleFromState(state)
}

func (s *Sales) History(ctx context.Context, num versioned.EntityNumber) ([]versioned.HistoryEntry, error) {
	return s.entities.ListHistory(ctx, TypeSale, num)
}

func saleFromState(state versioned.State) (Sale, error) {
	sale := Sale{
		Number:    state.EntityNumber,
		HistoryID: state.HistoryID,
		Operation: state.Operation,
	}
	if err := facetInto(state, FacetCore, &sale.Core); err != nil {
		return Sale{}, err
	}
	if err := facetInto(state, FacetLineItems, &sale.Items); err != nil {
		return Sale{}, err
	}
	if err := facetInto(state, FacetConnection, &sale.Connection); err != nil {
		return Sale{}, err
	}
	if state.Facet(FacetDelivery) != nil {
		var delivery Delivery
		if err := facetInto(state, FacetDelivery, &delivery); err != nil {
			return Sale{}, err
		}
		sale.Delivery = &delivery
	}
	return sale, nil
}
