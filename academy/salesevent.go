package academy

import (
	"context"
	"encoding/json"

	"github.com/giltayar/coursesales/versioned"
)

// SalesEvent is a resolved sales-event version.
type SalesEvent struct {
	Number    versioned.EntityNumber
	Core      SalesEventCore
	HistoryID versioned.HistoryID
	Operation versioned.Operation
}

// SalesEvents manages sales-event entities (launches, cohorts, campaigns
// that sales are attributed to).
type SalesEvents struct {
	entities *versioned.Entities
}

func NewSalesEvents(entities *versioned.Entities) *SalesEvents {
	return &SalesEvents{entities: entities}
}

func (s *SalesEvents) Create(ctx context.Context, core SalesEventCore) (versioned.EntityNumber, error) {
	data, err := marshalFacet(FacetCore, core)
	if err != nil {
		return 0, err
	}
	num, _, err := s.entities.Create(ctx, TypeSalesEvent, "", map[versioned.Facet]json.RawMessage{
		FacetCore: data,
	})
	return num, err
}

func (s *SalesEvents) Update(ctx context.Context, num versioned.EntityNumber, core SalesEventCore) (versioned.HistoryID, error) {
	data, err := marshalFacet(FacetCore, core)
	if err != nil {
		return "", err
	}
	return s.entities.Append(ctx, TypeSalesEvent, num, versioned.OpUpdate, "", map[versioned.Facet]json.RawMessage{
		FacetCore: data,
	})
}

func (s *SalesEvents) Delete(ctx context.Context, num versioned.EntityNumber, reason string) (versioned.HistoryID, error) {
	return s.entities.Append(ctx, TypeSalesEvent, num, versioned.OpDelete, reason, nil)
}

func (s *SalesEvents) Restore(ctx context.Context, num versioned.EntityNumber, reason string) (versioned.HistoryID, error) {
	return s.entities.Append(ctx, TypeSalesEvent, num, versioned.OpRestore, reason, nil)
}

func (s *SalesEvents) Get(ctx context.Context, num versioned.EntityNumber) (SalesEvent, error) {
	state, err := s.entities.ReadCurrent(ctx, TypeSalesEvent, num)
	if err != nil {
		return SalesEvent{}, err
	}
	return salesEventFromState(state)
}

func (s *SalesEvents) At(ctx context.Context, id versioned.HistoryID) (SalesEvent, error) {
	state, err := s.entities.ReadAtHistory(ctx, id)
	if err != nil {
		return SalesEvent{}, err
	}
	if state.EntityType != TypeSalesEvent {
		return SalesEvent{}, &versioned.NotFoundError{EntityType: TypeSalesEvent, HistoryID: id}
	}
	return salesEventFromState(state)
}

func (s *SalesEvents) History(ctx context.Context, num versioned.EntityNumber) ([]versioned.HistoryEntry, error) {
	return s.entities.ListHistory(ctx, TypeSalesEvent, num)
}

func salesEventFromState(state versioned.State) (SalesEvent, error) {
	event := SalesEvent{
		Number:    state.EntityNumber,
		HistoryID: state.HistoryID,
		Operation: state.Operation,
	}
	if err := facetInto(state, FacetCore, &event.Core); err != nil {
		return SalesEvent{}, err
	}
	return event, nil
}
