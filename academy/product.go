package academy

import (
	"context"
	"encoding/json"

	"github.com/giltayar/coursesales/versioned"
)

// Product is a resolved product version.
type Product struct {
	Number      versioned.EntityNumber
	Core        ProductCore
	Integration ProductIntegration
	HistoryID   versioned.HistoryID
	Operation   versioned.Operation
}

// Products manages product entities.
type Products struct {
	entities *versioned.Entities
}

func NewProducts(entities *versioned.Entities) *Products {
	return &Products{entities: entities}
}

func (p *Products) Create(ctx context.Context, core ProductCore, integration ProductIntegration) (versioned.EntityNumber, error) {
	coreData, err := marshalFacet(FacetCore, core)
	if err != nil {
		return 0, err
	}
	integData, err := marshalFacet(FacetIntegration, integration)
	if err != nil {
		return 0, err
	}
	num, _, err := p.entities.Create(ctx, TypeProduct, "", map[versioned.Facet]json.RawMessage{
		FacetCore:        coreData,
		FacetIntegration: integData,
	})
	return num, err
}

// UpdateCore rewrites the core facet only; the integration facet is
// inherited from the previous version.
func (p *Products) UpdateCore(ctx context.Context, num versioned.EntityNumber, core ProductCore) (versioned.HistoryID, error) {
	data, err := marshalFacet(FacetCore, core)
	if err != nil {
		return "", err
	}
	return p.entities.Append(ctx, TypeProduct, num, versioned.OpUpdate, "", map[versioned.Facet]json.RawMessage{
		FacetCore: data,
	})
}

// UpdateIntegration rewrites the provider configuration only.
func (p *Products) UpdateIntegration(ctx context.Context, num versioned.EntityNumber, integration ProductIntegration) (versioned.HistoryID, error) {
	data, err := marshalFacet(FacetIntegration, integration)
	if err != nil {
		return "", err
	}
	return p.entities.Append(ctx, TypeProduct, num, versioned.OpUpdate, "", map[versioned.Facet]json.RawMessage{
		FacetIntegration: data,
	})
}

func (p *Products) Delete(ctx context.Context, num versioned.EntityNumber, reason string) (versioned.HistoryID, error) {
	return p.entities.Append(ctx, TypeProduct, num, versioned.OpDelete, reason, nil)
}

func (p *Products) Restore(ctx context.Context, num versioned.EntityNumber, reason string) (versioned.HistoryID, error) {
	return p.entities.Append(ctx, TypeProduct, num, versioned.OpRestore, reason, nil)
}

func (p *Products) Get(ctx context.Context, num versioned.EntityNumber) (Product, error) {
	state, err := p.entities.ReadCurrent(ctx, TypeProduct, num)
	if err != nil {
		return Product{}, err
	}
	return productFromState(state)
}

func (p *Products) At(ctx context.Context, id versioned.HistoryID) (Product, error) {
	state, err := p.entities.ReadAtHistory(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if state.EntityType != TypeProduct {
		return Product{}, &versioned.NotFoundError{EntityType: TypeProduct, HistoryID: id}
	}
	return productFromState(state)
}

func (p *Products) History(ctx context.Context, num versioned.EntityNumber) ([]versioned.HistoryEntry, error) {
	return p.entities.ListHistory(ctx, TypeProduct, num)
}

func productFromState(state versioned.State) (Product, error) {
	product := Product{
		Number:    state.EntityNumber,
		HistoryID: state.HistoryID,
		Operation: state.Operation,
	}
	if err := facetInto(state, FacetCore, &product.Core); err != nil {
		return Product{}, err
	}
	if err := facetInto(state, FacetIntegration, &product.Integration); err != nil {
		return Product{}, err
	}
	return product, nil
}
