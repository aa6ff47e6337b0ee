package academy_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giltayar/coursesales/academy"
	"github.com/giltayar/coursesales/versioned"
	"github.com/giltayar/coursesales/versioned/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEntities() *versioned.Entities {
	return versioned.NewEntities(store.NewMemory())
}

func goCourseIntegration() academy.ProductIntegration {
	return academy.ProductIntegration{
		CourseIDs: []string{"go-101"},
		Lists: academy.ListIDs{
			Active:     "go-active",
			Cancelling: "go-cancelling",
			Cancelled:  "go-cancelled",
			Removed:    "go-removed",
		},
		GroupIDs: []string{"go-students"},
	}
}

// =============================================================================
// STUDENTS
// =============================================================================

func TestStudents_CreateUpdateGet(t *testing.T) {
	students := academy.NewStudents(newTestEntities())
	ctx := context.Background()

	num, err := students.Create(ctx, academy.StudentCore{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	_, err = students.Update(ctx, num, academy.StudentCore{Name: "Alice B", Email: "alice@example.com", Phone: "+15550001"})
	require.NoError(t, err)

	student, err := students.Get(ctx, num)
	require.NoError(t, err)
	assert.Equal(t, "Alice B", student.Core.Name)
	assert.Equal(t, "+15550001", student.Core.Phone)
	assert.Equal(t, versioned.OpUpdate, student.Operation)
}

func TestStudents_FindByEmail_CaseInsensitive(t *testing.T) {
	students := academy.NewStudents(newTestEntities())
	ctx := context.Background()

	num, err := students.Create(ctx, academy.StudentCore{Name: "Alice", Email: "Alice@Example.com"})
	require.NoError(t, err)

	found, ok, err := students.FindByEmail(ctx, "alice@example.COM")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, num, found.Number)
}

func TestStudents_FindByEmail_SkipsDeleted(t *testing.T) {
	// A deleted student must not be matched by the webhook upsert; restoring
	// makes them matchable again.

	students := academy.NewStudents(newTestEntities())
	ctx := context.Background()

	num, err := students.Create(ctx, academy.StudentCore{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	_, err = students.Delete(ctx, num, "GDPR request")
	require.NoError(t, err)

	_, ok, err := students.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = students.Restore(ctx, num, "request withdrawn")
	require.NoError(t, err)

	_, ok, err = students.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStudents_HistoryAudit(t *testing.T) {
	students := academy.NewStudents(newTestEntities())
	ctx := context.Background()

	num, err := students.Create(ctx, academy.StudentCore{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	updateID, err := students.Update(ctx, num, academy.StudentCore{Name: "Alice B", Email: "alice@example.com"})
	require.NoError(t, err)
	_, err = students.Update(ctx, num, academy.StudentCore{Name: "Alice C", Email: "alice@example.com"})
	require.NoError(t, err)

	// The middle version stays readable forever.
	atUpdate, err := students.At(ctx, updateID)
	require.NoError(t, err)
	assert.Equal(t, "Alice B", atUpdate.Core.Name)

	entries, err := students.History(ctx, num)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

// =============================================================================
// PRODUCTS - facet independence
// =============================================================================

func TestProducts_CoreAndIntegrationEvolveIndependently(t *testing.T) {
	// GIVEN: A product
	// WHEN: Updating only the price, then only the integration
	// THEN: Each update leaves the other facet's value untouched

	products := academy.NewProducts(newTestEntities())
	ctx := context.Background()

	num, err := products.Create(ctx,
		academy.ProductCore{Name: "Go Course", Price: decimal.NewFromInt(100)},
		goCourseIntegration())
	require.NoError(t, err)

	_, err = products.UpdateCore(ctx, num,
		academy.ProductCore{Name: "Go Course", Price: decimal.NewFromInt(120)})
	require.NoError(t, err)

	product, err := products.Get(ctx, num)
	require.NoError(t, err)
	assert.True(t, product.Core.Price.Equal(decimal.NewFromInt(120)))
	assert.Equal(t, []string{"go-101"}, product.Integration.CourseIDs, "integration untouched by core update")

	integ := goCourseIntegration()
	integ.CourseIDs = []string{"go-101", "go-201"}
	_, err = products.UpdateIntegration(ctx, num, integ)
	require.NoError(t, err)

	product, err = products.Get(ctx, num)
	require.NoError(t, err)
	assert.True(t, product.Core.Price.Equal(decimal.NewFromInt(120)), "core untouched by integration update")
	assert.Equal(t, []string{"go-101", "go-201"}, product.Integration.CourseIDs)
}

// =============================================================================
// SALES EVENTS
// =============================================================================

func TestSalesEvents_CreateGet(t *testing.T) {
	events := academy.NewSalesEvents(newTestEntities())
	ctx := context.Background()

	date := time.Date(2025, time.September, 1, 18, 0, 0, 0, time.UTC)
	num, err := events.Create(ctx, academy.SalesEventCore{Name: "Autumn launch", Date: date})
	require.NoError(t, err)

	event, err := events.Get(ctx, num)
	require.NoError(t, err)
	assert.Equal(t, "Autumn launch", event.Core.Name)
	assert.True(t, event.Core.Date.Equal(date))
}

// =============================================================================
// SALES
// =============================================================================

func newSaleInput() academy.NewSale {
	return academy.NewSale{
		Core: academy.SaleCore{StudentNumber: 1, Reference: "order-42"},
		Items: []academy.LineItem{
			{ProductNumber: 1, Quantity: 2, UnitPrice: decimal.NewFromInt(100)},
			{ProductNumber: 2, Quantity: 1, UnitPrice: decimal.RequireFromString("49.90")},
		},
	}
}

func TestSales_CreateStartsDisconnected(t *testing.T) {
	sales := academy.NewSales(newTestEntities())
	ctx := context.Background()

	num, err := sales.Create(ctx, newSaleInput())
	require.NoError(t, err)

	sale, err := sales.Get(ctx, num)
	require.NoError(t, err)
	assert.False(t, sale.Connection.Connected)
	assert.Equal(t, versioned.OpCreate, sale.Operation)
	assert.Nil(t, sale.Delivery)
}

func TestSales_Total(t *testing.T) {
	sales := academy.NewSales(newTestEntities())
	ctx := context.Background()

	num, err := sales.Create(ctx, newSaleInput())
	require.NoError(t, err)

	sale, err := sales.Get(ctx, num)
	require.NoError(t, err)
	assert.True(t, sale.Total().Equal(decimal.RequireFromString("249.90")), "got %s", sale.Total())
}

func TestSales_DeliveryIsOptionalAndUpdatable(t *testing.T) {
	sales := academy.NewSales(newTestEntities())
	ctx := context.Background()

	num, err := sales.Create(ctx, newSaleInput())
	require.NoError(t, err)

	_, err = sales.UpdateDelivery(ctx, num, academy.Delivery{
		Line1: "1 Main St", City: "Tel Aviv", Country: "IL",
	})
	require.NoError(t, err)

	sale, err := sales.Get(ctx, num)
	require.NoError(t, err)
	require.NotNil(t, sale.Delivery)
	assert.Equal(t, "Tel Aviv", sale.Delivery.City)
}

func TestSales_LifecycleOperationsTagHistory(t *testing.T) {
	// Each lifecycle action appends exactly one operation-tagged row and
	// flips the connection facet the way that operation dictates.

	sales := academy.NewSales(newTestEntities())
	ctx := context.Background()

	num, err := sales.Create(ctx, newSaleInput())
	require.NoError(t, err)

	_, err = sales.Connect(ctx, num, "")
	require.NoError(t, err)
	sale, err := sales.Get(ctx, num)
	require.NoError(t, err)
	assert.True(t, sale.Connection.Connected)

	_, err = sales.CancelSubscription(ctx, num, "user asked to cancel")
	require.NoError(t, err)
	sale, err = sales.Get(ctx, num)
	require.NoError(t, err)
	assert.True(t, sale.Connection.Connected, "cancelling keeps access until finalized")
	assert.Equal(t, versioned.OpCancelSubscription, sale.Operation)

	_, err = sales.RemovedFromSubscription(ctx, num, "")
	require.NoError(t, err)
	sale, err = sales.Get(ctx, num)
	require.NoError(t, err)
	assert.False(t, sale.Connection.Connected)

	entries, err := sales.History(ctx, num)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, versioned.OpRemovedFromSubscription, entries[0].Operation)
	assert.Equal(t, versioned.OpCancelSubscription, entries[1].Operation)
	assert.Equal(t, versioned.OpConnect, entries[2].Operation)
	assert.Equal(t, versioned.OpCreate, entries[3].Operation)
}

func TestSales_RefundDisconnects(t *testing.T) {
	sales := academy.NewSales(newTestEntities())
	ctx := context.Background()

	num, err := sales.Create(ctx, newSaleInput())
	require.NoError(t, err)
	_, err = sales.Connect(ctx, num, "")
	require.NoError(t, err)
	_, err = sales.Refund(ctx, num, "chargeback")
	require.NoError(t, err)

	sale, err := sales.Get(ctx, num)
	require.NoError(t, err)
	assert.False(t, sale.Connection.Connected)
	assert.Equal(t, versioned.OpRefund, sale.Operation)

	entries, err := sales.History(ctx, num)
	require.NoError(t, err)
	assert.Equal(t, "chargeback", entries[0].Reason)
}
