/*
handlers_test.go - HTTP-level tests for the API

Runs the real router against the full stack (SQLite in-memory store, memory
providers) and exercises status codes, payload shapes, and error mapping.
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/giltayar/coursesales/jobs"
	"github.com/giltayar/coursesales/provider"
	"github.com/giltayar/coursesales/provider/memory"
	"github.com/giltayar/coursesales/reconcile"
	"github.com/giltayar/coursesales/store/sqlite"
	"github.com/giltayar/coursesales/versioned"
	"github.com/giltayar/coursesales/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testAPI struct {
	router  http.Handler
	courses *memory.Courses
	lists   *memory.Lists
	groups  *memory.Groups
}

func newTestAPI(t *testing.T) *testAPI {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	a := &testAPI{
		courses: memory.NewCourses(),
		lists:   memory.NewLists(),
		groups:  memory.NewGroups(),
	}

	log := zap.NewNop()
	engine := reconcile.NewEngine(a.courses, a.lists, a.groups, log)
	engine.Delay = 0
	engine.Attempts = 1

	registry := jobs.NewRegistry()
	scheduler := jobs.NewScheduler(store, registry, log)
	scheduler.RunInTx = store.WithTx

	wf, err := workflow.New(workflow.Config{
		Entities: versioned.NewEntities(store),
		Engine:   engine,
		Registry: registry,
		JobStore: store,
		Log:      log,
		RunInTx:  store.WithTx,
	})
	require.NoError(t, err)

	a.router = NewRouter(NewHandler(wf, scheduler, log))
	return a
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

func (a *testAPI) createProduct(t *testing.T) ProductResponse {
	rec := a.do(t, http.MethodPost, "/api/products", map[string]any{
		"name":  "Go Course",
		"price": "100",
		"integration": map[string]any{
			"courseIds": []string{"go-101"},
			"lists": map[string]string{
				"active":     "go-active",
				"cancelling": "go-cancelling",
				"cancelled":  "go-cancelled",
				"removed":    "go-removed",
			},
			"groupIds": []string{"go-students"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp ProductResponse
	decodeInto(t, rec, &resp)
	return resp
}

func (a *testAPI) webhookSale(t *testing.T, productNumber versioned.EntityNumber) WebhookSaleResponse {
	rec := a.do(t, http.MethodPost, "/api/webhooks/sale", map[string]any{
		"student": map[string]string{
			"name":  "Alice",
			"email": "alice@example.com",
			"phone": "+15550001",
		},
		"reference": "order-42",
		"items": []map[string]any{
			{"productNumber": productNumber, "quantity": 1, "unitPrice": "100"},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp WebhookSaleResponse
	decodeInto(t, rec, &resp)
	return resp
}

// =============================================================================
// STUDENTS
// =============================================================================

func TestStudentEndpoints_CreateGetUpdate(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/students", StudentRequest{
		Name: "Alice", Email: "alice@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created StudentResponse
	decodeInto(t, rec, &created)
	assert.Equal(t, versioned.EntityNumber(1), created.Number)
	assert.Equal(t, versioned.OpCreate, created.Operation)

	rec = a.do(t, http.MethodPut, fmt.Sprintf("/api/students/%d", created.Number), StudentRequest{
		Name: "Alice B", Email: "alice@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/api/students/%d", created.Number), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got StudentResponse
	decodeInto(t, rec, &got)
	assert.Equal(t, "Alice B", got.Name)
	assert.Equal(t, versioned.OpUpdate, got.Operation)
}

func TestStudentEndpoints_HistoryAndAtVersion(t *testing.T) {
	// The at/{historyID} view returns the student exactly as it was then.

	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/students", StudentRequest{Name: "Alice", Email: "alice@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created StudentResponse
	decodeInto(t, rec, &created)

	rec = a.do(t, http.MethodPut, "/api/students/1", StudentRequest{Name: "Alice B", Email: "alice@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/students/1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []HistoryEntryResponse
	decodeInto(t, rec, &history)
	require.Len(t, history, 2)

	rec = a.do(t, http.MethodGet, "/api/students/at/"+string(created.HistoryID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var atCreate StudentResponse
	decodeInto(t, rec, &atCreate)
	assert.Equal(t, "Alice", atCreate.Name)
}

func TestStudentEndpoints_DeleteAndRestore(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/students", StudentRequest{Name: "Alice", Email: "alice@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/students/1", ReasonRequest{Reason: "GDPR request"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/students/1/restore", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var restored StudentResponse
	decodeInto(t, rec, &restored)
	assert.Equal(t, versioned.OpRestore, restored.Operation)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorMapping_UnknownEntityIs404(t *testing.T) {
	a := newTestAPI(t)

	for _, path := range []string{
		"/api/students/999",
		"/api/products/999",
		"/api/sales/999",
		"/api/students/at/no-such-history",
	} {
		rec := a.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestErrorMapping_AtVersionWrongEntityTypeIs404(t *testing.T) {
	// A student's history id names a student version, not a product version -
	// reading it through the product audit view is a 404, not a server error.

	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/students", StudentRequest{Name: "Alice", Email: "alice@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var student StudentResponse
	decodeInto(t, rec, &student)

	for _, path := range []string{
		"/api/products/at/" + string(student.HistoryID),
		"/api/sales-events/at/" + string(student.HistoryID),
		"/api/sales/at/" + string(student.HistoryID),
	} {
		rec := a.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestErrorMapping_MalformedBodyIs400(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/students", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping_InvalidEntityNumberIs400(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/students/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping_ReconciliationFailureIs502(t *testing.T) {
	// A synchronous connect against a dead provider surfaces as Bad Gateway.

	a := newTestAPI(t)
	product := a.createProduct(t)
	sale := a.webhookSale(t, product.Number)

	a.courses.EnrollHook = func(provider.Contact, string) error {
		return errors.New("courses down")
	}

	rec := a.do(t, http.MethodPost, fmt.Sprintf("/api/sales/%d/connect", sale.SaleNumber), nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var errResp ErrorResponse
	decodeInto(t, rec, &errResp)
	assert.Contains(t, errResp.Error, "reconcile")
}

// =============================================================================
// SALE FLOW OVER HTTP
// =============================================================================

func TestSaleFlow_WebhookDrainConnectRefund(t *testing.T) {
	// GIVEN: A product and an incoming sale webhook
	// WHEN: The queue is drained via the admin endpoint
	// THEN: The sale reads back connected with the right total; a refund then
	//       disconnects it

	a := newTestAPI(t)
	product := a.createProduct(t)
	sale := a.webhookSale(t, product.Number)

	rec := a.do(t, http.MethodPost, "/api/jobs/drain", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/api/sales/%d", sale.SaleNumber), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got SaleResponse
	decodeInto(t, rec, &got)
	assert.True(t, got.Connected)
	assert.Equal(t, "order-42", got.Reference)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(100)), "got %s", got.Total)
	assert.Equal(t, []string{"alice@example.com"}, a.courses.Enrolled("go-101"))

	rec = a.do(t, http.MethodPost, fmt.Sprintf("/api/sales/%d/refund", sale.SaleNumber), ReasonRequest{Reason: "chargeback"})
	require.Equal(t, http.StatusOK, rec.Code)

	decodeInto(t, rec, &got)
	assert.False(t, got.Connected)
	assert.Equal(t, versioned.OpRefund, got.Operation)
	assert.Empty(t, a.courses.Enrolled("go-101"))
}

func TestWebhook_MissingEmailRejected(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/webhooks/sale", map[string]any{
		"student": map[string]string{"name": "Nameless"},
		"items":   []map[string]any{{"productNumber": 1, "quantity": 1, "unitPrice": "10"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductEndpoints_IntegrationUpdateKeepsCore(t *testing.T) {
	a := newTestAPI(t)
	product := a.createProduct(t)

	rec := a.do(t, http.MethodPut, fmt.Sprintf("/api/products/%d/integration", product.Number), IntegrationDTO{
		CourseIDs: []string{"go-101", "go-201"},
		Lists:     product.Integration.Lists,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var got ProductResponse
	decodeInto(t, rec, &got)
	assert.Equal(t, []string{"go-101", "go-201"}, got.Integration.CourseIDs)
	assert.Equal(t, "Go Course", got.Name, "core untouched by integration update")
	assert.True(t, got.Price.Equal(decimal.NewFromInt(100)))
}
