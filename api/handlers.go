/*
handlers.go - HTTP handler implementations

PURPOSE:
  Decodes validated payloads, delegates to the workflow/academy layer, and
  maps errors to status codes. No business behavior lives here.

ERROR MAPPING:
  versioned.ErrNotFound            -> 404
  reconcile.ErrReconciliationFailed -> 502 (external systems misbehaving)
  malformed request body            -> 400
  anything else                     -> 500
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/giltayar/coursesales/academy"
	"github.com/giltayar/coursesales/jobs"
	"github.com/giltayar/coursesales/reconcile"
	"github.com/giltayar/coursesales/versioned"
	"github.com/giltayar/coursesales/workflow"
)

// Handler holds the API's dependencies.
type Handler struct {
	Workflow  *workflow.Workflow
	Scheduler *jobs.Scheduler
	Log       *zap.Logger
}

func NewHandler(w *workflow.Workflow, scheduler *jobs.Scheduler, log *zap.Logger) *Handler {
	return &Handler{Workflow: w, Scheduler: scheduler, Log: log}
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, versioned.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, reconcile.ErrReconciliationFailed):
		status = http.StatusBadGateway
	case errors.Is(err, versioned.ErrNoFacets):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.Log.Error("request failed", zap.Error(err))
	}
	h.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func entityNumber(w http.ResponseWriter, r *http.Request) (versioned.EntityNumber, bool) {
	n, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 64)
	if err != nil || n <= 0 {
		http.Error(w, `{"error":"invalid entity number"}`, http.StatusBadRequest)
		return 0, false
	}
	return versioned.EntityNumber(n), true
}

// =============================================================================
// WEBHOOK
// =============================================================================

func (h *Handler) SaleWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookSaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Student.Email == "" || len(req.Items) == 0 {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "student email and at least one item required"})
		return
	}

	receipt, err := h.Workflow.HandleSaleWebhook(r.Context(), workflow.WebhookSale{
		StudentName:      req.Student.Name,
		StudentEmail:     req.Student.Email,
		StudentPhone:     req.Student.Phone,
		SalesEventNumber: req.SalesEventNumber,
		Reference:        req.Reference,
		Items:            toLineItems(req.Items),
		Delivery:         toDelivery(req.Delivery),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, WebhookSaleResponse{
		SaleNumber:     receipt.SaleNumber,
		StudentNumber:  receipt.StudentNumber,
		StudentCreated: receipt.StudentCreated,
	})
}

// =============================================================================
// STUDENTS
// =============================================================================

func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req StudentRequest
	if !h.decode(w, r, &req) {
		return
	}
	num, err := h.Workflow.Students.Create(r.Context(), academy.StudentCore(req))
	if err != nil {
		h.writeError(w, err)
		return
	}
	student, err := h.Workflow.Students.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toStudentResponse(student))
}

func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	student, err := h.Workflow.Students.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toStudentResponse(student))
}

func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req StudentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Workflow.Students.Update(r.Context(), num, academy.StudentCore(req)); err != nil {
		h.writeError(w, err)
		return
	}
	student, err := h.Workflow.Students.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toStudentResponse(student))
}

func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Workflow.Students.Delete(r.Context(), num, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RestoreStudent(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Workflow.Students.Restore(r.Context(), num, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	student, err := h.Workflow.Students.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toStudentResponse(student))
}

func (h *Handler) StudentHistory(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	entries, err := h.Workflow.Students.History(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toHistoryResponse(entries))
}

// StudentAtVersion is the audit view: the student as of any history row.
func (h *Handler) StudentAtVersion(w http.ResponseWriter, r *http.Request) {
	id := versioned.HistoryID(chi.URLParam(r, "historyID"))
	student, err := h.Workflow.Students.At(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toStudentResponse(student))
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	num, err := h.Workflow.Products.Create(r.Context(),
		academy.ProductCore{Name: req.Name, Price: req.Price},
		toIntegration(req.Integration))
	if err != nil {
		h.writeError(w, err)
		return
	}
	product, err := h.Workflow.Products.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toProductResponse(product))
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	product, err := h.Workflow.Products.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Workflow.Products.UpdateCore(r.Context(), num,
		academy.ProductCore{Name: req.Name, Price: req.Price}); err != nil {
		h.writeError(w, err)
		return
	}
	product, err := h.Workflow.Products.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) UpdateProductIntegration(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req IntegrationDTO
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Workflow.Products.UpdateIntegration(r.Context(), num, toIntegration(req)); err != nil {
		h.writeError(w, err)
		return
	}
	product, err := h.Workflow.Products.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Workflow.Products.Delete(r.Context(), num, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RestoreProduct(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Workflow.Products.Restore(r.Context(), num, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	product, err := h.Workflow.Products.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) ProductHistory(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	entries, err := h.Workflow.Products.History(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toHistoryResponse(entries))
}

func (h *Handler) ProductAtVersion(w http.ResponseWriter, r *http.Request) {
	id := versioned.HistoryID(chi.URLParam(r, "historyID"))
	product, err := h.Workflow.Products.At(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toProductResponse(product))
}

// =============================================================================
// SALES EVENTS
// =============================================================================

func (h *Handler) CreateSalesEvent(w http.ResponseWriter, r *http.Request) {
	var req SalesEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	num, err := h.Workflow.Events.Create(r.Context(), academy.SalesEventCore(req))
	if err != nil {
		h.writeError(w, err)
		return
	}
	event, err := h.Workflow.Events.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toSalesEventResponse(event))
}

func (h *Handler) GetSalesEvent(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	event, err := h.Workflow.Events.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSalesEventResponse(event))
}

func (h *Handler) UpdateSalesEvent(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req SalesEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Workflow.Events.Update(r.Context(), num, academy.SalesEventCore(req)); err != nil {
		h.writeError(w, err)
		return
	}
	event, err := h.Workflow.Events.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSalesEventResponse(event))
}

func (h *Handler) DeleteSalesEvent(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Workflow.Events.Delete(r.Context(), num, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RestoreSalesEvent(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Workflow.Events.Restore(r.Context(), num, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	event, err := h.Workflow.Events.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSalesEventResponse(event))
}

func (h *Handler) SalesEventHistory(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	entries, err := h.Workflow.Events.History(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toHistoryResponse(entries))
}

func (h *Handler) SalesEventAtVersion(w http.ResponseWriter, r *http.Request) {
	id := versioned.HistoryID(chi.URLParam(r, "historyID"))
	event, err := h.Workflow.Events.At(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSalesEventResponse(event))
}

// =============================================================================
// SALES
// =============================================================================

func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	sale, err := h.Workflow.Sales.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) SaleHistory(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	entries, err := h.Workflow.Sales.History(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toHistoryResponse(entries))
}

func (h *Handler) SaleAtVersion(w http.ResponseWriter, r *http.Request) {
	id := versioned.HistoryID(chi.URLParam(r, "historyID"))
	sale, err := h.Workflow.Sales.At(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) UpdateSaleItems(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req []LineItemDTO
	if !h.decode(w, r, &req) {
		return
	}
	if len(req) == 0 {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "a sale needs at least one line item"})
		return
	}
	if _, err := h.Workflow.Sales.UpdateItems(r.Context(), num, toLineItems(req)); err != nil {
		h.writeError(w, err)
		return
	}
	sale, err := h.Workflow.Sales.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) UpdateSaleDelivery(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req DeliveryDTO
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Workflow.Sales.UpdateDelivery(r.Context(), num, *toDelivery(&req)); err != nil {
		h.writeError(w, err)
		return
	}
	sale, err := h.Workflow.Sales.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Workflow.Sales.Delete(r.Context(), num, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RestoreSale(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Workflow.Sales.Restore(r.Context(), num, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	sale, err := h.Workflow.Sales.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSaleResponse(sale))
}

// ConnectSale is the manual "connect" button: synchronous reconciliation,
// failures surface inline.
func (h *Handler) ConnectSale(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	if err := h.Workflow.ConnectSale(r.Context(), num); err != nil {
		h.writeError(w, err)
		return
	}
	sale, err := h.Workflow.Sales.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) DisconnectSale(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	if err := h.Workflow.DisconnectSale(r.Context(), num, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	sale, err := h.Workflow.Sales.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) RefundSale(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	if err := h.Workflow.RefundSale(r.Context(), num, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	sale, err := h.Workflow.Sales.Get(r.Context(), num)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	num, ok := entityNumber(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	if err := h.Workflow.CancelSubscription(r.Context(), num, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// =============================================================================
// OPERATOR
// =============================================================================

// DrainJobs triggers an immediate queue drain (admin/debug).
func (h *Handler) DrainJobs(w http.ResponseWriter, r *http.Request) {
	h.Scheduler.Trigger(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
