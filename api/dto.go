/*
dto.go - Request/response shapes for the HTTP API

The route layer only decodes validated payloads and formats responses; all
behavior lives in the workflow and academy packages.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/giltayar/coursesales/academy"
	"github.com/giltayar/coursesales/versioned"
)

// =============================================================================
// STUDENTS
// =============================================================================

type StudentRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type StudentResponse struct {
	Number    versioned.EntityNumber `json:"number"`
	Name      string                 `json:"name"`
	Email     string                 `json:"email"`
	Phone     string                 `json:"phone,omitempty"`
	HistoryID versioned.HistoryID    `json:"historyId"`
	Operation versioned.Operation    `json:"operation"`
}

func toStudentResponse(s academy.Student) StudentResponse {
	return StudentResponse{
		Number:    s.Number,
		Name:      s.Core.Name,
		Email:     s.Core.Email,
		Phone:     s.Core.Phone,
		HistoryID: s.HistoryID,
		Operation: s.Operation,
	}
}

// =============================================================================
// PRODUCTS
// =============================================================================

type ListIDsDTO struct {
	Active     string `json:"active"`
	Cancelling string `json:"cancelling"`
	Cancelled  string `json:"cancelled"`
	Removed    string `json:"removed"`
}

type IntegrationDTO struct {
	CourseIDs []string   `json:"courseIds,omitempty"`
	Lists     ListIDsDTO `json:"lists"`
	GroupIDs  []string   `json:"groupIds,omitempty"`
}

type ProductRequest struct {
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Integration IntegrationDTO  `json:"integration"`
}

type ProductResponse struct {
	Number      versioned.EntityNumber `json:"number"`
	Name        string                 `json:"name"`
	Price       decimal.Decimal        `json:"price"`
	Integration IntegrationDTO         `json:"integration"`
	HistoryID   versioned.HistoryID    `json:"historyId"`
	Operation   versioned.Operation    `json:"operation"`
}

func toIntegration(dto IntegrationDTO) academy.ProductIntegration {
	return academy.ProductIntegration{
		CourseIDs: dto.CourseIDs,
		Lists: academy.ListIDs{
			Active:     dto.Lists.Active,
			Cancelling: dto.Lists.Cancelling,
			Cancelled:  dto.Lists.Cancelled,
			Removed:    dto.Lists.Removed,
		},
		GroupIDs: dto.GroupIDs,
	}
}

func toProductResponse(p academy.Product) ProductResponse {
	return ProductResponse{
		Number: p.Number,
		Name:   p.Core.Name,
		Price:  p.Core.Price,
		Integration: IntegrationDTO{
			CourseIDs: p.Integration.CourseIDs,
			Lists: ListIDsDTO{
				Active:     p.Integration.Lists.Active,
				Cancelling: p.Integration.Lists.Cancelling,
				Cancelled:  p.Integration.Lists.Cancelled,
				Removed:    p.Integration.Lists.Removed,
			},
			GroupIDs: p.Integration.GroupIDs,
		},
		HistoryID: p.HistoryID,
		Operation: p.Operation,
	}
}

// =============================================================================
// SALES EVENTS
// =============================================================================

type SalesEventRequest struct {
	Name  string    `json:"name"`
	Date  time.Time `json:"date"`
	Notes string    `json:"notes,omitempty"`
}

type SalesEventResponse struct {
	Number    versioned.EntityNumber `json:"number"`
	Name      string                 `json:"name"`
	Date      time.Time              `json:"date"`
	Notes     string                 `json:"notes,omitempty"`
	HistoryID versioned.HistoryID    `json:"historyId"`
	Operation versioned.Operation    `json:"operation"`
}

func toSalesEventResponse(e academy.SalesEvent) SalesEventResponse {
	return SalesEventResponse{
		Number:    e.Number,
		Name:      e.Core.Name,
		Date:      e.Core.Date,
		Notes:     e.Core.Notes,
		HistoryID: e.HistoryID,
		Operation: e.Operation,
	}
}

// =============================================================================
// SALES
// =============================================================================

type LineItemDTO struct {
	ProductNumber versioned.EntityNumber `json:"productNumber"`
	Quantity      int                    `json:"quantity"`
	UnitPrice     decimal.Decimal        `json:"unitPrice"`
}

type DeliveryDTO struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

type SaleResponse struct {
	Number           versioned.EntityNumber `json:"number"`
	StudentNumber    versioned.EntityNumber `json:"studentNumber"`
	SalesEventNumber versioned.EntityNumber `json:"salesEventNumber,omitempty"`
	Reference        string                 `json:"reference,omitempty"`
	Items            []LineItemDTO          `json:"items"`
	Delivery         *DeliveryDTO           `json:"delivery,omitempty"`
	Connected        bool                   `json:"connected"`
	Total            decimal.Decimal        `json:"total"`
	HistoryID        versioned.HistoryID    `json:"historyId"`
	Operation        versioned.Operation    `json:"operation"`
}

func toSaleResponse(s academy.Sale) SaleResponse {
	resp := SaleResponse{
		Number:           s.Number,
		StudentNumber:    s.Core.StudentNumber,
		SalesEventNumber: s.Core.SalesEventNumber,
		Reference:        s.Core.Reference,
		Connected:        s.Connection.Connected,
		Total:            s.Total(),
		HistoryID:        s.HistoryID,
		Operation:        s.Operation,
	}
	for _, item := range s.Items {
		resp.Items = append(resp.Items, LineItemDTO{
			ProductNumber: item.ProductNumber,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
		})
	}
	if s.Delivery != nil {
		resp.Delivery = &DeliveryDTO{
			Line1:      s.Delivery.Line1,
			Line2:      s.Delivery.Line2,
			City:       s.Delivery.City,
			PostalCode: s.Delivery.PostalCode,
			Country:    s.Delivery.Country,
		}
	}
	return resp
}

func toLineItems(dtos []LineItemDTO) []academy.LineItem {
	items := make([]academy.LineItem, 0, len(dtos))
	for _, dto := range dtos {
		items = append(items, academy.LineItem{
			ProductNumber: dto.ProductNumber,
			Quantity:      dto.Quantity,
			UnitPrice:     dto.UnitPrice,
		})
	}
	return items
}

func toDelivery(dto *DeliveryDTO) *academy.Delivery {
	if dto == nil {
		return nil
	}
	return &academy.Delivery{
		Line1:      dto.Line1,
		Line2:      dto.Line2,
		City:       dto.City,
		PostalCode: dto.PostalCode,
		Country:    dto.Country,
	}
}

// =============================================================================
// WEBHOOK
// =============================================================================

type WebhookSaleRequest struct {
	Student          StudentRequest         `json:"student"`
	SalesEventNumber versioned.EntityNumber `json:"salesEventNumber,omitempty"`
	Reference        string                 `json:"reference,omitempty"`
	Items            []LineItemDTO          `json:"items"`
	Delivery         *DeliveryDTO           `json:"delivery,omitempty"`
}

type WebhookSaleResponse struct {
	SaleNumber     versioned.EntityNumber `json:"saleNumber"`
	StudentNumber  versioned.EntityNumber `json:"studentNumber"`
	StudentCreated bool                   `json:"studentCreated"`
}

// =============================================================================
// HISTORY / MISC
// =============================================================================

type HistoryEntryResponse struct {
	HistoryID versioned.HistoryID `json:"historyId"`
	Operation versioned.Operation `json:"operation"`
	Reason    string              `json:"reason,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

func toHistoryResponse(entries []versioned.HistoryEntry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntryResponse{
			HistoryID: e.ID,
			Operation: e.Operation,
			Reason:    e.Reason,
			Timestamp: e.Timestamp,
		})
	}
	return out
}

type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
