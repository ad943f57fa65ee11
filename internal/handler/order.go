package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mmeshcher/sportshop-system/internal/middleware"
	"github.com/mmeshcher/sportshop-system/internal/model"
	"github.com/mmeshcher/sportshop-system/internal/service"
)

type orderLineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int32 `json:"quantity"`
}

type createOrderRequest struct {
	CustomerID int64              `json:"customer_id"`
	Lines      []orderLineRequest `json:"lines"`
	Notes      string             `json:"notes,omitempty"`
}

type orderLineResponse struct {
	ProductID int64   `json:"product_id"`
	Product   string  `json:"product"`
	Quantity  int32   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Subtotal  float64 `json:"subtotal"`
}

type orderResponse struct {
	ID         int64               `json:"id"`
	Number     string              `json:"number"`
	CustomerID int64               `json:"customer_id"`
	UserID     int64               `json:"user_id"`
	Status     string              `json:"status"`
	Total      float64             `json:"total"`
	Notes      string              `json:"notes,omitempty"`
	CreatedAt  string              `json:"created_at"`
	Lines      []orderLineResponse `json:"lines,omitempty"`
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:         o.ID,
		Number:     o.Number,
		CustomerID: o.CustomerID,
		UserID:     o.UserID,
		Status:     string(o.Status),
		Total:      o.Total(),
		Notes:      o.Notes,
		CreatedAt:  o.CreatedAt.Format(time.RFC3339),
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, orderLineResponse{
			ProductID: l.ProductID,
			Product:   l.ProductName,
			Quantity:  l.Quantity,
			UnitPrice: float64(l.UnitPriceCents) / 100,
			Subtotal:  l.Subtotal(),
		})
	}
	return resp
}

// CreateOrder оформляет заказ от имени текущего сотрудника.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	lines := make([]service.LineItem, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, service.LineItem{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	order, err := h.service.CreateOrder(r.Context(), req.CustomerID, userID, lines, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// GetOrder возвращает заказ с позициями.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.GetOrder(r.Context(), id, true)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// ListOrders возвращает заказы, опционально отфильтрованные по статусу.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	status := model.OrderStatus(r.URL.Query().Get("status"))

	orders, err := h.service.ListOrders(r.Context(), status)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus переводит заказ в новый статус.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.UpdateOrderStatus(r.Context(), id, model.OrderStatus(req.Status))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// CancelOrder отменяет заказ и возвращает остатки товаров.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.CancelOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type statsResponse struct {
	TotalOrders     int64            `json:"total_orders"`
	Revenue         float64          `json:"revenue"`
	OrdersByStatus  map[string]int64 `json:"orders_by_status"`
	TopProductID    int64            `json:"top_product_id,omitempty"`
	TopProductName  string           `json:"top_product_name,omitempty"`
	TopProductUnits int64            `json:"top_product_units,omitempty"`
}

// GetOrderStats возвращает агрегированную статистику по заказам.
func (h *Handler) GetOrderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetOrderStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, statsResponse{
		TotalOrders:     stats.TotalOrders,
		Revenue:         float64(stats.RevenueCents) / 100,
		OrdersByStatus:  stats.OrdersByStatus,
		TopProductID:    stats.TopProductID,
		TopProductName:  stats.TopProductName,
		TopProductUnits: stats.TopProductUnits,
	})
}
