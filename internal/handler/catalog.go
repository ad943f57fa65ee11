package handler

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/mmeshcher/sportshop-system/internal/validation"
)

type productRequest struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int32   `json:"stock"`
}

// priceToCents переводит цену из запроса в центы. Знак проверяется до
// округления, чтобы малые отрицательные значения не превращались в ноль.
func priceToCents(price float64) (int64, error) {
	if price < 0 {
		return 0, validation.Errorf("product price must not be negative, got %v", price)
	}
	return int64(math.Round(price * 100)), nil
}

type productResponse struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Stock     int32   `json:"stock"`
	Active    bool    `json:"active"`
	CreatedAt string  `json:"created_at"`
}

// CreateProduct добавляет товар в каталог.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	priceCents, err := priceToCents(req.Price)
	if err != nil {
		h.writeError(w, err)
		return
	}

	id, err := h.service.CreateProduct(r.Context(), req.Name, priceCents, req.Stock)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// GetProduct возвращает товар по идентификатору.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, productResponse{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price(),
		Stock:     p.Stock,
		Active:    p.Active,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	})
}

// ListProducts возвращает товары каталога. Параметр all=true включает снятые с продажи.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"

	products, err := h.service.ListProducts(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, productResponse{
			ID:        p.ID,
			Name:      p.Name,
			Price:     p.Price(),
			Stock:     p.Stock,
			Active:    p.Active,
			CreatedAt: p.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// UpdateProduct изменяет атрибуты товара.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	priceCents, err := priceToCents(req.Price)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.service.UpdateProduct(r.Context(), id, req.Name, priceCents, req.Stock); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteProduct снимает товар с продажи.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeactivateProduct(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type stockRequest struct {
	Delta int32 `json:"delta"`
}

// AdjustStock изменяет остаток товара на указанную дельту.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.AdjustProductStock(r.Context(), id, req.Delta)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, productResponse{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price(),
		Stock:     p.Stock,
		Active:    p.Active,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	})
}

type customerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type customerResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

// CreateCustomer регистрирует нового покупателя.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateCustomer(r.Context(), req.Name, req.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// GetCustomer возвращает покупателя по идентификатору.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.GetCustomer(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, customerResponse{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Active:    c.Active,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	})
}

// ListCustomers возвращает всех покупателей.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.ListCustomers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]customerResponse, 0, len(customers))
	for _, c := range customers {
		resp = append(resp, customerResponse{
			ID:        c.ID,
			Name:      c.Name,
			Email:     c.Email,
			Active:    c.Active,
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type customerActiveRequest struct {
	Active bool `json:"active"`
}

// SetCustomerActive включает или отключает покупателя.
func (h *Handler) SetCustomerActive(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req customerActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetCustomerActive(r.Context(), id, req.Active); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
