// Package handler содержит HTTP-обработчики API магазина спортивных товаров.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/sportshop-system/internal/crypt"
	"github.com/mmeshcher/sportshop-system/internal/middleware"
	"github.com/mmeshcher/sportshop-system/internal/model"
	"github.com/mmeshcher/sportshop-system/internal/repository"
	"github.com/mmeshcher/sportshop-system/internal/service"
	"github.com/mmeshcher/sportshop-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string, role model.UserRole) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	CreateCustomer(ctx context.Context, name, email string) (int64, error)
	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	ListCustomers(ctx context.Context) ([]model.Customer, error)
	SetCustomerActive(ctx context.Context, id int64, active bool) error
	CreateProduct(ctx context.Context, name string, priceCents int64, stock int32) (int64, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error)
	UpdateProduct(ctx context.Context, id int64, name string, priceCents int64, stock int32) error
	DeactivateProduct(ctx context.Context, id int64) error
	AdjustProductStock(ctx context.Context, id int64, delta int32) (*model.Product, error)
	CreateOrder(ctx context.Context, customerID, userID int64, lines []service.LineItem, notes string) (*model.Order, error)
	GetOrder(ctx context.Context, id int64, includeLines bool) (*model.Order, error)
	ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, to model.OrderStatus) (*model.Order, error)
	CancelOrder(ctx context.Context, id int64) (*model.Order, error)
	GetOrderStats(ctx context.Context) (*model.OrderStats, error)
	EncryptOrderPayload(ctx context.Context, orderID int64, publicKeyPEM string) (*crypt.Envelope, error)
	DecryptPayload(env *crypt.Envelope, privateKeyPEM string) (json.RawMessage, error)
	EncryptStats(ctx context.Context, publicKeyPEM string) (*crypt.Envelope, error)
}

// Handler реализует HTTP-обработчики API магазина.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Product   string `json:"product,omitempty"`
	Available int32  `json:"available,omitempty"`
	Requested int32  `json:"requested,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

// writeError переводит доменные ошибки в HTTP-статусы и JSON-ответ.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var stockErr *repository.InsufficientStockError
	if errors.As(err, &stockErr) {
		h.writeJSON(w, http.StatusConflict, errorResponse{
			Error:     "insufficient stock",
			Product:   stockErr.ProductName,
			Available: stockErr.Available,
			Requested: stockErr.Requested,
		})
		return
	}

	var transitionErr *repository.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		h.writeJSON(w, http.StatusConflict, errorResponse{
			Error: "invalid status transition",
			From:  string(transitionErr.From),
			To:    string(transitionErr.To),
		})
		return
	}

	var validationErr validation.Error
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationErr.Error()})
		return
	}

	switch {
	case errors.Is(err, repository.ErrCustomerNotFound),
		errors.Is(err, repository.ErrProductNotFound),
		errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrUserNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, repository.ErrCustomerInactive),
		errors.Is(err, repository.ErrProductInactive),
		errors.Is(err, repository.ErrOrderAlreadyCancelled),
		errors.Is(err, repository.ErrOrderDelivered):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, repository.ErrUserExists),
		errors.Is(err, repository.ErrCustomerExists):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.Is(err, crypt.ErrDecryption), errors.Is(err, crypt.ErrInvalidKey):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("internal error", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: http.StatusText(http.StatusInternalServerError),
		})
	}
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenResponse struct {
	ID    int64  `json:"id"`
	Token string `json:"token"`
}

// Register обрабатывает самостоятельную регистрацию сотрудника.
// Роль в запросе не принимается: открытая регистрация выдаёт только
// vendedor, администраторов заводит действующий администратор.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, model.RoleVendedor)
	if err != nil {
		h.writeError(w, err)
		return
	}

	token, err := h.authMiddleware.IssueToken(userID, model.RoleVendedor)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, tokenResponse{ID: userID, Token: token})
}

type createUserRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// CreateUser заводит сотрудника с указанной ролью. Доступно только администратору.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	role := model.UserRole(req.Role)
	if req.Role == "" {
		role = model.RoleVendedor
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, role)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]int64{"id": userID})
}

type userResponse struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// ListUsers возвращает всех сотрудников. Доступно только администратору.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userResponse{
			ID:        u.ID,
			Login:     u.Login,
			Role:      string(u.Role),
			CreatedAt: u.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Login выполняет аутентификацию сотрудника и выдачу JWT-токена.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	token, err := h.authMiddleware.IssueToken(user.ID, user.Role)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, tokenResponse{ID: user.ID, Token: token})
}
