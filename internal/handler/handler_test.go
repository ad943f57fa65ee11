package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/sportshop-system/internal/crypt"
	"github.com/mmeshcher/sportshop-system/internal/middleware"
	"github.com/mmeshcher/sportshop-system/internal/model"
	"github.com/mmeshcher/sportshop-system/internal/repository"
	"github.com/mmeshcher/sportshop-system/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUser *model.User
	authErr  error

	createOrderResp *model.Order
	createOrderErr  error

	ordersResp []model.Order
	ordersErr  error

	orderResp *model.Order
	orderErr  error

	updateStatusResp *model.Order
	updateStatusErr  error

	cancelResp *model.Order
	cancelErr  error

	statsResp *model.OrderStats
	statsErr  error

	usersResp []model.User
	usersErr  error
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string, role model.UserRole) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.usersResp, s.usersErr
}

func (s *stubService) CreateCustomer(ctx context.Context, name, email string) (int64, error) {
	return 1, nil
}

func (s *stubService) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	return nil, repository.ErrCustomerNotFound
}

func (s *stubService) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	return nil, nil
}

func (s *stubService) SetCustomerActive(ctx context.Context, id int64, active bool) error {
	return nil
}

func (s *stubService) CreateProduct(ctx context.Context, name string, priceCents int64, stock int32) (int64, error) {
	return 1, nil
}

func (s *stubService) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return nil, repository.ErrProductNotFound
}

func (s *stubService) ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error) {
	return nil, nil
}

func (s *stubService) UpdateProduct(ctx context.Context, id int64, name string, priceCents int64, stock int32) error {
	return nil
}

func (s *stubService) DeactivateProduct(ctx context.Context, id int64) error {
	return nil
}

func (s *stubService) AdjustProductStock(ctx context.Context, id int64, delta int32) (*model.Product, error) {
	return nil, repository.ErrProductNotFound
}

func (s *stubService) CreateOrder(ctx context.Context, customerID, userID int64, lines []service.LineItem, notes string) (*model.Order, error) {
	return s.createOrderResp, s.createOrderErr
}

func (s *stubService) GetOrder(ctx context.Context, id int64, includeLines bool) (*model.Order, error) {
	return s.orderResp, s.orderErr
}

func (s *stubService) ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	return s.ordersResp, s.ordersErr
}

func (s *stubService) UpdateOrderStatus(ctx context.Context, id int64, to model.OrderStatus) (*model.Order, error) {
	return s.updateStatusResp, s.updateStatusErr
}

func (s *stubService) CancelOrder(ctx context.Context, id int64) (*model.Order, error) {
	return s.cancelResp, s.cancelErr
}

func (s *stubService) GetOrderStats(ctx context.Context) (*model.OrderStats, error) {
	return s.statsResp, s.statsErr
}

func (s *stubService) EncryptOrderPayload(ctx context.Context, orderID int64, publicKeyPEM string) (*crypt.Envelope, error) {
	return nil, repository.ErrOrderNotFound
}

func (s *stubService) DecryptPayload(env *crypt.Envelope, privateKeyPEM string) (json.RawMessage, error) {
	return nil, crypt.ErrDecryption
}

func (s *stubService) EncryptStats(ctx context.Context, publicKeyPEM string) (*crypt.Envelope, error) {
	return nil, nil
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func authedRequest(t *testing.T, h *Handler, method, target string, body []byte, role model.UserRole) *http.Request {
	t.Helper()

	token, err := h.authMiddleware.IssueToken(1, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "vendedor1",
		Password: "secret123",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 42 || resp.Token == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRegister_RequestedRoleDoesNotGrantAdmin(t *testing.T) {
	svc := &stubService{
		registerUserID: 7,
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	// Поле role в открытой регистрации не имеет силы.
	body := []byte(`{"login":"intruder","password":"secret123","role":"admin"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	productBody, _ := json.Marshal(productRequest{Name: "Balon", Price: 89.99, Stock: 50})
	adminReq := httptest.NewRequest(http.MethodPost, "/api/products/", bytes.NewReader(productBody))
	adminReq.Header.Set("Authorization", "Bearer "+resp.Token)
	adminRec := httptest.NewRecorder()

	router.ServeHTTP(adminRec, adminReq)

	if adminRec.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("self-registered token passed admin gate: status = %d, want %d",
			adminRec.Result().StatusCode, http.StatusForbidden)
	}
}

func TestRouter_UsersAdminOnly(t *testing.T) {
	svc := &stubService{
		usersResp: []model.User{
			{ID: 1, Login: "admin1", Role: model.RoleAdmin},
			{ID: 2, Login: "vendedor1", Role: model.RoleVendedor},
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := authedRequest(t, h, http.MethodGet, "/api/users/", nil, model.RoleVendedor)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("vendedor status = %d, want %d", rec.Result().StatusCode, http.StatusForbidden)
	}

	req = authedRequest(t, h, http.MethodGet, "/api/users/", nil, model.RoleAdmin)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp []userResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("users = %d, want 2", len(resp))
	}
}

func TestRouter_AdminCreatesUserWithRole(t *testing.T) {
	svc := &stubService{
		registerUserID: 3,
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(createUserRequest{Login: "admin2", Password: "secret123", Role: "admin"})
	req := authedRequest(t, h, http.MethodPost, "/api/users/", body, model.RoleAdmin)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusCreated)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{
		authErr: service.ErrInvalidCredentials,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "wrong",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestCreateOrder_InsufficientStockResponse(t *testing.T) {
	svc := &stubService{
		createOrderErr: &repository.InsufficientStockError{
			ProductID:   1,
			ProductName: "Balon de futbol",
			Available:   50,
			Requested:   100,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createOrderRequest{
		CustomerID: 1,
		Lines:      []orderLineRequest{{ProductID: 1, Quantity: 100}},
	})

	req := authedRequest(t, h, http.MethodPost, "/api/orders", body, model.RoleVendedor)
	rec := httptest.NewRecorder()

	handler := h.authMiddleware.Middleware(http.HandlerFunc(h.CreateOrder))
	handler.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}

	var resp errorResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Product != "Balon de futbol" || resp.Available != 50 || resp.Requested != 100 {
		t.Fatalf("unexpected error body: %+v", resp)
	}
}

func TestCreateOrder_Success(t *testing.T) {
	svc := &stubService{
		createOrderResp: &model.Order{
			ID:         1,
			Number:     "b2f7d4b8",
			CustomerID: 1,
			UserID:     1,
			Status:     model.OrderStatusPending,
			TotalCents: 29998,
			Lines: []model.OrderLine{
				{ProductID: 1, ProductName: "Balon de futbol", Quantity: 2, UnitPriceCents: 8999, SubtotalCents: 17998},
				{ProductID: 2, ProductName: "Raqueta de tenis", Quantity: 1, UnitPriceCents: 12000, SubtotalCents: 12000},
			},
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createOrderRequest{
		CustomerID: 1,
		Lines: []orderLineRequest{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 1},
		},
	})

	req := authedRequest(t, h, http.MethodPost, "/api/orders", body, model.RoleVendedor)
	rec := httptest.NewRecorder()

	handler := h.authMiddleware.Middleware(http.HandlerFunc(h.CreateOrder))
	handler.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp orderResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 299.98 {
		t.Fatalf("total = %v, want 299.98", resp.Total)
	}
	if len(resp.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(resp.Lines))
	}
}

func TestCreateOrder_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()

	handler := h.authMiddleware.Middleware(http.HandlerFunc(h.CreateOrder))
	handler.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestListOrders_NoContent(t *testing.T) {
	svc := &stubService{
		ordersResp: []model.Order{},
	}
	h := newTestHandler(t, svc)

	req := authedRequest(t, h, http.MethodGet, "/api/orders", nil, model.RoleVendedor)
	rec := httptest.NewRecorder()

	handler := h.authMiddleware.Middleware(http.HandlerFunc(h.ListOrders))
	handler.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestUpdateOrderStatus_InvalidTransitionResponse(t *testing.T) {
	svc := &stubService{
		updateStatusErr: &repository.InvalidTransitionError{
			From: model.OrderStatusPending,
			To:   model.OrderStatusDelivered,
		},
	}
	h := newTestHandler(t, svc)

	router := h.SetupRouter()

	body, _ := json.Marshal(statusRequest{Status: "delivered"})
	req := authedRequest(t, h, http.MethodPatch, "/api/orders/1/status", body, model.RoleVendedor)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}

	var resp errorResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.From != "pending" || resp.To != "delivered" {
		t.Fatalf("unexpected error body: %+v", resp)
	}
}

func TestRouter_VendedorForbiddenForProductCreate(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	body, _ := json.Marshal(productRequest{Name: "Balon", Price: 89.99, Stock: 50})
	req := authedRequest(t, h, http.MethodPost, "/api/products/", body, model.RoleVendedor)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestRouter_AdminCanCreateProduct(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	body, _ := json.Marshal(productRequest{Name: "Balon", Price: 89.99, Stock: 50})
	req := authedRequest(t, h, http.MethodPost, "/api/products/", body, model.RoleAdmin)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
}

func TestCreateProduct_NegativePriceRejected(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	// Малое отрицательное значение не должно округляться до нуля.
	body, _ := json.Marshal(productRequest{Name: "Balon", Price: -0.004, Stock: 10})
	req := authedRequest(t, h, http.MethodPost, "/api/products/", body, model.RoleAdmin)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestPriceToCents_Rounding(t *testing.T) {
	tests := []struct {
		price float64
		want  int64
	}{
		{price: 89.99, want: 8999},
		{price: 120, want: 12000},
		{price: 0.07, want: 7},
		{price: 10.005, want: 1000},
		{price: 0, want: 0},
	}

	for _, tt := range tests {
		got, err := priceToCents(tt.price)
		if err != nil {
			t.Errorf("priceToCents(%v) error: %v", tt.price, err)
			continue
		}
		if got != tt.want {
			t.Errorf("priceToCents(%v) = %d, want %d", tt.price, got, tt.want)
		}
	}

	if _, err := priceToCents(-5); err == nil {
		t.Errorf("negative price must be rejected")
	}
}

func TestHashEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(hashRequest{Value: "abc"})
	req := httptest.NewRequest(http.MethodPost, "/api/crypto/hash", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Hash(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["hash"] != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected hash: %s", resp["hash"])
	}
}

func TestRandomEndpoint_BadLength(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(randomRequest{Length: 4})
	req := httptest.NewRequest(http.MethodPost, "/api/crypto/random", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Random(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestVerifyEndpoint_IntactEnvelope(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	pair, err := crypt.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair error: %v", err)
	}

	env, err := crypt.Encrypt([]byte(`{"number":"ORD-1"}`), pair.PublicKey)
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}

	body, _ := json.Marshal(decryptRequest{
		Ciphertext:   env.Ciphertext,
		EncryptedKey: env.EncryptedKey,
		Nonce:        env.Nonce,
		PrivateKey:   pair.PrivateKey,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/crypto/verify", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Verify(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp map[string]bool
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp["valid"] {
		t.Fatalf("intact envelope must verify")
	}
}
