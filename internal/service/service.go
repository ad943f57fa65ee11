// Package service реализует бизнес-логику магазина спортивных товаров.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/sportshop-system/internal/crypt"
	"github.com/mmeshcher/sportshop-system/internal/model"
	"github.com/mmeshcher/sportshop-system/internal/notify"
	"github.com/mmeshcher/sportshop-system/internal/repository"
	"github.com/mmeshcher/sportshop-system/internal/validation"
)

// ErrInvalidCredentials возвращается при неверном логине или пароле.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.UserRole) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
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
	CreateOrderWithLines(ctx context.Context, number string, customerID, userID int64, notes string, lines []repository.LineRequest) (*model.Order, error)
	GetOrder(ctx context.Context, id int64, includeLines bool) (*model.Order, error)
	ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, to model.OrderStatus) (*model.Order, error)
	CancelOrder(ctx context.Context, id int64) (*model.Order, error)
	CountOrdersByStatus(ctx context.Context) (map[string]int64, error)
	GetRevenue(ctx context.Context) (int64, error)
	GetTopProduct(ctx context.Context) (*repository.TopProduct, error)
}

// Service содержит бизнес-логику магазина.
type Service struct {
	repo         Repository
	notifyClient *notify.Client
	logger       *zap.Logger
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом вебхуков.
func NewService(repo Repository, notifyClient *notify.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:         repo,
		notifyClient: notifyClient,
		logger:       logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового сотрудника с указанной ролью.
func (s *Service) RegisterUser(ctx context.Context, login, password string, role model.UserRole) (int64, error) {
	if err := validation.ValidateCredentials(login, password); err != nil {
		return 0, err
	}
	if !role.IsValid() {
		return 0, validation.Errorf("unknown role %q", role)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	return s.repo.CreateUser(ctx, login, hashed, role)
}

// AuthenticateUser проверяет логин и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// ListUsers возвращает всех сотрудников.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

// CreateCustomer регистрирует нового покупателя.
func (s *Service) CreateCustomer(ctx context.Context, name, email string) (int64, error) {
	if err := validation.ValidateCustomer(name, email); err != nil {
		return 0, err
	}
	return s.repo.CreateCustomer(ctx, name, email)
}

// GetCustomer возвращает покупателя по идентификатору.
func (s *Service) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// ListCustomers возвращает всех покупателей.
func (s *Service) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

// SetCustomerActive включает или отключает покупателя.
func (s *Service) SetCustomerActive(ctx context.Context, id int64, active bool) error {
	return s.repo.SetCustomerActive(ctx, id, active)
}

// CreateProduct добавляет товар в каталог.
func (s *Service) CreateProduct(ctx context.Context, name string, priceCents int64, stock int32) (int64, error) {
	if err := validation.ValidateProduct(name, priceCents, stock); err != nil {
		return 0, err
	}
	return s.repo.CreateProduct(ctx, name, priceCents, stock)
}

// GetProduct возвращает товар по идентификатору.
func (s *Service) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts возвращает товары каталога.
func (s *Service) ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error) {
	return s.repo.ListProducts(ctx, activeOnly)
}

// UpdateProduct изменяет атрибуты товара.
func (s *Service) UpdateProduct(ctx context.Context, id int64, name string, priceCents int64, stock int32) error {
	if err := validation.ValidateProduct(name, priceCents, stock); err != nil {
		return err
	}
	return s.repo.UpdateProduct(ctx, id, name, priceCents, stock)
}

// DeactivateProduct снимает товар с продажи.
func (s *Service) DeactivateProduct(ctx context.Context, id int64) error {
	return s.repo.DeactivateProduct(ctx, id)
}

// AdjustProductStock изменяет остаток товара на delta.
func (s *Service) AdjustProductStock(ctx context.Context, id int64, delta int32) (*model.Product, error) {
	return s.repo.AdjustProductStock(ctx, id, delta)
}

// LineItem описывает позицию запроса на оформление заказа.
type LineItem struct {
	ProductID int64
	Quantity  int32
}

// CreateOrder оформляет заказ: валидирует позиции, проверяет покупателя и
// остатки и атомарно создаёт заказ со списанием товара. Нехватка первой же
// позиции прерывает операцию целиком.
func (s *Service) CreateOrder(ctx context.Context, customerID, userID int64, lines []LineItem, notes string) (*model.Order, error) {
	vlines := make([]validation.LineInput, 0, len(lines))
	for _, l := range lines {
		vlines = append(vlines, validation.LineInput{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	if err := validation.ValidateLines(vlines); err != nil {
		return nil, err
	}

	reqs := make([]repository.LineRequest, 0, len(lines))
	for _, l := range lines {
		reqs = append(reqs, repository.LineRequest{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	number := uuid.NewString()

	order, err := s.repo.CreateOrderWithLines(ctx, number, customerID, userID, notes, reqs)
	if err != nil {
		return nil, err
	}

	s.sendOrderEvent(order)

	return order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id int64, includeLines bool) (*model.Order, error) {
	return s.repo.GetOrder(ctx, id, includeLines)
}

// ListOrders возвращает заказы, опционально отфильтрованные по статусу.
func (s *Service) ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	if status != "" && !status.IsValid() {
		return nil, validation.Errorf("unknown order status %q", status)
	}
	return s.repo.ListOrders(ctx, status)
}

// UpdateOrderStatus переводит заказ в новый статус согласно таблице переходов.
func (s *Service) UpdateOrderStatus(ctx context.Context, id int64, to model.OrderStatus) (*model.Order, error) {
	if !to.IsValid() {
		return nil, validation.Errorf("unknown order status %q", to)
	}

	order, err := s.repo.UpdateOrderStatus(ctx, id, to)
	if err != nil {
		return nil, err
	}

	s.sendOrderEvent(order)

	return order, nil
}

// CancelOrder отменяет заказ и возвращает остатки товаров.
func (s *Service) CancelOrder(ctx context.Context, id int64) (*model.Order, error) {
	order, err := s.repo.CancelOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	s.sendOrderEvent(order)

	return order, nil
}

const notifyTimeout = 10 * time.Second

// sendOrderEvent отправляет вебхук в фоне: доставка не задерживает ответ
// и не влияет на исход операции.
func (s *Service) sendOrderEvent(order *model.Order) {
	if s.notifyClient == nil {
		return
	}

	event := notify.OrderEvent{
		OrderID:    order.ID,
		Number:     order.Number,
		Status:     string(order.Status),
		OccurredAt: time.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := s.notifyClient.SendOrderEvent(ctx, event); err != nil {
			s.logger.Warn("send order event",
				zap.Int64("order_id", event.OrderID),
				zap.String("status", event.Status),
				zap.Error(err),
			)
		}
	}()
}

// GetOrderStats собирает статистику по заказам. Три запроса независимы и
// читают без блокировок, поэтому выполняются параллельно.
func (s *Service) GetOrderStats(ctx context.Context) (*model.OrderStats, error) {
	stats := &model.OrderStats{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		byStatus, err := s.repo.CountOrdersByStatus(gctx)
		if err != nil {
			return err
		}
		stats.OrdersByStatus = byStatus
		return nil
	})

	g.Go(func() error {
		revenue, err := s.repo.GetRevenue(gctx)
		if err != nil {
			return err
		}
		stats.RevenueCents = revenue
		return nil
	})

	g.Go(func() error {
		top, err := s.repo.GetTopProduct(gctx)
		if err != nil {
			return err
		}
		if top != nil {
			stats.TopProductID = top.ProductID
			stats.TopProductName = top.Name
			stats.TopProductUnits = top.Units
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, count := range stats.OrdersByStatus {
		stats.TotalOrders += count
	}

	return stats, nil
}

// orderPayload описывает сериализуемое представление заказа для шифрования.
type orderPayload struct {
	Number    string      `json:"number"`
	Status    string      `json:"status"`
	Total     float64     `json:"total"`
	Notes     string      `json:"notes,omitempty"`
	Lines     []linePart  `json:"lines"`
	Metadata  payloadMeta `json:"metadata"`
	CreatedAt time.Time   `json:"created_at"`
}

type linePart struct {
	ProductID int64   `json:"product_id"`
	Product   string  `json:"product"`
	Quantity  int32   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Subtotal  float64 `json:"subtotal"`
}

type payloadMeta struct {
	CustomerID int64 `json:"customer_id"`
	UserID     int64 `json:"user_id"`
}

// EncryptOrderPayload сериализует заказ с позициями и метаданными и
// шифрует его гибридным конвертом под публичный ключ получателя.
func (s *Service) EncryptOrderPayload(ctx context.Context, orderID int64, publicKeyPEM string) (*crypt.Envelope, error) {
	order, err := s.repo.GetOrder(ctx, orderID, true)
	if err != nil {
		return nil, err
	}

	payload := orderPayload{
		Number:    order.Number,
		Status:    string(order.Status),
		Total:     order.Total(),
		Notes:     order.Notes,
		CreatedAt: order.CreatedAt,
		Metadata: payloadMeta{
			CustomerID: order.CustomerID,
			UserID:     order.UserID,
		},
	}
	for _, l := range order.Lines {
		payload.Lines = append(payload.Lines, linePart{
			ProductID: l.ProductID,
			Product:   l.ProductName,
			Quantity:  l.Quantity,
			UnitPrice: float64(l.UnitPriceCents) / 100,
			Subtotal:  l.Subtotal(),
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order payload: %w", err)
	}

	return crypt.Encrypt(data, publicKeyPEM)
}

// DecryptPayload расшифровывает конверт и возвращает исходный JSON.
func (s *Service) DecryptPayload(env *crypt.Envelope, privateKeyPEM string) (json.RawMessage, error) {
	plaintext, err := crypt.Decrypt(env, privateKeyPEM)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(plaintext), nil
}

// EncryptStats шифрует агрегированную статистику заказов под публичный ключ получателя.
func (s *Service) EncryptStats(ctx context.Context, publicKeyPEM string) (*crypt.Envelope, error) {
	stats, err := s.GetOrderStats(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(struct {
		TotalOrders     int64            `json:"total_orders"`
		Revenue         float64          `json:"revenue"`
		OrdersByStatus  map[string]int64 `json:"orders_by_status"`
		TopProductName  string           `json:"top_product_name,omitempty"`
		TopProductUnits int64            `json:"top_product_units,omitempty"`
	}{
		TotalOrders:     stats.TotalOrders,
		Revenue:         float64(stats.RevenueCents) / 100,
		OrdersByStatus:  stats.OrdersByStatus,
		TopProductName:  stats.TopProductName,
		TopProductUnits: stats.TopProductUnits,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal stats: %w", err)
	}

	return crypt.Encrypt(data, publicKeyPEM)
}
