package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mmeshcher/sportshop-system/internal/model"
)

// LineRequest описывает запрошенную позицию будущего заказа.
type LineRequest struct {
	ProductID int64
	Quantity  int32
}

// CreateOrderWithLines оформляет заказ в одной транзакции: блокирует строки
// товаров, проверяет остатки позиция за позицией в порядке запроса,
// фиксирует цены, создаёт заказ с позициями и списывает остатки.
// Первая же нехватка прерывает всю операцию без частичного заказа.
func (r *PostgresRepository) CreateOrderWithLines(ctx context.Context, number string, customerID, userID int64, notes string, lines []LineRequest) (*model.Order, error) {
	var order *model.Order

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Блокируем строку покупателя, чтобы деактивация не прошла параллельно с оформлением.
		var customerActive bool
		err = tx.QueryRow(ctx,
			`SELECT active FROM customers WHERE id = $1 FOR UPDATE`,
			customerID,
		).Scan(&customerActive)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrCustomerNotFound
			}
			return fmt.Errorf("lock customer: %w", err)
		}
		if !customerActive {
			return fmt.Errorf("%w: id %d", ErrCustomerInactive, customerID)
		}

		orderLines := make([]model.OrderLine, 0, len(lines))
		var totalCents int64

		for _, l := range lines {
			var (
				name       string
				priceCents int64
				stock      int32
				active     bool
			)
			// FOR UPDATE сериализует конкурентные списания остатка одного товара.
			err := tx.QueryRow(ctx,
				`SELECT name, price_cents, stock, active FROM products WHERE id = $1 FOR UPDATE`,
				l.ProductID,
			).Scan(&name, &priceCents, &stock, &active)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("%w: id %d", ErrProductNotFound, l.ProductID)
				}
				return fmt.Errorf("lock product: %w", err)
			}
			if !active {
				return fmt.Errorf("%w: %s", ErrProductInactive, name)
			}
			if l.Quantity > stock {
				return &InsufficientStockError{
					ProductID:   l.ProductID,
					ProductName: name,
					Available:   stock,
					Requested:   l.Quantity,
				}
			}

			subtotal := priceCents * int64(l.Quantity)
			totalCents += subtotal

			orderLines = append(orderLines, model.OrderLine{
				ProductID:      l.ProductID,
				ProductName:    name,
				Quantity:       l.Quantity,
				UnitPriceCents: priceCents,
				SubtotalCents:  subtotal,
			})
		}

		var (
			orderID   int64
			createdAt time.Time
		)
		err = tx.QueryRow(ctx,
			`INSERT INTO orders (number, customer_id, user_id, status, total_cents, notes)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at`,
			number, customerID, userID, string(model.OrderStatusPending), totalCents, notes,
		).Scan(&orderID, &createdAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i := range orderLines {
			err = tx.QueryRow(ctx,
				`INSERT INTO order_lines (order_id, product_id, quantity, unit_price_cents, subtotal_cents)
				 VALUES ($1, $2, $3, $4, $5)
				 RETURNING id`,
				orderID, orderLines[i].ProductID, orderLines[i].Quantity,
				orderLines[i].UnitPriceCents, orderLines[i].SubtotalCents,
			).Scan(&orderLines[i].ID)
			if err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
			orderLines[i].OrderID = orderID

			_, err = tx.Exec(ctx,
				`UPDATE products SET stock = stock - $2 WHERE id = $1`,
				orderLines[i].ProductID, orderLines[i].Quantity,
			)
			if err != nil {
				return fmt.Errorf("decrement stock: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		order = &model.Order{
			ID:         orderID,
			Number:     number,
			CustomerID: customerID,
			UserID:     userID,
			Status:     model.OrderStatusPending,
			TotalCents: totalCents,
			Notes:      notes,
			CreatedAt:  createdAt,
			Lines:      orderLines,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// GetOrder возвращает заказ по идентификатору, при includeLines — вместе с позициями.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64, includeLines bool) (*model.Order, error) {
	var o model.Order
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT id, number, customer_id, user_id, status, total_cents, notes, created_at
		 FROM orders WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.Number, &o.CustomerID, &o.UserID, &status, &o.TotalCents, &o.Notes, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = model.OrderStatus(status)

	if includeLines {
		lines, err := getOrderLines(ctx, r.pool, id)
		if err != nil {
			return nil, err
		}
		o.Lines = lines
	}

	return &o, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getOrderLines(ctx context.Context, q querier, orderID int64) ([]model.OrderLine, error) {
	rows, err := q.Query(ctx,
		`SELECT l.id, l.order_id, l.product_id, p.name, l.quantity, l.unit_price_cents, l.subtotal_cents
		 FROM order_lines l
		 JOIN products p ON p.id = l.product_id
		 WHERE l.order_id = $1
		 ORDER BY l.id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order lines: %w", err)
	}
	defer rows.Close()

	var lines []model.OrderLine
	for rows.Next() {
		var l model.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName,
			&l.Quantity, &l.UnitPriceCents, &l.SubtotalCents); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

// ListOrders возвращает заказы от новых к старым. Пустой status означает все заказы.
func (r *PostgresRepository) ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	query := `SELECT id, number, customer_id, user_id, status, total_cents, notes, created_at
	          FROM orders ORDER BY created_at DESC`
	args := []any{}
	if status != "" {
		query = `SELECT id, number, customer_id, user_id, status, total_cents, notes, created_at
		         FROM orders WHERE status = $1 ORDER BY created_at DESC`
		args = append(args, string(status))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		var o model.Order
		var st string
		if err := rows.Scan(&o.ID, &o.Number, &o.CustomerID, &o.UserID, &st,
			&o.TotalCents, &o.Notes, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(st)
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateOrderStatus переводит заказ в новый статус согласно таблице переходов.
// Переход в cancelled дополнительно возвращает остатки товаров в той же транзакции.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id int64, to model.OrderStatus) (*model.Order, error) {
	var order *model.Order

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		current, err := lockOrderStatus(ctx, tx, id)
		if err != nil {
			return err
		}

		if !model.CanTransition(current, to) {
			return &InvalidTransitionError{From: current, To: to}
		}

		if to == model.OrderStatusCancelled {
			if err := restockOrderLines(ctx, tx, id); err != nil {
				return err
			}
		}

		o, err := setOrderStatus(ctx, tx, id, to)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// CancelOrder отменяет заказ: возвращает остатки всех позиций и переводит
// статус в cancelled. Возврат остатков и смена статуса атомарны.
func (r *PostgresRepository) CancelOrder(ctx context.Context, id int64) (*model.Order, error) {
	var order *model.Order

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		current, err := lockOrderStatus(ctx, tx, id)
		if err != nil {
			return err
		}

		switch current {
		case model.OrderStatusCancelled:
			return ErrOrderAlreadyCancelled
		case model.OrderStatusDelivered:
			return ErrOrderDelivered
		}

		if err := restockOrderLines(ctx, tx, id); err != nil {
			return err
		}

		o, err := setOrderStatus(ctx, tx, id, model.OrderStatusCancelled)
		if err != nil {
			return err
		}

		lines, err := getOrderLines(ctx, tx, id)
		if err != nil {
			return err
		}
		o.Lines = lines

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func lockOrderStatus(ctx context.Context, tx pgx.Tx, id int64) (model.OrderStatus, error) {
	var status string
	err := tx.QueryRow(ctx,
		`SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrOrderNotFound
		}
		return "", fmt.Errorf("lock order: %w", err)
	}
	return model.OrderStatus(status), nil
}

func restockOrderLines(ctx context.Context, tx pgx.Tx, orderID int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE products p
		 SET stock = p.stock + l.quantity
		 FROM order_lines l
		 WHERE l.order_id = $1 AND l.product_id = p.id`,
		orderID,
	)
	if err != nil {
		return fmt.Errorf("restock order lines: %w", err)
	}
	return nil
}

func setOrderStatus(ctx context.Context, tx pgx.Tx, id int64, status model.OrderStatus) (*model.Order, error) {
	var o model.Order
	var st string
	err := tx.QueryRow(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1
		 RETURNING id, number, customer_id, user_id, status, total_cents, notes, created_at`,
		id, string(status),
	).Scan(&o.ID, &o.Number, &o.CustomerID, &o.UserID, &st, &o.TotalCents, &o.Notes, &o.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	o.Status = model.OrderStatus(st)
	return &o, nil
}

// CountOrdersByStatus возвращает количество заказов в разбивке по статусам.
func (r *PostgresRepository) CountOrdersByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM orders GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	defer rows.Close()

	res := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		res[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetRevenue возвращает суммарную выручку по неотменённым заказам в центах.
func (r *PostgresRepository) GetRevenue(ctx context.Context) (int64, error) {
	var revenue int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_cents), 0) FROM orders WHERE status <> $1`,
		string(model.OrderStatusCancelled),
	).Scan(&revenue)
	if err != nil {
		return 0, fmt.Errorf("sum revenue: %w", err)
	}
	return revenue, nil
}

// TopProduct описывает товар с наибольшим проданным количеством.
type TopProduct struct {
	ProductID int64
	Name      string
	Units     int64
}

// GetTopProduct возвращает самый продаваемый товар по неотменённым заказам.
func (r *PostgresRepository) GetTopProduct(ctx context.Context) (*TopProduct, error) {
	var tp TopProduct
	err := r.pool.QueryRow(ctx,
		`SELECT l.product_id, p.name, SUM(l.quantity) AS units
		 FROM order_lines l
		 JOIN orders o ON o.id = l.order_id
		 JOIN products p ON p.id = l.product_id
		 WHERE o.status <> $1
		 GROUP BY l.product_id, p.name
		 ORDER BY units DESC
		 LIMIT 1`,
		string(model.OrderStatusCancelled),
	).Scan(&tp.ProductID, &tp.Name, &tp.Units)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("top product: %w", err)
	}
	return &tp, nil
}
