package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

const orderColumns = `id, buyer_id, total_items, total_minor, currency, address, deleted, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderStore.
func NewOrderRepository(store *Store) domain.OrderStore {
	return &orderRepository{db: store.DB()}
}

// SaveOrder вставляет заказ и его строки одной транзакцией. Заказы не перезаписываются.
func (r *orderRepository) SaveOrder(ctx context.Context, order domain.Order) (saved domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	address, err := json.Marshal(order.Address)
	if err != nil {
		return domain.Order{}, fmt.Errorf("encode order address: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		order.ID, order.BuyerID, order.TotalItems, order.TotalMinor, order.Currency,
		address, order.Deleted, order.CreatedAt, order.UpdatedAt,
	)
	switch {
	case isUniqueViolation(err):
		err = domain.ErrOrderAlreadyExists
		return domain.Order{}, err
	case isForeignKeyViolation(err):
		err = domain.BuyerNotFound(order.BuyerID)
		return domain.Order{}, err
	case err != nil:
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for i, line := range order.Lines {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (
				id, order_id, position, item_id, item_name, quantity, unit_price_minor, total_minor, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			line.ID, order.ID, i, line.Item.ID, line.Item.Name,
			line.Quantity, line.UnitPriceMinor, line.TotalMinor, line.CreatedAt,
		); err != nil {
			return domain.Order{}, fmt.Errorf("insert order line %d: %w", i+1, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) FindOrderByID(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.OrderNotFound(id)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	if order.Lines, err = r.loadLines(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) ListOrdersByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", buyerID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, buyerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		if orders[i].Lines, err = r.loadLines(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) loadLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, item_id, item_name, quantity, unit_price_minor, total_minor, created_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(
			&line.ID, &line.Item.ID, &line.Item.Name, &line.Quantity,
			&line.UnitPriceMinor, &line.TotalMinor, &line.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return lines, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order   domain.Order
		address []byte
	)
	if err := row.Scan(
		&order.ID, &order.BuyerID, &order.TotalItems, &order.TotalMinor, &order.Currency,
		&address, &order.Deleted, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal(address, &order.Address); err != nil {
		return domain.Order{}, fmt.Errorf("decode order address: %w", err)
	}
	return order, nil
}

var _ domain.OrderStore = (*orderRepository)(nil)
