package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/order-saga/internal/core/domain"
	"github.com/rl1809/order-saga/internal/port"
)

//go:embed schema.sql
var schemaSQL string

const orderColumns = `id, user_id, product_id, quantity, total_price, status, published, created_at`

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates the saga tables if they are missing.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// UpsertProduct seeds a product, overwriting price and stock if it exists.
func (m *MySQLAdapter) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, stock) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), price = VALUES(price), stock = VALUES(stock), updated_at = NOW(6)`,
		p.ID, p.Name, p.Price, p.Stock,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) WithTx(ctx context.Context, fn func(tx port.TxRepository) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	return scanProduct(m.db.QueryRowContext(ctx, `
		SELECT id, name, price, stock, created_at, updated_at
		FROM products WHERE id = ?`, productID,
	))
}

func (m *MySQLAdapter) ListProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, price, stock, created_at, updated_at
		FROM products
		ORDER BY id
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID int64) (*domain.PurchaseOrder, error) {
	var o domain.PurchaseOrder
	err := scanOrder(m.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID,
	), &o)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

func (m *MySQLAdapter) MarkOrderPublished(ctx context.Context, orderID int64) error {
	_, err := m.db.ExecContext(ctx, `UPDATE orders SET published = 1 WHERE id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("mark order published: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) ListUnpublishedOrders(ctx context.Context, createdBefore time.Time, limit int) ([]domain.PurchaseOrder, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE published = 0 AND status = ? AND created_at < ?
		ORDER BY id
		LIMIT ?`,
		domain.OrderStatusCreated, createdBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query unpublished orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.PurchaseOrder
	for rows.Next() {
		var o domain.PurchaseOrder
		if err := scanOrder(rows, &o); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) GetProductForUpdate(ctx context.Context, productID int64) (*domain.Product, error) {
	return scanProduct(t.tx.QueryRowContext(ctx, `
		SELECT id, name, price, stock, created_at, updated_at
		FROM products WHERE id = ? FOR UPDATE`, productID,
	))
}

func (t *mysqlTx) AdjustStock(ctx context.Context, productID int64, delta int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + ?, updated_at = NOW(6)
		WHERE id = ? AND stock + ? >= 0`,
		delta, productID, delta,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if delta > 0 {
			return domain.ErrProductNotFound
		}
		return domain.ErrInsufficientStock
	}
	return nil
}

func (t *mysqlTx) InsertOrder(ctx context.Context, o *domain.PurchaseOrder) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (user_id, product_id, quantity, total_price, status, published, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.UserID, o.ProductID, o.Quantity, o.TotalPrice, o.Status, o.Published, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("order id: %w", err)
	}
	o.ID = id
	return nil
}

func (t *mysqlTx) CancelOrder(ctx context.Context, orderID int64) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET status = ? WHERE id = ? AND status = ?`,
		domain.OrderStatusCanceled, orderID, domain.OrderStatusCreated,
	)
	if err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func scanOrder(row rowScanner, o *domain.PurchaseOrder) error {
	var status string
	if err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.Quantity, &o.TotalPrice, &status, &o.Published, &o.CreatedAt); err != nil {
		return err
	}
	o.Status = domain.OrderStatus(status)
	return nil
}
