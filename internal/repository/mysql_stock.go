package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"order-fulfillment-service/internal/apperr"
)

// MySQLStockStore keeps counters in a product_stock table:
//
//	CREATE TABLE product_stock (
//	  product_id VARCHAR(64) PRIMARY KEY,
//	  stock      INT NOT NULL CHECK (stock >= 0),
//	  version    INT NOT NULL DEFAULT 0,
//	  updated_at DATETIME NOT NULL
//	);
type MySQLStockStore struct {
	db *sql.DB
}

func NewMySQLStockStore(db *sql.DB) *MySQLStockStore {
	return &MySQLStockStore{db: db}
}

func (m *MySQLStockStore) GetStock(ctx context.Context, ref string) (int, error) {
	var stock int
	err := m.db.QueryRowContext(ctx, `SELECT stock FROM product_stock WHERE product_id = ?`, ref).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound("product", ref)
	}
	if err != nil {
		return 0, fmt.Errorf("query stock: %w", err)
	}
	return stock, nil
}

func (m *MySQLStockStore) DecrementStock(ctx context.Context, ref string, qty int) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE product_stock
		SET stock = stock - ?, version = version + 1, updated_at = NOW()
		WHERE product_id = ? AND stock >= ?`,
		qty, ref, qty,
	)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (m *MySQLStockStore) IncrementStock(ctx context.Context, ref string, qty int) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE product_stock
		SET stock = stock + ?, version = version + 1, updated_at = NOW()
		WHERE product_id = ?`,
		qty, ref,
	)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.NotFound("product", ref)
	}
	return nil
}
