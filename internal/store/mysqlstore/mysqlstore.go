// Package mysqlstore implements the persistence interfaces on MySQL 8.
// Carts, order lines and addresses are stored as JSON columns.
package mysqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/storefront/checkout-api/internal/db"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/services"
)

const system = "mysql"

// mysql error number for a unique key violation
const errDupEntry = 1062

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type txKey struct{}

// Store is the MySQL backend
type Store struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

var _ services.Store = (*Store)(nil)

// New creates a new MySQL store on an open pool
func New(database *db.DB, m *metrics.AppMetrics) *Store {
	return &Store{db: database, metrics: m}
}

// WithinTx runs fn in a transaction carried by ctx. Nested calls join the
// outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func (s *Store) exec(ctx context.Context, op, table, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, system, op, table, query, start, err == nil)
	if err != nil {
		return nil, mapError(err)
	}
	return res, nil
}

func (s *Store) query(ctx context.Context, table, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, system, "SELECT", table, query, start, err == nil)
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

// get runs a single-row query; no row is models.ErrNotFound
func (s *Store) get(ctx context.Context, table, query string, scan func(scanner) error, args ...any) error {
	start := time.Now()
	err := scan(s.conn(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		s.metrics.RecordDBQuery(ctx, system, "SELECT", table, query, start, true)
		return models.ErrNotFound
	}
	s.metrics.RecordDBQuery(ctx, system, "SELECT", table, query, start, err == nil)
	return mapError(err)
}

func (s *Store) exists(ctx context.Context, table, id string) (bool, error) {
	err := s.get(ctx, table, "SELECT 1 FROM "+table+" WHERE id = ?", func(r scanner) error {
		var one int
		return r.Scan(&one)
	}, id)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// requireRow turns zero affected rows into ErrNotFound
func (s *Store) requireRow(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	// mysql reports 0 for an update that changed nothing
	ok, err := s.exists(ctx, table, id)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == errDupEntry {
		return fmt.Errorf("%w: %s", models.ErrDuplicate, me.Message)
	}
	return err
}

func forUpdate(ctx context.Context) string {
	if inTx(ctx) {
		return " FOR UPDATE"
	}
	return ""
}

func toJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return b, nil
}

func fromJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
