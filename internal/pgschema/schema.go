package pgschema

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// #region types

// Column is one column as reported by information_schema.
type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
}

// Table is a table and its columns in ordinal order.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Relationship is a foreign key rendered as "table.column".
type Relationship struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Schema is the live public schema of a database.
type Schema struct {
	Tables        []Table        `json:"tables"`
	Relationships []Relationship `json:"relationships"`
}

// Describe renders the tables for a model prompt.
func (s Schema) Describe() string {
	parts := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = fmt.Sprintf("%s (%s)", c.Name, c.Type)
		}
		parts = append(parts, fmt.Sprintf("- Table: %s\n  Columns: %s", t.Name, strings.Join(cols, ", ")))
	}
	return strings.Join(parts, "\n\n")
}

// DescribeRelationships renders one "- from -> to" line per foreign key.
func (s Schema) DescribeRelationships() string {
	lines := make([]string, len(s.Relationships))
	for i, r := range s.Relationships {
		lines[i] = fmt.Sprintf("- %s -> %s", r.From, r.To)
	}
	return strings.Join(lines, "\n")
}

// Table looks a table up by name.
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// #endregion

// #region connect

// Conn is the subset of *pgxpool.Pool used here.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Connect creates a connection pool to PostgreSQL.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// #endregion

// #region introspect

const (
	tablesQuery = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'public'
ORDER BY table_name`

	columnsQuery = `
SELECT column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position`

	foreignKeysQuery = `
SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints AS tc
JOIN information_schema.key_column_usage AS kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage AS ccu
  ON ccu.constraint_name = tc.constraint_name
 AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
  AND tc.table_schema = 'public'
ORDER BY tc.table_name, kcu.column_name`
)

// Introspector reads the public schema once and caches it.
type Introspector struct {
	conn   Conn
	logger *zap.Logger

	mu     sync.Mutex
	cached *Schema
}

// NewIntrospector wraps a connection. logger may be nil.
func NewIntrospector(conn Conn, logger *zap.Logger) *Introspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Introspector{conn: conn, logger: logger.Named("pgschema")}
}

// Schema returns the cached schema, loading it on first use.
func (i *Introspector) Schema(ctx context.Context) (Schema, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cached != nil {
		return *i.cached, nil
	}

	s, err := i.load(ctx)
	if err != nil {
		return Schema{}, fmt.Errorf("introspect schema: %w", err)
	}
	i.cached = &s
	i.logger.Info("schema introspected",
		zap.Int("tables", len(s.Tables)),
		zap.Int("relationships", len(s.Relationships)))
	return s, nil
}

// Invalidate drops the cached schema.
func (i *Introspector) Invalidate() {
	i.mu.Lock()
	i.cached = nil
	i.mu.Unlock()
}

func (i *Introspector) load(ctx context.Context) (Schema, error) {
	rows, err := i.conn.Query(ctx, tablesQuery)
	if err != nil {
		return Schema{}, fmt.Errorf("list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Schema{}, fmt.Errorf("scan tables: %w", err)
	}

	s := Schema{Tables: make([]Table, 0, len(names))}
	for _, name := range names {
		cols, err := i.columns(ctx, name)
		if err != nil {
			return Schema{}, err
		}
		s.Tables = append(s.Tables, Table{Name: name, Columns: cols})
	}

	rows, err = i.conn.Query(ctx, foreignKeysQuery)
	if err != nil {
		return Schema{}, fmt.Errorf("list foreign keys: %w", err)
	}
	s.Relationships, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Relationship, error) {
		var fromTable, fromCol, toTable, toCol string
		if err := row.Scan(&fromTable, &fromCol, &toTable, &toCol); err != nil {
			return Relationship{}, err
		}
		return Relationship{From: fromTable + "." + fromCol, To: toTable + "." + toCol}, nil
	})
	if err != nil {
		return Schema{}, fmt.Errorf("scan foreign keys: %w", err)
	}
	return s, nil
}

func (i *Introspector) columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := i.conn.Query(ctx, columnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	cols, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Column, error) {
		var c Column
		var nullable string
		if err := row.Scan(&c.Name, &c.Type, &nullable, &c.Default); err != nil {
			return Column{}, err
		}
		c.Nullable = nullable == "YES"
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan columns of %s: %w", table, err)
	}
	return cols, nil
}

// #endregion
