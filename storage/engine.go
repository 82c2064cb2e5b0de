// Package storage implements the schema-driven persistence engine backing
// every request handler. All access goes through a single *sql.DB guarded by
// a process-wide mutex; handlers never see SQL for row-level operations.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/GoCodeAlone/modular"
	"github.com/ezbook/autoserver/schema"

	_ "modernc.org/sqlite"
)

// FileName is the database file inside the workspace.
const FileName = "auto_v2.db"

// Engine is the generic CRUD engine over the declared tables. Every public
// method holds the engine mutex for the whole statement; SetMaxOpenConns(1)
// backs that up at the pool level.
type Engine struct {
	mu     sync.Mutex
	db     *sql.DB
	logger modular.Logger
}

// Option configures an Engine at open time.
type Option func(*Engine)

// WithLogger sets the logger used for storage failures.
func WithLogger(l modular.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Open opens (creating if needed) the database at path and ensures every
// declared table exists. Use ":memory:" for tests.
func Open(path string, opts ...Option) (*Engine, error) {
	// Append pragmas to the DSN so they apply to every connection in the pool.
	dsn := path
	if dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Limit to one open connection to serialize writes and avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// For :memory: databases, set pragmas after opening since DSN params
	// are not supported.
	if path == ":memory:" {
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	e := &Engine{db: db, logger: &noopLogger{}}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return e, nil
}

func (e *Engine) createTables() error {
	for _, t := range schema.Tables() {
		if _, err := e.db.Exec(t.CreateSQL()); err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (e *Engine) Close() error {
	return e.db.Close()
}

// SetLogger swaps the failure logger. The engine is constructed before the
// database-backed log sink, so the sink is attached after the fact.
func (e *Engine) SetLogger(l modular.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l != nil {
		e.logger = l
	}
}

// Insert inserts one row into table. Every non-key column of the descriptor
// is bound; keys absent from row bind the column type's zero value. Returns
// the assigned id.
func (e *Engine) Insert(table string, row map[string]any) (int64, error) {
	t, ok := schema.Lookup(table)
	if !ok {
		return 0, fmt.Errorf("unknown table %q", table)
	}

	query, args := buildInsert(t, row)

	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec(query, args...)
	if err != nil {
		e.logger.Error("insert failed", "table", table, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Update overwrites the row with the given id. Like Insert, every non-key
// column is written; callers pass the complete record with their changes
// applied. Returns whether a row was affected.
func (e *Engine) Update(table string, id int64, row map[string]any) (bool, error) {
	t, ok := schema.Lookup(table)
	if !ok {
		return false, fmt.Errorf("unknown table %q", table)
	}

	fields := t.DataFields()
	sets := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		sets = append(sets, f.Name+" = ?")
		args = append(args, bindValue(f.Type, row[f.Name]))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", t.Name, strings.Join(sets, ", "))

	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec(query, args...)
	if err != nil {
		e.logger.Error("update failed", "table", table, "id", id, "error", err)
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Remove deletes the row with the given id. Returns whether a row existed.
func (e *Engine) Remove(table string, id int64) (bool, error) {
	t, ok := schema.Lookup(table)
	if !ok {
		return false, fmt.Errorf("unknown table %q", table)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", t.Name), id)
	if err != nil {
		e.logger.Error("delete failed", "table", table, "id", id, "error", err)
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear deletes every row of table. Returns the number of rows removed.
func (e *Engine) Clear(table string) (int64, error) {
	t, ok := schema.Lookup(table)
	if !ok {
		return 0, fmt.Errorf("unknown table %q", table)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec("DELETE FROM " + t.Name)
	if err != nil {
		e.logger.Error("clear failed", "table", table, "error", err)
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SelectByID returns the row with the given id, or nil when absent.
func (e *Engine) SelectByID(table string, id int64) (map[string]any, error) {
	rows, err := e.SelectConditional(table, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// SelectConditional returns the rows matching condition in natural id order.
// An empty condition selects the whole table. The condition is a WHERE body
// with ? placeholders; values always travel through params.
func (e *Engine) SelectConditional(table, condition string, params ...any) ([]map[string]any, error) {
	t, ok := schema.Lookup(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", t.Name)
	if condition != "" {
		b.WriteString(" WHERE ")
		b.WriteString(condition)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rows, err := e.db.Query(b.String(), params...)
	if err != nil {
		e.logger.Error("select failed", "table", table, "error", err)
		return nil, err
	}
	defer rows.Close()

	return scanRows(t, rows)
}

// Page returns one page of rows matching condition. Pages are 1-based; a
// size of zero or less disables the limit; an empty orderBy sorts newest
// first.
func (e *Engine) Page(table string, page, size int, condition string, params []any, orderBy string) ([]map[string]any, error) {
	t, ok := schema.Lookup(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if page < 1 {
		page = 1
	}
	if orderBy == "" {
		orderBy = "id DESC"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", t.Name)
	if condition != "" {
		b.WriteString(" WHERE ")
		b.WriteString(condition)
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)

	args := append([]any{}, params...)
	if size > 0 {
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, size, (page-1)*size)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rows, err := e.db.Query(b.String(), args...)
	if err != nil {
		e.logger.Error("page select failed", "table", table, "error", err)
		return nil, err
	}
	defer rows.Close()

	return scanRows(t, rows)
}

// ExecSQL runs one statement outside the descriptor-driven paths. With
// readonly it returns the result rows; otherwise it executes the statement
// and returns the number of affected rows.
func (e *Engine) ExecSQL(query string, params []any, readonly bool) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if readonly {
		rows, err := e.db.Query(query, params...)
		if err != nil {
			e.logger.Error("query failed", "error", err)
			return nil, err
		}
		defer rows.Close()
		return scanRawRows(rows)
	}

	res, err := e.db.Exec(query, params...)
	if err != nil {
		e.logger.Error("exec failed", "error", err)
		return nil, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Transaction runs fn inside BEGIN/COMMIT, rolling back on error. The engine
// mutex is held for the whole transaction, so fn must not call back into the
// engine; it works on the tx directly.
func (e *Engine) Transaction(fn func(tx *sql.Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

func buildInsert(t schema.Table, row map[string]any) (string, []any) {
	fields := t.DataFields()
	cols := make([]string, 0, len(fields))
	marks := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		cols = append(cols, f.Name)
		marks = append(marks, "?")
		args = append(args, bindValue(f.Type, row[f.Name]))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(cols, ", "), strings.Join(marks, ", "))
	return query, args
}

func scanRows(t schema.Table, rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			if f, ok := t.Field(c); ok {
				m[c] = decodeValue(f.Type, vals[i])
			} else {
				m[c] = normalizeRaw(vals[i])
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanRawRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			m[c] = normalizeRaw(vals[i])
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// bindValue coerces an untyped JSON value to the declared column type.
// Anything unparseable binds the zero value; row writes never fail on a
// single bad field.
func bindValue(ft schema.FieldType, v any) any {
	switch ft {
	case schema.Real:
		return toFloat64(v)
	case schema.Text:
		return toText(v)
	default:
		return toInt64(v)
	}
}

func decodeValue(ft schema.FieldType, raw any) any {
	switch ft {
	case schema.Real:
		return toFloat64(raw)
	case schema.Text:
		return toText(raw)
	default:
		return toInt64(raw)
	}
}

func normalizeRaw(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return int64(f)
		}
		return 0
	case []byte:
		return parseInt64(string(x))
	case string:
		return parseInt64(x)
	default:
		return 0
	}
}

func parseInt64(s string) int64 {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

func toFloat64(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return x
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return 0
	case []byte:
		return parseFloat64(string(x))
	case string:
		return parseFloat64(x)
	default:
		return 0
	}
}

func parseFloat64(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func toText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case json.Number:
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...any) {}
func (l *noopLogger) Info(msg string, args ...any)  {}
func (l *noopLogger) Warn(msg string, args ...any)  {}
func (l *noopLogger) Error(msg string, args ...any) {}
func (l *noopLogger) Fatal(msg string, args ...any) {}
