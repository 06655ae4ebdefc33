// Package sqlstore serves rowstore requests from a SQL database through sqlx.
// It speaks the sqlite (modernc) and mysql dialects and resolves embeds from
// declared foreign keys.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"medeasy/pharmacy/internal/rowstore"
)

// ErrNestedTx is returned by Begin on a store that is already a transaction.
var ErrNestedTx = errors.New("sqlstore: nested transactions are not supported")

// Store executes rowstore requests against a database handle.
type Store struct {
	db         *sqlx.DB
	tx         *sqlx.Tx
	keys       []ForeignKey
	logger     *log.Logger
	logQueries bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger routes query logs to l.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithQueryLog enables logging of every SQL statement.
func WithQueryLog(on bool) Option {
	return func(s *Store) { s.logQueries = on }
}

// New returns a store over db. keys declares the relations embeds can follow.
func New(db *sqlx.DB, keys []ForeignKey, opts ...Option) *Store {
	s := &Store{db: db, keys: keys, logger: log.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying handle.
func (s *Store) DB() *sqlx.DB { return s.db }

type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
	Rebind(string) string
}

func (s *Store) conn() queryer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Store) mysql() bool {
	return s.db.DriverName() == "mysql"
}

// Do executes req.
func (s *Store) Do(ctx context.Context, req *rowstore.Request) (*rowstore.Response, error) {
	if err := validIdent(req.Table); err != nil {
		return nil, err
	}
	var (
		resp *rowstore.Response
		err  error
	)
	switch req.Method {
	case rowstore.MethodSelect:
		resp, err = s.selectRows(ctx, s.conn(), req)
	case rowstore.MethodInsert:
		err = s.within(ctx, func(q queryer) error {
			resp, err = s.insert(ctx, q, req)
			return err
		})
	case rowstore.MethodUpdate:
		err = s.within(ctx, func(q queryer) error {
			resp, err = s.update(ctx, q, req)
			return err
		})
	case rowstore.MethodDelete:
		err = s.within(ctx, func(q queryer) error {
			resp, err = s.delete(ctx, q, req)
			return err
		})
	default:
		return nil, fmt.Errorf("sqlstore: unsupported method %s", req.Method)
	}
	if err != nil {
		return nil, translate(err)
	}
	return resp, nil
}

// within runs fn in a transaction, reusing the store's own one if it has it.
func (s *Store) within(ctx context.Context, fn func(q queryer) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Begin starts a transaction; requests sent through the returned Tx commit
// or roll back together.
func (s *Store) Begin(ctx context.Context) (rowstore.Tx, error) {
	if s.tx != nil {
		return nil, ErrNestedTx
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{Store: &Store{db: s.db, tx: tx, keys: s.keys, logger: s.logger, logQueries: s.logQueries}}, nil
}

// Tx is a store bound to one database transaction.
type Tx struct {
	*Store
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func (s *Store) logf(query string, args []any) {
	if s.logQueries {
		s.logger.Printf("[SQLSTORE] %s %v", query, args)
	}
}

func (s *Store) query(ctx context.Context, q queryer, query string, args []any) ([]rowstore.Row, error) {
	query = q.Rebind(query)
	s.logf(query, args)
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []rowstore.Row{}
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			row[k] = readValue(v)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) exec(ctx context.Context, q queryer, query string, args []any) (sql.Result, error) {
	query = q.Rebind(query)
	s.logf(query, args)
	return q.ExecContext(ctx, query, args...)
}

func (s *Store) selectRows(ctx context.Context, q queryer, req *rowstore.Request) (*rowstore.Response, error) {
	plain, embedded := splitFilters(req.Filters)
	where, args, err := whereClause(plain)
	if err != nil {
		return nil, err
	}

	if req.CountOnly {
		// A head request embeds nothing, so a relation filter has nothing to apply to.
		if len(embedded) > 0 {
			return nil, badRequest("PGRST108", fmt.Sprintf("count on %s cannot filter embedded resources", req.Table))
		}
		rows, err := s.query(ctx, q, "SELECT COUNT(*) AS n FROM "+req.Table+where, args)
		if err != nil {
			return nil, err
		}
		return &rowstore.Response{Rows: []rowstore.Row{}, Count: int(toInt64(rows[0]["n"]))}, nil
	}

	sel, rels, err := s.prepareSelect(req.Table, req.Columns, embedded)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + columnList(sel.columns, localKeys(rels)...) + " FROM " + req.Table + where
	if o := req.Ordering; o != nil {
		if err := validIdent(o.Column); err != nil {
			return nil, err
		}
		dir := "DESC"
		if o.Ascending {
			dir = "ASC"
		}
		query += " ORDER BY " + o.Column + " " + dir
	}
	if offset, limit := req.Pagination(); limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}

	rows, err := s.query(ctx, q, query, args)
	if err != nil {
		return nil, err
	}
	if err := s.embed(ctx, q, rows, sel.embeds, rels, embedded); err != nil {
		return nil, err
	}
	rows, err = rowstore.CheckCardinality(req, rows)
	if err != nil {
		return nil, err
	}
	return &rowstore.Response{Rows: rows, Count: len(rows)}, nil
}

// prepareSelect parses the select expression and resolves every embed it
// names. Filters on relations that are not embedded are rejected.
func (s *Store) prepareSelect(table, columns string, embedded map[string][]rowstore.Filter) (selection, []relation, error) {
	sel, err := parseSelect(columns)
	if err != nil {
		return sel, nil, err
	}
	rels := make([]relation, len(sel.embeds))
	for i, e := range sel.embeds {
		rels[i], err = resolveRelation(s.keys, table, e.name)
		if err != nil {
			return sel, nil, err
		}
	}
	for name := range embedded {
		found := false
		for _, e := range sel.embeds {
			found = found || e.name == name
		}
		if !found {
			return sel, nil, badRequest("PGRST108", fmt.Sprintf("'%s' is not an embedded resource in this request", name))
		}
	}
	return sel, rels, nil
}

func localKeys(rels []relation) []string {
	keys := make([]string, 0, len(rels))
	for _, r := range rels {
		keys = append(keys, r.localKey)
	}
	return keys
}

// embed loads each relation with one IN query and attaches the result to
// the parent rows under the embed name.
func (s *Store) embed(ctx context.Context, q queryer, rows []rowstore.Row, specs []embedSpec, rels []relation, embedded map[string][]rowstore.Filter) error {
	for i, spec := range specs {
		rel := rels[i]

		var keys []any
		seen := make(map[string]bool)
		for _, row := range rows {
			v := row[rel.localKey]
			if v == nil || seen[fmt.Sprint(v)] {
				continue
			}
			seen[fmt.Sprint(v)] = true
			keys = append(keys, v)
		}

		related := map[string][]rowstore.Row{}
		if len(keys) > 0 {
			where, args, err := whereClause(embedded[spec.name], rel.remoteKey+" IN (?)")
			if err != nil {
				return err
			}
			query, inArgs, err := sqlx.In("SELECT "+columnList(spec.columns, rel.remoteKey)+" FROM "+rel.target+where+" ORDER BY id", append(args, keys)...)
			if err != nil {
				return err
			}
			found, err := s.query(ctx, q, query, inArgs)
			if err != nil {
				return err
			}
			for _, r := range found {
				k := fmt.Sprint(r[rel.remoteKey])
				related[k] = append(related[k], r)
			}
		}

		for _, row := range rows {
			matches := related[fmt.Sprint(row[rel.localKey])]
			if row[rel.localKey] == nil {
				matches = nil
			}
			if rel.toMany {
				if matches == nil {
					matches = []rowstore.Row{}
				}
				row[spec.name] = matches
				continue
			}
			if len(matches) > 0 {
				row[spec.name] = matches[0]
			} else {
				row[spec.name] = nil
			}
		}
	}
	return nil
}

// matchIDs returns the ids of the rows the request's filters select.
func (s *Store) matchIDs(ctx context.Context, q queryer, req *rowstore.Request) ([]any, error) {
	plain, embedded := splitFilters(req.Filters)
	if len(embedded) > 0 {
		return nil, badRequest("PGRST100", fmt.Sprintf("%s on %s cannot filter embedded resources", req.Method, req.Table))
	}
	where, args, err := whereClause(plain)
	if err != nil {
		return nil, err
	}
	query := "SELECT id FROM " + req.Table + where + " ORDER BY id"
	if s.mysql() {
		// A locking read sees rows as committed by a concurrent writer, so
		// a conditional write matches each row at most once.
		query += " FOR UPDATE"
	}
	rows, err := s.query(ctx, q, query, args)
	if err != nil {
		return nil, err
	}
	ids := make([]any, len(rows))
	for i, r := range rows {
		ids[i] = r["id"]
	}
	return ids, nil
}

// rowsByID re-reads rows after a write, honoring the request's select and
// cardinality.
func (s *Store) rowsByID(ctx context.Context, q queryer, req *rowstore.Request, ids []any) (*rowstore.Response, error) {
	if len(ids) == 0 {
		rows, err := rowstore.CheckCardinality(req, nil)
		if err != nil {
			return nil, err
		}
		return &rowstore.Response{Rows: rows}, nil
	}
	sel, rels, err := s.prepareSelect(req.Table, req.Columns, nil)
	if err != nil {
		return nil, err
	}
	query, args, err := sqlx.In("SELECT "+columnList(sel.columns, localKeys(rels)...)+" FROM "+req.Table+" WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, q, query, args)
	if err != nil {
		return nil, err
	}
	if err := s.embed(ctx, q, rows, sel.embeds, rels, nil); err != nil {
		return nil, err
	}
	rows, err = rowstore.CheckCardinality(req, rows)
	if err != nil {
		return nil, err
	}
	return &rowstore.Response{Rows: rows, Count: len(rows)}, nil
}

func (s *Store) insert(ctx context.Context, q queryer, req *rowstore.Request) (*rowstore.Response, error) {
	ids := make([]any, 0, len(req.Values))
	for _, values := range req.Values {
		cols, args, err := columnsAndArgs(values)
		if err != nil {
			return nil, err
		}
		var query string
		switch {
		case len(cols) > 0:
			query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", req.Table, strings.Join(cols, ", "), placeholders(len(cols)))
		case s.mysql():
			query = "INSERT INTO " + req.Table + " () VALUES ()"
		default:
			query = "INSERT INTO " + req.Table + " DEFAULT VALUES"
		}
		res, err := s.exec(ctx, q, query, args)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read inserted id: %w", err)
		}
		ids = append(ids, id)
	}
	if !req.ReturnRows {
		return &rowstore.Response{Rows: []rowstore.Row{}, Count: len(ids)}, nil
	}
	return s.rowsByID(ctx, q, req, ids)
}

func (s *Store) update(ctx context.Context, q queryer, req *rowstore.Request) (*rowstore.Response, error) {
	if len(req.Values) != 1 || len(req.Values[0]) == 0 {
		return nil, badRequest("PGRST102", "update requires a non-empty set of values")
	}
	ids, err := s.matchIDs(ctx, q, req)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		cols, args, err := columnsAndArgs(req.Values[0])
		if err != nil {
			return nil, err
		}
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = c + " = ?"
		}
		query, inArgs, err := sqlx.In("UPDATE "+req.Table+" SET "+strings.Join(sets, ", ")+" WHERE id IN (?)", append(args, ids)...)
		if err != nil {
			return nil, err
		}
		if _, err := s.exec(ctx, q, query, inArgs); err != nil {
			return nil, err
		}
	}
	if !req.ReturnRows {
		return &rowstore.Response{Rows: []rowstore.Row{}, Count: len(ids)}, nil
	}
	return s.rowsByID(ctx, q, req, ids)
}

func (s *Store) delete(ctx context.Context, q queryer, req *rowstore.Request) (*rowstore.Response, error) {
	ids, err := s.matchIDs(ctx, q, req)
	if err != nil {
		return nil, err
	}
	resp := &rowstore.Response{Rows: []rowstore.Row{}, Count: len(ids)}
	if req.ReturnRows {
		if resp, err = s.rowsByID(ctx, q, req, ids); err != nil {
			return nil, err
		}
	}
	if len(ids) > 0 {
		query, args, err := sqlx.In("DELETE FROM "+req.Table+" WHERE id IN (?)", ids)
		if err != nil {
			return nil, err
		}
		if _, err := s.exec(ctx, q, query, args); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func columnsAndArgs(values rowstore.Row) ([]string, []any, error) {
	cols := make([]string, 0, len(values))
	for c := range values {
		if err := validIdent(c); err != nil {
			return nil, nil, err
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = bindValue(values[c])
	}
	return cols, args, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// bindValue stores nested objects and lists as JSON text.
func bindValue(v any) any {
	switch v.(type) {
	case nil, string, []byte, bool, time.Time,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Struct:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return bindValue(rv.Elem().Interface())
	}
	return v
}

func readValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		var out int64
		fmt.Sscan(n, &out)
		return out
	}
	return 0
}

// translate maps constraint violations from either driver to the Postgres
// error codes callers match on.
func translate(err error) error {
	var se *rowstore.Error
	if errors.As(err, &se) {
		return err
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1062:
			return &rowstore.Error{Status: 409, Code: "23505", Message: "duplicate key value violates unique constraint", Details: me.Message}
		case 1451, 1452:
			return &rowstore.Error{Status: 409, Code: "23503", Message: "violates foreign key constraint", Details: me.Message}
		}
		return fmt.Errorf("sqlstore: %w", err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return &rowstore.Error{Status: 409, Code: "23505", Message: "duplicate key value violates unique constraint", Details: msg}
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return &rowstore.Error{Status: 409, Code: "23503", Message: "violates foreign key constraint", Details: msg}
	case strings.Contains(msg, "no such table"), strings.Contains(msg, "no such column"):
		return &rowstore.Error{Status: 400, Code: "42P01", Message: msg}
	}
	return fmt.Errorf("sqlstore: %w", err)
}
