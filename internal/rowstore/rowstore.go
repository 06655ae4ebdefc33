// Package rowstore describes the row-level data API the backend is built on:
// a table addressed by name, equality/range/pattern filters, one ordering
// column, offset ranges and shallow relational embedding. Implementations live
// in the rest (PostgREST over HTTP) and sqlstore (sqlx) subpackages.
package rowstore

import (
	"context"
	"fmt"
)

// Row is a single record keyed by physical column name.
type Row = map[string]any

// Op is a filter operator understood by every store.
type Op string

const (
	OpEq    Op = "eq"
	OpGte   Op = "gte"
	OpLte   Op = "lte"
	OpILike Op = "ilike"
)

// Filter constrains rows. A dotted column ("branch.pharmacy_id") filters the
// embedded relation named before the dot, not the parent rows.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Order sorts by a single column.
type Order struct {
	Column    string
	Ascending bool
}

// Range is an inclusive offset window.
type Range struct {
	From int
	To   int
}

// Method is the kind of statement a request issues.
type Method int

const (
	MethodSelect Method = iota
	MethodInsert
	MethodUpdate
	MethodDelete
)

func (m Method) String() string {
	switch m {
	case MethodSelect:
		return "select"
	case MethodInsert:
		return "insert"
	case MethodUpdate:
		return "update"
	case MethodDelete:
		return "delete"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// Cardinality is the number of rows a caller expects back.
type Cardinality int

const (
	// Many returns every matching row.
	Many Cardinality = iota
	// One fails with ErrNoRows or ErrMultipleRows unless exactly one row matches.
	One
	// MaybeOne returns zero or one row and fails with ErrMultipleRows otherwise.
	MaybeOne
)

// Response carries the rows (or the count for head requests) of a request.
type Response struct {
	Rows  []Row
	Count int
}

// First returns the first row or nil.
func (r *Response) First() Row {
	if r == nil || len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}

// Client executes requests. A call returns either a response or an error,
// never both.
type Client interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Tx is a client bound to a store transaction.
type Tx interface {
	Client
	Commit() error
	Rollback() error
}

// Transactor is implemented by stores that can group requests atomically.
type Transactor interface {
	Begin(ctx context.Context) (Tx, error)
}

// CheckCardinality applies the request's cardinality to rows returned by a
// store that always answers with a list.
func CheckCardinality(req *Request, rows []Row) ([]Row, error) {
	switch req.Expect {
	case One:
		if len(rows) == 0 {
			return nil, ErrNoRows
		}
		if len(rows) > 1 {
			return nil, ErrMultipleRows
		}
	case MaybeOne:
		if len(rows) > 1 {
			return nil, ErrMultipleRows
		}
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}
