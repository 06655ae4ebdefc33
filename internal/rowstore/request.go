package rowstore

import (
	"fmt"
	"strings"
)

// Request is a single statement against one table, assembled with the
// builder methods below:
//
//	rowstore.From("sales").Select("*, branch(*)").Eq("pharmacy_id", 7).Order("created_at", false)
type Request struct {
	Table     string
	Method    Method
	Columns   string
	Filters   []Filter
	Ordering  *Order
	Window    *Range
	MaxRows   int
	Values    []Row
	CountOnly bool
	// ReturnRows asks insert/update/delete to hand back the affected rows.
	ReturnRows bool
	Expect     Cardinality
}

// From starts a select on table.
func From(table string) *Request {
	return &Request{Table: table, Method: MethodSelect, Columns: "*"}
}

// Select sets the column list, including embeds such as "*, branch(*)".
func (r *Request) Select(columns string) *Request {
	if strings.TrimSpace(columns) == "" {
		columns = "*"
	}
	r.Columns = columns
	return r
}

func (r *Request) Filter(column string, op Op, value any) *Request {
	r.Filters = append(r.Filters, Filter{Column: column, Op: op, Value: value})
	return r
}

func (r *Request) Eq(column string, value any) *Request {
	return r.Filter(column, OpEq, value)
}

func (r *Request) Gte(column string, value any) *Request {
	return r.Filter(column, OpGte, value)
}

func (r *Request) Lte(column string, value any) *Request {
	return r.Filter(column, OpLte, value)
}

// ILike matches a case-insensitive pattern using % and _ wildcards.
func (r *Request) ILike(column, pattern string) *Request {
	return r.Filter(column, OpILike, pattern)
}

func (r *Request) Order(column string, ascending bool) *Request {
	r.Ordering = &Order{Column: column, Ascending: ascending}
	return r
}

// Range limits the result to offsets from..to inclusive.
func (r *Request) Range(from, to int) *Request {
	r.Window = &Range{From: from, To: to}
	return r
}

func (r *Request) Limit(n int) *Request {
	r.MaxRows = n
	return r
}

// Insert turns the request into an insert of rows.
func (r *Request) Insert(rows ...Row) *Request {
	r.Method = MethodInsert
	r.Values = rows
	return r
}

// Update turns the request into an update of the filtered rows.
func (r *Request) Update(values Row) *Request {
	r.Method = MethodUpdate
	r.Values = []Row{values}
	return r
}

// Delete turns the request into a delete of the filtered rows.
func (r *Request) Delete() *Request {
	r.Method = MethodDelete
	return r
}

// Head requests an exact row count without fetching rows.
func (r *Request) Head() *Request {
	r.CountOnly = true
	return r
}

func (r *Request) Returning() *Request {
	r.ReturnRows = true
	return r
}

func (r *Request) Single() *Request {
	r.Expect = One
	return r
}

func (r *Request) MaybeSingle() *Request {
	r.Expect = MaybeOne
	return r
}

// Pagination reports the offset and row limit the request asks for; limit
// is zero when unbounded.
func (r *Request) Pagination() (offset, limit int) {
	if r.Window != nil {
		return r.Window.From, r.Window.To - r.Window.From + 1
	}
	return 0, r.MaxRows
}

func (r *Request) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s select=%q", r.Method, r.Table, r.Columns)
	for _, f := range r.Filters {
		fmt.Fprintf(&b, " %s=%s.%v", f.Column, f.Op, f.Value)
	}
	if r.Ordering != nil {
		dir := "desc"
		if r.Ordering.Ascending {
			dir = "asc"
		}
		fmt.Fprintf(&b, " order=%s.%s", r.Ordering.Column, dir)
	}
	if r.Window != nil {
		fmt.Fprintf(&b, " range=%d-%d", r.Window.From, r.Window.To)
	} else if r.MaxRows > 0 {
		fmt.Fprintf(&b, " limit=%d", r.MaxRows)
	}
	if r.CountOnly {
		b.WriteString(" head")
	}
	return b.String()
}
