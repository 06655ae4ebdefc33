package orm

import (
	"reflect"
	"sort"
	"strings"

	"medeasy/pharmacy/internal/rowstore"
)

// Row is a record as returned by the store, keyed by column name.
type Row = rowstore.Row

// Data is a create or update payload keyed by application field name.
type Data map[string]any

// Where is an equality filter set keyed by application field name.
//
// A nil value (untyped or a nil pointer, map or slice) adds no constraint:
// filtering on NULL is not expressible. A nested Where or map[string]any
// adds one equality per non-nil entry on the dotted path "field.sub_field",
// which the store applies to the embedded relation of that name. A Cond
// value adds a range or pattern filter.
type Where map[string]any

// Cond is a non-equality filter value for Where.
type Cond struct {
	gte     any
	lte     any
	pattern *string
}

// Gte matches values greater than or equal to v.
func Gte(v any) Cond { return Cond{gte: v} }

// Lte matches values less than or equal to v.
func Lte(v any) Cond { return Cond{lte: v} }

// Between matches the inclusive range [from, to]; a nil bound is open.
func Between(from, to any) Cond { return Cond{gte: from, lte: to} }

// ILike matches a case-insensitive pattern using % and _ wildcards.
func ILike(pattern string) Cond { return Cond{pattern: &pattern} }

// Contains matches values containing s, ignoring case.
func Contains(s string) Cond { return ILike("%" + s + "%") }

func (c Cond) filters(column string) []rowstore.Filter {
	var out []rowstore.Filter
	if v, ok := present(c.gte); ok {
		out = append(out, rowstore.Filter{Column: column, Op: rowstore.OpGte, Value: v})
	}
	if v, ok := present(c.lte); ok {
		out = append(out, rowstore.Filter{Column: column, Op: rowstore.OpLte, Value: v})
	}
	if c.pattern != nil {
		out = append(out, rowstore.Filter{Column: column, Op: rowstore.OpILike, Value: *c.pattern})
	}
	return out
}

// Filters translates w into store filters in field name order.
func (w Where) Filters() []rowstore.Filter {
	var out []rowstore.Filter
	for _, key := range sortedKeys(w) {
		value, ok := present(w[key])
		if !ok {
			continue
		}
		column := CamelToSnake(key)
		switch v := value.(type) {
		case Cond:
			out = append(out, v.filters(column)...)
		case Where:
			out = append(out, nestedFilters(column, v)...)
		case map[string]any:
			out = append(out, nestedFilters(column, v)...)
		default:
			out = append(out, rowstore.Filter{Column: column, Op: rowstore.OpEq, Value: v})
		}
	}
	return out
}

// Only one level is flattened; a map below the first level is passed as an
// equality value.
func nestedFilters(prefix string, m map[string]any) []rowstore.Filter {
	var out []rowstore.Filter
	for _, key := range sortedKeys(m) {
		value, ok := present(m[key])
		if !ok {
			continue
		}
		column := prefix + "." + CamelToSnake(key)
		if c, isCond := value.(Cond); isCond {
			out = append(out, c.filters(column)...)
			continue
		}
		out = append(out, rowstore.Filter{Column: column, Op: rowstore.OpEq, Value: value})
	}
	return out
}

// present unwraps pointers and reports false for nil values.
func present(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
		v = rv.Interface()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return nil, false
		}
	}
	return v, true
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Relation describes one embedded relation. The zero value (All) embeds
// every column. Select restricts the embedded columns. Include is accepted
// for call-site compatibility but nested relations are not expanded: only
// the first level of an Include reaches the store.
type Relation struct {
	Select  []string
	Include Include
}

// All embeds every column of a relation.
var All = Relation{}

// Include maps relation names to the columns to embed.
type Include map[string]Relation

func (inc Include) projection(columns []string) string {
	base := "*"
	if len(columns) > 0 {
		cols := make([]string, len(columns))
		for i, c := range columns {
			cols[i] = CamelToSnake(c)
		}
		base = strings.Join(cols, ",")
	}
	if len(inc) == 0 {
		return base
	}
	parts := []string{base}
	for _, key := range sortedKeys(inc) {
		parts = append(parts, inc[key].embed(CamelToSnake(key)))
	}
	return strings.Join(parts, ", ")
}

func (r Relation) embed(name string) string {
	if len(r.Select) == 0 {
		return name + "(*)"
	}
	cols := make([]string, len(r.Select))
	for i, c := range r.Select {
		cols[i] = CamelToSnake(c)
	}
	return name + "(" + strings.Join(cols, ",") + ")"
}

// Order sorts by one field. Multi-column ordering is not supported.
type Order struct {
	Field string
	Desc  bool
}

// Asc orders by field ascending.
func Asc(field string) *Order { return &Order{Field: field} }

// Desc orders by field descending.
func Desc(field string) *Order { return &Order{Field: field, Desc: true} }

// FindArgs describes a findFirst or findMany call. A zero Skip or Take means
// the option is absent.
type FindArgs struct {
	Where   Where
	Include Include
	Select  []string
	OrderBy *Order
	Skip    int
	Take    int
}

// DefaultTake is the page size used when Skip is given without Take.
const DefaultTake = 100

func (a FindArgs) request(table string) *rowstore.Request {
	req := rowstore.From(table).Select(a.Include.projection(a.Select))
	for _, f := range a.Where.Filters() {
		req.Filter(f.Column, f.Op, f.Value)
	}
	if a.OrderBy != nil && a.OrderBy.Field != "" {
		req.Order(CamelToSnake(a.OrderBy.Field), !a.OrderBy.Desc)
	}
	return req
}

func (a FindArgs) paginate(req *rowstore.Request) {
	switch {
	case a.Skip > 0:
		take := a.Take
		if take <= 0 {
			take = DefaultTake
		}
		req.Range(a.Skip, a.Skip+take-1)
	case a.Take > 0:
		req.Limit(a.Take)
	}
}

// UniqueKey selects a single row by one of the recognized unique fields.
// The zero key applies no filter.
type UniqueKey struct {
	field string
	value any
}

func ByID(id int64) UniqueKey        { return UniqueKey{field: "id", value: id} }
func ByEmail(email string) UniqueKey { return UniqueKey{field: "email", value: email} }
func ByTxRef(txRef string) UniqueKey { return UniqueKey{field: "txRef", value: txRef} }
func ByName(name string) UniqueKey   { return UniqueKey{field: "name", value: name} }

// Field is the application field name the key filters on.
func (k UniqueKey) Field() string { return k.field }

func (k UniqueKey) isZero() bool { return k.field == "" }

func (k UniqueKey) apply(req *rowstore.Request) *rowstore.Request {
	if k.isZero() {
		return req
	}
	return req.Eq(CamelToSnake(k.field), k.value)
}

// BatchResult reports how many rows a bulk write touched.
type BatchResult struct {
	Count int `json:"count"`
}
