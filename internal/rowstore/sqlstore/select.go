package sqlstore

import (
	"fmt"
	"regexp"
	"strings"

	"medeasy/pharmacy/internal/rowstore"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validIdent(s string) error {
	if !identRe.MatchString(s) {
		return badRequest("PGRST100", fmt.Sprintf("invalid identifier %q", s))
	}
	return nil
}

func badRequest(code, msg string) *rowstore.Error {
	return &rowstore.Error{Status: 400, Code: code, Message: msg}
}

// embedSpec is one "name(cols)" item of a select expression.
type embedSpec struct {
	name    string
	columns []string
}

// selection is a parsed select expression such as "*, branch(*), user(full_name)".
type selection struct {
	columns []string // nil means every column
	embeds  []embedSpec
}

func parseSelect(expr string) (selection, error) {
	var sel selection
	items, err := splitTopLevel(expr)
	if err != nil {
		return sel, err
	}
	star := false
	for _, item := range items {
		open := strings.IndexByte(item, '(')
		if open < 0 {
			if item == "*" {
				star = true
				continue
			}
			if err := validIdent(item); err != nil {
				return sel, err
			}
			sel.columns = append(sel.columns, item)
			continue
		}
		if !strings.HasSuffix(item, ")") {
			return sel, badRequest("PGRST100", fmt.Sprintf("unterminated embed %q", item))
		}
		name := strings.TrimSpace(item[:open])
		if err := validIdent(name); err != nil {
			return sel, err
		}
		inner := item[open+1 : len(item)-1]
		if strings.ContainsAny(inner, "()") {
			return sel, badRequest("PGRST100", fmt.Sprintf("nested embedding under %q is not supported", name))
		}
		cols, err := parseColumns(inner)
		if err != nil {
			return sel, err
		}
		sel.embeds = append(sel.embeds, embedSpec{name: name, columns: cols})
	}
	if star {
		sel.columns = nil
	} else if len(sel.columns) == 0 && len(sel.embeds) == 0 {
		sel.columns = nil
	}
	return sel, nil
}

func parseColumns(list string) ([]string, error) {
	var cols []string
	for _, c := range strings.Split(list, ",") {
		c = strings.TrimSpace(c)
		if c == "*" || c == "" {
			return nil, nil
		}
		if err := validIdent(c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, nil
}

func splitTopLevel(expr string) ([]string, error) {
	var (
		items []string
		depth int
		start int
	)
	for i, r := range expr {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, badRequest("PGRST100", fmt.Sprintf("unbalanced select %q", expr))
			}
		case ',':
			if depth == 0 {
				items = appendItem(items, expr[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, badRequest("PGRST100", fmt.Sprintf("unbalanced select %q", expr))
	}
	return appendItem(items, expr[start:]), nil
}

func appendItem(items []string, item string) []string {
	item = strings.Join(strings.Fields(item), "")
	if item == "" {
		return items
	}
	return append(items, item)
}

// columnList renders cols for a SELECT, making sure every key in required
// is fetched.
func columnList(cols []string, required ...string) string {
	if cols == nil {
		return "*"
	}
	out := append([]string(nil), cols...)
	for _, r := range required {
		if !containsString(out, r) {
			out = append(out, r)
		}
	}
	return strings.Join(out, ", ")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// whereClause renders plain-column filters; the returned string is empty or
// starts with " WHERE ".
func whereClause(filters []rowstore.Filter, extra ...string) (string, []any, error) {
	var (
		parts []string
		args  []any
	)
	for _, f := range filters {
		if err := validIdent(f.Column); err != nil {
			return "", nil, err
		}
		switch f.Op {
		case rowstore.OpEq:
			parts = append(parts, f.Column+" = ?")
		case rowstore.OpGte:
			parts = append(parts, f.Column+" >= ?")
		case rowstore.OpLte:
			parts = append(parts, f.Column+" <= ?")
		case rowstore.OpILike:
			parts = append(parts, "LOWER("+f.Column+") LIKE LOWER(?)")
		default:
			return "", nil, badRequest("PGRST100", fmt.Sprintf("unsupported operator %q", f.Op))
		}
		args = append(args, bindValue(f.Value))
	}
	parts = append(parts, extra...)
	if len(parts) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// splitFilters separates plain filters from dotted embed filters, keyed by
// embed name.
func splitFilters(filters []rowstore.Filter) ([]rowstore.Filter, map[string][]rowstore.Filter) {
	var plain []rowstore.Filter
	embedded := make(map[string][]rowstore.Filter)
	for _, f := range filters {
		rel, col, ok := strings.Cut(f.Column, ".")
		if !ok {
			plain = append(plain, f)
			continue
		}
		embedded[rel] = append(embedded[rel], rowstore.Filter{Column: col, Op: f.Op, Value: f.Value})
	}
	return plain, embedded
}
