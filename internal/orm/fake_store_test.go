package orm

import (
	"context"
	"fmt"
	"sync"

	"medeasy/pharmacy/internal/rowstore"
)

// fakeStore is an in-memory rowstore.Client that records every request and
// understands equality filters on plain columns, enough to drive the shim.
type fakeStore struct {
	mu       sync.Mutex
	tables   map[string][]rowstore.Row
	nextID   int64
	requests []*rowstore.Request

	// failAfter makes the n-th request (1-based) and every later one fail with failErr.
	failAfter int
	failErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: make(map[string][]rowstore.Row), nextID: 1}
}

func (s *fakeStore) failFrom(n int, err error) *fakeStore {
	s.failAfter = n
	s.failErr = err
	return s
}

func (s *fakeStore) seed(table string, rows ...rowstore.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		row := copyRow(r)
		if _, ok := row["id"]; !ok {
			row["id"] = s.nextID
			s.nextID++
		}
		s.tables[table] = append(s.tables[table], row)
	}
}

func (s *fakeStore) last() *rowstore.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

func (s *fakeStore) Do(_ context.Context, req *rowstore.Request) (*rowstore.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.failAfter > 0 && len(s.requests) >= s.failAfter {
		return nil, s.failErr
	}

	var rows []rowstore.Row
	switch req.Method {
	case rowstore.MethodSelect:
		rows = s.match(req)
		if req.CountOnly {
			return &rowstore.Response{Count: len(rows)}, nil
		}
		offset, limit := req.Pagination()
		rows = window(rows, offset, limit)
	case rowstore.MethodInsert:
		for _, v := range req.Values {
			row := copyRow(v)
			row["id"] = s.nextID
			s.nextID++
			s.tables[req.Table] = append(s.tables[req.Table], row)
			rows = append(rows, copyRow(row))
		}
	case rowstore.MethodUpdate:
		for _, row := range s.match(req) {
			for k, v := range req.Values[0] {
				row[k] = v
			}
			rows = append(rows, copyRow(row))
		}
	case rowstore.MethodDelete:
		matched := s.match(req)
		kept := s.tables[req.Table][:0]
		for _, row := range s.tables[req.Table] {
			if !contains(matched, row) {
				kept = append(kept, row)
			}
		}
		s.tables[req.Table] = kept
		for _, row := range matched {
			rows = append(rows, copyRow(row))
		}
	default:
		return nil, fmt.Errorf("fake store: unsupported method %s", req.Method)
	}

	rows, err := rowstore.CheckCardinality(req, rows)
	if err != nil {
		return nil, err
	}
	return &rowstore.Response{Rows: rows, Count: len(rows)}, nil
}

func (s *fakeStore) match(req *rowstore.Request) []rowstore.Row {
	var out []rowstore.Row
	for _, row := range s.tables[req.Table] {
		ok := true
		for _, f := range req.Filters {
			if f.Op != rowstore.OpEq || fmt.Sprint(row[f.Column]) != fmt.Sprint(f.Value) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	return out
}

func window(rows []rowstore.Row, offset, limit int) []rowstore.Row {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func contains(rows []rowstore.Row, row rowstore.Row) bool {
	for _, r := range rows {
		if fmt.Sprint(r["id"]) == fmt.Sprint(row["id"]) {
			return true
		}
	}
	return false
}

func copyRow(r rowstore.Row) rowstore.Row {
	out := make(rowstore.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// fakeTxStore adds rowstore.Transactor to fakeStore, tracking how the
// transaction ended.
type fakeTxStore struct {
	*fakeStore
	committed  bool
	rolledBack bool
	beginErr   error
}

func (s *fakeTxStore) Begin(context.Context) (rowstore.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &fakeTx{parent: s}, nil
}

type fakeTx struct {
	parent *fakeTxStore
}

func (t *fakeTx) Do(ctx context.Context, req *rowstore.Request) (*rowstore.Response, error) {
	return t.parent.fakeStore.Do(ctx, req)
}

func (t *fakeTx) Commit() error {
	t.parent.committed = true
	return nil
}

func (t *fakeTx) Rollback() error {
	t.parent.rolledBack = true
	return nil
}
