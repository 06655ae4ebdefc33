package orm

import (
	"context"
	"fmt"

	"medeasy/pharmacy/internal/rowstore"
)

// Model runs queries against one entity's table. Every entity gets the same
// behavior; only the resolved table differs.
type Model struct {
	entity Entity
	table  string
	client *Client
}

// Entity returns the logical name the model was built for.
func (m *Model) Entity() Entity { return m.entity }

// Table returns the physical table name.
func (m *Model) Table() string { return m.table }

func (m *Model) do(ctx context.Context, req *rowstore.Request) (*rowstore.Response, error) {
	if m.client.logQueries {
		m.client.logger.Printf("[ORM] %s: %s", m.entity, req)
	}
	return m.client.store.Do(ctx, req)
}

// FindUnique returns the row matching key, or nil when none does.
func (m *Model) FindUnique(ctx context.Context, key UniqueKey, include Include) (Row, error) {
	req := rowstore.From(m.table).Select(include.projection(nil))
	req = key.apply(req).MaybeSingle()

	res, err := m.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.First(), nil
}

// FindFirst returns the first row matching args, or nil when none does.
// Pagination fields are ignored.
func (m *Model) FindFirst(ctx context.Context, args FindArgs) (Row, error) {
	req := args.request(m.table).Limit(1).MaybeSingle()

	res, err := m.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.First(), nil
}

// FindMany returns every row matching args. The result is never nil.
func (m *Model) FindMany(ctx context.Context, args FindArgs) ([]Row, error) {
	req := args.request(m.table)
	args.paginate(req)

	res, err := m.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Rows == nil {
		return []Row{}, nil
	}
	return res.Rows, nil
}

// Create inserts data and returns the stored row with generated columns.
func (m *Model) Create(ctx context.Context, data Data) (Row, error) {
	req := rowstore.From(m.table).Insert(snakeRow(data)).Returning().Single()

	res, err := m.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.First(), nil
}

// Update changes the row selected by an id or txRef key and returns it.
// A key matching no row fails with the store's no-rows error.
func (m *Model) Update(ctx context.Context, key UniqueKey, data Data) (Row, error) {
	if key.field != "id" && key.field != "txRef" {
		return nil, fmt.Errorf("%w: %s update by %q", ErrInvalidKey, m.entity, key.field)
	}
	req := rowstore.From(m.table).Update(snakeRow(data))
	req = key.apply(req).Returning().Single()

	res, err := m.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.First(), nil
}

// UpdateMany applies data to every row matching where.
func (m *Model) UpdateMany(ctx context.Context, where Where, data Data) (BatchResult, error) {
	req := rowstore.From(m.table).Update(snakeRow(data))
	for _, f := range where.Filters() {
		req.Filter(f.Column, f.Op, f.Value)
	}

	res, err := m.do(ctx, req.Returning())
	if err != nil {
		return BatchResult{}, err
	}
	return BatchResult{Count: len(res.Rows)}, nil
}

// Delete removes the row with the given id and returns it.
func (m *Model) Delete(ctx context.Context, id int64) (Row, error) {
	req := rowstore.From(m.table).Delete().Eq("id", id).Returning().Single()

	res, err := m.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.First(), nil
}

// DeleteMany removes every row matching where.
func (m *Model) DeleteMany(ctx context.Context, where Where) (BatchResult, error) {
	req := rowstore.From(m.table).Delete()
	for _, f := range where.Filters() {
		req.Filter(f.Column, f.Op, f.Value)
	}

	res, err := m.do(ctx, req.Returning())
	if err != nil {
		return BatchResult{}, err
	}
	return BatchResult{Count: len(res.Rows)}, nil
}

// Count returns the number of rows matching where.
func (m *Model) Count(ctx context.Context, where Where) (int, error) {
	req := rowstore.From(m.table).Head()
	for _, f := range where.Filters() {
		req.Filter(f.Column, f.Op, f.Value)
	}

	res, err := m.do(ctx, req)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func snakeRow(data Data) rowstore.Row {
	row := snakeMap(data)
	if row == nil {
		row = rowstore.Row{}
	}
	return row
}
