package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"medeasy/pharmacy/internal/rowstore"
)

var testSchema = []string{
	`CREATE TABLE pharmacies (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE)`,
	`CREATE TABLE branches (id INTEGER PRIMARY KEY AUTOINCREMENT, pharmacy_id INTEGER NOT NULL, name TEXT NOT NULL)`,
	`CREATE TABLE medicines (id INTEGER PRIMARY KEY AUTOINCREMENT, branch_id INTEGER, name TEXT NOT NULL, unit_price REAL NOT NULL DEFAULT 0, meta TEXT)`,
	`CREATE TABLE stocks (id INTEGER PRIMARY KEY AUTOINCREMENT, medicine_id INTEGER NOT NULL, branch_id INTEGER NOT NULL, quantity INTEGER NOT NULL)`,
}

var testKeys = []ForeignKey{
	{Table: "branches", Column: "pharmacy_id", References: "pharmacies"},
	{Table: "medicines", Column: "branch_id", References: "branches"},
	{Table: "stocks", Column: "medicine_id", References: "medicines"},
	{Table: "stocks", Column: "branch_id", References: "branches"},
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	for _, stmt := range testSchema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return New(db, testKeys)
}

func mustDo(t *testing.T, s rowstore.Client, req *rowstore.Request) *rowstore.Response {
	t.Helper()
	resp, err := s.Do(context.Background(), req)
	require.NoError(t, err, req.String())
	return resp
}

// seedCatalog creates two pharmacies, three branches and a few medicines.
func seedCatalog(t *testing.T, s *Store) {
	t.Helper()
	mustDo(t, s, rowstore.From("pharmacies").Insert(
		rowstore.Row{"name": "Alpha"},
		rowstore.Row{"name": "Beta"},
	))
	mustDo(t, s, rowstore.From("branches").Insert(
		rowstore.Row{"pharmacy_id": 1, "name": "Alpha Main"},
		rowstore.Row{"pharmacy_id": 1, "name": "Alpha North"},
		rowstore.Row{"pharmacy_id": 2, "name": "Beta Main"},
	))
	mustDo(t, s, rowstore.From("medicines").Insert(
		rowstore.Row{"branch_id": 1, "name": "Paracetamol", "unit_price": 2.5},
		rowstore.Row{"branch_id": 1, "name": "Amoxicillin", "unit_price": 7.0},
		rowstore.Row{"branch_id": 3, "name": "Ibuprofen", "unit_price": 3.0},
		rowstore.Row{"name": "Loose Catalog Entry"},
	))
	mustDo(t, s, rowstore.From("stocks").Insert(
		rowstore.Row{"medicine_id": 1, "branch_id": 1, "quantity": 40},
		rowstore.Row{"medicine_id": 2, "branch_id": 1, "quantity": 5},
		rowstore.Row{"medicine_id": 1, "branch_id": 2, "quantity": 12},
	))
}

func names(rows []rowstore.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r["name"].(string)
	}
	return out
}

func TestInsertReturnsRowsByID(t *testing.T) {
	s := newTestStore(t)

	resp := mustDo(t, s, rowstore.From("pharmacies").Insert(rowstore.Row{"name": "Alpha"}).Returning().Single())
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, int64(1), resp.Rows[0]["id"])
	assert.Equal(t, "Alpha", resp.Rows[0]["name"])

	resp = mustDo(t, s, rowstore.From("pharmacies").Insert(rowstore.Row{"name": "Beta"}, rowstore.Row{"name": "Gamma"}).Returning())
	assert.Equal(t, []string{"Beta", "Gamma"}, names(resp.Rows))

	resp = mustDo(t, s, rowstore.From("pharmacies").Insert(rowstore.Row{"name": "Delta"}))
	assert.Empty(t, resp.Rows)
}

func TestSelectFiltersOrderAndWindow(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	testCases := []struct {
		name string
		req  *rowstore.Request
		want []string
	}{
		{
			name: "eq",
			req:  rowstore.From("medicines").Eq("branch_id", 1).Order("id", true),
			want: []string{"Paracetamol", "Amoxicillin"},
		},
		{
			name: "range of prices",
			req:  rowstore.From("medicines").Gte("unit_price", 2.5).Lte("unit_price", 3.0).Order("unit_price", false),
			want: []string{"Ibuprofen", "Paracetamol"},
		},
		{
			name: "ilike ignores case",
			req:  rowstore.From("medicines").ILike("name", "%CILLIN%"),
			want: []string{"Amoxicillin"},
		},
		{
			name: "window",
			req:  rowstore.From("medicines").Order("name", true).Range(1, 2),
			want: []string{"Ibuprofen", "Loose Catalog Entry"},
		},
		{
			name: "limit",
			req:  rowstore.From("medicines").Order("id", false).Limit(1),
			want: []string{"Loose Catalog Entry"},
		},
		{
			name: "no matches",
			req:  rowstore.From("medicines").Eq("branch_id", 99),
			want: []string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := mustDo(t, s, tc.req)
			assert.NotNil(t, resp.Rows)
			assert.Equal(t, tc.want, names(resp.Rows))
		})
	}
}

func TestSelectColumns(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	resp := mustDo(t, s, rowstore.From("medicines").Select("name, unit_price").Eq("id", 1))
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, rowstore.Row{"name": "Paracetamol", "unit_price": 2.5}, resp.Rows[0])
}

func TestEmbeds(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	t.Run("to-one by column name", func(t *testing.T) {
		resp := mustDo(t, s, rowstore.From("medicines").Select("*, branch(name)").Order("id", true))
		require.Len(t, resp.Rows, 4)
		assert.Equal(t, "Alpha Main", resp.Rows[0]["branch"].(rowstore.Row)["name"])
		assert.Equal(t, "Beta Main", resp.Rows[2]["branch"].(rowstore.Row)["name"])
		assert.Nil(t, resp.Rows[3]["branch"])
	})

	t.Run("to-one by table name", func(t *testing.T) {
		resp := mustDo(t, s, rowstore.From("branches").Select("name, pharmacies(*)").Eq("id", 3))
		require.Len(t, resp.Rows, 1)
		assert.Equal(t, "Beta", resp.Rows[0]["pharmacies"].(rowstore.Row)["name"])
	})

	t.Run("to-many", func(t *testing.T) {
		resp := mustDo(t, s, rowstore.From("branches").Select("*, stocks(*)").Order("id", true))
		require.Len(t, resp.Rows, 3)
		assert.Len(t, resp.Rows[0]["stocks"], 2)
		assert.Len(t, resp.Rows[1]["stocks"], 1)
		assert.Equal(t, []rowstore.Row{}, resp.Rows[2]["stocks"])
	})

	t.Run("dotted filter constrains the embed only", func(t *testing.T) {
		resp := mustDo(t, s, rowstore.From("medicines").
			Select("*, branch(*)").
			Eq("branch.pharmacy_id", 1).
			Order("id", true))
		require.Len(t, resp.Rows, 4)
		assert.NotNil(t, resp.Rows[0]["branch"])
		assert.NotNil(t, resp.Rows[1]["branch"])
		assert.Nil(t, resp.Rows[2]["branch"])
	})

	t.Run("dotted filter without embed", func(t *testing.T) {
		_, err := s.Do(context.Background(), rowstore.From("medicines").Eq("branch.pharmacy_id", 1))
		var se *rowstore.Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "PGRST108", se.Code)
	})

	t.Run("unknown relation", func(t *testing.T) {
		_, err := s.Do(context.Background(), rowstore.From("medicines").Select("*, supplier(*)"))
		var se *rowstore.Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "PGRST200", se.Code)
		assert.Equal(t, 400, se.Status)
	})
}

func TestHeadCount(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	resp := mustDo(t, s, rowstore.From("stocks").Eq("medicine_id", 1).Head())
	assert.Equal(t, 2, resp.Count)
	assert.Empty(t, resp.Rows)

	resp = mustDo(t, s, rowstore.From("stocks").Head())
	assert.Equal(t, 3, resp.Count)
}

func TestHeadCountRejectsRelationFilters(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	resp, err := s.Do(context.Background(), rowstore.From("branches").Eq("pharmacy.name", "NoSuchPharmacy").Head())
	assert.Nil(t, resp)
	var se *rowstore.Error
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "PGRST108", se.Code)
	assert.Equal(t, 400, se.Status)
}

func TestCardinality(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	_, err := s.Do(context.Background(), rowstore.From("medicines").Eq("id", 42).Single())
	assert.ErrorIs(t, err, rowstore.ErrNoRows)

	resp, err := s.Do(context.Background(), rowstore.From("medicines").Eq("id", 42).MaybeSingle())
	require.NoError(t, err)
	assert.Nil(t, resp.First())

	_, err = s.Do(context.Background(), rowstore.From("medicines").Eq("branch_id", 1).MaybeSingle())
	assert.ErrorIs(t, err, rowstore.ErrMultipleRows)
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	resp := mustDo(t, s, rowstore.From("stocks").Eq("id", 2).Update(rowstore.Row{"quantity": 0}).Returning().Single())
	assert.Equal(t, int64(0), resp.Rows[0]["quantity"])

	resp = mustDo(t, s, rowstore.From("stocks").Eq("medicine_id", 1).Update(rowstore.Row{"quantity": 1}).Returning())
	assert.Len(t, resp.Rows, 2)

	_, err := s.Do(context.Background(), rowstore.From("stocks").Eq("id", 99).Update(rowstore.Row{"quantity": 1}).Returning().Single())
	assert.ErrorIs(t, err, rowstore.ErrNoRows)

	_, err = s.Do(context.Background(), rowstore.From("stocks").Update(rowstore.Row{}))
	assert.Error(t, err)
}

func TestSingleUpdateOnManyRowsRollsBack(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	_, err := s.Do(context.Background(), rowstore.From("stocks").Eq("branch_id", 1).Update(rowstore.Row{"quantity": 0}).Returning().Single())
	assert.ErrorIs(t, err, rowstore.ErrMultipleRows)

	resp := mustDo(t, s, rowstore.From("stocks").Eq("branch_id", 1).Order("id", true))
	assert.Equal(t, int64(40), resp.Rows[0]["quantity"])
	assert.Equal(t, int64(5), resp.Rows[1]["quantity"])
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	resp := mustDo(t, s, rowstore.From("stocks").Eq("branch_id", 1).Delete().Returning())
	assert.Len(t, resp.Rows, 2)

	resp = mustDo(t, s, rowstore.From("stocks").Head())
	assert.Equal(t, 1, resp.Count)

	resp = mustDo(t, s, rowstore.From("stocks").Eq("branch_id", 1).Delete().Returning())
	assert.Empty(t, resp.Rows)
}

func TestTransactions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	mustDo(t, tx, rowstore.From("pharmacies").Insert(rowstore.Row{"name": "Rolled Back"}))
	_, err = tx.(*Tx).Begin(ctx)
	assert.ErrorIs(t, err, ErrNestedTx)
	require.NoError(t, tx.Rollback())

	resp := mustDo(t, s, rowstore.From("pharmacies").Head())
	assert.Equal(t, 0, resp.Count)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	mustDo(t, tx, rowstore.From("pharmacies").Insert(rowstore.Row{"name": "Kept"}))
	mustDo(t, tx, rowstore.From("pharmacies").Eq("name", "Kept").Update(rowstore.Row{"name": "Kept Renamed"}))
	require.NoError(t, tx.Commit())

	resp = mustDo(t, s, rowstore.From("pharmacies").Select("name"))
	assert.Equal(t, []string{"Kept Renamed"}, names(resp.Rows))
}

func TestErrors(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)
	ctx := context.Background()

	testCases := []struct {
		name string
		req  *rowstore.Request
		code string
	}{
		{name: "bad table", req: rowstore.From("medicines; drop table x"), code: "PGRST100"},
		{name: "bad column", req: rowstore.From("medicines").Eq("name = name --", 1), code: "PGRST100"},
		{name: "bad order", req: rowstore.From("medicines").Order("id desc", true), code: "PGRST100"},
		{name: "bad select", req: rowstore.From("medicines").Select("*, branch(name"), code: "PGRST100"},
		{name: "nested embed", req: rowstore.From("stocks").Select("*, medicine(*, branch(*))"), code: "PGRST100"},
		{name: "duplicate", req: rowstore.From("pharmacies").Insert(rowstore.Row{"name": "Alpha"}), code: "23505"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Do(ctx, tc.req)
			var se *rowstore.Error
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tc.code, se.Code)
		})
	}

	_, err := s.Do(ctx, rowstore.From("pharmacies").Insert(rowstore.Row{"name": "Alpha"}))
	assert.True(t, rowstore.IsConflict(err))
}

func TestNestedValuesStoredAsJSON(t *testing.T) {
	s := newTestStore(t)

	resp := mustDo(t, s, rowstore.From("medicines").Insert(rowstore.Row{
		"name": "Syrup",
		"meta": map[string]any{"flavours": []string{"cherry"}},
	}).Returning().Single())
	assert.JSONEq(t, `{"flavours":["cherry"]}`, resp.Rows[0]["meta"].(string))
}

func TestParseSelect(t *testing.T) {
	testCases := []struct {
		in      string
		columns []string
		embeds  []embedSpec
	}{
		{in: "*"},
		{in: "", columns: nil},
		{in: "id, name", columns: []string{"id", "name"}},
		{in: "*, branch(*)", embeds: []embedSpec{{name: "branch"}}},
		{
			in:      "name, user(full_name, email), sale_items(*)",
			columns: []string{"name"},
			embeds:  []embedSpec{{name: "user", columns: []string{"full_name", "email"}}, {name: "sale_items"}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			sel, err := parseSelect(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.columns, sel.columns)
			assert.Equal(t, tc.embeds, sel.embeds)
		})
	}
}
