package rowstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestBuilder(t *testing.T) {
	req := From("sales").
		Select("*, branch(*)").
		Eq("pharmacy_id", 7).
		Gte("created_at", "2024-01-01").
		ILike("customer_name", "%abe%").
		Order("created_at", false).
		Range(20, 29)

	assert.Equal(t, MethodSelect, req.Method)
	assert.Equal(t, "*, branch(*)", req.Columns)
	require.Len(t, req.Filters, 3)
	assert.Equal(t, Filter{Column: "pharmacy_id", Op: OpEq, Value: 7}, req.Filters[0])
	assert.Equal(t, OpGte, req.Filters[1].Op)
	assert.Equal(t, OpILike, req.Filters[2].Op)
	assert.Equal(t, &Order{Column: "created_at", Ascending: false}, req.Ordering)

	offset, limit := req.Pagination()
	assert.Equal(t, 20, offset)
	assert.Equal(t, 10, limit)
}

func TestRequestSelectDefaultsToStar(t *testing.T) {
	assert.Equal(t, "*", From("users").Select("  ").Columns)
}

func TestRequestWriteMethods(t *testing.T) {
	ins := From("users").Insert(Row{"email": "a@b.c"}).Returning().Single()
	assert.Equal(t, MethodInsert, ins.Method)
	assert.True(t, ins.ReturnRows)
	assert.Equal(t, One, ins.Expect)

	upd := From("users").Update(Row{"is_active": false}).Eq("id", 1)
	assert.Equal(t, MethodUpdate, upd.Method)
	assert.Equal(t, []Row{{"is_active": false}}, upd.Values)

	del := From("users").Delete().Eq("id", 1)
	assert.Equal(t, MethodDelete, del.Method)

	head := From("users").Head()
	assert.True(t, head.CountOnly)
	assert.Contains(t, head.String(), "head")
}

func TestCheckCardinality(t *testing.T) {
	two := []Row{{"id": 1}, {"id": 2}}

	testCases := []struct {
		name    string
		expect  Cardinality
		rows    []Row
		wantLen int
		wantErr error
	}{
		{name: "many empty", expect: Many, rows: nil, wantLen: 0},
		{name: "many two", expect: Many, rows: two, wantLen: 2},
		{name: "one empty", expect: One, rows: nil, wantErr: ErrNoRows},
		{name: "one two", expect: One, rows: two, wantErr: ErrMultipleRows},
		{name: "maybe empty", expect: MaybeOne, rows: nil, wantLen: 0},
		{name: "maybe two", expect: MaybeOne, rows: two, wantErr: ErrMultipleRows},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := From("users")
			req.Expect = tc.expect
			rows, err := CheckCardinality(req, tc.rows)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, rows)
			assert.Len(t, rows, tc.wantLen)
		})
	}
}

func TestErrorMatching(t *testing.T) {
	decoded := &Error{Status: 406, Code: "PGRST116", Details: "The result contains 0 rows"}
	assert.True(t, IsNoRows(decoded))
	assert.True(t, IsNoRows(fmt.Errorf("load user: %w", ErrNoRows)))
	assert.False(t, errors.Is(ErrMultipleRows, ErrNoRows))

	assert.True(t, IsConflict(&Error{Code: "23505", Message: "duplicate key"}))
	assert.True(t, IsConflict(&Error{Status: 409}))
	assert.False(t, IsConflict(errors.New("boom")))
	assert.Equal(t, "23505: duplicate key (email)", (&Error{Code: "23505", Message: "duplicate key", Details: "email"}).Error())
}
