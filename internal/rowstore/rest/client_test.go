package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medeasy/pharmacy/internal/rowstore"
)

type captured struct {
	method string
	path   string
	query  map[string][]string
	header http.Header
	body   string
}

// newServer answers every request with status, headers and body, and records
// the last request it saw.
func newServer(t *testing.T, status int, header map[string]string, body string) (*Client, *captured) {
	t.Helper()
	last := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*last = captured{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			header: r.Header.Clone(),
			body:   string(b),
		}
		for k, v := range header {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/", "anon-key", WithSchema("pharmacy"))
	require.NoError(t, err)
	return c, last
}

func TestSelectRequest(t *testing.T) {
	c, last := newServer(t, 200, nil, `[{"id": 1, "name": "Paracetamol", "branch": {"id": 3}}]`)

	req := rowstore.From("medicines").
		Select("*, branch(*)").
		Eq("branch.pharmacy_id", 7).
		ILike("name", "%para%").
		Gte("created_at", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)).
		Order("name", true).
		Range(20, 29)

	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, last.method)
	assert.Equal(t, "/rest/v1/medicines", last.path)
	assert.Equal(t, []string{"*,branch(*)"}, last.query["select"])
	assert.Equal(t, []string{"eq.7"}, last.query["branch.pharmacy_id"])
	assert.Equal(t, []string{"ilike.*para*"}, last.query["name"])
	assert.Equal(t, []string{"gte.2024-01-01T00:00:00Z"}, last.query["created_at"])
	assert.Equal(t, []string{"name.asc"}, last.query["order"])
	assert.Equal(t, []string{"10"}, last.query["limit"])
	assert.Equal(t, []string{"20"}, last.query["offset"])

	assert.Equal(t, "anon-key", last.header.Get("apikey"))
	assert.Equal(t, "Bearer anon-key", last.header.Get("Authorization"))
	assert.Equal(t, "pharmacy", last.header.Get("Accept-Profile"))
	assert.Empty(t, last.header.Get("Prefer"))

	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "Paracetamol", resp.Rows[0]["name"])
	assert.Equal(t, json.Number("1"), resp.Rows[0]["id"])
	assert.Equal(t, 1, resp.Count)
}

func TestWriteRequests(t *testing.T) {
	testCases := []struct {
		name   string
		req    *rowstore.Request
		method string
		prefer string
		body   string
	}{
		{
			name:   "insert returning",
			req:    rowstore.From("sales").Insert(rowstore.Row{"total_amount": 10}).Returning().Single(),
			method: http.MethodPost,
			prefer: "return=representation",
			body:   `[{"total_amount":10}]`,
		},
		{
			name:   "update",
			req:    rowstore.From("sales").Eq("id", 4).Update(rowstore.Row{"status": "COMPLETED"}),
			method: http.MethodPatch,
			prefer: "return=minimal",
			body:   `{"status":"COMPLETED"}`,
		},
		{
			name:   "delete returning",
			req:    rowstore.From("sales").Eq("id", 4).Delete().Returning(),
			method: http.MethodDelete,
			prefer: "return=representation",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, last := newServer(t, 201, nil, `[{"id": 4}]`)

			_, err := c.Do(context.Background(), tc.req)
			require.NoError(t, err)

			assert.Equal(t, tc.method, last.method)
			assert.Equal(t, tc.prefer, last.header.Get("Prefer"))
			assert.Equal(t, "pharmacy", last.header.Get("Content-Profile"))
			if tc.body != "" {
				assert.JSONEq(t, tc.body, last.body)
				assert.Equal(t, "application/json", last.header.Get("Content-Type"))
			}
		})
	}
}

func TestHeadCount(t *testing.T) {
	c, last := newServer(t, 206, map[string]string{"Content-Range": "0-24/57"}, "")

	resp, err := c.Do(context.Background(), rowstore.From("sales").Eq("pharmacy_id", 1).Head())
	require.NoError(t, err)

	assert.Equal(t, http.MethodHead, last.method)
	assert.Equal(t, "count=exact", last.header.Get("Prefer"))
	assert.Equal(t, 57, resp.Count)
	assert.Empty(t, resp.Rows)
}

func TestParseCount(t *testing.T) {
	testCases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "*/0", want: 0},
		{in: "0-9/120", want: 120},
		{in: "0-9/*", wantErr: true},
		{in: "", wantErr: true},
		{in: "*/abc", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			n, err := parseCount(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, n)
		})
	}
}

func TestErrorResponses(t *testing.T) {
	t.Run("postgrest body", func(t *testing.T) {
		c, _ := newServer(t, 409, nil, `{"code":"23505","message":"duplicate key value violates unique constraint","details":"Key (email)=(a@b.c) already exists."}`)

		_, err := c.Do(context.Background(), rowstore.From("users").Insert(rowstore.Row{"email": "a@b.c"}))
		var se *rowstore.Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 409, se.Status)
		assert.Equal(t, "23505", se.Code)
		assert.True(t, rowstore.IsConflict(err))
	})

	t.Run("no rows", func(t *testing.T) {
		c, _ := newServer(t, 406, nil, `{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned","details":"The result contains 0 rows"}`)

		_, err := c.Do(context.Background(), rowstore.From("users").Eq("id", 1).Single())
		assert.ErrorIs(t, err, rowstore.ErrNoRows)
	})

	t.Run("plain text", func(t *testing.T) {
		c, _ := newServer(t, 502, nil, "bad gateway")

		_, err := c.Do(context.Background(), rowstore.From("users"))
		var se *rowstore.Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 502, se.Status)
		assert.Equal(t, "bad gateway", se.Message)
	})
}

func TestClientSideCardinality(t *testing.T) {
	c, _ := newServer(t, 200, nil, `[]`)
	_, err := c.Do(context.Background(), rowstore.From("users").Eq("id", 1).Single())
	assert.ErrorIs(t, err, rowstore.ErrNoRows)

	resp, err := c.Do(context.Background(), rowstore.From("users").Eq("id", 1).MaybeSingle())
	require.NoError(t, err)
	assert.Nil(t, resp.First())

	c, _ = newServer(t, 200, nil, `[{"id":1},{"id":2}]`)
	_, err = c.Do(context.Background(), rowstore.From("users").MaybeSingle())
	assert.ErrorIs(t, err, rowstore.ErrMultipleRows)
}

func TestNullFilter(t *testing.T) {
	assert.Equal(t, "is.null", filterValue(rowstore.Filter{Column: "closed_at", Op: rowstore.OpEq}))
	assert.Equal(t, "eq.true", filterValue(rowstore.Filter{Column: "verified", Op: rowstore.OpEq, Value: true}))
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("localhost:3000", "k")
	assert.Error(t, err)
}
