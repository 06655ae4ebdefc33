package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSQLRow(t *testing.T) {
	opened := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	row := map[string]any{
		"id":              int64(4),
		"user_id":         int64(2),
		"branch_id":       int64(1),
		"opened_at":       opened,
		"closed_at":       nil,
		"opening_balance": float64(150),
		"status":          "OPEN",
		"extra_column":    "ignored",
	}

	var shift CashierShift
	require.NoError(t, Decode(row, &shift))

	assert.Equal(t, int64(4), shift.ID)
	require.NotNil(t, shift.OpenedAt)
	assert.True(t, opened.Equal(*shift.OpenedAt))
	assert.Nil(t, shift.ClosedAt)
	assert.Equal(t, 150.0, shift.OpeningBalance)
}

func TestDecodeRESTRow(t *testing.T) {
	row := map[string]any{
		"id":                   json.Number("9"),
		"email":                "owner@example.com",
		"pharmacy_id":          json.Number("3"),
		"is_active":            true,
		"must_change_password": int64(1),
		"created_at":           "2024-03-01T09:00:00Z",
	}

	var user User
	require.NoError(t, Decode(row, &user))

	assert.Equal(t, int64(9), user.ID)
	require.NotNil(t, user.PharmacyID)
	assert.Equal(t, int64(3), *user.PharmacyID)
	assert.True(t, user.IsActive)
	assert.True(t, user.MustChangePassword)
	assert.Equal(t, 2024, user.CreatedAt.Year())
}

func TestDecodeEmbedded(t *testing.T) {
	row := map[string]any{
		"id":            int64(1),
		"status":        "trial",
		"trial_ends_at": "2024-04-01 00:00:00",
		"subscription_plans": map[string]any{
			"id":            int64(1),
			"name":          "Trial",
			"max_branches":  int64(1),
			"max_medicines": int64(100),
		},
	}

	var sub PharmacySubscription
	require.NoError(t, Decode(row, &sub))

	require.NotNil(t, sub.Plan)
	assert.Equal(t, "Trial", sub.Plan.Name)
	assert.Equal(t, 100, sub.Plan.MaxMedicines)
	require.NotNil(t, sub.TrialEndsAt)
	assert.Equal(t, time.April, sub.TrialEndsAt.Month())
}

func TestDecodeAll(t *testing.T) {
	items, err := DecodeAll[SaleItem]([]map[string]any{
		{"id": int64(1), "quantity": int64(2), "unit_price": 2.5},
		{"id": int64(2), "quantity": "3", "unit_price": "4"},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(3), items[1].Quantity)
	assert.Equal(t, 4.0, items[1].UnitPrice)
}

func TestDecodeRejectsBadTimestamp(t *testing.T) {
	var shift CashierShift
	err := Decode(map[string]any{"opened_at": "yesterday"}, &shift)
	assert.Error(t, err)
}
