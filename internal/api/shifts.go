package api

import (
	"context"
	"net/http"

	"medeasy/pharmacy/domain"
	"medeasy/pharmacy/internal/events"
	"medeasy/pharmacy/internal/orm"
)

// openShift returns the caller's open shift, or nil.
func (h *Handler) openShift(ctx context.Context, userID int64) (*domain.CashierShift, error) {
	row, err := h.db.Model(orm.CashierShift).FindFirst(ctx, orm.FindArgs{
		Where: orm.Where{"userId": userID, "status": domain.ShiftOpen},
	})
	if err != nil || row == nil {
		return nil, err
	}
	var shift domain.CashierShift
	if err := domain.Decode(row, &shift); err != nil {
		return nil, err
	}
	return &shift, nil
}

type startShiftRequest struct {
	BranchID       int64    `json:"branch_id"`
	OpeningBalance *float64 `json:"opening_balance"`
}

func (h *Handler) startShift(w http.ResponseWriter, r *http.Request) {
	var req startShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BranchID == 0 || req.OpeningBalance == nil {
		respondError(w, http.StatusBadRequest, "Branch and opening balance are required")
		return
	}

	ctx := r.Context()
	claims := claimsFromContext(r)
	ok, err := h.ownBranch(ctx, claims.PharmacyID, req.BranchID)
	if err != nil {
		respondStoreError(w, err, "unable to verify branch")
		return
	}
	if !ok {
		respondError(w, http.StatusForbidden, "Access denied")
		return
	}
	active, err := h.openShift(ctx, claims.UserID)
	if err != nil {
		respondStoreError(w, err, "unable to check shifts")
		return
	}
	if active != nil {
		respondError(w, http.StatusBadRequest, "You already have an active shift")
		return
	}

	row, err := h.db.Model(orm.CashierShift).Create(ctx, orm.Data{
		"userId":         claims.UserID,
		"branchId":       req.BranchID,
		"openedAt":       h.now(),
		"openingBalance": *req.OpeningBalance,
		"status":         domain.ShiftOpen,
	})
	if err != nil {
		respondStoreError(w, err, "unable to start shift")
		return
	}
	var shift domain.CashierShift
	if err := domain.Decode(row, &shift); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read shift")
		return
	}
	respondJSON(w, http.StatusCreated, shift)
}

type endShiftRequest struct {
	ClosingBalance *float64 `json:"closing_balance"`
	Notes          string   `json:"notes"`
}

type shiftSummary struct {
	OpeningBalance  float64 `json:"opening_balance"`
	TotalSales      float64 `json:"total_sales"`
	ExpectedBalance float64 `json:"expected_balance"`
	ClosingBalance  float64 `json:"closing_balance"`
	Difference      float64 `json:"difference"`
}

// endShift closes the caller's open shift and reconciles the till against
// the completed sales made since it opened.
func (h *Handler) endShift(w http.ResponseWriter, r *http.Request) {
	var req endShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ClosingBalance == nil {
		respondError(w, http.StatusBadRequest, "Closing balance is required")
		return
	}

	ctx := r.Context()
	claims := claimsFromContext(r)
	active, err := h.openShift(ctx, claims.UserID)
	if err != nil {
		respondStoreError(w, err, "unable to check shifts")
		return
	}
	if active == nil {
		respondError(w, http.StatusNotFound, "No active shift found")
		return
	}

	rows, err := h.db.Model(orm.Sale).FindMany(ctx, orm.FindArgs{
		Where: orm.Where{
			"userId":    claims.UserID,
			"branchId":  active.BranchID,
			"status":    domain.SaleCompleted,
			"createdAt": orm.Gte(active.OpenedAt),
		},
		Select: []string{"id", "finalAmount"},
	})
	if err != nil {
		respondStoreError(w, err, "unable to total shift sales")
		return
	}
	sales, err := domain.DecodeAll[domain.Sale](rows)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read sales")
		return
	}
	var totalSales float64
	for _, s := range sales {
		totalSales += s.FinalAmount
	}

	row, err := h.db.Model(orm.CashierShift).Update(ctx, orm.ByID(active.ID), orm.Data{
		"closedAt":       h.now(),
		"closingBalance": *req.ClosingBalance,
		"actualSales":    totalSales,
		"status":         domain.ShiftClosed,
		"notes":          req.Notes,
	})
	if err != nil {
		respondStoreError(w, err, "unable to end shift")
		return
	}
	var shift domain.CashierShift
	if err := domain.Decode(row, &shift); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read shift")
		return
	}

	expected := active.OpeningBalance + totalSales
	summary := shiftSummary{
		OpeningBalance:  active.OpeningBalance,
		TotalSales:      totalSales,
		ExpectedBalance: expected,
		ClosingBalance:  *req.ClosingBalance,
		Difference:      *req.ClosingBalance - expected,
	}
	h.publish(ctx, events.Event{
		Type:       events.ShiftClosed,
		PharmacyID: claims.PharmacyID,
		Payload: map[string]any{
			"shift_id":   shift.ID,
			"branch_id":  shift.BranchID,
			"user_id":    shift.UserID,
			"total":      totalSales,
			"difference": summary.Difference,
		},
	})
	respondJSON(w, http.StatusOK, map[string]any{"shift": shift, "summary": summary})
}

func (h *Handler) currentShift(w http.ResponseWriter, r *http.Request) {
	shift, err := h.openShift(r.Context(), claimsFromContext(r).UserID)
	if err != nil {
		respondStoreError(w, err, "unable to check shifts")
		return
	}
	if shift == nil {
		respondError(w, http.StatusNotFound, "No active shift found")
		return
	}
	respondJSON(w, http.StatusOK, shift)
}
