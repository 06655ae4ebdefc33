package api

import (
	"context"
	"fmt"
	"net/http"

	"medeasy/pharmacy/domain"
	"medeasy/pharmacy/internal/events"
	"medeasy/pharmacy/internal/orm"
)

type refundItemRequest struct {
	SaleItemID int64 `json:"sale_item_id"`
	Quantity   int64 `json:"quantity"`
}

type createRefundRequest struct {
	SaleID int64               `json:"sale_id"`
	Reason string              `json:"reason"`
	Items  []refundItemRequest `json:"items"`
}

// createRefund returns items of a completed sale. Each line is priced at
// the sale's unit price and its quantity goes back into the branch stock.
// A sale whose every item has been returned becomes REFUNDED.
func (h *Handler) createRefund(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleManager, domain.RolePharmacist) {
		return
	}
	var req createRefundRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SaleID == 0 || len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	for _, item := range req.Items {
		if item.SaleItemID == 0 || item.Quantity <= 0 {
			respondError(w, http.StatusBadRequest, "each item needs a sale_item_id and a positive quantity")
			return
		}
	}

	ctx := r.Context()
	claims := claimsFromContext(r)
	row, err := h.db.Model(orm.Sale).FindUnique(ctx, orm.ByID(req.SaleID), nil)
	if err != nil {
		respondStoreError(w, err, "unable to load sale")
		return
	}
	var sale domain.Sale
	if row != nil {
		if err := domain.Decode(row, &sale); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to read sale")
			return
		}
	}
	if row == nil || sale.PharmacyID != claims.PharmacyID {
		respondError(w, http.StatusNotFound, "Sale not found")
		return
	}
	if sale.Status != domain.SaleCompleted {
		respondError(w, http.StatusBadRequest, "Only completed sales can be refunded")
		return
	}

	var refund domain.Refund
	err = h.db.Unit(ctx, func(ctx context.Context, tx *orm.Client) error {
		items, remaining, err := refundable(ctx, tx, sale.ID)
		if err != nil {
			return err
		}
		var amount float64
		for _, item := range req.Items {
			saleItem, ok := items[item.SaleItemID]
			if !ok {
				return fail(http.StatusBadRequest, "sale item %d is not part of sale %d", item.SaleItemID, sale.ID)
			}
			if item.Quantity > remaining[item.SaleItemID] {
				return fail(http.StatusBadRequest, "cannot refund %d of sale item %d: %d remaining", item.Quantity, item.SaleItemID, remaining[item.SaleItemID])
			}
			remaining[item.SaleItemID] -= item.Quantity
			amount += float64(item.Quantity) * saleItem.UnitPrice
		}

		row, err := tx.Model(orm.Refund).Create(ctx, orm.Data{
			"saleId":     sale.ID,
			"pharmacyId": sale.PharmacyID,
			"branchId":   sale.BranchID,
			"userId":     claims.UserID,
			"amount":     amount,
			"reason":     req.Reason,
			"status":     domain.RefundCompleted,
			"createdAt":  h.now(),
		})
		if err != nil {
			return err
		}
		if err := domain.Decode(row, &refund); err != nil {
			return err
		}

		reason := fmt.Sprintf("refund #%d", refund.ID)
		for _, item := range req.Items {
			saleItem := items[item.SaleItemID]
			row, err := tx.Model(orm.RefundItem).Create(ctx, orm.Data{
				"refundId":   refund.ID,
				"saleItemId": saleItem.ID,
				"medicineId": saleItem.MedicineID,
				"quantity":   item.Quantity,
				"amount":     float64(item.Quantity) * saleItem.UnitPrice,
			})
			if err != nil {
				return err
			}
			var refundItem domain.RefundItem
			if err := domain.Decode(row, &refundItem); err != nil {
				return err
			}
			refund.RefundItems = append(refund.RefundItems, refundItem)

			if err := returnStock(ctx, tx, sale.BranchID, claims.UserID, saleItem.MedicineID, item.Quantity, reason); err != nil {
				return err
			}
		}

		for _, left := range remaining {
			if left > 0 {
				return nil
			}
		}
		_, err = tx.Model(orm.Sale).Update(ctx, orm.ByID(sale.ID), orm.Data{"status": domain.SaleRefunded})
		return err
	})
	if err != nil {
		respondStoreError(w, err, "unable to create refund")
		return
	}

	h.publish(ctx, events.Event{
		Type:       events.SaleRefunded,
		PharmacyID: claims.PharmacyID,
		Payload: map[string]any{
			"refund_id": refund.ID,
			"sale_id":   sale.ID,
			"branch_id": sale.BranchID,
			"amount":    refund.Amount,
			"items":     len(refund.RefundItems),
		},
	})
	respondJSON(w, http.StatusCreated, refund)
}

// refundable loads a sale's items by id and how many units of each have not
// been refunded yet.
func refundable(ctx context.Context, tx *orm.Client, saleID int64) (map[int64]domain.SaleItem, map[int64]int64, error) {
	rows, err := tx.Model(orm.SaleItem).FindMany(ctx, orm.FindArgs{Where: orm.Where{"saleId": saleID}})
	if err != nil {
		return nil, nil, err
	}
	saleItems, err := domain.DecodeAll[domain.SaleItem](rows)
	if err != nil {
		return nil, nil, err
	}
	items := make(map[int64]domain.SaleItem, len(saleItems))
	remaining := make(map[int64]int64, len(saleItems))
	for _, item := range saleItems {
		items[item.ID] = item
		remaining[item.ID] = item.Quantity
	}

	rows, err = tx.Model(orm.RefundItem).FindMany(ctx, orm.FindArgs{
		Where:   orm.Where{"refund": orm.Where{"saleId": saleID}},
		Include: orm.Include{"refund": orm.Relation{Select: []string{"id"}}},
	})
	if err != nil {
		return nil, nil, err
	}
	refunded, err := domain.DecodeAll[domain.RefundItem](scoped(rows, "refund"))
	if err != nil {
		return nil, nil, err
	}
	for _, item := range refunded {
		remaining[item.SaleItemID] -= item.Quantity
	}
	return items, remaining, nil
}

// returnStock puts refunded units back into the branch stock and records
// the movement.
func returnStock(ctx context.Context, tx *orm.Client, branchID, userID, medicineID, quantity int64, reason string) error {
	if _, err := addStock(ctx, tx, medicineID, branchID, quantity, nil); err != nil {
		return err
	}
	_, err := tx.Model(orm.StockMovement).Create(ctx, orm.Data{
		"medicineId": medicineID,
		"branchId":   branchID,
		"userId":     userID,
		"type":       domain.MovementReturn,
		"quantity":   quantity,
		"reason":     reason,
	})
	return err
}

// listRefunds returns the pharmacy's refunds with their items, newest
// first, optionally for one sale.
func (h *Handler) listRefunds(w http.ResponseWriter, r *http.Request) {
	saleID, err := queryInt64(r, "sale_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.db.Model(orm.Refund).FindMany(r.Context(), orm.FindArgs{
		Where: orm.Where{
			"pharmacyId": claimsFromContext(r).PharmacyID,
			"saleId":     saleID,
		},
		Include: orm.Include{"refundItems": orm.All},
		OrderBy: orm.Desc("createdAt"),
		Skip:    queryInt(r, "skip"),
		Take:    queryInt(r, "take"),
	})
	if err != nil {
		respondStoreError(w, err, "unable to fetch refunds")
		return
	}
	refunds, err := domain.DecodeAll[domain.Refund](rows)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read refunds")
		return
	}
	respondJSON(w, http.StatusOK, refunds)
}
