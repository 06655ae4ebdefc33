package api

import (
	"context"
	"fmt"
	"net/http"

	"medeasy/pharmacy/domain"
	"medeasy/pharmacy/internal/events"
	"medeasy/pharmacy/internal/orm"
)

func (h *Handler) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Model(orm.PaymentMethod).FindMany(r.Context(), orm.FindArgs{
		Where:   orm.Where{"isActive": true},
		OrderBy: orm.Asc("id"),
	})
	if err != nil {
		respondStoreError(w, err, "unable to fetch payment methods")
		return
	}
	methods, err := domain.DecodeAll[domain.PaymentMethod](rows)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read payment methods")
		return
	}
	respondJSON(w, http.StatusOK, methods)
}

type saleItemRequest struct {
	MedicineID int64   `json:"medicine_id"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
}

type createSaleRequest struct {
	BranchID        int64             `json:"branch_id"`
	CustomerName    string            `json:"customer_name"`
	CustomerPhone   string            `json:"customer_phone"`
	Items           []saleItemRequest `json:"items"`
	PaymentMethodID int64             `json:"payment_method_id"`
	DiscountAmount  float64           `json:"discount_amount"`
	TaxAmount       float64           `json:"tax_amount"`
	IsChapaPayment  bool              `json:"is_chapa_payment"`
}

// createSale records a sale with its items and takes the sold quantities
// out of the branch stock. Chapa sales stay PENDING until the payment is
// confirmed.
func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req createSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BranchID == 0 || len(req.Items) == 0 || req.PaymentMethodID == 0 {
		respondError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	var total float64
	for _, item := range req.Items {
		if item.MedicineID == 0 || item.Quantity <= 0 || item.UnitPrice < 0 {
			respondError(w, http.StatusBadRequest, "each item needs a medicine_id, a positive quantity and a unit_price")
			return
		}
		total += float64(item.Quantity) * item.UnitPrice
	}
	final := total - req.DiscountAmount + req.TaxAmount
	if final < 0 {
		respondError(w, http.StatusBadRequest, "discount exceeds sale total")
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

	status := domain.SaleCompleted
	if req.IsChapaPayment {
		status = domain.SalePending
	}

	var sale domain.Sale
	err = h.db.Unit(ctx, func(ctx context.Context, tx *orm.Client) error {
		row, err := tx.Model(orm.Sale).Create(ctx, orm.Data{
			"pharmacyId":      claims.PharmacyID,
			"branchId":        req.BranchID,
			"userId":          claims.UserID,
			"paymentMethodId": req.PaymentMethodID,
			"customerName":    req.CustomerName,
			"customerPhone":   req.CustomerPhone,
			"totalAmount":     total,
			"discountAmount":  req.DiscountAmount,
			"taxAmount":       req.TaxAmount,
			"finalAmount":     final,
			"status":          status,
			"createdAt":       h.now(),
		})
		if err != nil {
			return err
		}
		if err := domain.Decode(row, &sale); err != nil {
			return err
		}

		for _, item := range req.Items {
			row, err := tx.Model(orm.SaleItem).Create(ctx, orm.Data{
				"saleId":     sale.ID,
				"medicineId": item.MedicineID,
				"quantity":   item.Quantity,
				"unitPrice":  item.UnitPrice,
				"totalPrice": float64(item.Quantity) * item.UnitPrice,
			})
			if err != nil {
				return err
			}
			var saleItem domain.SaleItem
			if err := domain.Decode(row, &saleItem); err != nil {
				return err
			}
			sale.SaleItems = append(sale.SaleItems, saleItem)

			if err := takeStock(ctx, tx, req.BranchID, claims.UserID, item, fmt.Sprintf("sale #%d", sale.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		respondStoreError(w, err, "unable to create sale")
		return
	}

	if sale.Status == domain.SaleCompleted {
		h.publish(ctx, events.Event{
			Type:       events.SaleCompleted,
			PharmacyID: claims.PharmacyID,
			Payload: map[string]any{
				"sale_id":      sale.ID,
				"branch_id":    sale.BranchID,
				"final_amount": sale.FinalAmount,
				"items":        len(sale.SaleItems),
			},
		})
	}
	respondJSON(w, http.StatusCreated, sale)
}

// takeStock decrements the branch stock of one sold item and records the
// movement.
func takeStock(ctx context.Context, tx *orm.Client, branchID, userID int64, item saleItemRequest, reason string) error {
	row, err := tx.Model(orm.Stock).FindFirst(ctx, orm.FindArgs{
		Where: orm.Where{"medicineId": item.MedicineID, "branchId": branchID},
	})
	if err != nil {
		return err
	}
	if row == nil {
		return fail(http.StatusBadRequest, "medicine %d is not stocked at this branch", item.MedicineID)
	}
	var stock domain.Stock
	if err := domain.Decode(row, &stock); err != nil {
		return err
	}
	if stock.Quantity < item.Quantity {
		return fail(http.StatusBadRequest, "insufficient stock for medicine %d: %d available", item.MedicineID, stock.Quantity)
	}
	if _, err := tx.Model(orm.Stock).Update(ctx, orm.ByID(stock.ID), orm.Data{"quantity": stock.Quantity - item.Quantity}); err != nil {
		return err
	}
	_, err = tx.Model(orm.StockMovement).Create(ctx, orm.Data{
		"medicineId": item.MedicineID,
		"branchId":   branchID,
		"userId":     userID,
		"type":       domain.MovementOut,
		"quantity":   item.Quantity,
		"reason":     reason,
	})
	return err
}

// listSales returns the pharmacy's sales, newest first, optionally for one
// branch and a date range.
func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	branchID, err := queryInt64(r, "branch_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	where := orm.Where{
		"pharmacyId": claimsFromContext(r).PharmacyID,
		"branchId":   branchID,
	}
	if from != nil {
		where["createdAt"] = orm.Between(*from, *to)
	}

	rows, err := h.db.Model(orm.Sale).FindMany(r.Context(), orm.FindArgs{
		Where: where,
		Include: orm.Include{
			"saleItems":     orm.All,
			"paymentMethod": orm.All,
			"user":          orm.Relation{Select: []string{"fullName"}},
			"branch":        orm.Relation{Select: []string{"name"}},
		},
		OrderBy: orm.Desc("createdAt"),
		Skip:    queryInt(r, "skip"),
		Take:    queryInt(r, "take"),
	})
	if err != nil {
		respondStoreError(w, err, "unable to fetch sales")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}
