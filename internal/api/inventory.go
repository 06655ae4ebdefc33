package api

import (
	"context"
	"net/http"
	"strings"

	"medeasy/pharmacy/domain"
	"medeasy/pharmacy/internal/events"
	"medeasy/pharmacy/internal/orm"
)

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Model(orm.MedicineCategory).FindMany(r.Context(), orm.FindArgs{OrderBy: orm.Asc("name")})
	if err != nil {
		respondStoreError(w, err, "unable to fetch categories")
		return
	}
	categories, err := domain.DecodeAll[domain.MedicineCategory](rows)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read categories")
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

type createCategoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleManager, domain.RolePharmacist) {
		return
	}
	var req createCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	row, err := h.db.Model(orm.MedicineCategory).Create(r.Context(), orm.Data{
		"name":        strings.TrimSpace(req.Name),
		"description": req.Description,
	})
	if err != nil {
		respondStoreError(w, err, "unable to create category")
		return
	}
	var category domain.MedicineCategory
	if err := domain.Decode(row, &category); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read category")
		return
	}
	respondJSON(w, http.StatusCreated, category)
}

// listMedicines returns the medicines held by the caller's branches, with
// their category and branch.
func (h *Handler) listMedicines(w http.ResponseWriter, r *http.Request) {
	branchID, err := queryInt64(r, "branch_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	where := orm.Where{
		"branch":   orm.Where{"pharmacyId": claimsFromContext(r).PharmacyID},
		"branchId": branchID,
	}
	if q := strings.TrimSpace(r.URL.Query().Get("search")); q != "" {
		where["name"] = orm.Contains(q)
	}

	rows, err := h.db.Model(orm.Medicine).FindMany(r.Context(), orm.FindArgs{
		Where:   where,
		Include: orm.Include{"category": orm.All, "branch": orm.All},
		OrderBy: orm.Asc("name"),
		Skip:    queryInt(r, "skip"),
		Take:    queryInt(r, "take"),
	})
	if err != nil {
		respondStoreError(w, err, "unable to fetch medicines")
		return
	}
	respondJSON(w, http.StatusOK, scoped(rows, "branch"))
}

// searchCatalog searches the shared medicine catalog (medicines not held by
// any branch) by brand or generic name.
func (h *Handler) searchCatalog(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("query"))
	if q == "" {
		respondJSON(w, http.StatusOK, []domain.Medicine{})
		return
	}

	ctx := r.Context()
	seen := make(map[int64]bool)
	var results []domain.Medicine
	for _, field := range []string{"name", "genericName"} {
		rows, err := h.db.Model(orm.Medicine).FindMany(ctx, orm.FindArgs{
			Where:   orm.Where{field: orm.Contains(q)},
			OrderBy: orm.Asc("name"),
			Take:    50,
		})
		if err != nil {
			respondStoreError(w, err, "unable to search medicines")
			return
		}
		medicines, err := domain.DecodeAll[domain.Medicine](rows)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "unable to read medicines")
			return
		}
		for _, m := range medicines {
			if m.BranchID != nil || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			results = append(results, m)
		}
	}
	if results == nil {
		results = []domain.Medicine{}
	}
	respondJSON(w, http.StatusOK, results)
}

type createMedicineRequest struct {
	Name                 string   `json:"name"`
	GenericName          string   `json:"generic_name"`
	BrandName            string   `json:"brand_name"`
	CategoryID           int64    `json:"category_id"`
	BranchID             int64    `json:"branch_id"`
	SKU                  string   `json:"sku"`
	UnitType             string   `json:"unit_type"`
	Strength             string   `json:"strength"`
	Manufacturer         string   `json:"manufacturer"`
	Description          string   `json:"description"`
	MinStockLevel        int64    `json:"min_stock_level"`
	RequiresPrescription bool     `json:"requires_prescription"`
	UnitPrice            *float64 `json:"unit_price"`
}

func (h *Handler) createMedicine(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleManager, domain.RolePharmacist) {
		return
	}
	var req createMedicineRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.CategoryID == 0 || req.UnitType == "" || req.BranchID == 0 {
		respondError(w, http.StatusBadRequest, "Missing required fields")
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

	sub := subscriptionFromContext(r)
	if sub != nil && sub.Plan != nil {
		rows, err := h.db.Model(orm.Medicine).FindMany(ctx, orm.FindArgs{
			Where:   orm.Where{"branch": orm.Where{"pharmacyId": claims.PharmacyID}},
			Include: orm.Include{"branch": orm.Relation{Select: []string{"id"}}},
			Select:  []string{"id", "branchId"},
		})
		if err != nil {
			respondStoreError(w, err, "unable to count medicines")
			return
		}
		if len(scoped(rows, "branch")) >= sub.Plan.MaxMedicines {
			respondJSON(w, http.StatusForbidden, map[string]any{
				"error":      "Medicine limit reached for your plan",
				"code":       "MEDICINE_LIMIT_REACHED",
				"maxAllowed": sub.Plan.MaxMedicines,
			})
			return
		}
	}

	minStock := req.MinStockLevel
	if minStock == 0 {
		minStock = 10
	}
	var price float64
	if req.UnitPrice != nil {
		price = *req.UnitPrice
	}
	row, err := h.db.Model(orm.Medicine).Create(ctx, orm.Data{
		"name":                 req.Name,
		"genericName":          req.GenericName,
		"brandName":            req.BrandName,
		"categoryId":           req.CategoryID,
		"branchId":             req.BranchID,
		"sku":                  req.SKU,
		"unitType":             req.UnitType,
		"strength":             req.Strength,
		"manufacturer":         req.Manufacturer,
		"description":          req.Description,
		"minStockLevel":        minStock,
		"requiresPrescription": req.RequiresPrescription,
		"unitPrice":            price,
	})
	if err != nil {
		respondStoreError(w, err, "unable to create medicine")
		return
	}
	var medicine domain.Medicine
	if err := domain.Decode(row, &medicine); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read medicine")
		return
	}
	respondJSON(w, http.StatusCreated, medicine)
}

// listStocks returns stock levels across the caller's branches, optionally
// for one branch.
func (h *Handler) listStocks(w http.ResponseWriter, r *http.Request) {
	branchID, err := queryInt64(r, "branch_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.db.Model(orm.Stock).FindMany(r.Context(), orm.FindArgs{
		Where: orm.Where{
			"branch":   orm.Where{"pharmacyId": claimsFromContext(r).PharmacyID},
			"branchId": branchID,
		},
		Include: orm.Include{"medicine": orm.All, "branch": orm.All},
		OrderBy: orm.Asc("id"),
	})
	if err != nil {
		respondStoreError(w, err, "unable to fetch stocks")
		return
	}
	respondJSON(w, http.StatusOK, scoped(rows, "branch"))
}

type receiveBatchRequest struct {
	MedicineID       int64   `json:"medicine_id"`
	BranchID         int64   `json:"branch_id"`
	BatchNumber      string  `json:"batch_number"`
	ExpiryDate       string  `json:"expiry_date"`
	QuantityReceived int64   `json:"quantity_received"`
	CostPrice        float64 `json:"cost_price"`
	SellingPrice     float64 `json:"selling_price"`
}

// receiveBatch records a delivered batch and adds it to the branch stock.
func (h *Handler) receiveBatch(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleManager, domain.RolePharmacist) {
		return
	}
	var req receiveBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MedicineID == 0 || req.BranchID == 0 || req.BatchNumber == "" || req.ExpiryDate == "" || req.QuantityReceived <= 0 {
		respondError(w, http.StatusBadRequest, "Missing required fields")
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
	ok, err = h.usableMedicine(ctx, claims.PharmacyID, req.MedicineID)
	if err != nil {
		respondStoreError(w, err, "unable to verify medicine")
		return
	}
	if !ok {
		respondError(w, http.StatusForbidden, "Access denied")
		return
	}

	var (
		batch domain.MedicineBatch
		stock domain.Stock
	)
	err = h.db.Unit(ctx, func(ctx context.Context, tx *orm.Client) error {
		row, err := tx.Model(orm.MedicineBatch).Create(ctx, orm.Data{
			"medicineId":   req.MedicineID,
			"batchNumber":  req.BatchNumber,
			"expiryDate":   req.ExpiryDate,
			"quantity":     req.QuantityReceived,
			"costPrice":    req.CostPrice,
			"sellingPrice": req.SellingPrice,
		})
		if err != nil {
			return err
		}
		if err := domain.Decode(row, &batch); err != nil {
			return err
		}

		if stock, err = addStock(ctx, tx, req.MedicineID, req.BranchID, req.QuantityReceived, orm.Data{"lastRestocked": h.now()}); err != nil {
			return err
		}

		_, err = tx.Model(orm.StockMovement).Create(ctx, orm.Data{
			"medicineId": req.MedicineID,
			"branchId":   req.BranchID,
			"userId":     claims.UserID,
			"type":       domain.MovementIn,
			"quantity":   req.QuantityReceived,
			"reason":     "batch " + req.BatchNumber,
		})
		return err
	})
	if err != nil {
		respondStoreError(w, err, "unable to receive batch")
		return
	}

	h.publish(ctx, events.Event{
		Type:       events.StockReceived,
		PharmacyID: claims.PharmacyID,
		Payload: map[string]any{
			"batch_id":    batch.ID,
			"medicine_id": req.MedicineID,
			"branch_id":   req.BranchID,
			"quantity":    req.QuantityReceived,
			"stock":       stock.Quantity,
		},
	})
	respondJSON(w, http.StatusCreated, batch)
}

// addStock increments the branch stock of a medicine, creating the stock
// row on first receipt. extra is written alongside the quantity.
func addStock(ctx context.Context, tx *orm.Client, medicineID, branchID, quantity int64, extra orm.Data) (domain.Stock, error) {
	var stock domain.Stock
	existing, err := tx.Model(orm.Stock).FindFirst(ctx, orm.FindArgs{
		Where: orm.Where{"medicineId": medicineID, "branchId": branchID},
	})
	if err != nil {
		return stock, err
	}
	data := orm.Data{}
	for k, v := range extra {
		data[k] = v
	}
	var row orm.Row
	if existing != nil {
		if err := domain.Decode(existing, &stock); err != nil {
			return stock, err
		}
		data["quantity"] = stock.Quantity + quantity
		row, err = tx.Model(orm.Stock).Update(ctx, orm.ByID(stock.ID), data)
	} else {
		data["medicineId"] = medicineID
		data["branchId"] = branchID
		data["quantity"] = quantity
		row, err = tx.Model(orm.Stock).Create(ctx, data)
	}
	if err != nil {
		return stock, err
	}
	err = domain.Decode(row, &stock)
	return stock, err
}

// expiryAlerts lists stocked batches expiring within `days` days (30 by
// default), soonest first.
func (h *Handler) expiryAlerts(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days")
	if days == 0 {
		days = 30
	}
	cutoff := h.now().AddDate(0, 0, days).Format("2006-01-02")

	ctx := r.Context()
	branchRows, err := h.db.Model(orm.Branch).FindMany(ctx, orm.FindArgs{
		Where:  orm.Where{"pharmacyId": claimsFromContext(r).PharmacyID},
		Select: []string{"id"},
	})
	if err != nil {
		respondStoreError(w, err, "unable to fetch branches")
		return
	}
	branches, err := domain.DecodeAll[domain.Branch](branchRows)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read branches")
		return
	}
	own := make(map[int64]bool, len(branches))
	for _, b := range branches {
		own[b.ID] = true
	}

	// Batches carry no branch; ownership follows the batch's medicine.
	rows, err := h.db.Model(orm.MedicineBatch).FindMany(ctx, orm.FindArgs{
		Where:   orm.Where{"expiryDate": orm.Lte(cutoff), "quantity": orm.Gte(1)},
		Include: orm.Include{"medicine": orm.Relation{Select: []string{"id", "name", "branchId"}}},
		OrderBy: orm.Asc("expiryDate"),
		Take:    queryInt(r, "take"),
	})
	if err != nil {
		respondStoreError(w, err, "unable to fetch alerts")
		return
	}
	alerts := make([]orm.Row, 0, len(rows))
	for _, row := range rows {
		embed, _ := row["medicine"].(map[string]any)
		if embed == nil {
			continue
		}
		var medicine domain.Medicine
		if err := domain.Decode(embed, &medicine); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to read medicine")
			return
		}
		if medicine.BranchID != nil && own[*medicine.BranchID] {
			alerts = append(alerts, row)
		}
	}
	respondJSON(w, http.StatusOK, alerts)
}
