package domain

import "time"

type MedicineCategory struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Medicine struct {
	ID                   int64   `json:"id"`
	Name                 string  `json:"name"`
	GenericName          string  `json:"generic_name"`
	BrandName            string  `json:"brand_name"`
	CategoryID           *int64  `json:"category_id,omitempty"`
	BranchID             *int64  `json:"branch_id,omitempty"`
	SKU                  string  `json:"sku"`
	UnitType             string  `json:"unit_type"`
	Strength             string  `json:"strength"`
	Manufacturer         string  `json:"manufacturer"`
	Description          string  `json:"description"`
	MinStockLevel        int64   `json:"min_stock_level"`
	RequiresPrescription bool    `json:"requires_prescription"`
	UnitPrice            float64 `json:"unit_price"`
}

type Stock struct {
	ID            int64      `json:"id"`
	MedicineID    int64      `json:"medicine_id"`
	BranchID      int64      `json:"branch_id"`
	Quantity      int64      `json:"quantity"`
	LastRestocked *time.Time `json:"last_restocked,omitempty"`
}

type MedicineBatch struct {
	ID           int64   `json:"id"`
	MedicineID   int64   `json:"medicine_id"`
	BatchNumber  string  `json:"batch_number"`
	ExpiryDate   string  `json:"expiry_date"`
	Quantity     int64   `json:"quantity"`
	CostPrice    float64 `json:"cost_price"`
	SellingPrice float64 `json:"selling_price"`
}

// Stock movement types.
const (
	MovementIn     = "IN"
	MovementOut    = "OUT"
	MovementReturn = "RETURN"
)
