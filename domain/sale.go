package domain

import "time"

type Sale struct {
	ID              int64      `json:"id"`
	PharmacyID      int64      `json:"pharmacy_id"`
	BranchID        int64      `json:"branch_id"`
	UserID          *int64     `json:"user_id,omitempty"`
	PaymentMethodID *int64     `json:"payment_method_id,omitempty"`
	CustomerName    string     `json:"customer_name"`
	CustomerPhone   string     `json:"customer_phone"`
	TotalAmount     float64    `json:"total_amount"`
	DiscountAmount  float64    `json:"discount_amount"`
	TaxAmount       float64    `json:"tax_amount"`
	FinalAmount     float64    `json:"final_amount"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	SaleItems       []SaleItem `json:"sale_items,omitempty"`
}

type SaleItem struct {
	ID         int64   `json:"id"`
	SaleID     int64   `json:"sale_id"`
	MedicineID int64   `json:"medicine_id"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
}

// Sale statuses.
const (
	SalePending   = "PENDING"
	SaleCompleted = "COMPLETED"
	SaleFailed    = "FAILED"
	SaleRefunded  = "REFUNDED"
)

type Refund struct {
	ID          int64        `json:"id"`
	SaleID      int64        `json:"sale_id"`
	PharmacyID  int64        `json:"pharmacy_id"`
	BranchID    int64        `json:"branch_id"`
	UserID      *int64       `json:"user_id,omitempty"`
	Amount      float64      `json:"amount"`
	Reason      string       `json:"reason"`
	Status      string       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	RefundItems []RefundItem `json:"refund_items,omitempty"`
}

type RefundItem struct {
	ID         int64   `json:"id"`
	RefundID   int64   `json:"refund_id"`
	SaleItemID int64   `json:"sale_item_id"`
	MedicineID int64   `json:"medicine_id"`
	Quantity   int64   `json:"quantity"`
	Amount     float64 `json:"amount"`
}

// RefundCompleted is the status of a refund whose stock has been returned.
const RefundCompleted = "COMPLETED"

type PaymentMethod struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// PaymentMethods lists the methods seeded into every store.
var PaymentMethods = []PaymentMethod{
	{Name: "Cash", Description: "Cash at the till", IsActive: true},
	{Name: "Card", Description: "Debit or credit card", IsActive: true},
	{Name: "Chapa", Description: "Chapa online payment", IsActive: true},
}

type Payment struct {
	ID         int64   `json:"id"`
	SaleID     int64   `json:"sale_id"`
	PharmacyID int64   `json:"pharmacy_id"`
	Amount     float64 `json:"amount"`
	Method     string  `json:"method"`
	Status     string  `json:"status"`
}

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

type PaymentTransaction struct {
	ID          int64  `json:"id"`
	PaymentID   int64  `json:"payment_id"`
	Provider    string `json:"provider"`
	TxRef       string `json:"tx_ref"`
	Verified    bool   `json:"verified"`
	RawResponse any    `json:"raw_response,omitempty"`
}

type CashierShift struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	BranchID       int64      `json:"branch_id"`
	OpenedAt       *time.Time `json:"opened_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	OpeningBalance float64    `json:"opening_balance"`
	ClosingBalance *float64   `json:"closing_balance,omitempty"`
	ActualSales    *float64   `json:"actual_sales,omitempty"`
	Status         string     `json:"status"`
	Notes          string     `json:"notes,omitempty"`
}

// Shift statuses.
const (
	ShiftOpen   = "OPEN"
	ShiftClosed = "CLOSED"
)
