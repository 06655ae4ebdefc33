package orm

import (
	"fmt"
	"sort"
)

// Entity is the application-level name of a resource type.
type Entity string

const (
	User                    Entity = "User"
	Pharmacy                Entity = "Pharmacy"
	Branch                  Entity = "Branch"
	Role                    Entity = "Role"
	UserRole                Entity = "UserRole"
	UserBranch              Entity = "UserBranch"
	Sale                    Entity = "Sale"
	Payment                 Entity = "Payment"
	PaymentTransaction      Entity = "PaymentTransaction"
	CashierShift            Entity = "CashierShift"
	Stock                   Entity = "Stock"
	Medicine                Entity = "Medicine"
	MedicineCategory        Entity = "MedicineCategory"
	MedicineBatch           Entity = "MedicineBatch"
	SaleItem                Entity = "SaleItem"
	Refund                  Entity = "Refund"
	RefundItem              Entity = "RefundItem"
	StockMovement           Entity = "StockMovement"
	PaymentMethod           Entity = "PaymentMethod"
	SubscriptionPlan        Entity = "SubscriptionPlan"
	PharmacySubscription    Entity = "PharmacySubscription"
	PharmacyDocument        Entity = "PharmacyDocument"
	RegistrationApplication Entity = "RegistrationApplication"
	PasswordResetToken      Entity = "PasswordResetToken"
	RestockRequest          Entity = "RestockRequest"
)

// Physical names are listed, not derived: pluralization is irregular
// (pharmacies, branches, medicine_batches).
var tables = map[Entity]string{
	User:                    "users",
	Pharmacy:                "pharmacies",
	Branch:                  "branches",
	Role:                    "roles",
	UserRole:                "user_roles",
	UserBranch:              "user_branches",
	Sale:                    "sales",
	Payment:                 "payments",
	PaymentTransaction:      "payment_transactions",
	CashierShift:            "cashier_shifts",
	Stock:                   "stocks",
	Medicine:                "medicines",
	MedicineCategory:        "medicine_categories",
	MedicineBatch:           "medicine_batches",
	SaleItem:                "sale_items",
	Refund:                  "refunds",
	RefundItem:              "refund_items",
	StockMovement:           "stock_movements",
	PaymentMethod:           "payment_methods",
	SubscriptionPlan:        "subscription_plans",
	PharmacySubscription:    "pharmacy_subscriptions",
	PharmacyDocument:        "pharmacy_documents",
	RegistrationApplication: "registration_applications",
	PasswordResetToken:      "password_reset_tokens",
	RestockRequest:          "restock_requests",
}

var entities = func() map[string]Entity {
	m := make(map[string]Entity, len(tables))
	for e, t := range tables {
		m[t] = e
	}
	return m
}()

// TableName resolves the physical table for e.
func TableName(e Entity) (string, bool) {
	t, ok := tables[e]
	return t, ok
}

// MustTableName is TableName for names known at build time; an unknown
// entity is a programming error and panics.
func MustTableName(e Entity) string {
	t, ok := tables[e]
	if !ok {
		panic(fmt.Sprintf("orm: no table mapped for entity %q", string(e)))
	}
	return t
}

// EntityFor is the reverse lookup of TableName.
func EntityFor(table string) (Entity, bool) {
	e, ok := entities[table]
	return e, ok
}

// Entities lists every mapped entity in name order.
func Entities() []Entity {
	out := make([]Entity, 0, len(tables))
	for e := range tables {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
