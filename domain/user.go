package domain

import "time"

type User struct {
	ID                 int64     `json:"id"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"password_hash,omitempty"`
	FullName           string    `json:"full_name"`
	PharmacyID         *int64    `json:"pharmacy_id,omitempty"`
	IsActive           bool      `json:"is_active"`
	MustChangePassword bool      `json:"must_change_password"`
	CreatedAt          time.Time `json:"created_at"`
}

type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Role names.
const (
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RolePharmacist = "pharmacist"
	RoleCashier    = "cashier"
)

// Roles lists the roles seeded into every store.
var Roles = []Role{
	{Name: RoleAdmin, Description: "Pharmacy owner with full access"},
	{Name: RoleManager, Description: "Branch manager"},
	{Name: RolePharmacist, Description: "Dispenses and manages stock"},
	{Name: RoleCashier, Description: "Runs the till"},
}
