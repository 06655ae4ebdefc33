package domain

import "time"

type Pharmacy struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type Branch struct {
	ID           int64  `json:"id"`
	PharmacyID   int64  `json:"pharmacy_id"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	Location     string `json:"location"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	IsMainBranch bool   `json:"is_main_branch"`
	IsActive     bool   `json:"is_active"`
}

type SubscriptionPlan struct {
	ID                int64   `json:"id"`
	Name              string  `json:"name"`
	Price             float64 `json:"price"`
	MaxBranches       int     `json:"max_branches"`
	MaxStaffPerBranch int     `json:"max_staff_per_branch"`
	MaxMedicines      int     `json:"max_medicines"`
	MaxImportRows     int     `json:"max_import_rows"`
}

// Subscription statuses.
const (
	SubscriptionTrial   = "trial"
	SubscriptionActive  = "active"
	SubscriptionGrace   = "grace"
	SubscriptionExpired = "expired"
)

// PlanTrial is assigned to newly registered pharmacies.
const PlanTrial = "Trial"

// Plans lists the plans seeded into every store.
var Plans = []SubscriptionPlan{
	{Name: PlanTrial, Price: 0, MaxBranches: 1, MaxStaffPerBranch: 5, MaxMedicines: 100, MaxImportRows: 100},
	{Name: "Basic", Price: 499, MaxBranches: 3, MaxStaffPerBranch: 10, MaxMedicines: 1000, MaxImportRows: 1000},
	{Name: "Pro", Price: 1499, MaxBranches: 20, MaxStaffPerBranch: 50, MaxMedicines: 20000, MaxImportRows: 10000},
}

type PharmacySubscription struct {
	ID          int64             `json:"id"`
	PharmacyID  int64             `json:"pharmacy_id"`
	PlanID      int64             `json:"plan_id"`
	Status      string            `json:"status"`
	TrialEndsAt *time.Time        `json:"trial_ends_at,omitempty"`
	GraceEndsAt *time.Time        `json:"grace_ends_at,omitempty"`
	Plan        *SubscriptionPlan `json:"subscription_plans,omitempty"`
}
