package seed

import (
	"context"
	"fmt"
	"log"

	"medeasy/pharmacy/domain"
	"medeasy/pharmacy/internal/orm"
)

// Reference creates the roles, payment methods and subscription plans that
// are missing. It is safe to run repeatedly.
func Reference(ctx context.Context, db *orm.Client) error {
	created := 0
	for _, r := range domain.Roles {
		n, err := ensure(ctx, db, orm.Role, r.Name, orm.Data{"name": r.Name, "description": r.Description})
		if err != nil {
			return err
		}
		created += n
	}
	for _, m := range domain.PaymentMethods {
		n, err := ensure(ctx, db, orm.PaymentMethod, m.Name, orm.Data{"name": m.Name, "description": m.Description, "isActive": m.IsActive})
		if err != nil {
			return err
		}
		created += n
	}
	for _, p := range domain.Plans {
		n, err := ensure(ctx, db, orm.SubscriptionPlan, p.Name, orm.Data{
			"name":              p.Name,
			"price":             p.Price,
			"maxBranches":       p.MaxBranches,
			"maxStaffPerBranch": p.MaxStaffPerBranch,
			"maxMedicines":      p.MaxMedicines,
			"maxImportRows":     p.MaxImportRows,
		})
		if err != nil {
			return err
		}
		created += n
	}
	log.Printf("seeded reference data (%d new rows)", created)
	return nil
}

func ensure(ctx context.Context, db *orm.Client, e orm.Entity, name string, data orm.Data) (int, error) {
	existing, err := db.Model(e).FindUnique(ctx, orm.ByName(name), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to look up %s %q: %w", e, name, err)
	}
	if existing != nil {
		return 0, nil
	}
	if _, err := db.Model(e).Create(ctx, data); err != nil {
		return 0, fmt.Errorf("failed to create %s %q: %w", e, name, err)
	}
	return 1, nil
}
