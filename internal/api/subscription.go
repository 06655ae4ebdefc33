package api

import (
	"context"
	"net/http"

	"medeasy/pharmacy/domain"
	"medeasy/pharmacy/internal/orm"
)

// activeSubscription returns the newest subscription of a pharmacy with its
// plan, or nil when it has none.
func (h *Handler) activeSubscription(ctx context.Context, pharmacyID int64) (*domain.PharmacySubscription, error) {
	row, err := h.db.Model(orm.PharmacySubscription).FindFirst(ctx, orm.FindArgs{
		Where: orm.Where{"pharmacyId": pharmacyID},
		Include: orm.Include{"subscriptionPlans": orm.Relation{Select: []string{
			"id", "name", "maxBranches", "maxStaffPerBranch", "maxMedicines", "maxImportRows",
		}}},
		OrderBy: orm.Desc("createdAt"),
	})
	if err != nil || row == nil {
		return nil, err
	}
	var sub domain.PharmacySubscription
	if err := domain.Decode(row, &sub); err != nil {
		return nil, err
	}
	if sub.Plan == nil {
		sub.Plan = &domain.SubscriptionPlan{Name: "Unknown", MaxBranches: 1, MaxStaffPerBranch: 5, MaxMedicines: 100, MaxImportRows: 100}
	}
	return &sub, nil
}

// subscriptionProblem returns the error code and message that block a
// subscription, or empty strings when it may be used.
func (h *Handler) subscriptionProblem(sub *domain.PharmacySubscription) (code, message string) {
	now := h.now()
	switch {
	case sub == nil:
		return "NO_SUBSCRIPTION", "No active subscription"
	case sub.Status == domain.SubscriptionExpired:
		return "SUBSCRIPTION_EXPIRED", "Subscription has expired"
	case sub.Status == domain.SubscriptionGrace && sub.GraceEndsAt != nil && sub.GraceEndsAt.Before(now):
		return "GRACE_PERIOD_ENDED", "Grace period has ended"
	case sub.Status == domain.SubscriptionTrial && sub.TrialEndsAt != nil && sub.TrialEndsAt.Before(now):
		return "TRIAL_ENDED", "Trial period has ended"
	}
	return "", ""
}

func (h *Handler) subscriptionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := h.activeSubscription(r.Context(), claimsFromContext(r).PharmacyID)
		if err != nil {
			respondStoreError(w, err, "unable to check subscription")
			return
		}
		if code, message := h.subscriptionProblem(sub); code != "" {
			respondJSON(w, http.StatusForbidden, map[string]string{"error": message, "code": code})
			return
		}
		ctx := context.WithValue(r.Context(), ctxSubscription, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func subscriptionFromContext(r *http.Request) *domain.PharmacySubscription {
	sub, _ := r.Context().Value(ctxSubscription).(*domain.PharmacySubscription)
	return sub
}

func (h *Handler) currentSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.activeSubscription(r.Context(), claimsFromContext(r).PharmacyID)
	if err != nil {
		respondStoreError(w, err, "unable to load subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "No active subscription")
		return
	}
	code, _ := h.subscriptionProblem(sub)
	respondJSON(w, http.StatusOK, map[string]any{"subscription": sub, "usable": code == "", "code": code})
}
