package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"medeasy/pharmacy/domain"
	"medeasy/pharmacy/internal/orm"
	"medeasy/pharmacy/internal/rowstore"
)

func (h *Handler) myPharmacy(w http.ResponseWriter, r *http.Request) {
	row, err := h.db.Model(orm.Pharmacy).FindUnique(r.Context(), orm.ByID(claimsFromContext(r).PharmacyID), nil)
	if err != nil {
		respondStoreError(w, err, "unable to load pharmacy")
		return
	}
	if row == nil {
		respondError(w, http.StatusNotFound, "Pharmacy not found")
		return
	}
	var pharmacy domain.Pharmacy
	if err := domain.Decode(row, &pharmacy); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read pharmacy")
		return
	}
	respondJSON(w, http.StatusOK, pharmacy)
}

func (h *Handler) listBranches(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Model(orm.Branch).FindMany(r.Context(), orm.FindArgs{
		Where:   orm.Where{"pharmacyId": claimsFromContext(r).PharmacyID},
		OrderBy: orm.Asc("id"),
	})
	if err != nil {
		respondStoreError(w, err, "unable to fetch branches")
		return
	}
	branches, err := domain.DecodeAll[domain.Branch](rows)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read branches")
		return
	}
	respondJSON(w, http.StatusOK, branches)
}

type createBranchRequest struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	Location     string `json:"location"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	IsMainBranch bool   `json:"is_main_branch"`
}

func (h *Handler) createBranch(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	var req createBranchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	ctx := r.Context()
	pharmacyID := claimsFromContext(r).PharmacyID
	if sub := subscriptionFromContext(r); sub != nil && sub.Plan != nil {
		count, err := h.db.Model(orm.Branch).Count(ctx, orm.Where{"pharmacyId": pharmacyID})
		if err != nil {
			respondStoreError(w, err, "unable to count branches")
			return
		}
		if count >= sub.Plan.MaxBranches {
			respondJSON(w, http.StatusForbidden, map[string]any{
				"error":      "Branch limit reached for your plan",
				"code":       "BRANCH_LIMIT_REACHED",
				"maxAllowed": sub.Plan.MaxBranches,
			})
			return
		}
	}

	var branch domain.Branch
	err := h.db.Unit(ctx, func(ctx context.Context, tx *orm.Client) error {
		if req.IsMainBranch {
			if err := demoteMainBranch(ctx, tx, pharmacyID); err != nil {
				return err
			}
		}
		row, err := tx.Model(orm.Branch).Create(ctx, orm.Data{
			"pharmacyId":   pharmacyID,
			"name":         strings.TrimSpace(req.Name),
			"address":      req.Address,
			"location":     req.Location,
			"phone":        req.Phone,
			"email":        req.Email,
			"isMainBranch": req.IsMainBranch,
			"isActive":     true,
		})
		if err != nil {
			return err
		}
		return domain.Decode(row, &branch)
	})
	if err != nil {
		respondStoreError(w, err, "unable to create branch")
		return
	}
	respondJSON(w, http.StatusCreated, branch)
}

// demoteMainBranch clears the main branch flag across the pharmacy, so the
// branch written next can take it.
func demoteMainBranch(ctx context.Context, tx *orm.Client, pharmacyID int64) error {
	_, err := tx.Model(orm.Branch).UpdateMany(ctx, orm.Where{
		"pharmacyId":   pharmacyID,
		"isMainBranch": true,
	}, orm.Data{"isMainBranch": false})
	return err
}

type updateBranchRequest struct {
	Name         *string `json:"name"`
	Address      *string `json:"address"`
	Location     *string `json:"location"`
	Phone        *string `json:"phone"`
	Email        *string `json:"email"`
	IsMainBranch *bool   `json:"is_main_branch"`
	IsActive     *bool   `json:"is_active"`
}

// updateBranch edits a branch. Making it the main branch demotes the
// current one; the main branch itself cannot be demoted or deactivated.
func (h *Handler) updateBranch(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	var req updateBranchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	pharmacyID := claimsFromContext(r).PharmacyID
	branch, err := h.pharmacyBranch(ctx, pharmacyID, chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err, "unable to load branch")
		return
	}

	data := orm.Data{}
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			respondError(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
		data["name"] = strings.TrimSpace(*req.Name)
	}
	for field, v := range map[string]*string{"address": req.Address, "location": req.Location, "phone": req.Phone, "email": req.Email} {
		if v != nil {
			data[field] = *v
		}
	}
	if req.IsActive != nil {
		if branch.IsMainBranch && !*req.IsActive {
			respondError(w, http.StatusBadRequest, "The main branch cannot be deactivated")
			return
		}
		data["isActive"] = *req.IsActive
	}
	promote := false
	if req.IsMainBranch != nil {
		if branch.IsMainBranch && !*req.IsMainBranch {
			respondError(w, http.StatusBadRequest, "Choose another main branch instead")
			return
		}
		promote = *req.IsMainBranch && !branch.IsMainBranch
		data["isMainBranch"] = *req.IsMainBranch
	}
	if len(data) == 0 {
		respondJSON(w, http.StatusOK, branch)
		return
	}

	err = h.db.Unit(ctx, func(ctx context.Context, tx *orm.Client) error {
		if promote {
			if err := demoteMainBranch(ctx, tx, pharmacyID); err != nil {
				return err
			}
		}
		row, err := tx.Model(orm.Branch).Update(ctx, orm.ByID(branch.ID), data)
		if err != nil {
			return err
		}
		return domain.Decode(row, &branch)
	})
	if err != nil {
		respondStoreError(w, err, "unable to update branch")
		return
	}
	respondJSON(w, http.StatusOK, branch)
}

// deleteBranch removes a branch nothing else refers to. Staff
// assignments to it are dropped with it.
func (h *Handler) deleteBranch(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	ctx := r.Context()
	branch, err := h.pharmacyBranch(ctx, claimsFromContext(r).PharmacyID, chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err, "unable to load branch")
		return
	}
	if branch.IsMainBranch {
		respondError(w, http.StatusBadRequest, "The main branch cannot be deleted")
		return
	}
	err = h.db.Unit(ctx, func(ctx context.Context, tx *orm.Client) error {
		if _, err := tx.Model(orm.UserBranch).DeleteMany(ctx, orm.Where{"branchId": branch.ID}); err != nil {
			return err
		}
		_, err := tx.Model(orm.Branch).Delete(ctx, branch.ID)
		return err
	})
	if rowstore.IsConflict(err) {
		respondError(w, http.StatusConflict, "Branch still has medicines, stock or sales; deactivate it instead")
		return
	}
	if err != nil {
		respondStoreError(w, err, "unable to delete branch")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Branch deleted"})
}

// pharmacyBranch loads the branch named by a path id, failing with 404
// unless it belongs to pharmacyID.
func (h *Handler) pharmacyBranch(ctx context.Context, pharmacyID int64, rawID string) (domain.Branch, error) {
	var branch domain.Branch
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return branch, fail(http.StatusBadRequest, "invalid branch id")
	}
	row, err := h.db.Model(orm.Branch).FindUnique(ctx, orm.ByID(id), nil)
	if err != nil {
		return branch, err
	}
	if row == nil {
		return branch, fail(http.StatusNotFound, "Branch not found")
	}
	if err := domain.Decode(row, &branch); err != nil {
		return branch, err
	}
	if branch.PharmacyID != pharmacyID {
		return branch, fail(http.StatusNotFound, "Branch not found")
	}
	return branch, nil
}
