package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"medeasy/pharmacy/domain"
	"medeasy/pharmacy/internal/orm"
)

// staffMember is a user of the caller's pharmacy with its role names and
// branch assignments.
type staffMember struct {
	userResponse
	IsActive  bool    `json:"is_active"`
	BranchIDs []int64 `json:"branch_ids"`
}

// staffAssignments is the embedded part of a user row.
type staffAssignments struct {
	UserRoles []struct {
		RoleID int64 `json:"role_id"`
	} `json:"user_roles"`
	UserBranches []struct {
		BranchID int64 `json:"branch_id"`
	} `json:"user_branches"`
}

func (s staffAssignments) branchIDs() []int64 {
	ids := make([]int64, 0, len(s.UserBranches))
	for _, ub := range s.UserBranches {
		ids = append(ids, ub.BranchID)
	}
	return ids
}

// listUsers returns the pharmacy's staff with their roles and branches.
func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin, domain.RoleManager) {
		return
	}
	ctx := r.Context()
	rows, err := h.db.Model(orm.User).FindMany(ctx, orm.FindArgs{
		Where: orm.Where{"pharmacyId": claimsFromContext(r).PharmacyID},
		Include: orm.Include{
			"userRoles":    orm.Relation{Select: []string{"roleId"}},
			"userBranches": orm.Relation{Select: []string{"branchId"}},
		},
		OrderBy: orm.Asc("id"),
	})
	if err != nil {
		respondStoreError(w, err, "unable to fetch users")
		return
	}
	roleRows, err := h.db.Model(orm.Role).FindMany(ctx, orm.FindArgs{})
	if err != nil {
		respondStoreError(w, err, "unable to fetch roles")
		return
	}
	roles, err := domain.DecodeAll[domain.Role](roleRows)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read roles")
		return
	}
	roleNames := make(map[int64]string, len(roles))
	for _, role := range roles {
		roleNames[role.ID] = role.Name
	}

	staff := make([]staffMember, 0, len(rows))
	for _, row := range rows {
		var (
			user domain.User
			s    staffAssignments
		)
		if err := domain.Decode(row, &user); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to read users")
			return
		}
		if err := domain.Decode(row, &s); err != nil {
			respondError(w, http.StatusInternalServerError, "unable to read users")
			return
		}
		names := make([]string, 0, len(s.UserRoles))
		for _, ur := range s.UserRoles {
			names = append(names, roleNames[ur.RoleID])
		}
		staff = append(staff, staffMember{
			userResponse: newUserResponse(user, names),
			IsActive:     user.IsActive,
			BranchIDs:    s.branchIDs(),
		})
	}
	respondJSON(w, http.StatusOK, staff)
}

// createUser adds a staff member. Unlike register, roles must be given.
func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Roles) == 0 {
		respondError(w, http.StatusBadRequest, "at least one role is required")
		return
	}
	user, roles, err := h.createStaff(r.Context(), claimsFromContext(r).PharmacyID, req)
	if err != nil {
		respondStoreError(w, err, "unable to create user")
		return
	}
	respondJSON(w, http.StatusCreated, staffMember{
		userResponse: newUserResponse(user, roles),
		IsActive:     user.IsActive,
		BranchIDs:    nonNil(req.BranchIDs),
	})
}

type updateUserRequest struct {
	FullName  *string   `json:"full_name"`
	IsActive  *bool     `json:"is_active"`
	Roles     *[]string `json:"roles"`
	BranchIDs *[]int64  `json:"branch_ids"`
}

// updateUser edits a staff member. Roles and branch_ids, when given,
// replace the current assignments.
func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	claims := claimsFromContext(r)
	user, err := h.staffUser(ctx, claims.PharmacyID, chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err, "unable to load user")
		return
	}
	if user.ID == claims.UserID {
		if req.IsActive != nil && !*req.IsActive {
			respondError(w, http.StatusBadRequest, "You cannot deactivate your own account")
			return
		}
		if req.Roles != nil && !contains(*req.Roles, domain.RoleAdmin) {
			respondError(w, http.StatusBadRequest, "You cannot remove your own admin role")
			return
		}
	}
	if req.BranchIDs != nil {
		if err := h.ownBranches(ctx, claims.PharmacyID, *req.BranchIDs); err != nil {
			respondStoreError(w, err, "unable to verify branches")
			return
		}
	}

	data := orm.Data{}
	if req.FullName != nil {
		if *req.FullName == "" {
			respondError(w, http.StatusBadRequest, "full_name cannot be empty")
			return
		}
		data["fullName"] = *req.FullName
	}
	if req.IsActive != nil {
		data["isActive"] = *req.IsActive
	}

	err = h.db.Unit(ctx, func(ctx context.Context, tx *orm.Client) error {
		if len(data) > 0 {
			if _, err := tx.Model(orm.User).Update(ctx, orm.ByID(user.ID), data); err != nil {
				return err
			}
		}
		if req.Roles != nil {
			if _, err := tx.Model(orm.UserRole).DeleteMany(ctx, orm.Where{"userId": user.ID}); err != nil {
				return err
			}
			if _, err := assignRoles(ctx, tx, user.ID, *req.Roles); err != nil {
				return err
			}
		}
		if req.BranchIDs != nil {
			if _, err := tx.Model(orm.UserBranch).DeleteMany(ctx, orm.Where{"userId": user.ID}); err != nil {
				return err
			}
			return assignBranches(ctx, tx, user.ID, *req.BranchIDs)
		}
		return nil
	})
	if err != nil {
		respondStoreError(w, err, "unable to update user")
		return
	}
	h.respondStaff(w, r, user.ID)
}

// deactivateUser disables a staff member's login and removes its branch
// assignments. The user row is kept for the sales it recorded.
func (h *Handler) deactivateUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	ctx := r.Context()
	claims := claimsFromContext(r)
	user, err := h.staffUser(ctx, claims.PharmacyID, chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err, "unable to load user")
		return
	}
	if user.ID == claims.UserID {
		respondError(w, http.StatusBadRequest, "You cannot deactivate your own account")
		return
	}
	err = h.db.Unit(ctx, func(ctx context.Context, tx *orm.Client) error {
		if _, err := tx.Model(orm.User).Update(ctx, orm.ByID(user.ID), orm.Data{"isActive": false}); err != nil {
			return err
		}
		_, err := tx.Model(orm.UserBranch).DeleteMany(ctx, orm.Where{"userId": user.ID})
		return err
	})
	if err != nil {
		respondStoreError(w, err, "unable to deactivate user")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "User deactivated"})
}

// staffUser loads the user named by a path id, failing with 404 unless it
// belongs to pharmacyID.
func (h *Handler) staffUser(ctx context.Context, pharmacyID int64, rawID string) (domain.User, error) {
	var user domain.User
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return user, fail(http.StatusBadRequest, "invalid user id")
	}
	row, err := h.db.Model(orm.User).FindUnique(ctx, orm.ByID(id), nil)
	if err != nil {
		return user, err
	}
	if row == nil {
		return user, fail(http.StatusNotFound, "User not found")
	}
	if err := domain.Decode(row, &user); err != nil {
		return user, err
	}
	if user.PharmacyID == nil || *user.PharmacyID != pharmacyID {
		return user, fail(http.StatusNotFound, "User not found")
	}
	return user, nil
}

func (h *Handler) respondStaff(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	row, err := h.db.Model(orm.User).FindUnique(ctx, orm.ByID(userID), orm.Include{
		"userBranches": orm.Relation{Select: []string{"branchId"}},
	})
	if err != nil {
		respondStoreError(w, err, "unable to load user")
		return
	}
	if row == nil {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	var (
		user domain.User
		s    staffAssignments
	)
	if err := domain.Decode(row, &user); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read user")
		return
	}
	if err := domain.Decode(row, &s); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read user")
		return
	}
	roles, err := userRoles(ctx, h.db, userID)
	if err != nil {
		respondStoreError(w, err, "unable to load roles")
		return
	}
	respondJSON(w, http.StatusOK, staffMember{
		userResponse: newUserResponse(user, roles),
		IsActive:     user.IsActive,
		BranchIDs:    s.branchIDs(),
	})
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
