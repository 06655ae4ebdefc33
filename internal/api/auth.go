package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"medeasy/pharmacy/domain"
	"medeasy/pharmacy/internal/orm"
)

// trialPeriod is how long a newly registered pharmacy may use the trial plan.
const trialPeriod = 14 * 24 * time.Hour

// Authentication helpers

type authClaims struct {
	UserID     int64    `json:"user_id"`
	PharmacyID int64    `json:"pharmacy_id"`
	Email      string   `json:"email"`
	Roles      []string `json:"roles"`
	jwt.RegisteredClaims
}

func (c *authClaims) hasRole(allowed ...string) bool {
	for _, have := range c.Roles {
		for _, want := range allowed {
			if have == want {
				return true
			}
		}
	}
	return false
}

func (h *Handler) generateToken(userID, pharmacyID int64, email string, roles []string) (string, error) {
	now := h.now()
	claims := authClaims{
		UserID:     userID,
		PharmacyID: pharmacyID,
		Email:      email,
		Roles:      roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "No token provided")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		ctx := context.WithValue(r.Context(), ctxClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(r *http.Request) *authClaims {
	if c, ok := r.Context().Value(ctxClaims).(*authClaims); ok {
		return c
	}
	return &authClaims{}
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	if claimsFromContext(r).hasRole(allowed...) {
		return true
	}
	respondError(w, http.StatusForbidden, "Insufficient permissions")
	return false
}

// userRoles loads the role names assigned to a user.
func userRoles(ctx context.Context, db *orm.Client, userID int64) ([]string, error) {
	rows, err := db.Model(orm.UserRole).FindMany(ctx, orm.FindArgs{
		Where:   orm.Where{"userId": userID},
		Include: orm.Include{"role": orm.Relation{Select: []string{"id", "name"}}},
	})
	if err != nil {
		return nil, err
	}
	roles := make([]string, 0, len(rows))
	for _, row := range rows {
		role, _ := row["role"].(map[string]any)
		if name, ok := role["name"].(string); ok {
			roles = append(roles, name)
		}
	}
	return roles, nil
}

// assignRoles links userID to each named role that exists.
func assignRoles(ctx context.Context, db *orm.Client, userID int64, names []string) ([]string, error) {
	var assigned []string
	for _, name := range names {
		row, err := db.Model(orm.Role).FindUnique(ctx, orm.ByName(name), nil)
		if err != nil {
			return nil, err
		}
		if row == nil {
			continue
		}
		var role domain.Role
		if err := domain.Decode(row, &role); err != nil {
			return nil, err
		}
		if _, err := db.Model(orm.UserRole).Create(ctx, orm.Data{"userId": userID, "roleId": role.ID}); err != nil {
			return nil, err
		}
		assigned = append(assigned, role.Name)
	}
	return assigned, nil
}

// assignBranches links userID to each branch.
func assignBranches(ctx context.Context, db *orm.Client, userID int64, branchIDs []int64) error {
	for _, id := range branchIDs {
		if _, err := db.Model(orm.UserBranch).Create(ctx, orm.Data{"userId": userID, "branchId": id}); err != nil {
			return err
		}
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Auth Handlers

type userResponse struct {
	ID                 int64    `json:"id"`
	Email              string   `json:"email"`
	FullName           string   `json:"full_name"`
	PharmacyID         *int64   `json:"pharmacy_id"`
	Roles              []string `json:"roles"`
	MustChangePassword bool     `json:"must_change_password"`
}

func newUserResponse(u domain.User, roles []string) userResponse {
	if roles == nil {
		roles = []string{}
	}
	return userResponse{
		ID:                 u.ID,
		Email:              u.Email,
		FullName:           u.FullName,
		PharmacyID:         u.PharmacyID,
		Roles:              roles,
		MustChangePassword: u.MustChangePassword,
	}
}

type authResponse struct {
	Message  string           `json:"message"`
	Token    string           `json:"token,omitempty"`
	User     userResponse     `json:"user"`
	Pharmacy *domain.Pharmacy `json:"pharmacy,omitempty"`
	Branch   *domain.Branch   `json:"branch,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	ctx := r.Context()
	row, err := h.db.Model(orm.User).FindUnique(ctx, orm.ByEmail(strings.ToLower(req.Email)), nil)
	if err != nil {
		respondStoreError(w, err, "unable to load user")
		return
	}
	if row == nil {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	var user domain.User
	if err := domain.Decode(row, &user); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read user")
		return
	}
	if !user.IsActive {
		respondError(w, http.StatusUnauthorized, "Account is inactive")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	roles, err := userRoles(ctx, h.db, user.ID)
	if err != nil {
		respondStoreError(w, err, "unable to load roles")
		return
	}
	var pharmacyID int64
	if user.PharmacyID != nil {
		pharmacyID = *user.PharmacyID
	}
	token, err := h.generateToken(user.ID, pharmacyID, user.Email, roles)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}

	respondJSON(w, http.StatusOK, authResponse{Message: "Login successful", Token: token, User: newUserResponse(user, roles)})
}

type registerRequest struct {
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	FullName  string   `json:"full_name"`
	Roles     []string `json:"roles"`
	BranchIDs []int64  `json:"branch_ids"`
}

// register adds a staff member to the caller's pharmacy.
func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, domain.RoleAdmin) {
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Roles) == 0 {
		req.Roles = []string{domain.RolePharmacist}
	}
	user, roles, err := h.createStaff(r.Context(), claimsFromContext(r).PharmacyID, req)
	if err != nil {
		respondStoreError(w, err, "unable to register user")
		return
	}
	respondJSON(w, http.StatusCreated, authResponse{Message: "User registered successfully", User: newUserResponse(user, roles)})
}

// createStaff creates a user of pharmacyID who must change the given
// password on first login, with its roles and branch assignments.
func (h *Handler) createStaff(ctx context.Context, pharmacyID int64, req registerRequest) (domain.User, []string, error) {
	var user domain.User
	if req.Email == "" || req.Password == "" || req.FullName == "" {
		return user, nil, fail(http.StatusBadRequest, "email, password and full_name are required")
	}
	email := strings.ToLower(req.Email)

	existing, err := h.db.Model(orm.User).FindUnique(ctx, orm.ByEmail(email), nil)
	if err != nil {
		return user, nil, err
	}
	if existing != nil {
		return user, nil, fail(http.StatusBadRequest, "User already exists")
	}
	if err := h.ownBranches(ctx, pharmacyID, req.BranchIDs); err != nil {
		return user, nil, err
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		return user, nil, fail(http.StatusInternalServerError, "unable to secure password")
	}

	var roles []string
	err = h.db.Unit(ctx, func(ctx context.Context, tx *orm.Client) error {
		row, err := tx.Model(orm.User).Create(ctx, orm.Data{
			"email":              email,
			"passwordHash":       hashed,
			"fullName":           req.FullName,
			"pharmacyId":         pharmacyID,
			"isActive":           true,
			"mustChangePassword": true,
		})
		if err != nil {
			return err
		}
		if err := domain.Decode(row, &user); err != nil {
			return err
		}
		if roles, err = assignRoles(ctx, tx, user.ID, req.Roles); err != nil {
			return err
		}
		return assignBranches(ctx, tx, user.ID, req.BranchIDs)
	})
	return user, roles, err
}

type registerPharmacyRequest struct {
	PharmacyName    string `json:"pharmacy_name"`
	PharmacyAddress string `json:"pharmacy_address"`
	PharmacyPhone   string `json:"pharmacy_phone"`
	PharmacyEmail   string `json:"pharmacy_email"`
	FullName        string `json:"full_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
}

// registerPharmacy creates a pharmacy with its main branch, its owner and a
// trial subscription.
func (h *Handler) registerPharmacy(w http.ResponseWriter, r *http.Request) {
	var req registerPharmacyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.PharmacyName) == "" || req.FullName == "" || req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "pharmacy_name, full_name, email and password are required")
		return
	}
	if len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}
	email := strings.ToLower(req.Email)

	ctx := r.Context()
	existing, err := h.db.Model(orm.User).FindUnique(ctx, orm.ByEmail(email), nil)
	if err != nil {
		respondStoreError(w, err, "unable to check user")
		return
	}
	if existing != nil {
		respondError(w, http.StatusBadRequest, "Email is already registered")
		return
	}
	planRow, err := h.db.Model(orm.SubscriptionPlan).FindUnique(ctx, orm.ByName(domain.PlanTrial), nil)
	if err != nil {
		respondStoreError(w, err, "unable to load plans")
		return
	}
	if planRow == nil {
		respondError(w, http.StatusInternalServerError, "trial plan is not configured")
		return
	}
	var plan domain.SubscriptionPlan
	if err := domain.Decode(planRow, &plan); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read plan")
		return
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}

	var (
		pharmacy domain.Pharmacy
		branch   domain.Branch
		user     domain.User
		roles    []string
	)
	err = h.db.Unit(ctx, func(ctx context.Context, tx *orm.Client) error {
		row, err := tx.Model(orm.Pharmacy).Create(ctx, orm.Data{
			"name":     strings.TrimSpace(req.PharmacyName),
			"address":  req.PharmacyAddress,
			"phone":    req.PharmacyPhone,
			"email":    req.PharmacyEmail,
			"isActive": true,
		})
		if err != nil {
			return err
		}
		if err := domain.Decode(row, &pharmacy); err != nil {
			return err
		}

		row, err = tx.Model(orm.Branch).Create(ctx, orm.Data{
			"pharmacyId":   pharmacy.ID,
			"name":         "Main Branch",
			"address":      req.PharmacyAddress,
			"location":     req.PharmacyAddress,
			"phone":        req.PharmacyPhone,
			"email":        req.PharmacyEmail,
			"isMainBranch": true,
			"isActive":     true,
		})
		if err != nil {
			return err
		}
		if err := domain.Decode(row, &branch); err != nil {
			return err
		}

		row, err = tx.Model(orm.User).Create(ctx, orm.Data{
			"email":        email,
			"passwordHash": hashed,
			"fullName":     req.FullName,
			"pharmacyId":   pharmacy.ID,
			"isActive":     true,
		})
		if err != nil {
			return err
		}
		if err := domain.Decode(row, &user); err != nil {
			return err
		}
		if roles, err = assignRoles(ctx, tx, user.ID, []string{domain.RoleAdmin}); err != nil {
			return err
		}
		if err := assignBranches(ctx, tx, user.ID, []int64{branch.ID}); err != nil {
			return err
		}

		_, err = tx.Model(orm.PharmacySubscription).Create(ctx, orm.Data{
			"pharmacyId":  pharmacy.ID,
			"planId":      plan.ID,
			"status":      domain.SubscriptionTrial,
			"trialEndsAt": h.now().Add(trialPeriod).Format(time.RFC3339),
		})
		return err
	})
	if err != nil {
		respondStoreError(w, err, "unable to register pharmacy")
		return
	}

	token, err := h.generateToken(user.ID, pharmacy.ID, user.Email, roles)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}

	respondJSON(w, http.StatusCreated, authResponse{
		Message:  "Pharmacy registered successfully",
		Token:    token,
		User:     newUserResponse(user, roles),
		Pharmacy: &pharmacy,
		Branch:   &branch,
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r)
	ctx := r.Context()

	row, err := h.db.Model(orm.User).FindUnique(ctx, orm.ByID(claims.UserID), nil)
	if err != nil {
		respondStoreError(w, err, "unable to load user")
		return
	}
	if row == nil {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	var user domain.User
	if err := domain.Decode(row, &user); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read user")
		return
	}
	roles, err := userRoles(ctx, h.db, user.ID)
	if err != nil {
		respondStoreError(w, err, "unable to load roles")
		return
	}

	resp := map[string]any{"user": newUserResponse(user, roles)}
	if user.PharmacyID != nil {
		prow, err := h.db.Model(orm.Pharmacy).FindUnique(ctx, orm.ByID(*user.PharmacyID), nil)
		if err != nil {
			respondStoreError(w, err, "unable to load pharmacy")
			return
		}
		if prow != nil {
			var pharmacy domain.Pharmacy
			if err := domain.Decode(prow, &pharmacy); err == nil {
				resp["pharmacy"] = pharmacy
			}
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		respondError(w, http.StatusBadRequest, "Current and new passwords are required")
		return
	}

	ctx := r.Context()
	row, err := h.db.Model(orm.User).FindUnique(ctx, orm.ByID(claimsFromContext(r).UserID), nil)
	if err != nil {
		respondStoreError(w, err, "unable to load user")
		return
	}
	if row == nil {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	var user domain.User
	if err := domain.Decode(row, &user); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read user")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		respondError(w, http.StatusUnauthorized, "Current password is incorrect")
		return
	}

	hashed, err := hashPassword(req.NewPassword)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}
	if _, err := h.db.Model(orm.User).Update(ctx, orm.ByID(user.ID), orm.Data{
		"passwordHash":       hashed,
		"mustChangePassword": false,
	}); err != nil {
		respondStoreError(w, err, "unable to update password")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}
