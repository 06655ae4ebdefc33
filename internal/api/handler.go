package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"medeasy/pharmacy/domain"
	"medeasy/pharmacy/internal/events"
	"medeasy/pharmacy/internal/orm"
	"medeasy/pharmacy/internal/ratelimit"
	"medeasy/pharmacy/internal/rowstore"
)

type ctxKey string

const (
	ctxClaims       ctxKey = "claims"
	ctxSubscription ctxKey = "subscription"
)

// Options carries the dependencies of a Handler. Nil limiters disable rate
// limiting and a nil Events publisher logs events.
type Options struct {
	DB            *orm.Client
	Secret        string
	TokenTTL      time.Duration
	WebhookSecret string
	Events        events.Publisher

	AuthLimiter    ratelimit.Limiter
	APILimiter     ratelimit.Limiter
	WebhookLimiter ratelimit.Limiter
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db            *orm.Client
	secret        string
	tokenTTL      time.Duration
	webhookSecret string
	events        events.Publisher

	authLimiter    ratelimit.Limiter
	apiLimiter     ratelimit.Limiter
	webhookLimiter ratelimit.Limiter

	now func() time.Time
}

// New constructs a Handler.
func New(opts Options) *Handler {
	h := &Handler{
		db:             opts.DB,
		secret:         opts.Secret,
		tokenTTL:       opts.TokenTTL,
		webhookSecret:  opts.WebhookSecret,
		events:         opts.Events,
		authLimiter:    opts.AuthLimiter,
		apiLimiter:     opts.APILimiter,
		webhookLimiter: opts.WebhookLimiter,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if h.tokenTTL <= 0 {
		h.tokenTTL = 24 * time.Hour
	}
	if h.events == nil {
		h.events = events.NewLogPublisher(nil)
	}
	return h
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(limit(h.authLimiter, "Too many authentication attempts, please try again later"))
			r.Post("/login", h.login)
			r.Post("/register-pharmacy", h.registerPharmacy)
			r.Group(func(protected chi.Router) {
				protected.Use(h.authMiddleware)
				protected.Get("/me", h.me)
				protected.Post("/change-password", h.changePassword)
				protected.Post("/register", h.register)
			})
		})

		r.With(limit(h.webhookLimiter, "Too many webhook requests")).
			Post("/payments/chapa/webhook", h.chapaWebhook)

		r.Group(func(pr chi.Router) {
			pr.Use(limit(h.apiLimiter, "Too many requests from this IP, please try again later"))
			pr.Use(h.authMiddleware)

			pr.Get("/subscription", h.currentSubscription)

			pr.Group(func(sr chi.Router) {
				sr.Use(h.subscriptionMiddleware)

				sr.Route("/pharmacies", func(r chi.Router) {
					r.Get("/my", h.myPharmacy)
					r.Get("/branches", h.listBranches)
					r.Post("/branches", h.createBranch)
					r.Put("/branches/{id}", h.updateBranch)
					r.Delete("/branches/{id}", h.deleteBranch)
				})

				sr.Route("/users", func(r chi.Router) {
					r.Get("/", h.listUsers)
					r.Post("/", h.createUser)
					r.Put("/{id}", h.updateUser)
					r.Delete("/{id}", h.deactivateUser)
				})

				sr.Route("/inventory", func(r chi.Router) {
					r.Get("/categories", h.listCategories)
					r.Post("/categories", h.createCategory)
					r.Get("/medicines", h.listMedicines)
					r.Post("/medicines", h.createMedicine)
					r.Get("/catalog", h.searchCatalog)
					r.Get("/stocks", h.listStocks)
					r.Post("/batches", h.receiveBatch)
					r.Get("/expiry-alerts", h.expiryAlerts)
				})

				sr.Route("/sales", func(r chi.Router) {
					r.Get("/payment-methods", h.listPaymentMethods)
					r.Post("/", h.createSale)
					r.Get("/", h.listSales)
				})

				sr.Route("/refunds", func(r chi.Router) {
					r.Post("/", h.createRefund)
					r.Get("/", h.listRefunds)
				})

				sr.Route("/payments", func(r chi.Router) {
					r.Post("/chapa/initialize", h.initializePayment)
					r.Get("/chapa/verify/{txRef}", h.verifyPayment)
					r.Get("/transactions", h.listTransactions)
				})

				sr.Route("/shifts", func(r chi.Router) {
					r.Post("/start", h.startShift)
					r.Post("/end", h.endShift)
					r.Get("/current", h.currentShift)
				})

				sr.Route("/reports", func(r chi.Router) {
					r.Get("/summary", h.summaryReport)
					r.Get("/sales", h.salesReport)
				})
			})
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func limit(l ratelimit.Limiter, message string) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.Middleware(l, message, ratelimit.ClientIP)
}

func (h *Handler) publish(ctx context.Context, e events.Event) {
	if err := h.events.Publish(ctx, e); err != nil {
		log.Printf("[EVENTS] unable to publish %s: %v", e.Type, err)
	}
}

// ownBranch reports whether branchID belongs to pharmacyID.
func (h *Handler) ownBranch(ctx context.Context, pharmacyID, branchID int64) (bool, error) {
	row, err := h.db.Model(orm.Branch).FindUnique(ctx, orm.ByID(branchID), nil)
	if err != nil || row == nil {
		return false, err
	}
	var branch domain.Branch
	if err := domain.Decode(row, &branch); err != nil {
		return false, err
	}
	return branch.PharmacyID == pharmacyID, nil
}

// ownBranches fails with 400 unless every id is a branch of pharmacyID.
func (h *Handler) ownBranches(ctx context.Context, pharmacyID int64, branchIDs []int64) error {
	for _, id := range branchIDs {
		ok, err := h.ownBranch(ctx, pharmacyID, id)
		if err != nil {
			return err
		}
		if !ok {
			return fail(http.StatusBadRequest, "branch %d does not belong to this pharmacy", id)
		}
	}
	return nil
}

// usableMedicine reports whether pharmacyID may stock medicineID: shared
// catalog entries have no branch, pharmacy medicines must be on one of its
// branches. It returns a 404 apiError when the medicine does not exist.
func (h *Handler) usableMedicine(ctx context.Context, pharmacyID, medicineID int64) (bool, error) {
	row, err := h.db.Model(orm.Medicine).FindUnique(ctx, orm.ByID(medicineID), nil)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, fail(http.StatusNotFound, "Medicine not found")
	}
	var medicine domain.Medicine
	if err := domain.Decode(row, &medicine); err != nil {
		return false, err
	}
	if medicine.BranchID == nil {
		return true, nil
	}
	return h.ownBranch(ctx, pharmacyID, *medicine.BranchID)
}

// scoped drops rows whose embedded relation was filtered away, which is how
// the store reports a dotted filter that did not match.
func scoped(rows []orm.Row, relation string) []orm.Row {
	out := make([]orm.Row, 0, len(rows))
	for _, row := range rows {
		if row[relation] != nil {
			out = append(out, row)
		}
	}
	return out
}

// Helpers

// apiError is returned from inside units of work to abort them with a
// specific response.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func fail(status int, format string, args ...any) error {
	return &apiError{status: status, message: fmt.Sprintf(format, args...)}
}

func respondStoreError(w http.ResponseWriter, err error, message string) {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		respondError(w, ae.status, ae.message)
	case rowstore.IsNoRows(err):
		respondError(w, http.StatusNotFound, "not found")
	case rowstore.IsConflict(err):
		respondError(w, http.StatusConflict, "conflicts with existing data")
	default:
		log.Printf("%s: %v", message, err)
		respondError(w, http.StatusInternalServerError, message)
	}
}

func queryInt64(r *http.Request, key string) (*int64, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &n, nil
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	if n < 0 {
		return 0
	}
	return n
}

// dateRange reads start_date and end_date (YYYY-MM-DD). The end date is
// inclusive. Either both or neither must be given.
func dateRange(r *http.Request) (from, to *time.Time, err error) {
	start := r.URL.Query().Get("start_date")
	end := r.URL.Query().Get("end_date")
	if start == "" && end == "" {
		return nil, nil, nil
	}
	if start == "" || end == "" {
		return nil, nil, errors.New("start_date and end_date must be given together")
	}
	f, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, nil, errors.New("start_date must be YYYY-MM-DD")
	}
	t, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, nil, errors.New("end_date must be YYYY-MM-DD")
	}
	t = t.Add(24*time.Hour - time.Nanosecond)
	return &f, &t, nil
}

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
