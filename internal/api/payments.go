package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"medeasy/pharmacy/domain"
	"medeasy/pharmacy/internal/events"
	"medeasy/pharmacy/internal/orm"
)

const (
	providerChapa = "chapa"

	// maxWebhookBody bounds the webhook payload read before verification.
	maxWebhookBody = 1 << 20
)

var errAlreadyProcessed = errors.New("transaction already processed")

func newTxRef() string {
	return "PHARMA-" + uuid.NewString()
}

// paymentTrail is a transaction with the payment and sale it settles.
type paymentTrail struct {
	tx      domain.PaymentTransaction
	payment domain.Payment
	sale    domain.Sale
}

// loadTrail resolves a tx_ref to its transaction, payment and sale. It
// returns nil when the reference is unknown.
func loadTrail(ctx context.Context, db *orm.Client, txRef string) (*paymentTrail, error) {
	row, err := db.Model(orm.PaymentTransaction).FindUnique(ctx, orm.ByTxRef(txRef), orm.Include{"payment": orm.All})
	if err != nil || row == nil {
		return nil, err
	}
	trail := &paymentTrail{}
	if err := domain.Decode(row, &trail.tx); err != nil {
		return nil, err
	}
	payment, _ := row["payment"].(map[string]any)
	if payment == nil {
		return nil, fail(http.StatusNotFound, "Payment not found")
	}
	if err := domain.Decode(payment, &trail.payment); err != nil {
		return nil, err
	}
	saleRow, err := db.Model(orm.Sale).FindUnique(ctx, orm.ByID(trail.payment.SaleID), nil)
	if err != nil {
		return nil, err
	}
	if saleRow == nil {
		return nil, fail(http.StatusNotFound, "Sale not found")
	}
	if err := domain.Decode(saleRow, &trail.sale); err != nil {
		return nil, err
	}
	return trail, nil
}

// settle marks the trail's sale and payment as paid or failed.
func settle(ctx context.Context, db *orm.Client, trail *paymentTrail, paid bool) error {
	saleStatus, paymentStatus := domain.SaleCompleted, domain.PaymentCompleted
	if !paid {
		saleStatus, paymentStatus = domain.SaleFailed, domain.PaymentFailed
	}
	if _, err := db.Model(orm.Sale).Update(ctx, orm.ByID(trail.sale.ID), orm.Data{"status": saleStatus}); err != nil {
		return err
	}
	_, err := db.Model(orm.Payment).Update(ctx, orm.ByID(trail.payment.ID), orm.Data{"status": paymentStatus})
	return err
}

func (h *Handler) publishSettlement(ctx context.Context, trail *paymentTrail, paid bool) {
	eventType := events.PaymentVerified
	if !paid {
		eventType = events.PaymentFailed
	}
	h.publish(ctx, events.Event{
		Type:       eventType,
		PharmacyID: trail.sale.PharmacyID,
		Payload: map[string]any{
			"tx_ref":     trail.tx.TxRef,
			"payment_id": trail.payment.ID,
			"sale_id":    trail.sale.ID,
			"amount":     trail.payment.Amount,
		},
	})
}

type initializePaymentRequest struct {
	SaleID            int64  `json:"sale_id"`
	CustomerEmail     string `json:"customer_email"`
	CustomerFirstName string `json:"customer_first_name"`
	CustomerLastName  string `json:"customer_last_name"`
}

// initializePayment opens a pending Chapa payment for a sale and returns its
// transaction reference.
func (h *Handler) initializePayment(w http.ResponseWriter, r *http.Request) {
	var req initializePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SaleID == 0 || req.CustomerEmail == "" || req.CustomerFirstName == "" || req.CustomerLastName == "" {
		respondError(w, http.StatusBadRequest, "Missing required fields: sale_id, customer_email, customer_first_name, customer_last_name")
		return
	}

	ctx := r.Context()
	claims := claimsFromContext(r)
	row, err := h.db.Model(orm.Sale).FindUnique(ctx, orm.ByID(req.SaleID), nil)
	if err != nil {
		respondStoreError(w, err, "unable to load sale")
		return
	}
	if row == nil {
		respondError(w, http.StatusNotFound, "Sale not found")
		return
	}
	var sale domain.Sale
	if err := domain.Decode(row, &sale); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to read sale")
		return
	}
	if sale.PharmacyID != claims.PharmacyID {
		respondError(w, http.StatusForbidden, "Access denied")
		return
	}
	if sale.Status == domain.SaleCompleted {
		respondError(w, http.StatusBadRequest, "Sale is already completed")
		return
	}

	txRef := newTxRef()
	var payment domain.Payment
	err = h.db.Unit(ctx, func(ctx context.Context, tx *orm.Client) error {
		row, err := tx.Model(orm.Payment).Create(ctx, orm.Data{
			"saleId":     sale.ID,
			"pharmacyId": sale.PharmacyID,
			"amount":     sale.FinalAmount,
			"method":     providerChapa,
			"status":     domain.PaymentPending,
		})
		if err != nil {
			return err
		}
		if err := domain.Decode(row, &payment); err != nil {
			return err
		}
		_, err = tx.Model(orm.PaymentTransaction).Create(ctx, orm.Data{
			"paymentId": payment.ID,
			"provider":  providerChapa,
			"txRef":     txRef,
			"verified":  false,
			"rawResponse": map[string]any{
				"email":      req.CustomerEmail,
				"first_name": req.CustomerFirstName,
				"last_name":  req.CustomerLastName,
				"amount":     sale.FinalAmount,
				"currency":   "ETB",
			},
		})
		return err
	})
	if err != nil {
		respondStoreError(w, err, "unable to initialize payment")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"tx_ref":     txRef,
		"payment_id": payment.ID,
		"amount":     payment.Amount,
		"currency":   "ETB",
	})
}

// verifyPayment reports the recorded state of a transaction.
func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	txRef := chi.URLParam(r, "txRef")
	trail, err := loadTrail(r.Context(), h.db, txRef)
	if err != nil {
		respondStoreError(w, err, "unable to load transaction")
		return
	}
	if trail == nil {
		respondError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if trail.sale.PharmacyID != claimsFromContext(r).PharmacyID {
		respondError(w, http.StatusForbidden, "Access denied")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tx_ref":         trail.tx.TxRef,
		"verified":       trail.tx.Verified,
		"payment_status": trail.payment.Status,
		"sale_status":    trail.sale.Status,
		"amount":         trail.payment.Amount,
	})
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		TxRef    string          `json:"tx_ref"`
		Status   string          `json:"status"`
		Amount   json.RawMessage `json:"amount"`
		Currency string          `json:"currency"`
	} `json:"data"`
}

func (p webhookPayload) succeeded() bool {
	return p.Event == "transaction.successful" && p.Data.Status == "success"
}

func (p webhookPayload) failed() bool {
	return p.Event == "transaction.failed" || p.Data.Status == "failed"
}

// validSignature checks the hex HMAC-SHA256 of body under secret.
func validSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// chapaWebhook applies a signed payment notification. Each transaction is
// applied once; repeated notifications are acknowledged without changes.
func (h *Handler) chapaWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read payload")
		return
	}
	signature := r.Header.Get("Chapa-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Chapa-Signature")
	}
	if !validSignature(h.webhookSecret, body, signature) {
		log.Printf("invalid webhook signature %q", signature)
		respondError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Data.TxRef == "" {
		respondError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	ctx := r.Context()
	trail, err := loadTrail(ctx, h.db, payload.Data.TxRef)
	if err != nil {
		respondStoreError(w, err, "Failed to process webhook")
		return
	}
	if trail == nil {
		log.Printf("webhook for unknown transaction %s", payload.Data.TxRef)
		respondError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	if trail.tx.Verified {
		respondJSON(w, http.StatusOK, map[string]any{"received": true, "status": "already_processed"})
		return
	}

	paid, failed := payload.succeeded(), payload.failed()
	err = h.db.Unit(ctx, func(ctx context.Context, tx *orm.Client) error {
		// Only the delivery that flips verified settles the sale.
		res, err := tx.Model(orm.PaymentTransaction).UpdateMany(ctx, orm.Where{
			"txRef":    trail.tx.TxRef,
			"verified": false,
		}, orm.Data{
			"verified":    true,
			"rawResponse": raw,
		})
		if err != nil {
			return err
		}
		if res.Count != 1 {
			return errAlreadyProcessed
		}
		if paid || failed {
			return settle(ctx, tx, trail, paid)
		}
		return nil
	})
	if errors.Is(err, errAlreadyProcessed) {
		respondJSON(w, http.StatusOK, map[string]any{"received": true, "status": "already_processed"})
		return
	}
	if err != nil {
		respondStoreError(w, err, "Failed to process webhook")
		return
	}

	if paid || failed {
		h.publishSettlement(ctx, trail, paid)
	}
	respondJSON(w, http.StatusOK, map[string]any{"received": true})
}

// listTransactions returns the pharmacy's payments with their gateway
// transactions, newest first.
func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.Model(orm.Payment).FindMany(r.Context(), orm.FindArgs{
		Where: orm.Where{"pharmacyId": claimsFromContext(r).PharmacyID},
		Include: orm.Include{
			"paymentTransactions": orm.All,
			"sale":                orm.Relation{Select: []string{"id", "finalAmount", "status", "createdAt"}},
		},
		OrderBy: orm.Desc("createdAt"),
		Skip:    queryInt(r, "skip"),
		Take:    queryInt(r, "take"),
	})
	if err != nil {
		respondStoreError(w, err, "unable to fetch transactions")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}
