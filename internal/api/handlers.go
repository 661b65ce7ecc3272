package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/KayKostadinov/Go-Flashcards/internal/catalog"
	"github.com/KayKostadinov/Go-Flashcards/internal/entitlements"
	"github.com/KayKostadinov/Go-Flashcards/internal/logging"
	"github.com/KayKostadinov/Go-Flashcards/internal/purchase"
	"github.com/KayKostadinov/Go-Flashcards/internal/receipt"
	"github.com/KayKostadinov/Go-Flashcards/internal/storefront"
	"github.com/KayKostadinov/Go-Flashcards/internal/utils"
)

const (
	maxPurchaseBodyBytes = 4 << 10
	maxReceiptBodyBytes  = 4 << 20
)

type entitlementResponse struct {
	Active    bool      `json:"active"`
	CheckedAt time.Time `json:"checkedAt"`
}

type cachedTier struct {
	Tier      catalog.Tier `json:"tier"`
	ProductID string       `json:"productId"`
	ExpiresAt *time.Time   `json:"expiresAt"`
	Valid     bool         `json:"valid"`
}

type cachedEntitlementsResponse struct {
	Tiers []cachedTier `json:"tiers"`
	// Active reports whether any cached tier is valid now, without contacting
	// the validation endpoint.
	Active bool `json:"active"`
}

type productsResponse struct {
	Products []storefront.Product `json:"products"`
}

type purchaseRequest struct {
	Tier string `json:"tier"`
}

type purchaseResponse struct {
	Purchased bool         `json:"purchased"`
	Tier      catalog.Tier `json:"tier"`
	ProductID string       `json:"productId"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) verifyEntitlements(w http.ResponseWriter, r *http.Request) {
	active, err := h.orch.VerifyActiveSubscription(r.Context()).Await(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, entitlementResponse{Active: active, CheckedAt: h.now().UTC()})
}

func (h *handlers) cachedEntitlements(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.cache.Snapshot(r.Context())
	if err != nil {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Msg("Failed to read entitlement cache")
		writeErrorResponse(w, r, http.StatusInternalServerError, "entitlement_cache_unavailable", "Entitlement cache could not be read")
		return
	}

	now := h.now()
	resp := cachedEntitlementsResponse{Tiers: make([]cachedTier, 0, len(snapshot))}
	for _, tier := range catalog.AllTiers() {
		exp := snapshot[tier]
		valid := entitlements.IsValid(exp, now)
		resp.Tiers = append(resp.Tiers, cachedTier{
			Tier:      tier,
			ProductID: tier.ProductID(),
			ExpiresAt: exp,
			Valid:     valid,
		})
		if valid {
			resp.Active = true
		}
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

func (h *handlers) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.orch.Products(r.Context()).Await(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if products == nil {
		products = []storefront.Product{}
	}
	h.writeJSON(w, r, http.StatusOK, productsResponse{Products: products})
}

func (h *handlers) purchase(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPurchaseBodyBytes)
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_request", "Request body must be JSON with a tier")
		return
	}
	tier, err := catalog.ParseTier(req.Tier)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, "unknown_tier", err.Error())
		return
	}

	ok, err := h.orch.Buy(r.Context(), tier).Await(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, purchaseResponse{Purchased: ok, Tier: tier, ProductID: tier.ProductID()})
}

func (h *handlers) uploadReceipt(w http.ResponseWriter, r *http.Request) {
	if h.receipts == nil {
		writeErrorResponse(w, r, http.StatusServiceUnavailable, "receipt_upload_disabled", "Receipt uploads are not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxReceiptBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorResponse(w, r, http.StatusRequestEntityTooLarge, "receipt_too_large", "Receipt exceeds the size limit")
			return
		}
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_request", "Failed to read receipt")
		return
	}
	if len(data) == 0 {
		writeErrorResponse(w, r, http.StatusBadRequest, "invalid_request", "Receipt body is empty")
		return
	}

	if err := h.receipts.Store(data); err != nil {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Msg("Failed to store uploaded receipt")
		writeErrorResponse(w, r, http.StatusInternalServerError, "receipt_store_failed", "Receipt could not be stored")
		return
	}
	logger := logging.FromContext(r.Context())
	logger.Info().Int("bytes", len(data)).Msg("Receipt updated")
	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError maps service errors onto status codes. Vendor and
// validation detail stays in the server log.
func (h *handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.FromContext(r.Context())

	var validationErr *receipt.ValidationError
	var catalogErr *purchase.CatalogError
	switch {
	case errors.As(err, &validationErr):
		logger.Warn().Err(err).Msg("Receipt validation failed")
		writeErrorResponse(w, r, http.StatusBadGateway, "receipt_validation_failed", "Receipt could not be validated")
	case errors.Is(err, purchase.ErrPurchaseFailed):
		writeErrorResponse(w, r, http.StatusPaymentRequired, "purchase_failed", "Purchase did not complete")
	case errors.As(err, &catalogErr):
		logger.Warn().Err(err).Msg("Product catalog unavailable")
		writeErrorResponse(w, r, http.StatusBadGateway, "catalog_unavailable", "Product catalog is unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeErrorResponse(w, r, http.StatusGatewayTimeout, "timeout", "Request timed out")
	default:
		logger.Error().Err(err).Msg("Unhandled API error")
		writeErrorResponse(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func (h *handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	if err := utils.WriteJSONResponse(w, status, body); err != nil {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Msg("Failed to write JSON response")
	}
}
