package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/models"
	"giftcard-overlay/internal/service"
	"giftcard-overlay/internal/validation"
)

// LocalAPI serves both endpoints from the built-in demo backend.
type LocalAPI struct {
	service     *service.Service
	maxBodySize int64
	logger      *zap.Logger
}

// NewLocalAPI creates the local API.
func NewLocalAPI(svc *service.Service, maxBodySize int64, logger *zap.Logger) *LocalAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalAPI{service: svc, maxBodySize: maxBodySize, logger: logger}
}

// Catalog handles GET /api/bff/demo/catalog
func (h *LocalAPI) Catalog(w http.ResponseWriter, r *http.Request) {
	merchantID := validation.SanitizeString(r.URL.Query().Get("merchantId"))

	catalog, err := h.service.GetCatalog(r.Context(), merchantID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, catalog)
}

// Purchase handles POST /api/bff/demo/purchase
func (h *LocalAPI) Purchase(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, h.maxBodySize)
	if !ok {
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		respondError(w, http.StatusBadRequest, errcode.InvalidJSON)
		return
	}

	var req models.PurchaseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, errcode.InvalidJSON)
		return
	}

	req.MerchantID = validation.SanitizeString(req.MerchantID)
	for i := range req.Items {
		req.Items[i].OfferID = validation.SanitizeString(req.Items[i].OfferID)
	}

	order, err := h.service.Purchase(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *LocalAPI) respondServiceError(w http.ResponseWriter, err error) {
	var se *service.Error
	if errors.As(err, &se) {
		respondError(w, se.Status, se.Code)
		return
	}
	h.logger.Error("local backend failed", zap.Error(err))
	respondError(w, http.StatusInternalServerError, errcode.Internal)
}
