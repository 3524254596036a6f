// Package handler serves the relay's two API endpoints in one of three
// modes (stub, proxy or local) and wires them into the relay router.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/models"
)

// API serves the catalog and purchase endpoints.
type API interface {
	Catalog(w http.ResponseWriter, r *http.Request)
	Purchase(w http.ResponseWriter, r *http.Request)
}

// StubAPI answers with an empty catalog and refuses purchases.
type StubAPI struct {
	logger *zap.Logger
}

// NewStubAPI creates the stub API.
func NewStubAPI(logger *zap.Logger) *StubAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubAPI{logger: logger}
}

// Catalog handles GET /api/bff/demo/catalog
func (h *StubAPI) Catalog(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.Catalog{
		MerchantID: r.URL.Query().Get("merchantId"),
		Offers:     []models.Offer{},
	})
}

// Purchase handles POST /api/bff/demo/purchase
func (h *StubAPI) Purchase(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("purchase refused by stub api")
	respondError(w, http.StatusNotImplemented, errcode.NotImplemented)
}

// readBody reads at most limit bytes of the request body. It writes the
// error response itself and reports false on failure.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, errcode.PayloadTooLarge)
			return nil, false
		}
		respondError(w, http.StatusBadRequest, errcode.InvalidJSON)
		return nil, false
	}
	return body, true
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends {"error": code} with the given status code.
func respondError(w http.ResponseWriter, status int, code string) {
	respondJSON(w, status, models.ErrorResponse{Error: code})
}
