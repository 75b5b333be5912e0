package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/logger"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/services"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/utils"
)

type TaxHandler struct {
	taxService services.TaxService
}

func NewTaxHandler(taxService services.TaxService) *TaxHandler {
	return &TaxHandler{taxService: taxService}
}

// HandleUpload accepts a JSON batch of transactions and replays the full
// history. Responds with the upload summary.
func (h *TaxHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	summary, err := h.taxService.ProcessUpload(r.Body)
	if err != nil {
		if errors.Is(err, services.ErrParsingFailed) {
			utils.SendJSONError(w, "Invalid transaction payload", http.StatusBadRequest)
			return
		}
		logger.L.Error("upload processing failed", "error", err)
		utils.SendJSONError(w, "Failed to process upload", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// HandleGetYearReport serves the finalized report for one tax year with ETag
// support so unchanged reports return 304.
func (h *TaxHandler) HandleGetYearReport(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		utils.SendJSONError(w, "Invalid year", http.StatusBadRequest)
		return
	}

	report, err := h.taxService.GetYearReport(year)
	if err != nil {
		if errors.Is(err, services.ErrYearNotClosed) || errors.Is(err, services.ErrNothingToRun) {
			utils.SendJSONError(w, "No data for requested year", http.StatusNotFound)
			return
		}
		logger.L.Error("failed to build year report", "year", year, "error", err)
		utils.SendJSONError(w, "Failed to build report", http.StatusInternalServerError)
		return
	}

	etag, err := utils.GenerateETag(report)
	if err == nil {
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// HandleGetHoldings serves the current open-lot snapshot.
func (h *TaxHandler) HandleGetHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.taxService.GetHoldings()
	if err != nil {
		if errors.Is(err, services.ErrNothingToRun) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode([]interface{}{})
			return
		}
		logger.L.Error("failed to compute holdings", "error", err)
		utils.SendJSONError(w, "Failed to compute holdings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(holdings)
}

// HandleGetReviewQueue lists transactions awaiting manual price entry.
func (h *TaxHandler) HandleGetReviewQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.taxService.GetReviewQueue()
	if err != nil {
		logger.L.Error("failed to load review queue", "error", err)
		utils.SendJSONError(w, "Failed to load review queue", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}
