package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/logger"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/services"
	"github.com/robertbiv/Crypto-Transaction-Tracker-sub000/src/utils"
)

type PriceHandler struct {
	priceService services.PriceService
}

func NewPriceHandler(priceService services.PriceService) *PriceHandler {
	return &PriceHandler{priceService: priceService}
}

// HandleSeedPrices accepts historical USD prices for later resolution. This
// is also how manual entries from the review queue come back in.
func (h *PriceHandler) HandleSeedPrices(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload []struct {
		Asset        string `json:"asset_symbol"`
		Date         string `json:"date"`
		UnitPriceUSD string `json:"unit_price_usd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.SendJSONError(w, "Invalid price payload", http.StatusBadRequest)
		return
	}

	seeded := 0
	for _, entry := range payload {
		date, err := utils.ParseTimestamp(entry.Date)
		if err != nil {
			utils.SendJSONError(w, "Invalid date: "+entry.Date, http.StatusBadRequest)
			return
		}
		price, err := utils.ParseDecimal(entry.UnitPriceUSD)
		if err != nil {
			utils.SendJSONError(w, "Invalid price: "+entry.UnitPriceUSD, http.StatusBadRequest)
			return
		}
		if err := h.priceService.SeedPrice(entry.Asset, date, price); err != nil {
			logger.L.Error("failed to seed price", "asset", entry.Asset, "error", err)
			utils.SendJSONError(w, "Failed to seed price", http.StatusInternalServerError)
			return
		}
		seeded++
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"seeded": seeded})
}
