// backend/src/handlers/fund_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/username/sipfolio/backend/src/logger"
	"github.com/username/sipfolio/backend/src/processors"
	"github.com/username/sipfolio/backend/src/services"
	"github.com/username/sipfolio/backend/src/utils"
)

type FundHandler struct {
	fundService *services.FundService
}

func NewFundHandler(fundService *services.FundService) *FundHandler {
	return &FundHandler{fundService: fundService}
}

// HandleListFunds handles GET /api/sip/funds with ETag support so the fund
// list page can poll cheaply after a registration finalizes.
func (h *FundHandler) HandleListFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := h.fundService.ListFunds()
	if err != nil {
		logger.L.Error("Error retrieving fund list", "error", err)
		utils.SendJSONError(w, "Error retrieving registered funds", http.StatusInternalServerError)
		return
	}

	currentETag, etagErr := utils.GenerateETag(funds)
	if etagErr != nil {
		logger.L.Error("Failed to generate ETag for fund list", "error", etagErr)
	}

	w.Header().Set("Cache-Control", "no-cache, private")

	if etagErr == nil && currentETag != "" {
		quotedETag := fmt.Sprintf("\"%s\"", currentETag)
		w.Header().Set("ETag", quotedETag)
		clientETag := r.Header.Get("If-None-Match")
		for _, cETag := range strings.Split(clientETag, ",") {
			if strings.TrimSpace(cETag) == quotedETag {
				logger.L.Debug("ETag match for fund list", "etag", currentETag)
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(funds); err != nil {
		logger.L.Error("Error encoding JSON response for fund list", "error", err)
	}
}

// HandleDeleteFund handles DELETE /api/sip/funds/{id}.
func (h *FundHandler) HandleDeleteFund(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		utils.SendJSONError(w, "fund id must be a number", http.StatusBadRequest)
		return
	}

	if err := h.fundService.DeleteFund(id); err != nil {
		if errors.Is(err, processors.ErrValidation) {
			utils.SendJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.L.Error("Error deleting fund registration", "registrationID", id, "error", err)
		utils.SendJSONError(w, "Error deleting fund registration", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListInstallments handles GET /api/sip/{id}/installments: the stored
// contribution ledger of one registration.
func (h *FundHandler) HandleListInstallments(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		utils.SendJSONError(w, "fund id must be a number", http.StatusBadRequest)
		return
	}

	installments, err := h.fundService.ListInstallments(id)
	if err != nil {
		if errors.Is(err, processors.ErrValidation) {
			utils.SendJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.L.Error("Error retrieving installments", "registrationID", id, "error", err)
		utils.SendJSONError(w, "Error retrieving installments", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(installments); err != nil {
		logger.L.Error("Error encoding JSON response for installments", "registrationID", id, "error", err)
	}
}
