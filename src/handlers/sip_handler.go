// backend/src/handlers/sip_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/username/sipfolio/backend/src/config"
	"github.com/username/sipfolio/backend/src/logger"
	"github.com/username/sipfolio/backend/src/models"
	"github.com/username/sipfolio/backend/src/processors"
	"github.com/username/sipfolio/backend/src/security/validation"
	"github.com/username/sipfolio/backend/src/services"
	"github.com/username/sipfolio/backend/src/utils"
)

// Registration form modes: "simple" takes the baseline totals from the form,
// "detailed" extracts the full contribution history from the uploaded statement.
const (
	registrationModeSimple   = "simple"
	registrationModeDetailed = "detailed"
)

type SIPHandler struct {
	reconciler *services.ReconcilerService
	parser     services.StatementParser
}

func NewSIPHandler(reconciler *services.ReconcilerService, parser services.StatementParser) *SIPHandler {
	return &SIPHandler{
		reconciler: reconciler,
		parser:     parser,
	}
}

// HandleRegister handles POST /api/sip: multipart form with the SIP details
// plus the holdings statement. Finalized registrations answer 201; an
// ambiguous fund name answers 200 with requires_selection and the candidate
// schemes for PATCH /api/sip/{pendingId}/scheme.
func (h *SIPHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		logger.L.Warn("Failed to parse multipart form or request too large", "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	fileBytes, hasDocument, err := h.readStatementFile(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	draft, err := draftFromForm(r)
	if err != nil {
		logger.L.Warn("Rejected malformed registration form", "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	draft.HasDocument = hasDocument

	mode := r.FormValue("mode")
	if mode == "" {
		mode = registrationModeSimple
	}
	if mode == registrationModeDetailed {
		if err := h.buildLedgerFromStatement(r, draft, fileBytes); err != nil {
			h.writeRegistrationError(w, draft.FundName, err)
			return
		}
	} else if raw := r.FormValue("installments"); raw != "" {
		// Simple mode can still carry hand-typed installment rows.
		var entries []models.Installment
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			utils.SendJSONError(w, "installments must be a JSON array of {date, amount, units}", http.StatusBadRequest)
			return
		}
		ledger, err := processors.LedgerFromManualEntries(entries)
		if err != nil {
			h.writeRegistrationError(w, draft.FundName, err)
			return
		}
		draft.Ledger = ledger
	}

	outcome, err := h.reconciler.Register(r.Context(), draft)
	if err != nil {
		h.writeRegistrationError(w, draft.FundName, err)
		return
	}

	status := http.StatusOK
	switch outcome.Status {
	case services.OutcomeFinalized:
		status = http.StatusCreated
	case services.OutcomeRejected:
		status = rejectionStatus(outcome.RejectKind)
		logger.L.Warn("Registration rejected by boundary", "fundName", draft.FundName, "rejectKind", outcome.RejectKind, "reason", outcome.Reason)
	}

	writeJSON(w, status, outcome)
}

// HandleSelectScheme handles PATCH /api/sip/{id}/scheme, finalizing a
// registration that was parked awaiting scheme selection.
func (h *SIPHandler) HandleSelectScheme(w http.ResponseWriter, r *http.Request) {
	pendingID := r.PathValue("id")

	var payload struct {
		SchemeCode string `json:"scheme_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.SendJSONError(w, "Invalid request body: expected JSON with 'scheme_code'", http.StatusBadRequest)
		return
	}
	if payload.SchemeCode == "" {
		utils.SendJSONError(w, "scheme_code is mandatory", http.StatusBadRequest)
		return
	}

	outcome, err := h.reconciler.SelectScheme(r.Context(), pendingID, payload.SchemeCode)
	if err != nil {
		if errors.Is(err, services.ErrResolutionInProgress) {
			logger.L.Warn("Duplicate scheme selection while one is in flight", "pendingID", pendingID)
			utils.SendJSONError(w, err.Error(), http.StatusConflict)
			return
		}
		if errors.Is(err, processors.ErrValidation) {
			logger.L.Warn("Scheme selection validation failed", "pendingID", pendingID, "error", err)
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.L.Error("Internal error selecting scheme", "pendingID", pendingID, "error", err)
		utils.SendJSONError(w, "An internal error occurred while selecting the scheme.", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if outcome.Status == services.OutcomeRejected {
		status = rejectionStatus(outcome.RejectKind)
		logger.L.Warn("Scheme selection rejected by boundary", "pendingID", pendingID, "rejectKind", outcome.RejectKind, "reason", outcome.Reason)
	}
	writeJSON(w, status, outcome)
}

// HandleParseSchemes handles POST /api/sip/schemes: extract the fund schemes
// present in an uploaded statement so the form can offer them instead of
// free-typing a fund name.
func (h *SIPHandler) HandleParseSchemes(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		logger.L.Warn("Failed to parse multipart form or request too large", "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	fileBytes, hasDocument, err := h.readStatementFile(r)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !hasDocument {
		utils.SendJSONError(w, "statement file is mandatory", http.StatusBadRequest)
		return
	}

	schemes, err := h.parser.ParseSchemes(r.Context(), fileBytes, r.FormValue("password"))
	if err != nil {
		h.writeRegistrationError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemes": schemes})
}

// HandleDiscardPending handles DELETE /api/sip/pending/{id}: the user closed
// the selection dialog without choosing.
func (h *SIPHandler) HandleDiscardPending(w http.ResponseWriter, r *http.Request) {
	pendingID := r.PathValue("id")
	h.reconciler.DiscardPending(pendingID)
	logger.L.Info("Pending registration discarded", "pendingID", pendingID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleStepUpPreview handles GET /api/sip/preview, returning the upcoming
// contribution amounts for the step-up rule the form currently holds.
func (h *SIPHandler) HandleStepUpPreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	base, err := decimal.NewFromString(q.Get("sip_amount"))
	if err != nil || !base.IsPositive() {
		utils.SendJSONError(w, "sip_amount must be a positive number", http.StatusBadRequest)
		return
	}
	value, err := decimal.NewFromString(q.Get("stepup_value"))
	if err != nil {
		utils.SendJSONError(w, "stepup_value must be a number", http.StatusBadRequest)
		return
	}
	periods := 5
	if raw := q.Get("periods"); raw != "" {
		periods, err = strconv.Atoi(raw)
		if err != nil || periods < 1 || periods > 60 {
			utils.SendJSONError(w, "periods must be between 1 and 60", http.StatusBadRequest)
			return
		}
	}

	rule := models.StepUpRule{
		Enabled:   true,
		Kind:      models.StepUpKind(q.Get("stepup_type")),
		Value:     value,
		Frequency: models.StepUpFrequency(q.Get("stepup_frequency")),
	}
	if rule.Kind != models.StepUpPercentage && rule.Kind != models.StepUpFixedAmount {
		utils.SendJSONError(w, "stepup_type must be 'percentage' or 'amount'", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"base":    base,
		"amounts": processors.Preview(base, rule, periods),
	})
}

// readStatementFile pulls the uploaded statement out of the multipart form
// and validates it before any of its bytes reach the parsing service.
func (h *SIPHandler) readStatementFile(r *http.Request) ([]byte, bool, error) {
	file, fileHeader, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return nil, false, nil
	}
	if err != nil {
		logger.L.Warn("Failed to retrieve file from request", "error", err)
		return nil, false, fmt.Errorf("failed to retrieve file from request; ensure 'file' field is used")
	}
	defer file.Close()

	if fileHeader.Size > config.Cfg.MaxUploadSizeBytes {
		logger.L.Warn("Uploaded file header reports size too large", "fileSize", fileHeader.Size, "limit", config.Cfg.MaxUploadSizeBytes)
		return nil, false, fmt.Errorf("file too large, max %d MB", config.Cfg.MaxUploadSizeBytes/(1024*1024))
	}

	clientContentType := fileHeader.Header.Get("Content-Type")
	if err := validation.ValidateClientContentType(clientContentType); err != nil {
		logger.L.Warn("Invalid client-declared file type", "contentType", clientContentType, "error", err)
		return nil, false, err
	}

	detectedContentType, err := validation.ValidateFileContentByMagicBytes(file)
	if err != nil {
		logger.L.Warn("Server-side file content validation failed", "filename", fileHeader.Filename, "error", err)
		return nil, false, err
	}
	logger.L.Info("File content validated by magic bytes", "filename", fileHeader.Filename, "clientType", clientContentType, "detectedType", detectedContentType)

	fileBytes, err := io.ReadAll(file)
	if err != nil {
		logger.L.Error("Failed to read uploaded file", "filename", fileHeader.Filename, "error", err)
		return nil, false, fmt.Errorf("failed to read uploaded file")
	}
	return fileBytes, true, nil
}

// buildLedgerFromStatement fills the draft's ledger from the parsed
// statement history (detailed mode).
func (h *SIPHandler) buildLedgerFromStatement(r *http.Request, draft *services.RegistrationDraft, fileBytes []byte) error {
	if len(fileBytes) == 0 {
		return fmt.Errorf("%w: detailed registration requires the holdings statement file", processors.ErrValidation)
	}

	result, err := h.parser.ParseTransactions(r.Context(), fileBytes, r.FormValue("password"), draft.FundName, draft.SipDay)
	if err != nil {
		return err
	}

	ledger, err := processors.LedgerFromImport(result.Transactions, result.CostValue)
	if err != nil {
		return err
	}
	if result.Pending != nil {
		if err := ledger.AppendPending(*result.Pending); err != nil {
			return err
		}
		logger.L.Info("Current-month installment pending unit allocation", "fundName", draft.FundName, "date", result.Pending.Date)
	}
	draft.Ledger = ledger
	return nil
}

// writeRegistrationError maps local (pre-network) registration failures onto
// HTTP statuses.
func (h *SIPHandler) writeRegistrationError(w http.ResponseWriter, fundName string, err error) {
	switch {
	case errors.Is(err, processors.ErrEmptyLedger):
		logger.L.Warn("Registration rejected: no usable contribution history", "fundName", fundName, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, processors.ErrValidation):
		logger.L.Warn("Registration rejected by validation", "fundName", fundName, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrServiceUnavailable):
		logger.L.Error("Statement parsing service unreachable", "fundName", fundName, "error", err)
		utils.SendJSONError(w, "The statement parsing service is unreachable. Please try again later.", http.StatusBadGateway)
	case errors.Is(err, services.ErrAmbiguousResponse):
		logger.L.Error("Statement parsing service returned a malformed response", "fundName", fundName, "error", err)
		utils.SendJSONError(w, "The statement parsing service returned an unusable response.", http.StatusBadGateway)
	default:
		logger.L.Error("Internal error registering SIP", "fundName", fundName, "error", err)
		utils.SendJSONError(w, "An internal error occurred while registering the SIP. Please try again later.", http.StatusInternalServerError)
	}
}

func rejectionStatus(kind string) int {
	switch kind {
	case services.RejectRemoteValidation:
		return http.StatusUnprocessableEntity
	case services.RejectServiceUnreachable, services.RejectMalformedResponse:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// draftFromForm reads the SIP fields out of the multipart form. Deep
// validation happens in the reconciler; this only rejects values that do not
// parse at all.
func draftFromForm(r *http.Request) (*services.RegistrationDraft, error) {
	draft := &services.RegistrationDraft{
		FundName:  validation.StripUnprintable(strings.TrimSpace(r.FormValue("fund_name"))),
		Nickname:  validation.StripUnprintable(strings.TrimSpace(r.FormValue("nickname"))),
		StartDate: r.FormValue("invested_date"),
	}

	if raw := r.FormValue("sip_amount"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("sip_amount %q is not a number", raw)
		}
		draft.MonthlyAmount = amount
	}
	if raw := r.FormValue("sip_day"); raw != "" {
		day, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("sip_day %q is not a number", raw)
		}
		draft.SipDay = day
	}

	if raw := r.FormValue("total_units"); raw != "" {
		units, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("total_units %q is not a number", raw)
		}
		draft.BaselineUnits = &units
	}
	if raw := r.FormValue("total_invested_amount"); raw != "" {
		invested, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("total_invested_amount %q is not a number", raw)
		}
		draft.BaselineInvested = &invested
	}

	if r.FormValue("stepup_enabled") == "true" {
		value, err := decimal.NewFromString(r.FormValue("stepup_value"))
		if err != nil {
			return nil, fmt.Errorf("stepup_value %q is not a number", r.FormValue("stepup_value"))
		}
		draft.StepUp = models.StepUpRule{
			Enabled:   true,
			Kind:      models.StepUpKind(r.FormValue("stepup_type")),
			Value:     value,
			Frequency: models.StepUpFrequency(r.FormValue("stepup_frequency")),
		}
	}

	return draft, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L.Error("Error encoding JSON response", "error", err)
	}
}
