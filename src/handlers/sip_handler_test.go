package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/sipfolio/backend/src/config"
	"github.com/username/sipfolio/backend/src/logger"
	"github.com/username/sipfolio/backend/src/models"
	"github.com/username/sipfolio/backend/src/services"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	config.Cfg = &config.AppConfig{
		MaxUploadSizeBytes: 10 * 1024 * 1024,
	}
	os.Exit(m.Run())
}

type scriptedBoundary struct {
	submitResp *services.SubmitResponse
	submitErr  error

	patchRecord *models.SipRegistration
	patchErr    error
}

func (b *scriptedBoundary) Submit(_ context.Context, _ *services.RegistrationDraft) (*services.SubmitResponse, error) {
	return b.submitResp, b.submitErr
}

func (b *scriptedBoundary) PatchScheme(_ context.Context, _, schemeCode string) (*models.SipRegistration, error) {
	if b.patchErr != nil {
		return nil, b.patchErr
	}
	if b.patchRecord != nil {
		return b.patchRecord, nil
	}
	return &models.SipRegistration{ID: 1, SchemeCode: schemeCode, State: models.StateFinalized}, nil
}

type scriptedParser struct {
	result  *services.StatementResult
	schemes []services.ParsedScheme
	err     error
}

func (p *scriptedParser) ParseSchemes(_ context.Context, _ []byte, _ string) ([]services.ParsedScheme, error) {
	return p.schemes, p.err
}

func (p *scriptedParser) ParseTransactions(_ context.Context, _ []byte, _, _ string, _ int) (*services.StatementResult, error) {
	return p.result, p.err
}

type noopNotifier struct{}

func (noopNotifier) FundListChanged() {}

func newTestHandler(boundary services.RegistrationBoundary, parser services.StatementParser) *SIPHandler {
	reconciler := services.NewReconcilerService(boundary, noopNotifier{}, time.Hour)
	return NewSIPHandler(reconciler, parser)
}

// registrationForm builds the multipart body the registration page submits.
func registrationForm(t *testing.T, fields map[string]string, withFile bool) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if withFile {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="statement.pdf"`)
		header.Set("Content-Type", "application/pdf")
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.7 statement body"))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func simpleModeFields() map[string]string {
	return map[string]string{
		"mode":                  "simple",
		"fund_name":             "Parag Parikh Flexi Cap Fund",
		"sip_amount":            "1000",
		"sip_day":               "5",
		"invested_date":         "01-01-2023",
		"total_units":           "0",
		"total_invested_amount": "0",
	}
}

func postRegistration(handler *SIPHandler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/sip", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.HandleRegister(rec, req)
	return rec
}

func TestHandleRegisterSimpleModeFinalizes(t *testing.T) {
	boundary := &scriptedBoundary{submitResp: &services.SubmitResponse{
		Record: &models.SipRegistration{ID: 3, SchemeCode: "118989", State: models.StateFinalized},
	}}
	handler := newTestHandler(boundary, &scriptedParser{})

	body, contentType := registrationForm(t, simpleModeFields(), true)
	rec := postRegistration(handler, body, contentType)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var outcome services.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, services.OutcomeFinalized, outcome.Status)
	assert.Equal(t, "118989", outcome.Record.SchemeCode)
}

func TestHandleRegisterValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(fields map[string]string)
	}{
		{"sip day out of range", func(f map[string]string) { f["sip_day"] = "35" }},
		{"zero amount", func(f map[string]string) { f["sip_amount"] = "0" }},
		{"missing fund name", func(f map[string]string) { delete(f, "fund_name") }},
		{"missing baseline totals", func(f map[string]string) {
			delete(f, "total_units")
			delete(f, "total_invested_amount")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler(&scriptedBoundary{}, &scriptedParser{})
			fields := simpleModeFields()
			tt.mutate(fields)

			body, contentType := registrationForm(t, fields, true)
			rec := postRegistration(handler, body, contentType)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleRegisterMissingFileIsRejected(t *testing.T) {
	handler := newTestHandler(&scriptedBoundary{}, &scriptedParser{})
	body, contentType := registrationForm(t, simpleModeFields(), false)
	rec := postRegistration(handler, body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestHandleRegisterDetailedModeBuildsLedger(t *testing.T) {
	boundary := &scriptedBoundary{submitResp: &services.SubmitResponse{
		Record: &models.SipRegistration{ID: 4, SchemeCode: "118989", State: models.StateFinalized},
	}}
	pending := &models.Installment{Date: "05-03-2023", Amount: decimal.NewFromInt(1000)}
	parser := &scriptedParser{result: &services.StatementResult{
		Transactions: []models.Installment{
			{Date: "05-01-2023", Amount: decimal.NewFromInt(1000), Units: decimal.NewFromInt(10)},
			{Date: "05-02-2023", Amount: decimal.NewFromInt(1000), Units: decimal.NewFromInt(11)},
		},
		MissingCurrentMonth: true,
		Pending:             pending,
	}}
	handler := newTestHandler(boundary, parser)

	fields := simpleModeFields()
	fields["mode"] = "detailed"
	delete(fields, "total_units")
	delete(fields, "total_invested_amount")

	body, contentType := registrationForm(t, fields, true)
	rec := postRegistration(handler, body, contentType)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHandleRegisterManualInstallmentRows(t *testing.T) {
	boundary := &scriptedBoundary{submitResp: &services.SubmitResponse{
		Record: &models.SipRegistration{ID: 5, SchemeCode: "118989", State: models.StateFinalized},
	}}
	handler := newTestHandler(boundary, &scriptedParser{})

	fields := simpleModeFields()
	delete(fields, "total_units")
	delete(fields, "total_invested_amount")
	fields["installments"] = `[
		{"date": "05-01-2023", "amount": "1000", "units": "10"},
		{"date": "05-02-2023", "amount": "1000", "units": "11"}
	]`

	body, contentType := registrationForm(t, fields, true)
	rec := postRegistration(handler, body, contentType)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	t.Run("rejects undecodable rows", func(t *testing.T) {
		fields["installments"] = `not json`
		body, contentType := registrationForm(t, fields, true)
		rec := postRegistration(handler, body, contentType)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects all-blank rows", func(t *testing.T) {
		fields["installments"] = `[{"date": ""}]`
		body, contentType := registrationForm(t, fields, true)
		rec := postRegistration(handler, body, contentType)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleRegisterDetailedModeParserOutage(t *testing.T) {
	handler := newTestHandler(&scriptedBoundary{}, &scriptedParser{err: services.ErrServiceUnavailable})

	fields := simpleModeFields()
	fields["mode"] = "detailed"

	body, contentType := registrationForm(t, fields, true)
	rec := postRegistration(handler, body, contentType)
	assert.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
}

func TestHandleRegisterBoundaryRejections(t *testing.T) {
	tests := []struct {
		name       string
		submitErr  error
		wantStatus int
	}{
		{"service unreachable", services.ErrServiceUnavailable, http.StatusBadGateway},
		{"malformed response", services.ErrAmbiguousResponse, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler(&scriptedBoundary{submitErr: tt.submitErr}, &scriptedParser{})
			body, contentType := registrationForm(t, simpleModeFields(), true)
			rec := postRegistration(handler, body, contentType)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestRegistrationSelectionRoundTrip(t *testing.T) {
	boundary := &scriptedBoundary{submitResp: &services.SubmitResponse{
		RequiresSelection: true,
		PendingID:         "pending-1",
		Candidates: []models.SchemeCandidate{
			{SchemeCode: "118989", SchemeName: "Direct Growth"},
			{SchemeCode: "122639", SchemeName: "Regular Growth"},
		},
	}}
	handler := newTestHandler(boundary, &scriptedParser{})

	body, contentType := registrationForm(t, simpleModeFields(), true)
	rec := postRegistration(handler, body, contentType)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var outcome services.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	require.Equal(t, services.OutcomeAwaitingSelection, outcome.Status)
	require.Len(t, outcome.Candidates, 2)
	assert.Contains(t, rec.Body.String(), `"schemeCode"`)

	// Choose the second candidate via PATCH.
	req := httptest.NewRequest(http.MethodPatch, "/api/sip/pending-1/scheme",
		strings.NewReader(`{"scheme_code": "122639"}`))
	req.SetPathValue("id", "pending-1")
	selRec := httptest.NewRecorder()
	handler.HandleSelectScheme(selRec, req)

	require.Equal(t, http.StatusOK, selRec.Code, selRec.Body.String())
	var selected services.Outcome
	require.NoError(t, json.Unmarshal(selRec.Body.Bytes(), &selected))
	assert.Equal(t, services.OutcomeFinalized, selected.Status)
	assert.Equal(t, "122639", selected.Record.SchemeCode)
}

func TestHandleSelectSchemeBadRequests(t *testing.T) {
	handler := newTestHandler(&scriptedBoundary{}, &scriptedParser{})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/api/sip/p1/scheme", strings.NewReader("not json"))
		req.SetPathValue("id", "p1")
		rec := httptest.NewRecorder()
		handler.HandleSelectScheme(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown pending id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/api/sip/p1/scheme", strings.NewReader(`{"scheme_code": "118989"}`))
		req.SetPathValue("id", "p1")
		rec := httptest.NewRecorder()
		handler.HandleSelectScheme(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleParseSchemes(t *testing.T) {
	parser := &scriptedParser{schemes: []services.ParsedScheme{
		{Name: "Parag Parikh Flexi Cap Fund", TransactionCount: 12},
	}}
	handler := newTestHandler(&scriptedBoundary{}, parser)

	body, contentType := registrationForm(t, map[string]string{"password": "secret"}, true)
	req := httptest.NewRequest(http.MethodPost, "/api/sip/schemes", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.HandleParseSchemes(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var payload struct {
		Schemes []services.ParsedScheme `json:"schemes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Schemes, 1)
	assert.Equal(t, 12, payload.Schemes[0].TransactionCount)
}

func TestHandleParseSchemesRequiresFile(t *testing.T) {
	handler := newTestHandler(&scriptedBoundary{}, &scriptedParser{})

	body, contentType := registrationForm(t, map[string]string{}, false)
	req := httptest.NewRequest(http.MethodPost, "/api/sip/schemes", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.HandleParseSchemes(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStepUpPreview(t *testing.T) {
	handler := newTestHandler(&scriptedBoundary{}, &scriptedParser{})

	req := httptest.NewRequest(http.MethodGet,
		"/api/sip/preview?sip_amount=1000&stepup_type=percentage&stepup_value=10&stepup_frequency=Annual&periods=2", nil)
	rec := httptest.NewRecorder()
	handler.HandleStepUpPreview(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var payload struct {
		Amounts []decimal.Decimal `json:"amounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Amounts, 2)
	assert.True(t, payload.Amounts[0].Equal(decimal.NewFromInt(1100)))
	assert.True(t, payload.Amounts[1].Equal(decimal.NewFromInt(1210)))
}

func TestHandleStepUpPreviewRejectsBadInput(t *testing.T) {
	handler := newTestHandler(&scriptedBoundary{}, &scriptedParser{})

	urls := []string{
		"/api/sip/preview?sip_amount=0&stepup_type=percentage&stepup_value=10",
		"/api/sip/preview?sip_amount=1000&stepup_type=weird&stepup_value=10",
		"/api/sip/preview?sip_amount=1000&stepup_type=percentage&stepup_value=x",
		"/api/sip/preview?sip_amount=1000&stepup_type=percentage&stepup_value=10&periods=0",
	}
	for _, url := range urls {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		handler.HandleStepUpPreview(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, url)
	}
}
