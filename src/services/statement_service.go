// backend/src/services/statement_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/sipfolio/backend/src/logger"
	"github.com/username/sipfolio/backend/src/models"
	"github.com/username/sipfolio/backend/src/processors"
)

// Wire shapes of the statement-parsing service.
type parsedSchemesResponse struct {
	Schemes []ParsedScheme `json:"schemes"`
}

type parsedTransactionsResponse struct {
	Transactions        []models.Installment `json:"transactions"`
	MissingCurrentMonth bool                 `json:"missing_current_month"`
	PendingInstallment  *models.Installment  `json:"pending_installment"`
	CostValue           *decimal.Decimal     `json:"cost_value"`
	CloseUnits          *decimal.Decimal     `json:"close_units"`
}

type parserErrorResponse struct {
	Detail string `json:"detail"`
}

type statementServiceImpl struct {
	httpClient http.Client
	baseURL    string
}

// NewStatementService creates the client for the external CAS-parsing
// service. The statement PDF never touches disk here; it is streamed
// through as multipart form data.
func NewStatementService(baseURL string, timeout time.Duration) StatementParser {
	return &statementServiceImpl{
		httpClient: http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

func (s *statementServiceImpl) ParseSchemes(ctx context.Context, fileBytes []byte, password string) ([]ParsedScheme, error) {
	fields := map[string]string{"password": password}
	body, err := s.post(ctx, "/parse", fileBytes, fields)
	if err != nil {
		return nil, err
	}

	var parsed parsedSchemesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding scheme list: %v", ErrAmbiguousResponse, err)
	}
	logger.L.Info("Statement parsed", "schemeCount", len(parsed.Schemes))
	return parsed.Schemes, nil
}

func (s *statementServiceImpl) ParseTransactions(ctx context.Context, fileBytes []byte, password, schemeName string, sipDay int) (*StatementResult, error) {
	fields := map[string]string{
		"password":    password,
		"scheme_name": schemeName,
		"sip_day":     strconv.Itoa(sipDay),
	}
	body, err := s.post(ctx, "/parse/transactions", fileBytes, fields)
	if err != nil {
		return nil, err
	}

	var parsed parsedTransactionsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding transaction list: %v", ErrAmbiguousResponse, err)
	}

	logger.L.Info("Statement transactions extracted",
		"schemeName", schemeName,
		"transactionCount", len(parsed.Transactions),
		"missingCurrentMonth", parsed.MissingCurrentMonth)

	return &StatementResult{
		Transactions:        parsed.Transactions,
		MissingCurrentMonth: parsed.MissingCurrentMonth,
		Pending:             parsed.PendingInstallment,
		CostValue:           parsed.CostValue,
		CloseUnits:          parsed.CloseUnits,
	}, nil
}

// post sends the statement plus form fields and maps the three failure
// classes: transport (ErrServiceUnavailable), document rejected by the
// parser such as a wrong password (processors.ErrValidation), and anything
// unreadable (ErrAmbiguousResponse).
func (s *statementServiceImpl) post(ctx context.Context, path string, fileBytes []byte, fields map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "statement.pdf")
	if err != nil {
		return nil, fmt.Errorf("%w: building multipart request: %v", ErrServiceUnavailable, err)
	}
	if _, err := part.Write(fileBytes); err != nil {
		return nil, fmt.Errorf("%w: building multipart request: %v", ErrServiceUnavailable, err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("%w: building multipart request: %v", ErrServiceUnavailable, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: building multipart request: %v", ErrServiceUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: building parser request: %v", ErrServiceUnavailable, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: statement parser: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading parser response: %v", ErrServiceUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		// The parser rejected the document itself: wrong password, corrupt
		// PDF. Caller-correctable, so it must not look like an outage.
		var parserErr parserErrorResponse
		if err := json.Unmarshal(body, &parserErr); err != nil || parserErr.Detail == "" {
			return nil, fmt.Errorf("%w: statement rejected by parser (status %d)", processors.ErrValidation, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s", processors.ErrValidation, parserErr.Detail)
	default:
		return nil, fmt.Errorf("%w: statement parser returned status %d", ErrServiceUnavailable, resp.StatusCode)
	}
}
