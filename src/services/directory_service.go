// backend/src/services/directory_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/sipfolio/backend/src/logger"
	"github.com/username/sipfolio/backend/src/models"
)

// schemeSearchResult mirrors the directory API's search response shape
// (mfapi.in style: schemeCode is a JSON number).
type schemeSearchResult struct {
	SchemeCode json.Number `json:"schemeCode"`
	SchemeName string      `json:"schemeName"`
}

type directoryServiceImpl struct {
	httpClient  http.Client
	baseURL     string
	searchCache *cache.Cache
}

// NewDirectoryService creates the fund-scheme directory client. Search
// results are cached; the directory's catalogue changes rarely and the same
// fund name is queried on every ambiguous registration attempt.
func NewDirectoryService(baseURL string, timeout, cacheTTL time.Duration) SchemeDirectory {
	return &directoryServiceImpl{
		httpClient:  http.Client{Timeout: timeout},
		baseURL:     baseURL,
		searchCache: cache.New(cacheTTL, 2*cacheTTL),
	}
}

func (s *directoryServiceImpl) Search(ctx context.Context, query string) ([]models.SchemeCandidate, error) {
	if cached, found := s.searchCache.Get(query); found {
		logger.L.Debug("Scheme search cache hit", "query", query)
		return cached.([]models.SchemeCandidate), nil
	}

	searchURL := fmt.Sprintf("%s/mf/search?q=%s", s.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building scheme search request: %v", ErrServiceUnavailable, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: scheme directory: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: scheme directory returned status %d for query %q", ErrServiceUnavailable, resp.StatusCode, query)
	}

	var results []schemeSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("%w: decoding scheme search response: %v", ErrAmbiguousResponse, err)
	}

	candidates := make([]models.SchemeCandidate, 0, len(results))
	for _, r := range results {
		if r.SchemeCode.String() == "" || r.SchemeName == "" {
			continue
		}
		candidates = append(candidates, models.SchemeCandidate{
			SchemeCode: r.SchemeCode.String(),
			SchemeName: r.SchemeName,
		})
	}

	s.searchCache.SetDefault(query, candidates)
	logger.L.Info("Scheme directory search complete", "query", query, "candidateCount", len(candidates))
	return candidates, nil
}
