package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mileage/internal/mileage"
	"mileage/internal/store"
	"mileage/internal/validator"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxBodyBytes    = 1 << 20
)

// badRequest carries the error code sent back to the client.
type badRequest struct {
	code string
}

func (e badRequest) Error() string {
	return e.code
}

func respondBadRequest(w http.ResponseWriter, err error) {
	var bad badRequest
	if errors.As(err, &bad) {
		respondError(w, http.StatusBadRequest, bad.code)
		return
	}
	respondError(w, http.StatusBadRequest, "invalid_payload")
}

type pointsRequest struct {
	Points       int64  `json:"points"`
	SourceType   string `json:"source_type"`
	SourceID     *int64 `json:"source_id"`
	Description  string `json:"description"`
	UniqueSource bool   `json:"unique_source"`
}

type adjustRequest struct {
	Delta       int64  `json:"delta"`
	Description string `json:"description"`
}

type expireRequest struct {
	Points      int64  `json:"points"`
	Description string `json:"description"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return badRequest{code: "invalid_payload"}
	}
	return nil
}

func (p *pointsRequest) normalize() error {
	p.SourceType = strings.ToUpper(strings.TrimSpace(p.SourceType))
	p.Description = strings.TrimSpace(p.Description)
	if err := validator.ValidateSourceType(p.SourceType); err != nil {
		return badRequest{code: "invalid_source_type"}
	}
	if err := validator.ValidateSource(p.SourceType, p.SourceID); err != nil {
		return badRequest{code: "invalid_payload"}
	}
	return validateDescription(p.Description)
}

func validateDescription(description string) error {
	if err := validator.ValidateDescription(description); err != nil {
		return badRequest{code: "invalid_description"}
	}
	return nil
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parsePaging(r *http.Request) (page, limit int) {
	query := r.URL.Query()
	limit = parseInt(query.Get("limit"), defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	page = parseInt(query.Get("page"), 1)
	return page, limit
}

func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, badRequest{code: "invalid_time"}
	}
	return &value, nil
}

func parseScope(r *http.Request) (store.Scope, error) {
	query := r.URL.Query()
	from, err := parseTime(query.Get("from"))
	if err != nil {
		return store.Scope{}, err
	}
	to, err := parseTime(query.Get("to"))
	if err != nil {
		return store.Scope{}, err
	}
	return store.Scope{UserID: strings.TrimSpace(query.Get("user_id")), From: from, To: to}, nil
}

func parseSourceID(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		return nil, badRequest{code: "invalid_source_id"}
	}
	return &value, nil
}

// parseTransactionFilter reads the history query parameters shared by the
// user and admin listings.
func parseTransactionFilter(r *http.Request) (store.TransactionFilter, error) {
	query := r.URL.Query()
	scope, err := parseScope(r)
	if err != nil {
		return store.TransactionFilter{}, err
	}
	filter := store.TransactionFilter{
		AccountID:  strings.TrimSpace(query.Get("account_id")),
		UserID:     scope.UserID,
		From:       scope.From,
		To:         scope.To,
		SourceType: strings.ToUpper(strings.TrimSpace(query.Get("source_type"))),
		Keyword:    query.Get("q"),
	}
	if raw := query.Get("type"); raw != "" {
		txType, err := mileage.ParseTransactionType(raw)
		if err != nil {
			return store.TransactionFilter{}, badRequest{code: "invalid_type"}
		}
		filter.Type = txType
	}
	if err := validator.ValidateSourceType(filter.SourceType); err != nil {
		return store.TransactionFilter{}, badRequest{code: "invalid_source_type"}
	}
	if filter.SourceID, err = parseSourceID(query.Get("source_id")); err != nil {
		return store.TransactionFilter{}, err
	}
	page, limit := parsePaging(r)
	filter.Limit = limit
	filter.Offset = (page - 1) * limit
	return filter, nil
}
