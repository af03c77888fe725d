package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/kjstillabower/forecast-compare-service/internal/models"
)

// ErrTooManyQueries is returned when more than models.MaxQueries raw entries are submitted.
var ErrTooManyQueries = errors.New("too many location queries")

// ErrQueryTooLong is returned when a trimmed query exceeds the maximum length.
var ErrQueryTooLong = errors.New("location query too long")

// ErrQueryInvalidChars is returned when a query contains control characters.
var ErrQueryInvalidChars = errors.New("location query contains invalid characters")

// ValidateQuery trims the input and enforces maxLen (in runes, 0 disables the bound).
// A blank input returns "" with no error; callers skip blank slots.
func ValidateQuery(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrQueryTooLong
	}
	for _, c := range r {
		if unicode.IsControl(c) {
			return "", ErrQueryInvalidChars
		}
	}
	return s, nil
}

// NormalizeQueries turns raw input slots into LocationQuery values. Blank slots are dropped
// and the survivors are indexed 0..n-1 in entry order. An all-blank input yields an empty,
// non-nil slice; deciding what that means is up to the caller.
func NormalizeQueries(texts []string, maxLen int) ([]models.LocationQuery, error) {
	if len(texts) > models.MaxQueries {
		return nil, fmt.Errorf("%w: got %d, max %d", ErrTooManyQueries, len(texts), models.MaxQueries)
	}
	queries := make([]models.LocationQuery, 0, len(texts))
	for slot, raw := range texts {
		text, err := ValidateQuery(raw, maxLen)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", slot+1, err)
		}
		if text == "" {
			continue
		}
		queries = append(queries, models.LocationQuery{Index: len(queries), Text: text})
	}
	return queries, nil
}
