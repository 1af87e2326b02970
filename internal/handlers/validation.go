package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"credits/internal/models"
)

var errInvalidDate = errors.New("invalid date")
var errInvalidType = errors.New("invalid entry type")

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// pageParams reads page and size; the engine clamps them.
func pageParams(r *http.Request) (int, int) {
	query := r.URL.Query()
	return parseInt(query.Get("page"), 1), parseInt(query.Get("size"), 0)
}

// parseDate accepts YYYY-MM-DD; empty means today.
func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errInvalidDate
	}
	return date, nil
}

// parseEntryTypes reads a comma separated type filter.
func parseEntryTypes(raw string) ([]models.EntryType, error) {
	if raw == "" {
		return nil, nil
	}
	known := map[models.EntryType]bool{
		models.EntryCheckin:       true,
		models.EntryRedeem:        true,
		models.EntryConsume:       true,
		models.EntryAdminAdjust:   true,
		models.EntryReversal:      true,
		models.EntryExchangeOut:   true,
		models.EntryExchangeIn:    true,
		models.EntryMigrationInit: true,
	}
	var types []models.EntryType
	for _, part := range strings.Split(raw, ",") {
		entryType := models.EntryType(strings.ToUpper(strings.TrimSpace(part)))
		if !known[entryType] {
			return nil, errInvalidType
		}
		types = append(types, entryType)
	}
	return types, nil
}
