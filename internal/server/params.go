package server

import (
	"fmt"
	"net/http"
	"strconv"
)

// parseIntParam reads an optional integer query parameter, falling
// back to def when absent.
func parseIntParam(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter", name)
	}
	return v, nil
}

// parseYear reads the year parameter. Zero means all time.
func parseYear(r *http.Request) (int, error) {
	y, err := parseIntParam(r, "year", 0)
	if err != nil {
		return 0, err
	}
	if y < 0 || y > 9999 {
		return 0, fmt.Errorf("year out of range")
	}
	return int(y), nil
}

func clampLimit(limit, def, max int64) int {
	if limit <= 0 {
		return int(def)
	}
	if limit > max {
		return int(max)
	}
	return int(limit)
}
