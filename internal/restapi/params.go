package restapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultLimit = 20
	maxLimit     = 100
	maxIDLength  = 255
)

var errEmptyID = errors.New("id is required")

func validateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return errEmptyID
	case len(id) > maxIDLength:
		return fmt.Errorf("id exceeds %d characters", maxIDLength)
	default:
		return nil
	}
}

// pathID returns the {id} path value. It writes a 400 and returns false when
// the id is unusable.
func (api *RestAPI) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if err := validateID(id); err != nil {
		api.validationErrorResponse(w, r, map[string][]string{"id": {err.Error()}})
		return "", false
	}
	return id, true
}

// parseLimit reads ?limit=, clamped to maxLimit.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, maxLimit), nil
}

// parseFloat reads a required float query parameter.
func parseFloat(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return v, nil
}

// truncate returns at most limit items and whether any were cut.
func truncate[T any](items []T, limit int) ([]T, bool) {
	if len(items) > limit {
		return items[:limit], true
	}
	return items, false
}
