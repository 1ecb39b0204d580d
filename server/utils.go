package server

import (
	"net/http"
	"strconv"
	"strings"
)

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		return parseInt(v, def)
	}
	return def
}

// parseBoolQuery accepts the forms strconv.ParseBool does; anything else is def.
func parseBoolQuery(r *http.Request, key string, def bool) bool {
	if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// routeLabel collapses a path to a low-cardinality metrics label.
func routeLabel(path string) string {
	switch {
	case path == "/":
		return "/"
	case path == "/users/stats", path == "/users/top/chatters", path == "/users", path == "/commands":
		return path
	case strings.HasPrefix(path, "/users/"):
		return "/users/{username}"
	case strings.HasPrefix(path, "/commands/"):
		return "/commands/{name}"
	case path == "/healthz", path == "/health", path == "/readyz", path == "/metrics":
		return path
	default:
		return "other"
	}
}
