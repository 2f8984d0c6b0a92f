// Package api implements the HTTP surface of the notices server.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, errorResponse{Error: msg})
}

// parseResourcePath splits the part of the URL path after prefix into its
// non-empty segments.
func parseResourcePath(url, prefix string) ([]string, error) {
	if !strings.HasPrefix(url, prefix) {
		return nil, fmt.Errorf("invalid URL path")
	}
	rest := strings.TrimPrefix(url, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil, nil
	}
	return strings.Split(rest, "/"), nil
}
