package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aptiscout/aptiscout/internal/common"
)

// ErrorResponse is the standard error format for REST API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ProblemDetails is the user-visible failure shape: {error, code, message,
// details, request_id}. 4xx is used for client errors, 5xx for server errors.
type ProblemDetails struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message})
}

// WriteErrorWithCode writes a JSON error response with an error code.
func WriteErrorWithCode(w http.ResponseWriter, statusCode int, message, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// WriteProblem writes the problem-details shape. requestID is sourced from
// the correlation-ID middleware (X-Correlation-ID response header).
func WriteProblem(w http.ResponseWriter, r *http.Request, statusCode int, kind common.Kind, message string, details map[string]any) {
	requestID := w.Header().Get("X-Correlation-ID")
	WriteJSON(w, statusCode, ProblemDetails{
		Error:     string(kind),
		Code:      strings.ToUpper(string(kind)),
		Message:   message,
		Details:   details,
		RequestID: requestID,
	})
}

// WriteEngineError maps a common.Error to the appropriate HTTP status and
// writes the problem-details body.
func WriteEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if cerr, ok := err.(*common.Error); ok {
		status := http.StatusInternalServerError
		switch cerr.Kind {
		case common.KindValidation:
			status = http.StatusBadRequest
		case common.KindSchemaDrift, common.KindParse, common.KindAIUnavailable:
			status = http.StatusUnprocessableEntity
		case common.KindTransport, common.KindBotWall:
			status = http.StatusBadGateway
		case common.KindStorage, common.KindInvariant:
			status = http.StatusInternalServerError
		}
		WriteProblem(w, r, status, cerr.Kind, cerr.Message, nil)
		return
	}
	WriteProblem(w, r, http.StatusInternalServerError, common.KindInvariant, err.Error(), nil)
}

// RequireMethod validates the HTTP method and returns true if it matches.
// If it doesn't match, it writes a 405 response and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// DecodeJSON reads and decodes JSON from the request body into v.
// Returns false and writes a 400 error if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		WriteError(w, http.StatusBadRequest, "Request body is required")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// PathParam extracts a path parameter from the URL path.
// For a pattern like /api/portfolios/{name}/review, calling PathParam(r, "/api/portfolios/", "/review")
// extracts the {name} part.
func PathParam(r *http.Request, prefix, suffix string) string {
	path := r.URL.Path
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if suffix != "" {
		idx := strings.Index(rest, suffix)
		if idx < 0 {
			return rest
		}
		return rest[:idx]
	}
	// No suffix â€” return up to the next /
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
