package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HTTPErrorAdapter writes classified errors as JSON responses for the dev
// server's control endpoints.
type HTTPErrorAdapter struct {
	logger *slog.Logger
}

// NewHTTPErrorAdapter uses slog.Default when logger is nil.
func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPErrorAdapter{logger: logger}
}

type errorBody struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// StatusCodeFor maps err to a status code. Unclassified errors are 500.
func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if ce, ok := AsClassified(err); ok {
		return traitsOf(ce.category).status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse writes err as JSON and logs it at a level matching its severity.
func (a *HTTPErrorAdapter) WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	status := a.StatusCodeFor(err)
	body := errorBody{}
	level := slog.LevelError
	if ce, ok := AsClassified(err); ok {
		body = errorBody{Error: ce.message, Code: string(ce.category), Retryable: ce.CanRetry()}
		if len(ce.context) > 0 || ce.cause != nil {
			body.Details = map[string]any{}
			for k, v := range ce.context {
				body.Details[k] = v
			}
			if ce.cause != nil {
				body.Details["cause"] = ce.cause.Error()
			}
		}
		level = levelFor(ce.severity)
	} else if err != nil {
		body.Error = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if jerr := json.NewEncoder(w).Encode(body); jerr != nil {
		a.logger.Warn("Failed to encode error response", slog.String("error", jerr.Error()))
	}
	a.logger.Log(r.Context(), level, body.Error, slog.String("path", r.URL.Path), slog.Int("status", status))
}
