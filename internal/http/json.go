package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	domainauth "github.com/target/portfolio-ui/internal/domain/auth"
	apperrors "github.com/target/portfolio-ui/internal/errors"
)

// maxJSONBody caps request bodies decoded by DecodeJSON.
const maxJSONBody = 64 << 10

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
	// Extra fields merged into the response body (optional).
	Extra map[string]any
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	body := map[string]any{"error": p.ErrCode, "message": apperrors.UserMessage(p.Err)}
	for k, v := range p.Extra {
		body[k] = v
	}
	WriteJSON(w, p.Code, body)
}

// WriteAppError writes err as JSON, taking the status and code from its type.
// Identity provider messages are passed through verbatim.
func WriteAppError(w http.ResponseWriter, err error) {
	p := ErrorParams{
		Code:    apperrors.HTTPStatus(err),
		ErrCode: apperrors.PublicCode(err),
		Err:     err,
	}
	if field := apperrors.GetField(err); field != "" {
		p.Extra = map[string]any{"field": field}
	}
	var perr *domainauth.ProviderError
	if errors.As(err, &perr) && perr.Description != "" {
		p.Extra = map[string]any{"description": perr.Description}
	}
	WriteError(w, p)
}
