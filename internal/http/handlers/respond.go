package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mobilemoney/server/internal/validation"
)

const (
	msgInvalidData   = "Les données fournies sont invalides."
	msgInvalidBody   = "Le corps de la requête est invalide."
	msgInternalError = "Une erreur interne est survenue."
)

// respondJSON writes v as JSON with the given status
func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("encode response failed", "error", err)
	}
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"message": message})
}

// respondValidation sends the 422 per-field error map
func respondValidation(w http.ResponseWriter, errs validation.Errors) {
	respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"message": msgInvalidData,
		"errors":  errs,
	})
}

// respondDomainError sends a 400 with the message and the underlying error text
func respondDomainError(w http.ResponseWriter, message string, err error) {
	respondJSON(w, http.StatusBadRequest, map[string]string{
		"message": message,
		"error":   err.Error(),
	})
}

// decodeJSON reads the request body into dst. An empty body decodes to the zero value.
func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
